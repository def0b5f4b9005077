// Package ratelimit fornece adapters HTTP (net/http) para admissão por quota e
// limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admit, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela fixa em memória/Redis, semáforo, stats)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header/XFF/IP)
//  2. Chama a camada application para obter a decisão
//  3. Se bloqueado, responde 429 com mensagem fixa (quota) ou 503 (concorrência)
//  4. Se permitido, chama o próximo handler (rota que fala com o upstream)
//
// O middleware de admissão é aplicado por rota; rotas sem ele não consomem quota.
package ratelimit
