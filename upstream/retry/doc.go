// Package retry executa chamadas GET aos upstreams com retry e backoff exponencial.
//
// Só 429 (o upstream pedindo pra gente segurar) dispara retry. Qualquer outra falha
// (rede, 5xx, outros 4xx) volta na hora pra quem chamou, com status e corpo preservados.
//
// O loop é limitado (MaxRetries+1 tentativas) e o tempo é injetável (Sleeper), então
// os testes não dependem de relógio de parede. O contexto da requisição cancela tanto a
// chamada HTTP quanto a espera entre tentativas.
package retry
