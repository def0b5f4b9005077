// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryQuotaStore: janela fixa por chave, em memória, com limpeza periódica
//   - RedisQuotaStore: janela fixa compartilhada entre réplicas (script Lua)
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore: contadores de admissão
package infra
