package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo no gateway
// (cada uma pode segurar uma chamada ao upstream durante todo o backoff).
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
