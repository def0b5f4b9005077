package application

import (
	"context"
	"time"

	"swap-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação da admissão por janela.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Store e Clock são injetados: nada de estado global.
type Service struct {
	Store  domain.QuotaStore
	Policy domain.WindowPolicy
	Clock  domain.Clock
}

// Admit consome uma unidade da quota de `key`.
//
// Sem Store (ou com Max <= 0) tudo passa. Erro do store é devolvido junto com uma
// decisão permissiva; quem chama decide se falha aberto ou fechado.
func (s Service) Admit(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil || s.Policy.Max <= 0 {
		return domain.Decision{Allowed: true}, nil
	}
	if s.Policy.Window <= 0 {
		s.Policy.Window = time.Minute
	}
	clock := s.Clock
	if clock == nil {
		clock = domain.SystemClock
	}

	dec, err := s.Store.Take(ctx, key, s.Policy, clock.Now())
	if err != nil {
		return domain.Decision{Allowed: true, Limit: s.Policy.Max}, err
	}
	if !dec.Allowed && dec.RetryAfter <= 0 {
		dec.RetryAfter = 1 * time.Second
	}
	return dec, nil
}
