package domain

// Camada de domínio da admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Key identifica o cliente (IP, API key, usuário...).
type Key string

// WindowPolicy descreve a quota: no máximo Max requisições por Window, por chave.
type WindowPolicy struct {
	Window time.Duration
	Max    int
}

// DefaultWindowPolicy: 10 requisições por minuto.
func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{Window: time.Minute, Max: 10}
}

// Quota é o estado de uma chave dentro da janela corrente.
//
// Invariantes: Count nunca passa de Max dentro de uma janela e WindowStart só anda pra frente.
type Quota struct {
	Key         Key
	WindowStart time.Time
	Count       int
}

// Expired informa se a janela da quota já terminou em `now`.
func (q Quota) Expired(now time.Time, window time.Duration) bool {
	return !now.Before(q.WindowStart.Add(window))
}

// Take aplica a regra de janela fixa sobre a quota e devolve a decisão.
// Implementações de QuotaStore em memória usam essa função sob lock.
func (q *Quota) Take(now time.Time, p WindowPolicy) Decision {
	if q.WindowStart.IsZero() || q.Expired(now, p.Window) {
		// relógio voltando não pode mover a janela pra trás
		if now.After(q.WindowStart) {
			q.WindowStart = now
		}
		q.Count = 0
	}

	resetAt := q.WindowStart.Add(p.Window)
	if q.Count >= p.Max {
		return Decision{
			Allowed:    false,
			Limit:      p.Max,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	q.Count++
	return Decision{
		Allowed:   true,
		Limit:     p.Max,
		Remaining: p.Max - q.Count,
		ResetAt:   resetAt,
	}
}

// QuotaStore guarda as quotas por chave e aplica a política de forma atômica por chave.
//
// A implementação pode ser em memória (um processo) ou Redis (várias réplicas).
type QuotaStore interface {
	Take(ctx context.Context, key Key, p WindowPolicy, now time.Time) (Decision, error)
}

// Clock permite controlar o tempo nos testes.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapta uma função para Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock usa time.Now.
var SystemClock Clock = ClockFunc(time.Now)

type Decision struct {
	Allowed bool
	// Limit é o máximo configurado para a janela.
	Limit int
	// Remaining é quanto ainda cabe na janela antes do reset.
	Remaining int
	// ResetAt é quando a janela corrente termina.
	ResetAt time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
