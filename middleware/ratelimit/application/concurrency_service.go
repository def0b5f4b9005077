package application

import (
	"context"
	"time"

	"swap-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService controla quantas requisições ficam em voo no gateway,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	// OnAcquire recebe quanto tempo a requisição esperou por uma vaga e se conseguiu.
	OnAcquire func(wait time.Duration, ok bool)
	Clock     domain.Clock
}

// Acquire tenta adquirir uma vaga.
//   - AcquireTimeout <= 0: espera até o ctx cancelar.
//   - AcquireTimeout > 0: espera no máximo o timeout.
//
// Se ok=false, nenhuma vaga foi adquirida e release é nil.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	clock := s.Clock
	if clock == nil {
		clock = domain.SystemClock
	}
	start := clock.Now()

	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	release, ok = s.Pool.Acquire(ctx)

	if s.OnAcquire != nil {
		s.OnAcquire(clock.Now().Sub(start), ok)
	}
	return release, ok
}
