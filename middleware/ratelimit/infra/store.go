package infra

import (
	"context"
	"sync"
	"time"

	"swap-gateway/middleware/ratelimit/domain"
)

// MemoryQuotaStore guarda uma Quota por chave em um map protegido por mutex.
//
// Take é serializado por store; duas requisições da mesma chave nunca veem o
// mesmo contador. A limpeza só remove janelas já vencidas, o que equivale ao
// reset que o próximo Take faria.
type MemoryQuotaStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*domain.Quota
	cleanupEvery time.Duration
	clock        domain.Clock
	// maior janela vista; usada pela limpeza
	window time.Duration
}

type StoreOption func(*MemoryQuotaStore)

// WithCleanupEvery define o intervalo do janitor. 0 desliga.
func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryQuotaStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio usado pela limpeza.
func WithClock(c domain.Clock) StoreOption {
	return func(s *MemoryQuotaStore) { s.clock = c }
}

func NewMemoryQuotaStore(opts ...StoreOption) *MemoryQuotaStore {
	s := &MemoryQuotaStore{
		entries:      make(map[domain.Key]*domain.Quota),
		cleanupEvery: 2 * time.Minute,
		clock:        domain.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryQuotaStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Take implementa domain.QuotaStore.
func (s *MemoryQuotaStore) Take(_ context.Context, key domain.Key, p domain.WindowPolicy, now time.Time) (domain.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Window > s.window {
		s.window = p.Window
	}

	q, ok := s.entries[key]
	if !ok {
		q = &domain.Quota{Key: key}
		s.entries[key] = q
	}
	return q.Take(now, p), nil
}

// Snapshot devolve uma cópia da quota de `key`, se existir.
func (s *MemoryQuotaStore) Snapshot(key domain.Key) (domain.Quota, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.entries[key]
	if !ok {
		return domain.Quota{}, false
	}
	return *q, true
}

func (s *MemoryQuotaStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove quotas cuja janela já terminou.
func (s *MemoryQuotaStore) Cleanup() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, q := range s.entries {
		if q.Expired(now, s.window) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa janelas vencidas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryQuotaStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
