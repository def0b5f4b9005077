package infra

import (
	"context"
	"sync"

	"swap-gateway/middleware/ratelimit/domain"
)

// Counters resume as decisões de admissão de um escopo (total, rota ou cliente).
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
	// Exhausted conta as admissões que consumiram a última vaga da janela.
	Exhausted int64 `json:"exhausted"`
}

func (c Counters) with(ev domain.StatsEvent) Counters {
	switch {
	case !ev.Allowed:
		c.Denied++
	case ev.Remaining == 0:
		c.Allowed++
		c.Exhausted++
	default:
		c.Allowed++
	}
	return c
}

// MemoryStatsStore agrega decisões em memória para /debug/ratelimit.
// Não expira nada; com trackKeys a cardinalidade cresce com os clientes.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	routes    map[string]Counters
	clients   map[domain.Key]Counters
	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		routes:  map[string]Counters{},
		clients: map[domain.Key]Counters{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.StatsStore = (*MemoryStatsStore)(nil)

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := routeLabel(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = s.total.with(ev)
	s.routes[route] = s.routes[route].with(ev)
	if s.trackKeys && ev.Key != "" {
		s.clients[ev.Key] = s.clients[ev.Key].with(ev)
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByRoute indexa por "<METHOD> <path>".
func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.routes))
	for k, v := range s.routes {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.clients))
	for k, v := range s.clients {
		out[string(k)] = v
	}
	return out
}
