package infra

import (
	"context"
	"testing"

	"swap-gateway/middleware/ratelimit/domain"
)

func TestMemoryStatsStore_AggregatesDecisions(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	events := []domain.StatsEvent{
		{Key: "1.2.3.4", Allowed: true, Remaining: 1, Method: "GET", Path: "/transaction"},
		{Key: "1.2.3.4", Allowed: true, Remaining: 0, Method: "GET", Path: "/transaction"},
		{Key: "1.2.3.4", Allowed: false, Method: "GET", Path: "/transaction"},
		{Key: "5.6.7.8", Allowed: true, Remaining: 1, Method: "GET", Path: "/swap"},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got, want := s.Total(), (Counters{Allowed: 3, Denied: 1, Exhausted: 1}); got != want {
		t.Fatalf("total: expected %+v, got %+v", want, got)
	}
	if got, want := s.ByRoute()["GET /transaction"], (Counters{Allowed: 2, Denied: 1, Exhausted: 1}); got != want {
		t.Fatalf("route: expected %+v, got %+v", want, got)
	}
	if got, want := s.ByKey()["5.6.7.8"], (Counters{Allowed: 1}); got != want {
		t.Fatalf("client: expected %+v, got %+v", want, got)
	}
}

func TestMemoryStatsStore_ClientsOnlyWhenTracked(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "k", Allowed: true, Remaining: 3})

	if n := len(s.ByKey()); n != 0 {
		t.Fatalf("expected no client counters, got %d", n)
	}
	if s.Total().Allowed != 1 {
		t.Fatalf("expected the decision in the total")
	}
}

func TestMemoryStatsStore_ByRouteIsACopy(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Allowed: false, Method: "GET", Path: "/transaction"})

	view := s.ByRoute()
	view["GET /transaction"] = Counters{}

	if s.ByRoute()["GET /transaction"].Denied != 1 {
		t.Fatalf("mutating the snapshot must not touch the store")
	}
}
