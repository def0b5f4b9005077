package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"swap-gateway/middleware/ratelimit/domain"
)

type fakeStore struct {
	dec   domain.Decision
	err   error
	calls int
	gotAt time.Time
	gotP  domain.WindowPolicy
}

func (s *fakeStore) Take(_ context.Context, _ domain.Key, p domain.WindowPolicy, now time.Time) (domain.Decision, error) {
	s.calls++
	s.gotAt = now
	s.gotP = p
	return s.dec, s.err
}

func fixedClock(t time.Time) domain.Clock {
	return domain.ClockFunc(func() time.Time { return t })
}

func TestService_Admit_AllowsWhenNoStore(t *testing.T) {
	svc := Service{}
	dec, err := svc.Admit(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Admit_AllowsWhenMaxDisabled(t *testing.T) {
	store := &fakeStore{}
	svc := Service{Store: store, Policy: domain.WindowPolicy{Window: time.Minute, Max: 0}}
	dec, _ := svc.Admit(context.Background(), "k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if store.calls != 0 {
		t.Fatalf("expected store not to be consulted, got %d calls", store.calls)
	}
}

func TestService_Admit_UsesInjectedClockAndPolicy(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{dec: domain.Decision{Allowed: true, Remaining: 9}}
	svc := Service{Store: store, Policy: domain.DefaultWindowPolicy(), Clock: fixedClock(now)}

	dec, err := svc.Admit(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed || dec.Remaining != 9 {
		t.Fatalf("expected allowed with remaining=9, got %+v", dec)
	}
	if !store.gotAt.Equal(now) {
		t.Fatalf("expected store to see injected time %s, got %s", now, store.gotAt)
	}
	if store.gotP.Max != 10 || store.gotP.Window != time.Minute {
		t.Fatalf("expected default policy 10/1m, got %+v", store.gotP)
	}
}

func TestService_Admit_BlocksWithDefaultRetryAfter(t *testing.T) {
	store := &fakeStore{dec: domain.Decision{Allowed: false}}
	svc := Service{Store: store, Policy: domain.WindowPolicy{Window: time.Minute, Max: 1}}

	dec, _ := svc.Admit(context.Background(), "k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestService_Admit_StoreErrorIsReturnedWithPermissiveDecision(t *testing.T) {
	boom := errors.New("redis down")
	store := &fakeStore{err: boom}
	svc := Service{Store: store, Policy: domain.WindowPolicy{Window: time.Minute, Max: 1}}

	dec, err := svc.Admit(context.Background(), "k")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected permissive decision alongside error")
	}
}
