package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// scriptedPool devolve ok conforme a fila; conta releases.
type scriptedPool struct {
	grants   []bool
	released int
}

func (p *scriptedPool) Acquire(ctx context.Context) (func(), bool) {
	ok := len(p.grants) == 0 || p.grants[0]
	if len(p.grants) > 0 {
		p.grants = p.grants[1:]
	}
	if !ok {
		return nil, false
	}
	return func() { p.released++ }, true
}

func TestConcurrencyMiddleware_DisabledPassesThrough(t *testing.T) {
	called := false
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://gateway/swap", nil))
	if !called {
		t.Fatalf("expected next handler to be called")
	}
}

func TestConcurrencyMiddleware_ReleasesSlotAfterHandler(t *testing.T) {
	pool := &scriptedPool{}
	var releasedDuring int
	h := ConcurrencyMiddleware(ConcurrencyOptions{Pool: pool})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		releasedDuring = pool.released
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/swap", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if releasedDuring != 0 || pool.released != 1 {
		t.Fatalf("expected slot held while serving and released once after, got during=%d after=%d", releasedDuring, pool.released)
	}
}

func TestConcurrencyMiddleware_RejectsWithoutCallingUpstream(t *testing.T) {
	pool := &scriptedPool{grants: []bool{false}}
	var waits []bool
	called := false

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Pool:         pool,
		RejectStatus: http.StatusTooManyRequests,
		OnAcquire:    func(_ time.Duration, ok bool) { waits = append(waits, ok) },
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/swap", nil))

	if called {
		t.Fatalf("handler must not run without a slot")
	}
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected configured reject status, got %d", w.Code)
	}
	if len(waits) != 1 || waits[0] {
		t.Fatalf("expected one failed acquire reported, got %v", waits)
	}
}

func TestConcurrencyMiddleware_TimesOutWhileSlotIsHeld(t *testing.T) {
	release := make(chan struct{})
	holding := make(chan struct{})

	// primeira requisição fica presa, como uma rota esperando o backoff do upstream
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 20 * time.Millisecond,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(holding)
			<-release
		}
	}))

	firstDone := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/slow", nil))
		firstDone <- w.Code
	}()

	select {
	case <-holding:
	case <-time.After(time.Second):
		t.Fatalf("first request never started")
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/fast", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while the slot is held, got %d", w.Code)
	}

	close(release)
	if code := <-firstDone; code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/fast", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected slot to be free again, got %d", w.Code)
	}
}
