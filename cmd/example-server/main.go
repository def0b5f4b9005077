package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"swap-gateway/observability"

	"go.uber.org/zap"
)

// Servidor local que imita a API de swap/preço para validar o retry do gateway.
// As primeiras FAIL_FIRST chamadas de cada path recebem 429.
//
//	LISTEN_ADDR=:8081 FAIL_FIRST=2 go run ./cmd/example-server
//	INCH_BASE_URL=http://localhost:8081/swap/v6.0 MORALIS_BASE_URL=http://localhost:8081 go run ./cmd/gateway
func main() {
	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"), "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	failFirst := 2
	if v, err := strconv.Atoi(os.Getenv("FAIL_FIRST")); err == nil && v >= 0 {
		failFirst = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	up := &flakyUpstream{failFirst: failFirst, seen: map[string]int{}, logger: logger}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           up,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example upstream listening", zap.String("addr", addr), zap.Int("fail_first", failFirst))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

type flakyUpstream struct {
	mu        sync.Mutex
	failFirst int
	seen      map[string]int
	logger    *zap.Logger
}

func (u *flakyUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.seen[r.URL.Path]++
	n := u.seen[r.URL.Path]
	u.mu.Unlock()

	u.logger.Info("upstream hit",
		zap.String("path", r.URL.Path),
		zap.Int("call", n),
		zap.String("query", r.URL.RawQuery))

	w.Header().Set("Content-Type", "application/json")
	if n <= u.failFirst {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "Too Many Requests", "description": "rate limit exceeded"})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"path":     r.URL.Path,
		"query":    r.URL.Query(),
		"usdPrice": 1.0,
		"call":     n,
	})
}
