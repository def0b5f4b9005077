package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestFlakyUpstream_FailsFirstCallsPerPath(t *testing.T) {
	up := &flakyUpstream{failFirst: 2, seen: map[string]int{}, logger: zap.NewNop()}

	codes := func(path string) []int {
		var out []int
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			up.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			out = append(out, w.Code)
		}
		return out
	}

	for _, path := range []string{"/swap/v6.0/1/swap", "/swap/v6.0/1/approve/transaction"} {
		got := codes(path)
		want := []int{http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: expected %v, got %v", path, want, got)
			}
		}
	}
}
