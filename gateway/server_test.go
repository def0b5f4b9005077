package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"swap-gateway/middleware/ratelimit"
	"swap-gateway/middleware/ratelimit/domain"
	"swap-gateway/middleware/ratelimit/infra"
	"swap-gateway/observability"
	"swap-gateway/upstream/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream responde as rotas de swap e de preço; statuses é consumido em ordem
// (o último se repete) para as rotas do swap.
type fakeUpstream struct {
	srv      *httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	statuses []int
	prices   map[string]float64
}

func newFakeUpstream(t *testing.T, statuses ...int) *fakeUpstream {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	f := &fakeUpstream{statuses: statuses, prices: map[string]float64{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1))
	w.Header().Set("Content-Type", "application/json")

	if strings.HasPrefix(r.URL.Path, "/erc20/") {
		addr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/erc20/"), "/price")
		f.mu.Lock()
		price := f.prices[addr]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"tokenAddress": addr, "usdPrice": price})
		return
	}

	status := f.statuses[len(f.statuses)-1]
	if n <= len(f.statuses) {
		status = f.statuses[n-1]
	}
	w.WriteHeader(status)
	switch status {
	case http.StatusOK:
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	case http.StatusBadRequest:
		_, _ = w.Write([]byte(`{"error":"Bad Request","description":"Not enough balance"}`))
	case http.StatusTooManyRequests:
		_, _ = w.Write([]byte(`{"error":"Too Many Requests"}`))
	}
}

type sleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type testGateway struct {
	handler http.Handler
	up      *fakeUpstream
	sleeps  *sleeps
	stats   *infra.MemoryStatsStore
}

func newTestGateway(t *testing.T, up *fakeUpstream, routes Routes) *testGateway {
	t.Helper()
	sl := &sleeps{}
	store := infra.NewMemoryQuotaStore(infra.WithCleanupEvery(0))
	metrics := observability.NewMetrics()
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	h := NewRouter(Config{
		Fetcher:        retry.New(up.srv.Client(), retry.WithSleeper(sl.sleep)),
		InchBaseURL:    up.srv.URL,
		InchAPIKey:     "inch-key",
		MoralisBaseURL: up.srv.URL,
		MoralisAPIKey:  "moralis-key",
		Routes:         routes,
		Admission: ratelimit.Middleware(ratelimit.Options{
			Store:  store,
			Policy: domain.DefaultWindowPolicy(),
			Stats:  domain.MultiStats{metrics, stats},
		}),
		AdmissionStats: stats,
		Metrics:        metrics,
	})
	return &testGateway{handler: h, up: up, sleeps: sl, stats: stats}
}

func (g *testGateway) get(target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "10.1.1.1:4000"
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

const txURL = "/transaction?networkId=1&tokenAddress=0xtoken&amount=100"

func TestTransaction_EleventhRequestRejectedWithoutCallingUpstream(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	for i := 0; i < 10; i++ {
		w := g.get(txURL)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := g.get(txURL)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, ratelimit.DefaultMessage, strings.TrimSpace(w.Body.String()))
	assert.Equal(t, int32(10), g.up.calls.Load())
}

func TestSwap_IsNotGatedByDefault(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	for i := 0; i < 12; i++ {
		w := g.get("/swap?networkId=1&src=0xa&dst=0xb&amount=1&from=0xf")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
}

func TestRoutes_AdmissionCanBeEnabledPerRoute(t *testing.T) {
	routes, err := DefaultRoutes().WithAdmission([]string{PathSwap})
	require.NoError(t, err)
	g := newTestGateway(t, newFakeUpstream(t), routes)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, g.get("/swap?networkId=1&from=0xf").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, g.get("/swap?networkId=1&from=0xf").Code)

	// /transaction saiu da quota
	for i := 0; i < 11; i++ {
		require.Equal(t, http.StatusOK, g.get(txURL).Code)
	}
}

func TestTransaction_RetriesOn429ThenSucceeds(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t, 429, 429, 200), nil)

	w := g.get(txURL)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/1/approve/transaction"}`, w.Body.String())
	assert.Equal(t, int32(3), g.up.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, g.sleeps.delays)
}

func TestTransaction_UpstreamFailureIsGeneric500(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t, 500), nil)

	w := g.get(txURL)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error fetching approve transaction", decodeError(t, w).Error)
	assert.Equal(t, int32(1), g.up.calls.Load())
}

func TestTransaction_MissingParams(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	w := g.get("/transaction?networkId=1&tokenAddress=0xtoken")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing networkId", decodeError(t, w).Error)
}

func TestAllowance_DoesNotRetryByDefault(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t, 429, 200), nil)

	w := g.get("/allowance?networkId=1&tokenAddress=0xt&walletAddress=0xw")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error fetching allowance", decodeError(t, w).Error)
	assert.Equal(t, int32(1), g.up.calls.Load())
	assert.Empty(t, g.sleeps.delays)
}

func TestAllowance_PassesUpstreamBodyThrough(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	w := g.get("/allowance?networkId=56&tokenAddress=0xt&walletAddress=0xw")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/56/approve/allowance"}`, w.Body.String())
}

func TestAllowance_MissingParams(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	w := g.get("/allowance?networkId=1&tokenAddress=0xt")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing tokenAddress or walletAddress", decodeError(t, w).Error)
}

func TestSwap_ForwardsUpstreamErrorPayload(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t, 400), nil)

	w := g.get("/swap?networkId=1&src=0xa&dst=0xb&amount=1&from=0xf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Bad Request", body.Error)
	assert.Equal(t, "Not enough balance", body.Description)
}

func TestSwap_ExhaustedRetriesSurface429(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t, 429), nil)

	w := g.get("/swap?networkId=1&from=0xf")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, int32(4), g.up.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, g.sleeps.delays)
}

func TestSwap_NetworkFailureIsUnexpectedError(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, up, nil)
	up.srv.Close()

	w := g.get("/swap?networkId=1&from=0xf")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Unexpected error occurred", decodeError(t, w).Error)
}

func TestSwap_MissingWallet(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	w := g.get("/swap?networkId=1&src=0xa")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing wallet address", decodeError(t, w).Error)
}

func TestTokenPrice_ComputesRatio(t *testing.T) {
	up := newFakeUpstream(t)
	up.prices["0xone"] = 3000
	up.prices["0xtwo"] = 1.5
	g := newTestGateway(t, up, nil)

	w := g.get("/tokenPrice?addressOne=0xone&addressTwo=0xtwo")
	require.Equal(t, http.StatusOK, w.Code)

	var got tokenPriceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "0xone", got.TokenOne)
	assert.Equal(t, "0xtwo", got.TokenTwo)
	assert.InDelta(t, 2000, got.Ratio, 1e-9)
}

func TestTokenPrice_ZeroPriceIsBadGateway(t *testing.T) {
	up := newFakeUpstream(t)
	up.prices["0xone"] = 1
	g := newTestGateway(t, up, nil)

	w := g.get("/tokenPrice?addressOne=0xone&addressTwo=0xzero")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestTokenPrice_MissingAddress(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	w := g.get("/tokenPrice?addressOne=0xone")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_CORSPreflightAndRequestID(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)

	r := httptest.NewRequest(http.MethodOptions, "/swap", nil)
	r.Header.Set("Origin", "https://app.example")
	r.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRouter_ExposesMetrics(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), nil)
	g.get(txURL)

	w := g.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gateway_requests_total{code="200",route="/transaction"} 1`)
	assert.Contains(t, w.Body.String(), `gateway_admission_decisions_total`)
}

func TestRouter_DebugRateLimitCounts(t *testing.T) {
	g := newTestGateway(t, newFakeUpstream(t), DefaultRoutes())
	for i := 0; i < 11; i++ {
		g.get("/transaction?networkId=1&tokenAddress=0xabc")
	}
	g.get("/swap?networkId=1&from=0xw")

	w := g.get("/debug/ratelimit")
	require.Equal(t, http.StatusOK, w.Code)

	var view statsView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, infra.Counters{Allowed: 10, Denied: 1, Exhausted: 1}, view.Total)
	assert.Equal(t, infra.Counters{Allowed: 10, Denied: 1, Exhausted: 1}, view.ByRoute["GET /transaction"])
	assert.Len(t, view.ByRoute, 1)
	assert.Equal(t, infra.Counters{Allowed: 10, Denied: 1, Exhausted: 1}, view.ByKey["10.1.1.1"])
}
