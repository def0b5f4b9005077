package gateway

import (
	"math"
	"net/http"

	"swap-gateway/middleware/ratelimit/infra"
	"swap-gateway/upstream/inch"
	"swap-gateway/upstream/moralis"
	"swap-gateway/upstream/retry"

	"go.uber.org/zap"
)

type tokenPriceResponse struct {
	TokenOne string  `json:"tokenOne"`
	TokenTwo string  `json:"tokenTwo"`
	Ratio    float64 `json:"ratio"`
}

func (s *server) tokenPrice(prices *moralis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		one, two := q.Get("addressOne"), q.Get("addressTwo")
		if one == "" || two == "" {
			writeError(w, http.StatusBadRequest, "Missing addressOne or addressTwo")
			return
		}
		chain := q.Get("chain")

		p1, err := prices.TokenPrice(r.Context(), one, chain)
		if err != nil {
			s.logFailure(r, "Error fetching token price", err)
			writeError(w, http.StatusInternalServerError, "Error fetching token price")
			return
		}
		p2, err := prices.TokenPrice(r.Context(), two, chain)
		if err != nil {
			s.logFailure(r, "Error fetching token price", err)
			writeError(w, http.StatusInternalServerError, "Error fetching token price")
			return
		}

		ratio := p1.USDPrice / p2.USDPrice
		if p2.USDPrice == 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			writeError(w, http.StatusBadGateway, "Token price unavailable")
			return
		}

		writeJSON(w, http.StatusOK, tokenPriceResponse{
			TokenOne: p1.TokenAddress,
			TokenTwo: p2.TokenAddress,
			Ratio:    ratio,
		})
	}
}

func (s *server) allowance(c *inch.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := inch.AllowanceQuery{
			NetworkID:     q.Get("networkId"),
			TokenAddress:  q.Get("tokenAddress"),
			WalletAddress: q.Get("walletAddress"),
		}
		if query.TokenAddress == "" || query.WalletAddress == "" {
			writeError(w, http.StatusBadRequest, "Missing tokenAddress or walletAddress")
			return
		}
		if query.NetworkID == "" {
			writeError(w, http.StatusBadRequest, "Missing networkId")
			return
		}

		body, err := c.Allowance(r.Context(), query)
		if err != nil {
			s.logFailure(r, "Error fetching allowance", err)
			writeError(w, http.StatusInternalServerError, "Error fetching allowance")
			return
		}
		writeRaw(w, body)
	}
}

func (s *server) transaction(c *inch.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := inch.ApproveQuery{
			NetworkID:    q.Get("networkId"),
			TokenAddress: q.Get("tokenAddress"),
			Amount:       q.Get("amount"),
		}
		if query.NetworkID == "" || query.TokenAddress == "" || query.Amount == "" {
			writeError(w, http.StatusBadRequest, "Missing networkId")
			return
		}

		body, err := c.ApproveTransaction(r.Context(), query)
		if err != nil {
			s.logFailure(r, "Error fetching approve transaction", err)
			writeError(w, http.StatusInternalServerError, "Error fetching approve transaction")
			return
		}
		writeRaw(w, body)
	}
}

func (s *server) swap(c *inch.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := inch.SwapQuery{
			NetworkID:        q.Get("networkId"),
			Src:              q.Get("src"),
			Dst:              q.Get("dst"),
			Amount:           q.Get("amount"),
			From:             q.Get("from"),
			Slippage:         q.Get("slippage"),
			DisableEstimate:  q.Get("disableEstimate"),
			AllowPartialFill: q.Get("allowPartialFill"),
		}
		if query.From == "" {
			writeError(w, http.StatusBadRequest, "Missing wallet address")
			return
		}
		if query.NetworkID == "" {
			writeError(w, http.StatusBadRequest, "Missing networkId")
			return
		}

		body, err := c.Swap(r.Context(), query)
		if err != nil {
			s.logFailure(r, "Error fetching swap", err)
			// erro do upstream com corpo: devolve status e mensagem dele
			if e, ok := retry.AsError(err); ok && e.HasPayload() {
				writeJSON(w, e.StatusCode, errorBody{Error: e.ErrorCode, Description: e.Description})
				return
			}
			writeError(w, http.StatusInternalServerError, "Unexpected error occurred")
			return
		}
		writeRaw(w, body)
	}
}

func (s *server) logFailure(r *http.Request, msg string, err error) {
	fields := []zap.Field{
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	if e, ok := retry.AsError(err); ok {
		fields = append(fields,
			zap.Stringer("kind", e.Kind),
			zap.Int("status", e.StatusCode),
			zap.Int("attempts", e.Attempts))
	}
	s.logger.Error(msg, fields...)
}

type statsView struct {
	Total   infra.Counters            `json:"total"`
	ByRoute map[string]infra.Counters `json:"byRoute"`
	ByKey   map[string]infra.Counters `json:"byKey,omitempty"`
}

func admissionStats(st *infra.MemoryStatsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statsView{
			Total:   st.Total(),
			ByRoute: st.ByRoute(),
			ByKey:   st.ByKey(),
		})
	}
}
