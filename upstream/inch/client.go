// Package inch fala com a API de agregação de swaps (1inch swap v6.0).
//
// As respostas são repassadas cruas (json.RawMessage); o gateway não interpreta
// o conteúdo de allowance, approve ou swap.
package inch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"swap-gateway/upstream/retry"
)

const DefaultBaseURL = "https://api.1inch.dev/swap/v6.0"

var ErrMissingNetwork = errors.New("inch: network id is required")

// Fetcher é o que o Client precisa do retry.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts retry.Options) (*retry.Response, error)
}

type Client struct {
	fetcher Fetcher
	baseURL string
	apiKey  string
}

func New(f Fetcher, baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{fetcher: f, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// AllowanceQuery: quanto `WalletAddress` já liberou do token para o router.
type AllowanceQuery struct {
	NetworkID     string
	TokenAddress  string
	WalletAddress string
}

// ApproveQuery monta a transação de approve de `Amount` do token.
type ApproveQuery struct {
	NetworkID    string
	TokenAddress string
	Amount       string
}

// SwapQuery monta a transação de swap.
type SwapQuery struct {
	NetworkID        string
	Src              string
	Dst              string
	Amount           string
	From             string
	Slippage         string
	DisableEstimate  string
	AllowPartialFill string
}

func (c *Client) Allowance(ctx context.Context, q AllowanceQuery) (json.RawMessage, error) {
	return c.get(ctx, q.NetworkID, "/approve/allowance", params(
		"tokenAddress", q.TokenAddress,
		"walletAddress", q.WalletAddress,
	))
}

func (c *Client) ApproveTransaction(ctx context.Context, q ApproveQuery) (json.RawMessage, error) {
	return c.get(ctx, q.NetworkID, "/approve/transaction", params(
		"tokenAddress", q.TokenAddress,
		"amount", q.Amount,
	))
}

func (c *Client) Swap(ctx context.Context, q SwapQuery) (json.RawMessage, error) {
	return c.get(ctx, q.NetworkID, "/swap", params(
		"src", q.Src,
		"dst", q.Dst,
		"amount", q.Amount,
		"from", q.From,
		"slippage", q.Slippage,
		"disableEstimate", q.DisableEstimate,
		"allowPartialFill", q.AllowPartialFill,
	))
}

func (c *Client) get(ctx context.Context, networkID, path string, query url.Values) (json.RawMessage, error) {
	if networkID == "" {
		return nil, ErrMissingNetwork
	}
	resp, err := c.fetcher.Fetch(ctx, c.baseURL+"/"+url.PathEscape(networkID)+path, retry.Options{
		Header: http.Header{
			"Accept":        {"application/json"},
			"Authorization": {"Bearer " + c.apiKey},
		},
		Query: query,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// params monta a query a partir de pares chave/valor; valores vazios não vão.
func params(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			v.Set(kv[i], kv[i+1])
		}
	}
	return v
}
