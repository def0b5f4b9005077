// Package moralis busca preço de tokens ERC-20 na API da Moralis.
package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"swap-gateway/upstream/retry"
)

const DefaultBaseURL = "https://deep-index.moralis.io/api/v2.2"

var ErrMissingAddress = errors.New("moralis: token address is required")

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

type TokenPrice struct {
	TokenAddress string  `json:"tokenAddress"`
	TokenSymbol  string  `json:"tokenSymbol,omitempty"`
	USDPrice     float64 `json:"usdPrice"`
}

// TokenPrice devolve o preço em USD de `address`. chain vazio usa o padrão da API (eth).
func (c *Client) TokenPrice(ctx context.Context, address, chain string) (TokenPrice, error) {
	if address == "" {
		return TokenPrice{}, ErrMissingAddress
	}

	q := url.Values{}
	if chain != "" {
		q.Set("chain", chain)
	}

	resp, err := c.fetcher.Fetch(ctx, c.baseURL+"/erc20/"+url.PathEscape(address)+"/price", retry.Options{
		Header: http.Header{
			"Accept":    {"application/json"},
			"X-API-Key": {c.apiKey},
		},
		Query: q,
	})
	if err != nil {
		return TokenPrice{}, err
	}

	var p TokenPrice
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return TokenPrice{}, fmt.Errorf("moralis: decode price of %s: %w", address, err)
	}
	if p.TokenAddress == "" {
		p.TokenAddress = address
	}
	return p, nil
}
