package gateway

import (
	"fmt"
	"sort"
	"strings"

	"swap-gateway/upstream/retry"
)

const (
	PathTokenPrice  = "/tokenPrice"
	PathAllowance   = "/allowance"
	PathTransaction = "/transaction"
	PathSwap        = "/swap"
)

// RoutePolicy diz como uma rota trata admissão e retry.
type RoutePolicy struct {
	Admission bool         `yaml:"admission"`
	Retry     retry.Policy `yaml:"retry"`
}

// Routes mapeia path -> política.
type Routes map[string]RoutePolicy

// DefaultRoutes: só /transaction passa pela quota; /transaction e /swap repetem em 429.
func DefaultRoutes() Routes {
	return Routes{
		PathTokenPrice:  {Retry: retry.NoRetry()},
		PathAllowance:   {Retry: retry.NoRetry()},
		PathTransaction: {Admission: true, Retry: retry.DefaultPolicy()},
		PathSwap:        {Retry: retry.DefaultPolicy()},
	}
}

// Known informa se o path é uma rota servida pelo gateway.
func Known(path string) bool {
	switch path {
	case PathTokenPrice, PathAllowance, PathTransaction, PathSwap:
		return true
	}
	return false
}

// Policy devolve a política do path; paths fora do mapa usam o padrão.
func (rs Routes) Policy(path string) RoutePolicy {
	if p, ok := rs[path]; ok {
		return p
	}
	if p, ok := DefaultRoutes()[path]; ok {
		return p
	}
	return RoutePolicy{Retry: retry.DefaultPolicy()}
}

// WithAdmission devolve uma cópia em que exatamente `paths` passam pela quota.
func (rs Routes) WithAdmission(paths []string) (Routes, error) {
	out := make(Routes, len(rs))
	for k, v := range rs {
		v.Admission = false
		out[k] = v
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !Known(p) {
			return nil, fmt.Errorf("unknown route %q", p)
		}
		pol := out.Policy(p)
		pol.Admission = true
		out[p] = pol
	}
	return out, nil
}

// Gated lista, em ordem, os paths com admissão.
func (rs Routes) Gated() []string {
	var out []string
	for k, v := range rs {
		if v.Admission {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
