package retry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrBodyTooLarge indica que o corpo passou do limite de WithMaxBody.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Kind classifica a falha.
type Kind int

const (
	// KindUpstream: o upstream respondeu com status fora de 2xx.
	KindUpstream Kind = iota
	// KindNetwork: nenhuma resposta chegou.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error é a falha terminal de Fetch.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Header     http.Header
	// Body é o corpo original do upstream (pode ser vazio).
	Body []byte
	// ErrorCode e Description vêm de um corpo JSON {"error": ..., "description": ...}.
	ErrorCode   string
	Description string
	// Attempts é quantas tentativas foram feitas até desistir.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("retry: %s error calling %s after %d attempt(s): %v", e.Kind, e.URL, e.Attempts, e.Err)
	}
	msg := fmt.Sprintf("retry: %s responded HTTP %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited informa se o upstream respondeu 429.
func (e *Error) RateLimited() bool {
	return e.Kind == KindUpstream && e.StatusCode == http.StatusTooManyRequests
}

// HasPayload informa se o upstream mandou algo que dá pra repassar ao cliente.
func (e *Error) HasPayload() bool {
	return e.Kind == KindUpstream && len(e.Body) > 0
}

// AsError extrai *Error de err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRateLimited informa se err é um 429 do upstream.
func IsRateLimited(err error) bool {
	e, ok := AsError(err)
	return ok && e.RateLimited()
}

type errorPayload struct {
	Error       json.RawMessage `json:"error"`
	Description string          `json:"description"`
}

func newUpstreamError(url string, status int, header http.Header, body []byte) *Error {
	e := &Error{
		Kind:       KindUpstream,
		URL:        url,
		StatusCode: status,
		Header:     header,
		Body:       body,
	}

	var p errorPayload
	if len(body) > 0 && json.Unmarshal(body, &p) == nil {
		e.Description = p.Description
		// "error" pode vir como string ou objeto; string vira texto, resto vai cru
		var s string
		if json.Unmarshal(p.Error, &s) == nil {
			e.ErrorCode = s
		} else if len(p.Error) > 0 {
			e.ErrorCode = string(p.Error)
		}
	}
	return e
}
