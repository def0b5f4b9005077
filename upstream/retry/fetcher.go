package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Doer é o mínimo de *http.Client que o Fetcher usa.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Sleeper espera d ou até o ctx encerrar.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options são os headers e a query anexados ao GET.
type Options struct {
	Header http.Header
	Query  url.Values
}

// Response é a resposta de sucesso, com o corpo intacto.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Attempt descreve uma tentativa concluída.
type Attempt struct {
	Upstream    string
	Number      int
	StatusCode  int
	Err         error
	Duration    time.Duration
	RetriesLeft int
	// Delay é a espera até a próxima tentativa (0 quando não haverá outra).
	Delay time.Duration
}

const defaultMaxBody = 10 << 20

type Fetcher struct {
	client    Doer
	policy    Policy
	sleep     Sleeper
	pacer     *rate.Limiter
	logger    *zap.Logger
	name      string
	maxBody   int64
	onAttempt func(Attempt)
}

type Option func(*Fetcher)

// WithPolicy define a política padrão de Fetch.
func WithPolicy(p Policy) Option { return func(f *Fetcher) { f.policy = p } }

// WithSleeper troca a espera entre tentativas (testes usam uma que só registra).
func WithSleeper(s Sleeper) Option { return func(f *Fetcher) { f.sleep = s } }

// WithPacer limita o ritmo de tentativas contra o upstream (todas as rotas somadas).
// rps <= 0 desliga.
func WithPacer(rps float64, burst int) Option {
	return func(f *Fetcher) {
		if rps <= 0 {
			f.pacer = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		f.pacer = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *zap.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// WithName identifica o upstream em logs e métricas.
func WithName(name string) Option { return func(f *Fetcher) { f.name = name } }

// WithMaxBody limita quantos bytes do corpo são aceitos; acima disso a tentativa falha
// com ErrBodyTooLarge em vez de devolver o corpo cortado. n <= 0 mantém o padrão.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// WithAttemptHook recebe cada tentativa concluída.
func WithAttemptHook(fn func(Attempt)) Option { return func(f *Fetcher) { f.onAttempt = fn } }

func New(client Doer, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		client:  client,
		policy:  DefaultPolicy(),
		sleep:   sleepContext,
		logger:  zap.NewNop(),
		name:    "upstream",
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithPolicy devolve uma cópia que usa p; pacer, cliente e hooks são compartilhados.
func (f *Fetcher) WithPolicy(p Policy) *Fetcher {
	cp := *f
	cp.policy = p
	return &cp
}

// Named devolve uma cópia com outro nome de upstream.
func (f *Fetcher) Named(name string) *Fetcher {
	cp := *f
	cp.name = name
	return &cp
}

func (f *Fetcher) Policy() Policy { return f.policy }

func (f *Fetcher) Name() string { return f.name }

// Fetch executa o GET com a política do Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return f.FetchWithPolicy(ctx, rawURL, opts, f.policy)
}

// FetchWithPolicy executa o GET e repete apenas em 429, enquanto houver retries.
//
// Tentativas são estritamente sequenciais: a próxima só começa depois da falha
// anterior e da espera. Falhas terminais voltam como *Error.
func (f *Fetcher) FetchWithPolicy(ctx context.Context, rawURL string, opts Options, p Policy) (*Response, error) {
	p = p.normalized()

	target, err := buildURL(rawURL, opts.Query)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Attempts: 0, Err: err}
	}

	retriesLeft := p.MaxRetries
	delay := p.InitialDelay
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, ferr := f.once(ctx, target, opts.Header)
		info := Attempt{Upstream: f.name, Number: attempt, Duration: time.Since(start), RetriesLeft: retriesLeft}

		if ferr == nil {
			info.StatusCode = resp.StatusCode
			f.observe(info)
			return resp, nil
		}

		ferr.Attempts = attempt
		info.StatusCode = ferr.StatusCode
		info.Err = ferr

		if !ferr.RateLimited() || retriesLeft <= 0 {
			f.observe(info)
			return nil, ferr
		}

		info.Delay = delay
		f.observe(info)
		f.logger.Info("Retrying request",
			zap.String("upstream", f.name),
			zap.String("url", target),
			zap.Int("attempts_left", retriesLeft),
			zap.Duration("delay", delay))

		if serr := f.sleep(ctx, delay); serr != nil {
			ferr.Err = serr
			return nil, ferr
		}

		retriesLeft--
		delay = p.next(delay)
	}
}

func (f *Fetcher) observe(a Attempt) {
	if f.onAttempt != nil {
		f.onAttempt(a)
	}
}

func (f *Fetcher) once(ctx context.Context, target string, header http.Header) (*Response, *Error) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindNetwork, URL: target, Err: fmt.Errorf("pacer: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: target, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: target, Err: err}
	}
	defer res.Body.Close()

	// lê um byte além do limite para distinguir corpo cheio de corpo cortado
	body, err := io.ReadAll(io.LimitReader(res.Body, f.maxBody+1))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: target, StatusCode: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	tooLarge := int64(len(body)) > f.maxBody

	if res.StatusCode >= 200 && res.StatusCode < 400 {
		if tooLarge {
			return nil, &Error{Kind: KindNetwork, URL: target, StatusCode: res.StatusCode, Header: res.Header,
				Err: fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBody)}
		}
		return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
	}
	// em falhas o status é o que importa; o payload só é informativo
	if tooLarge {
		body = body[:f.maxBody]
	}
	return nil, newUpstreamError(target, res.StatusCode, res.Header, body)
}

func buildURL(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
