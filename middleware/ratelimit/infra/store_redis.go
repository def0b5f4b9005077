package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swap-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

var ErrBadScriptReply = errors.New("infra: unexpected reply from quota script")

// takeScript aplica a janela fixa em uma única ida ao Redis.
// Retorna {allowed, count, ttl_ms}. A janela começa no primeiro SET e termina com o TTL,
// então o reset acontece sozinho quando a chave expira.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current == false then
	redis.call('SET', key, 1, 'PX', window)
	return {1, 1, window}
end

local count = tonumber(current)
local ttl = redis.call('PTTL', key)
if ttl < 0 then
	redis.call('PEXPIRE', key, window)
	ttl = window
end

if count >= limit then
	return {0, count, ttl}
end

count = redis.call('INCR', key)
return {1, count, ttl}
`)

// RedisQuotaStore compartilha as quotas entre réplicas do gateway.
//
// O relógio é o do Redis (TTL); o `now` recebido só é usado para calcular ResetAt.
type RedisQuotaStore struct {
	rdb    redis.Scripter
	prefix string
}

type RedisQuotaOption func(*RedisQuotaStore)

func WithQuotaPrefix(prefix string) RedisQuotaOption {
	return func(s *RedisQuotaStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisQuotaStore(rdb redis.Scripter, opts ...RedisQuotaOption) *RedisQuotaStore {
	s := &RedisQuotaStore{rdb: rdb, prefix: "ratelimit:quota"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Take implementa domain.QuotaStore.
func (s *RedisQuotaStore) Take(ctx context.Context, key domain.Key, p domain.WindowPolicy, now time.Time) (domain.Decision, error) {
	redisKey := s.prefix + ":" + string(key)

	res, err := takeScript.Run(ctx, s.rdb, []string{redisKey}, p.Window.Milliseconds(), p.Max).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("quota take %q: %w", key, err)
	}
	if len(res) != 3 {
		return domain.Decision{}, ErrBadScriptReply
	}

	allowed, count, ttl := res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond
	resetAt := now.Add(ttl)

	if !allowed {
		return domain.Decision{
			Allowed:    false,
			Limit:      p.Max,
			ResetAt:    resetAt,
			RetryAfter: ttl,
		}, nil
	}

	remaining := p.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		Allowed:   true,
		Limit:     p.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
