package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"swap-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAllowed   = "allowed"
	fieldDenied    = "denied"
	fieldExhausted = "exhausted"
)

// RedisStatsStore soma as decisões de admissão em hashes, compartilhados entre réplicas.
//
//	<prefix>:total                  contadores cumulativos
//	<prefix>:minute:YYYYMMDDhhmm    contadores do minuto (ttl)
//	<prefix>:route:<METHOD> <path>  contadores por rota
//	<prefix>:client:<key>           contadores por cliente (ttl, só com trackKeys)
type RedisStatsStore struct {
	rdb       redis.Cmdable
	prefix    string
	ttl       time.Duration
	perMinute bool
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket aceita "minute" ou "none".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.perMinute = strings.EqualFold(strings.TrimSpace(bucket), "minute")
	}
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:       rdb,
		prefix:    "ratelimit:stats",
		ttl:       24 * time.Hour,
		perMinute: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	fields := statFields(ev)

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr := func(key string, expire bool) {
			for _, f := range fields {
				pipe.HIncrBy(ctx, key, f, 1)
			}
			if expire && s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}

		incr(s.prefix+":total", false)
		if s.perMinute {
			incr(s.prefix+":minute:"+at.UTC().Format("200601021504"), true)
		}
		incr(s.prefix+":route:"+routeLabel(ev), false)
		if s.trackKeys && ev.Key != "" {
			incr(s.prefix+":client:"+string(ev.Key), true)
		}
		return nil
	})
	return err
}

// Total lê os contadores cumulativos.
func (s *RedisStatsStore) Total(ctx context.Context) (Counters, error) {
	return s.read(ctx, s.prefix+":total")
}

// Route lê os contadores de uma rota ("GET /transaction").
func (s *RedisStatsStore) Route(ctx context.Context, route string) (Counters, error) {
	return s.read(ctx, s.prefix+":route:"+route)
}

func (s *RedisStatsStore) read(ctx context.Context, key string) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals[fieldAllowed], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals[fieldDenied], 10, 64)
	c.Exhausted, _ = strconv.ParseInt(vals[fieldExhausted], 10, 64)
	return c, nil
}

func statFields(ev domain.StatsEvent) []string {
	if !ev.Allowed {
		return []string{fieldDenied}
	}
	if ev.Remaining == 0 {
		return []string{fieldAllowed, fieldExhausted}
	}
	return []string{fieldAllowed}
}

func routeLabel(ev domain.StatsEvent) string {
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
}
