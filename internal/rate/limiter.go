// Package rate implementa rate limiting fixed-window para los caminos de
// autenticación: frena fuerza bruta de passwords y de códigos TOTP.
package rate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Result es el veredicto de una petición contra la ventana.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter decide si una key puede seguir intentando.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// ─── Redis ──────────────────────────────────────────────────────────────────

// RedisLimiter: fixed window sencillo (INCR + EXPIRE). La ventana se ancla a
// time.Truncate, así todas las réplicas cuentan contra la misma key.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
}

// NewRedisLimiter crea el limiter compartido.
func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	winStart := time.Now().UTC().Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// primer hit de la ventana: fijar expiry
	if incr.Val() == 1 {
		_ = l.client.Expire(ctx, redisKey, l.window).Err()
		ttl = l.client.TTL(ctx, redisKey)
	}

	hits := incr.Val()
	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   max64(l.max-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter < 0 {
			res.RetryAfter = l.window
		}
	}
	return res, nil
}

// ─── memoria ────────────────────────────────────────────────────────────────

// MemoryLimiter: mismo algoritmo, in-process. Para dev y tests; en producción
// multi-réplica usar RedisLimiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string]int64
	max    int64
	window time.Duration
	epoch  time.Time
}

// NewMemoryLimiter crea el limiter in-process.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{hits: map[string]int64{}, max: int64(max), window: window}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	// nueva ventana: descartar los contadores viejos
	if !winStart.Equal(l.epoch) {
		l.hits = map[string]int64{}
		l.epoch = winStart
	}

	l.hits[key]++
	hits := l.hits[key]

	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   max64(l.max-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(l.window).Sub(now)
	}
	return res, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
