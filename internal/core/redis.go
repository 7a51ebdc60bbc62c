package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Redis keys shared with the producers of markets and cookies.
const (
	MarketsKey        = "marketcrawler:markets"
	CookieRequestsKey = "marketcrawler:cookie-requests"
	cookiesKeyPrefix  = "marketcrawler:cookies:"
	readyKeyPrefix    = "marketcrawler:cookies-ready:"

	// StopMarket pushed onto MarketsKey ends the crawl loop.
	StopMarket = "__stop__"

	// DefaultPollTimeout bounds each blocking pop so cancellation is noticed.
	DefaultPollTimeout = 5 * time.Second
)

// CookiesKey returns the hash holding the cookies of market.
func CookiesKey(market string) string {
	return cookiesKeyPrefix + market
}

// ReadyKey returns the list a login service pushes to once the cookies of
// market are in place.
func ReadyKey(market string) string {
	return readyKeyPrefix + market
}

// Redis is a core backed by Redis lists and hashes.
//
// Design decision: Cookies is called after a validation failure, so cookies
// identical to the ones handed out last time are treated as stale. The hash
// is deleted and a fresh login is requested instead of returning them again.
// Concurrent callers for one market share a single login request.
type Redis struct {
	rdb         *redis.Client
	pollTimeout time.Duration
	logger      *slog.Logger
	group       singleflight.Group

	mu   sync.Mutex
	last map[string]map[string]string
}

// RedisOption configures a Redis core.
type RedisOption func(*Redis)

// WithPollTimeout sets how long a single BLPOP blocks.
func WithPollTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.pollTimeout = d
		}
	}
}

// WithRedisLogger sets a custom logger.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis creates a core on an existing client.
func NewRedis(rdb *redis.Client, opts ...RedisOption) (*Redis, error) {
	if rdb == nil {
		return nil, ErrNilRedisClient
	}
	r := &Redis{
		rdb:         rdb,
		pollTimeout: DefaultPollTimeout,
		logger:      slog.Default(),
		last:        make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(rdb, opts...)
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Market blocks until a market is queued. StopMarket returns "".
func (r *Redis) Market(ctx context.Context) (string, error) {
	market, err := r.pop(ctx, MarketsKey)
	if err != nil {
		return "", err
	}
	if market == StopMarket {
		return "", nil
	}
	return market, nil
}

// Cookies returns the cookies of market, requesting a login and waiting for
// it when none are stored or the stored ones were already handed out.
func (r *Redis) Cookies(ctx context.Context, market string) (map[string]string, error) {
	v, err, shared := r.group.Do(market, func() (any, error) {
		return r.cookies(ctx, market)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("shared cookie request", "market", market)
	}

	cookies, _ := v.(map[string]string)
	return maps.Clone(cookies), nil
}

func (r *Redis) cookies(ctx context.Context, market string) (map[string]string, error) {
	cookies, err := r.rdb.HGetAll(ctx, CookiesKey(market)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	if len(cookies) > 0 && !r.stale(market, cookies) {
		r.remember(market, cookies)
		return cookies, nil
	}

	if len(cookies) > 0 {
		if err := r.rdb.Del(ctx, CookiesKey(market)).Err(); err != nil {
			return nil, fmt.Errorf("failed to drop stale cookies: %w", err)
		}
	}
	if err := r.rdb.RPush(ctx, CookieRequestsKey, market).Err(); err != nil {
		return nil, fmt.Errorf("failed to request cookies: %w", err)
	}
	r.logger.Info("requested cookies", "market", market)

	if _, err := r.pop(ctx, ReadyKey(market)); err != nil {
		return nil, err
	}

	cookies, err = r.rdb.HGetAll(ctx, CookiesKey(market)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	r.remember(market, cookies)
	return cookies, nil
}

func (r *Redis) stale(market string, cookies map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.last[market]
	return ok && maps.Equal(prev, cookies)
}

func (r *Redis) remember(market string, cookies map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[market] = maps.Clone(cookies)
}

// pop blocks on key in pollTimeout slices until a value arrives or ctx ends.
func (r *Redis) pop(ctx context.Context, key string) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := r.rdb.BLPop(ctx, r.pollTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("failed to pop %s: %w", key, err)
		}
		// BLPOP replies with [key, value].
		if len(res) == 2 {
			return res[1], nil
		}
	}
}
