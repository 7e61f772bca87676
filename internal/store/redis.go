package store

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type Redis struct {
	rdb redisClient
}

func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{
			Addr:            cfg.Addr(),
			DialTimeout:     cfg.Timeout,
			ReadTimeout:     cfg.Timeout,
			WriteTimeout:    cfg.Timeout,
			MaxRetries:      1,
			DisableIdentity: true,
		}),
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", classify(err, "get %q", key)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return classify(err, "set %q", key)
	}
	return nil
}

// Keys enumerates every key with SCAN so a large keyspace does not block the server.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, "*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err, "scan keys")
	}
	return keys, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return classify(err, "ping")
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func classify(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, context.Canceled):
		// The caller gave up; the store may be fine.
		return errors.Wrapf(err, format, args...)
	case isUnavailable(err):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, fmt.Sprintf(format, args...), err)
	default:
		return errors.Wrapf(err, format, args...)
	}
}

func isUnavailable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}
