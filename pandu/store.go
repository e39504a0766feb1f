package pandu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable is returned when the credential store cannot be
	// reached. Callers treat this as "use fallback", never as a hard error.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// errNoChange signals an update callback decided not to write.
	errNoChange = errors.New("no change")
)

// ListStore is the persistence contract the key pool depends on. Lists are
// stored as JSON arrays under provider-scoped keys (`api:<provider>`,
// `models:<provider>`).
//
// Connected reports reachability separately from data absence, so callers
// can distinguish "no credentials configured" from "cannot reach the store".
type ListStore interface {
	Connected() bool

	// GetJSON unmarshals the value at key into v. The boolean is false when
	// the key does not exist.
	GetJSON(ctx context.Context, key string, v any) (bool, error)

	// SetJSON marshals v and stores it at key, replacing any prior value.
	SetJSON(ctx context.Context, key string, v any) error

	// UpdateJSON atomically replaces the value at key: fn receives the raw
	// current value (nil if absent) and returns the replacement. Returning
	// errNoChange aborts without writing. Concurrent writers are detected
	// and the read-modify-write is retried.
	UpdateJSON(ctx context.Context, key string, fn func(raw []byte) (any, error)) error
}

// Store is the Redis-backed ListStore used in production.
type Store struct {
	rdb       *redis.Client
	keyPrefix string
	logger    *slog.Logger
	connected atomic.Bool
}

// NewStore creates a Redis-backed store. The connection is not established
// until Connect is called; a Store that never connects degrades every
// operation to ErrStoreUnavailable.
func NewStore(config *RedisConfig) (*Store, error) {
	opts, err := parseRedisURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.Timeout
	opts.ReadTimeout = config.Timeout
	opts.WriteTimeout = config.Timeout

	return &Store{
		rdb:       redis.NewClient(opts),
		keyPrefix: config.KeyPrefix,
		logger:    newLogger("store", config.LogLevel),
	}, nil
}

func parseRedisURL(redisURL string) (*redis.Options, error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}

	opts := &redis.Options{Addr: u.Host}

	if u.User != nil {
		if password, ok := u.User.Password(); ok {
			opts.Password = password
		}
	}

	if len(u.Path) > 1 {
		if db, err := strconv.Atoi(u.Path[1:]); err == nil {
			opts.DB = db
		}
	}

	return opts, nil
}

// Connect establishes the connection to Redis.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.connected.Store(true)
	s.logger.Info("connected to redis")
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	s.connected.Store(false)
	return s.rdb.Close()
}

// Connected reports whether the store is reachable.
func (s *Store) Connected() bool {
	return s.connected.Load()
}

// Key returns a prefixed key.
func (s *Store) Key(parts ...string) string {
	key := s.keyPrefix
	for _, part := range parts {
		key += part
	}
	return key
}

func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	if !s.connected.Load() {
		return false, ErrStoreUnavailable
	}
	data, err := s.rdb.Get(ctx, s.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("redis GET failed", "key", key, tint.Err(err))
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("failed to parse value at %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	if !s.connected.Load() {
		return ErrStoreUnavailable
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.Key(key), data, 0).Err(); err != nil {
		s.logger.Warn("redis SET failed", "key", key, tint.Err(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateJSON performs an optimistic read-modify-write on key using WATCH.
// Uses exponential backoff with jitter to avoid thundering herd on contention.
func (s *Store) UpdateJSON(
	ctx context.Context,
	key string,
	fn func(raw []byte) (any, error),
) error {
	if !s.connected.Load() {
		return ErrStoreUnavailable
	}

	const maxRetries = 3
	const baseBackoff = 5 * time.Millisecond
	prefixed := s.Key(key)

	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var raw []byte
			data, err := tx.Get(ctx, prefixed).Result()
			switch {
			case errors.Is(err, redis.Nil):
				raw = nil
			case err != nil:
				return err
			default:
				raw = []byte(data)
			}

			next, err := fn(raw)
			if err != nil {
				return err
			}

			updated, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, prefixed, updated, 0)
				return nil
			})
			return err
		}, prefixed)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, errNoChange):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			// watched key was modified underneath us; retry with backoff
			backoff := baseBackoff * time.Duration(1<<i)
			jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1)) //nolint:gosec // jitter only
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
				continue
			}
		default:
			s.logger.Warn("redis update failed", "key", key, tint.Err(err))
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}

	return fmt.Errorf("%w: update of %s contended after retries", ErrStoreUnavailable, key)
}
