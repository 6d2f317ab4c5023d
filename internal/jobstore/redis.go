package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

// RedisStore implements Store backed by Redis. Each record is a JSON string
// key; a sorted set scored by creation time indexes them.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Prefix for all keys (default: "cis:jobs")
	Prefix string

	// TTL applied to finished records (0 = keep forever)
	TTL time.Duration

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "cis:jobs",
		TTL:          DefaultConfig().TTL,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed job store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cis:jobs"
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Key helpers
func (s *RedisStore) keyJob(name string) string { return fmt.Sprintf("%s:job:%s", s.prefix, name) }
func (s *RedisStore) keyIndex() string          { return s.prefix + ":index" }

func (s *RedisStore) expiry(rec *types.JobRecord) time.Duration {
	if rec.Phase.IsTerminal() {
		return s.ttl
	}
	return 0
}

func (s *RedisStore) Create(ctx context.Context, rec *types.JobRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	prepare(rec, time.Now().UTC())

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.keyJob(rec.Name), data, s.expiry(rec)).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return ErrJobExists
	}

	score := float64(rec.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, s.keyIndex(), redis.Z{Score: score, Member: rec.Name}).Err(); err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, name string) (*types.JobRecord, error) {
	return getRecord(ctx, s.client, s.keyJob(name))
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRecord(ctx context.Context, c stringGetter, key string) (*types.JobRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var rec types.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &rec, nil
}

// UpdatePhase uses an optimistic WATCH transaction so a concurrent cancel
// and a monitor tick cannot overwrite each other.
func (s *RedisStore) UpdatePhase(ctx context.Context, name string, phase types.JobPhase, message string) (*types.JobRecord, error) {
	key := s.keyJob(name)

	var out *types.JobRecord
	txf := func(tx *redis.Tx) error {
		rec, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := applyPhase(rec, phase, message, time.Now().UTC()); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.expiry(rec))
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	const maxAttempts = 5
	for i := 0; i < maxAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update job %s: too much contention", name)
}

func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*types.JobRecord, error) {
	names, err := s.client.ZRange(ctx, s.keyIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*types.JobRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.Get(ctx, name)
		if errors.Is(err, ErrJobNotFound) {
			// Expired record, drop it from the index
			s.client.ZRem(ctx, s.keyIndex(), name)
			continue
		}
		if err != nil {
			return nil, err
		}
		if matches(rec, opts) {
			out = append(out, rec)
		}
	}

	sortRecords(out)
	return limit(out, opts), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
