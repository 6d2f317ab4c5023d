package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	graphKeyPrefix = "cis:graph:"
	graphListKey   = "cis:graphs"
)

// RedisStore implements Store using Redis. Each graph is a JSON string key;
// a set indexes the IDs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed graph store.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) graphKey(id string) string {
	return graphKeyPrefix + id
}

// Create saves a new graph.
func (s *RedisStore) Create(ctx context.Context, req *CreateGraphRequest) (*Graph, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	g := &Graph{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Content:     req.Content,
		Public:      req.Public,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}

	// SETNX makes the existence check and the write one step.
	ok, err := s.client.SetNX(ctx, s.graphKey(id), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("save graph: %w", err)
	}
	if !ok {
		return nil, ErrGraphExists
	}
	if err := s.client.SAdd(ctx, graphListKey, id).Err(); err != nil {
		return nil, fmt.Errorf("index graph: %w", err)
	}

	return g, nil
}

// Get retrieves a graph by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Graph, error) {
	data, err := s.client.Get(ctx, s.graphKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrGraphNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &g, nil
}

// Update modifies an existing graph.
func (s *RedisStore) Update(ctx context.Context, id string, req *UpdateGraphRequest) (*Graph, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	g, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(g)

	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	if err := s.client.Set(ctx, s.graphKey(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("save graph: %w", err)
	}
	return g, nil
}

// Delete removes a graph.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.graphKey(id))
	pipe.SRem(ctx, graphListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	if del.Val() == 0 {
		return ErrGraphNotFound
	}
	return nil
}

// List returns the graphs visible under opts.
func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*Graph, error) {
	ids, err := s.client.SMembers(ctx, graphListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list graph ids: %w", err)
	}

	all := make([]*Graph, 0, len(ids))
	for _, id := range ids {
		g, err := s.Get(ctx, id)
		if errors.Is(err, ErrGraphNotFound) {
			// Stale reference, clean up
			s.client.SRem(ctx, graphListKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, g)
	}

	return filter(all, opts), nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
