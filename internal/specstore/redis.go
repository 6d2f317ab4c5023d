package specstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

const (
	// Key patterns for Redis storage
	specKeyPrefix = "cis:spec:"
	specIndexKey  = "cis:specs:all"
	specNamesKey  = "cis:specs:names" // hash name -> id
)

// RedisStore implements Store using Redis for persistence.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed spec store.
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

// NewRedisStoreFromClient creates a store from an existing Redis client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func specKey(id string) string {
	return specKeyPrefix + id
}

// Create stores a new spec. The name is claimed first so concurrent
// creates of the same model cannot both succeed.
func (r *RedisStore) Create(ctx context.Context, req *CreateSpecRequest) (*Spec, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	exists, err := r.client.Exists(ctx, specKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("check exists: %w", err)
	}
	if exists > 0 {
		return nil, ErrSpecExists
	}

	claimed, err := r.client.HSetNX(ctx, specNamesKey, req.Content.Name, id).Result()
	if err != nil {
		return nil, fmt.Errorf("claim spec name: %w", err)
	}
	if !claimed {
		return nil, ErrSpecExists
	}

	now := time.Now().UTC()
	spec := &Spec{
		ID:        id,
		Name:      req.Content.Name,
		Content:   req.Content,
		Hash:      req.Hash,
		Public:    req.Public,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(spec)
	if err != nil {
		r.client.HDel(ctx, specNamesKey, spec.Name)
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, specKey(id), data, 0)
	pipe.SAdd(ctx, specIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		r.client.HDel(ctx, specNamesKey, spec.Name)
		return nil, fmt.Errorf("create spec: %w", err)
	}

	return spec, nil
}

// Get retrieves a spec by ID.
func (r *RedisStore) Get(ctx context.Context, id string) (*Spec, error) {
	data, err := r.client.Get(ctx, specKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSpecNotFound
		}
		return nil, fmt.Errorf("get spec: %w", err)
	}

	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &spec, nil
}

// GetByName retrieves a spec by model name.
func (r *RedisStore) GetByName(ctx context.Context, name string) (*Spec, error) {
	id, err := r.client.HGet(ctx, specNamesKey, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSpecNotFound
		}
		return nil, fmt.Errorf("resolve spec name: %w", err)
	}
	return r.Get(ctx, id)
}

// Update modifies an existing spec.
func (r *RedisStore) Update(ctx context.Context, id string, req *UpdateSpecRequest) (*Spec, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	spec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldName := spec.Name

	req.apply(spec)
	if spec.Name != oldName {
		claimed, err := r.client.HSetNX(ctx, specNamesKey, spec.Name, id).Result()
		if err != nil {
			return nil, fmt.Errorf("claim spec name: %w", err)
		}
		if !claimed {
			return nil, ErrSpecExists
		}
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, specKey(id), data, 0)
	if spec.Name != oldName {
		pipe.HDel(ctx, specNamesKey, oldName)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("update spec: %w", err)
	}

	return spec, nil
}

// Delete removes a spec.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	spec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, specKey(id))
	pipe.SRem(ctx, specIndexKey, id)
	pipe.HDel(ctx, specNamesKey, spec.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete spec: %w", err)
	}
	return nil
}

// List returns the specs visible under opts.
func (r *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*Spec, error) {
	ids, err := r.client.SMembers(ctx, specIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list spec ids: %w", err)
	}

	all := make([]*Spec, 0, len(ids))
	for _, id := range ids {
		spec, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSpecNotFound) {
				// Clean up stale index entry
				r.client.SRem(ctx, specIndexKey, id)
				continue
			}
			return nil, err
		}
		all = append(all, spec)
	}

	return filter(all, opts), nil
}

// LookupComponent implements translator.ComponentLookup.
func (r *RedisStore) LookupComponent(ctx context.Context, name string) (*types.CatalogSpec, error) {
	spec, err := r.GetByName(ctx, name)
	return lookup(spec, err, name)
}

// Close releases Redis connection resources.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
