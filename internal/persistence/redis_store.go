package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/engine/internal/model"
)

// RedisStore persists snapshots in Redis, for deployments that run
// multiple engine instances against shared state. Keys are namespaced
// under "engine:snapshot:" the same way the orchestrator's state
// manager namespaces DAG state under "qlp:orchestrator:dag:".
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore against a client pointed at addr.
// ttl of zero means snapshots never expire on their own; cleanup is
// handled by the persistence engine's retention policy instead.
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return "engine:snapshot:" + id
}

func (s *RedisStore) indexKey() string {
	return "engine:snapshot:index"
}

// Save writes the encoded snapshot and records its ID in the index set.
func (s *RedisStore) Save(ctx context.Context, enc EncodedSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(enc)
	if err != nil {
		return model.NewPersistenceError("persistence.redis", "save", err)
	}
	if err := s.client.Set(ctx, s.key(enc.ID), raw, s.ttl).Err(); err != nil {
		return model.NewPersistenceError("persistence.redis", "save", err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), enc.ID).Err(); err != nil {
		return model.NewPersistenceError("persistence.redis", "save", err)
	}
	return nil
}

// Load fetches and decodes the snapshot stored under id.
func (s *RedisStore) Load(ctx context.Context, id string) (EncodedSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		return EncodedSnapshot{}, model.NewPersistenceError("persistence.redis", "load", err)
	}
	var enc EncodedSnapshot
	if err := json.Unmarshal(raw, &enc); err != nil {
		return EncodedSnapshot{}, model.NewCorruptSnapshotError("persistence.redis", id)
	}
	return enc, nil
}

// List returns every snapshot ID present in the index set.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, model.NewPersistenceError("persistence.redis", "list", err)
	}
	return ids, nil
}

// Delete removes the snapshot and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return model.NewPersistenceError("persistence.redis", "delete", err)
	}
	if err := s.client.SRem(ctx, s.indexKey(), id).Err(); err != nil {
		return model.NewPersistenceError("persistence.redis", "delete", err)
	}
	return nil
}
