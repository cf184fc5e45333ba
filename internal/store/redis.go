// Package store holds StateStore backends that live outside the process.
// The file-backed store sits next to the engine in the workflow package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultPrefix namespaces run checkpoint keys.
const DefaultPrefix = "stepflow"

// RedisStateStore keeps one JSON snapshot per run under <prefix>:run:<id>
// and the set of known run IDs under <prefix>:runs.
type RedisStateStore struct {
	client *redis.Client
	prefix string

	// finishedTTL expires snapshots of terminal runs. Zero keeps them.
	finishedTTL time.Duration
}

var _ workflow.StateStore = (*RedisStateStore)(nil)

// RedisOption configures a RedisStateStore.
type RedisOption func(*RedisStateStore)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStateStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithFinishedTTL expires the snapshots of completed, failed and cancelled
// runs after ttl.
func WithFinishedTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStateStore) {
		if ttl > 0 {
			s.finishedTTL = ttl
		}
	}
}

// NewRedisStateStore stores snapshots through client.
func NewRedisStateStore(client *redis.Client, opts ...RedisOption) *RedisStateStore {
	s := &RedisStateStore{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStateStore) runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, runID)
}

func (s *RedisStateStore) indexKey() string {
	return s.prefix + ":runs"
}

// Save writes snap and records its run ID in the index.
func (s *RedisStateStore) Save(ctx context.Context, snap workflow.Snapshot) error {
	if snap.RunID == "" {
		return errors.New("redis state store: snapshot has no run ID")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis state store: encoding run %q: %w", snap.RunID, err)
	}
	var ttl time.Duration
	if snap.Status.Terminal() {
		ttl = s.finishedTTL
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.runKey(snap.RunID), data, ttl)
		pipe.SAdd(ctx, s.indexKey(), snap.RunID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis state store: saving run %q: %w", snap.RunID, err)
	}
	return nil
}

// Load returns the snapshot of runID. A missing key yields an error wrapping
// workflow.ErrRunNotFound.
func (s *RedisStateStore) Load(ctx context.Context, runID string) (workflow.Snapshot, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return workflow.Snapshot{}, fmt.Errorf("run %q: %w", runID, workflow.ErrRunNotFound)
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("redis state store: loading run %q: %w", runID, err)
	}
	var snap workflow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return workflow.Snapshot{}, fmt.Errorf("redis state store: decoding run %q: %w", runID, err)
	}
	return snap, nil
}

// List returns the IDs of runs that still have a snapshot, sorted. Index
// entries whose snapshot has expired are pruned on the way.
func (s *RedisStateStore) List(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis state store: listing runs: %w", err)
	}
	ids := make([]string, 0, len(members))
	var stale []any
	for _, id := range members {
		n, err := s.client.Exists(ctx, s.runKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis state store: checking run %q: %w", id, err)
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		ids = append(ids, id)
	}
	if len(stale) > 0 {
		// Best effort; a failed prune is retried on the next List.
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes runID. Deleting a missing run is not an error.
func (s *RedisStateStore) Delete(ctx context.Context, runID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.runKey(runID))
		pipe.SRem(ctx, s.indexKey(), runID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis state store: deleting run %q: %w", runID, err)
	}
	return nil
}
