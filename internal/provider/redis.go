package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultKeyPrefix namespaces every key stepflow writes to Redis.
const DefaultKeyPrefix = "stepflow"

// RedisProvider reads step lists stored as JSON arrays under
// <prefix>:workflow:<id>:steps.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

var (
	_ workflow.StepConfigProvider = (*RedisProvider)(nil)
	_ Lister                      = (*RedisProvider)(nil)
)

// NewRedisProvider uses client with keys under prefix (DefaultKeyPrefix
// when empty).
func NewRedisProvider(client *redis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisProvider{client: client, prefix: prefix}
}

func (p *RedisProvider) key(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:steps", p.prefix, workflowID)
}

// GetOrderedSteps fetches and decodes the steps of workflowID.
func (p *RedisProvider) GetOrderedSteps(ctx context.Context, workflowID string) ([]workflow.StepConfig, error) {
	data, err := p.client.Get(ctx, p.key(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, workflow.ErrWorkflowNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching workflow %q from redis: %w", workflowID, err)
	}
	var steps []workflow.StepConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&steps); err != nil {
		return nil, fmt.Errorf("decoding workflow %q: %w", workflowID, err)
	}
	return SortSteps(steps), nil
}

// Put stores the steps of workflowID, replacing any previous list.
func (p *RedisProvider) Put(ctx context.Context, workflowID string, steps []workflow.StepConfig) error {
	data, err := json.Marshal(SortSteps(steps))
	if err != nil {
		return fmt.Errorf("encoding workflow %q: %w", workflowID, err)
	}
	if err := p.client.Set(ctx, p.key(workflowID), data, 0).Err(); err != nil {
		return fmt.Errorf("storing workflow %q in redis: %w", workflowID, err)
	}
	return nil
}

// Delete removes workflowID. Deleting a missing workflow is not an error.
func (p *RedisProvider) Delete(ctx context.Context, workflowID string) error {
	if err := p.client.Del(ctx, p.key(workflowID)).Err(); err != nil {
		return fmt.Errorf("deleting workflow %q from redis: %w", workflowID, err)
	}
	return nil
}

// ListWorkflows scans the key space for stored workflows.
func (p *RedisProvider) ListWorkflows(ctx context.Context) ([]string, error) {
	head := p.prefix + ":workflow:"
	const tail = ":steps"

	var ids []string
	iter := p.client.Scan(ctx, 0, head+"*"+tail, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(key, head), tail))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing workflows in redis: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
