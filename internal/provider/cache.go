package provider

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultCacheTTL is how long a cached step list stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// CachingProvider memoizes the step lists of another provider for a TTL.
// Lookup errors are never cached.
type CachingProvider struct {
	next  workflow.StepConfigProvider
	cache *gocache.Cache
}

var _ workflow.StepConfigProvider = (*CachingProvider)(nil)

// NewCachingProvider wraps next. A non-positive ttl means DefaultCacheTTL.
func NewCachingProvider(next workflow.StepConfigProvider, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingProvider{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// GetOrderedSteps returns the cached list for workflowID, fetching it from
// the wrapped provider on a miss.
func (c *CachingProvider) GetOrderedSteps(ctx context.Context, workflowID string) ([]workflow.StepConfig, error) {
	if cached, found := c.cache.Get(workflowID); found {
		return copySteps(cached.([]workflow.StepConfig)), nil
	}
	steps, err := c.next.GetOrderedSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(workflowID, copySteps(steps))
	return steps, nil
}

// ListWorkflows delegates to the wrapped provider when it can list.
func (c *CachingProvider) ListWorkflows(ctx context.Context) ([]string, error) {
	if l, ok := c.next.(Lister); ok {
		return l.ListWorkflows(ctx)
	}
	return nil, nil
}

// Invalidate drops the cached list of workflowID.
func (c *CachingProvider) Invalidate(workflowID string) {
	c.cache.Delete(workflowID)
}

// Flush drops every cached list.
func (c *CachingProvider) Flush() {
	c.cache.Flush()
}

// Len reports the number of cached workflows, including expired entries not
// yet evicted.
func (c *CachingProvider) Len() int {
	return c.cache.ItemCount()
}

func copySteps(steps []workflow.StepConfig) []workflow.StepConfig {
	out := make([]workflow.StepConfig, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}
