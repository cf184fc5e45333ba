// Package notify delivers "approval needed" requests from the workflow
// engine to humans. Delivery is best effort: the engine logs and discards
// every error a notifier returns.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultChannel is the Redis pub/sub channel approval requests go to.
const DefaultChannel = "stepflow:approvals"

// LogNotifier writes approval requests to a logger. It is the default
// notifier when nothing else is configured.
type LogNotifier struct {
	logger *log.Logger
}

var _ workflow.Notifier = (*LogNotifier)(nil)

// NewLogNotifier logs through logger.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyApprovalNeeded logs req at warn level so it stands out.
func (n *LogNotifier) NotifyApprovalNeeded(_ context.Context, req workflow.ApprovalRequest) error {
	kvs := []any{
		"run", req.RunID,
		"workflow", req.WorkflowID,
		"step", req.StepID,
		"impact", req.ImpactLevel,
		"expires", req.ExpiresAt.Format("15:04:05"),
	}
	if len(req.Analysis.Warnings) > 0 {
		kvs = append(kvs, "warnings", strings.Join(req.Analysis.Warnings, "; "))
	}
	if req.Analysis.ConfirmationText != nil {
		kvs = append(kvs, "confirm", *req.Analysis.ConfirmationText)
	}
	n.logger.Warn("approval needed", kvs...)
	return nil
}

// RedisNotifier publishes approval requests as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

var _ workflow.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier publishes on channel (DefaultChannel when empty).
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Channel returns the pub/sub channel requests are published on.
func (n *RedisNotifier) Channel() string { return n.channel }

// NotifyApprovalNeeded publishes req. Having no subscribers is not an
// error.
func (n *RedisNotifier) NotifyApprovalNeeded(ctx context.Context, req workflow.ApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding approval request for step %q: %w", req.StepID, err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing approval request for step %q: %w", req.StepID, err)
	}
	return nil
}

// Fanout hands each request to every notifier and joins their errors.
type Fanout []workflow.Notifier

var _ workflow.Notifier = Fanout(nil)

// NotifyApprovalNeeded calls every notifier, even after one fails.
func (f Fanout) NotifyApprovalNeeded(ctx context.Context, req workflow.ApprovalRequest) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.NotifyApprovalNeeded(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
