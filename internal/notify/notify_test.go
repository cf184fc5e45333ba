package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

func sampleRequest() workflow.ApprovalRequest {
	confirm := "CONFIRM DEPLOY"
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return workflow.ApprovalRequest{
		RunID:          "run-1",
		WorkflowID:     "release",
		StepID:         "deploy",
		StepName:       "Deploy",
		StepOrder:      2,
		DeploymentMode: workflow.ModeAlwaysManual,
		ImpactLevel:    workflow.ImpactCritical,
		Analysis: workflow.ImpactAnalysis{
			Warnings:                 []string{"critical impact"},
			RequiredChecks:           []string{"rollback plan"},
			ConfirmationText:         &confirm,
			RequireTypedConfirmation: true,
		},
		Timeout:     time.Minute,
		RequestedAt: now,
		ExpiresAt:   now.Add(time.Minute),
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) NotifyApprovalNeeded(_ context.Context, _ workflow.ApprovalRequest) error {
	s.calls++
	return s.err
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewLogNotifier(log.New(&buf))

	require.NoError(t, n.NotifyApprovalNeeded(context.Background(), sampleRequest()))

	out := buf.String()
	assert.Contains(t, out, "approval needed")
	assert.Contains(t, out, "deploy")
	assert.Contains(t, out, "critical impact")
	assert.Contains(t, out, "CONFIRM DEPLOY")
}

func TestRedisNotifier_Publishes(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), DefaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	n := NewRedisNotifier(client, "")
	assert.Equal(t, DefaultChannel, n.Channel())
	require.NoError(t, n.NotifyApprovalNeeded(context.Background(), sampleRequest()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got workflow.ApprovalRequest
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "deploy", got.StepID)
	assert.Equal(t, time.Minute, got.Timeout)
	assert.True(t, got.Analysis.RequireTypedConfirmation)
}

func TestRedisNotifier_ServerDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisNotifier(client, "custom").NotifyApprovalNeeded(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "deploy"`)
}

func TestFanout(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a := &stubNotifier{err: errA}
	b := &stubNotifier{}
	c := &stubNotifier{err: errB}

	err := Fanout{a, nil, b, c}.NotifyApprovalNeeded(context.Background(), sampleRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)

	assert.NoError(t, Fanout{b}.NotifyApprovalNeeded(context.Background(), sampleRequest()))
	assert.NoError(t, Fanout(nil).NotifyApprovalNeeded(context.Background(), sampleRequest()))
}
