package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// APIError is a non-2xx reply decoded from an ErrorResponse body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to a stepflow API server.
type Client struct {
	baseURL string
	http    *http.Client

	// etags caches the last ETag and body per run for conditional polling.
	mu    sync.Mutex
	etags map[string]cachedSnapshot
}

type cachedSnapshot struct {
	etag string
	snap workflow.Snapshot
}

// NewClient targets baseURL, e.g. "http://127.0.0.1:7070". A nil hc gets a
// client with a 30s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		etags:   make(map[string]cachedSnapshot),
	}
}

// StartRun starts workflowID and returns the acknowledgement.
func (c *Client) StartRun(ctx context.Context, req CreateRunRequest) (CreateRunResponse, error) {
	var resp CreateRunResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/runs", req, &resp)
	return resp, err
}

// ListRuns lists runs, optionally filtered by status.
func (c *Client) ListRuns(ctx context.Context, status string) ([]workflow.RunSummary, error) {
	path := "/api/v1/runs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var runs []workflow.RunSummary
	err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// GetRun fetches the snapshot of runID. Repeated calls send If-None-Match
// and reuse the cached snapshot on 304.
func (c *Client) GetRun(ctx context.Context, runID string) (workflow.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	c.mu.Lock()
	cached, haveCached := c.etags[runID]
	c.mu.Unlock()
	if haveCached {
		req.Header.Set("If-None-Match", cached.etag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("api: GET run %q: %w", runID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && haveCached {
		return cached.snap, nil
	}
	if resp.StatusCode != http.StatusOK {
		return workflow.Snapshot{}, decodeAPIError(resp)
	}
	var snap workflow.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return workflow.Snapshot{}, fmt.Errorf("api: decoding run %q: %w", runID, err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.mu.Lock()
		c.etags[runID] = cachedSnapshot{etag: etag, snap: snap}
		c.mu.Unlock()
	}
	return snap, nil
}

// CancelRun cancels a live run or removes a finished one.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/runs/"+url.PathEscape(runID), nil, nil)
}

// Signal delivers sig to runID.
func (c *Client) Signal(ctx context.Context, runID string, sig workflow.ApprovalSignal) error {
	return c.do(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/signals", sig, nil)
}

// Plan fetches the dry-run plan of workflowID.
func (c *Client) Plan(ctx context.Context, workflowID string) (PlanResponse, error) {
	var resp PlanResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(workflowID)+"/plan", nil, &resp)
	return resp, err
}

// ListWorkflows lists the workflow IDs the server's provider knows.
func (c *Client) ListWorkflows(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows", nil, &ids)
	return ids, err
}

// Health returns nil when the server answers /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: encoding %s %s: %w", method, path, err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("api: building %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return apiErr
}
