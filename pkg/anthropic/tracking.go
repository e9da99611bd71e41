package anthropic

import (
	"context"
	"sync"
)

// TrackingClient decorates a Client and accumulates token usage across all
// calls, so a CLI run can report its total spend at the end. Safe for
// concurrent use.
type TrackingClient struct {
	inner Client

	mu    sync.Mutex
	usage TokenUsage
}

// NewTracking wraps a client with usage accounting.
func NewTracking(inner Client) *TrackingClient {
	return &TrackingClient{inner: inner}
}

func (t *TrackingClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	resp, err := t.inner.CreateMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.usage.Add(resp.Usage)
	t.mu.Unlock()
	return resp, nil
}

// Usage returns the tokens consumed so far.
func (t *TrackingClient) Usage() TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}
