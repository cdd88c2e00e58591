package gateway

import (
	"sync"

	v1 "parley/contracts/interview/v1"
)

// Client is the per-connection event sink handed to the session registry.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from
//   concurrent emitters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	ConnID string
	Send   chan v1.ServerEvent

	mu          sync.Mutex
	evictReason string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan v1.ServerEvent, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Emit enqueues a server event without blocking. A full queue means the
// consumer cannot keep up with a 1 Hz timer plus captions; the connection
// is closed rather than stalling the session.
func (c *Client) Emit(ev v1.ServerEvent) {
	if c == nil {
		return
	}
	select {
	case <-c.done:
	case c.Send <- ev:
	default:
		c.mu.Lock()
		if c.evictReason == "" {
			c.evictReason = "send queue overflow"
		}
		c.mu.Unlock()
		c.Close()
	}
}

// Evict asks the connection to close because a newer connection took over
// its session.
func (c *Client) Evict(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.evictReason == "" {
		c.evictReason = reason
	}
	c.mu.Unlock()
	c.Close()
}

// EvictReason returns why the client was evicted, if it was.
func (c *Client) EvictReason() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictReason
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep concurrent Emit safe.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
