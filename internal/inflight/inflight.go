package inflight

import (
	"context"
	"net/http"
	"sync"
)

// Counter tracks work that must finish before the server drains. The zero
// value is ready to use.
type Counter struct {
	mu     sync.Mutex
	count  int64
	zeroCh chan struct{}
}

// zeroLocked returns the channel closed when the count reaches zero,
// creating it on first use.
func (c *Counter) zeroLocked() chan struct{} {
	if c.zeroCh == nil {
		c.zeroCh = make(chan struct{})
		if c.count == 0 {
			close(c.zeroCh)
		}
	}
	return c.zeroCh
}

// Inc increments the counter.
func (c *Counter) Inc() {
	c.mu.Lock()
	c.zeroLocked()
	if c.count == 0 {
		c.zeroCh = make(chan struct{})
	}
	c.count++
	c.mu.Unlock()
}

// Dec decrements the counter. It never goes below zero.
func (c *Counter) Dec() {
	c.mu.Lock()
	ch := c.zeroLocked()
	if c.count > 0 {
		c.count--
		if c.count == 0 {
			close(ch)
		}
	}
	c.mu.Unlock()
}

// Track increments the counter and returns a func that undoes it once.
func (c *Counter) Track() (release func()) {
	c.Inc()
	var once sync.Once
	return func() { once.Do(c.Dec) }
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// WaitForZero blocks until the count is zero or the context is done.
func (c *Counter) WaitForZero(ctx context.Context) bool {
	c.mu.Lock()
	ch := c.zeroLocked()
	c.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Middleware counts a request for as long as its handler runs. For a
// WebSocket route that is the lifetime of the connection.
func (c *Counter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release := c.Track()
			defer release()
			next.ServeHTTP(w, r)
		})
	}
}
