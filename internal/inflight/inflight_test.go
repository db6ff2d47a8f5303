package inflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCounterWaitForZero(t *testing.T) {
	var c Counter
	if !c.WaitForZero(context.Background()) {
		t.Fatal("zero counter should not block")
	}

	c.Inc()
	c.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if c.WaitForZero(ctx) {
		t.Fatal("WaitForZero returned true with count 2")
	}

	done := make(chan bool, 1)
	go func() { done <- c.WaitForZero(context.Background()) }()
	c.Dec()
	c.Dec()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("WaitForZero returned false")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestCounterNeverNegative(t *testing.T) {
	var c Counter
	c.Dec()
	if got := c.Load(); got != 0 {
		t.Fatalf("Load = %d; want 0", got)
	}
	c.Inc()
	if got := c.Load(); got != 1 {
		t.Fatalf("Load = %d; want 1", got)
	}
}

func TestTrackReleasesOnce(t *testing.T) {
	var c Counter
	release := c.Track()
	c.Inc()
	release()
	release()
	if got := c.Load(); got != 1 {
		t.Fatalf("Load = %d; want 1", got)
	}
}

func TestMiddleware(t *testing.T) {
	var c Counter
	var during int64
	h := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = c.Load()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if during != 1 {
		t.Fatalf("count during request = %d; want 1", during)
	}
	if got := c.Load(); got != 0 {
		t.Fatalf("count after request = %d; want 0", got)
	}
}
