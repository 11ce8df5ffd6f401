package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitUntilReady_BecomesHealthyBeforeTimeout(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL).WithTimeout(time.Second)
	ready := WaitUntilReady(context.Background(), checker, PollConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})

	if !ready {
		t.Fatal("expected ready=true once the endpoint returns 200")
	}
}

func TestWaitUntilReady_TimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL).WithTimeout(50 * time.Millisecond)
	start := time.Now()
	ready := WaitUntilReady(context.Background(), checker, PollConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if ready {
		t.Fatal("expected ready=false, endpoint never returns 200")
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("expected wait to respect the timeout budget, took %s", elapsed)
	}
}

func TestWaitUntilReady_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := NewHTTPChecker(server.URL)
	ready := WaitUntilReady(ctx, checker, PollConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})

	if ready {
		t.Fatal("expected ready=false for a cancelled context")
	}
}
