package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/colthorp/mirror-explorer-go/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := core.Config{BaseURL: srv.URL, APIKey: "secret", RateLimit: 100}
	return NewClient(cfg, false)
}

func TestClientRetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Path != "/api/v1/accounts/0.0.2" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("Expected API key header")
		}
		w.Write([]byte(`{"account":"0.0.2"}`))
	})

	body, err := client.Request(context.Background(), "accounts/0.0.2", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(body) != `{"account":"0.0.2"}` {
		t.Errorf("Unexpected body %s", body)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
}

func TestClientNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Request(context.Background(), "contracts/0.0.9", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestClientHonorsCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Request(ctx, "blocks", nil); err == nil {
		t.Fatal("Expected an error for a cancelled context")
	}
}

func TestParseNextLink(t *testing.T) {
	endpoint, params, err := parseNextLink("/api/v1/topics/0.0.5/messages?limit=25&timestamp=lt:1.000000002")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if endpoint != "topics/0.0.5/messages" {
		t.Errorf("Expected endpoint topics/0.0.5/messages, got %q", endpoint)
	}
	if params["timestamp"] != "lt:1.000000002" || params["limit"] != "25" {
		t.Errorf("Unexpected params %v", params)
	}
}
