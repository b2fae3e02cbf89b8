package ebay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func newTestClient(serverURL string) *Client {
	c := NewClient(Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Sandbox:      true,
		Retry: RetryConfig{
			MaxAttempts:   3,
			BackoffStep:   time.Millisecond,
			RateLimitWait: time.Millisecond,
		},
	}, zap.NewNop())
	c.SetBaseURL(serverURL)
	c.SetTokenURL(serverURL + "/token")
	c.SetToken(&oauth2.Token{
		AccessToken:  "token-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	return c
}

func TestRequestRetryBudgetOn429(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.Request(context.Background(), http.MethodGet, "/sell/inventory/v1/offer", nil, nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("final response not surfaced: %+v", resp)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d calls, want exactly the budget of 3", got)
	}
}

func TestRequestRecoversFromServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"offers":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.Request(context.Background(), http.MethodGet, "/sell/inventory/v1/offer", nil, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRequestRefreshesOnceOn401(t *testing.T) {
	var tokenCalls, apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token-2","token_type":"Bearer","expires_in":7200,"refresh_token":"refresh-1"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.Request(context.Background(), http.MethodGet, "/sell/inventory/v1/offer", nil, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after refresh and replay", resp.StatusCode)
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Errorf("token endpoint calls = %d, want 1", tokenCalls)
	}
	if atomic.LoadInt32(&apiCalls) != 2 {
		t.Errorf("api calls = %d, want 2 (original plus one replay)", apiCalls)
	}
}

func TestRequestGivesUpAfterSecond401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"still-bad","token_type":"Bearer","expires_in":7200}`))
	})
	var apiCalls int32
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.Request(context.Background(), http.MethodGet, "/sell/inventory/v1/offer", nil, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want the surfaced 401", resp.StatusCode)
	}
	if atomic.LoadInt32(&apiCalls) != 2 {
		t.Errorf("api calls = %d, want 2 (refresh exactly once)", apiCalls)
	}
}

// Two goroutines hitting an expired token at the same time must produce one
// refresh, not two racing ones.
func TestRefreshIsSingleFlight(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token-2","token_type":"Bearer","expires_in":7200,"refresh_token":"refresh-1"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL)
	c.SetToken(&oauth2.Token{
		AccessToken:  "token-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("refresh %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&tokenCalls); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
	if c.Token().AccessToken != "token-2" {
		t.Errorf("token not updated: %q", c.Token().AccessToken)
	}
}

func TestWithoutRetryDoesNotRetryTransients(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.Request(context.Background(), http.MethodPost,
		"/sell/inventory/v1/offer/publish_by_inventory_item_group", nil, nil, WithoutRetry())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want surfaced 500", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want exactly 1 for a publish", calls)
	}
}
