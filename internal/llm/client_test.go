package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokintel/tokintel/internal/config"
)

func newTestClient(t *testing.T, baseURL string, maxRetries int) *Client {
	t.Helper()
	client, err := NewClient(&config.Config{
		Provider:   config.ProviderLocal,
		APIBaseURL: baseURL,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func testRequest() Request {
	return Request{
		ModelName:   "test-model",
		Messages:    []Message{{Role: "user", Content: "analizza questo video"}},
		Temperature: 0.3,
		MaxTokens:   256,
		Timeout:     5 * time.Second,
	}
}

func TestCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ciao"}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	resp, err := client.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ciao" {
		t.Errorf("expected content %q, got %q", "ciao", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestCompleteRetriesOn5xxThenRecovers(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ripreso"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	resp, err := client.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ripreso" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	_, err := client.Complete(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", got)
	}
}

func TestComplete4xxNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	_, err := client.Complete(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt for 4xx, got %d", got)
	}
}

func TestCompleteEmptyChoicesMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	_, err := client.Complete(context.Background(), testRequest())
	if !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("expected ErrMalformedReply, got %v", err)
	}
}

func TestCompleteDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"message":{"content":"tardi"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	req := testRequest()
	req.Timeout = 50 * time.Millisecond

	_, err := client.Complete(context.Background(), req)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestJitteredStaysWithinBounds(t *testing.T) {
	base := 500 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := jittered(base)
		if d < 400*time.Millisecond || d > 600*time.Millisecond {
			t.Fatalf("jittered delay %v outside +-20%% of %v", d, base)
		}
	}
}

func TestNewClientRequiresKeyForHosted(t *testing.T) {
	_, err := NewClient(&config.Config{Provider: config.ProviderOpenAI})
	if err == nil {
		t.Error("expected error for hosted provider without api_key")
	}
}
