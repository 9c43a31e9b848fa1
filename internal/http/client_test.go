package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	opts.RetryJitter = time.Millisecond
	return opts
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Auth-Token"); got != "abc" {
			t.Errorf("expected auth header 'abc', got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}))
	defer server.Close()

	client := NewClient(fastOptions())
	resp, err := client.PostJSON(context.Background(), server.URL, map[string]string{"X-Auth-Token": "abc"}, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"a":1}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestPostJSON_RetriesOnTimeout(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := fastOptions()
	opts.Timeout = 50 * time.Millisecond
	client := NewClient(opts)

	resp, err := client.PostJSON(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestPostJSON_TimeoutExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.RetryAttempts = 3
	client := NewClient(opts)

	var waits []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := client.PostJSON(context.Background(), server.URL, nil, nil)
	if !errors.Is(err, ErrTimeoutExhausted) {
		t.Fatalf("expected ErrTimeoutExhausted, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(waits) != 2 {
		t.Errorf("expected 2 waits between attempts, got %d", len(waits))
	}
	for _, w := range waits {
		if w < opts.RetryBackoff || w > opts.RetryBackoff+opts.RetryJitter {
			t.Errorf("wait %v outside [%v, %v]", w, opts.RetryBackoff, opts.RetryBackoff+opts.RetryJitter)
		}
	}
}

func TestPostJSON_NoRetryOnStatus(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(fastOptions())
	resp, err := client.PostJSON(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestPostJSON_NoRetryOnConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(fastOptions())
	client.sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("connection errors must not be retried")
		return nil
	}

	_, err := client.PostJSON(context.Background(), url, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrTimeoutExhausted) {
		t.Errorf("connection error reported as timeout: %v", err)
	}
}

func TestPostJSON_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(fastOptions())
	_, err := client.PostJSON(ctx, server.URL, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline error, got %v", err)
	}
}

func TestStream(t *testing.T) {
	data := []byte("archive-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	client := NewClient(fastOptions())
	resp, err := client.Stream(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != int64(len(data)) {
		t.Errorf("expected content length %d, got %d", len(data), resp.ContentLength)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(data) {
		t.Errorf("unexpected body %q", body)
	}
}

func TestStream_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(fastOptions())
	if _, err := client.Stream(context.Background(), server.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestProgressWriter(t *testing.T) {
	var calls int
	pw := &ProgressWriter{
		Writer: io.Discard,
		Total:  10,
		OnUpdate: func(written, total int64) {
			calls++
			if total != 10 {
				t.Errorf("expected total 10, got %d", total)
			}
		},
	}
	pw.Write([]byte("hello"))
	pw.Write([]byte("world"))

	if pw.Written != 10 {
		t.Errorf("expected 10 bytes written, got %d", pw.Written)
	}
	if calls != 2 {
		t.Errorf("expected 2 updates, got %d", calls)
	}
}

func TestPostJSON_Paced(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	opts := fastOptions()
	opts.RequestsPerSecond = 0.5
	client := NewClient(opts)

	if _, err := client.PostJSON(context.Background(), server.URL, nil, []byte(`{}`)); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// The next token is two seconds away, past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := client.PostJSON(ctx, server.URL, nil, []byte(`{}`)); err == nil {
		t.Fatal("expected the paced request to give up at the deadline")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 request to reach the server, got %d", got)
	}
}
