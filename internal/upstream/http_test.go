package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClientCompleteSync(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("sync call must not request streaming")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello there"}},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "secret")
	got, err := c.CompleteSync(context.Background(), Params{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CompleteSync() error = %v", err)
	}
	if got.Text != "hello there" || got.Model != "test-model" {
		t.Fatalf("completion = %+v", got)
	}
	if got.Usage.TotalTokens != 5 {
		t.Fatalf("usage = %+v, want total 5", got.Usage)
	}
}

func TestHTTPClientCompleteStreamReturnsRawBody(t *testing.T) {
	const stream = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("stream call must set stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, stream)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "")
	body, err := c.CompleteStream(context.Background(), Params{Model: "m"})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(raw) != stream {
		t.Fatalf("stream body = %q, want raw passthrough", raw)
	}
}

func TestHTTPClientStatusMapping(t *testing.T) {
	cases := []struct {
		status    int
		header    http.Header
		wantKind  ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, nil, KindUnauthorized, false},
		{http.StatusForbidden, nil, KindUnauthorized, false},
		{http.StatusTooManyRequests, http.Header{"Retry-After": {"2"}}, KindRateLimited, true},
		{http.StatusGatewayTimeout, nil, KindTimeout, true},
		{http.StatusInternalServerError, nil, KindUnavailable, true},
		{http.StatusBadGateway, nil, KindUnavailable, true},
		{http.StatusServiceUnavailable, nil, KindUnavailable, true},
		{http.StatusTeapot, nil, KindTransport, false},
	}

	for _, tc := range cases {
		err := statusError(tc.status, tc.header, "")
		if err.Kind != tc.wantKind {
			t.Errorf("status %d kind = %q, want %q", tc.status, err.Kind, tc.wantKind)
		}
		if err.Retryable() != tc.retryable {
			t.Errorf("status %d retryable = %v, want %v", tc.status, err.Retryable(), tc.retryable)
		}
	}
}

func TestHTTPClientRetryAfter(t *testing.T) {
	err := statusError(http.StatusTooManyRequests, http.Header{"Retry-After": {"3"}}, "slow down")
	if err.RetryAfter != 3*time.Second {
		t.Fatalf("RetryAfter = %v, want 3s", err.RetryAfter)
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client going away.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.CompleteSync(ctx, Params{Model: "m"})
	if KindOf(err) != KindTimeout {
		t.Fatalf("KindOf(err) = %q (err=%v), want timeout", KindOf(err), err)
	}
}

func TestMockClientStreamFormat(t *testing.T) {
	c := NewMockClient()
	body, err := c.CompleteStream(context.Background(), Params{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	defer body.Close()

	raw, _ := io.ReadAll(body)
	text := string(raw)
	if !strings.Contains(text, "data: ") {
		t.Fatalf("mock stream missing record marker: %q", text)
	}
	if !strings.HasSuffix(strings.TrimSpace(text), "data: [DONE]") {
		t.Fatalf("mock stream missing terminal sentinel: %q", text)
	}
}

func TestNewClientModes(t *testing.T) {
	if _, err := NewClient(Config{Mode: "http"}); err == nil {
		t.Fatalf("http mode without URL should fail")
	}
	c, err := NewClient(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewClient(auto) error = %v", err)
	}
	if _, ok := c.(*MockClient); !ok {
		t.Fatalf("auto without URL should fall back to mock, got %T", c)
	}
	c, err = NewClient(Config{Mode: "auto", URL: "http://example.test"})
	if err != nil {
		t.Fatalf("NewClient(auto+url) error = %v", err)
	}
	if _, ok := c.(*HTTPClient); !ok {
		t.Fatalf("auto with URL should pick http, got %T", c)
	}
	if _, err := NewClient(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
