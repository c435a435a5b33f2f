package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrorKind classifies upstream failures for the caller; nothing in this
// package retries internally.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
	KindTimeout      ErrorKind = "timeout"
	KindUnavailable  ErrorKind = "unavailable"
	KindTransport    ErrorKind = "transport"
)

// Error is a classified upstream failure.
type Error struct {
	Kind       ErrorKind
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("upstream %s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may reasonably retry later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

// KindOf extracts the error kind, or "" when err is not an upstream error.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// Message is one prompt entry sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the upstream's token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the final result of a non-streaming call.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"`
}

// Params carries the per-call generation settings.
type Params struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client is the remote completion endpoint. CompleteStream returns the raw
// chunked response body; parsing the event records is the caller's concern.
type Client interface {
	CompleteSync(ctx context.Context, p Params) (Completion, error)
	CompleteStream(ctx context.Context, p Params) (io.ReadCloser, error)
}

// Config controls client construction.
type Config struct {
	Mode   string
	URL    string
	APIKey string
}

// NewClient builds a client for the configured mode. Auto prefers the HTTP
// endpoint when a URL is configured and falls back to the mock otherwise.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPClient(cfg.URL, cfg.APIKey), nil
		}
		return NewMockClient(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("upstream URL is required for http mode")
		}
		return NewHTTPClient(cfg.URL, cfg.APIKey), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported upstream mode %q", cfg.Mode)
	}
}
