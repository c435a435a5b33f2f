package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/chatrelay/internal/reliability"
)

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPClient(url, apiKey string) *HTTPClient {
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		// Per-call deadlines come from the caller's context; this is a hard
		// backstop against connections that never terminate.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (c *HTTPClient) CompleteSync(ctx context.Context, p Params) (Completion, error) {
	res, err := c.send(ctx, p, false)
	if err != nil {
		return Completion{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Completion{}, c.classify(err, "read response body")
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Completion{}, &Error{Kind: KindTransport, Detail: "malformed completion payload", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, &Error{Kind: KindTransport, Detail: "completion payload has no choices"}
	}

	return Completion{
		Text:  parsed.Choices[0].Message.Content,
		Usage: parsed.Usage,
		Model: parsed.Model,
	}, nil
}

func (c *HTTPClient) CompleteStream(ctx context.Context, p Params) (io.ReadCloser, error) {
	res, err := c.send(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (c *HTTPClient) send(ctx context.Context, p Params, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Messages:    p.Messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, c.classify(err, "send request")
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	_ = res.Body.Close()
	return nil, statusError(res.StatusCode, res.Header, string(body))
}

func (c *HTTPClient) classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Detail: op, Err: err}
	}
	return &Error{Kind: KindTransport, Detail: op, Err: err}
}

func statusError(code int, header http.Header, body string) *Error {
	detail := strings.TrimSpace(body)
	if detail == "" {
		detail = fmt.Sprintf("status %d", code)
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, Detail: detail}
	case code == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Detail: detail, RetryAfter: parseRetryAfter(header)}
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Detail: detail}
	case reliability.IsRetryableStatus(code):
		return &Error{Kind: KindUnavailable, Detail: detail}
	default:
		return &Error{Kind: KindTransport, Detail: detail}
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
