package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MockClient provides deterministic local completions when no upstream is
// configured. Its streaming side emits the same wire format as the HTTP
// endpoint so the relay's record parsing is exercised end to end.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) CompleteSync(ctx context.Context, p Params) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, &Error{Kind: KindTimeout, Detail: "mock cancelled", Err: ctx.Err()}
	default:
	}

	text := mockReply(p)
	return Completion{
		Text: text,
		Usage: Usage{
			PromptTokens:     approxTokens(p.Messages),
			CompletionTokens: len(strings.Fields(text)),
			TotalTokens:      approxTokens(p.Messages) + len(strings.Fields(text)),
		},
		Model: "mock",
	}, nil
}

func (c *MockClient) CompleteStream(ctx context.Context, p Params) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindTimeout, Detail: "mock cancelled", Err: ctx.Err()}
	default:
	}

	var b strings.Builder
	for _, word := range strings.Fields(mockReply(p)) {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": word + " "}},
			},
		})
		b.WriteString("data: ")
		b.Write(payload)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String())), nil
}

func mockReply(p Params) string {
	last := ""
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == "user" {
			last = strings.TrimSpace(p.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", last)
}

func approxTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}
