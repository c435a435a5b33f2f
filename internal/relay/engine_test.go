package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/chatrelay/internal/session"
	"github.com/ent0n29/chatrelay/internal/upstream"
)

type fakeClient struct {
	syncFn   func(ctx context.Context, p upstream.Params) (upstream.Completion, error)
	streamFn func(ctx context.Context, p upstream.Params) (io.ReadCloser, error)
}

func (c *fakeClient) CompleteSync(ctx context.Context, p upstream.Params) (upstream.Completion, error) {
	return c.syncFn(ctx, p)
}

func (c *fakeClient) CompleteStream(ctx context.Context, p upstream.Params) (io.ReadCloser, error) {
	return c.streamFn(ctx, p)
}

type recordingSink struct {
	mu        sync.Mutex
	fragments []string
	completes []string
	errs      []error
}

func (s *recordingSink) OnFragment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, text)
}

func (s *recordingSink) OnComplete(fullText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes = append(s.completes, fullText)
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func newTestEngine(client upstream.Client) (*Engine, *session.Store) {
	store := session.NewStore(time.Minute, 50)
	engine := NewEngine(store, client, Options{
		HistoryLimit:    10,
		MaxMessageBytes: 64,
		UpstreamTimeout: time.Second,
		Model:           "test-model",
		MaxTokens:       32,
	})
	return engine, store
}

func TestCompleteAppendsExchangeInOrder(t *testing.T) {
	client := &fakeClient{
		syncFn: func(_ context.Context, p upstream.Params) (upstream.Completion, error) {
			return upstream.Completion{Text: "hello", Model: "test-model"}, nil
		},
	}
	engine, store := newTestEngine(client)

	res, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "hello" || res.SessionID != "s1" {
		t.Fatalf("result = %+v", res)
	}

	sess, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != session.RoleUser || sess.Messages[0].Content != "hi" {
		t.Fatalf("first message = %+v, want user/hi", sess.Messages[0])
	}
	if sess.Messages[1].Role != session.RoleAssistant || sess.Messages[1].Content != "hello" {
		t.Fatalf("second message = %+v, want assistant/hello", sess.Messages[1])
	}
}

func TestCompleteFailureLeavesHistoryUntouched(t *testing.T) {
	boom := &upstream.Error{Kind: upstream.KindUnavailable, Detail: "down"}
	client := &fakeClient{
		syncFn: func(context.Context, upstream.Params) (upstream.Completion, error) {
			return upstream.Completion{}, boom
		},
	}
	engine, store := newTestEngine(client)

	_, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "hi"})
	if upstream.KindOf(err) != upstream.KindUnavailable {
		t.Fatalf("error = %v, want unavailable", err)
	}

	if sess, err := store.Get("s1"); err == nil && len(sess.Messages) != 0 {
		t.Fatalf("failed relay appended %d messages", len(sess.Messages))
	}
	if engine.InFlight("s1") {
		t.Fatalf("session still in flight after failure")
	}
}

func TestCompleteValidation(t *testing.T) {
	client := &fakeClient{
		syncFn: func(context.Context, upstream.Params) (upstream.Completion, error) {
			t.Fatal("upstream must not be called for invalid requests")
			return upstream.Completion{}, nil
		},
	}
	engine, _ := newTestEngine(client)

	cases := []struct {
		name string
		req  Request
	}{
		{"missing session id", Request{Message: "hi"}},
		{"empty message", Request{SessionID: "s1", Message: "   "}},
		{"oversized message", Request{SessionID: "s1", Message: strings.Repeat("x", 65)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Complete(context.Background(), tc.req)
			var invalid *InvalidRequestError
			if !errors.As(err, &invalid) {
				t.Fatalf("error = %v, want InvalidRequestError", err)
			}
		})
	}
}

func TestCompleteRejectsConcurrentSameSession(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	client := &fakeClient{
		syncFn: func(ctx context.Context, _ upstream.Params) (upstream.Completion, error) {
			close(started)
			select {
			case <-unblock:
			case <-ctx.Done():
				return upstream.Completion{}, ctx.Err()
			}
			return upstream.Completion{Text: "winner"}, nil
		},
	}
	engine, store := newTestEngine(client)

	winnerDone := make(chan error, 1)
	go func() {
		_, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "first"})
		winnerDone <- err
	}()

	<-started
	_, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "second"})
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second request error = %v, want ErrSessionBusy", err)
	}

	close(unblock)
	if err := <-winnerDone; err != nil {
		t.Fatalf("winner error = %v", err)
	}

	sess, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.Messages) != 2 || sess.Messages[0].Content != "first" {
		t.Fatalf("history = %+v, want only the winner's exchange", sess.Messages)
	}
}

func TestDifferentSessionsProceedInParallel(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{
		syncFn: func(ctx context.Context, _ upstream.Params) (upstream.Completion, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return upstream.Completion{}, ctx.Err()
			}
			return upstream.Completion{Text: "ok"}, nil
		},
	}
	engine, _ := newTestEngine(client)

	results := make(chan error, 2)
	go func() {
		_, err := engine.Complete(context.Background(), Request{SessionID: "a", Message: "hi"})
		results <- err
	}()
	go func() {
		_, err := engine.Complete(context.Background(), Request{SessionID: "b", Message: "hi"})
		results <- err
	}()

	// Both sessions must be in flight simultaneously before either finishes.
	deadline := time.After(time.Second)
	for !engine.InFlight("a") || !engine.InFlight("b") {
		select {
		case <-deadline:
			t.Fatalf("sessions did not run in parallel: a=%v b=%v", engine.InFlight("a"), engine.InFlight("b"))
		case <-time.After(time.Millisecond):
		}
	}

	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}
}

func TestPromptBuildsSystemHistoryAndMessage(t *testing.T) {
	var got upstream.Params
	client := &fakeClient{
		syncFn: func(_ context.Context, p upstream.Params) (upstream.Completion, error) {
			got = p
			return upstream.Completion{Text: "ok"}, nil
		},
	}
	engine, store := newTestEngine(client)

	store.Append("s1", session.RoleUser, "earlier question")
	store.Append("s1", session.RoleAssistant, "earlier answer")

	_, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "now"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(got.Messages) != 4 {
		t.Fatalf("prompt has %d messages, want 4: %+v", len(got.Messages), got.Messages)
	}
	if got.Messages[0].Role != "system" {
		t.Fatalf("prompt[0] = %+v, want system prompt", got.Messages[0])
	}
	if got.Messages[1].Content != "earlier question" || got.Messages[2].Content != "earlier answer" {
		t.Fatalf("history not carried in order: %+v", got.Messages[1:3])
	}
	if got.Messages[3].Role != "user" || got.Messages[3].Content != "now" {
		t.Fatalf("prompt tail = %+v, want the new user message", got.Messages[3])
	}
}

func TestPromptTruncatesHistory(t *testing.T) {
	var got upstream.Params
	client := &fakeClient{
		syncFn: func(_ context.Context, p upstream.Params) (upstream.Completion, error) {
			got = p
			return upstream.Completion{Text: "ok"}, nil
		},
	}
	store := session.NewStore(time.Minute, 50)
	engine := NewEngine(store, client, Options{HistoryLimit: 2, MaxMessageBytes: 64})

	for _, content := range []string{"one", "two", "three", "four"} {
		store.Append("s1", session.RoleUser, content)
	}

	if _, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "now"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	// system + 2 most recent history entries + new message
	if len(got.Messages) != 4 {
		t.Fatalf("prompt has %d messages, want 4", len(got.Messages))
	}
	if got.Messages[1].Content != "three" || got.Messages[2].Content != "four" {
		t.Fatalf("history window = [%q, %q], want [three, four]", got.Messages[1].Content, got.Messages[2].Content)
	}
}

func TestPromptSystemOverride(t *testing.T) {
	var got upstream.Params
	client := &fakeClient{
		syncFn: func(_ context.Context, p upstream.Params) (upstream.Completion, error) {
			got = p
			return upstream.Completion{Text: "ok"}, nil
		},
	}
	engine, _ := newTestEngine(client)

	_, err := engine.Complete(context.Background(), Request{
		SessionID:    "s1",
		Message:      "hi",
		SystemPrompt: "You are a pirate.",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Messages[0].Content != "You are a pirate." {
		t.Fatalf("system prompt = %q, want override", got.Messages[0].Content)
	}
}

func TestCompleteTimeout(t *testing.T) {
	client := &fakeClient{
		syncFn: func(ctx context.Context, _ upstream.Params) (upstream.Completion, error) {
			<-ctx.Done()
			return upstream.Completion{}, &upstream.Error{Kind: upstream.KindTimeout, Err: ctx.Err()}
		},
	}
	store := session.NewStore(time.Minute, 50)
	engine := NewEngine(store, client, Options{UpstreamTimeout: 20 * time.Millisecond, MaxMessageBytes: 64})

	_, err := engine.Complete(context.Background(), Request{SessionID: "s1", Message: "hi"})
	if upstream.KindOf(err) != upstream.KindTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	if engine.InFlight("s1") {
		t.Fatalf("session still in flight after timeout")
	}
}
