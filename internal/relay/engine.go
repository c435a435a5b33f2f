package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/chatrelay/internal/config"
	"github.com/ent0n29/chatrelay/internal/session"
	"github.com/ent0n29/chatrelay/internal/upstream"
)

var (
	// ErrSessionBusy rejects a request while the same session already has an
	// upstream call in flight. Requests are never queued.
	ErrSessionBusy = errors.New("session busy")

	// ErrCancelled terminates a streaming relay the caller abandoned.
	ErrCancelled = errors.New("relay cancelled")

	// ErrStreamTransport marks a mid-stream failure on the upstream body.
	ErrStreamTransport = errors.New("stream transport error")
)

// InvalidRequestError rejects malformed input before anything is sent upstream.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// Request describes one relay exchange. It is built per inbound event and
// never stored.
type Request struct {
	SessionID    string
	Message      string
	SystemPrompt string
}

// Result is the outcome of a non-streaming relay.
type Result struct {
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Usage     upstream.Usage `json:"usage"`
	Model     string         `json:"model"`
}

// Sink receives the ordered event sequence of one streaming relay. Exactly one
// of OnComplete/OnError fires, after zero or more OnFragment calls.
type Sink interface {
	OnFragment(text string)
	OnComplete(fullText string)
	OnError(err error)
}

// SinkFuncs adapts plain callbacks to the Sink interface. Nil funcs are no-ops.
type SinkFuncs struct {
	Fragment func(text string)
	Complete func(fullText string)
	Error    func(err error)
}

func (s SinkFuncs) OnFragment(text string) {
	if s.Fragment != nil {
		s.Fragment(text)
	}
}

func (s SinkFuncs) OnComplete(fullText string) {
	if s.Complete != nil {
		s.Complete(fullText)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// Options bound the prompt and the upstream call.
type Options struct {
	HistoryLimit    int
	MaxMessageBytes int
	UpstreamTimeout time.Duration
	SystemPrompt    string
	Model           string
	MaxTokens       int
	Temperature     float64
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		HistoryLimit:    cfg.RelayHistoryLimit,
		MaxMessageBytes: cfg.RelayMaxMessageBytes,
		UpstreamTimeout: cfg.RelayUpstreamTimeout,
		SystemPrompt:    cfg.RelaySystemPrompt,
		Model:           cfg.UpstreamModel,
		MaxTokens:       cfg.UpstreamMaxTokens,
		Temperature:     cfg.UpstreamTemperature,
	}
}

// Engine drives upstream completion calls and keeps session history ordered by
// allowing at most one in-flight call per session.
type Engine struct {
	store  *session.Store
	client upstream.Client
	opts   Options

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewEngine(store *session.Store, client upstream.Client, opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 8192
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = config.DefaultSystemPrompt
	}
	return &Engine{
		store:    store,
		client:   client,
		opts:     opts,
		inFlight: make(map[string]struct{}),
	}
}

// InFlight reports whether the session currently has an upstream call running.
func (e *Engine) InFlight(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[sessionID]
	return ok
}

func (e *Engine) acquire(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[sessionID]; busy {
		return false
	}
	e.inFlight[sessionID] = struct{}{}
	return true
}

func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, sessionID)
}

// Complete performs a non-streaming relay. On success the user message and the
// assistant reply are appended to the session as two ordered entries; on any
// failure the history is untouched.
func (e *Engine) Complete(ctx context.Context, req Request) (Result, error) {
	if err := e.validate(req); err != nil {
		return Result{}, err
	}
	if !e.acquire(req.SessionID) {
		return Result{}, ErrSessionBusy
	}
	defer e.release(req.SessionID)

	ctx, cancel := context.WithTimeout(ctx, e.opts.UpstreamTimeout)
	defer cancel()

	completion, err := e.client.CompleteSync(ctx, e.params(req))
	if err != nil {
		return Result{}, err
	}

	e.store.Append(req.SessionID, session.RoleUser, req.Message)
	e.store.Append(req.SessionID, session.RoleAssistant, completion.Text)

	return Result{
		SessionID: req.SessionID,
		Text:      completion.Text,
		Usage:     completion.Usage,
		Model:     completion.Model,
	}, nil
}

// Stream performs a streaming relay, fanning every fragment to all sinks in
// arrival order. It blocks until the terminal event and returns the same error
// delivered to OnError (nil after OnComplete).
func (e *Engine) Stream(ctx context.Context, req Request, sinks ...Sink) error {
	fan := fanout{sinks: sinks}

	if err := e.validate(req); err != nil {
		fan.error(err)
		return err
	}
	if !e.acquire(req.SessionID) {
		fan.error(ErrSessionBusy)
		return ErrSessionBusy
	}
	defer e.release(req.SessionID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := e.client.CompleteStream(ctx, e.params(req))
	if err != nil {
		if ctx.Err() != nil {
			err = ErrCancelled
		}
		fan.error(err)
		return err
	}
	defer body.Close()

	var full strings.Builder
	decoder := newStreamDecoder(body)
	for {
		if ctx.Err() != nil {
			fan.error(ErrCancelled)
			return ErrCancelled
		}
		fragment, done, err := decoder.next()
		if err != nil {
			if ctx.Err() != nil {
				fan.error(ErrCancelled)
				return ErrCancelled
			}
			wrapped := fmt.Errorf("%w: %v", ErrStreamTransport, err)
			fan.error(wrapped)
			return wrapped
		}
		if done {
			break
		}
		full.WriteString(fragment)
		fan.fragment(fragment)
	}

	text := full.String()
	e.store.Append(req.SessionID, session.RoleUser, req.Message)
	e.store.Append(req.SessionID, session.RoleAssistant, text)
	fan.complete(text)
	return nil
}

func (e *Engine) validate(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return &InvalidRequestError{Reason: "missing session id"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return &InvalidRequestError{Reason: "empty message"}
	}
	if len(req.Message) > e.opts.MaxMessageBytes {
		return &InvalidRequestError{Reason: fmt.Sprintf("message exceeds %d bytes", e.opts.MaxMessageBytes)}
	}
	return nil
}

// params builds the upstream prompt: system prompt, then the most recent
// HistoryLimit session messages, then the new user message.
func (e *Engine) params(req Request) upstream.Params {
	system := strings.TrimSpace(req.SystemPrompt)
	if system == "" {
		system = e.opts.SystemPrompt
	}

	messages := []upstream.Message{{Role: string(session.RoleSystem), Content: system}}

	if sess, err := e.store.Get(req.SessionID); err == nil {
		history := sess.Messages
		if len(history) > e.opts.HistoryLimit {
			history = history[len(history)-e.opts.HistoryLimit:]
		}
		for _, m := range history {
			messages = append(messages, upstream.Message{Role: string(m.Role), Content: m.Content})
		}
	}

	messages = append(messages, upstream.Message{Role: string(session.RoleUser), Content: req.Message})

	return upstream.Params{
		Model:       e.opts.Model,
		Messages:    messages,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	}
}

// fanout delivers the identical event sequence to every sink and enforces the
// single-terminal-event contract.
type fanout struct {
	sinks    []Sink
	terminal bool
}

func (f *fanout) fragment(text string) {
	for _, s := range f.sinks {
		s.OnFragment(text)
	}
}

func (f *fanout) complete(fullText string) {
	if f.terminal {
		return
	}
	f.terminal = true
	for _, s := range f.sinks {
		s.OnComplete(fullText)
	}
}

func (f *fanout) error(err error) {
	if f.terminal {
		return
	}
	f.terminal = true
	for _, s := range f.sinks {
		s.OnError(err)
	}
}
