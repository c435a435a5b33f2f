package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/chatrelay/internal/archive"
	"github.com/ent0n29/chatrelay/internal/observability"
	"github.com/ent0n29/chatrelay/internal/policy"
	"github.com/ent0n29/chatrelay/internal/relay"
	"github.com/ent0n29/chatrelay/internal/session"
	"github.com/ent0n29/chatrelay/internal/transcribe"
	"github.com/ent0n29/chatrelay/internal/upstream"
)

const archiveSaveTimeout = 2 * time.Second

// Orchestrator sits between the transport layer and the store/engine pair. It
// validates inbound events, defaults session ids, drives the relay, and fans
// completed exchanges to the transcript archive.
type Orchestrator struct {
	store       *session.Store
	engine      *relay.Engine
	transcriber transcribe.Transcriber
	archive     archive.Store
	metrics     *observability.Metrics
}

func New(
	store *session.Store,
	engine *relay.Engine,
	transcriber transcribe.Transcriber,
	archiveStore archive.Store,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		engine:      engine,
		transcriber: transcriber,
		archive:     archiveStore,
		metrics:     metrics,
	}
}

// SendRequest is one inbound text event.
type SendRequest struct {
	SessionID    string
	Message      string
	SystemPrompt string
}

// AudioRequest is one inbound audio event, transcribed before relaying.
type AudioRequest struct {
	SessionID    string
	Audio        []byte
	SystemPrompt string
}

// ResolveSessionID fills an absent session id with a generated one, so that a
// caller who never picked an id still gets a stable conversation.
func (o *Orchestrator) ResolveSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// SendMessage relays a text message synchronously and returns the full reply.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (relay.Result, error) {
	req.SessionID = o.ResolveSessionID(req.SessionID)

	start := time.Now()
	res, err := o.engine.Complete(ctx, relay.Request{
		SessionID:    req.SessionID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
	})
	o.recordOutcome("sync", err)
	if err != nil {
		return relay.Result{}, err
	}

	o.metrics.ObserveRelayLatency(time.Since(start))
	o.archiveExchange(req.SessionID, req.Message, res.Text, res.Model)
	return res, nil
}

// StreamMessage relays a message as an incremental stream, fanning fragments
// to the given sinks. It blocks until the terminal event. Callers that need
// the session id before the first event should resolve it with
// ResolveSessionID and pass it in the request.
func (o *Orchestrator) StreamMessage(ctx context.Context, req SendRequest, sinks ...relay.Sink) error {
	req.SessionID = o.ResolveSessionID(req.SessionID)

	start := time.Now()
	internal := relay.SinkFuncs{
		Fragment: func(string) {
			o.metrics.StreamFragments.Inc()
		},
		Complete: func(fullText string) {
			o.metrics.ObserveRelayLatency(time.Since(start))
			o.archiveExchange(req.SessionID, req.Message, fullText, "")
		},
	}

	err := o.engine.Stream(ctx, relay.Request{
		SessionID:    req.SessionID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
	}, append(sinks, relay.Sink(internal))...)
	o.recordOutcome("stream", err)
	return err
}

// SendAudio transcribes the clip and relays the resulting text synchronously.
// The transcript is returned alongside the reply so transports can echo what
// the service heard.
func (o *Orchestrator) SendAudio(ctx context.Context, req AudioRequest) (relay.Result, string, error) {
	text, err := o.transcriber.Transcribe(ctx, req.Audio)
	if err != nil {
		return relay.Result{}, "", fmt.Errorf("transcribe: %w", err)
	}

	res, err := o.SendMessage(ctx, SendRequest{
		SessionID:    req.SessionID,
		Message:      text,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return relay.Result{}, "", err
	}
	return res, text, nil
}

// Transcript returns the most recent archived exchanges for a session.
func (o *Orchestrator) Transcript(ctx context.Context, sessionID string, limit int) ([]archive.ExchangeRecord, error) {
	return o.archive.RecentBySession(ctx, sessionID, limit)
}

// archiveExchange persists a redacted copy of a completed exchange. The relay
// path already succeeded; archive failures are logged and swallowed.
func (o *Orchestrator) archiveExchange(sessionID, userText, replyText, model string) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveSaveTimeout)
	defer cancel()

	maskedUser, userChanged := policy.RedactPII(userText)
	maskedReply, replyChanged := policy.RedactPII(replyText)

	err := o.archive.SaveExchange(ctx, archive.ExchangeRecord{
		SessionID: sessionID,
		UserText:  maskedUser,
		ReplyText: maskedReply,
		Model:     model,
		Redacted:  userChanged || replyChanged,
	})
	if err != nil {
		log.Printf("archive save failed for session %s: %v", sessionID, err)
	}
}

func (o *Orchestrator) recordOutcome(mode string, err error) {
	outcome := "ok"
	if err != nil {
		code, _ := ErrorCode(err)
		outcome = code
		if kind := upstream.KindOf(err); kind != "" {
			o.metrics.UpstreamErrors.WithLabelValues(string(kind)).Inc()
		}
	}
	o.metrics.RelayRequests.WithLabelValues(mode, outcome).Inc()
	o.metrics.ActiveSessions.Set(float64(o.store.Stats().Sessions))
}

// ErrorCode maps the relay taxonomy to a stable wire code plus a retryability
// hint. Transports translate the code to their own representation.
func ErrorCode(err error) (code string, retryable bool) {
	var invalid *relay.InvalidRequestError
	switch {
	case errors.As(err, &invalid):
		return "invalid_request", false
	case errors.Is(err, relay.ErrSessionBusy):
		return "session_busy", true
	case errors.Is(err, relay.ErrCancelled):
		return "cancelled", false
	case errors.Is(err, relay.ErrStreamTransport):
		return "stream_transport", true
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		return "upstream_" + string(ue.Kind), ue.Retryable()
	}
	return "internal", false
}
