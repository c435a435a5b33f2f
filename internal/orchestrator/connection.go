package orchestrator

import (
	"context"
	"encoding/base64"

	"github.com/ent0n29/chatrelay/internal/protocol"
	"github.com/ent0n29/chatrelay/internal/relay"
)

// RunConnection drives one websocket connection: each inbound payload becomes
// a streaming relay whose events are forwarded on outbound. Relay failures are
// reported as error events and do not end the connection; the loop exits when
// the context is cancelled or inbound closes.
func (o *Orchestrator) RunConnection(ctx context.Context, defaultSessionID string, inbound <-chan any, outbound chan<- any) error {
	defaultSessionID = o.ResolveSessionID(defaultSessionID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientMessage:
				sessionID := defaultSessionID
				if m.SessionID != "" {
					sessionID = m.SessionID
				}
				o.streamToConnection(ctx, outbound, SendRequest{
					SessionID:    sessionID,
					Message:      m.Message,
					SystemPrompt: m.SystemPrompt,
				}, "")
			case protocol.ClientAudio:
				sessionID := defaultSessionID
				if m.SessionID != "" {
					sessionID = m.SessionID
				}
				o.relayAudioToConnection(ctx, outbound, m, sessionID)
			default:
				// The transport filters payload types before handing them over.
			}
		}
	}
}

func (o *Orchestrator) relayAudioToConnection(ctx context.Context, outbound chan<- any, m protocol.ClientAudio, sessionID string) {
	raw, err := base64.StdEncoding.DecodeString(m.AudioBase64)
	if err != nil {
		emit(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "invalid_request",
			Detail:    "audio_base64 is not valid base64",
		})
		return
	}

	text, err := o.transcriber.Transcribe(ctx, raw)
	if err != nil {
		emit(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "invalid_request",
			Detail:    "transcription failed: " + err.Error(),
		})
		return
	}

	o.streamToConnection(ctx, outbound, SendRequest{
		SessionID:    sessionID,
		Message:      text,
		SystemPrompt: m.SystemPrompt,
	}, text)
}

func (o *Orchestrator) streamToConnection(ctx context.Context, outbound chan<- any, req SendRequest, transcript string) {
	sink := relay.SinkFuncs{
		Fragment: func(text string) {
			emit(ctx, outbound, protocol.AssistantDelta{
				Type:      protocol.TypeAssistantDelta,
				SessionID: req.SessionID,
				TextDelta: text,
			})
		},
		Complete: func(fullText string) {
			emit(ctx, outbound, protocol.AssistantComplete{
				Type:       protocol.TypeAssistantComplete,
				SessionID:  req.SessionID,
				Text:       fullText,
				Transcript: transcript,
			})
		},
		Error: func(err error) {
			code, retryable := ErrorCode(err)
			emit(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: req.SessionID,
				Code:      code,
				Retryable: retryable,
				Detail:    err.Error(),
			})
		},
	}

	// Stream blocks until the terminal event; the sink has already told the
	// client everything it needs to know.
	_ = o.StreamMessage(ctx, req, sink)
}

func emit(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}
