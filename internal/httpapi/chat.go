package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/chatrelay/internal/orchestrator"
	"github.com/ent0n29/chatrelay/internal/relay"
	"github.com/ent0n29/chatrelay/internal/reliability"
	"github.com/ent0n29/chatrelay/internal/upstream"
)

type chatRequest struct {
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type chatResponse struct {
	SessionID  string         `json:"session_id"`
	Text       string         `json:"text"`
	Model      string         `json:"model,omitempty"`
	Usage      upstream.Usage `json:"usage"`
	Transcript string         `json:"transcript,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.orchestrator.SendMessage(r.Context(), orchestrator.SendRequest{
		SessionID:    req.SessionID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		s.respondRelayError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		SessionID: res.SessionID,
		Text:      res.Text,
		Model:     res.Model,
		Usage:     res.Usage,
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "internal", "streaming unsupported by this connection")
		return
	}

	// Session id is resolved up front so every event on the wire names it,
	// including the first fragment.
	sessionID := s.orchestrator.ResolveSessionID(req.SessionID)

	sse := &sseWriter{w: w, flusher: flusher}
	sink := relay.SinkFuncs{
		Fragment: func(text string) {
			sse.event("fragment", map[string]any{"session_id": sessionID, "text_delta": text})
		},
		Complete: func(fullText string) {
			sse.event("complete", map[string]any{"session_id": sessionID, "text": fullText})
		},
		Error: func(err error) {
			code, retryable := orchestrator.ErrorCode(err)
			if !sse.started {
				// Nothing streamed yet, so a plain HTTP error is still possible.
				s.respondRelayError(w, err)
				return
			}
			sse.event("error", map[string]any{
				"session_id": sessionID,
				"code":       code,
				"retryable":  retryable,
				"detail":     err.Error(),
			})
		},
	}

	_ = s.orchestrator.StreamMessage(r.Context(), orchestrator.SendRequest{
		SessionID:    sessionID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
	}, sink)
}

type audioRequest struct {
	SessionID    string `json:"session_id"`
	AudioBase64  string `json:"audio_base64"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio_base64 is not valid base64")
		return
	}

	res, transcript, err := s.orchestrator.SendAudio(r.Context(), orchestrator.AudioRequest{
		SessionID:    req.SessionID,
		Audio:        raw,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		s.respondRelayError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		SessionID:  res.SessionID,
		Text:       res.Text,
		Model:      res.Model,
		Usage:      res.Usage,
		Transcript: transcript,
	})
}

// respondRelayError translates relay and upstream failures into HTTP statuses.
// Busy sessions and rate limits carry a Retry-After hint.
func (s *Server) respondRelayError(w http.ResponseWriter, err error) {
	code, _ := orchestrator.ErrorCode(err)

	var invalid *relay.InvalidRequestError
	switch {
	case errors.As(err, &invalid):
		respondError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, relay.ErrSessionBusy):
		retryAfter := reliability.SuggestedBackoff(0, time.Second, 30*time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		respondError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, relay.ErrCancelled):
		respondError(w, http.StatusRequestTimeout, code, err.Error())
	case errors.Is(err, relay.ErrStreamTransport):
		respondError(w, http.StatusBadGateway, code, err.Error())
	default:
		s.respondUpstreamError(w, code, err)
	}
}

func (s *Server) respondUpstreamError(w http.ResponseWriter, code string, err error) {
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		respondError(w, http.StatusInternalServerError, code, err.Error())
		return
	}
	switch upErr.Kind {
	case upstream.KindUnauthorized:
		respondError(w, http.StatusUnauthorized, code, err.Error())
	case upstream.KindRateLimited:
		if upErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(upErr.RetryAfter.Seconds())))
		}
		respondError(w, http.StatusTooManyRequests, code, err.Error())
	case upstream.KindTimeout:
		respondError(w, http.StatusGatewayTimeout, code, err.Error())
	default:
		respondError(w, http.StatusBadGateway, code, err.Error())
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) event(name string, payload any) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	_, _ = s.w.Write([]byte(b.String()))
	s.flusher.Flush()
}
