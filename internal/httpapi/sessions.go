package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/chatrelay/internal/session"
)

type sessionMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID    string           `json:"session_id"`
	CreatedAt    time.Time        `json:"created_at"`
	LastAccessAt time.Time        `json:"last_access_at"`
	TTLMS        int64            `json:"ttl_ms"`
	Messages     []sessionMessage `json:"messages"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing session id")
		return
	}

	sess, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	msgs := make([]sessionMessage, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		msgs = append(msgs, sessionMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastAccessAt: sess.LastAccessAt,
		TTLMS:        s.store.TTL().Milliseconds(),
		Messages:     msgs,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing session id")
		return
	}
	if !s.store.Delete(id) {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	s.metrics.ActiveSessions.Set(float64(s.store.Stats().Sessions))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing session id")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.orchestrator.Transcript(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"exchanges":  records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.store.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": stats.Sessions,
		"messages": stats.Messages,
	})
}
