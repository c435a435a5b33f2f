package archive

import (
	"context"
	"time"
)

// ExchangeRecord stores one completed user/assistant exchange.
type ExchangeRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserText  string    `json:"user_text"`
	ReplyText string    `json:"reply_text"`
	Model     string    `json:"model"`
	Redacted  bool      `json:"redacted"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves relayed transcripts. Unlike the session store
// it may outlive a process; failures here never affect the relay path.
type Store interface {
	SaveExchange(ctx context.Context, record ExchangeRecord) error
	RecentBySession(ctx context.Context, sessionID string, limit int) ([]ExchangeRecord, error)
	Close() error
}
