package turnlog

import (
	"context"
	"time"
)

// Record stores the outcome of one handled webhook turn.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Protocol       string    `json:"protocol"`
	Intent         string    `json:"intent"`
	RawInput       string    `json:"raw_input"`
	ResponseText   string    `json:"response_text"`
	Final          bool      `json:"final"`
	LatencyMS      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and retrieves handled turns.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]Record, error)
	Close() error
}
