// Package history provides the append-only conversation history store that
// modules query for multi-turn context. The dispatcher itself never reads
// it; the API layer appends and modules read.
package history

import (
	"context"
	"time"
)

// Entry is one past command/response pair for a user.
type Entry struct {
	UserID    string    `json:"user_id"`
	Command   string    `json:"command"`
	Response  string    `json:"response"`
	ModuleID  string    `json:"module_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the conversation history contract. GetRecentHistory returns the
// newest entries first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	GetRecentHistory(ctx context.Context, userID string, count int) ([]Entry, error)
	Close() error
}
