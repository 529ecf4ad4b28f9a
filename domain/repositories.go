package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a ChatSession id does not resolve.
var ErrSessionNotFound = errors.New("chat session not found")

// SessionRepository persists ChatSession records. The bootstrap flow only
// ever inserts and updates by id; range queries exist for the session
// listing surface.
type SessionRepository interface {
	// CreateSession inserts a new session record. A missing ID is
	// generated by the repository.
	CreateSession(ctx context.Context, session *ChatSession) error

	// GetSessionByID retrieves a session by its primary id.
	GetSessionByID(ctx context.Context, id string) (*ChatSession, error)

	// TouchSession updates lastAccessedAt and overwrites the upstream
	// chatkit session id on an existing record. Returns
	// ErrSessionNotFound when the id does not exist.
	TouchSession(ctx context.Context, id, chatkitSessionID string, accessedAt time.Time) (*ChatSession, error)

	// ListSessionsByUser returns the user's sessions, newest first.
	ListSessionsByUser(ctx context.Context, userID string, filter SessionFilter) ([]*ChatSession, error)
}
