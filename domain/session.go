package domain

import "time"

// ChatSession links an authenticated user, a chatbot choice and the most
// recent upstream ChatKit session minted for that conversation thread.
// The upstream client secret itself is never persisted, only the upstream
// session identifier, so a stale secret cannot be exchanged against the
// record after a newer one has been issued.
type ChatSession struct {
	ID               string    `bson:"_id,omitempty"`
	UserID           string    `bson:"user_id"`
	ChatbotID        string    `bson:"chatbot_id"`
	ChatkitSessionID string    `bson:"chatkit_session_id,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
	LastAccessedAt   time.Time `bson:"last_accessed_at"`
}

// SessionFilter narrows ListSessionsByUser results.
type SessionFilter struct {
	ChatbotID string
	FromDate  time.Time
	ToDate    time.Time
}
