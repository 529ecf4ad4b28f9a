package api

import "time"

// WorkflowRef is the nested workflow selector accepted in bootstrap
// request bodies. The nested form takes precedence over the flat
// workflowId field.
type WorkflowRef struct {
	ID string `json:"id,omitempty"`
}

// CreateSessionRequest is the bootstrap request body. Every field is
// optional; an absent or unparsable body is treated as empty.
//
//nolint:tagliatelle
type CreateSessionRequest struct {
	Workflow      *WorkflowRef `json:"workflow,omitempty"`
	WorkflowID    string       `json:"workflowId,omitempty"`
	ChatbotID     string       `json:"chatbotId,omitempty"`
	ChatSessionID string       `json:"chatSessionId,omitempty"`
}

// CreateSessionResponse carries the upstream client secret back to the
// panel. Secret and expiry are pointers so values the upstream omitted
// render as JSON null rather than zero values.
type CreateSessionResponse struct {
	ClientSecret  *string `json:"client_secret"`
	ExpiresAfter  *int64  `json:"expires_after"`
	ChatSessionID string  `json:"chat_session_id"`
}

// SessionSummary is one row of the caller's session listing.
type SessionSummary struct {
	ID             string    `json:"id"`
	ChatbotID      string    `json:"chatbot_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// SessionListResponse wraps the session listing.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}
