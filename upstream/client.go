// Package upstream talks to the hosted ChatKit session endpoint. It is
// the only component that ever sees the server's long-lived API key.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultAPIBase is used when no CHATKIT_API_BASE override is set.
	DefaultAPIBase = "https://api.openai.com"

	sessionsPath = "/v1/chatkit/sessions"
	betaHeader   = "chatkit_beta=v1"
)

// ErrNotConfigured is returned before any network activity when the
// client holds no API key.
var ErrNotConfigured = errors.New("chatkit upstream: missing API key")

// Session is the upstream's answer to a session-creation call. Fields are
// pointers because the provider may omit any of them; absent values flow
// through to the caller as JSON null.
type Session struct {
	ID           *string `json:"id"`
	ClientSecret *string `json:"client_secret"`
	ExpiresAfter *int64  `json:"expires_after"`
}

// Error carries a non-success upstream response: the mirrored status
// code, the message extracted from the body, and the raw payload for
// diagnostics.
type Error struct {
	Status  int
	Message string
	Payload map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("chatkit upstream: %d: %s", e.Status, e.Message)
}

// Client issues session-creation calls against the ChatKit API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an upstream client. An empty baseURL falls back to
// DefaultAPIBase; an empty apiKey is allowed here and reported as
// ErrNotConfigured at call time, matching the request-time credential
// check of the bootstrap contract.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// CreateSession mints a new upstream session for the workflow on behalf
// of the given user and returns its client secret. A non-2xx response is
// returned as *Error with the upstream's own status code.
func (c *Client) CreateSession(ctx context.Context, workflowID, userID string) (*Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := map[string]any{
		"workflow": map[string]any{"id": workflowID},
		"user":     userID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", betaHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatkit session request failed: %w", err)
	}
	defer resp.Body.Close()

	// Parse permissively: an unreadable or non-JSON body degrades to an
	// empty payload instead of failing the exchange outright.
	var raw map[string]any
	if decodeErr := json.NewDecoder(resp.Body).Decode(&raw); decodeErr != nil {
		raw = map[string]any{}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := ExtractErrorMessage(raw, "Failed to create session: "+http.StatusText(resp.StatusCode))
		log.Error().
			Int("status", resp.StatusCode).
			Str("workflow_id", workflowID).
			Str("message", message).
			Msg("ChatKit session creation failed")
		return nil, &Error{Status: resp.StatusCode, Message: message, Payload: raw}
	}

	session := &Session{}
	if id, ok := raw["id"].(string); ok {
		session.ID = &id
	}
	if secret, ok := raw["client_secret"].(string); ok {
		session.ClientSecret = &secret
	}
	if expires, ok := raw["expires_after"].(float64); ok {
		v := int64(expires)
		session.ExpiresAfter = &v
	}
	return session, nil
}

// ExtractErrorMessage pulls a human-readable message out of an upstream
// error payload, trying each known shape in fixed priority order:
// "error" as string, "error.message", "details" as string, "details.error"
// as string, "details.error.message", then top-level "message". The
// fallback is returned when nothing matches.
func ExtractErrorMessage(payload map[string]any, fallback string) string {
	if payload != nil {
		switch errVal := payload["error"].(type) {
		case string:
			return errVal
		case map[string]any:
			if msg, ok := errVal["message"].(string); ok {
				return msg
			}
		}

		switch details := payload["details"].(type) {
		case string:
			return details
		case map[string]any:
			switch nested := details["error"].(type) {
			case string:
				return nested
			case map[string]any:
				if msg, ok := nested["message"].(string); ok {
					return msg
				}
			}
		}

		if msg, ok := payload["message"].(string); ok {
			return msg
		}
	}
	return fallback
}
