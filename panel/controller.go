// Package panel implements the client-side session controller for one
// mounted chat widget instance. It mediates between the widget's
// pull-based secret-request callback and the gateway's bootstrap
// endpoint: at most one secret exchange in flight, a one-way readiness
// latch to avoid loading flicker on silent token refresh, per-thread
// deduplication of fact-saving tool calls, and an explicit reset as the
// only recovery path. Nothing here retries automatically.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.pilab.hu/chatkit/api"
	"go.pilab.hu/chatkit/log"
	"go.pilab.hu/chatkit/upstream"
)

// DefaultScriptTimeout bounds the wait for the external widget script to
// register before the script error channel trips.
const DefaultScriptTimeout = 5 * time.Second

// placeholderWorkflowPrefix marks scaffold workflow ids that were never
// replaced with a real one; they count as unconfigured.
const placeholderWorkflowPrefix = "wf_replace"

var (
	// ErrInitializationInProgress rejects a secret-request that overlaps
	// one already in flight on the same panel instance.
	ErrInitializationInProgress = errors.New("session initialization already in progress")

	// ErrWorkflowNotConfigured is raised without any network access when
	// the panel has no usable workflow id.
	ErrWorkflowNotConfigured = errors.New("workflow id is not configured for this panel")

	// ErrMissingClientSecret is raised when a 2xx bootstrap response
	// carries no client secret.
	ErrMissingClientSecret = errors.New("missing client secret in response")
)

// readiness is the one-way latch tracking whether the widget has ever
// signaled readiness for this instance.
type readiness int

const (
	readinessNever readiness = iota
	readinessOnce
	readinessReset
)

type scriptStatus int

const (
	scriptPending scriptStatus = iota
	scriptReady
	scriptFailed
)

// ErrorState is the panel's error surface. Script errors live on an
// independent channel from session errors: either blocks the UI.
type ErrorState struct {
	Script      string
	Session     string
	Integration string
	Retryable   bool
}

// Fact is one saved fact reported by the widget's record_fact tool.
type Fact struct {
	ID   string
	Text string
}

// ToolResult acknowledges a client-tool invocation to the widget.
type ToolResult struct {
	Success bool `json:"success"`
}

// Config wires one Controller instance.
type Config struct {
	// Endpoint is the gateway's bootstrap URL.
	Endpoint string
	// AuthToken is the bearer credential for the gateway.
	AuthToken string
	// WorkflowID overrides the server default; may be empty when the
	// server carries one.
	WorkflowID string
	// ServerHasDefaultWorkflow tells the panel the gateway resolves a
	// workflow on its own, so an empty WorkflowID is still configured.
	ServerHasDefaultWorkflow bool
	// ChatbotID selects the assistant; empty means the server default.
	ChatbotID string
	// OnSaveFact is invoked at most once per fact id per thread.
	OnSaveFact func(ctx context.Context, fact Fact) error
	// ScriptTimeout bounds the widget-script wait; zero means
	// DefaultScriptTimeout.
	ScriptTimeout time.Duration
	HTTPClient    *http.Client
	Logger        log.Logger
}

// Controller is the state machine for one mounted panel instance.
type Controller struct {
	cfg Config

	mu             sync.Mutex
	inFlight       bool
	initializing   bool
	ready          readiness
	script         scriptStatus
	errs           ErrorState
	processedFacts map[string]struct{}
	instanceKey    int
	chatSessionID  string
}

// NewController creates a controller. A panel with no usable workflow
// configuration transitions straight to its errored state, without
// network access, and is only recoverable by reconfiguring.
func NewController(cfg Config) *Controller {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}

	c := &Controller{
		cfg:            cfg,
		initializing:   true,
		processedFacts: make(map[string]struct{}),
	}

	if !c.workflowConfigured() {
		c.errs.Session = ErrWorkflowNotConfigured.Error()
		c.errs.Retryable = false
		c.initializing = false
	}

	return c
}

func (c *Controller) workflowConfigured() bool {
	if c.cfg.WorkflowID != "" && !strings.HasPrefix(c.cfg.WorkflowID, placeholderWorkflowPrefix) {
		return true
	}
	return c.cfg.ServerHasDefaultWorkflow
}

// GetClientSecret is the widget's secret-request callback. currentSecret
// is the secret the widget already holds, empty on initial mount. A call
// overlapping an in-flight exchange fails immediately with
// ErrInitializationInProgress instead of racing the network.
func (c *Controller) GetClientSecret(ctx context.Context, currentSecret string) (string, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return "", ErrInitializationInProgress
	}

	if !c.workflowConfigured() {
		c.errs.Session = ErrWorkflowNotConfigured.Error()
		c.errs.Retryable = false
		c.initializing = false
		c.mu.Unlock()
		return "", ErrWorkflowNotConfigured
	}

	initial := currentSecret == ""
	if initial {
		c.inFlight = true
		// Only force the loading affordance when the widget has never
		// been ready; a silent token refresh must not flicker.
		if c.ready != readinessOnce {
			c.initializing = true
		}
	}
	c.errs.Session = ""
	c.errs.Integration = ""
	c.errs.Retryable = false
	chatSessionID := c.chatSessionID
	c.mu.Unlock()

	secret, newSessionID, err := c.requestSecret(ctx, chatSessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if initial {
		c.inFlight = false
		if c.ready != readinessOnce {
			c.initializing = false
		}
	}

	if err != nil {
		c.errs.Session = err.Error()
		c.errs.Retryable = false
		return "", err
	}

	c.errs.Session = ""
	c.errs.Integration = ""
	if newSessionID != "" {
		c.chatSessionID = newSessionID
	}
	return secret, nil
}

// requestSecret performs one bootstrap round trip. The response body is
// parsed leniently: unparsable JSON degrades to an empty payload and
// falls through to the missing-secret failure path.
func (c *Controller) requestSecret(ctx context.Context, chatSessionID string) (secret, sessionID string, err error) {
	reqBody := api.CreateSessionRequest{
		Workflow:      &api.WorkflowRef{ID: c.cfg.WorkflowID},
		ChatbotID:     c.cfg.ChatbotID,
		ChatSessionID: chatSessionID,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", "", fmt.Errorf("marshal bootstrap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", "", fmt.Errorf("build bootstrap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	data := map[string]any{}
	if raw, readErr := io.ReadAll(resp.Body); readErr == nil && len(raw) > 0 {
		if unmarshalErr := json.Unmarshal(raw, &data); unmarshalErr != nil {
			c.logDebug(ctx, "failed to parse session response", map[string]interface{}{
				"error": unmarshalErr.Error(),
			})
			data = map[string]any{}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := upstream.ExtractErrorMessage(data, http.StatusText(resp.StatusCode))
		return "", "", errors.New(detail)
	}

	clientSecret, _ := data["client_secret"].(string)
	if clientSecret == "" {
		return "", "", ErrMissingClientSecret
	}
	newSessionID, _ := data["chat_session_id"].(string)
	return clientSecret, newSessionID, nil
}

// WatchScript waits, bounded by the configured timeout, for the external
// widget script to register. registered is closed (or sent on) by the
// embedding host once the widget's custom element exists. A timeout trips
// the independent, non-retryable script error channel.
func (c *Controller) WatchScript(registered <-chan struct{}) {
	timer := time.NewTimer(c.cfg.ScriptTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-registered:
			c.ScriptLoaded()
		case <-timer.C:
			c.ScriptFailed("ChatKit web component is unavailable. Verify that the script URL is reachable.")
		}
	}()
}

// ScriptLoaded marks the widget script as registered.
func (c *Controller) ScriptLoaded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = scriptReady
	c.errs.Script = ""
}

// ScriptFailed records a script-load failure. It blocks the UI regardless
// of secret-request outcome and is not retryable from this controller.
func (c *Controller) ScriptFailed(detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = scriptFailed
	c.errs.Script = "Error: " + detail
	c.errs.Retryable = false
	c.initializing = false
}

// HandleWidgetReady is the widget's readiness signal. The first signal
// latches the instance as ready-once and drops the loading affordance.
func (c *Controller) HandleWidgetReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready != readinessOnce {
		c.ready = readinessOnce
		c.initializing = false
	}
}

// HandleClientTool dispatches a widget client-tool invocation. record_fact
// calls are deduplicated by fact id within the current thread: a repeat
// is acknowledged as successful without re-invoking the save side effect.
func (c *Controller) HandleClientTool(ctx context.Context, name string, params map[string]any) ToolResult {
	if name != "record_fact" {
		c.logDebug(ctx, "unknown client tool", map[string]interface{}{"tool": name})
		return ToolResult{Success: false}
	}

	id, _ := params["fact_id"].(string)
	text, _ := params["fact_text"].(string)

	c.mu.Lock()
	if id == "" {
		c.mu.Unlock()
		return ToolResult{Success: true}
	}
	if _, seen := c.processedFacts[id]; seen {
		c.mu.Unlock()
		return ToolResult{Success: true}
	}
	c.processedFacts[id] = struct{}{}
	c.mu.Unlock()

	if c.cfg.OnSaveFact != nil {
		fact := Fact{ID: id, Text: strings.Join(strings.Fields(text), " ")}
		if err := c.cfg.OnSaveFact(ctx, fact); err != nil && c.cfg.Logger != nil {
			c.cfg.Logger.Error(ctx, "fact save failed", err, map[string]interface{}{"fact_id": id})
		}
	}
	return ToolResult{Success: true}
}

// HandleThreadChange clears the fact dedup set when the active
// conversation thread changes.
func (c *Controller) HandleThreadChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedFacts = make(map[string]struct{})
}

// HandleResponseStart clears transient integration errors when the
// widget starts streaming a response.
func (c *Controller) HandleResponseStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs.Integration = ""
	c.errs.Retryable = false
}

// Reset is the explicit, user-triggered recovery path: it clears all
// error, readiness and dedup state, forgets the conversation thread, and
// bumps the instance key so the embedding host remounts the widget. The
// remounted widget then issues a fresh secret-request.
func (c *Controller) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedFacts = make(map[string]struct{})
	c.ready = readinessReset
	c.errs = ErrorState{}
	c.initializing = true
	c.inFlight = false
	c.chatSessionID = ""
	if c.script != scriptReady {
		c.script = scriptPending
	}
	c.instanceKey++
	return c.instanceKey
}

// Errors returns a snapshot of the panel's error state.
func (c *Controller) Errors() ErrorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}

// BlockingError returns the message that should replace the chat surface,
// or "" when nothing blocks. Script failures win over session and
// integration errors.
func (c *Controller) BlockingError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs.Script != "" {
		return c.errs.Script
	}
	if c.errs.Session != "" {
		return c.errs.Session
	}
	return c.errs.Integration
}

// Initializing reports whether the loading affordance is up.
func (c *Controller) Initializing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializing
}

// Ready reports whether the widget has signaled readiness for this
// instance.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready == readinessOnce
}

// InstanceKey identifies the current widget mount; Reset bumps it.
func (c *Controller) InstanceKey() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceKey
}

// ChatSessionID returns the durable session id learned from the gateway,
// "" before the first successful bootstrap.
func (c *Controller) ChatSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatSessionID
}

func (c *Controller) logDebug(ctx context.Context, msg string, fields map[string]interface{}) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(ctx, msg, fields)
	}
}
