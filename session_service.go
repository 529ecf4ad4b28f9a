// Package chatkit implements the session-bootstrap core of the ChatKit
// gateway: it exchanges the server-held API key for a short-lived client
// secret at the upstream provider and keeps one ChatSession record per
// conversation thread.
package chatkit

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/chatkit/api"
	"go.pilab.hu/chatkit/domain"
	ckerrors "go.pilab.hu/chatkit/errors"
	"go.pilab.hu/chatkit/internal/audit"
	"go.pilab.hu/chatkit/internal/metrics"
	"go.pilab.hu/chatkit/log"
	"go.pilab.hu/chatkit/upstream"
)

// APIKeyEnvVar names the credential surfaced in the misconfiguration
// error body.
const APIKeyEnvVar = "OPENAI_API_KEY"

// UpstreamSessionCreator is the slice of the upstream client the service
// needs; tests substitute it with a stub.
type UpstreamSessionCreator interface {
	Configured() bool
	CreateSession(ctx context.Context, workflowID, userID string) (*upstream.Session, error)
}

// SessionService implements the CreateOrResumeSession operation. It is
// stateless; every invocation performs at most one upstream call and one
// insert-or-update. Failures are never retried here, the caller decides.
type SessionService struct {
	repo              domain.SessionRepository
	upstream          UpstreamSessionCreator
	chatbots          *domain.ChatbotDirectory
	defaultWorkflowID string
	logger            log.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(
	repo domain.SessionRepository,
	upstreamClient UpstreamSessionCreator,
	chatbots *domain.ChatbotDirectory,
	defaultWorkflowID string,
	logger log.Logger,
) *SessionService {
	if chatbots == nil {
		chatbots = domain.NewChatbotDirectory(nil)
	}
	return &SessionService{
		repo:              repo,
		upstream:          upstreamClient,
		chatbots:          chatbots,
		defaultWorkflowID: defaultWorkflowID,
		logger:            logger,
	}
}

// ResolveWorkflowID applies the workflow precedence chain: the nested
// workflow.id field, then the flat workflowId field, then the chatbot's
// catalog override, then the server default. Returns "" when nothing
// resolves.
func (s *SessionService) ResolveWorkflowID(req *api.CreateSessionRequest, chatbotID string) string {
	if req != nil {
		if req.Workflow != nil && req.Workflow.ID != "" {
			return req.Workflow.ID
		}
		if req.WorkflowID != "" {
			return req.WorkflowID
		}
	}
	if override := s.chatbots.WorkflowOverride(chatbotID); override != "" {
		return override
	}
	return s.defaultWorkflowID
}

// CreateOrResumeSession validates the caller, exchanges the server
// credential for a fresh upstream client secret, and inserts or touches
// the backing ChatSession record. All failures are returned as
// *ckerrors.SessionError carrying the HTTP status to surface.
func (s *SessionService) CreateOrResumeSession(
	ctx context.Context,
	identity *domain.Identity,
	req *api.CreateSessionRequest,
) (*api.CreateSessionResponse, error) {
	if identity == nil || identity.ID == "" {
		return nil, ckerrors.NewUnauthorized()
	}

	if !s.upstream.Configured() {
		return nil, ckerrors.NewServerMisconfigured(APIKeyEnvVar)
	}

	if req == nil {
		req = &api.CreateSessionRequest{}
	}

	chatbotID := req.ChatbotID
	if chatbotID == "" {
		chatbotID = domain.DefaultChatbotID
	}

	workflowID := s.ResolveWorkflowID(req, chatbotID)
	if workflowID == "" {
		return nil, ckerrors.NewMissingWorkflowID()
	}

	s.logger.Debug(ctx, "handling session bootstrap", map[string]interface{}{
		"user_id":         identity.ID,
		"workflow_id":     workflowID,
		"chatbot_id":      chatbotID,
		"chat_session_id": req.ChatSessionID,
	})

	upstreamSession, err := s.upstream.CreateSession(ctx, workflowID, identity.ID)
	if err != nil {
		var upstreamErr *upstream.Error
		if errors.As(err, &upstreamErr) {
			metrics.UpstreamFailuresTotal.Inc()
			audit.Log("SessionService", "CreateOrResumeSession", identity.ID, workflowID,
				"upstream session creation failed", false, err)
			return nil, ckerrors.NewUpstreamFailure(upstreamErr.Status, upstreamErr.Message, upstreamErr.Payload)
		}
		if errors.Is(err, upstream.ErrNotConfigured) {
			return nil, ckerrors.NewServerMisconfigured(APIKeyEnvVar)
		}
		s.logger.Error(ctx, "upstream session request failed", err, map[string]interface{}{
			"workflow_id": workflowID,
		})
		audit.Log("SessionService", "CreateOrResumeSession", identity.ID, workflowID,
			"upstream transport failure", false, err)
		return nil, ckerrors.NewUnexpected()
	}

	var chatkitSessionID string
	if upstreamSession.ID != nil {
		chatkitSessionID = *upstreamSession.ID
	}

	session, err := s.persistSession(ctx, identity.ID, chatbotID, chatkitSessionID, req.ChatSessionID)
	if err != nil {
		s.logger.Error(ctx, "failed to persist chat session", err, map[string]interface{}{
			"user_id":         identity.ID,
			"chat_session_id": req.ChatSessionID,
		})
		audit.Log("SessionService", "CreateOrResumeSession", identity.ID, req.ChatSessionID,
			"persistence failure", false, err)
		return nil, ckerrors.NewUnexpected()
	}

	audit.Log("SessionService", "CreateOrResumeSession", identity.ID, session.ID, "", true, nil)

	return &api.CreateSessionResponse{
		ClientSecret:  upstreamSession.ClientSecret,
		ExpiresAfter:  upstreamSession.ExpiresAfter,
		ChatSessionID: session.ID,
	}, nil
}

// persistSession touches the existing record when the request named one,
// and inserts a fresh record otherwise.
func (s *SessionService) persistSession(
	ctx context.Context,
	userID, chatbotID, chatkitSessionID, existingID string,
) (*domain.ChatSession, error) {
	if existingID != "" {
		session, err := s.repo.TouchSession(ctx, existingID, chatkitSessionID, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		metrics.SessionsResumedTotal.Inc()
		return session, nil
	}

	session := &domain.ChatSession{
		UserID:           userID,
		ChatbotID:        chatbotID,
		ChatkitSessionID: chatkitSessionID,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.SessionsCreatedTotal.Inc()
	metrics.ActiveSessionsGauge.Inc()
	return session, nil
}

// ListSessions returns the caller's sessions, newest first.
func (s *SessionService) ListSessions(ctx context.Context, identity *domain.Identity, filter domain.SessionFilter) ([]*domain.ChatSession, error) {
	if identity == nil || identity.ID == "" {
		return nil, ckerrors.NewUnauthorized()
	}
	sessions, err := s.repo.ListSessionsByUser(ctx, identity.ID, filter)
	if err != nil {
		s.logger.Error(ctx, "failed to list chat sessions", err, map[string]interface{}{
			"user_id": identity.ID,
		})
		return nil, ckerrors.NewUnexpected()
	}
	return sessions, nil
}

// Chatbots exposes the catalog for the listing endpoint.
func (s *SessionService) Chatbots() []domain.Chatbot {
	return s.chatbots.List()
}
