package chatkit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/chatkit/api"
	"go.pilab.hu/chatkit/domain"
	ckerrors "go.pilab.hu/chatkit/errors"
	"go.pilab.hu/chatkit/log"
	"go.pilab.hu/chatkit/upstream"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockSessionRepo) GetSessionByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*domain.ChatSession); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) TouchSession(ctx context.Context, id, chatkitSessionID string, accessedAt time.Time) (*domain.ChatSession, error) {
	args := m.Called(ctx, id, chatkitSessionID, accessedAt)
	if s, ok := args.Get(0).(*domain.ChatSession); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) ListSessionsByUser(ctx context.Context, userID string, filter domain.SessionFilter) ([]*domain.ChatSession, error) {
	args := m.Called(ctx, userID, filter)
	if s, ok := args.Get(0).([]*domain.ChatSession); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUpstream struct {
	mock.Mock
}

func (m *mockUpstream) Configured() bool {
	return m.Called().Bool(0)
}

func (m *mockUpstream) CreateSession(ctx context.Context, workflowID, userID string) (*upstream.Session, error) {
	args := m.Called(ctx, workflowID, userID)
	if s, ok := args.Get(0).(*upstream.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func strptr(s string) *string { return &s }
func i64ptr(v int64) *int64   { return &v }

func testLogger() log.Logger {
	return log.NewZerologAdapter(zerolog.Disabled, false)
}

func testIdentity() *domain.Identity {
	return &domain.Identity{ID: "user-1", Email: "user@example.com"}
}

func newTestService(repo *mockSessionRepo, up *mockUpstream, bots []domain.Chatbot, defaultWorkflow string) *SessionService {
	return NewSessionService(repo, up, domain.NewChatbotDirectory(bots), defaultWorkflow, testLogger())
}

func TestCreateOrResumeSession_Unauthenticated(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	svc := newTestService(repo, up, nil, "wf_default")

	_, err := svc.CreateOrResumeSession(context.Background(), nil, &api.CreateSessionRequest{})

	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusUnauthorized, sessionErr.Status)
	assert.Equal(t, "Unauthorized", sessionErr.Message)

	up.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCreateOrResumeSession_MissingAPIKey(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(false)
	svc := newTestService(repo, up, nil, "wf_default")

	_, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), nil)

	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusInternalServerError, sessionErr.Status)
	assert.Equal(t, "Missing OPENAI_API_KEY environment variable", sessionErr.Message)
	up.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrResumeSession_MissingWorkflowID(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(true)
	svc := newTestService(repo, up, nil, "")

	_, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), &api.CreateSessionRequest{})

	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusBadRequest, sessionErr.Status)
	assert.Equal(t, "Missing workflow id", sessionErr.Message)
	up.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrResumeSession_CreatesNewSession(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(true)
	up.On("CreateSession", mock.Anything, "wf_default", "user-1").Return(&upstream.Session{
		ID:           strptr("cks_abc"),
		ClientSecret: strptr("cs_1"),
		ExpiresAfter: i64ptr(3600),
	}, nil)
	repo.On("CreateSession", mock.Anything, mock.MatchedBy(func(s *domain.ChatSession) bool {
		return s.UserID == "user-1" && s.ChatbotID == domain.DefaultChatbotID && s.ChatkitSessionID == "cks_abc"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.ChatSession).ID = "sess-123"
	}).Return(nil)

	svc := newTestService(repo, up, nil, "wf_default")

	resp, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), &api.CreateSessionRequest{})
	require.NoError(t, err)

	require.NotNil(t, resp.ClientSecret)
	assert.Equal(t, "cs_1", *resp.ClientSecret)
	require.NotNil(t, resp.ExpiresAfter)
	assert.Equal(t, int64(3600), *resp.ExpiresAfter)
	assert.Equal(t, "sess-123", resp.ChatSessionID)

	repo.AssertExpectations(t)
	up.AssertExpectations(t)
}

func TestCreateOrResumeSession_ResumesExistingSession(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(true)
	up.On("CreateSession", mock.Anything, "wf_default", "user-1").Return(&upstream.Session{
		ID:           strptr("cks_new"),
		ClientSecret: strptr("cs_2"),
		ExpiresAfter: i64ptr(600),
	}, nil)
	repo.On("TouchSession", mock.Anything, "existing-1", "cks_new", mock.Anything).
		Return(&domain.ChatSession{ID: "existing-1", UserID: "user-1"}, nil)

	svc := newTestService(repo, up, nil, "wf_default")

	resp, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), &api.CreateSessionRequest{
		ChatSessionID: "existing-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-1", resp.ChatSessionID)

	repo.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCreateOrResumeSession_ResumeUnknownSession(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(true)
	up.On("CreateSession", mock.Anything, "wf_default", "user-1").Return(&upstream.Session{
		ClientSecret: strptr("cs_3"),
	}, nil)
	repo.On("TouchSession", mock.Anything, "ghost", "", mock.Anything).
		Return(nil, domain.ErrSessionNotFound)

	svc := newTestService(repo, up, nil, "wf_default")

	_, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), &api.CreateSessionRequest{
		ChatSessionID: "ghost",
	})

	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusInternalServerError, sessionErr.Status)
	assert.Equal(t, "Unexpected error", sessionErr.Message)
}

func TestCreateOrResumeSession_UpstreamFailureMirrored(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(true)
	payload := map[string]any{"error": "rate limited"}
	up.On("CreateSession", mock.Anything, "wf_default", "user-1").Return(nil, &upstream.Error{
		Status:  http.StatusTooManyRequests,
		Message: "rate limited",
		Payload: payload,
	})

	svc := newTestService(repo, up, nil, "wf_default")

	_, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), nil)

	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusTooManyRequests, sessionErr.Status)
	assert.Equal(t, "rate limited", sessionErr.Message)
	assert.Equal(t, payload, sessionErr.Details)

	repo.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestCreateOrResumeSession_TransportFailure(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	up.On("Configured").Return(true)
	up.On("CreateSession", mock.Anything, "wf_default", "user-1").
		Return(nil, errors.New("dial tcp: connection refused"))

	svc := newTestService(repo, up, nil, "wf_default")

	_, err := svc.CreateOrResumeSession(context.Background(), testIdentity(), nil)

	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusInternalServerError, sessionErr.Status)
	assert.Equal(t, "Unexpected error", sessionErr.Message)
}

func TestResolveWorkflowID_Precedence(t *testing.T) {
	bots := []domain.Chatbot{
		{ID: "support", Name: "Support", WorkflowID: "wf_support"},
		{ID: "plain", Name: "Plain"},
	}
	svc := newTestService(new(mockSessionRepo), new(mockUpstream), bots, "wf_default")

	tests := []struct {
		name      string
		req       *api.CreateSessionRequest
		chatbotID string
		want      string
	}{
		{
			name:      "nested workflow object wins",
			req:       &api.CreateSessionRequest{Workflow: &api.WorkflowRef{ID: "wf_nested"}, WorkflowID: "wf_flat"},
			chatbotID: "support",
			want:      "wf_nested",
		},
		{
			name:      "flat field beats catalog",
			req:       &api.CreateSessionRequest{WorkflowID: "wf_flat"},
			chatbotID: "support",
			want:      "wf_flat",
		},
		{
			name:      "catalog override beats default",
			req:       &api.CreateSessionRequest{},
			chatbotID: "support",
			want:      "wf_support",
		},
		{
			name:      "server default when chatbot has no override",
			req:       &api.CreateSessionRequest{},
			chatbotID: "plain",
			want:      "wf_default",
		},
		{
			name:      "nil request falls through to default",
			req:       nil,
			chatbotID: "unknown",
			want:      "wf_default",
		},
		{
			name:      "empty nested id is ignored",
			req:       &api.CreateSessionRequest{Workflow: &api.WorkflowRef{}},
			chatbotID: "plain",
			want:      "wf_default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.ResolveWorkflowID(tt.req, tt.chatbotID))
		})
	}
}

func TestListSessions(t *testing.T) {
	repo := new(mockSessionRepo)
	up := new(mockUpstream)
	sessions := []*domain.ChatSession{
		{ID: "s2", UserID: "user-1"},
		{ID: "s1", UserID: "user-1"},
	}
	repo.On("ListSessionsByUser", mock.Anything, "user-1", domain.SessionFilter{ChatbotID: "support"}).
		Return(sessions, nil)

	svc := newTestService(repo, up, nil, "wf_default")

	got, err := svc.ListSessions(context.Background(), testIdentity(), domain.SessionFilter{ChatbotID: "support"})
	require.NoError(t, err)
	assert.Equal(t, sessions, got)

	_, err = svc.ListSessions(context.Background(), nil, domain.SessionFilter{})
	var sessionErr *ckerrors.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, http.StatusUnauthorized, sessionErr.Status)
}
