package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatkit "go.pilab.hu/chatkit"
	"go.pilab.hu/chatkit/domain"
	"go.pilab.hu/chatkit/log"
	"go.pilab.hu/chatkit/upstream"
)

type stubRepo struct {
	created []*domain.ChatSession
	touched []string
}

func (r *stubRepo) CreateSession(_ context.Context, session *domain.ChatSession) error {
	session.ID = "sess-1"
	r.created = append(r.created, session)
	return nil
}

func (r *stubRepo) GetSessionByID(_ context.Context, id string) (*domain.ChatSession, error) {
	return nil, domain.ErrSessionNotFound
}

func (r *stubRepo) TouchSession(_ context.Context, id, chatkitSessionID string, _ time.Time) (*domain.ChatSession, error) {
	r.touched = append(r.touched, id)
	return &domain.ChatSession{ID: id, UserID: "user-1", ChatkitSessionID: chatkitSessionID}, nil
}

func (r *stubRepo) ListSessionsByUser(_ context.Context, userID string, _ domain.SessionFilter) ([]*domain.ChatSession, error) {
	now := time.Now().UTC()
	return []*domain.ChatSession{
		{ID: "s2", UserID: userID, ChatbotID: "default", CreatedAt: now, LastAccessedAt: now},
		{ID: "s1", UserID: userID, ChatbotID: "default", CreatedAt: now.Add(-time.Hour), LastAccessedAt: now.Add(-time.Hour)},
	}, nil
}

type stubUpstream struct {
	configured bool
	err        error
}

func (u *stubUpstream) Configured() bool { return u.configured }

func (u *stubUpstream) CreateSession(context.Context, string, string) (*upstream.Session, error) {
	if u.err != nil {
		return nil, u.err
	}
	id := "cks_abc"
	secret := "cs_1"
	expires := int64(3600)
	return &upstream.Session{ID: &id, ClientSecret: &secret, ExpiresAfter: &expires}, nil
}

// testAuthn injects a fixed identity when the request carries the
// expected bearer token, and passes through unauthenticated otherwise.
func testAuthn(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") == "Bearer good" {
			ctx := domain.WithIdentity(c.Request().Context(), &domain.Identity{ID: "user-1"})
			c.SetRequest(c.Request().WithContext(ctx))
		}
		return next(c)
	}
}

func newTestServer(t *testing.T, up *stubUpstream) (*echo.Echo, *stubRepo) {
	t.Helper()
	repo := &stubRepo{}
	svc := chatkit.NewSessionService(
		repo,
		up,
		domain.NewChatbotDirectory([]domain.Chatbot{
			{ID: "default", Name: "Assistant"},
			{ID: "support", Name: "Support", WorkflowID: "wf_support"},
		}),
		"wf_default",
		log.NewZerologAdapter(zerolog.Disabled, false),
	)

	e := echo.New()
	api := NewChatKitAPI(svc, nil)
	api.RegisterRoutes(e, testAuthn)
	return e, repo
}

func doRequest(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionHandler_Unauthenticated(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodPost, "/api/chatkit/session", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestCreateSessionHandler_Success(t *testing.T) {
	e, repo := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodPost, "/api/chatkit/session", "good", `{"workflowId":"wf_custom"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cs_1", resp["client_secret"])
	assert.Equal(t, float64(3600), resp["expires_after"])
	assert.Equal(t, "sess-1", resp["chat_session_id"])

	require.Len(t, repo.created, 1)
	assert.Equal(t, "user-1", repo.created[0].UserID)
}

func TestCreateSessionHandler_MalformedBodyIsIgnored(t *testing.T) {
	e, repo := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodPost, "/api/chatkit/session", "good", `{not json`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.created, 1)
	assert.Equal(t, domain.DefaultChatbotID, repo.created[0].ChatbotID)
}

func TestCreateSessionHandler_ResumesNamedSession(t *testing.T) {
	e, repo := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodPost, "/api/chatkit/session", "good", `{"chatSessionId":"existing-9"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"existing-9"}, repo.touched)
	assert.Empty(t, repo.created)
}

func TestCreateSessionHandler_MissingAPIKey(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: false})

	rec := doRequest(e, http.MethodPost, "/api/chatkit/session", "good", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Missing OPENAI_API_KEY environment variable"}`, rec.Body.String())
}

func TestCreateSessionHandler_UpstreamErrorMirrored(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: true, err: &upstream.Error{
		Status:  http.StatusTooManyRequests,
		Message: "rate limited",
		Payload: map[string]any{"error": "rate limited"},
	}})

	rec := doRequest(e, http.MethodPost, "/api/chatkit/session", "good", "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate limited","details":{"error":"rate limited"}}`, rec.Body.String())
}

func TestSessionEndpoint_MethodNotAllowed(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: true})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rec := doRequest(e, method, "/api/chatkit/session", "", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.JSONEq(t, `{"error":"Method Not Allowed"}`, rec.Body.String(), method)
	}
}

func TestListSessionsHandler(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodGet, "/api/chatkit/sessions", "good", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["sessions"], 2)
	assert.Equal(t, "s2", resp["sessions"][0]["id"])

	rec = doRequest(e, http.MethodGet, "/api/chatkit/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListChatbotsHandler(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodGet, "/api/chatbots", "good", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["chatbots"], 2)
	assert.Equal(t, "default", resp["chatbots"][0]["id"])
	assert.Equal(t, "wf_support", resp["chatbots"][1]["workflow_id"])
}

func TestHealthHandler(t *testing.T) {
	e, _ := newTestServer(t, &stubUpstream{configured: true})

	rec := doRequest(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
