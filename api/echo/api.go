//nolint:varnamelen
package echo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	chatkit "go.pilab.hu/chatkit"
	sessionapi "go.pilab.hu/chatkit/api"
	"go.pilab.hu/chatkit/domain"
	ckerrors "go.pilab.hu/chatkit/errors"
)

// ChatKitAPI holds the HTTP handler dependencies.
type ChatKitAPI struct {
	service *chatkit.SessionService
	pinger  func(ctx echo.Context) error
}

// NewChatKitAPI initializes the gateway API. pinger backs the health
// endpoint and may be nil.
func NewChatKitAPI(service *chatkit.SessionService, pinger func(c echo.Context) error) *ChatKitAPI {
	return &ChatKitAPI{
		service: service,
		pinger:  pinger,
	}
}

// RegisterRoutes registers the gateway routes. authn guards everything
// under /api; the method-not-allowed rejections bypass it deliberately so
// a bad verb fails fast without touching auth, upstream or storage.
func (a *ChatKitAPI) RegisterRoutes(e *echo.Echo, authn echo.MiddlewareFunc) {
	e.POST("/api/chatkit/session", a.CreateSessionHandler, authn)
	e.Match([]string{
		http.MethodGet,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodHead,
	}, "/api/chatkit/session", a.MethodNotAllowedHandler)

	e.GET("/api/chatkit/sessions", a.ListSessionsHandler, authn)
	e.GET("/api/chatbots", a.ListChatbotsHandler, authn)

	e.GET("/healthz", a.HealthHandler)
}

// CreateSessionHandler handles the session bootstrap operation. The body
// is optional and parsed permissively: absent or malformed JSON counts as
// an empty request rather than a failure.
func (a *ChatKitAPI) CreateSessionHandler(c echo.Context) error {
	identity, ok := domain.IdentityFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, ckerrors.NewUnauthorized())
	}

	req := &sessionapi.CreateSessionRequest{}
	if body, err := io.ReadAll(c.Request().Body); err == nil && len(body) > 0 {
		if unmarshalErr := json.Unmarshal(body, req); unmarshalErr != nil {
			log.Debug().Err(unmarshalErr).Msg("ignoring unparsable session request body")
			req = &sessionapi.CreateSessionRequest{}
		}
	}

	resp, err := a.service.CreateOrResumeSession(c.Request().Context(), identity, req)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// MethodNotAllowedHandler rejects any verb other than POST on the
// bootstrap endpoint.
func (a *ChatKitAPI) MethodNotAllowedHandler(c echo.Context) error {
	methodErr := ckerrors.NewMethodNotAllowed()
	return c.JSON(methodErr.Status, methodErr)
}

// ListSessionsHandler returns the caller's sessions, newest first.
func (a *ChatKitAPI) ListSessionsHandler(c echo.Context) error {
	identity, ok := domain.IdentityFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, ckerrors.NewUnauthorized())
	}

	filter := domain.SessionFilter{ChatbotID: c.QueryParam("chatbot_id")}
	sessions, err := a.service.ListSessions(c.Request().Context(), identity, filter)
	if err != nil {
		return a.writeError(c, err)
	}

	resp := sessionapi.SessionListResponse{Sessions: make([]sessionapi.SessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, sessionapi.SessionSummary{
			ID:             s.ID,
			ChatbotID:      s.ChatbotID,
			CreatedAt:      s.CreatedAt,
			LastAccessedAt: s.LastAccessedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// ListChatbotsHandler returns the static chatbot catalog.
func (a *ChatKitAPI) ListChatbotsHandler(c echo.Context) error {
	if _, ok := domain.IdentityFromContext(c.Request().Context()); !ok {
		return c.JSON(http.StatusUnauthorized, ckerrors.NewUnauthorized())
	}
	return c.JSON(http.StatusOK, map[string]any{"chatbots": a.service.Chatbots()})
}

// HealthHandler reports storage reachability.
func (a *ChatKitAPI) HealthHandler(c echo.Context) error {
	if a.pinger != nil {
		if err := a.pinger(c); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps service failures onto the wire error contract.
func (a *ChatKitAPI) writeError(c echo.Context, err error) error {
	var sessionErr *ckerrors.SessionError
	if errors.As(err, &sessionErr) {
		return c.JSON(sessionErr.Status, sessionErr)
	}
	log.Error().Err(err).Msg("unclassified handler error")
	return c.JSON(http.StatusInternalServerError, ckerrors.NewUnexpected())
}
