package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	ServiceName = "oauth-relay"
	Version     = "1.0.0"

	// maxTokenLength bounds client-chosen session tokens. Tokens are opaque;
	// the bound only keeps the store from holding attacker-sized keys.
	maxTokenLength = 128

	writeTimeout = 5 * time.Second
)

type Option func(*Server) error

// Server relays a single OAuth authorization code from the provider's
// redirect to the waiting client, over websocket push or HTTP polling.
type Server struct {
	store          Store
	fanout         *Fanout
	policy         *OriginPolicy
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		s.store = NewMemoryStore(DefaultSessionTTL)
	}
	if s.fanout == nil {
		s.fanout = NewFanout()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	return s, nil
}

func WithStore(store Store) Option {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

func WithFanout(fanout *Fanout) Option {
	return func(s *Server) error {
		s.fanout = fanout
		return nil
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) error {
		s.store = NewMemoryStore(ttl)
		return nil
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) error {
		s.allowedOrigins = origins
		return nil
	}
}

func WithOriginPolicy(policy *OriginPolicy) Option {
	return func(s *Server) error {
		s.policy = policy
		s.allowedOrigins = policy.AllowedOrigins()
		for _, origin := range policy.Origins {
			slog.Info("Allowing client origin", "origin", origin)
		}
		return nil
	}
}

// Store exposes the session store, mainly so the binary can hand it to the
// sweeper and the metrics registration.
func (s *Server) Store() Store {
	return s.store
}

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("Error", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

// MountRoutes wires the relay endpoints onto e.
func (s *Server) MountRoutes(e *echo.Echo) {
	e.Renderer = NewTemplate()
	e.Validator = &CustomValidator{validator: validator.New()}
	e.Use(
		middleware.Recover(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.allowedOrigins,
		}),
		ErrorLogMiddleware,
	)

	e.GET("/", s.Index)
	e.GET("/health", s.Health)
	e.GET("/callback", s.Callback)
	e.GET("/poll/:token", s.Poll)
	e.GET("/ws/:token", s.Push)
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if s.policy != nil {
		return s.policy.Allowed(origin)
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) Index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service":     ServiceName,
		"version":     Version,
		"description": "Privacy-focused OAuth callback relay",
		"health":      "/health",
	})
}

// Health is a liveness probe. Deliberately constant-time: it must not touch
// the session store.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

type callbackRequest struct {
	Session          string `query:"session" validate:"required,max=128"`
	Code             string `query:"code" validate:"omitempty,max=2048"`
	Error            string `query:"error" validate:"omitempty,max=256"`
	ErrorDescription string `query:"error_description" validate:"omitempty,max=1024"`
	State            string `query:"state" validate:"omitempty,max=512"`
}

// Callback receives the provider's redirect. With a code or error parameter
// it deposits the terminal result; with neither it is the client's own
// registration ping for the token. Deposits never create sessions: a
// callback for an unregistered token is dropped, so nobody can pre-seed a
// session the legitimate client has not opened yet.
func (s *Server) Callback(c echo.Context) error {
	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return c.Render(http.StatusBadRequest, pageGone, nil)
	}
	if err := c.Validate(&req); err != nil {
		callbacksTotal.WithLabelValues("invalid").Inc()
		return c.Render(http.StatusBadRequest, pageGone, nil)
	}

	switch {
	case req.Code != "":
		return s.deposit(c, req.Session, Complete(req.Code))
	case req.Error != "":
		description := req.ErrorDescription
		if description == "" {
			description = req.Error
		}
		return s.deposit(c, req.Session, Failed(description))
	default:
		// Registration ping from the local app.
		created := s.store.Register(req.Session)
		callbacksTotal.WithLabelValues("registered").Inc()
		slog.Debug("session registered", "token", req.Session, "created", created)
		return c.Render(http.StatusOK, pageRegistered, nil)
	}
}

func (s *Server) deposit(c echo.Context, token string, result Result) error {
	err := s.store.Deposit(token, result)
	switch {
	case err == nil:
		s.fanout.Notify(token)
		if result.Status == StatusFailed {
			callbacksTotal.WithLabelValues("failed").Inc()
			slog.Info("provider returned an error", "token", token)
			return c.Render(http.StatusBadRequest, pageFailed, map[string]string{
				"Error": result.ErrorDescription,
			})
		}
		callbacksTotal.WithLabelValues("fulfilled").Inc()
		slog.Info("authorization code deposited", "token", token)
		return c.Render(http.StatusOK, pageSuccess, nil)

	case errors.Is(err, ErrAlreadyFulfilled):
		// Duplicate callback, e.g. a browser reload or a provider replay.
		// Respond success-shaped so a replay learns nothing; nothing was
		// mutated.
		callbacksTotal.WithLabelValues("duplicate").Inc()
		slog.Warn("duplicate callback ignored", "token", token)
		return c.Render(http.StatusOK, pageSuccess, nil)

	default:
		// Unknown, expired and consumed tokens all look the same.
		callbacksTotal.WithLabelValues("unknown").Inc()
		slog.Info("callback for unknown session dropped", "token", token)
		return c.Render(http.StatusNotFound, pageGone, nil)
	}
}

// Poll is the pull fallback. A terminal result is consumed on the spot, so a
// single successful poll response is final and the session is gone afterwards.
func (s *Server) Poll(c echo.Context) error {
	token := c.Param("token")
	if err := validateToken(token); err != nil {
		return c.JSON(http.StatusNotFound, Result{Status: StatusNotFound})
	}

	result, err := s.store.Consume(token)
	switch {
	case err == nil:
		deliveriesTotal.WithLabelValues("poll").Inc()
		slog.Info("result delivered", "token", token, "transport", "poll")
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, ErrSessionPending):
		return c.JSON(http.StatusOK, Result{Status: StatusPending})
	default:
		return c.JSON(http.StatusNotFound, Result{Status: StatusNotFound})
	}
}

// Push upgrades the connection and delivers the result the moment it is
// deposited. The server sends exactly one JSON message with the poll status
// vocabulary and closes; client messages are not processed.
func (s *Server) Push(c echo.Context) error {
	token := c.Param("token")
	if err := validateToken(token); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session token")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	wsConnectionsActive.Inc()
	defer wsConnectionsActive.Dec()

	// Connecting is registering: the push connection is the client's
	// statement of interest in the token.
	s.store.Register(token)

	signal, cancel := s.fanout.Subscribe(token)
	defer cancel()

	// The result may already be there, e.g. on a reconnect after the
	// callback arrived.
	if result, err := s.store.Consume(token); err == nil {
		s.deliver(conn, token, result)
		return nil
	} else if errors.Is(err, ErrSessionNotFound) {
		s.writeResult(conn, Result{Status: StatusNotFound})
		return nil
	}

	deadline, err := s.store.Deadline(token)
	if err != nil {
		s.writeResult(conn, Result{Status: StatusNotFound})
		return nil
	}
	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()

	// Reader goroutine: its only job is noticing the client going away
	// (and servicing control frames on the way).
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case _, ok := <-signal:
		if !ok {
			// Replaced by a newer subscription for the same token; that
			// connection owns the session now.
			return nil
		}
		result, err := s.store.Consume(token)
		if err != nil {
			s.writeResult(conn, Result{Status: StatusNotFound})
			return nil
		}
		s.deliver(conn, token, result)
	case <-expiry.C:
		// Session TTL lapsed while waiting.
		s.writeResult(conn, Result{Status: StatusNotFound})
	case <-disconnected:
		// Client went away; if still pending, the session is left for the
		// sweeper or a later poll.
	}
	return nil
}

func (s *Server) deliver(conn *websocket.Conn, token string, result Result) {
	deliveriesTotal.WithLabelValues("websocket").Inc()
	slog.Info("result delivered", "token", token, "transport", "websocket")
	s.writeResult(conn, result)
}

func (s *Server) writeResult(conn *websocket.Conn, result Result) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(result); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func validateToken(token string) error {
	if token == "" || len(token) > maxTokenLength {
		return ErrInvalidToken
	}
	return nil
}
