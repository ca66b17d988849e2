// Package api exposes the HTTP surface used by the web front end.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/loqalabs/loqa-oralhistory/internal/auth"
	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"github.com/loqalabs/loqa-oralhistory/internal/credentials"
	"github.com/loqalabs/loqa-oralhistory/internal/eventstore"
	"github.com/loqalabs/loqa-oralhistory/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Users is the credential store as seen by the handlers.
type Users interface {
	Verify(ctx context.Context, username, password string) (credentials.Identity, error)
	List(ctx context.Context) ([]credentials.User, error)
	Create(ctx context.Context, username, password, displayName, role string) error
	Delete(ctx context.Context, username string) error
}

// Transcriber runs a transcription job.
type Transcriber interface {
	Run(ctx context.Context, sub pipeline.Submission) (pipeline.Result, error)
}

// Audit reads and writes the event timeline.
type Audit interface {
	Append(ctx context.Context, evt eventstore.Event) error
	ListRecent(ctx context.Context, limit int) ([]eventstore.Event, error)
}

// Deps are the long-lived services the handlers share. Audit and Ready are
// optional.
type Deps struct {
	Config      config.HTTPConfig
	Users       Users
	Transcriber Transcriber
	Audit       Audit
	Tokens      *auth.Issuer
	Ready       func() bool
	Logger      *slog.Logger
}

type Server struct {
	cfg          config.HTTPConfig
	users        Users
	transcriber  Transcriber
	audit        Audit
	tokens       *auth.Issuer
	ready        func() bool
	log          *slog.Logger
	authAttempts metric.Int64Counter
}

func New(deps Deps) (*Server, error) {
	if deps.Users == nil || deps.Transcriber == nil || deps.Tokens == nil {
		return nil, errors.New("api requires users, transcriber and token issuer")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ready == nil {
		deps.Ready = func() bool { return true }
	}
	s := &Server{
		cfg:         deps.Config,
		users:       deps.Users,
		transcriber: deps.Transcriber,
		audit:       deps.Audit,
		tokens:      deps.Tokens,
		ready:       deps.Ready,
		log:         deps.Logger.With(slog.String("component", "api")),
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-oralhistory/api").Int64Counter("loqa.auth.attempts",
		metric.WithDescription("Login attempts by outcome"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	} else {
		s.authAttempts = counter
	}
	return s, nil
}

// Handler builds the echo router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.corsOrigins(),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	if s.cfg.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", s.cfg.MaxUploadMB)))
	}
	if dir := s.cfg.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
				Root:  dir,
				HTML5: true,
				Skipper: func(c echo.Context) bool {
					return strings.HasPrefix(c.Request().URL.Path, "/api/")
				},
			}))
		} else {
			s.log.Info("static directory not found, front end disabled", slog.String("dir", dir))
		}
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)

	admin := s.tokens.Middleware(true)
	member := s.tokens.Middleware(false)

	g := e.Group("/api")
	g.POST("/login", s.handleLogin)
	g.GET("/users", s.handleListUsers, admin)
	g.POST("/users", s.handleCreateUser, admin)
	g.DELETE("/users/:username", s.handleDeleteUser, admin)
	g.POST("/transcrever", s.handleTranscribe, member)
	g.GET("/events", s.handleEvents, admin)

	return e
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c echo.Context) error {
	if s.ready() {
		return c.String(http.StatusOK, "ready")
	}
	return c.String(http.StatusServiceUnavailable, "not ready")
}

// handleError renders every error as {"detail": message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprint(he.Message)
	} else {
		s.log.Error("unhandled error", slog.String("path", c.Request().URL.Path), slogError(err))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"detail": message})
	}
	if err != nil {
		s.log.Warn("failed to write error response", slogError(err))
	}
}

// record appends an audit event. Failures are logged and otherwise ignored.
func (s *Server) record(ctx context.Context, evt eventstore.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, evt); err != nil {
		s.log.Warn("failed to record audit event", slog.String("type", evt.Type), slogError(err))
	}
}

func actor(c echo.Context) string {
	if claims, ok := auth.FromContext(c); ok {
		return claims.Username
	}
	return ""
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
