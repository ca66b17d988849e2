package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/loqalabs/loqa-oralhistory/internal/credentials"
	"github.com/loqalabs/loqa-oralhistory/internal/document"
	"github.com/loqalabs/loqa-oralhistory/internal/eventstore"
	"github.com/loqalabs/loqa-oralhistory/internal/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultRole = "pesquisador"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status string `json:"status"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type transcribeResponse struct {
	PreviewText string `json:"preview_text"`
	FileName    string `json:"file_name"`
	FileBase64  string `json:"file_base64"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Requisição inválida")
	}
	ctx := c.Request().Context()

	id, err := s.users.Verify(ctx, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, credentials.ErrAuthentication) {
			return err
		}
		s.countAttempt(c, "failure")
		s.record(ctx, eventstore.Event{Actor: req.Username, Type: eventstore.TypeLoginFailed, Subject: req.Username})
		return echo.NewHTTPError(http.StatusUnauthorized, "Credenciais inválidas")
	}

	token, err := s.tokens.Issue(id.Username, id.Role, id.DisplayName)
	if err != nil {
		return err
	}
	s.countAttempt(c, "success")
	s.record(ctx, eventstore.Event{Actor: id.Username, Type: eventstore.TypeLoginSucceeded, Subject: id.Username})
	s.log.Info("login succeeded", slog.String("username", id.Username), slog.String("role", id.Role))

	return c.JSON(http.StatusOK, loginResponse{
		Status: "ok",
		Role:   id.Role,
		Name:   id.DisplayName,
		Token:  token,
	})
}

func (s *Server) countAttempt(c echo.Context, outcome string) {
	if s.authAttempts != nil {
		s.authAttempts.Add(c.Request().Context(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.users.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) handleCreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Requisição inválida")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Usuário e senha são obrigatórios")
	}
	if req.Role == "" {
		req.Role = defaultRole
	}

	ctx := c.Request().Context()
	if err := s.users.Create(ctx, req.Username, req.Password, req.Name, req.Role); err != nil {
		if errors.Is(err, credentials.ErrDuplicateUser) {
			return echo.NewHTTPError(http.StatusBadRequest, "Usuário já existe")
		}
		if errors.Is(err, credentials.ErrInvalidPassword) {
			return echo.NewHTTPError(http.StatusBadRequest, "A senha deve ter no máximo 72 bytes")
		}
		return err
	}
	s.record(ctx, eventstore.Event{Actor: actor(c), Type: eventstore.TypeUserCreated, Subject: req.Username})
	return c.JSON(http.StatusOK, map[string]string{"status": "created", "username": req.Username})
}

func (s *Server) handleDeleteUser(c echo.Context) error {
	username := c.Param("username")
	ctx := c.Request().Context()
	if err := s.users.Delete(ctx, username); err != nil {
		if errors.Is(err, credentials.ErrProtectedUser) {
			return echo.NewHTTPError(http.StatusBadRequest, "Não é possível remover o administrador principal")
		}
		return err
	}
	s.record(ctx, eventstore.Event{Actor: actor(c), Type: eventstore.TypeUserDeleted, Subject: username})
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleTranscribe(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Arquivo de áudio obrigatório")
	}
	audio, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Arquivo de áudio ilegível")
	}
	defer audio.Close()

	res, err := s.transcriber.Run(c.Request().Context(), pipeline.Submission{
		Filename: header.Filename,
		Audio:    audio,
		Metadata: formMetadata(c),
		Actor:    actor(c),
	})
	if err != nil {
		detail := err.Error()
		if errors.Is(err, pipeline.ErrConfiguration) {
			detail = "Template DOCX não encontrado no servidor."
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": detail})
	}

	return c.JSON(http.StatusOK, transcribeResponse{
		PreviewText: res.PreviewText,
		FileName:    res.FileName,
		FileBase64:  base64.StdEncoding.EncodeToString(res.Document),
	})
}

func formMetadata(c echo.Context) document.Metadata {
	return document.Metadata{
		Project:        c.FormValue("projeto"),
		Coordinator:    c.FormValue("coordenador"),
		Date:           c.FormValue("data"),
		Location:       c.FormValue("local"),
		Format:         c.FormValue("formato"),
		Interviewers:   c.FormValue("entrevistadores"),
		Others:         c.FormValue("outros"),
		Duration:       c.FormValue("duracao"),
		CollectedDocs:  c.FormValue("docs_coletados"),
		ReproducedDocs: c.FormValue("docs_reproduzidos"),
		Notes:          c.FormValue("obs"),
		Interviewee:    c.FormValue("entrevistado"),
		Summary:        c.FormValue("resumo"),
		Tags:           c.FormValue("tags"),
	}
}

func (s *Server) handleEvents(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit inválido")
		}
		limit = min(n, 1000)
	}
	if s.audit == nil {
		return c.JSON(http.StatusOK, []eventstore.Event{})
	}
	events, err := s.audit.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}
