// Package httpserver is a local stand-in for the remote login, catalog and
// purchase endpoints. It speaks the same wire format, double-encoded bodies
// included, so the client can be exercised end to end.
package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"learnmusic/courseclient/internal/audit"
	"learnmusic/courseclient/internal/config"
	"learnmusic/courseclient/internal/credential"
	"learnmusic/courseclient/internal/observability"
)

const tokenTTL = time.Hour

type Deps struct {
	Users         map[string]string
	SigningSecret string
	AuthHeader    string
	Ledger        *Ledger
	Audit         audit.Recorder
	Logger        *zap.Logger
}

type Server struct {
	echo *echo.Echo
	addr string
}

func New(cfg config.StubConfig, authHeader string, deps Deps) *Server {
	if deps.Users == nil {
		deps.Users = cfg.Users
	}
	if deps.SigningSecret == "" {
		deps.SigningSecret = cfg.SigningSecret
	}
	if deps.AuthHeader == "" {
		deps.AuthHeader = authHeader
	}
	return &Server{echo: NewHandler(deps), addr: cfg.Addr}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type handlers struct {
	deps Deps
	log  *zap.Logger
}

func NewHandler(deps Deps) *echo.Echo {
	if deps.Ledger == nil {
		deps.Ledger = NewLedger(DefaultCourses())
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.AuthHeader == "" {
		deps.AuthHeader = "auth-token"
	}
	h := &handlers{deps: deps, log: observability.OrNop(deps.Logger).Named("stub")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(h.logRequests)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.POST("/login", h.login)
	e.GET("/courses", h.courses)
	e.POST("/purchase", h.purchase)
	e.GET("/welcome", h.welcome)
	return e
}

func (h *handlers) login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}

	want, ok := h.deps.Users[req.Email]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(req.Password)) != 1 {
		h.audit(c, req.Email, "auth.login", "", audit.OutcomeFailed, "invalid credentials")
		return writeError(c, http.StatusUnauthorized, "Incorrect username or password.")
	}

	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, credential.Claims{
		Email: req.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}).SignedString([]byte(h.deps.SigningSecret))
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "token issue failed")
	}
	h.audit(c, req.Email, "auth.login", "", audit.OutcomeSuccess, "")

	resp := map[string]any{"val": map[string]any{"idToken": map[string]any{"jwtToken": token}}}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) courses(c echo.Context) error {
	body, err := json.Marshal(h.deps.Ledger.Courses())
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "encode courses failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"statusCode": http.StatusOK, "body": string(body)})
}

func (h *handlers) purchase(c echo.Context) error {
	email, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}

	var envelope struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&envelope); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request envelope")
	}
	var req struct {
		Email      string `json:"email"`
		CourseName string `json:"courseName"`
	}
	if err := json.Unmarshal([]byte(envelope.Body), &req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Email != email {
		h.audit(c, email, "course.buy", req.CourseName, audit.OutcomeFailed, "email does not match token")
		return writeError(c, http.StatusForbidden, "email does not match token")
	}
	if err := h.deps.Ledger.Buy(email, req.CourseName); err != nil {
		h.audit(c, email, "course.buy", req.CourseName, audit.OutcomeFailed, err.Error())
		return writeError(c, http.StatusNotFound, err.Error())
	}
	h.audit(c, email, "course.buy", req.CourseName, audit.OutcomeSuccess, "")

	return c.JSON(http.StatusOK, map[string]any{
		"statusCode": http.StatusOK,
		"body":       fmt.Sprintf("%q", "Course purchased successfully"),
	})
}

func (h *handlers) welcome(c echo.Context) error {
	email, ok := h.requireIdentity(c)
	if !ok {
		return nil
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Welcome back, " + email})
}

// requireIdentity verifies the token header and writes the error response
// itself when verification fails.
func (h *handlers) requireIdentity(c echo.Context) (string, bool) {
	raw := strings.TrimSpace(c.Request().Header.Get(h.deps.AuthHeader))
	if raw == "" {
		_ = writeError(c, http.StatusUnauthorized, "missing token")
		return "", false
	}

	var claims credential.Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(h.deps.SigningSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Email == "" {
		_ = writeError(c, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return claims.Email, true
}

func (h *handlers) audit(c echo.Context, actor, action, target, outcome, detail string) {
	rid := c.Response().Header().Get(echo.HeaderXRequestID)
	if rid != "" {
		if detail != "" {
			detail = "rid=" + rid + " | " + detail
		} else {
			detail = "rid=" + rid
		}
	}
	if err := h.deps.Audit.Record(audit.Event{
		Actor:   actor,
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
	}); err != nil {
		h.log.Warn("audit write failed", zap.Error(err))
	}
}

func (h *handlers) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		h.log.Info("request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"message": message})
}
