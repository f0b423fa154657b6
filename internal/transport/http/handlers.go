// Copyright 2026 The GridPanel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gridpanel/gridpanel/internal/audit"
	"github.com/gridpanel/gridpanel/internal/authz"
	"github.com/gridpanel/gridpanel/internal/identity"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/observability/metrics"
	"github.com/gridpanel/gridpanel/internal/ratelimit"
	"github.com/gridpanel/gridpanel/internal/rbac"
	"github.com/gridpanel/gridpanel/internal/session"
)

// Authenticator verifies credentials and records logouts.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string, src identity.Source) (*identity.Identity, error)
	Logout(ctx context.Context, ident *identity.Identity, src identity.Source)
}

// SessionManager issues and revokes session tokens.
type SessionManager interface {
	Issue(ctx context.Context, ident *identity.Identity, src identity.Source) (*session.Session, error)
	ValidateToken(ctx context.Context, token string) (*identity.Identity, error)
	Revoke(ctx context.Context, token string) error
}

// RateLimitAdmin is the administrative view of the login limiter.
type RateLimitAdmin interface {
	Stats() ratelimit.Stats
	Reset(identifier, address string)
	ResetAll()
}

// AuditLister reads back persisted audit events, newest first.
type AuditLister interface {
	List(ctx context.Context, limit int) ([]audit.Event, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps groups the collaborators of Handler. AuditLog and Health are optional.
type Deps struct {
	Identity   Authenticator
	Sessions   SessionManager
	Authorizer *authz.Authorizer
	Limiter    RateLimitAdmin
	Audit      audit.Recorder
	AuditLog   AuditLister
	Health     HealthChecker
	Metrics    *metrics.AuthInstruments
	Logger     *slog.Logger
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identity      Authenticator
	sessions      SessionManager
	authorizer    *authz.Authorizer
	limiter       RateLimitAdmin
	audit         audit.Recorder
	auditLog      AuditLister
	health        HealthChecker
	metrics       *metrics.AuthInstruments
	logger        *slog.Logger
	validate      *validator.Validate
	sessionConfig SessionConfig
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
	Lifetime       time.Duration
}

// RouterConfig holds transport-level settings.
type RouterConfig struct {
	// TrustProxy makes the client address come from X-Forwarded-For / X-Real-IP.
	TrustProxy     bool
	HSTS           bool
	RequestTimeout time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps, sessionConfig SessionConfig) *Handler {
	if deps.Audit == nil {
		deps.Audit = audit.NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if sessionConfig.CookieName == "" {
		sessionConfig.CookieName = "gridpanel_session"
	}
	if sessionConfig.CookiePath == "" {
		sessionConfig.CookiePath = "/"
	}
	return &Handler{
		identity:      deps.Identity,
		sessions:      deps.Sessions,
		authorizer:    deps.Authorizer,
		limiter:       deps.Limiter,
		audit:         deps.Audit,
		auditLog:      deps.AuditLog,
		health:        deps.Health,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With(logger.Component("http")),
		validate:      validator.New(),
		sessionConfig: sessionConfig,
	}
}

// NewRouter creates a new HTTP router. Every request passes the authorization
// middleware before reaching a handler.
func NewRouter(h *Handler, rateLimiter *RateLimiter, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware(h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(SecureHeadersMiddleware(cfg.HSTS))
	r.Use(h.AuthorizationMiddleware)
	r.Use(h.CSRFMiddleware)

	r.Get("/api/health", h.HealthCheck)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.GetCurrentUser)
	})

	r.Route("/api/reports", func(r chi.Router) {
		r.Get("/", h.ListReports)
		r.Post("/generate", h.GenerateReport)
	})

	r.Route("/api/admin/rate-limits", func(r chi.Router) {
		r.Get("/", h.RateLimitStats)
		r.Delete("/", h.ResetAllRateLimits)
		r.Delete("/entry", h.ResetRateLimit)
	})

	r.Get("/api/audit", h.ListAuditEvents)

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "health check failed", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "gridpanel",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gridpanel",
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// Login verifies credentials and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	src := sourceFromRequest(r)
	ident, err := h.identity.Authenticate(r.Context(), req.Email, req.Password, src)
	if err != nil {
		var limited *identity.RateLimitedError
		switch {
		case errors.As(err, &limited):
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
			respondError(w, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.logger.ErrorContext(r.Context(), "login failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "authentication unavailable")
		}
		return
	}

	sess, err := h.sessions.Issue(r.Context(), ident, src)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.Token, sess.ExpiresAt)

	respondJSON(w, http.StatusOK, map[string]any{
		"user":        ident,
		"permissions": h.authorizer.Permissions(ident.Role),
		"expires_at":  sess.ExpiresAt,
	})
}

// Logout revokes the current session token and clears the cookie. It always
// succeeds so that a stale cookie can be dropped.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := h.tokenFromRequest(r)
	if token != "" {
		if ident, err := h.sessions.ValidateToken(r.Context(), token); err == nil {
			h.identity.Logout(r.Context(), ident, sourceFromRequest(r))
		}
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			h.logger.DebugContext(r.Context(), "logout with unusable token", logger.Error(err))
		}
	}

	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the authenticated identity and its permissions.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	ident := authz.IdentityFromContext(r.Context())
	if ident == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":        ident,
		"permissions": h.authorizer.Permissions(ident.Role),
	})
}

// Report is a dashboard report descriptor.
type Report struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

var reports = []Report{
	{ID: "daily-output", Title: "Daily power output"},
	{ID: "unit-availability", Title: "Power unit availability"},
	{ID: "fault-summary", Title: "Fault summary"},
}

// ListReports returns the report catalogue.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, rbac.PermReportsView) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// GenerateReportRequest selects a report to generate.
type GenerateReportRequest struct {
	ReportID string `json:"report_id" validate:"required,oneof=daily-output unit-availability fault-summary"`
}

// GenerateReport queues a report generation job.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, rbac.PermReportsGenerate) {
		return
	}

	var req GenerateReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":    uuid.NewString(),
		"report_id": req.ReportID,
		"status":    "queued",
	})
}

// RateLimitStats returns a snapshot of the login limiter.
func (h *Handler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, rbac.PermRateLimitsManage) {
		return
	}
	respondJSON(w, http.StatusOK, h.limiter.Stats())
}

// ResetAllRateLimits clears every limiter entry.
func (h *Handler) ResetAllRateLimits(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, rbac.PermRateLimitsManage) {
		return
	}

	h.limiter.ResetAll()
	h.recordReset(r, map[string]any{"scope": "all"})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "rate limits reset",
	})
}

// ResetRateLimitRequest names a single limiter entry.
type ResetRateLimitRequest struct {
	Identifier string `validate:"required,max=254"`
	Address    string `validate:"required,ip"`
}

// ResetRateLimit clears the entry named by the identifier and address query parameters.
func (h *Handler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, rbac.PermRateLimitsManage) {
		return
	}

	req := ResetRateLimitRequest{
		Identifier: identity.NormalizeEmail(r.URL.Query().Get("identifier")),
		Address:    r.URL.Query().Get("address"),
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	h.limiter.Reset(req.Identifier, req.Address)
	h.recordReset(r, map[string]any{
		"scope":      "entry",
		"identifier": req.Identifier,
		"ip_address": req.Address,
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "rate limit entry reset",
	})
}

// ListAuditEvents returns the most recent persisted audit events.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, rbac.PermAuditView) {
		return
	}
	if h.auditLog == nil {
		respondError(w, http.StatusNotFound, "audit persistence is disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.auditLog.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list audit events", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// requirePermission re-checks the fine-grained permission behind a route.
func (h *Handler) requirePermission(w http.ResponseWriter, r *http.Request, permission string) bool {
	ident := authz.IdentityFromContext(r.Context())
	if ident == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return false
	}
	if !h.authorizer.HasPermission(ident.Role, permission) {
		respondJSON(w, http.StatusForbidden, map[string]string{
			"error":  "forbidden",
			"reason": authz.ReasonInsufficientPermissions,
		})
		return false
	}
	return true
}

func (h *Handler) recordReset(r *http.Request, detail map[string]any) {
	src := sourceFromRequest(r)
	event := audit.Event{
		Action:        audit.ActionRateLimitReset,
		Resource:      "rate_limits",
		Detail:        detail,
		SourceAddress: src.IPAddress,
		UserAgent:     src.UserAgent,
	}
	if ident := authz.IdentityFromContext(r.Context()); ident != nil {
		event.ActorID = ident.ID
	}
	h.audit.Record(r.Context(), event)
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    token,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		Expires:  expiresAt,
		MaxAge:   int(h.sessionConfig.Lifetime.Seconds()),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    "",
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// tokenFromRequest prefers the session cookie and falls back to a bearer token.
func (h *Handler) tokenFromRequest(r *http.Request) string {
	if token := h.getSessionFromCookie(r); token != "" {
		return token
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func respondValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}

// getIPAddress returns the client address. Forwarding headers are honoured
// only when middleware.RealIP has already rewritten RemoteAddr.
func getIPAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sourceFromRequest(r *http.Request) identity.Source {
	return identity.Source{
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
