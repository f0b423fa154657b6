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
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"

	"github.com/gridpanel/gridpanel/internal/authz"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/observability/metrics"
)

// UnauthorizedPath is where browsers are sent after a role check fails.
const UnauthorizedPath = "/unauthorized"

// LoggingMiddleware logs HTTP requests and tracks in-flight requests.
func LoggingMiddleware(inst *metrics.AuthInstruments) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			done := inst.TrackInFlight(r.Context())
			defer done()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(getIPAddress(r)),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SecureHeadersMiddleware sets the browser hardening headers.
func SecureHeadersMiddleware(hsts bool) func(http.Handler) http.Handler {
	opts := secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "camera=(), microphone=(), geolocation=()",
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'",
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}
	if hsts {
		opts.STSSeconds = 31536000
		opts.STSIncludeSubdomains = true
		// Local plain-HTTP development would otherwise never see the header.
		opts.ForceSTSHeader = true
	}
	return secure.New(opts).Handler
}

// AuthorizationMiddleware runs every request through the authorizer. Allowed
// requests carry the identity in their context. Browsers navigating to a page
// are redirected; API clients get a JSON error.
func (h *Handler) AuthorizationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.tokenFromRequest(r)
		decision := h.authorizer.AuthorizeRequest(r.Context(), r.URL.Path, token, sourceFromRequest(r))

		switch decision.Kind {
		case authz.KindAllow:
			ctx := r.Context()
			if decision.Identity != nil {
				ctx = authz.ContextWithIdentity(ctx, decision.Identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))

		case authz.KindUnauthenticated:
			if token != "" && h.getSessionFromCookie(r) != "" {
				h.clearSessionCookie(w)
			}
			if wantsPage(r) {
				http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
				return
			}
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error":    authz.ReasonUnauthorized,
				"redirect": decision.RedirectTo,
			})

		default:
			reason := authz.ReasonInsufficientPermissions
			var fe *authz.ForbiddenError
			if errors.As(decision.Reason, &fe) {
				reason = fe.Reason
			}
			if wantsPage(r) {
				http.Redirect(w, r, UnauthorizedPath+"?reason="+url.QueryEscape(reason), http.StatusFound)
				return
			}
			respondJSON(w, http.StatusForbidden, map[string]string{
				"error":  "forbidden",
				"reason": reason,
			})
		}
	})
}

// CSRFMiddleware protects cookie-authenticated state-changing requests.
// Browsers cannot attach the X-CSRF-Token header cross-site without a CORS
// preflight, so requiring it is enough. Bearer-token clients are exempt.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		if h.getSessionFromCookie(r) == "" || authz.IdentityFromContext(r.Context()) == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("X-CSRF-Token") == "" {
			h.logger.WarnContext(r.Context(), "missing CSRF token header",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
			)
			respondError(w, http.StatusForbidden, "X-CSRF-Token header is required for state-changing requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// wantsPage reports whether r is a browser page navigation rather than an API call.
func wantsPage(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
