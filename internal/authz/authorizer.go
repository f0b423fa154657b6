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

// Package authz decides whether a request may reach its route.
//
// AuthorizeRequest classifies the path, validates the session token for
// non-public routes and compares the caller's role with the route's
// requirement. It returns a Decision; transports translate it into a
// redirect, a 401 or a 403.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gridpanel/gridpanel/internal/audit"
	"github.com/gridpanel/gridpanel/internal/identity"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/observability/metrics"
	"github.com/gridpanel/gridpanel/internal/rbac"
)

// LoginPath is where unauthenticated browser requests are sent.
const LoginPath = "/login"

// TokenValidator resolves a session token to an identity. Implementations
// return an error for missing, expired or tampered tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*identity.Identity, error)
}

// DecisionKind classifies a Decision.
type DecisionKind int

const (
	KindAllow DecisionKind = iota
	KindUnauthenticated
	KindForbidden
)

func (k DecisionKind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decision is the outcome of AuthorizeRequest.
type Decision struct {
	Allow      bool
	Kind       DecisionKind
	Class      RouteClass
	Identity   *identity.Identity
	Reason     error
	RedirectTo string
}

// Authorizer runs the request authorization pipeline.
type Authorizer struct {
	rules     RouteRules
	validator TokenValidator
	engine    *rbac.Engine
	audit     audit.Recorder
	logger    *slog.Logger
	metrics   *metrics.AuthInstruments
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authorizer) {
		a.logger = l
	}
}

// WithMetrics counts decisions on inst.
func WithMetrics(inst *metrics.AuthInstruments) Option {
	return func(a *Authorizer) {
		a.metrics = inst
	}
}

// WithAudit sets the recorder for access-denied events.
func WithAudit(r audit.Recorder) Option {
	return func(a *Authorizer) {
		a.audit = r
	}
}

// NewAuthorizer validates rules and builds an Authorizer.
func NewAuthorizer(rules RouteRules, validator TokenValidator, engine *rbac.Engine, opts ...Option) (*Authorizer, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if validator == nil {
		return nil, fmt.Errorf("authz: token validator is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("authz: rbac engine is required")
	}

	a := &Authorizer{
		rules:     rules,
		validator: validator,
		engine:    engine,
		audit:     audit.NopRecorder{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("authz"))
	return a, nil
}

// Rules returns the route rules in effect.
func (a *Authorizer) Rules() RouteRules {
	return a.rules
}

// AuthorizeRequest decides whether a request for path carrying token may
// proceed.
func (a *Authorizer) AuthorizeRequest(ctx context.Context, path, token string, src identity.Source) Decision {
	d := a.decide(ctx, path, token, src)
	a.metrics.RecordDecision(ctx, d.Kind.String())
	return d
}

func (a *Authorizer) decide(ctx context.Context, path, token string, src identity.Source) Decision {
	class := a.rules.Classify(path)
	if class == RoutePublic {
		return Decision{Allow: true, Kind: KindAllow, Class: class}
	}

	if token == "" {
		return a.unauthenticated(path, class)
	}
	ident, err := a.validator.ValidateToken(ctx, token)
	if err != nil || ident == nil {
		a.logger.DebugContext(ctx, "session token rejected", logger.Path(path), logger.Error(err))
		return a.unauthenticated(path, class)
	}

	switch class {
	case RouteAdminOnly:
		if ident.Role != rbac.RoleAdmin {
			return a.forbidden(ctx, path, class, ident, src, ReasonUnauthorized)
		}
	case RouteOperatorOrAbove:
		if !rbac.HasRequiredRole(ident.Role, rbac.RoleOperator) {
			return a.forbidden(ctx, path, class, ident, src, ReasonInsufficientPermissions)
		}
	default:
		if !ident.Role.Valid() {
			return a.forbidden(ctx, path, class, ident, src, ReasonInsufficientPermissions)
		}
	}

	return Decision{Allow: true, Kind: KindAllow, Class: class, Identity: ident}
}

func (a *Authorizer) unauthenticated(path string, class RouteClass) Decision {
	return Decision{
		Kind:       KindUnauthenticated,
		Class:      class,
		Reason:     ErrUnauthorized,
		RedirectTo: LoginPath + "?callbackUrl=" + url.QueryEscape(path),
	}
}

func (a *Authorizer) forbidden(ctx context.Context, path string, class RouteClass, ident *identity.Identity, src identity.Source, reason string) Decision {
	a.audit.Record(context.WithoutCancel(ctx), audit.Event{
		ActorID:       ident.ID,
		Action:        audit.ActionAccessDenied,
		Resource:      path,
		SourceAddress: src.IPAddress,
		UserAgent:     src.UserAgent,
		Detail: map[string]any{
			"role":     ident.Role.String(),
			"required": class.String(),
			"reason":   reason,
		},
	})
	a.logger.InfoContext(ctx, "access denied",
		logger.UserID(ident.ID),
		logger.Role(ident.Role.String()),
		logger.Path(path),
		logger.Reason(reason),
	)

	return Decision{
		Kind:     KindForbidden,
		Class:    class,
		Identity: ident,
		Reason:   &ForbiddenError{Reason: reason},
	}
}

// HasPermission reports whether role holds permission.
func (a *Authorizer) HasPermission(role rbac.Role, permission string) bool {
	return a.engine.HasPermission(role, permission)
}

// HasRequiredRole reports whether role ranks at least as high as required.
func (a *Authorizer) HasRequiredRole(role, required rbac.Role) bool {
	return a.engine.HasRequiredRole(role, required)
}

// Permissions returns the sorted permissions granted to role.
func (a *Authorizer) Permissions(role rbac.Role) []string {
	return a.engine.Permissions(role)
}
