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

package authz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRoutes is returned by RouteRules.Validate.
var ErrInvalidRoutes = errors.New("invalid route rules")

// RouteClass is the protection level of a path.
type RouteClass int

const (
	// RouteAuthenticated requires any valid session. Paths that match no
	// rule fall here.
	RouteAuthenticated RouteClass = iota
	// RoutePublic requires nothing.
	RoutePublic
	// RouteAdminOnly requires the admin role.
	RouteAdminOnly
	// RouteOperatorOrAbove requires operator or admin.
	RouteOperatorOrAbove
)

func (c RouteClass) String() string {
	switch c {
	case RoutePublic:
		return "public"
	case RouteAdminOnly:
		return "admin"
	case RouteOperatorOrAbove:
		return "operator"
	default:
		return "authenticated"
	}
}

// RouteRules lists the path patterns of each protection class. A pattern
// matches the identical path and every sub-path below it; "/" matches only
// the root.
type RouteRules struct {
	Public          []string
	AdminOnly       []string
	OperatorOrAbove []string
}

// DefaultRouteRules returns the dashboard's built-in route table.
func DefaultRouteRules() RouteRules {
	return RouteRules{
		Public: []string{
			"/",
			"/login",
			"/unauthorized",
			"/api/health",
			"/api/auth/login",
			"/api/auth/logout",
		},
		AdminOnly: []string{
			"/admin",
			"/audit",
			"/api/admin",
			"/api/audit",
			"/api/auth/users",
		},
		OperatorOrAbove: []string{
			"/operations",
			"/api/reports/generate",
			"/api/reports/export",
			"/api/power-units/operate",
		},
	}
}

// Classify returns the protection class of path. Public rules are checked
// first, then admin, then operator.
func (r RouteRules) Classify(path string) RouteClass {
	switch {
	case matchAny(r.Public, path):
		return RoutePublic
	case matchAny(r.AdminOnly, path):
		return RouteAdminOnly
	case matchAny(r.OperatorOrAbove, path):
		return RouteOperatorOrAbove
	default:
		return RouteAuthenticated
	}
}

// Validate rejects malformed patterns and any path claimed by two classes.
// Two patterns overlap when one equals the other or is a sub-path of it.
func (r RouteRules) Validate() error {
	sets := []struct {
		name     string
		patterns []string
	}{
		{"public", r.Public},
		{"admin", r.AdminOnly},
		{"operator", r.OperatorOrAbove},
	}

	for _, s := range sets {
		for _, p := range s.patterns {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("%w: %s pattern %q must start with /", ErrInvalidRoutes, s.name, p)
			}
			if p != "/" && strings.HasSuffix(p, "/") {
				return fmt.Errorf("%w: %s pattern %q must not end with /", ErrInvalidRoutes, s.name, p)
			}
		}
	}

	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			for _, a := range sets[i].patterns {
				for _, b := range sets[j].patterns {
					if matches(a, b) || matches(b, a) {
						return fmt.Errorf("%w: %s pattern %q overlaps %s pattern %q",
							ErrInvalidRoutes, sets[i].name, a, sets[j].name, b)
					}
				}
			}
		}
	}
	return nil
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if matches(p, path) {
			return true
		}
	}
	return false
}

// matches reports whether path is pattern or a sub-path of it.
func matches(pattern, path string) bool {
	if path == pattern {
		return true
	}
	if pattern == "/" {
		return false
	}
	return strings.HasPrefix(path, pattern+"/")
}
