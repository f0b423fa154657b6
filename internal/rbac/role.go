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

package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrInvalidPermission = errors.New("invalid permission")
)

// Role is a dashboard role. Roles form a total order:
// viewer < operator < admin.
type Role string

// -----------------------------------------------------------------------------
// Role Name Constants
// These are the canonical names stored in the users table and in session tokens.
// -----------------------------------------------------------------------------

const (
	// RoleViewer can read dashboards and reports.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally operate power units and generate reports.
	RoleOperator Role = "operator"

	// RoleAdmin has full access including user and rate-limit management.
	RoleAdmin Role = "admin"
)

// Rank returns the position of the role in the hierarchy.
// Unknown roles rank 0 and never satisfy any requirement.
func (r Role) Rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a stored role name into a Role.
// Matching is case-insensitive so legacy upper-case values ("ADMIN") are accepted.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// HasRequiredRole reports whether role is at least as privileged as required.
func HasRequiredRole(role, required Role) bool {
	if !role.Valid() || !required.Valid() {
		return false
	}
	return role.Rank() >= required.Rank()
}

// AllRoles returns every known role, lowest first.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleOperator, RoleAdmin}
}
