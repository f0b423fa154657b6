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
	"fmt"
	"sort"
)

// Engine answers permission checks against an immutable permission table.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	grants map[string]map[Role]struct{}
}

// NewEngine validates table and builds an Engine from it.
// The table is copied; later changes to it have no effect.
func NewEngine(table PermissionTable) (*Engine, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: permission table is empty", ErrInvalidPermission)
	}

	grants := make(map[string]map[Role]struct{}, len(table))
	for perm, roles := range table {
		if perm == "" {
			return nil, fmt.Errorf("%w: empty permission name", ErrInvalidPermission)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("%w: %q grants no roles", ErrInvalidPermission, perm)
		}
		set := make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			if !r.Valid() {
				return nil, fmt.Errorf("%w: %q grants %w %q", ErrInvalidPermission, perm, ErrUnknownRole, r)
			}
			set[r] = struct{}{}
		}
		grants[perm] = set
	}

	return &Engine{grants: grants}, nil
}

// HasPermission reports whether role is in the permission's allowed-role set.
// Unknown permissions are denied.
func (e *Engine) HasPermission(role Role, permission string) bool {
	set, ok := e.grants[permission]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// HasRequiredRole reports whether role ranks at least as high as required.
func (e *Engine) HasRequiredRole(role, required Role) bool {
	return HasRequiredRole(role, required)
}

// Permissions returns the sorted permission names granted to role.
func (e *Engine) Permissions(role Role) []string {
	var perms []string
	for perm, set := range e.grants {
		if _, ok := set[role]; ok {
			perms = append(perms, perm)
		}
	}
	sort.Strings(perms)
	return perms
}
