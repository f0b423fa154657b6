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

package rbac_test

import (
	"errors"
	"testing"

	"github.com/gridpanel/gridpanel/internal/rbac"
)

// TestPurpose: Validates the role hierarchy used for coarse "at least this role" checks.
// Scope: Unit Test
// Security: Vertical privilege escalation prevention
// Expected: Higher roles satisfy lower requirements, never the reverse; every role satisfies itself.
// Test Case ID: RBAC-01
func TestRBAC_HasRequiredRole(t *testing.T) {
	tests := []struct {
		role     rbac.Role
		required rbac.Role
		expected bool
	}{
		{rbac.RoleAdmin, rbac.RoleViewer, true},
		{rbac.RoleAdmin, rbac.RoleOperator, true},
		{rbac.RoleOperator, rbac.RoleViewer, true},
		{rbac.RoleViewer, rbac.RoleAdmin, false},
		{rbac.RoleViewer, rbac.RoleOperator, false},
		{rbac.RoleOperator, rbac.RoleAdmin, false},
		{rbac.Role("root"), rbac.RoleViewer, false},
		{rbac.RoleAdmin, rbac.Role(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.required), func(t *testing.T) {
			if got := rbac.HasRequiredRole(tt.role, tt.required); got != tt.expected {
				t.Errorf("HasRequiredRole(%q, %q) = %v, want %v", tt.role, tt.required, got, tt.expected)
			}
		})
	}

	for _, r := range rbac.AllRoles() {
		if !rbac.HasRequiredRole(r, r) {
			t.Errorf("HasRequiredRole(%q, %q) must be reflexive", r, r)
		}
	}
}

// TestPurpose: Validates that role ranks are injective and independent of declaration order.
// Scope: Unit Test
// Expected: viewer=1, operator=2, admin=3, unknown=0.
// Test Case ID: RBAC-02
func TestRBAC_RoleRank(t *testing.T) {
	if rbac.RoleViewer.Rank() != 1 || rbac.RoleOperator.Rank() != 2 || rbac.RoleAdmin.Rank() != 3 {
		t.Fatalf("unexpected ranks: viewer=%d operator=%d admin=%d",
			rbac.RoleViewer.Rank(), rbac.RoleOperator.Rank(), rbac.RoleAdmin.Rank())
	}
	if rbac.Role("superuser").Rank() != 0 {
		t.Error("unknown role must rank 0")
	}
}

// TestPurpose: Validates parsing of stored role names, including legacy upper-case values.
// Scope: Unit Test
// Expected: Known names parse case-insensitively, unknown names return ErrUnknownRole.
// Test Case ID: RBAC-03
func TestRBAC_ParseRole(t *testing.T) {
	r, err := rbac.ParseRole("ADMIN")
	if err != nil || r != rbac.RoleAdmin {
		t.Fatalf("ParseRole(ADMIN) = %q, %v", r, err)
	}
	r, err = rbac.ParseRole(" operator ")
	if err != nil || r != rbac.RoleOperator {
		t.Fatalf("ParseRole(operator) = %q, %v", r, err)
	}
	if _, err := rbac.ParseRole("owner"); !errors.Is(err, rbac.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

// TestPurpose: Validates permission checks against the default dashboard table.
// Scope: Unit Test
// Security: RBAC Permission Enforcement
// Expected: Only roles listed for a permission are granted; unknown permissions are denied.
// Test Case ID: RBAC-04
func TestRBAC_Engine_HasPermission(t *testing.T) {
	engine, err := rbac.NewEngine(rbac.DefaultPermissions())
	if err != nil {
		t.Fatalf("default table must be valid: %v", err)
	}

	tests := []struct {
		name       string
		role       rbac.Role
		permission string
		expected   bool
	}{
		{"admin creates users", rbac.RoleAdmin, rbac.PermUsersCreate, true},
		{"operator cannot create users", rbac.RoleOperator, rbac.PermUsersCreate, false},
		{"viewer cannot create users", rbac.RoleViewer, rbac.PermUsersCreate, false},
		{"viewer views reports", rbac.RoleViewer, rbac.PermReportsView, true},
		{"operator generates reports", rbac.RoleOperator, rbac.PermReportsGenerate, true},
		{"viewer cannot generate reports", rbac.RoleViewer, rbac.PermReportsGenerate, false},
		{"admin manages rate limits", rbac.RoleAdmin, rbac.PermRateLimitsManage, true},
		{"unknown permission denied", rbac.RoleAdmin, "reactor.meltdown", false},
		{"unknown role denied", rbac.Role("guest"), rbac.PermReportsView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.HasPermission(tt.role, tt.permission); got != tt.expected {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.permission, got, tt.expected)
			}
		})
	}
}

// TestPurpose: Validates that a corrupted permission table is rejected at construction time.
// Scope: Unit Test
// Security: Fail-closed startup
// Expected: Empty tables, empty role sets and unknown roles return ErrInvalidPermission.
// Test Case ID: RBAC-05
func TestRBAC_NewEngine_RejectsCorruptTable(t *testing.T) {
	tables := map[string]rbac.PermissionTable{
		"empty table":    {},
		"empty name":     {"": {rbac.RoleAdmin}},
		"no roles":       {"users.view": nil},
		"unknown role":   {"users.view": {rbac.Role("root")}},
		"mixed bad role": {"users.view": {rbac.RoleAdmin, rbac.Role("")}},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			if _, err := rbac.NewEngine(table); !errors.Is(err, rbac.ErrInvalidPermission) {
				t.Errorf("expected ErrInvalidPermission, got %v", err)
			}
		})
	}
}

// TestPurpose: Validates that the engine copies its input so the table cannot be mutated at runtime.
// Scope: Unit Test
// Expected: Changing the source table after construction does not change decisions.
// Test Case ID: RBAC-06
func TestRBAC_Engine_TableIsImmutable(t *testing.T) {
	table := rbac.PermissionTable{"reports.view": {rbac.RoleAdmin}}
	engine, err := rbac.NewEngine(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table["reports.view"] = append(table["reports.view"], rbac.RoleViewer)
	table["users.delete"] = []rbac.Role{rbac.RoleViewer}

	if engine.HasPermission(rbac.RoleViewer, "reports.view") {
		t.Error("engine must not observe later table mutation")
	}
	if engine.HasPermission(rbac.RoleViewer, "users.delete") {
		t.Error("engine must not observe added permissions")
	}
}

func TestRBAC_Engine_Permissions(t *testing.T) {
	engine, err := rbac.NewEngine(rbac.DefaultPermissions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	perms := engine.Permissions(rbac.RoleViewer)
	want := []string{rbac.PermPowerUnitsView, rbac.PermReportsView}
	if len(perms) != len(want) {
		t.Fatalf("viewer permissions = %v, want %v", perms, want)
	}
	for i := range want {
		if perms[i] != want[i] {
			t.Errorf("viewer permissions[%d] = %q, want %q", i, perms[i], want[i])
		}
	}
}
