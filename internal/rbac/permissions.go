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

// -----------------------------------------------------------------------------
// Permission Constants
// -----------------------------------------------------------------------------

const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"

	PermReportsView     = "reports.view"
	PermReportsGenerate = "reports.generate"
	PermReportsExport   = "reports.export"
	PermReportsDelete   = "reports.delete"

	PermPowerUnitsView    = "power_units.view"
	PermPowerUnitsOperate = "power_units.operate"
	PermPowerUnitsManage  = "power_units.manage"

	PermAuditView = "audit.view"

	PermRateLimitsManage = "rate_limits.manage"
)

// PermissionTable maps a permission name to the roles allowed to exercise it.
type PermissionTable map[string][]Role

// DefaultPermissions returns the built-in permission table of the dashboard.
// A fresh copy is returned on every call.
func DefaultPermissions() PermissionTable {
	all := []Role{RoleViewer, RoleOperator, RoleAdmin}
	operators := []Role{RoleOperator, RoleAdmin}
	admins := []Role{RoleAdmin}

	return PermissionTable{
		PermUsersView:   admins,
		PermUsersCreate: admins,
		PermUsersUpdate: admins,
		PermUsersDelete: admins,

		PermReportsView:     all,
		PermReportsGenerate: operators,
		PermReportsExport:   operators,
		PermReportsDelete:   admins,

		PermPowerUnitsView:    all,
		PermPowerUnitsOperate: operators,
		PermPowerUnitsManage:  admins,

		PermAuditView: admins,

		PermRateLimitsManage: admins,
	}
}
