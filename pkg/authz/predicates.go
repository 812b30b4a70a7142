package authz

import (
	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

// AdminAction is an admin mutation subject to ValidateAdminAction.
type AdminAction string

const (
	ActionDeleteUser AdminAction = "delete_user"
	ActionChangeRole AdminAction = "change_role"
	ActionAssignDept AdminAction = "assign_department"
	ActionEditOrg    AdminAction = "edit_organization"
)

func HasRole(tc tenant.Context, required ...domain.Role) bool {
	if !tc.Authenticated {
		return false
	}
	return domain.RoleIn(tc.Role, required)
}

func IsAdminTier(tc tenant.Context) bool {
	return HasRole(tc, domain.AdminTier...)
}

func IsSuperAdminTier(tc tenant.Context) bool {
	return HasRole(tc, domain.SuperAdminTier...)
}

func IsExecutiveTier(tc tenant.Context) bool {
	return HasRole(tc, domain.ExecutiveTier...)
}

// SameOrg reports whether the actor may touch data of targetOrg.
func SameOrg(tc tenant.Context, targetOrg uuid.UUID) bool {
	if tc.CrossTenant {
		return true
	}
	return tc.Authenticated && tc.OrgID == targetOrg
}

// CanSeeDepartment implements visibility scoping over the department
// forest: Admin sees every department of the org; everyone else sees
// their own subtree plus explicitly granted extras. Users pending
// department assignment see nothing.
func CanSeeDepartment(tc tenant.Context, deptID uuid.UUID, forest *domain.DeptForest) bool {
	if !tc.Authenticated || forest == nil || !forest.Contains(deptID) {
		return false
	}
	if tc.Role == domain.RoleAdmin || tc.CrossTenant {
		return true
	}
	for _, extra := range tc.ExtraDepartments {
		if extra == deptID {
			return true
		}
	}
	if tc.DepartmentID == nil {
		return false
	}
	return forest.InSubtree(*tc.DepartmentID, deptID)
}

// VisibleDepartments lists every department id the actor may read.
func VisibleDepartments(tc tenant.Context, forest *domain.DeptForest, all []domain.Department) []uuid.UUID {
	if tc.Role == domain.RoleAdmin || tc.CrossTenant {
		out := make([]uuid.UUID, 0, len(all))
		for _, d := range all {
			out = append(out, d.ID)
		}
		return out
	}
	var out []uuid.UUID
	if tc.DepartmentID != nil {
		out = append(out, forest.Descendants(*tc.DepartmentID)...)
	}
	for _, extra := range tc.ExtraDepartments {
		if forest.Contains(extra) {
			out = append(out, extra)
		}
	}
	return out
}

// ValidateAdminAction applies the admin-action rules: actor must be
// admin tier, self delete/role-change is forbidden, and the target must
// belong to the actor's organization unless the actor is cross-tenant.
func ValidateAdminAction(tc tenant.Context, action AdminAction, target *domain.User) (bool, string) {
	if !tc.Authenticated {
		return false, "authentication required"
	}
	if !IsAdminTier(tc) {
		return false, "admin tier role required"
	}
	if target != nil {
		if (action == ActionDeleteUser || action == ActionChangeRole) && target.ID == tc.ActorID {
			return false, "cannot " + string(action) + " on self"
		}
		if !SameOrg(tc, target.OrgID) {
			return false, "target not found"
		}
	}
	return true, ""
}
