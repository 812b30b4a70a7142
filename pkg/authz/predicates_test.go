package authz

import (
	"testing"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

func authedCtx(role domain.Role) tenant.Context {
	return tenant.Context{
		ActorID:       uuid.New(),
		OrgID:         uuid.New(),
		Role:          role,
		Authenticated: true,
	}
}

func TestHasRoleDeniesUnauthenticated(t *testing.T) {
	tc := authedCtx(domain.RoleAdmin)
	tc.Authenticated = false
	if HasRole(tc, domain.RoleAdmin) {
		t.Fatalf("unauthenticated context must not pass role gate")
	}
}

func TestAdminTierExhaustive(t *testing.T) {
	allowed := map[domain.Role]bool{
		domain.RoleAdmin: true, domain.RoleDirector: true, domain.RoleCEO: true,
	}
	for _, r := range []domain.Role{
		domain.RoleStaff, domain.RoleManager, domain.RoleBA, domain.RolePM,
		domain.RoleDirector, domain.RoleCEO, domain.RoleAdmin,
	} {
		got := IsAdminTier(authedCtx(r))
		if got != allowed[r] {
			t.Fatalf("role %s: admin tier=%v want %v", r, got, allowed[r])
		}
	}
}

func TestSuperAdminDeniesDirector(t *testing.T) {
	if IsSuperAdminTier(authedCtx(domain.RoleDirector)) {
		t.Fatalf("Director must not reach super-admin screens")
	}
	if !IsSuperAdminTier(authedCtx(domain.RoleCEO)) {
		t.Fatalf("CEO is super-admin tier")
	}
}

func TestSameOrg(t *testing.T) {
	tc := authedCtx(domain.RoleStaff)
	if !SameOrg(tc, tc.OrgID) {
		t.Fatalf("same org must pass")
	}
	if SameOrg(tc, uuid.New()) {
		t.Fatalf("foreign org must fail")
	}
	tc.CrossTenant = true
	if !SameOrg(tc, uuid.New()) {
		t.Fatalf("cross-tenant capability bypasses org check")
	}
}

func TestValidateAdminActionSelfMutation(t *testing.T) {
	tc := authedCtx(domain.RoleAdmin)
	self := &domain.User{ID: tc.ActorID, OrgID: tc.OrgID}
	if ok, _ := ValidateAdminAction(tc, ActionDeleteUser, self); ok {
		t.Fatalf("delete_user on self must be denied")
	}
	if ok, _ := ValidateAdminAction(tc, ActionChangeRole, self); ok {
		t.Fatalf("change_role on self must be denied")
	}
	if ok, reason := ValidateAdminAction(tc, ActionAssignDept, self); !ok {
		t.Fatalf("assign_department on self should pass, got %q", reason)
	}
}

func TestValidateAdminActionCrossOrgMasked(t *testing.T) {
	tc := authedCtx(domain.RoleAdmin)
	other := &domain.User{ID: uuid.New(), OrgID: uuid.New()}
	ok, reason := ValidateAdminAction(tc, ActionChangeRole, other)
	if ok {
		t.Fatalf("cross-org target must be denied")
	}
	if reason != "target not found" {
		t.Fatalf("cross-org deny must mask existence, got %q", reason)
	}
}

func TestValidateAdminActionNonAdmin(t *testing.T) {
	for _, r := range []domain.Role{domain.RoleStaff, domain.RoleManager, domain.RoleBA, domain.RolePM} {
		if ok, _ := ValidateAdminAction(authedCtx(r), ActionChangeRole, nil); ok {
			t.Fatalf("role %s must be denied admin actions", r)
		}
	}
}

func TestCanSeeDepartmentSubtree(t *testing.T) {
	org := uuid.New()
	root := domain.Department{ID: uuid.New(), OrgID: org, Name: "Ops"}
	child := domain.Department{ID: uuid.New(), OrgID: org, Name: "Infra", ParentID: &root.ID}
	sibling := domain.Department{ID: uuid.New(), OrgID: org, Name: "Sales"}
	forest := domain.NewDeptForest([]domain.Department{root, child, sibling})

	tc := authedCtx(domain.RoleManager)
	tc.DepartmentID = &root.ID
	if !CanSeeDepartment(tc, child.ID, forest) {
		t.Fatalf("manager must see descendant department")
	}
	if CanSeeDepartment(tc, sibling.ID, forest) {
		t.Fatalf("manager must not see sibling department")
	}

	tc.ExtraDepartments = []uuid.UUID{sibling.ID}
	if !CanSeeDepartment(tc, sibling.ID, forest) {
		t.Fatalf("explicit grant must open the department")
	}

	admin := authedCtx(domain.RoleAdmin)
	if !CanSeeDepartment(admin, sibling.ID, forest) {
		t.Fatalf("admin sees all departments")
	}

	pending := authedCtx(domain.RoleStaff)
	if CanSeeDepartment(pending, child.ID, forest) {
		t.Fatalf("pending-department user sees nothing")
	}
}
