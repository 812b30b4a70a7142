package workflow

import (
	"sort"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
)

// Symbolic targets a template may name. Resolution failures are
// warnings, never errors: a template that names a target the current
// payload cannot supply simply notifies nobody.
const (
	TargetProblemOwner    = "problem_owner"
	TargetCaseOwner       = "case_owner"
	TargetMilestoneOwner  = "milestone_owner"
	TargetDeptManager     = "department_manager"
	TargetProjectManager  = "project_manager"
	TargetBusinessAnalyst = "business_analyst"
	TargetStakeholders    = "stakeholders"
	TargetAllEmployees    = "all_employees"
	TargetExecutives      = "executives"
)

// resolveTarget maps a symbolic target to user ids. An empty result
// with a nil error means "unresolved"; the caller downgrades that to a
// warning result.
func (wc *Context) resolveTarget(target string) ([]uuid.UUID, error) {
	switch target {
	case TargetProblemOwner:
		if p := wc.problem(); p != nil {
			return []uuid.UUID{p.ReporterID}, nil
		}
	case TargetCaseOwner:
		if c := wc.businessCase(); c != nil {
			return []uuid.UUID{c.CreatedBy}, nil
		}
	case TargetMilestoneOwner:
		if m := wc.milestone(); m != nil && m.AssigneeID != nil {
			return []uuid.UUID{*m.AssigneeID}, nil
		}
	case TargetDeptManager:
		return wc.departmentManagers()
	case TargetProjectManager:
		if pr := wc.project(); pr != nil && pr.ManagerID != nil {
			return []uuid.UUID{*pr.ManagerID}, nil
		}
		return wc.anyByRole(domain.RolePM)
	case TargetBusinessAnalyst:
		if c := wc.businessCase(); c != nil && c.AnalystID != nil {
			return []uuid.UUID{*c.AnalystID}, nil
		}
		return wc.anyByRole(domain.RoleBA)
	case TargetStakeholders:
		return wc.stakeholders()
	case TargetAllEmployees:
		users, err := wc.engine.stores.Users.List(wc.Ctx)
		if err != nil {
			return nil, err
		}
		return userIDs(users), nil
	case TargetExecutives:
		var out []uuid.UUID
		for _, role := range domain.ExecutiveTier {
			ids, err := wc.anyByRole(role)
			if err != nil {
				return nil, err
			}
			out = append(out, ids...)
		}
		return dedup(out), nil
	}
	return nil, nil
}

// stakeholders is the dedup union of the payload's entity owners plus
// the context department's manager.
func (wc *Context) stakeholders() ([]uuid.UUID, error) {
	var out []uuid.UUID
	if p := wc.problem(); p != nil {
		out = append(out, p.ReporterID)
	}
	if c := wc.businessCase(); c != nil {
		out = append(out, c.CreatedBy)
		if c.AnalystID != nil {
			out = append(out, *c.AnalystID)
		}
	}
	if pr := wc.project(); pr != nil {
		out = append(out, pr.CreatedBy)
		if pr.ManagerID != nil {
			out = append(out, *pr.ManagerID)
		}
	}
	managers, err := wc.departmentManagers()
	if err != nil {
		return nil, err
	}
	out = append(out, managers...)
	return dedup(out), nil
}

func (wc *Context) departmentManagers() ([]uuid.UUID, error) {
	deptID := wc.contextDepartment()
	if deptID == nil {
		return nil, nil
	}
	users, err := wc.engine.stores.Users.ListByDeptRole(wc.Ctx, *deptID, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return userIDs(users), nil
}

// contextDepartment is the department of the most specific entity the
// payload carries.
func (wc *Context) contextDepartment() *uuid.UUID {
	if p := wc.problem(); p != nil && p.DepartmentID != nil {
		return p.DepartmentID
	}
	if c := wc.businessCase(); c != nil && c.DepartmentID != nil {
		return c.DepartmentID
	}
	if pr := wc.project(); pr != nil && pr.DepartmentID != nil {
		return pr.DepartmentID
	}
	return nil
}

func (wc *Context) anyByRole(role domain.Role) ([]uuid.UUID, error) {
	users, err := wc.engine.stores.Users.ListByRole(wc.Ctx, role)
	if err != nil {
		return nil, err
	}
	return userIDs(users), nil
}

// pickAnalyst chooses the BA with the fewest open cases; ties break on
// the lower user id so assignment is deterministic.
func (wc *Context) pickAnalyst() (*domain.User, error) {
	analysts, err := wc.engine.stores.Users.ListByRole(wc.Ctx, domain.RoleBA)
	if err != nil {
		return nil, err
	}
	if len(analysts) == 0 {
		return nil, nil
	}
	type loaded struct {
		user domain.User
		load int
	}
	ranked := make([]loaded, 0, len(analysts))
	for _, a := range analysts {
		n, err := wc.engine.stores.Cases.CountOpenByAnalyst(wc.Ctx, a.ID)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, loaded{user: a, load: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].load != ranked[j].load {
			return ranked[i].load < ranked[j].load
		}
		return ranked[i].user.ID.String() < ranked[j].user.ID.String()
	})
	return &ranked[0].user, nil
}

// Entity accessors load lazily from the payload ids. A nil return
// means the payload does not reference that entity or it is gone.

func (wc *Context) problem() *domain.Problem {
	if wc.Payload.ProblemID == nil {
		return nil
	}
	p, err := wc.engine.stores.Problems.Get(wc.Ctx, *wc.Payload.ProblemID)
	if err != nil {
		return nil
	}
	return p
}

func (wc *Context) businessCase() *domain.BusinessCase {
	if wc.Payload.CaseID == nil {
		return nil
	}
	c, err := wc.engine.stores.Cases.Get(wc.Ctx, *wc.Payload.CaseID)
	if err != nil {
		return nil
	}
	return c
}

func (wc *Context) project() *domain.Project {
	if wc.Payload.ProjectID == nil {
		return nil
	}
	pr, err := wc.engine.stores.Projects.Get(wc.Ctx, *wc.Payload.ProjectID)
	if err != nil {
		return nil
	}
	return pr
}

func (wc *Context) milestone() *domain.Milestone {
	if wc.Payload.MilestoneID == nil || wc.Payload.ProjectID == nil {
		return nil
	}
	milestones, err := wc.engine.stores.Projects.Milestones(wc.Ctx, *wc.Payload.ProjectID)
	if err != nil {
		return nil
	}
	for i := range milestones {
		if milestones[i].ID == *wc.Payload.MilestoneID {
			return &milestones[i]
		}
	}
	return nil
}

func userIDs(users []domain.User) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func dedup(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
