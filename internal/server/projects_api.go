package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/workflow"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

const dateLayout = "2006-01-02"

type projectView struct {
	ID         string  `json:"id"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	StartDate  *string `json:"start_date"`
	PlannedEnd *string `json:"planned_end"`
	ActualEnd  *string `json:"actual_end"`
	ManagerID  *string `json:"manager_id"`
	CaseID     *string `json:"case_id"`
	CreatedAt  string  `json:"created_at"`
}

func viewProject(p *domain.Project) projectView {
	date := func(t *time.Time) *string {
		if t == nil {
			return nil
		}
		s := t.UTC().Format(dateLayout)
		return &s
	}
	id := func(u *uuid.UUID) *string {
		if u == nil {
			return nil
		}
		s := u.String()
		return &s
	}
	return projectView{
		ID:         p.ID.String(),
		Code:       p.Code,
		Name:       p.Name,
		Status:     string(p.Status),
		Priority:   string(p.Priority),
		StartDate:  date(p.StartDate),
		PlannedEnd: date(p.PlannedEnd),
		ActualEnd:  date(p.ActualEnd),
		ManagerID:  id(p.ManagerID),
		CaseID:     id(p.CaseID),
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func parseDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, httperr.NewFieldError(field, "must be YYYY-MM-DD")
	}
	return &t, nil
}

func (h *handler) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	var req struct {
		Name       string `json:"name"`
		Priority   string `json:"priority"`
		CaseID     string `json:"case_id"`
		ManagerID  string `json:"manager_id"`
		StartDate  string `json:"start_date"`
		PlannedEnd string `json:"planned_end"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, h.log, httperr.NewFieldError("name", "required"))
		return
	}
	priority := domain.PriorityMedium
	if req.Priority != "" {
		p, ok := domain.ParsePriority(req.Priority)
		if !ok {
			writeError(w, r, h.log, httperr.NewFieldError("priority", "must be Low, Medium or High"))
			return
		}
		priority = p
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	end, err := parseDate("planned_end", req.PlannedEnd)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		writeError(w, r, h.log, httperr.NewFieldError("planned_end", "must not precede start_date"))
		return
	}

	p := &domain.Project{
		Name:         req.Name,
		Status:       domain.ProjectPlanned,
		Priority:     priority,
		StartDate:    start,
		PlannedEnd:   end,
		CreatedBy:    tc.ActorID,
		DepartmentID: tc.DepartmentID,
	}
	if req.CaseID != "" {
		cid, err := uuid.Parse(req.CaseID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("case_id", "must be a uuid"))
			return
		}
		bc, err := h.stores.Cases().Get(r.Context(), cid)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		if bc.Status != domain.CaseApproved {
			writeError(w, r, h.log, httperr.NewConflict("project requires an approved business case"))
			return
		}
		p.CaseID = &bc.ID
		if p.DepartmentID == nil {
			p.DepartmentID = bc.DepartmentID
		}
	}
	if req.ManagerID != "" {
		mid, err := uuid.Parse(req.ManagerID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("manager_id", "must be a uuid"))
			return
		}
		manager, err := h.stores.Users().Get(r.Context(), mid)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		p.ManagerID = &manager.ID
	}

	code, err := h.stores.Organizations().NextCode(r.Context(), "PR")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p.Code = code
	if err := h.stores.Projects().Create(r.Context(), p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "project_created", "project", p.ID.String(), nil, viewProject(p), "")
	pid := p.ID
	if _, err := h.engine.Emit(r.Context(), domain.EventProjectCreated, workflow.Payload{
		ProjectID: &pid,
		Snapshot:  workflow.ProjectSnapshot(p),
	}); err != nil {
		h.log.Error().Err(err).Str("project_id", p.ID.String()).Msg("project_created enqueue failed")
	}
	writeJSON(w, http.StatusCreated, viewProject(p))
}

func (h *handler) handleProjectList(w http.ResponseWriter, r *http.Request) {
	projects, err := h.stores.Projects().List(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]projectView, 0, len(projects))
	for i := range projects {
		views = append(views, viewProject(&projects[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": views})
}

func (h *handler) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.stores.Projects().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProject(p))
}

func (h *handler) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	next := domain.ProjectStatus(req.Status)
	switch next {
	case domain.ProjectPlanned, domain.ProjectInProgress, domain.ProjectOnHold,
		domain.ProjectCompleted, domain.ProjectCancelled:
	default:
		writeError(w, r, h.log, httperr.NewFieldError("status", "unknown status"))
		return
	}
	p, err := h.stores.Projects().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if domain.TerminalProjectStatus(p.Status) {
		writeError(w, r, h.log, httperr.NewConflict("project is in a terminal status"))
		return
	}
	before := viewProject(p)
	p.Status = next
	if next == domain.ProjectCompleted {
		now := h.now().UTC()
		p.ActualEnd = &now
	}
	if err := h.stores.Projects().Update(r.Context(), p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "project_status_changed", "project", p.ID.String(), before, viewProject(p), "")
	pid := p.ID
	if _, err := h.engine.Emit(r.Context(), domain.EventStatusChange, workflow.Payload{
		ProjectID: &pid,
		Snapshot:  workflow.ProjectSnapshot(p),
	}); err != nil {
		h.log.Error().Err(err).Str("project_id", p.ID.String()).Msg("status_change enqueue failed")
	}
	writeJSON(w, http.StatusOK, viewProject(p))
}

type milestoneView struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Name       string  `json:"name"`
	DueDate    string  `json:"due_date"`
	Completed  bool    `json:"completed"`
	AssigneeID *string `json:"assignee_id"`
}

func viewMilestone(m *domain.Milestone) milestoneView {
	v := milestoneView{
		ID:        m.ID.String(),
		ProjectID: m.ProjectID.String(),
		Name:      m.Name,
		DueDate:   m.DueDate.UTC().Format(dateLayout),
		Completed: m.Completed,
	}
	if m.AssigneeID != nil {
		s := m.AssigneeID.String()
		v.AssigneeID = &s
	}
	return v
}

func (h *handler) handleMilestoneCreate(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		Name       string `json:"name"`
		DueDate    string `json:"due_date"`
		AssigneeID string `json:"assignee_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, h.log, httperr.NewFieldError("name", "required"))
		return
	}
	due, err := parseDate("due_date", req.DueDate)
	if err != nil || due == nil {
		if err == nil {
			err = httperr.NewFieldError("due_date", "required")
		}
		writeError(w, r, h.log, err)
		return
	}
	if _, err := h.stores.Projects().Get(r.Context(), projectID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	m := &domain.Milestone{
		ProjectID: projectID,
		Name:      req.Name,
		DueDate:   *due,
	}
	if req.AssigneeID != "" {
		aid, err := uuid.Parse(req.AssigneeID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("assignee_id", "must be a uuid"))
			return
		}
		m.AssigneeID = &aid
	}
	if err := h.stores.Projects().CreateMilestone(r.Context(), m); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "milestone_created", "milestone", m.ID.String(), nil, viewMilestone(m), "")
	writeJSON(w, http.StatusCreated, viewMilestone(m))
}

func (h *handler) handleMilestoneList(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if _, err := h.stores.Projects().Get(r.Context(), projectID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	milestones, err := h.stores.Projects().Milestones(r.Context(), projectID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]milestoneView, 0, len(milestones))
	for i := range milestones {
		views = append(views, viewMilestone(&milestones[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"milestones": views})
}

// handleProjectEvaluate runs the threshold-gated AI checks for one
// project on demand. Each call is its own run; replays of the same run
// id are no-ops.
func (h *handler) handleProjectEvaluate(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	report, err := h.aiEngine.Evaluate(r.Context(), projectID, uuid.New())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
