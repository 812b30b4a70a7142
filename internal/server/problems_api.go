package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/workflow"
	"github.com/deciframe-hq/deciframe/pkg/authz"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, httperr.NewFieldError("id", "must be a uuid")
	}
	return id, nil
}

type problemView struct {
	ID           string  `json:"id"`
	Code         string  `json:"code"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Priority     string  `json:"priority"`
	Status       string  `json:"status"`
	IssueType    string  `json:"issue_type"`
	AIConfidence float64 `json:"ai_confidence"`
	DepartmentID *string `json:"department_id"`
	ReporterID   string  `json:"reporter_id"`
	CreatedAt    string  `json:"created_at"`
}

func viewProblem(p *domain.Problem) problemView {
	v := problemView{
		ID:           p.ID.String(),
		Code:         p.Code,
		Title:        p.Title,
		Description:  p.Description,
		Priority:     string(p.Priority),
		Status:       string(p.Status),
		IssueType:    string(p.IssueType),
		AIConfidence: p.AIConfidence,
		ReporterID:   p.ReporterID.String(),
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.DepartmentID != nil {
		s := p.DepartmentID.String()
		v.DepartmentID = &s
	}
	return v
}

func (h *handler) handleProblemCreate(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	var req struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		Priority     string `json:"priority"`
		DepartmentID string `json:"department_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Title == "" {
		writeError(w, r, h.log, httperr.NewFieldError("title", "required"))
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
	deptID := tc.DepartmentID
	if req.DepartmentID != "" {
		id, err := uuid.Parse(req.DepartmentID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("department_id", "must be a uuid"))
			return
		}
		deptID = &id
	}

	issueType, confidence := h.classifier.Classify(r.Context(), req.Title, req.Description)
	code, err := h.stores.Organizations().NextCode(r.Context(), "P")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	p := &domain.Problem{
		Code:         code,
		Title:        req.Title,
		Description:  req.Description,
		Priority:     priority,
		Status:       domain.ProblemOpen,
		IssueType:    issueType,
		AIConfidence: confidence,
		DepartmentID: deptID,
		ReporterID:   tc.ActorID,
	}
	if err := h.stores.Problems().Create(r.Context(), p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "problem_created", "problem", p.ID.String(), nil, viewProblem(p), "")
	id := p.ID
	if _, err := h.engine.Emit(r.Context(), domain.EventProblemCreated, workflow.Payload{
		ProblemID: &id,
		Snapshot:  workflow.ProblemSnapshot(p),
	}); err != nil {
		h.log.Error().Err(err).Str("problem_id", p.ID.String()).Msg("problem_created enqueue failed")
	}
	writeJSON(w, http.StatusCreated, viewProblem(p))
}

// problemFilter narrows listings to the departments the actor may see.
// Admin-tier actors read the whole organization.
func (h *handler) problemFilter(r *http.Request) (store.ProblemFilter, error) {
	tc, _ := currentTenant(r.Context())
	var f store.ProblemFilter
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = domain.ProblemStatus(s)
	}
	if authz.IsAdminTier(tc) {
		return f, nil
	}
	depts, err := h.stores.Departments().List(r.Context())
	if err != nil {
		return f, err
	}
	forest := domain.NewDeptForest(depts)
	f.Scoped = true
	f.DeptIDs = authz.VisibleDepartments(tc, forest, depts)
	return f, nil
}

func (h *handler) handleProblemList(w http.ResponseWriter, r *http.Request) {
	f, err := h.problemFilter(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	problems, err := h.stores.Problems().List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]problemView, 0, len(problems))
	for i := range problems {
		views = append(views, viewProblem(&problems[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"problems": views})
}

func (h *handler) handleProblemGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.stores.Problems().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProblem(p))
}

func (h *handler) handleProblemUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Priority    *string `json:"priority"`
		Status      *string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.stores.Problems().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	before := viewProblem(p)
	statusChanged := false
	if req.Title != nil {
		if *req.Title == "" {
			writeError(w, r, h.log, httperr.NewFieldError("title", "required"))
			return
		}
		p.Title = *req.Title
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Priority != nil {
		pr, ok := domain.ParsePriority(*req.Priority)
		if !ok {
			writeError(w, r, h.log, httperr.NewFieldError("priority", "must be Low, Medium or High"))
			return
		}
		p.Priority = pr
	}
	if req.Status != nil {
		switch domain.ProblemStatus(*req.Status) {
		case domain.ProblemOpen, domain.ProblemInReview, domain.ProblemResolved, domain.ProblemClosed:
			statusChanged = p.Status != domain.ProblemStatus(*req.Status)
			p.Status = domain.ProblemStatus(*req.Status)
		default:
			writeError(w, r, h.log, httperr.NewFieldError("status", "unknown status"))
			return
		}
	}
	if err := h.stores.Problems().Update(r.Context(), p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "problem_updated", "problem", p.ID.String(), before, viewProblem(p), "")
	if statusChanged {
		pid := p.ID
		if _, err := h.engine.Emit(r.Context(), domain.EventStatusChange, workflow.Payload{
			ProblemID: &pid,
			Snapshot:  workflow.ProblemSnapshot(p),
		}); err != nil {
			h.log.Error().Err(err).Str("problem_id", p.ID.String()).Msg("status_change enqueue failed")
		}
	}
	writeJSON(w, http.StatusOK, viewProblem(p))
}

func (h *handler) handleProblemDelete(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	if !authz.IsAdminTier(tc) {
		writeError(w, r, h.log, httperr.NewForbidden("deleting problems requires an admin role"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.stores.Problems().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.stores.Problems().Delete(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "problem_deleted", "problem", id.String(), viewProblem(p), nil, "")
	w.WriteHeader(http.StatusNoContent)
}
