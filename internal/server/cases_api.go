package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/workflow"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

type caseView struct {
	ID              string   `json:"id"`
	Code            string   `json:"code"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	CostEstimate    float64  `json:"cost_estimate"`
	BenefitEstimate float64  `json:"benefit_estimate"`
	ROIPercent      float64  `json:"roi_percent"`
	Status          string   `json:"status"`
	ProjectType     string   `json:"project_type"`
	Priority        string   `json:"priority"`
	ProblemID       *string  `json:"problem_id"`
	AnalystID       *string  `json:"analyst_id"`
	DepartmentID    *string  `json:"department_id"`
	ApprovedBy      *string  `json:"approved_by"`
	ApprovedAt      *string  `json:"approved_at"`
	CreatedAt       string   `json:"created_at"`
}

func viewCase(c *domain.BusinessCase) caseView {
	str := func(id *uuid.UUID) *string {
		if id == nil {
			return nil
		}
		s := id.String()
		return &s
	}
	v := caseView{
		ID:              c.ID.String(),
		Code:            c.Code,
		Title:           c.Title,
		Summary:         c.Summary,
		CostEstimate:    c.CostEstimate,
		BenefitEstimate: c.BenefitEstimate,
		ROIPercent:      c.ROIPercent,
		Status:          string(c.Status),
		ProjectType:     string(c.ProjectType),
		Priority:        string(c.Priority),
		ProblemID:       str(c.ProblemID),
		AnalystID:       str(c.AnalystID),
		DepartmentID:    str(c.DepartmentID),
		ApprovedBy:      str(c.ApprovedBy),
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.ApprovedAt != nil {
		s := c.ApprovedAt.UTC().Format(time.RFC3339)
		v.ApprovedAt = &s
	}
	return v
}

func roiPercent(cost, benefit float64) float64 {
	if cost <= 0 {
		return 0
	}
	return (benefit - cost) / cost * 100
}

func (h *handler) handleCaseCreate(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	var req struct {
		Title           string  `json:"title"`
		Summary         string  `json:"summary"`
		CostEstimate    float64 `json:"cost_estimate"`
		BenefitEstimate float64 `json:"benefit_estimate"`
		ProjectType     string  `json:"project_type"`
		Priority        string  `json:"priority"`
		ProblemID       string  `json:"problem_id"`
		DepartmentID    string  `json:"department_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	fields := map[string]string{}
	if req.Title == "" {
		fields["title"] = "required"
	}
	if req.CostEstimate < 0 {
		fields["cost_estimate"] = "must not be negative"
	}
	if req.BenefitEstimate < 0 {
		fields["benefit_estimate"] = "must not be negative"
	}
	if len(fields) > 0 {
		writeError(w, r, h.log, httperr.NewValidation(fields))
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
	projectType := domain.ProjectProcessImp
	if req.ProjectType != "" {
		switch domain.ProjectType(req.ProjectType) {
		case domain.ProjectTechnology, domain.ProjectProcessImp, domain.ProjectStrategic:
			projectType = domain.ProjectType(req.ProjectType)
		default:
			writeError(w, r, h.log, httperr.NewFieldError("project_type", "unknown project type"))
			return
		}
	}

	bc := &domain.BusinessCase{
		Title:           req.Title,
		Summary:         req.Summary,
		CostEstimate:    req.CostEstimate,
		BenefitEstimate: req.BenefitEstimate,
		ROIPercent:      roiPercent(req.CostEstimate, req.BenefitEstimate),
		Status:          domain.CaseDraft,
		ProjectType:     projectType,
		Priority:        priority,
		CreatedBy:       tc.ActorID,
		DepartmentID:    tc.DepartmentID,
	}
	if req.ProblemID != "" {
		pid, err := uuid.Parse(req.ProblemID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("problem_id", "must be a uuid"))
			return
		}
		// Masks cross-tenant problems as not found before linking.
		problem, err := h.stores.Problems().Get(r.Context(), pid)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		bc.ProblemID = &problem.ID
		if bc.DepartmentID == nil {
			bc.DepartmentID = problem.DepartmentID
		}
	}
	if req.DepartmentID != "" {
		did, err := uuid.Parse(req.DepartmentID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("department_id", "must be a uuid"))
			return
		}
		bc.DepartmentID = &did
	}

	code, err := h.stores.Organizations().NextCode(r.Context(), "C")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	bc.Code = code
	if err := h.stores.Cases().Create(r.Context(), bc); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "case_created", "case", bc.ID.String(), nil, viewCase(bc), "")
	cid := bc.ID
	if _, err := h.engine.Emit(r.Context(), domain.EventCaseCreated, workflow.Payload{
		CaseID:   &cid,
		Snapshot: workflow.CaseSnapshot(bc),
	}); err != nil {
		h.log.Error().Err(err).Str("case_id", bc.ID.String()).Msg("case_created enqueue failed")
	}
	writeJSON(w, http.StatusCreated, viewCase(bc))
}

func (h *handler) handleCaseList(w http.ResponseWriter, r *http.Request) {
	cases, err := h.stores.Cases().List(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]caseView, 0, len(cases))
	for i := range cases {
		views = append(views, viewCase(&cases[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": views})
}

func (h *handler) handleCaseGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	bc, err := h.stores.Cases().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewCase(bc))
}

func (h *handler) handleCaseUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		Title           *string  `json:"title"`
		Summary         *string  `json:"summary"`
		CostEstimate    *float64 `json:"cost_estimate"`
		BenefitEstimate *float64 `json:"benefit_estimate"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	bc, err := h.stores.Cases().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if bc.Status == domain.CaseApproved || bc.Status == domain.CaseCancelled {
		writeError(w, r, h.log, httperr.NewConflict("case can no longer be edited"))
		return
	}
	before := viewCase(bc)
	if req.Title != nil {
		if *req.Title == "" {
			writeError(w, r, h.log, httperr.NewFieldError("title", "required"))
			return
		}
		bc.Title = *req.Title
	}
	if req.Summary != nil {
		bc.Summary = *req.Summary
	}
	if req.CostEstimate != nil {
		if *req.CostEstimate < 0 {
			writeError(w, r, h.log, httperr.NewFieldError("cost_estimate", "must not be negative"))
			return
		}
		bc.CostEstimate = *req.CostEstimate
	}
	if req.BenefitEstimate != nil {
		if *req.BenefitEstimate < 0 {
			writeError(w, r, h.log, httperr.NewFieldError("benefit_estimate", "must not be negative"))
			return
		}
		bc.BenefitEstimate = *req.BenefitEstimate
	}
	bc.ROIPercent = roiPercent(bc.CostEstimate, bc.BenefitEstimate)
	if err := h.stores.Cases().Update(r.Context(), bc); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "case_updated", "case", bc.ID.String(), before, viewCase(bc), "")
	writeJSON(w, http.StatusOK, viewCase(bc))
}

func (h *handler) handleCaseSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	bc, err := h.stores.Cases().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if !domain.CaseTransitionAllowed(bc.Status, domain.CaseUnderReview) {
		writeError(w, r, h.log, httperr.NewConflict("case cannot be submitted from status "+string(bc.Status)))
		return
	}
	before := viewCase(bc)
	bc.Status = domain.CaseUnderReview
	if err := h.stores.Cases().Update(r.Context(), bc); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "case_submitted", "case", bc.ID.String(), before, viewCase(bc), "")
	cid := bc.ID
	if _, err := h.engine.Emit(r.Context(), domain.EventStatusChange, workflow.Payload{
		CaseID:   &cid,
		Snapshot: workflow.CaseSnapshot(bc),
	}); err != nil {
		h.log.Error().Err(err).Str("case_id", bc.ID.String()).Msg("status_change enqueue failed")
	}
	writeJSON(w, http.StatusOK, viewCase(bc))
}

func (h *handler) handleCaseApprove(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	approver := tc.ActorID
	bc, err := h.stores.Cases().Approve(r.Context(), id, &approver, h.now())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "case_approved", "case", bc.ID.String(), nil, viewCase(bc), "")
	cid := bc.ID
	if _, err := h.engine.Emit(r.Context(), domain.EventCaseApproved, workflow.Payload{
		CaseID:   &cid,
		Snapshot: workflow.CaseSnapshot(bc),
	}); err != nil {
		h.log.Error().Err(err).Str("case_id", bc.ID.String()).Msg("case_approved enqueue failed")
	}
	writeJSON(w, http.StatusOK, viewCase(bc))
}
