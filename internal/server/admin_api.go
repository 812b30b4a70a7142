package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/pkg/authz"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

func (h *handler) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := h.stores.Users().List(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]userView, 0, len(users))
	for i := range users {
		views = append(views, viewUser(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

// adminTarget loads the target user and applies the admin-action
// rules. Cross-tenant targets read as not found through the store.
func (h *handler) adminTarget(r *http.Request, action authz.AdminAction) (*domain.User, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	target, err := h.stores.Users().Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	tc, _ := currentTenant(r.Context())
	if ok, reason := authz.ValidateAdminAction(tc, action, target); !ok {
		if reason == "target not found" {
			return nil, httperr.NewNotFound(reason)
		}
		return nil, httperr.NewForbidden(reason)
	}
	return target, nil
}

func (h *handler) handleUserRole(w http.ResponseWriter, r *http.Request) {
	target, err := h.adminTarget(r, authz.ActionChangeRole)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		writeError(w, r, h.log, httperr.NewFieldError("role", "unknown role"))
		return
	}
	before := viewUser(target)
	target.Role = role
	if err := h.stores.Users().Update(r.Context(), target); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "user_role_changed", "user", target.ID.String(), before, viewUser(target), "")
	writeJSON(w, http.StatusOK, viewUser(target))
}

func (h *handler) handleUserDepartment(w http.ResponseWriter, r *http.Request) {
	target, err := h.adminTarget(r, authz.ActionAssignDept)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		DepartmentID string `json:"department_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	before := viewUser(target)
	if req.DepartmentID == "" {
		target.DepartmentID = nil
	} else {
		did, err := uuid.Parse(req.DepartmentID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("department_id", "must be a uuid"))
			return
		}
		dept, err := h.stores.Departments().Get(r.Context(), did)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		target.DepartmentID = &dept.ID
	}
	if err := h.stores.Users().Update(r.Context(), target); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "user_department_changed", "user", target.ID.String(), before, viewUser(target), "")
	writeJSON(w, http.StatusOK, viewUser(target))
}

func (h *handler) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	target, err := h.adminTarget(r, authz.ActionDeleteUser)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.stores.Users().Delete(r.Context(), target.ID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "user_deleted", "user", target.ID.String(), viewUser(target), nil, "")
	w.WriteHeader(http.StatusNoContent)
}

type departmentView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

func (h *handler) handleDepartmentCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID string `json:"parent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, h.log, httperr.NewFieldError("name", "required"))
		return
	}
	d := &domain.Department{Name: req.Name}
	if req.ParentID != "" {
		pid, err := uuid.Parse(req.ParentID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("parent_id", "must be a uuid"))
			return
		}
		parent, err := h.stores.Departments().Get(r.Context(), pid)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		d.ParentID = &parent.ID
	}
	if err := h.stores.Departments().Create(r.Context(), d); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "department_created", "department", d.ID.String(), nil,
		map[string]any{"name": d.Name}, "")
	v := departmentView{ID: d.ID.String(), Name: d.Name}
	if d.ParentID != nil {
		s := d.ParentID.String()
		v.ParentID = &s
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *handler) handleDepartmentList(w http.ResponseWriter, r *http.Request) {
	depts, err := h.stores.Departments().List(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]departmentView, 0, len(depts))
	for _, d := range depts {
		v := departmentView{ID: d.ID.String(), Name: d.Name}
		if d.ParentID != nil {
			s := d.ParentID.String()
			v.ParentID = &s
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": views})
}

func (h *handler) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.stores.Settings().OrgSettings(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSettings(s))
}

type settingsView struct {
	Currency      string `json:"currency"`
	DateFormat    string `json:"date_format"`
	TimeFormat    string `json:"time_format"`
	Timezone      string `json:"timezone"`
	DefaultTheme  string `json:"default_theme"`
	BusinessHours string `json:"business_hours"`
	NotifyEnabled bool   `json:"notify_enabled"`
}

func viewSettings(s domain.OrgSettings) settingsView {
	return settingsView{
		Currency:      s.Currency,
		DateFormat:    s.DateFormat,
		TimeFormat:    s.TimeFormat,
		Timezone:      s.Timezone,
		DefaultTheme:  s.DefaultTheme,
		BusinessHours: s.BusinessHours,
		NotifyEnabled: s.NotifyEnabled,
	}
}

func (h *handler) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var req settingsView
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	current, err := h.stores.Settings().OrgSettings(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	before := viewSettings(current)
	current.Currency = req.Currency
	current.DateFormat = req.DateFormat
	current.TimeFormat = req.TimeFormat
	current.Timezone = req.Timezone
	current.DefaultTheme = req.DefaultTheme
	current.BusinessHours = req.BusinessHours
	current.NotifyEnabled = req.NotifyEnabled
	if err := h.stores.Settings().PutOrgSettings(r.Context(), current); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "org_settings_updated", "organization", current.OrgID.String(), before, viewSettings(current), "")
	writeJSON(w, http.StatusOK, viewSettings(current))
}

type thresholdsView struct {
	SuccessAlertThreshold float64 `json:"success_alert_threshold"`
	CycleTimeAlertFactor  float64 `json:"cycle_time_alert_factor"`
}

func (h *handler) handleThresholdsGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.stores.Settings().Thresholds(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, thresholdsView{
		SuccessAlertThreshold: t.SuccessAlertThreshold,
		CycleTimeAlertFactor:  t.CycleTimeAlertFactor,
	})
}

func (h *handler) handleThresholdsPut(w http.ResponseWriter, r *http.Request) {
	var req thresholdsView
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	fields := map[string]string{}
	if req.SuccessAlertThreshold <= 0 || req.SuccessAlertThreshold >= 1 {
		fields["success_alert_threshold"] = "must be in (0, 1)"
	}
	if req.CycleTimeAlertFactor < 1 {
		fields["cycle_time_alert_factor"] = "must be at least 1"
	}
	if len(fields) > 0 {
		writeError(w, r, h.log, httperr.NewValidation(fields))
		return
	}
	current, err := h.stores.Settings().Thresholds(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	before := thresholdsView{
		SuccessAlertThreshold: current.SuccessAlertThreshold,
		CycleTimeAlertFactor:  current.CycleTimeAlertFactor,
	}
	current.SuccessAlertThreshold = req.SuccessAlertThreshold
	current.CycleTimeAlertFactor = req.CycleTimeAlertFactor
	if err := h.stores.Settings().PutThresholds(r.Context(), current); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.audit.Record(r.Context(), "ai_thresholds_updated", "organization", current.OrgID.String(), before, req, "")
	writeJSON(w, http.StatusOK, req)
}
