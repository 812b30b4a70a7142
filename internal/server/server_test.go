package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/ratelimit"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string, string) (domain.IssueType, float64) {
	return domain.IssueSystem, 0.93
}

func newTestHandler(t *testing.T, opts HandlerOptions) (http.Handler, *memory.Store) {
	t.Helper()
	mem := memory.New()
	opts.Store = mem
	if opts.SessionSecret == nil {
		opts.SessionSecret = testSecret
	}
	if opts.Classifier == nil {
		opts.Classifier = stubClassifier{}
	}
	opts.Logger = zerolog.Nop()
	h, err := NewHandlerWithOptions(opts)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return h, mem
}

type apiClient struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:54321"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) signUp(email, name, password string) {
	c.t.Helper()
	if rec := c.do(http.MethodPost, "/api/register", map[string]string{
		"email": email, "name": name, "password": password,
	}); rec.Code != http.StatusCreated {
		c.t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body)
	}
	rec := c.do(http.MethodPost, "/api/login", map[string]string{
		"email": email, "password": password,
	})
	if rec.Code != http.StatusOK {
		c.t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body)
	}
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "deciframe_session" {
			c.cookie = ck
			return
		}
	}
	c.t.Fatalf("login %s: no session cookie", email)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body, err)
	}
	return v
}

func TestHealthzAndHeaders(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}

	rec := c.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("missing Content-Security-Policy")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must be absent without TLS")
	}
}

func TestRequestIDFromTraceparent(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("X-Request-Id = %q, want trace id from traceparent", got)
	}
}

func TestUnauthenticatedEnvelope(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}

	rec := c.do(http.MethodGet, "/api/problems", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decode[struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		TraceID string `json:"trace_id"`
		Meta    struct {
			Path   string `json:"path"`
			Method string `json:"method"`
		} `json:"meta"`
	}](t, rec)
	if env.Code != "authentication_required" {
		t.Fatalf("code = %q", env.Code)
	}
	if env.TraceID == "" {
		t.Fatal("missing trace_id")
	}
	if env.Meta.Path != "/api/problems" || env.Meta.Method != http.MethodGet {
		t.Fatalf("meta = %+v", env.Meta)
	}
}

func TestRegisterBootstrapsAdmin(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}

	rec := c.do(http.MethodPost, "/api/register", map[string]string{
		"email": "founder@acme.io", "name": "Founder", "password": "sturdy-pass-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body)
	}
	first := decode[userView](t, rec)
	if first.Role != string(domain.RoleAdmin) {
		t.Fatalf("first user role = %q, want Admin", first.Role)
	}

	rec = c.do(http.MethodPost, "/api/register", map[string]string{
		"email": "colleague@acme.io", "name": "Colleague", "password": "sturdy-pass-2",
	})
	second := decode[userView](t, rec)
	if second.Role != string(domain.RoleStaff) {
		t.Fatalf("second user role = %q, want Staff", second.Role)
	}
	if second.OrgID != first.OrgID {
		t.Fatal("same email domain must join the same organization")
	}
}

func TestRegisterRejectsPersonalEmail(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}

	rec := c.do(http.MethodPost, "/api/register", map[string]string{
		"email": "someone@gmail.com", "name": "Someone", "password": "sturdy-pass-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "email") {
		t.Fatalf("expected email field error, got %s", rec.Body)
	}
}

func TestProblemCreateUsesClassifier(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodPost, "/api/problems", map[string]string{
		"title":       "Checkout latency spikes",
		"description": "p99 grows past 2s during sales",
		"priority":    "High",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	p := decode[problemView](t, rec)
	if p.IssueType != string(domain.IssueSystem) || p.AIConfidence != 0.93 {
		t.Fatalf("classification = %s/%.2f", p.IssueType, p.AIConfidence)
	}
	if !strings.HasPrefix(p.Code, "P") {
		t.Fatalf("code = %q, want P prefix", p.Code)
	}
	if p.Status != string(domain.ProblemOpen) {
		t.Fatalf("status = %q", p.Status)
	}
}

func TestCrossTenantProblemMaskedAsNotFound(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})

	alice := &apiClient{t: t, h: h}
	alice.signUp("alice@acme.io", "Alice", "sturdy-pass-1")
	rec := alice.do(http.MethodPost, "/api/problems", map[string]string{"title": "internal"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	created := decode[problemView](t, rec)

	mallory := &apiClient{t: t, h: h}
	mallory.signUp("mallory@rival.io", "Mallory", "sturdy-pass-2")
	rec = mallory.do(http.MethodGet, "/api/problems/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant read: status %d, want 404", rec.Code)
	}
}

func TestStaffDeniedAdminRoutes(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})

	admin := &apiClient{t: t, h: h}
	admin.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	staff := &apiClient{t: t, h: h}
	staff.signUp("staffer@acme.io", "Staffer", "sturdy-pass-2")

	if rec := staff.do(http.MethodGet, "/api/admin/users", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff admin read: status %d, want 403", rec.Code)
	}
	if rec := staff.do(http.MethodGet, "/api/workflows/templates", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff workflows read: status %d, want 403", rec.Code)
	}
	if rec := admin.do(http.MethodGet, "/api/admin/users", nil); rec.Code != http.StatusOK {
		t.Fatalf("admin read: status %d body %s", rec.Code, rec.Body)
	}
}

func TestCaseLifecycle(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodPost, "/api/cases", map[string]any{
		"title":            "Self-serve onboarding",
		"cost_estimate":    50000.0,
		"benefit_estimate": 125000.0,
		"project_type":     "TECHNOLOGY",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	bc := decode[caseView](t, rec)
	if bc.Status != string(domain.CaseDraft) {
		t.Fatalf("status = %q", bc.Status)
	}
	if bc.ROIPercent != 150 {
		t.Fatalf("roi = %v, want 150", bc.ROIPercent)
	}

	// A draft cannot be approved directly.
	if rec := c.do(http.MethodPost, "/api/cases/"+bc.ID+"/approve", nil); rec.Code != http.StatusConflict {
		t.Fatalf("approve draft: status %d, want 409", rec.Code)
	}

	if rec := c.do(http.MethodPost, "/api/cases/"+bc.ID+"/submit", nil); rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d body %s", rec.Code, rec.Body)
	}
	rec = c.do(http.MethodPost, "/api/cases/"+bc.ID+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", rec.Code, rec.Body)
	}
	approved := decode[caseView](t, rec)
	if approved.Status != string(domain.CaseApproved) {
		t.Fatalf("status = %q", approved.Status)
	}
	if approved.ApprovedBy == nil || approved.ApprovedAt == nil {
		t.Fatal("approval metadata missing")
	}

	// Approved cases are frozen.
	rec = c.do(http.MethodPut, "/api/cases/"+bc.ID, map[string]any{"title": "renamed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("edit approved: status %d, want 409", rec.Code)
	}
}

func TestProjectRequiresApprovedCase(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodPost, "/api/cases", map[string]any{
		"title": "Draft only", "cost_estimate": 1000.0, "benefit_estimate": 2000.0,
	})
	bc := decode[caseView](t, rec)

	rec = c.do(http.MethodPost, "/api/projects", map[string]any{
		"name": "Too early", "case_id": bc.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("project from draft case: status %d, want 409", rec.Code)
	}

	c.do(http.MethodPost, "/api/cases/"+bc.ID+"/submit", nil)
	c.do(http.MethodPost, "/api/cases/"+bc.ID+"/approve", nil)

	rec = c.do(http.MethodPost, "/api/projects", map[string]any{
		"name": "Rollout", "case_id": bc.ID, "start_date": "2026-09-01", "planned_end": "2026-12-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("project: status %d body %s", rec.Code, rec.Body)
	}
	p := decode[projectView](t, rec)
	if p.Status != string(domain.ProjectPlanned) {
		t.Fatalf("status = %q", p.Status)
	}
	if !strings.HasPrefix(p.Code, "PR") {
		t.Fatalf("code = %q", p.Code)
	}
}

func TestProjectStatusTerminal(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodPost, "/api/projects", map[string]any{"name": "Standalone"})
	p := decode[projectView](t, rec)

	rec = c.do(http.MethodPut, "/api/projects/"+p.ID+"/status", map[string]string{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status %d body %s", rec.Code, rec.Body)
	}
	rec = c.do(http.MethodPut, "/api/projects/"+p.ID+"/status", map[string]string{"status": "in_progress"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("reopen completed: status %d, want 409", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	h, mem := newTestHandler(t, HandlerOptions{
		Limiter: ratelimit.New(3, time.Minute),
	})
	c := &apiClient{t: t, h: h}

	for i := 0; i < 3; i++ {
		rec := c.do(http.MethodPost, "/api/login", map[string]string{
			"email": "nobody@acme.io", "password": fmt.Sprintf("wrong-%d", i),
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i, rec.Code)
		}
	}
	rec := c.do(http.MethodPost, "/api/login", map[string]string{
		"email": "nobody@acme.io", "password": "wrong-final",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "rate_limited") {
		t.Fatalf("body = %s", rec.Body)
	}

	// The rejection itself lands in the trail, at platform scope since
	// the caller never authenticated.
	entries, err := mem.Audit().Trail(tenant.Platform(context.Background()), store.AuditFilter{TargetType: "route"}, 0)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Action == "rate_limited" && e.TargetID == "/api/login" {
			found = true
			if e.OrgID != uuid.Nil {
				t.Fatalf("rejection entry stamped with org %s, want none", e.OrgID)
			}
		}
	}
	if !found {
		t.Fatal("no rate_limited entry in the audit trail")
	}
}

func TestAdminCannotDeleteSelf(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodGet, "/api/admin/users", nil)
	users := decode[userListView](t, rec).Users
	if len(users) != 1 {
		t.Fatalf("users = %d", len(users))
	}
	rec = c.do(http.MethodDelete, "/api/admin/users/"+users[0].ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self delete: status %d, want 403", rec.Code)
	}
}

type userListView struct {
	Users []userView `json:"users"`
}

func TestRoleChangeAudited(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	admin := &apiClient{t: t, h: h}
	admin.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	staff := &apiClient{t: t, h: h}
	staff.signUp("staffer@acme.io", "Staffer", "sturdy-pass-2")

	rec := admin.do(http.MethodGet, "/api/admin/users", nil)
	var staffID string
	for _, u := range decode[userListView](t, rec).Users {
		if u.Email == "staffer@acme.io" {
			staffID = u.ID
		}
	}
	if staffID == "" {
		t.Fatal("staffer not listed")
	}

	rec = admin.do(http.MethodPost, "/api/admin/users/"+staffID+"/role", map[string]string{"role": "Manager"})
	if rec.Code != http.StatusOK {
		t.Fatalf("role change: status %d body %s", rec.Code, rec.Body)
	}

	rec = admin.do(http.MethodGet, "/api/audit?target_type=user&target_id="+staffID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: status %d body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "user_role_changed") {
		t.Fatalf("audit body = %s", rec.Body)
	}
}

func TestStaffDeniedAuditTrail(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	admin := &apiClient{t: t, h: h}
	admin.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	staff := &apiClient{t: t, h: h}
	staff.signUp("staffer@acme.io", "Staffer", "sturdy-pass-2")

	if rec := staff.do(http.MethodGet, "/api/audit", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff audit: status %d, want 403", rec.Code)
	}
}

func TestExportProblemsCSV(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")
	c.do(http.MethodPost, "/api/problems", map[string]string{"title": "Export me"})

	rec := c.do(http.MethodGet, "/api/export/problems", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header plus one row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "code,title,priority") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Export me") {
		t.Fatalf("row = %q", lines[1])
	}

	if rec := c.do(http.MethodGet, "/api/export/everything", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown entity: status %d, want 400", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("defaults: status %d body %s", rec.Code, rec.Body)
	}
	defaults := decode[settingsView](t, rec)
	if defaults.Currency != "USD" {
		t.Fatalf("default currency = %q", defaults.Currency)
	}

	defaults.Currency = "EUR"
	defaults.Timezone = "Europe/Berlin"
	if rec := c.do(http.MethodPut, "/api/settings", defaults); rec.Code != http.StatusOK {
		t.Fatalf("put: status %d body %s", rec.Code, rec.Body)
	}
	got := decode[settingsView](t, c.do(http.MethodGet, "/api/settings", nil))
	if got.Currency != "EUR" || got.Timezone != "Europe/Berlin" {
		t.Fatalf("settings = %+v", got)
	}
}

func TestThresholdsValidated(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodPut, "/api/settings/thresholds", map[string]float64{
		"success_alert_threshold": 1.5, "cycle_time_alert_factor": 1.2,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range threshold: status %d, want 400", rec.Code)
	}
	rec = c.do(http.MethodPut, "/api/settings/thresholds", map[string]float64{
		"success_alert_threshold": 0.4, "cycle_time_alert_factor": 1.2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status %d body %s", rec.Code, rec.Body)
	}
}

func TestUnknownBodyFieldRejected(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	rec := c.do(http.MethodPost, "/api/problems", map[string]string{
		"title": "ok", "surprise": "field",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWorkflowTemplateAndQueue(t *testing.T) {
	h, _ := newTestHandler(t, HandlerOptions{})
	c := &apiClient{t: t, h: h}
	c.signUp("founder@acme.io", "Founder", "sturdy-pass-1")

	def := map[string]any{
		"triggers": []map[string]any{{
			"event": "problem_created",
			"steps": []map[string]any{{
				"action": "send_notification", "target": "admin", "message": "new problem",
			}},
		}},
	}
	rec := c.do(http.MethodPut, "/api/workflows/templates", map[string]any{
		"name": "notify-admins", "active": true, "definition": def,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("template save: status %d body %s", rec.Code, rec.Body)
	}

	// Creating a problem enqueues the trigger event.
	if rec := c.do(http.MethodPost, "/api/problems", map[string]string{"title": "triggers workflow"}); rec.Code != http.StatusCreated {
		t.Fatalf("problem: status %d body %s", rec.Code, rec.Body)
	}
	rec = c.do(http.MethodGet, "/api/workflows/queue?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue list: status %d body %s", rec.Code, rec.Body)
	}
	events := decode[struct {
		Events []queuedEventView `json:"events"`
	}](t, rec).Events
	if len(events) == 0 {
		t.Fatal("expected a pending event")
	}

	rec = c.do(http.MethodPost, "/api/workflows/queue/"+events[0].ID+"/cancel", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body)
	}
}
