package predict

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/notify"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

type aiFixture struct {
	*predictFixture
	engine *AIWorkflowEngine
	sink   *audit.Sink
}

func newAIFixture(t *testing.T) *aiFixture {
	t.Helper()
	pf := newPredictFixture(t)
	sink := audit.NewSink(pf.mem.Audit(), zerolog.Nop())
	notifier := notify.NewService(pf.mem.Notifications(), pf.mem.Users(), pf.mem.Settings(), nil, zerolog.Nop())
	engine := NewAIWorkflowEngine(pf.svc, pf.mem.Projects(), pf.mem.Cases(), pf.mem.Users(), pf.mem.Settings(), notifier, sink, zerolog.Nop())
	return &aiFixture{predictFixture: pf, engine: engine, sink: sink}
}

// TestRescheduleOnCycleOverrun is the 40-day plan with a 60-day
// forecast: factor 1.25 puts the trip point at 50, so every incomplete
// milestone and the planned end move by 20 days, with one audit entry
// per milestone and one for the project.
func TestRescheduleOnCycleOverrun(t *testing.T) {
	f := newAIFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", 3, 0))  // healthy, no risk alert
	writeArtifact(t, f.modelsDir, domain.PredictCycleTime, zeroArtifact("linear", 60, 0)) // 60-day forecast
	writeArtifact(t, f.modelsDir, domain.PredictAnomaly, zeroArtifact("threshold", -1, 0.5))

	pm := &domain.User{Email: "pm@a.test", Name: "pm", Role: domain.RolePM, NotifyOptIn: true}
	if err := f.mem.Users().Create(f.ctx, pm); err != nil {
		t.Fatalf("pm: %v", err)
	}
	start := time.Now().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, 40)
	bc := &domain.BusinessCase{Title: "c", CostEstimate: 10_000, CreatedBy: pm.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	pr := &domain.Project{
		Name: "p", Priority: domain.PriorityMedium, Status: domain.ProjectInProgress,
		CreatedBy: pm.ID, ManagerID: &pm.ID, CaseID: &bc.ID,
		StartDate: &start, PlannedEnd: &end,
	}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}
	var milestones []*domain.Milestone
	for i := 1; i <= 3; i++ {
		m := &domain.Milestone{ProjectID: pr.ID, Name: "m", DueDate: start.AddDate(0, 0, i*10), AssigneeID: &pm.ID}
		if err := f.mem.Projects().CreateMilestone(f.ctx, m); err != nil {
			t.Fatalf("milestone: %v", err)
		}
		milestones = append(milestones, m)
	}

	report, err := f.engine.Evaluate(f.ctx, pr.ID, uuid.New())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.RescheduledDays != 20 {
		t.Fatalf("rescheduled days = %d want 20", report.RescheduledDays)
	}
	got, _ := f.mem.Projects().Get(f.ctx, pr.ID)
	if !got.PlannedEnd.Equal(end.AddDate(0, 0, 20)) {
		t.Fatalf("planned end = %v", got.PlannedEnd)
	}
	shifted, _ := f.mem.Projects().Milestones(f.ctx, pr.ID)
	for i, m := range shifted {
		want := milestones[i].DueDate.AddDate(0, 0, 20)
		if !m.DueDate.Equal(want) {
			t.Fatalf("milestone %d due = %v want %v", i, m.DueDate, want)
		}
	}

	adminCtx := tenant.With(context.Background(), tenant.Context{
		ActorID: pm.ID, OrgID: f.orgID, Role: domain.RoleAdmin, Authenticated: true,
	})
	perMilestone, err := f.sink.Trail(adminCtx, store.AuditFilter{TargetType: "milestone"}, 50)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(perMilestone) != 3 {
		t.Fatalf("milestone audit entries = %d want 3", len(perMilestone))
	}
	perProject, _ := f.sink.Trail(adminCtx, store.AuditFilter{TargetType: "project"}, 50)
	if len(perProject) != 1 {
		t.Fatalf("project audit entries = %d want 1", len(perProject))
	}
}

func TestRiskEscalationDedupsRecipients(t *testing.T) {
	f := newAIFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", -3, 0)) // p ≈ 0.05
	writeArtifact(t, f.modelsDir, domain.PredictCycleTime, zeroArtifact("linear", 1, 0))
	writeArtifact(t, f.modelsDir, domain.PredictAnomaly, zeroArtifact("threshold", -1, 0.5))

	// One person is PM, case creator and project creator at once.
	solo := &domain.User{Email: "solo@a.test", Name: "solo", Role: domain.RolePM, NotifyOptIn: true}
	if err := f.mem.Users().Create(f.ctx, solo); err != nil {
		t.Fatalf("user: %v", err)
	}
	bc := &domain.BusinessCase{Title: "c", CostEstimate: 10_000, CreatedBy: solo.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	pr := &domain.Project{Name: "p", Priority: domain.PriorityMedium, CreatedBy: solo.ID, ManagerID: &solo.ID, CaseID: &bc.ID}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}

	report, err := f.engine.Evaluate(f.ctx, pr.ID, uuid.New())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !report.RiskEscalated {
		t.Fatalf("risk not escalated: %+v", report)
	}
	got, _ := f.mem.Notifications().ListByUser(f.ctx, solo.ID)
	alerts := 0
	for _, n := range got {
		if n.Event == domain.NotifyRiskAlert {
			alerts++
		}
	}
	if alerts != 1 {
		t.Fatalf("risk alerts = %d want 1 (dedup)", alerts)
	}
}

func TestEvaluateIdempotentPerRun(t *testing.T) {
	f := newAIFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", -3, 0))
	writeArtifact(t, f.modelsDir, domain.PredictCycleTime, zeroArtifact("linear", 1, 0))
	writeArtifact(t, f.modelsDir, domain.PredictAnomaly, zeroArtifact("threshold", -1, 0.5))

	u := &domain.User{Email: "u@a.test", Name: "u", Role: domain.RolePM, NotifyOptIn: true}
	if err := f.mem.Users().Create(f.ctx, u); err != nil {
		t.Fatalf("user: %v", err)
	}
	bc := &domain.BusinessCase{Title: "c", CostEstimate: 10_000, CreatedBy: u.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	pr := &domain.Project{Name: "p", CreatedBy: u.ID, ManagerID: &u.ID, CaseID: &bc.ID}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}

	run := uuid.New()
	if _, err := f.engine.Evaluate(f.ctx, pr.ID, run); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	report, err := f.engine.Evaluate(f.ctx, pr.ID, run)
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if !report.Skipped {
		t.Fatalf("rerun not skipped: %+v", report)
	}
	got, _ := f.mem.Notifications().ListByUser(f.ctx, u.ID)
	if len(got) != 1 {
		t.Fatalf("notifications = %d want 1", len(got))
	}
}

func TestMissingArtifactsDegradeToNoActions(t *testing.T) {
	f := newAIFixture(t)
	u := &domain.User{Email: "u@a.test", Name: "u", Role: domain.RolePM}
	if err := f.mem.Users().Create(f.ctx, u); err != nil {
		t.Fatalf("user: %v", err)
	}
	bc := &domain.BusinessCase{Title: "c", CostEstimate: 10_000, CreatedBy: u.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	pr := &domain.Project{Name: "p", CreatedBy: u.ID, CaseID: &bc.ID}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}
	report, err := f.engine.Evaluate(f.ctx, pr.ID, uuid.New())
	if err != nil {
		t.Fatalf("evaluate with no artifacts: %v", err)
	}
	if report.RiskEscalated || report.AnomalyFlagged || report.RescheduledDays != 0 {
		t.Fatalf("actions taken without models: %+v", report)
	}
}
