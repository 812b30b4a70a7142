package predict

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/notify"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// zeroArtifact scores the intercept regardless of input.
func zeroArtifact(kind string, intercept, threshold float64) Artifact {
	n := len(featureNames)
	return Artifact{
		FeatureNames: featureNames,
		Scaler:       Scaler{Mean: make([]float64, n), Scale: ones(n)},
		Model:        Model{Kind: kind, Coefficients: make([]float64, n), Intercept: intercept, Threshold: threshold},
	}
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func writeArtifact(t *testing.T, dir string, kind domain.PredictionKind, a Artifact) {
	t.Helper()
	body, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, string(kind)+".json"), body, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

type predictFixture struct {
	mem       *memory.Store
	svc       *Service
	ctx       context.Context
	orgID     uuid.UUID
	modelsDir string
}

func newPredictFixture(t *testing.T) *predictFixture {
	t.Helper()
	mem := memory.New()
	org := &domain.Organization{Domain: "a.test", Name: "a", Status: domain.OrgActive}
	if err := mem.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("org: %v", err)
	}
	dir := t.TempDir()
	svc := NewService(NewRegistry(dir), mem.Projects(), mem.Cases(), mem.Departments(), mem.Feedback(), zerolog.Nop())
	return &predictFixture{
		mem:       mem,
		svc:       svc,
		ctx:       tenant.System(context.Background(), org.ID),
		orgID:     org.ID,
		modelsDir: dir,
	}
}

func (f *predictFixture) project(t *testing.T, withCase bool) *domain.Project {
	t.Helper()
	u := &domain.User{Email: uuid.NewString() + "@a.test", Name: "u", Role: domain.RolePM}
	if err := f.mem.Users().Create(f.ctx, u); err != nil {
		t.Fatalf("user: %v", err)
	}
	pr := &domain.Project{Name: "p", Priority: domain.PriorityMedium, Status: domain.ProjectInProgress, CreatedBy: u.ID, ManagerID: &u.ID}
	if withCase {
		bc := &domain.BusinessCase{Title: "c", CostEstimate: 60_000, ActualCost: 30_000, ROIPercent: 120, CreatedBy: u.ID}
		if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
			t.Fatalf("case: %v", err)
		}
		pr.CaseID = &bc.ID
	}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}
	return pr
}

func TestMissingArtifactIsUnavailable(t *testing.T) {
	f := newPredictFixture(t)
	pr := f.project(t, true)
	_, err := f.svc.PredictSuccess(f.ctx, pr.ID)
	if !httperr.IsUnavailable(err) {
		t.Fatalf("err=%v want unavailable", err)
	}
}

func TestInsufficientFeaturesIsValidation(t *testing.T) {
	f := newPredictFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", 0, 0))
	pr := f.project(t, false) // no case, no milestones
	_, err := f.svc.PredictSuccess(f.ctx, pr.ID)
	if _, ok := httperr.AsValidation(err); !ok {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestCrossTenantPredictionMasked(t *testing.T) {
	f := newPredictFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", 0, 0))
	pr := f.project(t, true)

	other := &domain.Organization{Domain: "b.test", Name: "b", Status: domain.OrgActive}
	if err := f.mem.Organizations().Create(context.Background(), other); err != nil {
		t.Fatalf("org b: %v", err)
	}
	otherCtx := tenant.System(context.Background(), other.ID)
	_, err := f.svc.PredictSuccess(otherCtx, pr.ID)
	if err == nil {
		t.Fatalf("cross-tenant prediction allowed")
	}
}

func TestSuccessConfidenceBands(t *testing.T) {
	f := newPredictFixture(t)
	// intercept 0 ⇒ p = 0.5 ⇒ medium; intercept 3 ⇒ p ≈ 0.95 ⇒ high.
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", 0, 0))
	pr := f.project(t, true)
	got, err := f.svc.PredictSuccess(f.ctx, pr.ID)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.Abs(got.Probability-0.5) > 1e-9 || got.Confidence != "medium" {
		t.Fatalf("got %+v", got)
	}
	if len(got.TopFactors) != 3 {
		t.Fatalf("top factors = %v", got.TopFactors)
	}

	f2 := newPredictFixture(t)
	writeArtifact(t, f2.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", 3, 0))
	pr2 := f2.project(t, true)
	got2, err := f2.svc.PredictSuccess(f2.ctx, pr2.ID)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got2.Confidence != "high" {
		t.Fatalf("p=%.3f confidence=%s want high", got2.Probability, got2.Confidence)
	}
}

func TestCycleTimeClamped(t *testing.T) {
	f := newPredictFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictCycleTime, zeroArtifact("linear", 5000, 0))
	pr := f.project(t, true)
	got, err := f.svc.PredictCycleTime(f.ctx, pr.ID)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got.Days != maxCycleDays {
		t.Fatalf("days=%d want clamp to %d", got.Days, maxCycleDays)
	}

	f2 := newPredictFixture(t)
	writeArtifact(t, f2.modelsDir, domain.PredictCycleTime, zeroArtifact("linear", -10, 0))
	pr2 := f2.project(t, true)
	got2, err := f2.svc.PredictCycleTime(f2.ctx, pr2.ID)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got2.Days != minCycleDays {
		t.Fatalf("days=%d want clamp to %d", got2.Days, minCycleDays)
	}
}

func TestAnomalyReasons(t *testing.T) {
	f := newPredictFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictAnomaly, zeroArtifact("threshold", 1, 0.5))
	u := &domain.User{Email: "pm@a.test", Name: "pm", Role: domain.RolePM}
	if err := f.mem.Users().Create(f.ctx, u); err != nil {
		t.Fatalf("user: %v", err)
	}
	bc := &domain.BusinessCase{Title: "c", CostEstimate: 150_000, ActualCost: 400_000, CreatedBy: u.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	pr := &domain.Project{Name: "p", Priority: domain.PriorityHigh, Status: domain.ProjectInProgress, CreatedBy: u.ID, CaseID: &bc.ID}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}
	got, err := f.svc.DetectAnomaly(f.ctx, pr.ID)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !got.IsAnomaly {
		t.Fatalf("score=%.2f not flagged", got.Score)
	}
	want := map[string]bool{"High cost overrun": true, "High-value project": true}
	for _, r := range got.Reasons {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Fatalf("missing reasons %v in %v", want, got.Reasons)
	}
}

func TestEveryPredictionWritesFeedback(t *testing.T) {
	f := newPredictFixture(t)
	writeArtifact(t, f.modelsDir, domain.PredictSuccess, zeroArtifact("logistic", 0, 0))
	pr := f.project(t, true)
	if _, err := f.svc.PredictSuccess(f.ctx, pr.ID); err != nil {
		t.Fatalf("predict: %v", err)
	}
	rows, err := f.svc.ListFeedback(f.ctx, domain.PredictSuccess)
	if err != nil || len(rows) != 1 {
		t.Fatalf("feedback rows=%v err=%v", rows, err)
	}
	if rows[0].EntityID != pr.ID || rows[0].Actual != nil {
		t.Fatalf("row=%+v", rows[0])
	}
	if err := f.svc.SubmitActual(f.ctx, rows[0].ID, 1); err != nil {
		t.Fatalf("actual: %v", err)
	}
	rows, _ = f.svc.ListFeedback(f.ctx, domain.PredictSuccess)
	if rows[0].Actual == nil || *rows[0].Actual != 1 {
		t.Fatalf("actual not stored: %+v", rows[0])
	}
}

func TestComplexityCappedAndTeamSizeFloor(t *testing.T) {
	f := newPredictFixture(t)
	staff := &domain.User{Email: "s@a.test", Name: "s", Role: domain.RoleStaff}
	if err := f.mem.Users().Create(f.ctx, staff); err != nil {
		t.Fatalf("user: %v", err)
	}
	bc := &domain.BusinessCase{Title: "c", CostEstimate: 500_000, ROIPercent: 300, CreatedBy: staff.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	pr := &domain.Project{Name: "p", Priority: domain.PriorityHigh, Status: domain.ProjectOnHold, CreatedBy: staff.ID, CaseID: &bc.ID}
	if err := f.mem.Projects().Create(f.ctx, pr); err != nil {
		t.Fatalf("project: %v", err)
	}
	for i := 0; i < 25; i++ {
		m := &domain.Milestone{ProjectID: pr.ID, Name: "m", DueDate: time.Now().AddDate(0, 0, i)}
		if err := f.mem.Projects().CreateMilestone(f.ctx, m); err != nil {
			t.Fatalf("milestone: %v", err)
		}
	}
	fv, err := f.svc.ExtractFeatures(f.ctx, pr)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if fv.Get("complexity") != maxComplexity {
		t.Fatalf("complexity=%v want cap %d", fv.Get("complexity"), maxComplexity)
	}
	if fv.Get("team_size") != 1 {
		t.Fatalf("team_size=%v want floor 1", fv.Get("team_size"))
	}
	if fv.Get("department_risk") != defaultDeptRisk {
		t.Fatalf("department_risk=%v want fallback", fv.Get("department_risk"))
	}
	if fv.Get("cost_variance") != defaultCostVariance {
		t.Fatalf("cost_variance=%v want default", fv.Get("cost_variance"))
	}
}
