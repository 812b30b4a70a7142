package predict

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// Feature order is fixed; artifacts are trained against exactly this
// vector.
var featureNames = []string{
	"cost_estimate",
	"actual_cost",
	"priority",
	"complexity",
	"team_size",
	"milestone_count",
	"department_risk",
	"roi_estimate",
	"cycle_time",
	"cost_variance",
}

const (
	maxComplexity       = 20
	defaultDeptRisk     = 5
	defaultCostVariance = 1.0
)

// departmentRisk scores departments by name. Unknown departments take
// the neutral default.
var departmentRisk = map[string]float64{
	"Engineering": 7,
	"IT":          7,
	"Operations":  6,
	"Sales":       5,
	"Finance":     4,
	"Marketing":   4,
	"HR":          3,
}

// FeatureVector is the deterministic input to every model, kept with
// its named form for factor reporting and anomaly reasons.
type FeatureVector struct {
	Values []float64
	byName map[string]float64
}

func (fv FeatureVector) Get(name string) float64 { return fv.byName[name] }

// ExtractFeatures maps a project, its business case and milestones to
// the fixed vector. Unavailable inputs default to zero; a project with
// neither a case nor milestones carries too little signal and is
// rejected with a validation error rather than scored on zeros.
func (s *Service) ExtractFeatures(ctx context.Context, project *domain.Project) (FeatureVector, error) {
	var bc *domain.BusinessCase
	if project.CaseID != nil {
		if loaded, err := s.cases.Get(ctx, *project.CaseID); err == nil {
			bc = loaded
		}
	}
	milestones, err := s.projects.Milestones(ctx, project.ID)
	if err != nil {
		return FeatureVector{}, err
	}
	if bc == nil && len(milestones) == 0 {
		return FeatureVector{}, httperr.NewFieldError("project", "insufficient data for prediction: no business case and no milestones")
	}

	var costEstimate, actualCost, roiEstimate float64
	if bc != nil {
		costEstimate = bc.CostEstimate
		actualCost = bc.ActualCost
		roiEstimate = bc.ROIPercent
	}
	priority := float64(domain.PriorityRank(project.Priority))
	complexity := complexityScore(project, bc, len(milestones))
	teamSize := s.teamSize(project, bc, milestones)
	deptRisk := s.departmentRisk(ctx, project.DepartmentID)
	cycleTime := cycleTimeDays(project, bc, complexity, priority)
	costVariance := defaultCostVariance
	if costEstimate > 0 && actualCost > 0 {
		costVariance = actualCost / costEstimate
	}

	byName := map[string]float64{
		"cost_estimate":   costEstimate,
		"actual_cost":     actualCost,
		"priority":        priority,
		"complexity":      complexity,
		"team_size":       teamSize,
		"milestone_count": float64(len(milestones)),
		"department_risk": deptRisk,
		"roi_estimate":    roiEstimate,
		"cycle_time":      cycleTime,
		"cost_variance":   costVariance,
	}
	values := make([]float64, len(featureNames))
	for i, name := range featureNames {
		values[i] = byName[name]
	}
	return FeatureVector{Values: values, byName: byName}, nil
}

// complexityScore accumulates milestone volume, cost band, ROI band
// and an on-hold penalty, capped at maxComplexity.
func complexityScore(project *domain.Project, bc *domain.BusinessCase, milestoneCount int) float64 {
	score := float64(milestoneCount)
	if bc != nil {
		switch {
		case bc.CostEstimate >= 100_000:
			score += 4
		case bc.CostEstimate >= 50_000:
			score += 3
		case bc.CostEstimate >= 10_000:
			score += 2
		case bc.CostEstimate > 0:
			score += 1
		}
		switch {
		case bc.ROIPercent >= 200:
			score += 4
		case bc.ROIPercent >= 100:
			score += 3
		case bc.ROIPercent >= 50:
			score += 2
		case bc.ROIPercent > 0:
			score += 1
		}
	}
	if project.Status == domain.ProjectOnHold {
		score += 3
	}
	return math.Min(score, maxComplexity)
}

// teamSize counts the distinct people attached to the project, never
// below one.
func (s *Service) teamSize(project *domain.Project, bc *domain.BusinessCase, milestones []domain.Milestone) float64 {
	members := map[uuid.UUID]struct{}{}
	if project.ManagerID != nil {
		members[*project.ManagerID] = struct{}{}
	}
	if bc != nil && bc.AnalystID != nil {
		members[*bc.AnalystID] = struct{}{}
	}
	for _, m := range milestones {
		if m.AssigneeID != nil {
			members[*m.AssigneeID] = struct{}{}
		}
	}
	if len(members) == 0 {
		return 1
	}
	return float64(len(members))
}

func (s *Service) departmentRisk(ctx context.Context, deptID *uuid.UUID) float64 {
	if deptID == nil {
		return defaultDeptRisk
	}
	dept, err := s.depts.Get(ctx, *deptID)
	if err != nil {
		return defaultDeptRisk
	}
	if risk, ok := departmentRisk[dept.Name]; ok {
		return risk
	}
	return defaultDeptRisk
}

// cycleTimeDays is the observed approval-to-start span when both dates
// exist, otherwise an estimate from complexity and priority.
func cycleTimeDays(project *domain.Project, bc *domain.BusinessCase, complexity, priority float64) float64 {
	if bc != nil && bc.ApprovedAt != nil && project.StartDate != nil && project.StartDate.After(*bc.ApprovedAt) {
		return project.StartDate.Sub(*bc.ApprovedAt).Hours() / 24
	}
	return complexity*5 + priority*10
}
