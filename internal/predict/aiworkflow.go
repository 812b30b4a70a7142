package predict

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/notify"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// AIWorkflowEngine turns model outputs into workflow side effects,
// gated by the organization's thresholds.
type AIWorkflowEngine struct {
	service  *Service
	projects store.ProjectStore
	cases    store.CaseStore
	users    store.UserStore
	settings store.SettingsStore
	notifier *notify.Service
	sink     *audit.Sink
	log      zerolog.Logger
	now      func() time.Time

	// seen de-duplicates evaluation runs so a re-run with the same id
	// does not flood recipients.
	seen sync.Map // "projectID/runID" -> struct{}
}

func NewAIWorkflowEngine(service *Service, projects store.ProjectStore, cases store.CaseStore, users store.UserStore, settings store.SettingsStore, notifier *notify.Service, sink *audit.Sink, log zerolog.Logger) *AIWorkflowEngine {
	return &AIWorkflowEngine{
		service:  service,
		projects: projects,
		cases:    cases,
		users:    users,
		settings: settings,
		notifier: notifier,
		sink:     sink,
		log:      log.With().Str("component", "aiworkflow").Logger(),
		now:      time.Now,
	}
}

// EvaluationReport summarizes what one run did.
type EvaluationReport struct {
	ProjectID       uuid.UUID `json:"project_id"`
	RunID           uuid.UUID `json:"run_id"`
	RiskEscalated   bool      `json:"risk_escalated"`
	RescheduledDays int       `json:"rescheduled_days"`
	AnomalyFlagged  bool      `json:"anomaly_flagged"`
	Skipped         bool      `json:"skipped"`
}

// Evaluate runs all three checks for the project. A (project, run)
// pair is evaluated at most once.
func (e *AIWorkflowEngine) Evaluate(ctx context.Context, projectID, runID uuid.UUID) (*EvaluationReport, error) {
	key := projectID.String() + "/" + runID.String()
	if _, loaded := e.seen.LoadOrStore(key, struct{}{}); loaded {
		return &EvaluationReport{ProjectID: projectID, RunID: runID, Skipped: true}, nil
	}
	project, err := e.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	thresholds, err := e.settings.Thresholds(ctx)
	if err != nil {
		return nil, err
	}
	report := &EvaluationReport{ProjectID: projectID, RunID: runID}

	if err := e.checkSuccessRisk(ctx, project, thresholds, report); err != nil {
		return nil, err
	}
	if err := e.checkCycleOverrun(ctx, project, thresholds, report); err != nil {
		return nil, err
	}
	if err := e.checkAnomaly(ctx, project, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (e *AIWorkflowEngine) checkSuccessRisk(ctx context.Context, project *domain.Project, t domain.AIThresholds, report *EvaluationReport) error {
	pred, err := e.service.PredictSuccess(ctx, project.ID)
	if err != nil {
		return degrade(err)
	}
	if pred == nil || pred.Probability >= t.SuccessAlertThreshold {
		return nil
	}
	recipients := map[uuid.UUID]struct{}{}
	if project.ManagerID != nil {
		recipients[*project.ManagerID] = struct{}{}
	}
	recipients[project.CreatedBy] = struct{}{}
	if project.CaseID != nil {
		if bc, err := e.cases.Get(ctx, *project.CaseID); err == nil {
			recipients[bc.CreatedBy] = struct{}{}
		}
	}
	msg := fmt.Sprintf("Project %s success probability %.0f%% is below the alert threshold", project.Name, pred.Probability*100)
	for userID := range recipients {
		if _, err := e.notifier.Create(ctx, userID, string(domain.NotifyRiskAlert), msg, "/projects/"+project.ID.String()); err != nil {
			e.log.Warn().Err(err).Stringer("user_id", userID).Msg("risk alert not delivered")
		}
	}
	report.RiskEscalated = true
	return nil
}

// checkCycleOverrun shifts incomplete milestones when the predicted
// cycle exceeds the planned one by the configured factor. The shift,
// planned-end bump and per-milestone audit happen against a single
// reschedule transaction.
func (e *AIWorkflowEngine) checkCycleOverrun(ctx context.Context, project *domain.Project, t domain.AIThresholds, report *EvaluationReport) error {
	if project.StartDate == nil || project.PlannedEnd == nil || !project.PlannedEnd.After(*project.StartDate) {
		return nil
	}
	pred, err := e.service.PredictCycleTime(ctx, project.ID)
	if err != nil {
		return degrade(err)
	}
	plannedDays := int(project.PlannedEnd.Sub(*project.StartDate).Hours() / 24)
	if float64(pred.Days) <= float64(plannedDays)*t.CycleTimeAlertFactor {
		return nil
	}
	delayDays := pred.Days - plannedDays
	delay := time.Duration(delayDays) * 24 * time.Hour
	shifted, err := e.projects.Reschedule(ctx, project.ID, delay, e.now())
	if err != nil {
		return err
	}
	for _, m := range shifted {
		e.sink.Record(ctx, "milestone_rescheduled", "milestone", m.ID.String(),
			map[string]any{"due_date": m.DueDate.Add(-delay)},
			map[string]any{"due_date": m.DueDate},
			fmt.Sprintf("shifted %d days by cycle-time prediction", delayDays))
		if m.AssigneeID != nil {
			msg := fmt.Sprintf("Milestone %q moved to %s after a cycle-time forecast", m.Name, m.DueDate.Format("2006-01-02"))
			if _, err := e.notifier.Create(ctx, *m.AssigneeID, string(domain.NotifyMilestoneRescheduled), msg, ""); err != nil {
				e.log.Warn().Err(err).Stringer("user_id", *m.AssigneeID).Msg("reschedule notice not delivered")
			}
		}
	}
	e.sink.Record(ctx, "project_rescheduled", "project", project.ID.String(),
		map[string]any{"planned_end": project.PlannedEnd},
		map[string]any{"planned_end": project.PlannedEnd.Add(delay), "delay_days": delayDays},
		fmt.Sprintf("predicted %d days against %d planned", pred.Days, plannedDays))
	report.RescheduledDays = delayDays
	return nil
}

func (e *AIWorkflowEngine) checkAnomaly(ctx context.Context, project *domain.Project, report *EvaluationReport) error {
	pred, err := e.service.DetectAnomaly(ctx, project.ID)
	if err != nil {
		return degrade(err)
	}
	if pred == nil || !pred.IsAnomaly {
		return nil
	}
	recipients := map[uuid.UUID]struct{}{}
	if project.ManagerID != nil {
		recipients[*project.ManagerID] = struct{}{}
	}
	if project.DepartmentID != nil {
		analysts, err := e.users.ListByDeptRole(ctx, *project.DepartmentID, domain.RoleBA)
		if err == nil {
			for _, a := range analysts {
				recipients[a.ID] = struct{}{}
			}
		}
	}
	msg := fmt.Sprintf("Project %s flagged for investigation: %s", project.Name, strings.Join(pred.Reasons, ", "))
	if len(pred.Reasons) == 0 {
		msg = fmt.Sprintf("Project %s flagged for investigation (score %.2f)", project.Name, pred.Score)
	}
	for userID := range recipients {
		if _, err := e.notifier.Create(ctx, userID, string(domain.NotifyAnomalyInvestigation), msg, "/projects/"+project.ID.String()); err != nil {
			e.log.Warn().Err(err).Stringer("user_id", userID).Msg("investigation notice not delivered")
		}
	}
	report.AnomalyFlagged = true
	return nil
}

// degrade swallows model unavailability: an org without artifacts gets
// no automated reactions, not a failing evaluation.
func degrade(err error) error {
	if httperr.IsUnavailable(err) {
		return nil
	}
	return err
}
