package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
)

const defaultTaskHorizonDays = 7

type handlerFunc func(step Step, wc *Context) Result

// handlers is the closed action registry. ParseDefinition validates
// against allActions, so a missing entry here is a programming error
// caught by TestRegistryCoversAllActions.
var handlers = map[ActionName]handlerFunc{
	ActionSendNotification:   handleSendNotification,
	ActionCreateTask:         handleCreateTask,
	ActionEscalateToManager:  handleEscalateToManager,
	ActionAutoApprove:        handleAutoApprove,
	ActionScheduleFollowUp:   handleScheduleFollowUp,
	ActionCreateBusinessCase: handleCreateBusinessCase,
	ActionAssignAnalyst:      handleAssignAnalyst,
	ActionLogAction:          handleLogAction,
}

func handleSendNotification(step Step, wc *Context) Result {
	target := step.stringParam("target")
	if target == "" {
		return failedMessage("send_notification: target required")
	}
	recipients, err := wc.resolveTarget(target)
	if err != nil {
		return failedResult(err)
	}
	if len(recipients) == 0 {
		return warnResult("send_notification: target " + target + " resolved to nobody")
	}
	message := step.stringParam("message")
	if message == "" {
		message = fmt.Sprintf("Workflow notification for event %s", wc.Event.Name)
	}
	event := step.stringParam("event")
	if event == "" {
		event = string(wc.Event.Name)
	}
	var failures []string
	for _, userID := range recipients {
		if _, err := wc.engine.notifier.Create(wc.Ctx, userID, event, message, step.stringParam("link")); err != nil {
			failures = append(failures, userID.String()+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return warnResult("send_notification: partial delivery: " + strings.Join(failures, "; "))
	}
	return okResult()
}

func handleCreateTask(step Step, wc *Context) Result {
	target := step.stringParam("assignee")
	if target == "" {
		target = TargetDeptManager
	}
	candidates, err := wc.resolveTarget(target)
	if err != nil {
		return failedResult(err)
	}
	if len(candidates) == 0 {
		return warnResult("create_task: assignee " + target + " resolved to nobody")
	}
	title := step.stringParam("title")
	if title == "" {
		title = fmt.Sprintf("Follow up on %s", wc.Event.Name)
	}
	horizon := step.floatParam("due_in_days", defaultTaskHorizonDays)
	priority, ok := domain.ParsePriority(step.stringParam("priority"))
	if !ok {
		priority = domain.PriorityMedium
	}
	task := &domain.Task{
		Title:       title,
		Description: step.stringParam("description"),
		AssigneeID:  candidates[0],
		DueDate:     wc.engine.now().AddDate(0, 0, int(horizon)),
		Status:      domain.TaskOpen,
		Priority:    priority,
	}
	if err := wc.engine.stores.Tasks.Create(wc.Ctx, task); err != nil {
		return failedResult(err)
	}
	if _, err := wc.engine.notifier.Create(wc.Ctx, task.AssigneeID, string(domain.NotifyTaskAssigned), "Task assigned: "+title, ""); err != nil {
		return warnResult("create_task: assignee notification failed: " + err.Error())
	}
	return okResult()
}

// handleEscalateToManager notifies the context department's manager,
// falling back to the Directors when the department has none.
func handleEscalateToManager(step Step, wc *Context) Result {
	recipients, err := wc.departmentManagers()
	if err != nil {
		return failedResult(err)
	}
	if len(recipients) == 0 {
		recipients, err = wc.anyByRole(domain.RoleDirector)
		if err != nil {
			return failedResult(err)
		}
	}
	if len(recipients) == 0 {
		return warnResult("escalate_to_manager: no manager or director to notify")
	}
	message := step.stringParam("message")
	if message == "" {
		message = fmt.Sprintf("Escalation raised by event %s", wc.Event.Name)
	}
	for _, userID := range recipients {
		if _, err := wc.engine.notifier.Create(wc.Ctx, userID, string(domain.NotifyEscalation), message, ""); err != nil {
			return warnResult("escalate_to_manager: notification failed: " + err.Error())
		}
	}
	wc.engine.sink.Record(wc.Ctx, "workflow_escalation", "workflow_event", wc.Event.ID.String(),
		nil, map[string]any{"recipients": len(recipients), "template_id": wc.TemplateID}, message)
	return okResult()
}

// handleAutoApprove approves the payload's business case as the system
// actor. Re-running against an already approved case is a warning, not
// a failure, so redelivered events stay idempotent.
func handleAutoApprove(_ Step, wc *Context) Result {
	if wc.Payload.CaseID == nil {
		return warnResult("auto_approve: no case in payload")
	}
	before, err := wc.engine.stores.Cases.Get(wc.Ctx, *wc.Payload.CaseID)
	if err != nil {
		return failedResult(err)
	}
	approved, err := wc.engine.stores.Cases.Approve(wc.Ctx, *wc.Payload.CaseID, nil, wc.engine.now())
	if errors.Is(err, store.ErrConflict) {
		if before.Status == domain.CaseApproved {
			return warnResult("auto_approve: case already approved")
		}
		return failedResult(err)
	}
	if err != nil {
		return failedResult(err)
	}
	wc.engine.sink.Record(wc.Ctx, "case_auto_approved", "business_case", approved.ID.String(),
		map[string]any{"status": before.Status}, map[string]any{"status": approved.Status}, "approved by workflow")
	return okResult()
}

func handleScheduleFollowUp(step Step, wc *Context) Result {
	name, ok := domain.ParseEventName(step.stringParam("event"))
	if !ok {
		return failedMessage("schedule_follow_up: unknown event " + step.stringParam("event"))
	}
	delayDays := step.floatParam("delay_days", 1)
	if delayDays <= 0 {
		return failedMessage("schedule_follow_up: delay_days must be positive")
	}
	delay := time.Duration(delayDays * 24 * float64(time.Hour))
	if _, err := wc.engine.EmitAfter(wc.Ctx, name, wc.Payload, delay); err != nil {
		return failedResult(err)
	}
	return okResult()
}

// handleCreateBusinessCase materializes a case from the payload's
// problem, carrying the problem's department, priority and link. A
// case already linked to the problem makes this a no-op.
func handleCreateBusinessCase(step Step, wc *Context) Result {
	problem := wc.problem()
	if problem == nil {
		return warnResult("create_business_case: no problem in payload")
	}
	existing, err := wc.engine.stores.Cases.List(wc.Ctx)
	if err != nil {
		return failedResult(err)
	}
	for _, c := range existing {
		if c.ProblemID != nil && *c.ProblemID == problem.ID {
			return warnResult("create_business_case: case already exists for problem " + problem.Code)
		}
	}
	code, err := wc.engine.stores.Orgs.NextCode(wc.Ctx, "C")
	if err != nil {
		return failedResult(err)
	}
	title := step.stringParam("title")
	if title == "" {
		title = "Business Case: " + problem.Title
	}
	bc := &domain.BusinessCase{
		Code:         code,
		Title:        title,
		Summary:      problem.Description,
		Status:       domain.CaseDraft,
		Priority:     problem.Priority,
		ProblemID:    &problem.ID,
		DepartmentID: problem.DepartmentID,
		CreatedBy:    problem.ReporterID,
	}
	if err := wc.engine.stores.Cases.Create(wc.Ctx, bc); err != nil {
		return failedResult(err)
	}
	if _, err := wc.engine.Emit(wc.Ctx, domain.EventCaseCreated, Payload{
		CaseID:    &bc.ID,
		ProblemID: &problem.ID,
		Snapshot:  CaseSnapshot(bc),
	}); err != nil {
		return warnResult("create_business_case: follow-on event not enqueued: " + err.Error())
	}
	return okResult()
}

// handleAssignAnalyst assigns the least loaded BA to the payload's
// case. A case that already has an analyst keeps it.
func handleAssignAnalyst(_ Step, wc *Context) Result {
	bc := wc.businessCase()
	if bc == nil {
		return warnResult("assign_business_analyst: no case in payload")
	}
	if bc.AnalystID != nil {
		return warnResult("assign_business_analyst: case already assigned")
	}
	analyst, err := wc.pickAnalyst()
	if err != nil {
		return failedResult(err)
	}
	if analyst == nil {
		return warnResult("assign_business_analyst: no analyst available")
	}
	bc.AnalystID = &analyst.ID
	if err := wc.engine.stores.Cases.Update(wc.Ctx, bc); err != nil {
		return failedResult(err)
	}
	if _, err := wc.engine.notifier.Create(wc.Ctx, analyst.ID, string(domain.NotifyCaseAssigned), "Business case assigned: "+bc.Title, ""); err != nil {
		return warnResult("assign_business_analyst: notification failed: " + err.Error())
	}
	return okResult()
}

func handleLogAction(step Step, wc *Context) Result {
	message := step.stringParam("message")
	if message == "" {
		message = "workflow checkpoint"
	}
	wc.engine.sink.Record(wc.Ctx, "workflow_log", "workflow_event", wc.Event.ID.String(),
		nil, map[string]any{"event": wc.Event.Name, "template_id": wc.TemplateID}, message)
	return okResult()
}

