package workflow

import (
	"context"
	"encoding/json"
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

type fixture struct {
	mem    *memory.Store
	engine *Engine
	proc   *Processor
	orgID  uuid.UUID
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	org := &domain.Organization{Domain: "acme.test", Name: "acme", Status: domain.OrgActive}
	if err := mem.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("org: %v", err)
	}
	sink := audit.NewSink(mem.Audit(), zerolog.Nop())
	notifier := notify.NewService(mem.Notifications(), mem.Users(), mem.Settings(), nil, zerolog.Nop())
	engine := NewEngine(Stores{
		Orgs:      mem.Organizations(),
		Users:     mem.Users(),
		Depts:     mem.Departments(),
		Problems:  mem.Problems(),
		Cases:     mem.Cases(),
		Projects:  mem.Projects(),
		Tasks:     mem.Tasks(),
		Templates: mem.Templates(),
		Queue:     mem.Queue(),
	}, notifier, sink, DefaultRetryPolicy(), zerolog.Nop())
	return &fixture{
		mem:    mem,
		engine: engine,
		proc:   NewProcessor(engine, mem.Queue(), 1, time.Millisecond),
		orgID:  org.ID,
		ctx:    tenant.System(context.Background(), org.ID),
	}
}

func (f *fixture) user(t *testing.T, name string, role domain.Role, dept *uuid.UUID) *domain.User {
	t.Helper()
	u := &domain.User{Email: name + "@acme.test", Name: name, Role: role, DepartmentID: dept, NotifyOptIn: true}
	if err := f.mem.Users().Create(f.ctx, u); err != nil {
		t.Fatalf("user %s: %v", name, err)
	}
	return u
}

func (f *fixture) template(t *testing.T, body string) *domain.WorkflowTemplate {
	t.Helper()
	tpl := &domain.WorkflowTemplate{Name: "t", Active: true, Definition: json.RawMessage(body)}
	if err := f.engine.SaveTemplate(f.ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	return tpl
}

// drain processes queued events until the queue is empty.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	worker := tenant.Platform(context.Background())
	for i := 0; i < 100; i++ {
		progressed, err := f.proc.Step(worker)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !progressed {
			return
		}
	}
	t.Fatalf("queue did not drain")
}

func TestParseDefinitionRejectsUnknownEventAndAction(t *testing.T) {
	_, err := ParseDefinition(json.RawMessage(`{
		"triggers": [
			{"event": "problem_created", "steps": [{"action": "send_notification", "target": "problem_owner"}]},
			{"event": "made_up", "steps": [{"action": "launch_rockets"}]}
		]
	}`))
	v, ok := httperr.AsValidation(err)
	if !ok {
		t.Fatalf("err=%v want validation", err)
	}
	if _, ok := v.Fields["triggers[1].event"]; !ok {
		t.Fatalf("missing event field error: %v", v.Fields)
	}
	if _, ok := v.Fields["triggers[1].steps[0].action"]; !ok {
		t.Fatalf("missing action field error: %v", v.Fields)
	}
}

func TestParseDefinitionRejectsBadCondition(t *testing.T) {
	_, err := ParseDefinition(json.RawMessage(`{
		"triggers": [{"event": "problem_created", "condition": "problem.priority ==", "steps": [{"action": "log_action"}]}]
	}`))
	if _, ok := httperr.AsValidation(err); !ok {
		t.Fatalf("err=%v want validation", err)
	}
	// Non-boolean conditions are rejected too.
	_, err = ParseDefinition(json.RawMessage(`{
		"triggers": [{"event": "problem_created", "condition": "problem.priority", "steps": [{"action": "log_action"}]}]
	}`))
	if _, ok := httperr.AsValidation(err); !ok {
		t.Fatalf("err=%v want validation for non-boolean", err)
	}
}

func TestRegistryCoversAllActions(t *testing.T) {
	for name := range allActions {
		if _, ok := handlers[name]; !ok {
			t.Fatalf("action %s has no handler", name)
		}
	}
	for name := range handlers {
		if _, ok := allActions[name]; !ok {
			t.Fatalf("handler %s not in the closed action set", name)
		}
	}
}

func TestConditionGatesTrigger(t *testing.T) {
	f := newFixture(t)
	reporter := f.user(t, "reporter", domain.RoleStaff, nil)
	f.template(t, `{
		"triggers": [{
			"event": "problem_created",
			"condition": "problem.priority == \"High\"",
			"steps": [{"action": "send_notification", "target": "problem_owner", "message": "high priority problem"}]
		}]
	}`)

	low := &domain.Problem{Title: "slow printer", Priority: domain.PriorityLow, Status: domain.ProblemOpen, ReporterID: reporter.ID}
	if err := f.mem.Problems().Create(f.ctx, low); err != nil {
		t.Fatalf("problem: %v", err)
	}
	if _, err := f.engine.Emit(f.ctx, domain.EventProblemCreated, Payload{
		ProblemID: &low.ID,
		Snapshot:  map[string]map[string]string{"problem": {"priority": string(low.Priority)}},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	f.drain(t)
	if got, _ := f.mem.Notifications().ListByUser(f.ctx, reporter.ID); len(got) != 0 {
		t.Fatalf("low priority fired the trigger: %v", got)
	}

	high := &domain.Problem{Title: "outage", Priority: domain.PriorityHigh, Status: domain.ProblemOpen, ReporterID: reporter.ID}
	if err := f.mem.Problems().Create(f.ctx, high); err != nil {
		t.Fatalf("problem: %v", err)
	}
	if _, err := f.engine.Emit(f.ctx, domain.EventProblemCreated, Payload{
		ProblemID: &high.ID,
		Snapshot:  map[string]map[string]string{"problem": {"priority": string(high.Priority)}},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	f.drain(t)
	got, _ := f.mem.Notifications().ListByUser(f.ctx, reporter.ID)
	if len(got) != 1 || got[0].Message != "high priority problem" {
		t.Fatalf("notifications = %+v", got)
	}
}

func TestStepFailureSkipsRestOfTriggerOnly(t *testing.T) {
	f := newFixture(t)
	reporter := f.user(t, "reporter", domain.RoleStaff, nil)
	// First trigger fails on its first step (unknown follow-up event);
	// its second step must not run. Second trigger still runs.
	f.template(t, `{
		"triggers": [
			{"event": "problem_created", "steps": [
				{"action": "schedule_follow_up", "event": "not_an_event"},
				{"action": "send_notification", "target": "problem_owner", "message": "from failed trigger"}
			]},
			{"event": "problem_created", "steps": [
				{"action": "send_notification", "target": "problem_owner", "message": "from healthy trigger"}
			]}
		]
	}`)
	p := &domain.Problem{Title: "x", Priority: domain.PriorityHigh, ReporterID: reporter.ID}
	if err := f.mem.Problems().Create(f.ctx, p); err != nil {
		t.Fatalf("problem: %v", err)
	}
	if _, err := f.engine.Emit(f.ctx, domain.EventProblemCreated, Payload{ProblemID: &p.ID}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	f.drain(t)
	got, _ := f.mem.Notifications().ListByUser(f.ctx, reporter.ID)
	if len(got) != 1 || got[0].Message != "from healthy trigger" {
		t.Fatalf("notifications = %+v", got)
	}
}

func TestSameBatchProcessedInOrder(t *testing.T) {
	f := newFixture(t)
	reporter := f.user(t, "reporter", domain.RoleStaff, nil)
	f.template(t, `{
		"triggers": [
			{"event": "problem_created", "steps": [{"action": "send_notification", "target": "problem_owner", "message": "first"}]},
			{"event": "problem_escalated", "steps": [{"action": "send_notification", "target": "problem_owner", "message": "second"}]}
		]
	}`)
	p := &domain.Problem{Title: "x", ReporterID: reporter.ID}
	if err := f.mem.Problems().Create(f.ctx, p); err != nil {
		t.Fatalf("problem: %v", err)
	}
	if _, err := f.engine.Emit(f.ctx, domain.EventProblemCreated, Payload{ProblemID: &p.ID}); err != nil {
		t.Fatalf("emit 1: %v", err)
	}
	if _, err := f.engine.Emit(f.ctx, domain.EventProblemEscalated, Payload{ProblemID: &p.ID}); err != nil {
		t.Fatalf("emit 2: %v", err)
	}
	f.drain(t)
	got, _ := f.mem.Notifications().ListByUser(f.ctx, reporter.ID)
	if len(got) != 2 {
		t.Fatalf("notifications = %+v", got)
	}
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("out of order: %q then %q", got[0].Message, got[1].Message)
	}
}

func TestScheduleFollowUpIsFutureDated(t *testing.T) {
	f := newFixture(t)
	reporter := f.user(t, "reporter", domain.RoleStaff, nil)
	f.template(t, `{
		"triggers": [{"event": "case_created", "steps": [{"action": "schedule_follow_up", "event": "follow_up", "delay_days": 2}]}]
	}`)
	bc := &domain.BusinessCase{Title: "c", Status: domain.CaseDraft, CreatedBy: reporter.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	if _, err := f.engine.Emit(f.ctx, domain.EventCaseCreated, Payload{CaseID: &bc.ID}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	f.drain(t)

	pending, err := f.mem.Queue().ListByStatus(f.ctx, domain.EventPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].Name != domain.EventFollowUp {
		t.Fatalf("pending = %+v", pending)
	}
	if until := time.Until(pending[0].DueAt); until < 47*time.Hour {
		t.Fatalf("due too soon: %v", until)
	}
}

func TestAutoApproveIdempotent(t *testing.T) {
	f := newFixture(t)
	ba := f.user(t, "ba", domain.RoleBA, nil)
	bc := &domain.BusinessCase{Title: "c", Status: domain.CaseUnderReview, CreatedBy: ba.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	ev := &domain.QueuedEvent{OrgID: f.orgID, Name: domain.EventCaseCreated}
	wc := &Context{Ctx: f.ctx, Event: ev, Payload: Payload{CaseID: &bc.ID}, engine: f.engine}

	if res := handleAutoApprove(Step{}, wc); res.Status != ResultOK {
		t.Fatalf("first approve: %+v", res)
	}
	// Redelivery of the same event must not fail the trigger.
	if res := handleAutoApprove(Step{}, wc); res.Status != ResultWarning {
		t.Fatalf("second approve: %+v", res)
	}
	got, _ := f.mem.Cases().Get(f.ctx, bc.ID)
	if got.Status != domain.CaseApproved || got.ApprovedBy != nil {
		t.Fatalf("case = %+v", got)
	}
}

func TestAssignAnalystPicksLowestLoadThenLowestID(t *testing.T) {
	f := newFixture(t)
	ba1 := f.user(t, "ba1", domain.RoleBA, nil)
	ba2 := f.user(t, "ba2", domain.RoleBA, nil)
	staff := f.user(t, "staff", domain.RoleStaff, nil)

	// ba1 carries one open case; ba2 is free.
	busy := &domain.BusinessCase{Title: "busy", Status: domain.CaseUnderReview, CreatedBy: staff.ID, AnalystID: &ba1.ID}
	if err := f.mem.Cases().Create(f.ctx, busy); err != nil {
		t.Fatalf("busy: %v", err)
	}
	bc := &domain.BusinessCase{Title: "new", Status: domain.CaseDraft, CreatedBy: staff.ID}
	if err := f.mem.Cases().Create(f.ctx, bc); err != nil {
		t.Fatalf("case: %v", err)
	}
	ev := &domain.QueuedEvent{OrgID: f.orgID, Name: domain.EventCaseCreated}
	wc := &Context{Ctx: f.ctx, Event: ev, Payload: Payload{CaseID: &bc.ID}, engine: f.engine}
	if res := handleAssignAnalyst(Step{}, wc); res.Status != ResultOK {
		t.Fatalf("assign: %+v", res)
	}
	got, _ := f.mem.Cases().Get(f.ctx, bc.ID)
	if got.AnalystID == nil || *got.AnalystID != ba2.ID {
		t.Fatalf("analyst = %v want ba2", got.AnalystID)
	}

	// Equal loads break the tie on the lower id.
	bc2 := &domain.BusinessCase{Title: "tie", Status: domain.CaseDraft, CreatedBy: staff.ID}
	if err := f.mem.Cases().Create(f.ctx, bc2); err != nil {
		t.Fatalf("case2: %v", err)
	}
	wc2 := &Context{Ctx: f.ctx, Event: ev, Payload: Payload{CaseID: &bc2.ID}, engine: f.engine}
	if res := handleAssignAnalyst(Step{}, wc2); res.Status != ResultOK {
		t.Fatalf("assign2: %+v", res)
	}
	got2, _ := f.mem.Cases().Get(f.ctx, bc2.ID)
	want := ba1.ID
	if ba2.ID.String() < ba1.ID.String() {
		want = ba2.ID
	}
	if got2.AnalystID == nil || *got2.AnalystID != want {
		t.Fatalf("tie break analyst = %v want %v", got2.AnalystID, want)
	}
}

func TestEscalateFallsBackToDirector(t *testing.T) {
	f := newFixture(t)
	reporter := f.user(t, "reporter", domain.RoleStaff, nil)
	director := f.user(t, "director", domain.RoleDirector, nil)
	p := &domain.Problem{Title: "x", ReporterID: reporter.ID}
	if err := f.mem.Problems().Create(f.ctx, p); err != nil {
		t.Fatalf("problem: %v", err)
	}
	ev := &domain.QueuedEvent{OrgID: f.orgID, Name: domain.EventProblemEscalated}
	wc := &Context{Ctx: f.ctx, Event: ev, Payload: Payload{ProblemID: &p.ID}, engine: f.engine}
	if res := handleEscalateToManager(Step{Params: map[string]any{}}, wc); res.Status != ResultOK {
		t.Fatalf("escalate: %+v", res)
	}
	got, _ := f.mem.Notifications().ListByUser(f.ctx, director.ID)
	if len(got) != 1 || got[0].Event != domain.NotifyEscalation {
		t.Fatalf("director notifications = %+v", got)
	}
}

func TestCreateBusinessCaseFromProblemOnce(t *testing.T) {
	f := newFixture(t)
	reporter := f.user(t, "reporter", domain.RoleStaff, nil)
	p := &domain.Problem{Title: "chronic outage", Description: "d", Priority: domain.PriorityHigh, ReporterID: reporter.ID}
	if err := f.mem.Problems().Create(f.ctx, p); err != nil {
		t.Fatalf("problem: %v", err)
	}
	ev := &domain.QueuedEvent{OrgID: f.orgID, Name: domain.EventProblemEscalated}
	wc := &Context{Ctx: f.ctx, Event: ev, Payload: Payload{ProblemID: &p.ID}, engine: f.engine}

	if res := handleCreateBusinessCase(Step{Params: map[string]any{}}, wc); res.Status != ResultOK {
		t.Fatalf("create: %+v", res)
	}
	if res := handleCreateBusinessCase(Step{Params: map[string]any{}}, wc); res.Status != ResultWarning {
		t.Fatalf("second create: %+v", res)
	}
	cases, _ := f.mem.Cases().List(f.ctx)
	if len(cases) != 1 {
		t.Fatalf("cases = %d want 1", len(cases))
	}
	c := cases[0]
	if c.ProblemID == nil || *c.ProblemID != p.ID || c.Priority != domain.PriorityHigh || c.CreatedBy != reporter.ID {
		t.Fatalf("case = %+v", c)
	}
}

func TestCancelledEventDroppedWithAudit(t *testing.T) {
	f := newFixture(t)
	ev, err := f.engine.Emit(f.ctx, domain.EventProblemCreated, Payload{})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := f.engine.Cancel(f.ctx, ev.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.drain(t)
	got, err := f.mem.Queue().Get(f.ctx, ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.EventCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestUnresolvedTargetIsWarningNotFailure(t *testing.T) {
	f := newFixture(t)
	ev := &domain.QueuedEvent{OrgID: f.orgID, Name: domain.EventProblemCreated}
	wc := &Context{Ctx: f.ctx, Event: ev, engine: f.engine}
	res := handleSendNotification(Step{Params: map[string]any{"target": TargetMilestoneOwner}}, wc)
	if res.Status != ResultWarning {
		t.Fatalf("res = %+v want warning", res)
	}
}
