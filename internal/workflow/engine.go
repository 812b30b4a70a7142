package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/notify"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

// Payload is the context an event carries to its triggers. Entity ids
// let handlers load fresh state; Snapshot is the flattened view
// conditions evaluate against.
type Payload struct {
	ProblemID   *uuid.UUID                   `json:"problem_id,omitempty"`
	CaseID      *uuid.UUID                   `json:"case_id,omitempty"`
	ProjectID   *uuid.UUID                   `json:"project_id,omitempty"`
	MilestoneID *uuid.UUID                   `json:"milestone_id,omitempty"`
	UserID      *uuid.UUID                   `json:"user_id,omitempty"`
	Reason      string                       `json:"reason,omitempty"`
	Snapshot    map[string]map[string]string `json:"snapshot,omitempty"`
}

// ResultStatus classifies a step outcome. Warnings (an unresolvable
// target, say) do not stop the trigger; failures skip its later steps.
type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultWarning ResultStatus = "warning"
	ResultFailed  ResultStatus = "failed"
)

type Result struct {
	Status  ResultStatus
	Message string
}

func okResult() Result                  { return Result{Status: ResultOK} }
func warnResult(msg string) Result      { return Result{Status: ResultWarning, Message: msg} }
func failedResult(err error) Result     { return Result{Status: ResultFailed, Message: err.Error()} }
func failedMessage(msg string) Result   { return Result{Status: ResultFailed, Message: msg} }

// Stores bundles the repositories the engine and its handlers touch.
type Stores struct {
	Orgs      store.OrganizationStore
	Users     store.UserStore
	Depts     store.DepartmentStore
	Problems  store.ProblemStore
	Cases     store.CaseStore
	Projects  store.ProjectStore
	Tasks     store.TaskStore
	Templates store.TemplateStore
	Queue     store.QueueStore
}

type Engine struct {
	stores   Stores
	notifier *notify.Service
	sink     *audit.Sink
	retry    RetryPolicy
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(stores Stores, notifier *notify.Service, sink *audit.Sink, retry RetryPolicy, log zerolog.Logger) *Engine {
	return &Engine{
		stores:   stores,
		notifier: notifier,
		sink:     sink,
		retry:    retry,
		log:      log.With().Str("component", "workflow").Logger(),
		now:      time.Now,
	}
}

// Emit enqueues an event for the calling tenant. The write-then-enqueue
// pattern assumes idempotent handlers; the caller's business write has
// already committed when Emit runs.
func (e *Engine) Emit(ctx context.Context, name domain.EventName, p Payload) (*domain.QueuedEvent, error) {
	return e.emitAt(ctx, name, p, time.Time{})
}

// EmitAfter enqueues an event that only becomes claimable after delay.
func (e *Engine) EmitAfter(ctx context.Context, name domain.EventName, p Payload, delay time.Duration) (*domain.QueuedEvent, error) {
	return e.emitAt(ctx, name, p, e.now().Add(delay))
}

func (e *Engine) emitAt(ctx context.Context, name domain.EventName, p Payload, due time.Time) (*domain.QueuedEvent, error) {
	if _, ok := domain.ParseEventName(string(name)); !ok {
		return nil, errors.New("workflow: unknown event " + string(name))
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	ev := &domain.QueuedEvent{Name: name, Payload: body, DueAt: due}
	if err := e.stores.Queue.Enqueue(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// SaveTemplate validates and persists a template definition. Invalid
// definitions never reach the store.
func (e *Engine) SaveTemplate(ctx context.Context, tpl *domain.WorkflowTemplate) error {
	if _, err := ParseDefinition(tpl.Definition); err != nil {
		return err
	}
	if err := e.stores.Templates.Put(ctx, tpl); err != nil {
		return err
	}
	e.sink.Record(ctx, "workflow_template_saved", "workflow_template", tpl.ID.String(),
		nil, map[string]any{"name": tpl.Name, "active": tpl.Active}, "")
	return nil
}

// Cancel drops a pending event and records the drop.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	ev, err := e.stores.Queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.stores.Queue.Cancel(ctx, id); err != nil {
		return err
	}
	e.sink.Record(ctx, "workflow_event_cancelled", "workflow_event", id.String(),
		map[string]any{"event": ev.Name, "status": ev.Status}, nil, "cancelled before dispatch")
	return nil
}

// Context is what a step handler runs against: a tenant-scoped request
// context plus the decoded event.
type Context struct {
	Ctx        context.Context
	Event      *domain.QueuedEvent
	Payload    Payload
	TemplateID uuid.UUID
	engine     *Engine
}

// Process dispatches one claimed event against the tenant's active
// templates. Per-trigger isolation: a failed step skips the rest of
// its own trigger and nothing else. The returned error is the event's
// disposition; template-level problems are logged and skipped.
func (e *Engine) Process(ctx context.Context, ev *domain.QueuedEvent) error {
	orgCtx := tenant.System(ctx, ev.OrgID)
	var p Payload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return errors.New("workflow: undecodable payload: " + err.Error())
		}
	}
	templates, err := e.stores.Templates.ListActiveByEvent(orgCtx, ev.Name)
	if err != nil {
		return err
	}
	log := e.log.With().
		Stringer("event_id", ev.ID).
		Str("event", string(ev.Name)).
		Stringer("org_id", ev.OrgID).
		Logger()
	for _, tpl := range templates {
		def, err := ParseDefinition(tpl.Definition)
		if err != nil {
			log.Warn().Err(err).Stringer("template_id", tpl.ID).Msg("skipping unparsable template")
			continue
		}
		for _, tr := range def.TriggersFor(ev.Name) {
			if tr.Condition != "" {
				match, err := evalCondition(tr.Condition, p.Snapshot)
				if err != nil {
					log.Warn().Err(err).Stringer("template_id", tpl.ID).Msg("condition evaluation failed, trigger skipped")
					continue
				}
				if !match {
					continue
				}
			}
			e.runTrigger(orgCtx, ev, p, tpl.ID, tr, log)
		}
	}
	return nil
}

func (e *Engine) runTrigger(ctx context.Context, ev *domain.QueuedEvent, p Payload, templateID uuid.UUID, tr Trigger, log zerolog.Logger) {
	wc := &Context{Ctx: ctx, Event: ev, Payload: p, TemplateID: templateID, engine: e}
	for i, step := range tr.Steps {
		handler, ok := handlers[step.Action]
		if !ok {
			log.Error().Str("action", string(step.Action)).Msg("no handler registered, trigger aborted")
			return
		}
		res := handler(step, wc)
		switch res.Status {
		case ResultWarning:
			log.Warn().
				Stringer("template_id", templateID).
				Str("action", string(step.Action)).
				Str("detail", res.Message).
				Msg("step completed with warning")
		case ResultFailed:
			log.Error().
				Stringer("template_id", templateID).
				Str("action", string(step.Action)).
				Int("step", i).
				Str("detail", res.Message).
				Msg("step failed, remaining steps of trigger skipped")
			return
		}
	}
}
