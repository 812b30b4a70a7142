// Package workflow is the event engine: durable queue, template-driven
// trigger matching, condition evaluation and action dispatch.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// ActionName identifies a step handler. The registry is closed;
// definitions naming an unknown action are rejected at save time.
type ActionName string

const (
	ActionSendNotification   ActionName = "send_notification"
	ActionCreateTask         ActionName = "create_task"
	ActionEscalateToManager  ActionName = "escalate_to_manager"
	ActionAutoApprove        ActionName = "auto_approve"
	ActionScheduleFollowUp   ActionName = "schedule_follow_up"
	ActionCreateBusinessCase ActionName = "create_business_case"
	ActionAssignAnalyst      ActionName = "assign_business_analyst"
	ActionLogAction          ActionName = "log_action"
)

var allActions = map[ActionName]struct{}{
	ActionSendNotification: {}, ActionCreateTask: {}, ActionEscalateToManager: {},
	ActionAutoApprove: {}, ActionScheduleFollowUp: {}, ActionCreateBusinessCase: {},
	ActionAssignAnalyst: {}, ActionLogAction: {},
}

// Definition is the parsed form of a template's JSON body.
type Definition struct {
	Triggers []Trigger `json:"triggers"`
}

type Trigger struct {
	Event     domain.EventName `json:"event"`
	Condition string           `json:"condition,omitempty"`
	Steps     []Step           `json:"steps"`
}

// Step is one action invocation. Every key of the step object other
// than "action" is an action parameter.
type Step struct {
	Action ActionName
	Params map[string]any
}

func (s *Step) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	name, _ := raw["action"].(string)
	s.Action = ActionName(name)
	delete(raw, "action")
	s.Params = raw
	return nil
}

func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Params)+1)
	for k, v := range s.Params {
		out[k] = v
	}
	out["action"] = string(s.Action)
	return json.Marshal(out)
}

// ParseDefinition decodes and validates a template body: known events,
// known actions, compilable boolean conditions, at least one step per
// trigger. Validation errors carry the trigger index so template
// authors can find the offending entry.
func ParseDefinition(body json.RawMessage) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, httperr.NewFieldError("definition", "not valid JSON: "+err.Error())
	}
	if len(def.Triggers) == 0 {
		return nil, httperr.NewFieldError("triggers", "required")
	}
	fields := map[string]string{}
	for i, tr := range def.Triggers {
		key := fmt.Sprintf("triggers[%d]", i)
		if _, ok := domain.ParseEventName(string(tr.Event)); !ok {
			fields[key+".event"] = "unknown event " + string(tr.Event)
		}
		if tr.Condition != "" {
			if _, err := compileCondition(tr.Condition); err != nil {
				fields[key+".condition"] = err.Error()
			}
		}
		if len(tr.Steps) == 0 {
			fields[key+".steps"] = "required"
		}
		for j, st := range tr.Steps {
			if _, ok := allActions[st.Action]; !ok {
				fields[fmt.Sprintf("%s.steps[%d].action", key, j)] = "unknown action " + string(st.Action)
			}
		}
	}
	if len(fields) > 0 {
		return nil, httperr.NewValidation(fields)
	}
	return &def, nil
}

// TriggersFor returns the triggers of def that fire for event.
func (d *Definition) TriggersFor(event domain.EventName) []Trigger {
	var out []Trigger
	for _, tr := range d.Triggers {
		if tr.Event == event {
			out = append(out, tr)
		}
	}
	return out
}

func (s Step) stringParam(key string) string {
	v, _ := s.Params[key].(string)
	return v
}

func (s Step) floatParam(key string, def float64) float64 {
	switch v := s.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
