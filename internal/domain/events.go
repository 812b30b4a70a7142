package domain

// EventName identifies a workflow trigger event. Closed set; templates
// referencing an unknown event are rejected at save time.
type EventName string

const (
	EventProblemCreated   EventName = "problem_created"
	EventProblemEscalated EventName = "problem_escalated"
	EventCaseCreated      EventName = "case_created"
	EventCaseApproved     EventName = "case_approved"
	EventProjectCreated   EventName = "project_created"
	EventMilestoneDueSoon EventName = "milestone_due_soon"
	EventMilestoneOverdue EventName = "milestone_overdue"
	EventStatusChange     EventName = "status_change"
	EventFollowUp         EventName = "follow_up"
)

var allEvents = map[EventName]struct{}{
	EventProblemCreated: {}, EventProblemEscalated: {}, EventCaseCreated: {},
	EventCaseApproved: {}, EventProjectCreated: {}, EventMilestoneDueSoon: {},
	EventMilestoneOverdue: {}, EventStatusChange: {}, EventFollowUp: {},
}

func ParseEventName(s string) (EventName, bool) {
	_, ok := allEvents[EventName(s)]
	return EventName(s), ok
}

// NotificationEvent types a persisted notification. Unknown inbound
// values map to NotifyWorkflowGeneric.
type NotificationEvent string

const (
	NotifyProblemCreated       NotificationEvent = "problem_created"
	NotifyCaseApproved         NotificationEvent = "case_approved"
	NotifyCaseAssigned         NotificationEvent = "case_assigned"
	NotifyProjectCreated       NotificationEvent = "project_created"
	NotifyMilestoneDueSoon     NotificationEvent = "milestone_due_soon"
	NotifyMilestoneOverdue     NotificationEvent = "milestone_overdue"
	NotifyMilestoneRescheduled NotificationEvent = "milestone_rescheduled"
	NotifyEscalation           NotificationEvent = "escalation"
	NotifyRiskAlert            NotificationEvent = "risk_alert"
	NotifyAnomalyInvestigation NotificationEvent = "anomaly_investigation"
	NotifyTaskAssigned         NotificationEvent = "task_assigned"
	NotifyWorkflowGeneric      NotificationEvent = "workflow_generic"
)

var allNotificationEvents = map[NotificationEvent]struct{}{
	NotifyProblemCreated: {}, NotifyCaseApproved: {}, NotifyCaseAssigned: {},
	NotifyProjectCreated: {}, NotifyMilestoneDueSoon: {}, NotifyMilestoneOverdue: {},
	NotifyMilestoneRescheduled: {}, NotifyEscalation: {}, NotifyRiskAlert: {},
	NotifyAnomalyInvestigation: {}, NotifyTaskAssigned: {}, NotifyWorkflowGeneric: {},
}

// NormalizeNotificationEvent maps unknown event types to the generic
// workflow bucket instead of rejecting them.
func NormalizeNotificationEvent(s string) NotificationEvent {
	if _, ok := allNotificationEvents[NotificationEvent(s)]; ok {
		return NotificationEvent(s)
	}
	return NotifyWorkflowGeneric
}

// EventStatus is the lifecycle state of a queued workflow event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventRunning   EventStatus = "running"
	EventDone      EventStatus = "done"
	EventFailed    EventStatus = "failed"
	EventCancelled EventStatus = "cancelled"
)
