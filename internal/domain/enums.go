package domain

type OrgStatus string

const (
	OrgPending   OrgStatus = "pending"
	OrgTrial     OrgStatus = "trial"
	OrgActive    OrgStatus = "active"
	OrgContacted OrgStatus = "contacted"
	OrgDeleted   OrgStatus = "deleted"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), true
	}
	return "", false
}

// PriorityRank encodes priority for feature vectors. Unknown values
// rank as Medium.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	default:
		return 2
	}
}

type IssueType string

const (
	IssueSystem  IssueType = "SYSTEM"
	IssueProcess IssueType = "PROCESS"
	IssueOther   IssueType = "OTHER"
)

func ParseIssueType(s string) (IssueType, bool) {
	switch IssueType(s) {
	case IssueSystem, IssueProcess, IssueOther:
		return IssueType(s), true
	}
	return "", false
}

type ProblemStatus string

const (
	ProblemOpen     ProblemStatus = "open"
	ProblemInReview ProblemStatus = "in_review"
	ProblemResolved ProblemStatus = "resolved"
	ProblemClosed   ProblemStatus = "closed"
)

type CaseStatus string

const (
	CaseDraft       CaseStatus = "draft"
	CaseUnderReview CaseStatus = "under_review"
	CaseApproved    CaseStatus = "approved"
	CaseRejected    CaseStatus = "rejected"
	CaseCancelled   CaseStatus = "cancelled"
)

// caseTransitions lists the legal status moves for a business case.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseDraft:       {CaseUnderReview, CaseCancelled},
	CaseUnderReview: {CaseApproved, CaseRejected, CaseCancelled},
	CaseRejected:    {CaseUnderReview, CaseCancelled},
}

func CaseTransitionAllowed(from, to CaseStatus) bool {
	for _, t := range caseTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type ProjectType string

const (
	ProjectTechnology ProjectType = "TECHNOLOGY"
	ProjectProcessImp ProjectType = "PROCESS"
	ProjectStrategic  ProjectType = "STRATEGIC"
)

type ProjectStatus string

const (
	ProjectPlanned    ProjectStatus = "planned"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectOnHold     ProjectStatus = "on_hold"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// TerminalProjectStatus reports whether a project can no longer change.
func TerminalProjectStatus(s ProjectStatus) bool {
	return s == ProjectCompleted || s == ProjectCancelled
}

type TaskStatus string

const (
	TaskOpen TaskStatus = "open"
	TaskDone TaskStatus = "done"
)

type PredictionKind string

const (
	PredictSuccess   PredictionKind = "success"
	PredictCycleTime PredictionKind = "cycle_time"
	PredictAnomaly   PredictionKind = "anomaly"
)

func ParsePredictionKind(s string) (PredictionKind, bool) {
	switch PredictionKind(s) {
	case PredictSuccess, PredictCycleTime, PredictAnomaly:
		return PredictionKind(s), true
	}
	return "", false
}
