package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID        uuid.UUID
	Domain    string
	Name      string
	Industry  string
	Size      string
	Country   string
	Status    OrgStatus
	CreatedAt time.Time
}

type User struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Email        string
	Name         string
	Role         Role
	DepartmentID *uuid.UUID // nil means pending assignment
	ReportsTo    *uuid.UUID
	PasswordHash string
	OIDCSubject  string
	Theme        string
	Timezone     string
	Onboarded    bool
	NotifyOptIn  bool
	CreatedAt    time.Time
}

// PendingDepartment reports whether the user has not yet been placed in
// the department forest and therefore has reduced visibility.
func (u *User) PendingDepartment() bool { return u.DepartmentID == nil }

type Department struct {
	ID       uuid.UUID
	OrgID    uuid.UUID
	Name     string
	ParentID *uuid.UUID
}

type Problem struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Code         string // stable human code, e.g. P0042
	Title        string
	Description  string
	Priority     Priority
	Status       ProblemStatus
	IssueType    IssueType
	AIConfidence float64
	DepartmentID *uuid.UUID
	ReporterID   uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type BusinessCase struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	Code            string
	Title           string
	Summary         string
	CostEstimate    float64
	ActualCost      float64
	BenefitEstimate float64
	ROIPercent      float64
	Status          CaseStatus
	ProjectType     ProjectType
	Priority        Priority
	ProblemID       *uuid.UUID
	AnalystID       *uuid.UUID
	DepartmentID    *uuid.UUID
	CreatedBy       uuid.UUID
	ApprovedBy      *uuid.UUID
	ApprovedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Project struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	Code          string
	Name          string
	Status        ProjectStatus
	Priority      Priority
	StartDate     *time.Time
	PlannedEnd    *time.Time
	ActualEnd     *time.Time
	ActualBenefit *float64
	ManagerID     *uuid.UUID
	DepartmentID  *uuid.UUID
	CaseID        *uuid.UUID
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Milestone struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	ProjectID  uuid.UUID
	Name       string
	DueDate    time.Time
	Completed  bool
	AssigneeID *uuid.UUID
}

type Task struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Title       string
	Description string
	AssigneeID  uuid.UUID
	CreatedBy   *uuid.UUID // nil when created by the workflow engine
	DueDate     time.Time
	Status      TaskStatus
	Priority    Priority
	CreatedAt   time.Time
}

type Notification struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	UserID    uuid.UUID
	Event     NotificationEvent
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}

type WorkflowTemplate struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	Name       string
	Active     bool
	Definition json.RawMessage
	UpdatedAt  time.Time
}

// QueuedEvent is one durable row of the workflow event queue. Seq is a
// store-assigned monotone sequence; events written by one transaction
// are claimed in Seq order.
type QueuedEvent struct {
	ID            uuid.UUID
	Seq           int64
	OrgID         uuid.UUID
	Name          EventName
	Payload       json.RawMessage
	Status        EventStatus
	Attempts      int
	NextAttemptAt time.Time
	DueAt         time.Time
	EnqueuedAt    time.Time
	LastError     string
}

type AuditEntry struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	ActorID    *uuid.UUID // nil for system actions
	Action     string
	TargetType string
	TargetID   string
	Before     json.RawMessage
	After      json.RawMessage
	Details    string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
}

type PredictionFeedback struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Kind      PredictionKind
	EntityID  uuid.UUID
	Predicted float64
	Actual    *float64
	UserID    *uuid.UUID
	CreatedAt time.Time
}

type OrgSettings struct {
	OrgID         uuid.UUID
	Currency      string
	DateFormat    string
	TimeFormat    string
	Timezone      string
	DefaultTheme  string
	BusinessHours string
	NotifyEnabled bool
}

// AIThresholds are the organization-configurable gates that turn
// predictions into automated actions.
type AIThresholds struct {
	OrgID                 uuid.UUID
	SuccessAlertThreshold float64
	CycleTimeAlertFactor  float64
}

func DefaultAIThresholds(orgID uuid.UUID) AIThresholds {
	return AIThresholds{
		OrgID:                 orgID,
		SuccessAlertThreshold: 0.5,
		CycleTimeAlertFactor:  1.25,
	}
}

func DefaultOrgSettings(orgID uuid.UUID) OrgSettings {
	return OrgSettings{
		OrgID:         orgID,
		Currency:      "USD",
		DateFormat:    "2006-01-02",
		TimeFormat:    "15:04",
		Timezone:      "UTC",
		DefaultTheme:  "light",
		BusinessHours: "09:00-17:00",
		NotifyEnabled: true,
	}
}
