// Package store defines the tenant-scoped repository interfaces. Every
// implementation narrows reads by the organization of the tenant
// context and stamps it on writes; a by-id lookup that exists in
// another organization reports ErrNotFound, never its existence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrNoTenant    = errors.New("store: no tenant in context")
	ErrCrossTenant = errors.New("store: cross-tenant reference")
	ErrConflict    = errors.New("store: conflict")
	ErrQueueEmpty  = errors.New("store: queue empty")
)

// Scope extracts the tenant context or fails. Implementations call it
// at the top of every accessor; it is the single choke point for the
// "forgot to filter by org" class of bugs.
func Scope(ctx context.Context) (tenant.Context, error) {
	tc, ok := tenant.From(ctx)
	if !ok || (!tc.Authenticated && !tc.CrossTenant) {
		return tenant.Context{}, ErrNoTenant
	}
	return tc, nil
}

type OrganizationStore interface {
	// Create is a bootstrap operation: it runs before any tenant
	// context exists for the new organization.
	Create(ctx context.Context, org *domain.Organization) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
	// ByDomain is used by registration and login routing, before
	// authentication; it is not tenant-scoped.
	ByDomain(ctx context.Context, emailDomain string) (*domain.Organization, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrgStatus) error
	// NextCode advances the per-organization sequence behind stable
	// human codes such as P0042.
	NextCode(ctx context.Context, prefix string) (string, error)
}

type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// ByEmail is global: emails are unique across organizations and
	// the login path has no tenant yet.
	ByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	ListByDeptRole(ctx context.Context, deptID uuid.UUID, role domain.Role) ([]domain.User, error)
	Count(ctx context.Context) (int, error)
}

type DepartmentStore interface {
	Create(ctx context.Context, d *domain.Department) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Department, error)
	List(ctx context.Context) ([]domain.Department, error)
}

// ProblemFilter narrows problem listings; an empty DeptIDs slice with
// Scoped=true yields nothing (pending-department visibility).
type ProblemFilter struct {
	Scoped  bool
	DeptIDs []uuid.UUID
	Status  domain.ProblemStatus
}

type ProblemStore interface {
	Create(ctx context.Context, p *domain.Problem) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Problem, error)
	Update(ctx context.Context, p *domain.Problem) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ProblemFilter) ([]domain.Problem, error)
}

type CaseStore interface {
	Create(ctx context.Context, c *domain.BusinessCase) error
	Get(ctx context.Context, id uuid.UUID) (*domain.BusinessCase, error)
	Update(ctx context.Context, c *domain.BusinessCase) error
	List(ctx context.Context) ([]domain.BusinessCase, error)
	// Approve transitions to approved atomically; it fails with
	// ErrConflict when the stored status does not allow the move.
	Approve(ctx context.Context, id uuid.UUID, approver *uuid.UUID, at time.Time) (*domain.BusinessCase, error)
	CountOpenByAnalyst(ctx context.Context, analystID uuid.UUID) (int, error)
}

type ProjectStore interface {
	Create(ctx context.Context, p *domain.Project) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	Update(ctx context.Context, p *domain.Project) error
	List(ctx context.Context) ([]domain.Project, error)
	CreateMilestone(ctx context.Context, m *domain.Milestone) error
	Milestones(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error)
	UpdateMilestone(ctx context.Context, m *domain.Milestone) error
	// Reschedule shifts every incomplete milestone with a due date at
	// or after `from` by delay and moves the planned end date, all in
	// one transaction. It returns the shifted milestones.
	Reschedule(ctx context.Context, projectID uuid.UUID, delay time.Duration, from time.Time) ([]domain.Milestone, error)
}

type TaskStore interface {
	Create(ctx context.Context, t *domain.Task) error
	ListByAssignee(ctx context.Context, userID uuid.UUID) ([]domain.Task, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

type TemplateStore interface {
	Put(ctx context.Context, t *domain.WorkflowTemplate) error
	Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error)
	List(ctx context.Context) ([]domain.WorkflowTemplate, error)
	// ListActiveByEvent returns the tenant's active templates whose
	// definition contains a trigger for the event.
	ListActiveByEvent(ctx context.Context, event domain.EventName) ([]domain.WorkflowTemplate, error)
}

type QueueStore interface {
	Enqueue(ctx context.Context, ev *domain.QueuedEvent) error
	// Claim atomically takes the due pending event with the lowest
	// sequence number and marks it running. ErrQueueEmpty when none.
	// Claiming requires the cross-tenant capability: the worker pool
	// drains all organizations.
	Claim(ctx context.Context, now time.Time) (*domain.QueuedEvent, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	// Retry reschedules a running event back to pending.
	Retry(ctx context.Context, id uuid.UUID, nextAttempt time.Time, lastErr string) error
	Fail(ctx context.Context, id uuid.UUID, lastErr string) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueuedEvent, error)
	ListByStatus(ctx context.Context, status domain.EventStatus, limit int) ([]domain.QueuedEvent, error)
}

type AuditFilter struct {
	TargetType string
	TargetID   string
	ActorID    *uuid.UUID
	Since      time.Time
	Until      time.Time
}

type AuditStore interface {
	Append(ctx context.Context, e *domain.AuditEntry) error
	Trail(ctx context.Context, f AuditFilter, limit int) ([]domain.AuditEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type FeedbackStore interface {
	Create(ctx context.Context, f *domain.PredictionFeedback) error
	SetActual(ctx context.Context, id uuid.UUID, actual float64) error
	List(ctx context.Context, kind domain.PredictionKind) ([]domain.PredictionFeedback, error)
}

type SettingsStore interface {
	OrgSettings(ctx context.Context) (domain.OrgSettings, error)
	PutOrgSettings(ctx context.Context, s domain.OrgSettings) error
	Thresholds(ctx context.Context) (domain.AIThresholds, error)
	PutThresholds(ctx context.Context, t domain.AIThresholds) error
}

// ReportSnapshot carries the raw per-organization KPI numbers the
// metrics aggregator shapes and caches.
type ReportSnapshot struct {
	Problems          int
	Cases             int
	ApprovedCases     int
	Projects          int
	CompletedProjects int
	LeadTimeDays      *float64
	ProjectedBenefit  float64
	RealizedBenefit   float64
	Stalled           int
	DeptProblemCounts []DeptCount
	Problems30d       int
	Cases30d          int
}

type DeptCount struct {
	Name  string
	Count int
}

type ReportingStore interface {
	Snapshot(ctx context.Context, now time.Time) (ReportSnapshot, error)
}
