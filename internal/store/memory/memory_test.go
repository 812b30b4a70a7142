package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

func orgCtx(orgID uuid.UUID) context.Context {
	return tenant.System(context.Background(), orgID)
}

func seedOrg(t *testing.T, s *Store, emailDomain string) uuid.UUID {
	t.Helper()
	org := &domain.Organization{Domain: emailDomain, Name: emailDomain, Status: domain.OrgActive}
	if err := s.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org.ID
}

func TestInsertStampsOrgFromContext(t *testing.T) {
	s := New()
	orgID := seedOrg(t, s, "acme.test")
	ctx := orgCtx(orgID)

	u := &domain.User{Email: "ada@acme.test", Name: "Ada", Role: domain.RoleAdmin}
	if err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.OrgID != orgID {
		t.Fatalf("org=%s want %s", u.OrgID, orgID)
	}
	p := &domain.Problem{Title: "x", Priority: domain.PriorityLow, Status: domain.ProblemOpen, ReporterID: u.ID}
	if err := s.Problems().Create(ctx, p); err != nil {
		t.Fatalf("create problem: %v", err)
	}
	if p.OrgID != orgID {
		t.Fatalf("problem org=%s want %s", p.OrgID, orgID)
	}
}

func TestForeignOrgInsertRejected(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	b := seedOrg(t, s, "b.test")

	p := &domain.Problem{OrgID: b, Title: "x", ReporterID: uuid.New()}
	err := s.Problems().Create(orgCtx(a), p)
	if !errors.Is(err, store.ErrCrossTenant) {
		t.Fatalf("err=%v want ErrCrossTenant", err)
	}
}

func TestCrossTenantLookupMasked(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	b := seedOrg(t, s, "b.test")

	reporter := &domain.User{Email: "r@a.test", Name: "R", Role: domain.RoleStaff}
	if err := s.Users().Create(orgCtx(a), reporter); err != nil {
		t.Fatalf("create reporter: %v", err)
	}
	p := &domain.Problem{Title: "leak", Status: domain.ProblemOpen, ReporterID: reporter.ID}
	if err := s.Problems().Create(orgCtx(a), p); err != nil {
		t.Fatalf("create problem: %v", err)
	}

	_, err := s.Problems().Get(orgCtx(b), p.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound (masked)", err)
	}
	// Reads in A still see it.
	if _, err := s.Problems().Get(orgCtx(a), p.ID); err != nil {
		t.Fatalf("same-org get: %v", err)
	}
}

func TestListScopedToOrg(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	b := seedOrg(t, s, "b.test")
	ra := &domain.User{Email: "ra@a.test", Name: "ra", Role: domain.RoleStaff}
	rb := &domain.User{Email: "rb@b.test", Name: "rb", Role: domain.RoleStaff}
	if err := s.Users().Create(orgCtx(a), ra); err != nil {
		t.Fatalf("ra: %v", err)
	}
	if err := s.Users().Create(orgCtx(b), rb); err != nil {
		t.Fatalf("rb: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Problems().Create(orgCtx(a), &domain.Problem{Title: "pa", ReporterID: ra.ID}); err != nil {
			t.Fatalf("pa: %v", err)
		}
	}
	if err := s.Problems().Create(orgCtx(b), &domain.Problem{Title: "pb", ReporterID: rb.ID}); err != nil {
		t.Fatalf("pb: %v", err)
	}

	got, err := s.Problems().List(orgCtx(a), store.ProblemFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	for _, p := range got {
		if p.OrgID != a {
			t.Fatalf("leaked row from org %s", p.OrgID)
		}
	}
}

func TestCrossEntityReferenceValidated(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	b := seedOrg(t, s, "b.test")

	ra := &domain.User{Email: "ra@a.test", Name: "ra", Role: domain.RoleStaff}
	if err := s.Users().Create(orgCtx(a), ra); err != nil {
		t.Fatalf("ra: %v", err)
	}
	pa := &domain.Problem{Title: "pa", ReporterID: ra.ID}
	if err := s.Problems().Create(orgCtx(a), pa); err != nil {
		t.Fatalf("pa: %v", err)
	}

	rb := &domain.User{Email: "rb@b.test", Name: "rb", Role: domain.RoleStaff}
	if err := s.Users().Create(orgCtx(b), rb); err != nil {
		t.Fatalf("rb: %v", err)
	}
	c := &domain.BusinessCase{Title: "bad link", ProblemID: &pa.ID, CreatedBy: rb.ID}
	err := s.Cases().Create(orgCtx(b), c)
	if !errors.Is(err, store.ErrCrossTenant) {
		t.Fatalf("err=%v want ErrCrossTenant", err)
	}
}

func TestCaseApproveTransitionGuard(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	ctx := orgCtx(a)
	u := &domain.User{Email: "u@a.test", Name: "u", Role: domain.RoleBA}
	if err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("u: %v", err)
	}
	c := &domain.BusinessCase{Title: "c", Status: domain.CaseUnderReview, CreatedBy: u.ID}
	if err := s.Cases().Create(ctx, c); err != nil {
		t.Fatalf("c: %v", err)
	}

	if _, err := s.Cases().Approve(ctx, c.ID, &u.ID, time.Now()); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Double approval is an invalid transition.
	if _, err := s.Cases().Approve(ctx, c.ID, &u.ID, time.Now()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
}

func TestQueueClaimOrderAndRetry(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	ctx := orgCtx(a)
	now := time.Now()

	e1 := &domain.QueuedEvent{Name: domain.EventProblemCreated}
	e2 := &domain.QueuedEvent{Name: domain.EventCaseCreated}
	if err := s.Queue().Enqueue(ctx, e1); err != nil {
		t.Fatalf("enq e1: %v", err)
	}
	if err := s.Queue().Enqueue(ctx, e2); err != nil {
		t.Fatalf("enq e2: %v", err)
	}

	worker := tenant.Platform(context.Background())
	got1, err := s.Queue().Claim(worker, now.Add(time.Second))
	if err != nil {
		t.Fatalf("claim1: %v", err)
	}
	if got1.ID != e1.ID {
		t.Fatalf("claimed %s first, want e1", got1.Name)
	}
	got2, err := s.Queue().Claim(worker, now.Add(time.Second))
	if err != nil {
		t.Fatalf("claim2: %v", err)
	}
	if got2.ID != e2.ID {
		t.Fatalf("claimed %s second, want e2", got2.Name)
	}
	if _, err := s.Queue().Claim(worker, now.Add(time.Second)); !errors.Is(err, store.ErrQueueEmpty) {
		t.Fatalf("err=%v want ErrQueueEmpty", err)
	}

	// Retry puts it back, invisible until its next attempt time.
	if err := s.Queue().Retry(worker, got1.ID, now.Add(time.Hour), "boom"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := s.Queue().Claim(worker, now.Add(time.Second)); !errors.Is(err, store.ErrQueueEmpty) {
		t.Fatalf("backoff not honored: %v", err)
	}
	back, err := s.Queue().Claim(worker, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("claim after backoff: %v", err)
	}
	if back.Attempts != 1 || back.LastError != "boom" {
		t.Fatalf("attempts=%d lastErr=%q", back.Attempts, back.LastError)
	}
}

func TestQueueCancelOnlyPending(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	ctx := orgCtx(a)

	ev := &domain.QueuedEvent{Name: domain.EventProblemCreated}
	if err := s.Queue().Enqueue(ctx, ev); err != nil {
		t.Fatalf("enq: %v", err)
	}
	if err := s.Queue().Cancel(ctx, ev.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	worker := tenant.Platform(context.Background())
	if _, err := s.Queue().Claim(worker, time.Now().Add(time.Second)); !errors.Is(err, store.ErrQueueEmpty) {
		t.Fatalf("cancelled event must not be claimed: %v", err)
	}
	if err := s.Queue().Cancel(ctx, ev.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict for non-pending", err)
	}
}

func TestRescheduleShiftsIncompleteTogether(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	ctx := orgCtx(a)
	u := &domain.User{Email: "pm@a.test", Name: "pm", Role: domain.RolePM}
	if err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("u: %v", err)
	}
	now := time.Now()
	end := now.AddDate(0, 0, 40)
	pr := &domain.Project{Name: "p", CreatedBy: u.ID, PlannedEnd: &end}
	if err := s.Projects().Create(ctx, pr); err != nil {
		t.Fatalf("pr: %v", err)
	}
	done := domain.Milestone{ProjectID: pr.ID, Name: "done", DueDate: now.AddDate(0, 0, 10), Completed: true}
	open1 := domain.Milestone{ProjectID: pr.ID, Name: "open1", DueDate: now.AddDate(0, 0, 20)}
	open2 := domain.Milestone{ProjectID: pr.ID, Name: "open2", DueDate: now.AddDate(0, 0, 30)}
	for _, m := range []*domain.Milestone{&done, &open1, &open2} {
		if err := s.Projects().CreateMilestone(ctx, m); err != nil {
			t.Fatalf("ms: %v", err)
		}
	}

	shifted, err := s.Projects().Reschedule(ctx, pr.ID, 20*24*time.Hour, now)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(shifted) != 2 {
		t.Fatalf("shifted=%d want 2", len(shifted))
	}
	got, err := s.Projects().Get(ctx, pr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.PlannedEnd.Equal(end.Add(20 * 24 * time.Hour)) {
		t.Fatalf("planned end not shifted: %v", got.PlannedEnd)
	}
	ms, _ := s.Projects().Milestones(ctx, pr.ID)
	for _, m := range ms {
		if m.Name == "done" && !m.DueDate.Equal(done.DueDate) {
			t.Fatalf("completed milestone must not move")
		}
	}
}

func TestWriteHookFires(t *testing.T) {
	s := New()
	a := seedOrg(t, s, "a.test")
	var fired []uuid.UUID
	s.SetWriteHook(func(org uuid.UUID) { fired = append(fired, org) })

	ctx := orgCtx(a)
	u := &domain.User{Email: "u@a.test", Name: "u", Role: domain.RoleStaff}
	if err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("u: %v", err)
	}
	if err := s.Problems().Create(ctx, &domain.Problem{Title: "p", ReporterID: u.ID}); err != nil {
		t.Fatalf("p: %v", err)
	}
	if len(fired) != 1 || fired[0] != a {
		t.Fatalf("hook fired=%v", fired)
	}
}

func TestPlatformAuditEntryWithoutOrg(t *testing.T) {
	s := New()
	orgID := seedOrg(t, s, "a.test")

	platform := tenant.Platform(context.Background())
	e := &domain.AuditEntry{Action: "rate_limited", TargetType: "route", TargetID: "/api/login"}
	if err := s.Audit().Append(platform, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.OrgID != uuid.Nil {
		t.Fatalf("org=%s want none", e.OrgID)
	}

	entries, err := s.Audit().Trail(platform, store.AuditFilter{}, 0)
	if err != nil {
		t.Fatalf("platform trail: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "rate_limited" {
		t.Fatalf("platform trail=%+v", entries)
	}

	scoped, err := s.Audit().Trail(orgCtx(orgID), store.AuditFilter{}, 0)
	if err != nil {
		t.Fatalf("org trail: %v", err)
	}
	for _, got := range scoped {
		if got.OrgID == uuid.Nil {
			t.Fatal("org trail leaked a platform entry")
		}
	}
}
