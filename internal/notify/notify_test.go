package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

type captureDeliverer struct {
	delivered []uuid.UUID
	err       error
}

func (c *captureDeliverer) Deliver(_ context.Context, u *domain.User, _ *domain.Notification) error {
	c.delivered = append(c.delivered, u.ID)
	return c.err
}

func setup(t *testing.T) (*memory.Store, context.Context, *domain.User) {
	t.Helper()
	mem := memory.New()
	org := &domain.Organization{Domain: "a.test", Name: "a", Status: domain.OrgActive}
	if err := mem.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("org: %v", err)
	}
	ctx := tenant.System(context.Background(), org.ID)
	u := &domain.User{Email: "u@a.test", Name: "u", Role: domain.RoleStaff, NotifyOptIn: true}
	if err := mem.Users().Create(ctx, u); err != nil {
		t.Fatalf("user: %v", err)
	}
	return mem, ctx, u
}

func TestCreatePersistsAndDelivers(t *testing.T) {
	mem, ctx, u := setup(t)
	d := &captureDeliverer{}
	svc := NewService(mem.Notifications(), mem.Users(), mem.Settings(), d, zerolog.Nop())

	n, err := svc.Create(ctx, u.ID, "case_approved", "case approved", "/cases/1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Event != domain.NotifyCaseApproved {
		t.Fatalf("event = %s", n.Event)
	}
	got, err := svc.ListForUser(ctx, u.ID)
	if err != nil || len(got) != 1 {
		t.Fatalf("list = %v, %v", got, err)
	}
	if len(d.delivered) != 1 || d.delivered[0] != u.ID {
		t.Fatalf("delivered = %v", d.delivered)
	}
}

func TestUnknownEventFallsBackToGeneric(t *testing.T) {
	mem, ctx, u := setup(t)
	svc := NewService(mem.Notifications(), mem.Users(), mem.Settings(), nil, zerolog.Nop())
	n, err := svc.Create(ctx, u.ID, "totally_new_event", "m", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Event != domain.NotifyWorkflowGeneric {
		t.Fatalf("event = %s", n.Event)
	}
}

func TestOptOutSkipsDelivery(t *testing.T) {
	mem, ctx, u := setup(t)
	u.NotifyOptIn = false
	if err := mem.Users().Update(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
	d := &captureDeliverer{}
	svc := NewService(mem.Notifications(), mem.Users(), mem.Settings(), d, zerolog.Nop())
	if _, err := svc.Create(ctx, u.ID, "escalation", "m", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(d.delivered) != 0 {
		t.Fatalf("delivered to opted-out user")
	}
}

func TestDeliveryFailureDoesNotFailCreate(t *testing.T) {
	mem, ctx, u := setup(t)
	d := &captureDeliverer{err: errors.New("smtp down")}
	svc := NewService(mem.Notifications(), mem.Users(), mem.Settings(), d, zerolog.Nop())
	if _, err := svc.Create(ctx, u.ID, "risk_alert", "m", ""); err != nil {
		t.Fatalf("create must not propagate delivery failure: %v", err)
	}
	got, _ := svc.ListForUser(ctx, u.ID)
	if len(got) != 1 {
		t.Fatalf("row not persisted")
	}
}
