package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

func TestCanonicalizeRedactsSensitiveFields(t *testing.T) {
	in := map[string]any{
		"name":          "Ada",
		"password_hash": "x",
		"apiToken":      "y",
		"nested":        map[string]any{"client_secret": "z", "ok": 1},
	}
	out := Canonicalize(in)
	s := string(out)
	for _, leak := range []string{`"x"`, `"y"`, `"z"`} {
		if strings.Contains(s, leak) {
			t.Fatalf("leaked secret in %s", s)
		}
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("canonical output not json: %v", err)
	}
	if back["password_hash"] != "[REDACTED]" {
		t.Fatalf("password_hash = %v", back["password_hash"])
	}
	if back["name"] != "Ada" {
		t.Fatalf("clean field mangled: %v", back["name"])
	}
}

func TestCanonicalizeNil(t *testing.T) {
	if Canonicalize(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	sink := NewSink(failingAudit{}, zerolog.Nop())
	ctx := tenant.System(context.Background(), uuid.New())
	// Must not panic or return anything to the caller.
	sink.Record(ctx, "problem_update", "problem", uuid.NewString(), nil, map[string]any{"a": 1}, "")
}

func TestTrailGatedByRole(t *testing.T) {
	mem := memory.New()
	org := &domain.Organization{Domain: "a.test", Name: "a", Status: domain.OrgActive}
	if err := mem.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("org: %v", err)
	}
	sink := NewSink(mem.Audit(), zerolog.Nop())

	staff := tenant.With(context.Background(), tenant.Context{
		ActorID: uuid.New(), OrgID: org.ID, Role: domain.RoleStaff, Authenticated: true,
	})
	if _, err := sink.Trail(staff, store.AuditFilter{}, 10); !httperr.IsForbidden(err) {
		t.Fatalf("staff trail err=%v want forbidden", err)
	}

	admin := tenant.With(context.Background(), tenant.Context{
		ActorID: uuid.New(), OrgID: org.ID, Role: domain.RoleAdmin, Authenticated: true,
	})
	sink.Record(admin, "role_change", "user", uuid.NewString(), nil, nil, "staff to manager")
	got, err := sink.Trail(admin, store.AuditFilter{}, 10)
	if err != nil {
		t.Fatalf("admin trail: %v", err)
	}
	if len(got) != 1 || got[0].Action != "role_change" {
		t.Fatalf("trail = %+v", got)
	}
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, *domain.AuditEntry) error { return context.DeadlineExceeded }
func (failingAudit) Trail(context.Context, store.AuditFilter, int) ([]domain.AuditEntry, error) {
	return nil, context.DeadlineExceeded
}
func (failingAudit) DeleteOlderThan(context.Context, time.Time) (int, error) {
	return 0, context.DeadlineExceeded
}
