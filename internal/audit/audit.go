// Package audit records who changed what. Entries are append-only and
// the sink swallows its own failures: a broken audit store downgrades
// to an error log, it never fails the business write that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/authz"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
	"github.com/deciframe-hq/deciframe/pkg/uuidv7"
)

// sensitiveFragments mark field names whose values must never reach the
// trail, whatever the caller passed in.
var sensitiveFragments = []string{"password", "secret", "token", "hash"}

const redacted = "[REDACTED]"

type Sink struct {
	entries store.AuditStore
	log     zerolog.Logger
	now     func() time.Time
}

func NewSink(entries store.AuditStore, log zerolog.Logger) *Sink {
	return &Sink{
		entries: entries,
		log:     log.With().Str("component", "audit").Logger(),
		now:     time.Now,
	}
}

// Record appends one trail entry. before and after may be nil, a
// json.RawMessage, or any marshallable value; both are canonicalized
// and redacted before storage.
func (s *Sink) Record(ctx context.Context, action, targetType, targetID string, before, after any, details string) {
	tc, _ := tenant.From(ctx)
	e := &domain.AuditEntry{
		ID:         entryID(),
		OrgID:      tc.OrgID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Before:     Canonicalize(before),
		After:      Canonicalize(after),
		Details:    details,
		CreatedAt:  s.now().UTC(),
	}
	if tc.Authenticated && tc.ActorID != uuid.Nil {
		id := tc.ActorID
		e.ActorID = &id
	}
	if err := s.entries.Append(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("action", action).
			Str("target_type", targetType).
			Str("target_id", targetID).
			Msg("audit append failed, entry dropped")
	}
}

// entryID prefers time-ordered ids so the trail clusters by insertion
// order in the index.
func entryID() uuid.UUID {
	if id, err := uuidv7.New(); err == nil {
		return id
	}
	return uuid.New()
}

// Trail returns entries for the caller's organization, newest first.
// Platform actors may read across organizations; everyone else is
// confined to their own.
func (s *Sink) Trail(ctx context.Context, f store.AuditFilter, limit int) ([]domain.AuditEntry, error) {
	tc, _ := tenant.From(ctx)
	if !tc.Authenticated && !tc.CrossTenant {
		return nil, httperr.NewUnauthenticated("sign in required")
	}
	if !tc.CrossTenant && !authz.IsAdminTier(tc) && !authz.IsSuperAdminTier(tc) {
		return nil, httperr.NewForbidden("audit trail requires an admin role")
	}
	return s.entries.Trail(ctx, f, limit)
}

// Cleanup deletes entries older than the cutoff and records the
// deletion itself.
func (s *Sink) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	tc, _ := tenant.From(ctx)
	if !authz.IsSuperAdminTier(tc) && !tc.CrossTenant {
		return 0, httperr.NewForbidden("audit cleanup requires a super admin role")
	}
	cutoff := s.now().UTC().Add(-olderThan)
	n, err := s.entries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.Record(ctx, "audit_cleanup", "audit", uuid.Nil.String(), nil,
		map[string]any{"deleted": n, "cutoff": cutoff}, "")
	return n, nil
}

// Canonicalize renders v as JSON with sorted keys, RFC3339 timestamps
// and sensitive fields redacted. nil stays nil.
func Canonicalize(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage(`{"_error":"unserializable"}`)
		}
		raw = b
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return json.RawMessage(`{"_error":"unserializable"}`)
	}
	out, err := json.Marshal(redact(decoded))
	if err != nil {
		return json.RawMessage(`{"_error":"unserializable"}`)
	}
	return out
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if sensitiveKey(k) {
				t[k] = redacted
				continue
			}
			t[k] = redact(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = redact(inner)
		}
		return t
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
