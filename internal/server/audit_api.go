package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

type auditEntryView struct {
	ID         string          `json:"id"`
	ActorID    *string         `json:"actor_id"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Details    string          `json:"details,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func viewAuditEntry(e *domain.AuditEntry) auditEntryView {
	v := auditEntryView{
		ID:         e.ID.String(),
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Before:     e.Before,
		After:      e.After,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.ActorID != nil {
		s := e.ActorID.String()
		v.ActorID = &s
	}
	return v
}

func (h *handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
	}
	if s := q.Get("actor_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("actor_id", "must be a uuid"))
			return
		}
		f.ActorID = &id
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if s := q.Get(name); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, r, h.log, httperr.NewFieldError(name, "must be RFC3339"))
				return
			}
			*dst = t
		}
	}
	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, h.log, httperr.NewFieldError("limit", "must be 1-1000"))
			return
		}
		limit = n
	}

	entries, err := h.audit.Trail(r.Context(), f, limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]auditEntryView, 0, len(entries))
	for i := range entries {
		views = append(views, viewAuditEntry(&entries[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
