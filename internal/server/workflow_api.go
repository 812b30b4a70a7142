package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

type templateView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Active     bool            `json:"active"`
	Definition json.RawMessage `json:"definition"`
	UpdatedAt  string          `json:"updated_at"`
}

func viewTemplate(t *domain.WorkflowTemplate) templateView {
	return templateView{
		ID:         t.ID.String(),
		Name:       t.Name,
		Active:     t.Active,
		Definition: t.Definition,
		UpdatedAt:  t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *handler) handleTemplateSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Active     bool            `json:"active"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, h.log, httperr.NewFieldError("name", "required"))
		return
	}
	tpl := &domain.WorkflowTemplate{
		Name:       req.Name,
		Active:     req.Active,
		Definition: req.Definition,
	}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(w, r, h.log, httperr.NewFieldError("id", "must be a uuid"))
			return
		}
		tpl.ID = id
	}
	if err := h.engine.SaveTemplate(r.Context(), tpl); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTemplate(tpl))
}

func (h *handler) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := h.stores.Templates().List(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]templateView, 0, len(templates))
	for i := range templates {
		views = append(views, viewTemplate(&templates[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": views})
}

type queuedEventView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	NextAttemptAt string `json:"next_attempt_at"`
	LastError     string `json:"last_error,omitempty"`
}

// handleQueueList surfaces the event queue for operators; the default
// view is the failed events that need attention.
func (h *handler) handleQueueList(w http.ResponseWriter, r *http.Request) {
	status := domain.EventFailed
	if s := r.URL.Query().Get("status"); s != "" {
		switch domain.EventStatus(s) {
		case domain.EventPending, domain.EventRunning, domain.EventDone,
			domain.EventFailed, domain.EventCancelled:
			status = domain.EventStatus(s)
		default:
			writeError(w, r, h.log, httperr.NewFieldError("status", "unknown status"))
			return
		}
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, h.log, httperr.NewFieldError("limit", "must be 1-1000"))
			return
		}
		limit = n
	}
	events, err := h.stores.Queue().ListByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]queuedEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, queuedEventView{
			ID:            ev.ID.String(),
			Name:          string(ev.Name),
			Status:        string(ev.Status),
			Attempts:      ev.Attempts,
			NextAttemptAt: ev.NextAttemptAt.UTC().Format(time.RFC3339),
			LastError:     ev.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (h *handler) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.engine.Cancel(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
