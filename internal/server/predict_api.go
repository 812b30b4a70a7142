package server

import (
	"net/http"
	"time"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

func (h *handler) handlePredictSuccess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.predictor.PredictSuccess(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) handlePredictCycle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.predictor.PredictCycleTime(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) handlePredictAnomaly(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	p, err := h.predictor.DetectAnomaly(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type feedbackView struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	EntityID  string   `json:"entity_id"`
	Predicted float64  `json:"predicted"`
	Actual    *float64 `json:"actual"`
	CreatedAt string   `json:"created_at"`
}

func (h *handler) handleFeedbackList(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParsePredictionKind(r.URL.Query().Get("kind"))
	if !ok {
		writeError(w, r, h.log, httperr.NewFieldError("kind", "must be success, cycle_time or anomaly"))
		return
	}
	rows, err := h.predictor.ListFeedback(r.Context(), kind)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]feedbackView, 0, len(rows))
	for _, row := range rows {
		views = append(views, feedbackView{
			ID:        row.ID.String(),
			Kind:      string(row.Kind),
			EntityID:  row.EntityID.String(),
			Predicted: row.Predicted,
			Actual:    row.Actual,
			CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": views})
}

func (h *handler) handleFeedbackActual(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req struct {
		Actual float64 `json:"actual"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.predictor.SubmitActual(r.Context(), id, req.Actual); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.metrics.Get(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
