package server

import (
	"net/http"
	"time"

	"github.com/deciframe-hq/deciframe/internal/domain"
)

type taskView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	DueDate  string `json:"due_date"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func (h *handler) handleTaskList(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	tasks, err := h.stores.Tasks().ListByAssignee(r.Context(), tc.ActorID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{
			ID:       t.ID.String(),
			Title:    t.Title,
			DueDate:  t.DueDate.UTC().Format(dateLayout),
			Status:   string(t.Status),
			Priority: string(t.Priority),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

type notificationView struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Link      string `json:"link"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

func viewNotification(n *domain.Notification) notificationView {
	return notificationView{
		ID:        n.ID.String(),
		Event:     string(n.Event),
		Message:   n.Message,
		Link:      n.Link,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *handler) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	tc, _ := currentTenant(r.Context())
	notifications, err := h.notifier.ListForUser(r.Context(), tc.ActorID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	views := make([]notificationView, 0, len(notifications))
	for i := range notifications {
		views = append(views, viewNotification(&notifications[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": views})
}

func (h *handler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.notifier.MarkRead(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
