package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
)

func (s *Store) Notifications() store.NotificationStore { return (*notificationStore)(s) }
func (s *Store) Templates() store.TemplateStore         { return (*templateStore)(s) }
func (s *Store) Queue() store.QueueStore                { return (*queueStore)(s) }

type notificationStore Store

func (s *notificationStore) Create(ctx context.Context, n *domain.Notification) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &n.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[n.UserID]
	if !ok || u.OrgID != n.OrgID {
		return store.ErrCrossTenant
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifications[n.ID] = *n
	return nil
}

func (s *notificationStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if visible(tc, n.OrgID) && n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *notificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || !visible(tc, n.OrgID) {
		return store.ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

type templateStore Store

func (s *templateStore) Put(ctx context.Context, t *domain.WorkflowTemplate) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &t.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.templates[t.ID]; ok && existing.OrgID != t.OrgID {
		return store.ErrNotFound
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.UpdatedAt = s.now()
	s.templates[t.ID] = *t
	return nil
}

func (s *templateStore) Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok || !visible(tc, t.OrgID) {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *templateStore) List(ctx context.Context) ([]domain.WorkflowTemplate, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WorkflowTemplate
	for _, t := range s.templates {
		if visible(tc, t.OrgID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *templateStore) ListActiveByEvent(ctx context.Context, event domain.EventName) ([]domain.WorkflowTemplate, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WorkflowTemplate
	for _, t := range s.templates {
		if !visible(tc, t.OrgID) || !t.Active {
			continue
		}
		if definitionMentionsEvent(t.Definition, event) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// definitionMentionsEvent is the store-level containment filter; the
// engine re-parses and matches triggers precisely.
func definitionMentionsEvent(def json.RawMessage, event domain.EventName) bool {
	var doc struct {
		Triggers []struct {
			Event string `json:"event"`
		} `json:"triggers"`
	}
	if err := json.Unmarshal(def, &doc); err != nil {
		return false
	}
	for _, tr := range doc.Triggers {
		if tr.Event == string(event) {
			return true
		}
	}
	return false
}

type queueStore Store

func (s *queueStore) Enqueue(ctx context.Context, ev *domain.QueuedEvent) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &ev.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	s.queueSeq++
	ev.Seq = s.queueSeq
	now := s.now()
	ev.EnqueuedAt = now
	if ev.DueAt.IsZero() {
		ev.DueAt = now
	}
	if ev.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = ev.DueAt
	}
	ev.Status = domain.EventPending
	cp := *ev
	s.queue = append(s.queue, &cp)
	return nil
}

func (s *queueStore) Claim(ctx context.Context, now time.Time) (*domain.QueuedEvent, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.QueuedEvent
	for _, ev := range s.queue {
		if ev.Status != domain.EventPending {
			continue
		}
		if !tc.CrossTenant && ev.OrgID != tc.OrgID {
			continue
		}
		if ev.DueAt.After(now) || ev.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || ev.Seq < best.Seq {
			best = ev
		}
	}
	if best == nil {
		return nil, store.ErrQueueEmpty
	}
	best.Status = domain.EventRunning
	cp := *best
	return &cp, nil
}

func (s *queueStore) find(tcOrg uuid.UUID, crossTenant bool, id uuid.UUID) *domain.QueuedEvent {
	for _, ev := range s.queue {
		if ev.ID == id && (crossTenant || ev.OrgID == tcOrg) {
			return ev
		}
	}
	return nil
}

func (s *queueStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, func(ev *domain.QueuedEvent) {
		ev.Status = domain.EventDone
	})
}

func (s *queueStore) Retry(ctx context.Context, id uuid.UUID, nextAttempt time.Time, lastErr string) error {
	return s.transition(ctx, id, func(ev *domain.QueuedEvent) {
		ev.Status = domain.EventPending
		ev.Attempts++
		ev.NextAttemptAt = nextAttempt
		ev.LastError = lastErr
	})
}

func (s *queueStore) Fail(ctx context.Context, id uuid.UUID, lastErr string) error {
	return s.transition(ctx, id, func(ev *domain.QueuedEvent) {
		ev.Status = domain.EventFailed
		ev.Attempts++
		ev.LastError = lastErr
	})
}

func (s *queueStore) Cancel(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.find(tc.OrgID, tc.CrossTenant, id)
	if ev == nil {
		return store.ErrNotFound
	}
	if ev.Status != domain.EventPending {
		return store.ErrConflict
	}
	ev.Status = domain.EventCancelled
	return nil
}

func (s *queueStore) transition(ctx context.Context, id uuid.UUID, apply func(*domain.QueuedEvent)) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.find(tc.OrgID, tc.CrossTenant, id)
	if ev == nil {
		return store.ErrNotFound
	}
	apply(ev)
	return nil
}

func (s *queueStore) Get(ctx context.Context, id uuid.UUID) (*domain.QueuedEvent, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.queue {
		if ev.ID == id && (tc.CrossTenant || ev.OrgID == tc.OrgID) {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *queueStore) ListByStatus(ctx context.Context, status domain.EventStatus, limit int) ([]domain.QueuedEvent, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QueuedEvent
	for _, ev := range s.queue {
		if ev.Status != status {
			continue
		}
		if !tc.CrossTenant && ev.OrgID != tc.OrgID {
			continue
		}
		out = append(out, *ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
