package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		if err := sameOrg(ctx, tx, "users", n.UserID, n.OrgID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, org_id, user_id, event, message, link, read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, n.OrgID, n.UserID, n.Event, n.Message, n.Link, n.Read, n.CreatedAt)
		return mapErr(err)
	})
}

func (s *notificationStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, user_id, event, message, link, read, created_at FROM notifications
		WHERE user_id = $1 AND ($2::uuid IS NULL OR org_id = $2)
		ORDER BY created_at`, userID, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.UserID, &n.Event, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err())
}

func (s *notificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = true
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type templateStore Store

const templateColumns = `id, org_id, name, active, definition, updated_at`

func scanTemplate(row pgx.Row) (*domain.WorkflowTemplate, error) {
	var t domain.WorkflowTemplate
	err := row.Scan(&t.ID, &t.OrgID, &t.Name, &t.Active, &t.Definition, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *templateStore) Put(ctx context.Context, t *domain.WorkflowTemplate) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &t.OrgID); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.UpdatedAt = time.Now().UTC()
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		// An id owned by another organization is indistinguishable
		// from a missing one.
		var owner uuid.UUID
		err := tx.QueryRow(ctx, `SELECT org_id FROM workflow_templates WHERE id = $1 FOR UPDATE`, t.ID).Scan(&owner)
		if err == nil && owner != t.OrgID {
			return store.ErrNotFound
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_templates (id, org_id, name, active, definition, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET name = $3, active = $4, definition = $5, updated_at = $6`,
			t.ID, t.OrgID, t.Name, t.Active, t.Definition, t.UpdatedAt)
		return mapErr(err)
	})
}

func (s *templateStore) Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return scanTemplate(s.pool.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM workflow_templates
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)))
}

func (s *templateStore) List(ctx context.Context) ([]domain.WorkflowTemplate, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM workflow_templates
		WHERE ($1::uuid IS NULL OR org_id = $1) ORDER BY name`, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	return collectTemplates(rows)
}

// ListActiveByEvent pushes the trigger containment check into jsonb;
// the engine re-parses and matches triggers precisely.
func (s *templateStore) ListActiveByEvent(ctx context.Context, event domain.EventName) ([]domain.WorkflowTemplate, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM workflow_templates
		WHERE active AND ($1::uuid IS NULL OR org_id = $1)
		  AND definition->'triggers' @> jsonb_build_array(jsonb_build_object('event', $2::text))
		ORDER BY name`, orgParam(tc), string(event))
	if err != nil {
		return nil, mapErr(err)
	}
	return collectTemplates(rows)
}

func collectTemplates(rows pgx.Rows) ([]domain.WorkflowTemplate, error) {
	defer rows.Close()
	var out []domain.WorkflowTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, mapErr(rows.Err())
}

type queueStore Store

const queueColumns = `id, seq, org_id, name, payload, status, attempts, next_attempt_at, due_at, enqueued_at, last_error`

func scanQueued(row pgx.Row) (*domain.QueuedEvent, error) {
	var ev domain.QueuedEvent
	err := row.Scan(&ev.ID, &ev.Seq, &ev.OrgID, &ev.Name, &ev.Payload, &ev.Status, &ev.Attempts,
		&ev.NextAttemptAt, &ev.DueAt, &ev.EnqueuedAt, &ev.LastError)
	if err != nil {
		return nil, mapErr(err)
	}
	return &ev, nil
}

func (s *queueStore) Enqueue(ctx context.Context, ev *domain.QueuedEvent) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &ev.OrgID); err != nil {
		return err
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	now := time.Now().UTC()
	ev.EnqueuedAt = now
	if ev.DueAt.IsZero() {
		ev.DueAt = now
	}
	if ev.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = ev.DueAt
	}
	ev.Status = domain.EventPending
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO event_queue (id, org_id, name, payload, status, attempts, next_attempt_at, due_at, enqueued_at, last_error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING seq`,
			ev.ID, ev.OrgID, ev.Name, ev.Payload, ev.Status, ev.Attempts,
			ev.NextAttemptAt, ev.DueAt, ev.EnqueuedAt, ev.LastError).Scan(&ev.Seq)
		return mapErr(err)
	})
}

// Claim takes the oldest due pending event with SKIP LOCKED so
// concurrent workers never double-claim.
func (s *queueStore) Claim(ctx context.Context, now time.Time) (*domain.QueuedEvent, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := scanQueued(s.pool.QueryRow(ctx, `
		UPDATE event_queue SET status = $3
		WHERE id = (
			SELECT id FROM event_queue
			WHERE status = $2 AND due_at <= $1 AND next_attempt_at <= $1
			  AND ($4::uuid IS NULL OR org_id = $4)
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+queueColumns,
		now, domain.EventPending, domain.EventRunning, orgParam(tc)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrQueueEmpty
		}
		return nil, err
	}
	return ev, nil
}

func (s *queueStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, `status = $3`, domain.EventDone)
}

func (s *queueStore) Retry(ctx context.Context, id uuid.UUID, nextAttempt time.Time, lastErr string) error {
	return s.transition(ctx, id, `status = $3, attempts = attempts + 1, next_attempt_at = $4, last_error = $5`,
		domain.EventPending, nextAttempt, lastErr)
}

func (s *queueStore) Fail(ctx context.Context, id uuid.UUID, lastErr string) error {
	return s.transition(ctx, id, `status = $3, attempts = attempts + 1, last_error = $4`,
		domain.EventFailed, lastErr)
}

func (s *queueStore) transition(ctx context.Context, id uuid.UUID, set string, args ...any) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	all := append([]any{id, orgParam(tc)}, args...)
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_queue SET `+set+`
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, all...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *queueStore) Cancel(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		var status domain.EventStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM event_queue
			WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2) FOR UPDATE`,
			id, orgParam(tc)).Scan(&status)
		if err != nil {
			return mapErr(err)
		}
		if status != domain.EventPending {
			return store.ErrConflict
		}
		_, err = tx.Exec(ctx, `UPDATE event_queue SET status = $2 WHERE id = $1`, id, domain.EventCancelled)
		return mapErr(err)
	})
}

func (s *queueStore) Get(ctx context.Context, id uuid.UUID) (*domain.QueuedEvent, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return scanQueued(s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+` FROM event_queue
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)))
}

func (s *queueStore) ListByStatus(ctx context.Context, status domain.EventStatus, limit int) ([]domain.QueuedEvent, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+` FROM event_queue
		WHERE status = $2 AND ($1::uuid IS NULL OR org_id = $1)
		ORDER BY seq LIMIT $3`, orgParam(tc), status, lim)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.QueuedEvent
	for rows.Next() {
		ev, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, mapErr(rows.Err())
}
