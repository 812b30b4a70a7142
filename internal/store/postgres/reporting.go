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

func (s *Store) Audit() store.AuditStore         { return (*auditStore)(s) }
func (s *Store) Feedback() store.FeedbackStore   { return (*feedbackStore)(s) }
func (s *Store) Settings() store.SettingsStore   { return (*settingsStore)(s) }
func (s *Store) Reporting() store.ReportingStore { return (*reportingStore)(s) }

type auditStore Store

func (s *auditStore) Append(ctx context.Context, e *domain.AuditEntry) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	// Platform callers may append entries with no owning org; security
	// events rejected before authentication have none. Those rows carry
	// a NULL org_id and stay invisible to org-scoped trails.
	if !tc.CrossTenant || e.OrgID != uuid.Nil {
		if err := stamp(tc, &e.OrgID); err != nil {
			return err
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var org *uuid.UUID
	if e.OrgID != uuid.Nil {
		org = &e.OrgID
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, org_id, actor_id, action, target_type, target_id, before, after, details, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, org, e.ActorID, e.Action, e.TargetType, e.TargetID, e.Before, e.After, e.Details, e.IP, e.UserAgent, e.CreatedAt)
	return mapErr(err)
}

func (s *auditStore) Trail(ctx context.Context, f store.AuditFilter, limit int) ([]domain.AuditEntry, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var targetType, targetID *string
	if f.TargetType != "" {
		targetType = &f.TargetType
	}
	if f.TargetID != "" {
		targetID = &f.TargetID
	}
	var since, until *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}
	if !f.Until.IsZero() {
		until = &f.Until
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, actor_id, action, target_type, target_id, before, after, details, ip, user_agent, created_at
		FROM audit_log
		WHERE ($1::uuid IS NULL OR org_id = $1)
		  AND ($2::text IS NULL OR target_type = $2)
		  AND ($3::text IS NULL OR target_id = $3)
		  AND ($4::uuid IS NULL OR actor_id = $4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at <= $6)
		ORDER BY created_at DESC
		LIMIT $7`, orgParam(tc), targetType, targetID, f.ActorID, since, until, lim)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var org *uuid.UUID
		if err := rows.Scan(&e.ID, &org, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID,
			&e.Before, &e.After, &e.Details, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		if org != nil {
			e.OrgID = *org
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

func (s *auditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM audit_log
		WHERE created_at < $2 AND ($1::uuid IS NULL OR org_id = $1)`, orgParam(tc), cutoff)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

type feedbackStore Store

func (s *feedbackStore) Create(ctx context.Context, f *domain.PredictionFeedback) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &f.OrgID); err != nil {
		return err
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO prediction_feedback (id, org_id, kind, entity_id, predicted, actual, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.OrgID, f.Kind, f.EntityID, f.Predicted, f.Actual, f.UserID, f.CreatedAt)
	return mapErr(err)
}

func (s *feedbackStore) SetActual(ctx context.Context, id uuid.UUID, actual float64) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE prediction_feedback SET actual = $3
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc), actual)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *feedbackStore) List(ctx context.Context, kind domain.PredictionKind) ([]domain.PredictionFeedback, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, kind, entity_id, predicted, actual, user_id, created_at
		FROM prediction_feedback
		WHERE kind = $2 AND ($1::uuid IS NULL OR org_id = $1)
		ORDER BY created_at`, orgParam(tc), kind)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.PredictionFeedback
	for rows.Next() {
		var f domain.PredictionFeedback
		if err := rows.Scan(&f.ID, &f.OrgID, &f.Kind, &f.EntityID, &f.Predicted, &f.Actual, &f.UserID, &f.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, f)
	}
	return out, mapErr(rows.Err())
}

type settingsStore Store

func (s *settingsStore) OrgSettings(ctx context.Context) (domain.OrgSettings, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return domain.OrgSettings{}, err
	}
	var st domain.OrgSettings
	err = s.pool.QueryRow(ctx, `
		SELECT org_id, currency, date_format, time_format, timezone, default_theme, business_hours, notify_enabled
		FROM org_settings WHERE org_id = $1`, tc.OrgID).
		Scan(&st.OrgID, &st.Currency, &st.DateFormat, &st.TimeFormat, &st.Timezone, &st.DefaultTheme, &st.BusinessHours, &st.NotifyEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultOrgSettings(tc.OrgID), nil
	}
	if err != nil {
		return domain.OrgSettings{}, mapErr(err)
	}
	return st, nil
}

func (s *settingsStore) PutOrgSettings(ctx context.Context, st domain.OrgSettings) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &st.OrgID); err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO org_settings (org_id, currency, date_format, time_format, timezone, default_theme, business_hours, notify_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id) DO UPDATE SET currency = $2, date_format = $3, time_format = $4,
			timezone = $5, default_theme = $6, business_hours = $7, notify_enabled = $8`,
		st.OrgID, st.Currency, st.DateFormat, st.TimeFormat, st.Timezone, st.DefaultTheme, st.BusinessHours, st.NotifyEnabled)
	return mapErr(err)
}

func (s *settingsStore) Thresholds(ctx context.Context) (domain.AIThresholds, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return domain.AIThresholds{}, err
	}
	var t domain.AIThresholds
	err = s.pool.QueryRow(ctx, `
		SELECT org_id, success_alert_threshold, cycle_time_alert_factor
		FROM ai_thresholds WHERE org_id = $1`, tc.OrgID).
		Scan(&t.OrgID, &t.SuccessAlertThreshold, &t.CycleTimeAlertFactor)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultAIThresholds(tc.OrgID), nil
	}
	if err != nil {
		return domain.AIThresholds{}, mapErr(err)
	}
	return t, nil
}

func (s *settingsStore) PutThresholds(ctx context.Context, t domain.AIThresholds) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &t.OrgID); err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ai_thresholds (org_id, success_alert_threshold, cycle_time_alert_factor)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id) DO UPDATE SET success_alert_threshold = $2, cycle_time_alert_factor = $3`,
		t.OrgID, t.SuccessAlertThreshold, t.CycleTimeAlertFactor)
	return mapErr(err)
}

type reportingStore Store

// Snapshot gathers the per-organization KPI numbers in one round trip
// per entity family; the aggregator caches the shaped result.
func (s *reportingStore) Snapshot(ctx context.Context, now time.Time) (store.ReportSnapshot, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return store.ReportSnapshot{}, err
	}
	org := orgParam(tc)
	cutoff30 := now.AddDate(0, 0, -30)
	cutoffStalled := now.AddDate(0, 0, -14)

	var snap store.ReportSnapshot
	err = s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE created_at > $2)
		FROM problems WHERE ($1::uuid IS NULL OR org_id = $1)`, org, cutoff30).
		Scan(&snap.Problems, &snap.Problems30d)
	if err != nil {
		return store.ReportSnapshot{}, mapErr(err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $3),
		       count(*) FILTER (WHERE created_at > $2),
		       coalesce(sum(benefit_estimate), 0),
		       avg(extract(epoch FROM approved_at - created_at) / 86400) FILTER (WHERE approved_at IS NOT NULL)
		FROM business_cases WHERE ($1::uuid IS NULL OR org_id = $1)`,
		org, cutoff30, domain.CaseApproved).
		Scan(&snap.Cases, &snap.ApprovedCases, &snap.Cases30d, &snap.ProjectedBenefit, &snap.LeadTimeDays)
	if err != nil {
		return store.ReportSnapshot{}, mapErr(err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $3),
		       coalesce(sum(actual_benefit), 0),
		       count(*) FILTER (WHERE status NOT IN ($3, $4) AND updated_at < $2)
		FROM projects WHERE ($1::uuid IS NULL OR org_id = $1)`,
		org, cutoffStalled, domain.ProjectCompleted, domain.ProjectCancelled).
		Scan(&snap.Projects, &snap.CompletedProjects, &snap.RealizedBenefit, &snap.Stalled)
	if err != nil {
		return store.ReportSnapshot{}, mapErr(err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT d.name, count(*)
		FROM problems p JOIN departments d ON d.id = p.department_id
		WHERE ($1::uuid IS NULL OR p.org_id = $1)
		GROUP BY d.name
		ORDER BY count(*) DESC, d.name
		LIMIT 5`, org)
	if err != nil {
		return store.ReportSnapshot{}, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc store.DeptCount
		if err := rows.Scan(&dc.Name, &dc.Count); err != nil {
			return store.ReportSnapshot{}, mapErr(err)
		}
		snap.DeptProblemCounts = append(snap.DeptProblemCounts, dc)
	}
	return snap, mapErr(rows.Err())
}
