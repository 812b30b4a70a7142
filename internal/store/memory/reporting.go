package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

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
	// events rejected before authentication have none.
	if !tc.CrossTenant || e.OrgID != uuid.Nil {
		if err := stamp(tc, &e.OrgID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.audit = append(s.audit, *e)
	return nil
}

func (s *auditStore) Trail(ctx context.Context, f store.AuditFilter, limit int) ([]domain.AuditEntry, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if !visible(tc, e.OrgID) {
			continue
		}
		if f.TargetType != "" && e.TargetType != f.TargetType {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *auditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.audit[:0]
	deleted := 0
	for _, e := range s.audit {
		if visible(tc, e.OrgID) && e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return deleted, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	s.feedback[f.ID] = *f
	return nil
}

func (s *feedbackStore) SetActual(ctx context.Context, id uuid.UUID, actual float64) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedback[id]
	if !ok || !visible(tc, f.OrgID) {
		return store.ErrNotFound
	}
	f.Actual = &actual
	s.feedback[id] = f
	return nil
}

func (s *feedbackStore) List(ctx context.Context, kind domain.PredictionKind) ([]domain.PredictionFeedback, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PredictionFeedback
	for _, f := range s.feedback {
		if visible(tc, f.OrgID) && f.Kind == kind {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type settingsStore Store

func (s *settingsStore) OrgSettings(ctx context.Context) (domain.OrgSettings, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return domain.OrgSettings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.settings[tc.OrgID]; ok {
		return st, nil
	}
	return domain.DefaultOrgSettings(tc.OrgID), nil
}

func (s *settingsStore) PutOrgSettings(ctx context.Context, st domain.OrgSettings) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &st.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.OrgID] = st
	return nil
}

func (s *settingsStore) Thresholds(ctx context.Context) (domain.AIThresholds, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return domain.AIThresholds{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.thresholds[tc.OrgID]; ok {
		return t, nil
	}
	return domain.DefaultAIThresholds(tc.OrgID), nil
}

func (s *settingsStore) PutThresholds(ctx context.Context, t domain.AIThresholds) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &t.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[t.OrgID] = t
	return nil
}

type reportingStore Store

func (s *reportingStore) Snapshot(ctx context.Context, now time.Time) (store.ReportSnapshot, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return store.ReportSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap store.ReportSnapshot
	cutoff30 := now.AddDate(0, 0, -30)
	cutoffStalled := now.AddDate(0, 0, -14)

	deptCounts := make(map[uuid.UUID]int)
	for _, p := range s.problems {
		if !visible(tc, p.OrgID) {
			continue
		}
		snap.Problems++
		if p.CreatedAt.After(cutoff30) {
			snap.Problems30d++
		}
		if p.DepartmentID != nil {
			deptCounts[*p.DepartmentID]++
		}
	}

	var leadSum float64
	var leadN int
	for _, c := range s.cases {
		if !visible(tc, c.OrgID) {
			continue
		}
		snap.Cases++
		snap.ProjectedBenefit += c.BenefitEstimate
		if c.CreatedAt.After(cutoff30) {
			snap.Cases30d++
		}
		if c.Status == domain.CaseApproved {
			snap.ApprovedCases++
		}
		if c.ApprovedAt != nil {
			leadSum += c.ApprovedAt.Sub(c.CreatedAt).Hours() / 24
			leadN++
		}
	}
	if leadN > 0 {
		avg := leadSum / float64(leadN)
		snap.LeadTimeDays = &avg
	}

	for _, p := range s.projects {
		if !visible(tc, p.OrgID) {
			continue
		}
		snap.Projects++
		if p.Status == domain.ProjectCompleted {
			snap.CompletedProjects++
		}
		if p.ActualBenefit != nil {
			snap.RealizedBenefit += *p.ActualBenefit
		}
		if !domain.TerminalProjectStatus(p.Status) && p.UpdatedAt.Before(cutoffStalled) {
			snap.Stalled++
		}
	}

	for deptID, n := range deptCounts {
		d, ok := s.depts[deptID]
		if !ok {
			continue
		}
		snap.DeptProblemCounts = append(snap.DeptProblemCounts, store.DeptCount{Name: d.Name, Count: n})
	}
	sort.Slice(snap.DeptProblemCounts, func(i, j int) bool {
		if snap.DeptProblemCounts[i].Count != snap.DeptProblemCounts[j].Count {
			return snap.DeptProblemCounts[i].Count > snap.DeptProblemCounts[j].Count
		}
		return snap.DeptProblemCounts[i].Name < snap.DeptProblemCounts[j].Name
	})
	if len(snap.DeptProblemCounts) > 5 {
		snap.DeptProblemCounts = snap.DeptProblemCounts[:5]
	}

	return snap, nil
}
