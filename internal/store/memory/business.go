package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
)

func (s *Store) Problems() store.ProblemStore { return (*problemStore)(s) }
func (s *Store) Cases() store.CaseStore       { return (*caseStore)(s) }
func (s *Store) Projects() store.ProjectStore { return (*projectStore)(s) }
func (s *Store) Tasks() store.TaskStore       { return (*taskStore)(s) }

type problemStore Store

func (s *problemStore) Create(ctx context.Context, p *domain.Problem) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &p.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	if p.DepartmentID != nil {
		d, ok := s.depts[*p.DepartmentID]
		if !ok || d.OrgID != p.OrgID {
			s.mu.Unlock()
			return store.ErrCrossTenant
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.problems[p.ID] = *p
	org := p.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *problemStore) Get(ctx context.Context, id uuid.UUID) (*domain.Problem, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok || !visible(tc, p.OrgID) {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *problemStore) Update(ctx context.Context, p *domain.Problem) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	existing, ok := s.problems[p.ID]
	if !ok || !visible(tc, existing.OrgID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if p.OrgID != existing.OrgID {
		s.mu.Unlock()
		return store.ErrCrossTenant
	}
	p.UpdatedAt = s.now()
	s.problems[p.ID] = *p
	org := p.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *problemStore) Delete(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.problems[id]
	if !ok || !visible(tc, p.OrgID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.problems, id)
	org := p.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *problemStore) List(ctx context.Context, f store.ProblemFilter) ([]domain.Problem, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := make(map[uuid.UUID]bool, len(f.DeptIDs))
	for _, id := range f.DeptIDs {
		allowed[id] = true
	}
	var out []domain.Problem
	for _, p := range s.problems {
		if !visible(tc, p.OrgID) {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Scoped {
			if p.DepartmentID == nil || !allowed[*p.DepartmentID] {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type caseStore Store

func (s *caseStore) Create(ctx context.Context, c *domain.BusinessCase) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &c.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	if c.ProblemID != nil {
		p, ok := s.problems[*c.ProblemID]
		if !ok || p.OrgID != c.OrgID {
			s.mu.Unlock()
			return store.ErrCrossTenant
		}
	}
	if c.AnalystID != nil {
		u, ok := s.users[*c.AnalystID]
		if !ok || u.OrgID != c.OrgID {
			s.mu.Unlock()
			return store.ErrCrossTenant
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.CaseDraft
	}
	s.cases[c.ID] = *c
	org := c.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *caseStore) Get(ctx context.Context, id uuid.UUID) (*domain.BusinessCase, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok || !visible(tc, c.OrgID) {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *caseStore) Update(ctx context.Context, c *domain.BusinessCase) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	existing, ok := s.cases[c.ID]
	if !ok || !visible(tc, existing.OrgID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if c.OrgID != existing.OrgID {
		s.mu.Unlock()
		return store.ErrCrossTenant
	}
	if c.Status != existing.Status && !domain.CaseTransitionAllowed(existing.Status, c.Status) {
		s.mu.Unlock()
		return store.ErrConflict
	}
	c.UpdatedAt = s.now()
	s.cases[c.ID] = *c
	org := c.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *caseStore) List(ctx context.Context) ([]domain.BusinessCase, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.BusinessCase
	for _, c := range s.cases {
		if visible(tc, c.OrgID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *caseStore) Approve(ctx context.Context, id uuid.UUID, approver *uuid.UUID, at time.Time) (*domain.BusinessCase, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	c, ok := s.cases[id]
	if !ok || !visible(tc, c.OrgID) {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if !domain.CaseTransitionAllowed(c.Status, domain.CaseApproved) {
		s.mu.Unlock()
		return nil, store.ErrConflict
	}
	c.Status = domain.CaseApproved
	c.ApprovedBy = approver
	c.ApprovedAt = &at
	c.UpdatedAt = s.now()
	s.cases[id] = c
	org := c.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return &c, nil
}

func (s *caseStore) CountOpenByAnalyst(ctx context.Context, analystID uuid.UUID) (int, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.cases {
		if !visible(tc, c.OrgID) || c.AnalystID == nil || *c.AnalystID != analystID {
			continue
		}
		if c.Status == domain.CaseDraft || c.Status == domain.CaseUnderReview {
			n++
		}
	}
	return n, nil
}

type projectStore Store

func (s *projectStore) Create(ctx context.Context, p *domain.Project) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &p.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	if p.CaseID != nil {
		c, ok := s.cases[*p.CaseID]
		if !ok || c.OrgID != p.OrgID {
			s.mu.Unlock()
			return store.ErrCrossTenant
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = domain.ProjectPlanned
	}
	s.projects[p.ID] = *p
	org := p.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *projectStore) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok || !visible(tc, p.OrgID) {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *projectStore) Update(ctx context.Context, p *domain.Project) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	existing, ok := s.projects[p.ID]
	if !ok || !visible(tc, existing.OrgID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if p.OrgID != existing.OrgID {
		s.mu.Unlock()
		return store.ErrCrossTenant
	}
	p.UpdatedAt = s.now()
	s.projects[p.ID] = *p
	org := p.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	return nil
}

func (s *projectStore) List(ctx context.Context) ([]domain.Project, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Project
	for _, p := range s.projects {
		if visible(tc, p.OrgID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *projectStore) CreateMilestone(ctx context.Context, m *domain.Milestone) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &m.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[m.ProjectID]
	if !ok || p.OrgID != m.OrgID {
		return store.ErrCrossTenant
	}
	if m.AssigneeID != nil {
		u, ok := s.users[*m.AssigneeID]
		if !ok || u.OrgID != m.OrgID {
			return store.ErrCrossTenant
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.milestones[m.ID] = *m
	return nil
}

func (s *projectStore) Milestones(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok || !visible(tc, p.OrgID) {
		return nil, store.ErrNotFound
	}
	var out []domain.Milestone
	for _, m := range s.milestones {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *projectStore) UpdateMilestone(ctx context.Context, m *domain.Milestone) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.milestones[m.ID]
	if !ok || !visible(tc, existing.OrgID) {
		return store.ErrNotFound
	}
	if m.OrgID != existing.OrgID || m.ProjectID != existing.ProjectID {
		return store.ErrCrossTenant
	}
	s.milestones[m.ID] = *m
	return nil
}

// Reschedule moves every incomplete future milestone and the planned
// end date together; under one lock so a concurrent reader never sees a
// partial shift.
func (s *projectStore) Reschedule(ctx context.Context, projectID uuid.UUID, delay time.Duration, from time.Time) ([]domain.Milestone, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok || !visible(tc, p.OrgID) {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	var shifted []domain.Milestone
	for id, m := range s.milestones {
		if m.ProjectID != projectID || m.Completed || m.DueDate.Before(from) {
			continue
		}
		m.DueDate = m.DueDate.Add(delay)
		s.milestones[id] = m
		shifted = append(shifted, m)
	}
	if p.PlannedEnd != nil {
		end := p.PlannedEnd.Add(delay)
		p.PlannedEnd = &end
	}
	p.UpdatedAt = s.now()
	s.projects[projectID] = p
	org := p.OrgID
	s.mu.Unlock()
	s.fireWriteHook(org)
	sort.Slice(shifted, func(i, j int) bool { return shifted[i].DueDate.Before(shifted[j].DueDate) })
	return shifted, nil
}

type taskStore Store

func (s *taskStore) Create(ctx context.Context, t *domain.Task) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &t.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[t.AssigneeID]
	if !ok || u.OrgID != t.OrgID {
		return store.ErrCrossTenant
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Status == "" {
		t.Status = domain.TaskOpen
	}
	s.tasks[t.ID] = *t
	return nil
}

func (s *taskStore) ListByAssignee(ctx context.Context, userID uuid.UUID) ([]domain.Task, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if visible(tc, t.OrgID) && t.AssigneeID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
