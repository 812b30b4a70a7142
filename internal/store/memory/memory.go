// Package memory implements every store interface in process. It is
// the test double and the no-database fallback; it enforces the same
// tenancy rules as the postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

type Store struct {
	mu sync.RWMutex

	orgs     map[uuid.UUID]domain.Organization
	orgCodes map[uuid.UUID]map[string]int

	users map[uuid.UUID]domain.User
	depts map[uuid.UUID]domain.Department

	problems   map[uuid.UUID]domain.Problem
	cases      map[uuid.UUID]domain.BusinessCase
	projects   map[uuid.UUID]domain.Project
	milestones map[uuid.UUID]domain.Milestone
	tasks      map[uuid.UUID]domain.Task

	notifications map[uuid.UUID]domain.Notification
	templates     map[uuid.UUID]domain.WorkflowTemplate

	queue    []*domain.QueuedEvent
	queueSeq int64

	audit    []domain.AuditEntry
	feedback map[uuid.UUID]domain.PredictionFeedback

	settings   map[uuid.UUID]domain.OrgSettings
	thresholds map[uuid.UUID]domain.AIThresholds

	writeHook func(orgID uuid.UUID)

	now func() time.Time
}

func New() *Store {
	return &Store{
		orgs:          make(map[uuid.UUID]domain.Organization),
		orgCodes:      make(map[uuid.UUID]map[string]int),
		users:         make(map[uuid.UUID]domain.User),
		depts:         make(map[uuid.UUID]domain.Department),
		problems:      make(map[uuid.UUID]domain.Problem),
		cases:         make(map[uuid.UUID]domain.BusinessCase),
		projects:      make(map[uuid.UUID]domain.Project),
		milestones:    make(map[uuid.UUID]domain.Milestone),
		tasks:         make(map[uuid.UUID]domain.Task),
		notifications: make(map[uuid.UUID]domain.Notification),
		templates:     make(map[uuid.UUID]domain.WorkflowTemplate),
		feedback:      make(map[uuid.UUID]domain.PredictionFeedback),
		settings:      make(map[uuid.UUID]domain.OrgSettings),
		thresholds:    make(map[uuid.UUID]domain.AIThresholds),
		now:           time.Now,
	}
}

// SetWriteHook registers the metrics invalidation hook fired after any
// Problem, BusinessCase or Project mutation.
func (s *Store) SetWriteHook(fn func(orgID uuid.UUID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

// SetClock overrides time for tests.
func (s *Store) SetClock(fn func() time.Time) { s.now = fn }

func (s *Store) fireWriteHook(orgID uuid.UUID) {
	if s.writeHook != nil {
		s.writeHook(orgID)
	}
}

// stamp enforces the insert-side tenancy invariant: a zero org id is
// stamped from the context; a foreign one is rejected unless the actor
// holds the cross-tenant capability.
func stamp(tc tenant.Context, orgID *uuid.UUID) error {
	if *orgID == uuid.Nil {
		if tc.OrgID == uuid.Nil {
			return store.ErrNoTenant
		}
		*orgID = tc.OrgID
		return nil
	}
	if *orgID != tc.OrgID && !tc.CrossTenant {
		return store.ErrCrossTenant
	}
	return nil
}

// visible is the read-side invariant: rows of other organizations do
// not exist as far as the caller can tell.
func visible(tc tenant.Context, orgID uuid.UUID) bool {
	return tc.CrossTenant || tc.OrgID == orgID
}

func (s *Store) Organizations() store.OrganizationStore { return (*orgStore)(s) }
func (s *Store) Users() store.UserStore                 { return (*userStore)(s) }
func (s *Store) Departments() store.DepartmentStore     { return (*deptStore)(s) }

type orgStore Store

func (s *orgStore) Create(_ context.Context, org *domain.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	for _, existing := range s.orgs {
		if existing.Domain == org.Domain {
			return store.ErrConflict
		}
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = s.now()
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *orgStore) Get(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok || !visible(tc, org.ID) {
		return nil, store.ErrNotFound
	}
	return &org, nil
}

func (s *orgStore) ByDomain(_ context.Context, emailDomain string) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.Domain == strings.ToLower(emailDomain) && org.Status != domain.OrgDeleted {
			o := org
			return &o, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *orgStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrgStatus) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok || !visible(tc, org.ID) {
		return store.ErrNotFound
	}
	org.Status = status
	s.orgs[id] = org
	return nil
}

func (s *orgStore) NextCode(ctx context.Context, prefix string) (string, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgCodes[tc.OrgID] == nil {
		s.orgCodes[tc.OrgID] = make(map[string]int)
	}
	s.orgCodes[tc.OrgID][prefix]++
	return fmt.Sprintf("%s%04d", prefix, s.orgCodes[tc.OrgID][prefix]), nil
}

type userStore Store

func (s *userStore) Create(ctx context.Context, u *domain.User) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &u.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrConflict
		}
	}
	if u.DepartmentID != nil {
		d, ok := s.depts[*u.DepartmentID]
		if !ok || d.OrgID != u.OrgID {
			return store.ErrCrossTenant
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = *u
	return nil
}

func (s *userStore) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || !visible(tc, u.OrgID) {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *userStore) ByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			out := u
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *userStore) Update(ctx context.Context, u *domain.User) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok || !visible(tc, existing.OrgID) {
		return store.ErrNotFound
	}
	if u.OrgID != existing.OrgID {
		// organization membership is immutable after creation
		return store.ErrCrossTenant
	}
	if u.DepartmentID != nil {
		d, ok := s.depts[*u.DepartmentID]
		if !ok || d.OrgID != u.OrgID {
			return store.ErrCrossTenant
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *userStore) Delete(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !visible(tc, u.OrgID) {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *userStore) List(ctx context.Context) ([]domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, u := range s.users {
		if visible(tc, u.OrgID) {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *userStore) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, u := range s.users {
		if visible(tc, u.OrgID) && u.Role == role {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *userStore) ListByDeptRole(ctx context.Context, deptID uuid.UUID, role domain.Role) ([]domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, u := range s.users {
		if visible(tc, u.OrgID) && u.Role == role && u.DepartmentID != nil && *u.DepartmentID == deptID {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *userStore) Count(ctx context.Context) (int, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if visible(tc, u.OrgID) {
			n++
		}
	}
	return n, nil
}

func sortUsers(us []domain.User) {
	sort.Slice(us, func(i, j int) bool {
		return us[i].ID.String() < us[j].ID.String()
	})
}

type deptStore Store

func (s *deptStore) Create(ctx context.Context, d *domain.Department) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &d.OrgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ParentID != nil {
		p, ok := s.depts[*d.ParentID]
		if !ok || p.OrgID != d.OrgID {
			return store.ErrCrossTenant
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	s.depts[d.ID] = *d
	return nil
}

func (s *deptStore) Get(ctx context.Context, id uuid.UUID) (*domain.Department, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.depts[id]
	if !ok || !visible(tc, d.OrgID) {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *deptStore) List(ctx context.Context) ([]domain.Department, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Department
	for _, d := range s.depts {
		if visible(tc, d.OrgID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
