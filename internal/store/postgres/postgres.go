// Package postgres implements the store interfaces on pgx. Tenancy is
// enforced the same way as the in-memory store: every accessor scopes
// through the tenant context and narrows by org_id in SQL. Write
// transactions additionally publish the tenant through
// app.current_tenant so database-side policies can observe it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

type Store struct {
	pool *pgxpool.Pool

	mu        sync.RWMutex
	writeHook func(orgID uuid.UUID)
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SetWriteHook registers the metrics invalidation hook fired after any
// Problem, BusinessCase or Project mutation.
func (s *Store) SetWriteHook(fn func(orgID uuid.UUID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

func (s *Store) fireWriteHook(orgID uuid.UUID) {
	s.mu.RLock()
	fn := s.writeHook
	s.mu.RUnlock()
	if fn != nil {
		fn(orgID)
	}
}

func (s *Store) Organizations() store.OrganizationStore { return (*orgStore)(s) }
func (s *Store) Users() store.UserStore                 { return (*userStore)(s) }
func (s *Store) Departments() store.DepartmentStore     { return (*deptStore)(s) }

// withTx runs fn in a transaction that carries the tenant id in
// app.current_tenant for the duration of the transaction.
func (s *Store) withTx(ctx context.Context, tc tenant.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if tc.OrgID != uuid.Nil {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true)`, tc.OrgID.String()); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// stamp mirrors the insert-side tenancy invariant of the memory store.
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

// orgParam is the read-side narrowing argument: NULL lifts the filter
// for cross-tenant callers, anything else pins the organization.
func orgParam(tc tenant.Context) *uuid.UUID {
	if tc.CrossTenant {
		return nil
	}
	id := tc.OrgID
	return &id
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrConflict
		case "23503":
			return store.ErrCrossTenant
		}
	}
	return err
}

type orgStore Store

func (s *orgStore) Create(ctx context.Context, org *domain.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, domain, name, industry, size, country, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		org.ID, strings.ToLower(org.Domain), org.Name, org.Industry, org.Size, org.Country, org.Status, org.CreatedAt)
	return mapErr(err)
}

const orgColumns = `id, domain, name, industry, size, country, status, created_at`

func scanOrg(row pgx.Row) (*domain.Organization, error) {
	var org domain.Organization
	err := row.Scan(&org.ID, &org.Domain, &org.Name, &org.Industry, &org.Size, &org.Country, &org.Status, &org.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &org, nil
}

func (s *orgStore) Get(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	if !tc.CrossTenant && tc.OrgID != id {
		return nil, store.ErrNotFound
	}
	return scanOrg(s.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

func (s *orgStore) ByDomain(ctx context.Context, emailDomain string) (*domain.Organization, error) {
	return scanOrg(s.pool.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE domain = $1`, strings.ToLower(emailDomain)))
}

func (s *orgStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrgStatus) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if !tc.CrossTenant && tc.OrgID != id {
		return store.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `UPDATE organizations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *orgStore) NextCode(ctx context.Context, prefix string) (string, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return "", err
	}
	var n int
	err = s.pool.QueryRow(ctx, `
		INSERT INTO org_codes (org_id, prefix, value) VALUES ($1, $2, 1)
		ON CONFLICT (org_id, prefix) DO UPDATE SET value = org_codes.value + 1
		RETURNING value`, tc.OrgID, prefix).Scan(&n)
	if err != nil {
		return "", mapErr(err)
	}
	return fmt.Sprintf("%s%04d", prefix, n), nil
}

type userStore Store

const userColumns = `id, org_id, email, name, role, department_id, reports_to,
	password_hash, oidc_subject, theme, timezone, onboarded, notify_opt_in, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.Name, &u.Role, &u.DepartmentID, &u.ReportsTo,
		&u.PasswordHash, &u.OIDCSubject, &u.Theme, &u.Timezone, &u.Onboarded, &u.NotifyOptIn, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, mapErr(rows.Err())
}

func (s *userStore) Create(ctx context.Context, u *domain.User) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &u.OrgID); err != nil {
		return err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		if u.DepartmentID != nil {
			var deptOrg uuid.UUID
			if err := tx.QueryRow(ctx, `SELECT org_id FROM departments WHERE id = $1`, *u.DepartmentID).Scan(&deptOrg); err != nil {
				return store.ErrCrossTenant
			}
			if deptOrg != u.OrgID {
				return store.ErrCrossTenant
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, org_id, email, name, role, department_id, reports_to,
				password_hash, oidc_subject, theme, timezone, onboarded, notify_opt_in, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			u.ID, u.OrgID, strings.ToLower(u.Email), u.Name, u.Role, u.DepartmentID, u.ReportsTo,
			u.PasswordHash, u.OIDCSubject, u.Theme, u.Timezone, u.Onboarded, u.NotifyOptIn, u.CreatedAt)
		return mapErr(err)
	})
}

func (s *userStore) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)))
}

// ByEmail is deliberately unscoped: the login path has no tenant yet.
func (s *userStore) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (s *userStore) Update(ctx context.Context, u *domain.User) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if !tc.CrossTenant && u.OrgID != tc.OrgID {
		return store.ErrNotFound
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET name = $3, role = $4, department_id = $5, reports_to = $6,
				password_hash = $7, oidc_subject = $8, theme = $9, timezone = $10,
				onboarded = $11, notify_opt_in = $12
			WHERE id = $1 AND org_id = $2`,
			u.ID, u.OrgID, u.Name, u.Role, u.DepartmentID, u.ReportsTo,
			u.PasswordHash, u.OIDCSubject, u.Theme, u.Timezone, u.Onboarded, u.NotifyOptIn)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *userStore) Delete(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM users WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *userStore) List(ctx context.Context) ([]domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE ($1::uuid IS NULL OR org_id = $1) ORDER BY created_at, email`, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	return collectUsers(rows)
}

func (s *userStore) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = $2 AND ($1::uuid IS NULL OR org_id = $1) ORDER BY created_at, email`, orgParam(tc), role)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectUsers(rows)
}

func (s *userStore) ListByDeptRole(ctx context.Context, deptID uuid.UUID, role domain.Role) ([]domain.User, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE department_id = $2 AND role = $3 AND ($1::uuid IS NULL OR org_id = $1)
		ORDER BY created_at, email`, orgParam(tc), deptID, role)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectUsers(rows)
}

func (s *userStore) Count(ctx context.Context) (int, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM users WHERE ($1::uuid IS NULL OR org_id = $1)`, orgParam(tc)).Scan(&n)
	return n, mapErr(err)
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
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		if d.ParentID != nil {
			var parentOrg uuid.UUID
			if err := tx.QueryRow(ctx, `SELECT org_id FROM departments WHERE id = $1`, *d.ParentID).Scan(&parentOrg); err != nil {
				return store.ErrCrossTenant
			}
			if parentOrg != d.OrgID {
				return store.ErrCrossTenant
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO departments (id, org_id, name, parent_id) VALUES ($1, $2, $3, $4)`,
			d.ID, d.OrgID, d.Name, d.ParentID)
		return mapErr(err)
	})
}

func (s *deptStore) Get(ctx context.Context, id uuid.UUID) (*domain.Department, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var d domain.Department
	err = s.pool.QueryRow(ctx, `
		SELECT id, org_id, name, parent_id FROM departments
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)).
		Scan(&d.ID, &d.OrgID, &d.Name, &d.ParentID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (s *deptStore) List(ctx context.Context) ([]domain.Department, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, name, parent_id FROM departments
		WHERE ($1::uuid IS NULL OR org_id = $1) ORDER BY name`, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Name, &d.ParentID); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, d)
	}
	return out, mapErr(rows.Err())
}
