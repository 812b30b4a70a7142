package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
)

func (s *Store) Problems() store.ProblemStore { return (*problemStore)(s) }
func (s *Store) Cases() store.CaseStore       { return (*caseStore)(s) }
func (s *Store) Projects() store.ProjectStore { return (*projectStore)(s) }
func (s *Store) Tasks() store.TaskStore       { return (*taskStore)(s) }

type problemStore Store

const problemColumns = `id, org_id, code, title, description, priority, status, issue_type,
	ai_confidence, department_id, reporter_id, created_at, updated_at`

func scanProblem(row pgx.Row) (*domain.Problem, error) {
	var p domain.Problem
	err := row.Scan(&p.ID, &p.OrgID, &p.Code, &p.Title, &p.Description, &p.Priority, &p.Status,
		&p.IssueType, &p.AIConfidence, &p.DepartmentID, &p.ReporterID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *problemStore) Create(ctx context.Context, p *domain.Problem) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &p.OrgID); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO problems (id, org_id, code, title, description, priority, status, issue_type,
				ai_confidence, department_id, reporter_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			p.ID, p.OrgID, p.Code, p.Title, p.Description, p.Priority, p.Status, p.IssueType,
			p.AIConfidence, p.DepartmentID, p.ReporterID, p.CreatedAt, p.UpdatedAt)
		return mapErr(err)
	})
	if err != nil {
		return err
	}
	(*Store)(s).fireWriteHook(p.OrgID)
	return nil
}

func (s *problemStore) Get(ctx context.Context, id uuid.UUID) (*domain.Problem, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return scanProblem(s.pool.QueryRow(ctx, `
		SELECT `+problemColumns+` FROM problems
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)))
}

func (s *problemStore) Update(ctx context.Context, p *domain.Problem) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if !tc.CrossTenant && p.OrgID != tc.OrgID {
		return store.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE problems SET title = $3, description = $4, priority = $5, status = $6,
				issue_type = $7, ai_confidence = $8, department_id = $9, updated_at = $10
			WHERE id = $1 AND org_id = $2`,
			p.ID, p.OrgID, p.Title, p.Description, p.Priority, p.Status,
			p.IssueType, p.AIConfidence, p.DepartmentID, p.UpdatedAt)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	(*Store)(s).fireWriteHook(p.OrgID)
	return nil
}

func (s *problemStore) Delete(ctx context.Context, id uuid.UUID) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM problems WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	(*Store)(s).fireWriteHook(tc.OrgID)
	return nil
}

func (s *problemStore) List(ctx context.Context, f store.ProblemFilter) ([]domain.Problem, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	if f.Scoped && len(f.DeptIDs) == 0 {
		// Pending-department visibility: nothing to see yet.
		return nil, nil
	}
	var status *domain.ProblemStatus
	if f.Status != "" {
		status = &f.Status
	}
	var depts []uuid.UUID
	if f.Scoped {
		depts = f.DeptIDs
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+problemColumns+` FROM problems
		WHERE ($1::uuid IS NULL OR org_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND (NOT $3::bool OR department_id = ANY($4))
		ORDER BY created_at`, orgParam(tc), status, f.Scoped, depts)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err())
}

type caseStore Store

const caseColumns = `id, org_id, code, title, summary, cost_estimate, actual_cost, benefit_estimate,
	roi_percent, status, project_type, priority, problem_id, analyst_id, department_id,
	created_by, approved_by, approved_at, created_at, updated_at`

func scanCase(row pgx.Row) (*domain.BusinessCase, error) {
	var c domain.BusinessCase
	err := row.Scan(&c.ID, &c.OrgID, &c.Code, &c.Title, &c.Summary, &c.CostEstimate, &c.ActualCost,
		&c.BenefitEstimate, &c.ROIPercent, &c.Status, &c.ProjectType, &c.Priority, &c.ProblemID,
		&c.AnalystID, &c.DepartmentID, &c.CreatedBy, &c.ApprovedBy, &c.ApprovedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *caseStore) Create(ctx context.Context, c *domain.BusinessCase) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &c.OrgID); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.CaseDraft
	}
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		if c.ProblemID != nil {
			if err := sameOrg(ctx, tx, "problems", *c.ProblemID, c.OrgID); err != nil {
				return err
			}
		}
		if c.AnalystID != nil {
			if err := sameOrg(ctx, tx, "users", *c.AnalystID, c.OrgID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO business_cases (id, org_id, code, title, summary, cost_estimate, actual_cost,
				benefit_estimate, roi_percent, status, project_type, priority, problem_id, analyst_id,
				department_id, created_by, approved_by, approved_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			c.ID, c.OrgID, c.Code, c.Title, c.Summary, c.CostEstimate, c.ActualCost,
			c.BenefitEstimate, c.ROIPercent, c.Status, c.ProjectType, c.Priority, c.ProblemID,
			c.AnalystID, c.DepartmentID, c.CreatedBy, c.ApprovedBy, c.ApprovedAt, c.CreatedAt, c.UpdatedAt)
		return mapErr(err)
	})
	if err != nil {
		return err
	}
	(*Store)(s).fireWriteHook(c.OrgID)
	return nil
}

// sameOrg rejects references that would cross an organization line.
func sameOrg(ctx context.Context, tx pgx.Tx, table string, id, orgID uuid.UUID) error {
	var refOrg uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT org_id FROM `+table+` WHERE id = $1`, id).Scan(&refOrg); err != nil {
		return store.ErrCrossTenant
	}
	if refOrg != orgID {
		return store.ErrCrossTenant
	}
	return nil
}

func (s *caseStore) Get(ctx context.Context, id uuid.UUID) (*domain.BusinessCase, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return scanCase(s.pool.QueryRow(ctx, `
		SELECT `+caseColumns+` FROM business_cases
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)))
}

func (s *caseStore) Update(ctx context.Context, c *domain.BusinessCase) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		var existingOrg uuid.UUID
		var existingStatus domain.CaseStatus
		err := tx.QueryRow(ctx, `
			SELECT org_id, status FROM business_cases
			WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2) FOR UPDATE`,
			c.ID, orgParam(tc)).Scan(&existingOrg, &existingStatus)
		if err != nil {
			return mapErr(err)
		}
		if c.OrgID != existingOrg {
			return store.ErrCrossTenant
		}
		if c.Status != existingStatus && !domain.CaseTransitionAllowed(existingStatus, c.Status) {
			return store.ErrConflict
		}
		_, err = tx.Exec(ctx, `
			UPDATE business_cases SET title = $3, summary = $4, cost_estimate = $5, actual_cost = $6,
				benefit_estimate = $7, roi_percent = $8, status = $9, project_type = $10, priority = $11,
				problem_id = $12, analyst_id = $13, department_id = $14, approved_by = $15,
				approved_at = $16, updated_at = $17
			WHERE id = $1 AND org_id = $2`,
			c.ID, c.OrgID, c.Title, c.Summary, c.CostEstimate, c.ActualCost,
			c.BenefitEstimate, c.ROIPercent, c.Status, c.ProjectType, c.Priority,
			c.ProblemID, c.AnalystID, c.DepartmentID, c.ApprovedBy, c.ApprovedAt, c.UpdatedAt)
		return mapErr(err)
	})
	if err != nil {
		return err
	}
	(*Store)(s).fireWriteHook(c.OrgID)
	return nil
}

func (s *caseStore) List(ctx context.Context) ([]domain.BusinessCase, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+caseColumns+` FROM business_cases
		WHERE ($1::uuid IS NULL OR org_id = $1) ORDER BY created_at`, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.BusinessCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, mapErr(rows.Err())
}

func (s *caseStore) Approve(ctx context.Context, id uuid.UUID, approver *uuid.UUID, at time.Time) (*domain.BusinessCase, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var approved *domain.BusinessCase
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		var status domain.CaseStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM business_cases
			WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2) FOR UPDATE`,
			id, orgParam(tc)).Scan(&status)
		if err != nil {
			return mapErr(err)
		}
		if !domain.CaseTransitionAllowed(status, domain.CaseApproved) {
			return store.ErrConflict
		}
		approved, err = scanCase(tx.QueryRow(ctx, `
			UPDATE business_cases SET status = $2, approved_by = $3, approved_at = $4, updated_at = now()
			WHERE id = $1
			RETURNING `+caseColumns, id, domain.CaseApproved, approver, at))
		return err
	})
	if err != nil {
		return nil, err
	}
	(*Store)(s).fireWriteHook(approved.OrgID)
	return approved, nil
}

func (s *caseStore) CountOpenByAnalyst(ctx context.Context, analystID uuid.UUID) (int, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM business_cases
		WHERE analyst_id = $2 AND status IN ($3, $4)
		  AND ($1::uuid IS NULL OR org_id = $1)`,
		orgParam(tc), analystID, domain.CaseDraft, domain.CaseUnderReview).Scan(&n)
	return n, mapErr(err)
}

type projectStore Store

const projectColumns = `id, org_id, code, name, status, priority, start_date, planned_end, actual_end,
	actual_benefit, manager_id, department_id, case_id, created_by, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.OrgID, &p.Code, &p.Name, &p.Status, &p.Priority, &p.StartDate,
		&p.PlannedEnd, &p.ActualEnd, &p.ActualBenefit, &p.ManagerID, &p.DepartmentID,
		&p.CaseID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *projectStore) Create(ctx context.Context, p *domain.Project) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &p.OrgID); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = domain.ProjectPlanned
	}
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		if p.CaseID != nil {
			if err := sameOrg(ctx, tx, "business_cases", *p.CaseID, p.OrgID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO projects (id, org_id, code, name, status, priority, start_date, planned_end,
				actual_end, actual_benefit, manager_id, department_id, case_id, created_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			p.ID, p.OrgID, p.Code, p.Name, p.Status, p.Priority, p.StartDate, p.PlannedEnd,
			p.ActualEnd, p.ActualBenefit, p.ManagerID, p.DepartmentID, p.CaseID, p.CreatedBy,
			p.CreatedAt, p.UpdatedAt)
		return mapErr(err)
	})
	if err != nil {
		return err
	}
	(*Store)(s).fireWriteHook(p.OrgID)
	return nil
}

func (s *projectStore) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return scanProject(s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`, id, orgParam(tc)))
}

func (s *projectStore) Update(ctx context.Context, p *domain.Project) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if !tc.CrossTenant && p.OrgID != tc.OrgID {
		return store.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE projects SET name = $3, status = $4, priority = $5, start_date = $6,
				planned_end = $7, actual_end = $8, actual_benefit = $9, manager_id = $10,
				department_id = $11, updated_at = $12
			WHERE id = $1 AND org_id = $2`,
			p.ID, p.OrgID, p.Name, p.Status, p.Priority, p.StartDate,
			p.PlannedEnd, p.ActualEnd, p.ActualBenefit, p.ManagerID, p.DepartmentID, p.UpdatedAt)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	(*Store)(s).fireWriteHook(p.OrgID)
	return nil
}

func (s *projectStore) List(ctx context.Context) ([]domain.Project, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE ($1::uuid IS NULL OR org_id = $1) ORDER BY created_at`, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err())
}

const milestoneColumns = `id, org_id, project_id, name, due_date, completed, assignee_id`

func scanMilestone(row pgx.Row) (*domain.Milestone, error) {
	var m domain.Milestone
	err := row.Scan(&m.ID, &m.OrgID, &m.ProjectID, &m.Name, &m.DueDate, &m.Completed, &m.AssigneeID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *projectStore) CreateMilestone(ctx context.Context, m *domain.Milestone) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	if err := stamp(tc, &m.OrgID); err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		if err := sameOrg(ctx, tx, "projects", m.ProjectID, m.OrgID); err != nil {
			return store.ErrNotFound
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO milestones (id, org_id, project_id, name, due_date, completed, assignee_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.OrgID, m.ProjectID, m.Name, m.DueDate, m.Completed, m.AssigneeID)
		return mapErr(err)
	})
}

func (s *projectStore) Milestones(ctx context.Context, projectID uuid.UUID) ([]domain.Milestone, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+milestoneColumns+` FROM milestones
		WHERE project_id = $1 AND ($2::uuid IS NULL OR org_id = $2)
		ORDER BY due_date`, projectID, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, mapErr(rows.Err())
}

func (s *projectStore) UpdateMilestone(ctx context.Context, m *domain.Milestone) error {
	tc, err := store.Scope(ctx)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE milestones SET name = $3, due_date = $4, completed = $5, assignee_id = $6
		WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2)`,
		m.ID, orgParam(tc), m.Name, m.DueDate, m.Completed, m.AssigneeID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *projectStore) Reschedule(ctx context.Context, projectID uuid.UUID, delay time.Duration, from time.Time) ([]domain.Milestone, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var shifted []domain.Milestone
	var org uuid.UUID
	err = (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT org_id FROM projects
			WHERE id = $1 AND ($2::uuid IS NULL OR org_id = $2) FOR UPDATE`,
			projectID, orgParam(tc)).Scan(&org)
		if err != nil {
			return mapErr(err)
		}
		rows, err := tx.Query(ctx, `
			UPDATE milestones SET due_date = due_date + $2
			WHERE project_id = $1 AND NOT completed AND due_date >= $3
			RETURNING `+milestoneColumns, projectID, delay, from)
		if err != nil {
			return mapErr(err)
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMilestone(rows)
			if err != nil {
				return err
			}
			shifted = append(shifted, *m)
		}
		if err := rows.Err(); err != nil {
			return mapErr(err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE projects SET planned_end = planned_end + $2, updated_at = now()
			WHERE id = $1`, projectID, delay)
		return mapErr(err)
	})
	if err != nil {
		return nil, err
	}
	(*Store)(s).fireWriteHook(org)
	sortMilestones(shifted)
	return shifted, nil
}

func sortMilestones(ms []domain.Milestone) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].DueDate.Before(ms[j-1].DueDate); j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
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
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = domain.TaskOpen
	}
	return (*Store)(s).withTx(ctx, tc, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tasks (id, org_id, title, description, assignee_id, created_by, due_date, status, priority, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.OrgID, t.Title, t.Description, t.AssigneeID, t.CreatedBy, t.DueDate, t.Status, t.Priority, t.CreatedAt)
		return mapErr(err)
	})
}

func (s *taskStore) ListByAssignee(ctx context.Context, userID uuid.UUID) ([]domain.Task, error) {
	tc, err := store.Scope(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, title, description, assignee_id, created_by, due_date, status, priority, created_at
		FROM tasks
		WHERE assignee_id = $1 AND ($2::uuid IS NULL OR org_id = $2)
		ORDER BY created_at`, userID, orgParam(tc))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Title, &t.Description, &t.AssigneeID, &t.CreatedBy,
			&t.DueDate, &t.Status, &t.Priority, &t.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err())
}
