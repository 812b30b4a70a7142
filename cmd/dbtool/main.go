// dbtool applies the schema and smoke-checks tenant isolation against
// a live database. The smoke check creates two throwaway organizations,
// writes a problem into each, and asserts that neither can read the
// other's row; the fixtures are removed afterwards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/store/postgres"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <migrate|tenancy-smoke> [args]")
	}

	switch os.Args[1] {
	case "migrate":
		migrate(os.Args[2:])
	case "tenancy-smoke":
		tenancySmoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func open(args []string, name string) (*pgxpool.Pool, context.Context, context.CancelFunc) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", os.Getenv("DATABASE_URL"), "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url (or DATABASE_URL)")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		cancel()
		fatal(err)
	}
	return pool, ctx, cancel
}

func migrate(args []string) {
	pool, ctx, cancel := open(args, "migrate")
	defer cancel()
	defer pool.Close()
	if err := postgres.New(pool).Migrate(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("schema up to date")
}

func tenancySmoke(args []string) {
	pool, ctx, cancel := open(args, "tenancy-smoke")
	defer cancel()
	defer pool.Close()

	pg := postgres.New(pool)
	if err := pg.Migrate(ctx); err != nil {
		fatal(err)
	}

	stamp := time.Now().UnixNano()
	orgA := makeOrg(ctx, pg, fmt.Sprintf("smoke-a-%d.example.com", stamp))
	orgB := makeOrg(ctx, pg, fmt.Sprintf("smoke-b-%d.example.com", stamp))
	defer cleanup(ctx, pool, orgA.ID, orgB.ID)

	ctxA := tenant.System(context.Background(), orgA.ID)
	ctxB := tenant.System(context.Background(), orgB.ID)

	problem := &domain.Problem{
		Title:      "smoke",
		Priority:   domain.PriorityLow,
		Status:     domain.ProblemOpen,
		IssueType:  domain.IssueOther,
		Code:       mustCode(ctxA, pg),
		ReporterID: uuid.New(),
	}
	if err := pg.Problems().Create(ctxA, problem); err != nil {
		fatal(err)
	}

	if _, err := pg.Problems().Get(ctxA, problem.ID); err != nil {
		fatalf("owner read failed: %v", err)
	}
	if _, err := pg.Problems().Get(ctxB, problem.ID); !errors.Is(err, store.ErrNotFound) {
		fatalf("cross-tenant read must report not found, got %v", err)
	}

	foreign := *problem
	foreign.ID = uuid.New()
	foreign.OrgID = orgA.ID
	if err := pg.Problems().Create(ctxB, &foreign); !errors.Is(err, store.ErrCrossTenant) {
		fatalf("cross-tenant insert must be rejected, got %v", err)
	}

	fmt.Println("tenancy smoke passed")
}

func makeOrg(ctx context.Context, pg *postgres.Store, domainName string) *domain.Organization {
	org := &domain.Organization{
		Domain: domainName,
		Name:   "smoke",
		Status: domain.OrgActive,
	}
	if err := pg.Organizations().Create(ctx, org); err != nil {
		fatal(err)
	}
	return org
}

func mustCode(ctx context.Context, pg *postgres.Store) string {
	code, err := pg.Organizations().NextCode(ctx, "P")
	if err != nil {
		fatal(err)
	}
	return code
}

func cleanup(ctx context.Context, pool *pgxpool.Pool, ids ...uuid.UUID) {
	for _, id := range ids {
		if _, err := pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup %s: %v\n", id, err)
		}
	}
}

func fatal(err error) { fatalf("%v", err) }

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
