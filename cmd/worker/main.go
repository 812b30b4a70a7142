// The worker drains the durable workflow queue. It shares the store
// with the API server and can run as many replicas as needed because
// claims are atomic.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/config"
	"github.com/deciframe-hq/deciframe/internal/notify"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/store/postgres"
	"github.com/deciframe-hq/deciframe/internal/workflow"
)

// stores is the slice of the store surface the worker touches.
type stores interface {
	Organizations() store.OrganizationStore
	Users() store.UserStore
	Departments() store.DepartmentStore
	Problems() store.ProblemStore
	Cases() store.CaseStore
	Projects() store.ProjectStore
	Tasks() store.TaskStore
	Templates() store.TemplateStore
	Queue() store.QueueStore
	Notifications() store.NotificationStore
	Settings() store.SettingsStore
	Audit() store.AuditStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	lvl, lvlErr := zerolog.ParseLevel(cfg.LogLevel)
	if lvlErr != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("component", "worker").Logger()

	var st stores
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		st = memory.New()
	} else {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open store")
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		st = pg
	}

	sink := audit.NewSink(st.Audit(), log)
	notifier := notify.NewService(st.Notifications(), st.Users(), st.Settings(), nil, log)
	engine := workflow.NewEngine(workflow.Stores{
		Orgs:      st.Organizations(),
		Users:     st.Users(),
		Depts:     st.Departments(),
		Problems:  st.Problems(),
		Cases:     st.Cases(),
		Projects:  st.Projects(),
		Tasks:     st.Tasks(),
		Templates: st.Templates(),
		Queue:     st.Queue(),
	}, notifier, sink, workflow.DefaultRetryPolicy(), log)

	processor := workflow.NewProcessor(engine, st.Queue(), cfg.WorkerCount, cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Int("workers", cfg.WorkerCount).Msg("processing queue")
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("processor stopped")
	}
}
