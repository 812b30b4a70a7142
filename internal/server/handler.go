package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/classify"
	"github.com/deciframe-hq/deciframe/internal/identity"
	"github.com/deciframe-hq/deciframe/internal/metrics"
	"github.com/deciframe-hq/deciframe/internal/notify"
	"github.com/deciframe-hq/deciframe/internal/predict"
	"github.com/deciframe-hq/deciframe/internal/ratelimit"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/store/postgres"
	"github.com/deciframe-hq/deciframe/internal/workflow"
)

// Stores bundles every repository the server touches. memory.Store and
// postgres.Store both satisfy it.
type Stores interface {
	Organizations() store.OrganizationStore
	Users() store.UserStore
	Departments() store.DepartmentStore
	Problems() store.ProblemStore
	Cases() store.CaseStore
	Projects() store.ProjectStore
	Tasks() store.TaskStore
	Notifications() store.NotificationStore
	Templates() store.TemplateStore
	Queue() store.QueueStore
	Audit() store.AuditStore
	Feedback() store.FeedbackStore
	Settings() store.SettingsStore
	Reporting() store.ReportingStore
}

// writeHooked is implemented by stores that can announce business
// writes; the metrics cache invalidates through it.
type writeHooked interface {
	SetWriteHook(fn func(orgID uuid.UUID))
}

// HandlerOptions injects collaborators; nil fields fall back to the
// environment-driven defaults, so tests swap in exactly what they
// need.
type HandlerOptions struct {
	Store         Stores
	Authorizer    authorizer
	Classifier    classify.Classifier
	Deliverer     notify.Deliverer
	Limiter       *ratelimit.Limiter
	SessionSecret []byte
	ModelsDir     string
	Providers     []identity.ProviderConfig
	Logger        zerolog.Logger
}

type handler struct {
	stores     Stores
	authorizer authorizer
	limiter    *ratelimit.Limiter

	audit      *audit.Sink
	identity   *identity.Service
	notifier   *notify.Service
	engine     *workflow.Engine
	predictor  *predict.Service
	aiEngine   *predict.AIWorkflowEngine
	metrics    *metrics.Aggregator
	classifier classify.Classifier
	providers  []identity.ProviderConfig

	log zerolog.Logger
	now func() time.Time
}

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	h, err := newHandler(opts)
	if err != nil {
		return nil, err
	}
	return h.middlewareChain(h.routes()), nil
}

func newHandler(opts HandlerOptions) (*handler, error) {
	log := opts.Logger

	stores := opts.Store
	if stores == nil {
		if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
			pool, err := pgxpool.New(context.Background(), dsn)
			if err != nil {
				return nil, err
			}
			stores = postgres.New(pool)
		} else {
			stores = memory.New()
		}
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		a, err := loadAuthorizer()
		if err != nil {
			return nil, err
		}
		authorizer = a
	}

	secret := opts.SessionSecret
	if len(secret) == 0 {
		secret = []byte(os.Getenv("SESSION_SECRET"))
	}
	tokens, err := identity.NewTokenIssuer(secret)
	if err != nil {
		return nil, err
	}

	classifier := opts.Classifier
	if classifier == nil {
		if baseURL := os.Getenv("AI_SERVICE_URL"); baseURL != "" {
			c, err := classify.New(baseURL, os.Getenv("AI_SERVICE_KEY"), 0, log)
			if err != nil {
				return nil, err
			}
			classifier = c
		} else {
			classifier = classify.Disabled{}
		}
	}

	modelsDir := opts.ModelsDir
	if modelsDir == "" {
		modelsDir = os.Getenv("MODELS_DIR")
	}
	if modelsDir == "" {
		p, err := defaultAccessPath("config/models")
		if err != nil {
			return nil, errors.New("server: models dir not found (set MODELS_DIR)")
		}
		modelsDir = p
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}

	sink := audit.NewSink(stores.Audit(), log)
	ident := identity.NewService(stores.Organizations(), stores.Users(), tokens, sink, log)
	notifier := notify.NewService(stores.Notifications(), stores.Users(), stores.Settings(), opts.Deliverer, log)
	engine := workflow.NewEngine(workflow.Stores{
		Orgs:      stores.Organizations(),
		Users:     stores.Users(),
		Depts:     stores.Departments(),
		Problems:  stores.Problems(),
		Cases:     stores.Cases(),
		Projects:  stores.Projects(),
		Tasks:     stores.Tasks(),
		Templates: stores.Templates(),
		Queue:     stores.Queue(),
	}, notifier, sink, workflow.DefaultRetryPolicy(), log)

	registry := predict.NewRegistry(modelsDir)
	predictor := predict.NewService(registry, stores.Projects(), stores.Cases(), stores.Departments(), stores.Feedback(), log)
	aiEngine := predict.NewAIWorkflowEngine(predictor, stores.Projects(), stores.Cases(), stores.Users(), stores.Settings(), notifier, sink, log)

	agg := metrics.NewAggregator(stores.Reporting(), metrics.DefaultTTL, log)
	if hooked, ok := stores.(writeHooked); ok {
		hooked.SetWriteHook(agg.Invalidate)
	}

	return &handler{
		stores:     stores,
		authorizer: authorizer,
		limiter:    limiter,
		audit:      sink,
		identity:   ident,
		notifier:   notifier,
		engine:     engine,
		predictor:  predictor,
		aiEngine:   aiEngine,
		metrics:    agg,
		classifier: classifier,
		providers:  identity.EnabledProviders(opts.Providers),
		log:        log.With().Str("component", "server").Logger(),
		now:        time.Now,
	}, nil
}

func (h *handler) middlewareChain(next http.Handler) http.Handler {
	return withRequestID(withSecurityHeaders(withSession(h.identity, h.withGate(next))))
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.HandleFunc("POST /api/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/providers", h.handleProviders)
	mux.HandleFunc("POST /api/auth/federated", h.handleFederatedLogin)

	mux.HandleFunc("POST /api/problems", h.handleProblemCreate)
	mux.HandleFunc("GET /api/problems", h.handleProblemList)
	mux.HandleFunc("GET /api/problems/{id}", h.handleProblemGet)
	mux.HandleFunc("PUT /api/problems/{id}", h.handleProblemUpdate)
	mux.HandleFunc("DELETE /api/problems/{id}", h.handleProblemDelete)

	mux.HandleFunc("POST /api/cases", h.handleCaseCreate)
	mux.HandleFunc("GET /api/cases", h.handleCaseList)
	mux.HandleFunc("GET /api/cases/{id}", h.handleCaseGet)
	mux.HandleFunc("PUT /api/cases/{id}", h.handleCaseUpdate)
	mux.HandleFunc("POST /api/cases/{id}/submit", h.handleCaseSubmit)
	mux.HandleFunc("POST /api/cases/{id}/approve", h.handleCaseApprove)

	mux.HandleFunc("POST /api/projects", h.handleProjectCreate)
	mux.HandleFunc("GET /api/projects", h.handleProjectList)
	mux.HandleFunc("GET /api/projects/{id}", h.handleProjectGet)
	mux.HandleFunc("PUT /api/projects/{id}/status", h.handleProjectStatus)
	mux.HandleFunc("POST /api/projects/{id}/milestones", h.handleMilestoneCreate)
	mux.HandleFunc("GET /api/projects/{id}/milestones", h.handleMilestoneList)
	mux.HandleFunc("POST /api/projects/{id}/evaluate", h.handleProjectEvaluate)

	mux.HandleFunc("GET /api/tasks", h.handleTaskList)
	mux.HandleFunc("GET /api/notifications", h.handleNotificationList)
	mux.HandleFunc("POST /api/notifications/{id}/read", h.handleNotificationRead)

	mux.HandleFunc("PUT /api/workflows/templates", h.handleTemplateSave)
	mux.HandleFunc("GET /api/workflows/templates", h.handleTemplateList)
	mux.HandleFunc("GET /api/workflows/queue", h.handleQueueList)
	mux.HandleFunc("POST /api/workflows/queue/{id}/cancel", h.handleQueueCancel)

	mux.HandleFunc("GET /api/audit", h.handleAuditTrail)

	mux.HandleFunc("GET /api/predictions/projects/{id}/success", h.handlePredictSuccess)
	mux.HandleFunc("GET /api/predictions/projects/{id}/cycle-time", h.handlePredictCycle)
	mux.HandleFunc("GET /api/predictions/projects/{id}/anomaly", h.handlePredictAnomaly)
	mux.HandleFunc("GET /api/predictions/feedback", h.handleFeedbackList)
	mux.HandleFunc("POST /api/predictions/feedback/{id}/actual", h.handleFeedbackActual)

	mux.HandleFunc("GET /api/metrics", h.handleMetrics)

	mux.HandleFunc("GET /api/admin/users", h.handleUserList)
	mux.HandleFunc("POST /api/admin/users/{id}/role", h.handleUserRole)
	mux.HandleFunc("POST /api/admin/users/{id}/department", h.handleUserDepartment)
	mux.HandleFunc("DELETE /api/admin/users/{id}", h.handleUserDelete)
	mux.HandleFunc("POST /api/admin/departments", h.handleDepartmentCreate)
	mux.HandleFunc("GET /api/admin/departments", h.handleDepartmentList)

	mux.HandleFunc("GET /api/settings", h.handleSettingsGet)
	mux.HandleFunc("PUT /api/settings", h.handleSettingsPut)
	mux.HandleFunc("GET /api/settings/thresholds", h.handleThresholdsGet)
	mux.HandleFunc("PUT /api/settings/thresholds", h.handleThresholdsPut)

	mux.HandleFunc("GET /api/export/{entity}", h.handleExport)

	return mux
}
