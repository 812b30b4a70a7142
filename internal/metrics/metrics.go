// Package metrics aggregates per-organization KPI bundles behind a
// short-lived cache.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/authz"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// DefaultTTL bounds how stale a served bundle can be; write hooks
// usually invalidate sooner.
const DefaultTTL = 5 * time.Minute

type Funnel struct {
	Problems          int `json:"problems"`
	Cases             int `json:"cases"`
	ApprovedCases     int `json:"approved_cases"`
	Projects          int `json:"projects"`
	CompletedProjects int `json:"completed_projects"`
}

type ROI struct {
	Projected float64 `json:"projected"`
	Realized  float64 `json:"realized"`
}

type DeptCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Activity struct {
	Problems30d int `json:"problems_30d"`
	Cases30d    int `json:"cases_30d"`
}

// Bundle is the stable response shape. LeadTimeDays is null until the
// organization has at least one approval.
type Bundle struct {
	Funnel              Funnel      `json:"funnel"`
	LeadTimeDays        *float64    `json:"lead_time_days"`
	ROI                 ROI         `json:"roi"`
	Stalled             int         `json:"stalled"`
	DepartmentBreakdown []DeptCount `json:"department_breakdown"`
	RecentActivity      Activity    `json:"recent_activity"`
	GeneratedAt         time.Time   `json:"generated_at"`
	Error               string      `json:"error,omitempty"`
}

type cacheEntry struct {
	bundle  Bundle
	expires time.Time
}

type Aggregator struct {
	reporting store.ReportingStore
	ttl       time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[uuid.UUID]cacheEntry
}

func NewAggregator(reporting store.ReportingStore, ttl time.Duration, log zerolog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		reporting: reporting,
		ttl:       ttl,
		log:       log.With().Str("component", "metrics").Logger(),
		now:       time.Now,
		cache:     make(map[uuid.UUID]cacheEntry),
	}
}

// Invalidate drops the organization's cached bundle. Wire it to the
// store's write hook so dashboard numbers follow writes.
func (a *Aggregator) Invalidate(orgID uuid.UUID) {
	a.mu.Lock()
	delete(a.cache, orgID)
	a.mu.Unlock()
}

// Get returns the caller's KPI bundle. Executive tier only. A compute
// failure yields a zero bundle carrying the error, so dashboards render
// instead of breaking, and nothing broken is cached.
func (a *Aggregator) Get(ctx context.Context) (Bundle, error) {
	tc, ok := tenant.From(ctx)
	if !ok || !tc.Authenticated {
		return Bundle{}, httperr.NewUnauthenticated("sign in required")
	}
	if !authz.IsExecutiveTier(tc) {
		return Bundle{}, httperr.NewForbidden("executive metrics require an executive role")
	}
	now := a.now()

	a.mu.Lock()
	if entry, ok := a.cache[tc.OrgID]; ok && now.Before(entry.expires) {
		a.mu.Unlock()
		return entry.bundle, nil
	}
	a.mu.Unlock()

	snapshot, err := a.reporting.Snapshot(ctx, now)
	if err != nil {
		a.log.Error().Err(err).Stringer("org_id", tc.OrgID).Msg("metrics snapshot failed")
		return Bundle{GeneratedAt: now.UTC(), Error: "metrics temporarily unavailable"}, nil
	}
	bundle := shape(snapshot, now)

	a.mu.Lock()
	a.cache[tc.OrgID] = cacheEntry{bundle: bundle, expires: now.Add(a.ttl)}
	a.mu.Unlock()
	return bundle, nil
}

func shape(s store.ReportSnapshot, now time.Time) Bundle {
	depts := make([]DeptCount, 0, len(s.DeptProblemCounts))
	for _, d := range s.DeptProblemCounts {
		depts = append(depts, DeptCount{Name: d.Name, Count: d.Count})
	}
	return Bundle{
		Funnel: Funnel{
			Problems:          s.Problems,
			Cases:             s.Cases,
			ApprovedCases:     s.ApprovedCases,
			Projects:          s.Projects,
			CompletedProjects: s.CompletedProjects,
		},
		LeadTimeDays: s.LeadTimeDays,
		ROI:          ROI{Projected: s.ProjectedBenefit, Realized: s.RealizedBenefit},
		Stalled:      s.Stalled,
		DepartmentBreakdown: depts,
		RecentActivity: Activity{
			Problems30d: s.Problems30d,
			Cases30d:    s.Cases30d,
		},
		GeneratedAt: now.UTC(),
	}
}
