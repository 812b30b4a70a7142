package predict

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

const (
	minCycleDays = 1
	maxCycleDays = 365
)

type SuccessPrediction struct {
	Probability float64  `json:"probability"`
	Confidence  string   `json:"confidence"` // high | medium
	TopFactors  []string `json:"top_factors"`
}

type CyclePrediction struct {
	Days  int     `json:"days"`
	Weeks float64 `json:"weeks"`
}

type AnomalyPrediction struct {
	Score     float64  `json:"score"`
	IsAnomaly bool     `json:"is_anomaly"`
	Reasons   []string `json:"reasons"`
}

type Service struct {
	registry *Registry
	projects store.ProjectStore
	cases    store.CaseStore
	depts    store.DepartmentStore
	feedback store.FeedbackStore
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(registry *Registry, projects store.ProjectStore, cases store.CaseStore, depts store.DepartmentStore, feedback store.FeedbackStore, log zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		projects: projects,
		cases:    cases,
		depts:    depts,
		feedback: feedback,
		log:      log.With().Str("component", "predict").Logger(),
		now:      time.Now,
	}
}

// PredictSuccess scores the project's success probability. Loading the
// project through the tenant-scoped store means cross-tenant ids fail
// as not found before any model runs.
func (s *Service) PredictSuccess(ctx context.Context, projectID uuid.UUID) (*SuccessPrediction, error) {
	artifact, features, err := s.prepare(ctx, domain.PredictSuccess, projectID)
	if err != nil {
		return nil, err
	}
	score := dot(artifact.Model.Coefficients, artifact.scale(features.Values)) + artifact.Model.Intercept
	p := 1 / (1 + math.Exp(-score))
	confidence := "medium"
	if math.Abs(p-0.5) > 0.3 {
		confidence = "high"
	}
	out := &SuccessPrediction{
		Probability: p,
		Confidence:  confidence,
		TopFactors:  topFactors(artifact, features, 3),
	}
	s.recordFeedback(ctx, domain.PredictSuccess, projectID, p)
	return out, nil
}

// PredictCycleTime estimates completion in days, clamped to a sane
// range.
func (s *Service) PredictCycleTime(ctx context.Context, projectID uuid.UUID) (*CyclePrediction, error) {
	artifact, features, err := s.prepare(ctx, domain.PredictCycleTime, projectID)
	if err != nil {
		return nil, err
	}
	raw := dot(artifact.Model.Coefficients, artifact.scale(features.Values)) + artifact.Model.Intercept
	days := int(math.Round(raw))
	if days < minCycleDays {
		days = minCycleDays
	}
	if days > maxCycleDays {
		days = maxCycleDays
	}
	out := &CyclePrediction{Days: days, Weeks: float64(days) / 7}
	s.recordFeedback(ctx, domain.PredictCycleTime, projectID, float64(days))
	return out, nil
}

// DetectAnomaly scores the project against the outlier model and names
// the thresholds it crossed.
func (s *Service) DetectAnomaly(ctx context.Context, projectID uuid.UUID) (*AnomalyPrediction, error) {
	artifact, features, err := s.prepare(ctx, domain.PredictAnomaly, projectID)
	if err != nil {
		return nil, err
	}
	score := dot(artifact.Model.Coefficients, artifact.scale(features.Values)) + artifact.Model.Intercept
	out := &AnomalyPrediction{
		Score:     score,
		IsAnomaly: score >= artifact.Model.Threshold,
		Reasons:   anomalyReasons(features),
	}
	s.recordFeedback(ctx, domain.PredictAnomaly, projectID, score)
	return out, nil
}

// SubmitActual records the observed outcome for a past prediction.
func (s *Service) SubmitActual(ctx context.Context, feedbackID uuid.UUID, actual float64) error {
	return s.feedback.SetActual(ctx, feedbackID, actual)
}

func (s *Service) ListFeedback(ctx context.Context, kind domain.PredictionKind) ([]domain.PredictionFeedback, error) {
	return s.feedback.List(ctx, kind)
}

func (s *Service) prepare(ctx context.Context, kind domain.PredictionKind, projectID uuid.UUID) (*Artifact, FeatureVector, error) {
	artifact, err := s.registry.Load(kind)
	if err != nil {
		return nil, FeatureVector{}, err
	}
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, FeatureVector{}, err
	}
	features, err := s.ExtractFeatures(ctx, project)
	if err != nil {
		return nil, FeatureVector{}, err
	}
	return artifact, features, nil
}

func (s *Service) recordFeedback(ctx context.Context, kind domain.PredictionKind, entityID uuid.UUID, predicted float64) {
	row := &domain.PredictionFeedback{Kind: kind, EntityID: entityID, Predicted: predicted}
	if tc, ok := tenant.From(ctx); ok && tc.Authenticated && tc.ActorID != uuid.Nil {
		actor := tc.ActorID
		row.UserID = &actor
	}
	if err := s.feedback.Create(ctx, row); err != nil {
		s.log.Warn().Err(err).
			Str("kind", string(kind)).
			Stringer("entity_id", entityID).
			Msg("prediction feedback row not recorded")
	}
}

// topFactors ranks features by the magnitude of their scaled
// contribution to the score.
func topFactors(artifact *Artifact, features FeatureVector, n int) []string {
	scaled := artifact.scale(features.Values)
	type contribution struct {
		name   string
		weight float64
	}
	ranked := make([]contribution, len(artifact.FeatureNames))
	for i, name := range artifact.FeatureNames {
		ranked[i] = contribution{name: name, weight: math.Abs(artifact.Model.Coefficients[i] * scaled[i])}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].name < ranked[j].name
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].name
	}
	return out
}

func anomalyReasons(features FeatureVector) []string {
	var reasons []string
	if v := features.Get("cost_variance"); v > 2.0 {
		reasons = append(reasons, "High cost overrun")
	} else if v > 0 && v < 0.5 {
		reasons = append(reasons, "Unusually low cost")
	}
	if features.Get("cycle_time") > 180 {
		reasons = append(reasons, "Extended cycle time")
	}
	if features.Get("complexity") > 15 {
		reasons = append(reasons, "Very high complexity")
	}
	if features.Get("cost_estimate") > 100_000 {
		reasons = append(reasons, "High-value project")
	}
	return reasons
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
