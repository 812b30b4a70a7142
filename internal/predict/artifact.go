// Package predict scores projects with pre-trained artifacts and
// bridges the scores to workflow actions through configurable
// thresholds.
package predict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// Artifact is one serialized model triple: the feature order it was
// trained on, its standard scaler and its coefficients.
type Artifact struct {
	FeatureNames []string `json:"feature_names"`
	Scaler       Scaler   `json:"scaler"`
	Model        Model    `json:"model"`
}

type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type Model struct {
	Kind         string    `json:"kind"` // logistic | linear | threshold
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Threshold    float64   `json:"threshold,omitempty"`
}

func (a *Artifact) validate() error {
	n := len(a.FeatureNames)
	if n == 0 {
		return fmt.Errorf("artifact has no feature names")
	}
	if len(a.Scaler.Mean) != n || len(a.Scaler.Scale) != n || len(a.Model.Coefficients) != n {
		return fmt.Errorf("artifact dimensions disagree: %d features, %d mean, %d scale, %d coefficients",
			n, len(a.Scaler.Mean), len(a.Scaler.Scale), len(a.Model.Coefficients))
	}
	switch a.Model.Kind {
	case "logistic", "linear", "threshold":
	default:
		return fmt.Errorf("unknown model kind %q", a.Model.Kind)
	}
	return nil
}

// scale applies the standard scaler. A zero scale component passes the
// centered value through.
func (a *Artifact) scale(features []float64) []float64 {
	out := make([]float64, len(features))
	for i, v := range features {
		centered := v - a.Scaler.Mean[i]
		if a.Scaler.Scale[i] != 0 {
			out[i] = centered / a.Scaler.Scale[i]
		} else {
			out[i] = centered
		}
	}
	return out
}

// Registry memoizes one artifact per prediction kind, loaded from
// <dir>/<kind>.json on first use.
type Registry struct {
	dir     string
	mu      sync.Mutex
	entries map[domain.PredictionKind]*registryEntry
}

type registryEntry struct {
	once     sync.Once
	artifact *Artifact
	err      error
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, entries: make(map[domain.PredictionKind]*registryEntry)}
}

func (r *Registry) Load(kind domain.PredictionKind) (*Artifact, error) {
	r.mu.Lock()
	entry, ok := r.entries[kind]
	if !ok {
		entry = &registryEntry{}
		r.entries[kind] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		path := filepath.Join(r.dir, string(kind)+".json")
		body, err := os.ReadFile(path)
		if err != nil {
			entry.err = httperr.NewUnavailable("model artifact " + string(kind) + " unavailable")
			return
		}
		var a Artifact
		if err := json.Unmarshal(body, &a); err != nil {
			entry.err = httperr.NewUnavailable("model artifact " + string(kind) + " unreadable: " + err.Error())
			return
		}
		if err := a.validate(); err != nil {
			entry.err = httperr.NewUnavailable("model artifact " + string(kind) + " invalid: " + err.Error())
			return
		}
		entry.artifact = &a
	})
	return entry.artifact, entry.err
}
