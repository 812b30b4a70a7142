// Package config loads process configuration: .env file, environment
// struct, and the YAML file describing federated identity providers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/deciframe-hq/deciframe/internal/identity"
)

type Config struct {
	Addr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	SessionSecret string        `env:"SESSION_SECRET,required"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	AIServiceURL  string        `env:"AI_SERVICE_URL"`
	AIServiceKey  string        `env:"AI_SERVICE_KEY"`
	ModelsDir     string        `env:"MODELS_DIR"`
	ProvidersPath string        `env:"PROVIDERS_PATH"`
	WorkerCount   int           `env:"WORKER_COUNT" envDefault:"4"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	RateLimitMax  int           `env:"RATE_LIMIT_MAX" envDefault:"10"`
	RateLimitWin  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
}

// Load reads .env (when present) and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// providersFile is the YAML shape of the provider config file. Secrets
// stay in the environment; the file carries the non-secret wiring.
type providersFile struct {
	Providers []struct {
		Name         string   `yaml:"name"`
		ClientIDEnv  string   `yaml:"client_id_env"`
		SecretEnv    string   `yaml:"client_secret_env"`
		RedirectURL  string   `yaml:"redirect_url"`
		Issuer       string   `yaml:"issuer"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"providers"`
}

// LoadProviders parses the provider YAML. A missing file means no
// federated login, which is a valid deployment.
func LoadProviders(path string) ([]identity.ProviderConfig, error) {
	if path == "" {
		p, err := defaultProvidersPath()
		if err != nil {
			return nil, nil
		}
		path = p
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: providers: %w", err)
	}
	var file providersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: providers: %w", err)
	}
	out := make([]identity.ProviderConfig, 0, len(file.Providers))
	for _, p := range file.Providers {
		out = append(out, identity.ProviderConfig{
			Name:         identity.ProviderName(p.Name),
			ClientID:     os.Getenv(p.ClientIDEnv),
			ClientSecret: os.Getenv(p.SecretEnv),
			RedirectURL:  p.RedirectURL,
			Issuer:       p.Issuer,
			Scopes:       p.Scopes,
		})
	}
	return out, nil
}

func defaultProvidersPath() (string, error) {
	path := "config/providers.yaml"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", os.ErrNotExist
}
