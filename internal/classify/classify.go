// Package classify calls an external model service to type incoming
// problems. The service is advisory: any failure falls back to the
// safe default instead of blocking problem intake.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
)

// FallbackConfidence is reported whenever the classifier cannot run.
const FallbackConfidence = 0.5

// Classifier types a problem from its title and description.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (domain.IssueType, float64)
	Summarize(ctx context.Context, title, description string) string
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("classify: missing base url")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.New("classify: invalid base url")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "classify").Logger(),
	}, nil
}

type classifyRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type classifyResponse struct {
	IssueType  string  `json:"issue_type"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary,omitempty"`
}

// Classify returns the predicted issue type and confidence. Transport
// failures, non-2xx statuses, malformed bodies and out-of-vocabulary
// labels all yield (PROCESS, 0.5).
func (c *Client) Classify(ctx context.Context, title, description string) (domain.IssueType, float64) {
	resp, err := c.post(ctx, "/v1/classify", classifyRequest{Title: title, Description: description})
	if err != nil {
		c.log.Warn().Err(err).Msg("classification unavailable, using fallback")
		return domain.IssueProcess, FallbackConfidence
	}
	issueType, ok := domain.ParseIssueType(strings.ToUpper(strings.TrimSpace(resp.IssueType)))
	if !ok {
		c.log.Warn().Str("issue_type", resp.IssueType).Msg("unknown label from classifier, using fallback")
		return domain.IssueProcess, FallbackConfidence
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return issueType, FallbackConfidence
	}
	return issueType, resp.Confidence
}

// Summarize asks the model for a short summary, falling back to a
// templated one when the service is down.
func (c *Client) Summarize(ctx context.Context, title, description string) string {
	resp, err := c.post(ctx, "/v1/summarize", classifyRequest{Title: title, Description: description})
	if err != nil || strings.TrimSpace(resp.Summary) == "" {
		return TemplatedSummary(title, description)
	}
	return resp.Summary
}

func (c *Client) post(ctx context.Context, path string, body classifyRequest) (*classifyResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("classify: http %d", resp.StatusCode)
	}
	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("classify: bad response body: %w", err)
	}
	return &out, nil
}

// TemplatedSummary is the deterministic fallback summary.
func TemplatedSummary(title, description string) string {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if description == "" {
		return title
	}
	const maxLen = 200
	if len(description) > maxLen {
		// Back up to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(description[cut]) {
			cut--
		}
		description = description[:cut] + "…"
	}
	return title + ": " + description
}

// Disabled is the no-service classifier: every call takes the fallback
// path. Used when no classifier endpoint is configured.
type Disabled struct{}

func (Disabled) Classify(context.Context, string, string) (domain.IssueType, float64) {
	return domain.IssueProcess, FallbackConfidence
}

func (Disabled) Summarize(_ context.Context, title, description string) string {
	return TemplatedSummary(title, description)
}
