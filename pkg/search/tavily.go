package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/crew/internal/tracing"
	"github.com/harun/crew/pkg/runerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// TavilyConfig configures the Tavily provider.
type TavilyConfig struct {
	APIKey        string
	BaseURL       string
	MaxResults    int     // per-call cap, bounded by HardMaxResults
	RatePerSecond float64 // 0 disables client-side limiting
	Burst         int
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// TavilyProvider implements Invoker against the Tavily search API.
type TavilyProvider struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
	limiter    *rate.Limiter
}

// QuotaError reports a rate-limited response and the provider's suggested wait.
type QuotaError struct {
	Status int
	Wait   time.Duration
	Body   string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("tavily quota exceeded (status %d): %s", e.Status, e.Body)
}

func (e *QuotaError) Unwrap() error { return runerr.ErrToolQuotaExceeded }

// RetryAfter returns the wait advertised by the provider, zero if none.
func (e *QuotaError) RetryAfter() time.Duration { return e.Wait }

// NewTavilyProvider creates a Tavily provider; the API key is required.
func NewTavilyProvider(cfg TavilyConfig) (*TavilyProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: tavily api key", runerr.ErrMissingCredential)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &TavilyProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxResults: Clamp(cfg.MaxResults, HardMaxResults),
		client:     client,
		limiter:    limiter,
	}, nil
}

// Invoke performs one search request.
func (p *TavilyProvider) Invoke(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	count := Clamp(maxResults, p.maxResults)

	ctx, span := tracing.StartSpan(ctx, "crew.search", "search.invoke",
		attribute.String("provider", "tavily"),
		attribute.Int("max_results", count),
	)
	defer span.End()

	results, err := p.invoke(ctx, query, count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return results, err
}

func (p *TavilyProvider) invoke(ctx context.Context, query string, count int) ([]Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: rate limit: %v", runerr.ErrToolUnavailable, err)
		}
	}

	payload := map[string]any{
		"api_key":             p.apiKey,
		"query":               query,
		"search_depth":        "advanced",
		"include_answer":      false,
		"include_images":      false,
		"include_raw_content": false,
		"max_results":         count,
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: tavily request failed: %v", runerr.ErrToolUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", runerr.ErrToolUnavailable, err)
	}

	if err := classifyStatus(resp, body); err != nil {
		return nil, err
	}

	var searchResp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(searchResp.Results))
	for i, item := range searchResp.Results {
		if i >= count {
			break
		}
		results = append(results, Result{
			Title:   item.Title,
			Snippet: item.Content,
			URL:     item.URL,
		})
	}
	return results, nil
}

// classifyStatus maps HTTP statuses onto the error taxonomy. 432 and 433 are
// Tavily's plan and pay-as-you-go limit codes.
func classifyStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 432 || resp.StatusCode == 433:
		return &QuotaError{
			Status: resp.StatusCode,
			Wait:   parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:   string(body),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: tavily api error (status %d): %s", runerr.ErrToolUnavailable, resp.StatusCode, string(body))
	default:
		return fmt.Errorf("tavily api error (status %d): %s", resp.StatusCode, string(body))
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
