package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/colthorp/mirror-explorer-go/internal/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrNotFound is matched (via errors.Is) by an APIError carrying HTTP 404.
var ErrNotFound = errors.New("entity not found")

// APIError is returned when the mirror node returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) recognize 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

var tracer = otel.Tracer("github.com/colthorp/mirror-explorer-go/internal/api")

// Client is the HTTP wrapper around the mirror node REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	verbose    bool
}

// NewClient creates a new API client for the configured mirror node.
func NewClient(cfg core.Config, verbose bool) *Client {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = core.DefaultRateLimit
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: fmt.Sprintf("%s/%s", cfg.BaseURL, core.APIPathPrefix),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:    rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		maxRetries: 3,
		verbose:    verbose,
	}
}

// log writes a message to stderr if verbose mode is enabled.
func (c *Client) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), c.verbose)
}

// Request performs a GET request and returns the JSON payload.
// Retries automatically on HTTP 5xx or 429 responses with exponential back-off.
func (c *Client) Request(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	urlStr := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(endpoint, "/"))

	// Build query string
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}

	ctx, span := tracer.Start(ctx, "mirror.request", trace.WithAttributes(
		attribute.String("mirror.endpoint", endpoint),
	))
	defer span.End()

	body, err := c.doWithRetry(ctx, urlStr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) doWithRetry(ctx context.Context, urlStr string) ([]byte, error) {
	c.log(fmt.Sprintf("GET %s", urlStr))

	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < c.maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				c.log(fmt.Sprintf("Attempt %d failed (connection error); retrying in %v...", attempt, wait))
				if err := sleepCtx(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		// Check for retryable errors
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: string(body)}
			if attempt < c.maxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				c.log(fmt.Sprintf("Attempt %d failed (HTTP %d); retrying in %v...", attempt, resp.StatusCode, wait))
				if err := sleepCtx(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		// Non-retryable error
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}

		c.log(fmt.Sprintf("Response: HTTP %d, %d bytes", resp.StatusCode, len(body)))
		return body, nil
	}

	return nil, lastErr
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseNextLink splits a links.next value ("/api/v1/x?limit=2&a=b") into an
// endpoint relative to the API prefix and its query parameters.
func parseNextLink(next string) (string, map[string]string, error) {
	u, err := url.Parse(next)
	if err != nil {
		return "", nil, fmt.Errorf("invalid next link '%s': %w", next, err)
	}
	endpoint := strings.TrimPrefix(strings.TrimLeft(u.Path, "/"), core.APIPathPrefix)
	endpoint = strings.TrimLeft(endpoint, "/")

	params := make(map[string]string)
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return endpoint, params, nil
}

// IsVerbose returns whether verbose logging is enabled.
func (c *Client) IsVerbose() bool {
	return c.verbose
}
