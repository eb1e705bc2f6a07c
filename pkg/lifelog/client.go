// Package lifelog fetches the day's lifelog records from the upstream API.
package lifelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wehubfusion/Digest/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
	"github.com/wehubfusion/Digest/pkg/extractor"
)

const (
	DefaultBaseURL     = "https://api.limitless.ai"
	DefaultPageSize    = 10
	DefaultMaxRetries  = 3
	DefaultMaxPages    = 100
	DefaultRateLimit   = 2.0
	DefaultTimeout     = 30 * time.Second
	defaultBaseBackoff = 500 * time.Millisecond
	maxBackoff         = 10 * time.Second
)

// Config configures the lifelog client.
type Config struct {
	APIKey     string
	BaseURL    string
	PageSize   int
	MaxRetries int
	// MaxPages stops pagination if the upstream keeps returning cursors.
	MaxPages int
	// RateLimit is the number of requests per second.
	RateLimit   float64
	Timeout     time.Duration
	BaseBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Client reads lifelogs page by page.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *concurrency.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a lifelog client. An API key is required.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: lifelog api key is required", sdkerrors.ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.With(zap.String("component", "lifelog"))
	breaker := concurrency.NewCircuitBreaker("lifelog", 5, 30*time.Second).OnStateChange(concurrency.LogStateChanges(logger))

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// FetchDay returns every record of date (YYYY-MM-DD) as seen from loc.
func (c *Client) FetchDay(ctx context.Context, date string, loc *time.Location) ([]extractor.Record, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	records := make([]extractor.Record, 0)
	cursor := ""

	for page := 1; ; page++ {
		if page > c.cfg.MaxPages {
			c.logger.Warn("Stopping pagination at page limit",
				zap.String("date", date),
				zap.Int("max_pages", c.cfg.MaxPages))
			break
		}

		body, err := c.getWithRetry(ctx, c.pageURL(date, loc, cursor))
		if err != nil {
			return nil, err
		}

		batch, next, err := parsePage(body)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)

		c.logger.Debug("Fetched lifelog page",
			zap.String("date", date),
			zap.Int("page", page),
			zap.Int("count", len(batch)))

		if next == "" || len(batch) == 0 {
			break
		}
		cursor = next
	}

	c.logger.Info("Fetched lifelogs",
		zap.String("date", date),
		zap.Int("records", len(records)))

	return records, nil
}

func (c *Client) pageURL(date string, loc *time.Location, cursor string) string {
	q := url.Values{}
	q.Set("date", date)
	q.Set("timezone", loc.String())
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("includeMarkdown", "true")
	q.Set("includeHeadings", "true")
	q.Set("direction", "asc")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.cfg.BaseURL + "/v1/lifelogs?" + q.Encode()
}

// parsePage reads the records and the next cursor from one response body.
func parsePage(body []byte) ([]extractor.Record, string, error) {
	if !gjson.ValidBytes(body) {
		return nil, "", fmt.Errorf("%w: lifelog response is not valid JSON", sdkerrors.ErrUpstream)
	}

	parsed := gjson.ParseBytes(body)
	items := parsed.Get("data.lifelogs").Array()
	records := make([]extractor.Record, 0, len(items))

	for _, item := range items {
		var rec extractor.Record
		if err := json.Unmarshal([]byte(item.Raw), &rec); err != nil {
			return nil, "", fmt.Errorf("decode lifelog %s: %w", item.Get("id").String(), err)
		}
		records = append(records, rec)
	}

	return records, parsed.Get("meta.lifelogs.nextCursor").String(), nil
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(c.cfg.BaseBackoff, attempt)
			var se *statusError
			if errors.As(lastErr, &se) && se.retryAfter > 0 {
				wait = se.retryAfter
			}

			c.logger.Warn("Retrying lifelog request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.get(ctx, endpoint)
		if err == nil {
			c.breaker.RecordSuccess()
			return body, nil
		}

		lastErr = err
		if !sdkerrors.IsRetryable(err) {
			return nil, err
		}
		c.breaker.RecordFailure()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("lifelog request failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{
			err:        sdkerrors.UpstreamStatus("lifelog API", resp.StatusCode, truncate(string(body), 200)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

// statusError is a non-200 response and the wait the server asked for.
type statusError struct {
	err        *sdkerrors.Error
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return e.err.Message
}

func (e *statusError) Unwrap() error {
	return e.err
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<(attempt-1))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > maxBackoff {
			return maxBackoff
		}
		return d
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
