// Package review implements the paginated visitor review client.
package review

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const maxResponseBytes = 16 << 20

// Warmer populates the session cookies needed before the API accepts requests.
type Warmer interface {
	Warm(ctx context.Context, pageURL string) error
}

// Option customizes a Client.
type Option func(*Client)

// WithRandSource replaces the pacing randomness (tests).
func WithRandSource(source func() float64) Option {
	return func(c *Client) {
		c.pacer = newPacer(c.cfg.Pacing, source)
	}
}

// WithWarmer sets the session warmer run before each unit.
func WithWarmer(w Warmer) Option {
	return func(c *Client) {
		c.warmer = w
	}
}

// Client talks to the upstream GraphQL endpoint. It implements harvest.Harvester.
type Client struct {
	cfg     Config
	http    *http.Client
	warmer  Warmer
	sleeper harvest.Sleeper
	limiter *rate.Limiter
	policy  retryPolicy
	pacer   pacer
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New builds a Client. When httpClient is nil a client with a cookie jar and
// the configured request timeout is created.
func New(cfg Config, httpClient *http.Client, sleeper harvest.Sleeper, logger *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("review client config: %w", err)
	}
	if sleeper == nil {
		return nil, fmt.Errorf("sleeper is required")
	}
	if httpClient == nil {
		var err error
		httpClient, err = NewHTTPClient(cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxRequestsPerSecond)
	}
	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		sleeper: sleeper,
		limiter: rate.NewLimiter(limit, 1),
		policy:  newRetryPolicy(cfg),
		pacer:   newPacer(cfg.Pacing, nil),
		tracer:  otel.Tracer("github.com/JakeFAU/review-harvester/internal/fetcher/review"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClient returns an http.Client holding session cookies across requests.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &http.Client{Jar: jar, Timeout: timeout}, nil
}

// FetchPage requests one page after cursor (nil = first page), applying the
// retry, backoff and rate-limit policy.
func (c *Client) FetchPage(ctx context.Context, unitID string, cursor *string) (Page, error) {
	ctx, span := c.tracer.Start(ctx, "review.FetchPage", trace.WithAttributes(
		attribute.String("unit_id", unitID),
		attribute.Bool("first_page", cursor == nil),
	))
	defer span.End()

	page, err := c.fetchPage(ctx, unitID, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Page{}, err
	}
	span.SetAttributes(attribute.Int("items", page.Items))
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, unitID string, cursor *string) (Page, error) {
	payload, err := buildPayload(unitID, cursor, c.cfg.BusinessType, c.cfg.PageSize)
	if err != nil {
		return Page{}, err
	}
	log := c.logger.With(zap.String("unit_id", unitID))

	attempt := 0
	rateLimited := false
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return Page{}, fmt.Errorf("request limiter: %w", err)
		}
		start := time.Now()
		status, header, body, err := c.post(ctx, unitID, payload)
		metrics.ObserveRequest(status, time.Since(start))

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Page{}, fmt.Errorf("request canceled: %w", ctx.Err())
			}
			attempt++
			rateLimited = false
			metrics.ObservePage("transport_error")
			if c.policy.exhausted(attempt) {
				return Page{}, fmt.Errorf("%w after %d transport failures: %v", ErrRetriesExhausted, attempt, err)
			}
			delay := c.policy.transportDelay(attempt)
			log.Warn("transport error; backing off", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			metrics.ObserveRetry("transport")
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return Page{}, err
			}

		case status == http.StatusOK:
			page, err := decodePage(body)
			if err != nil {
				metrics.ObservePage("malformed")
				return Page{}, err
			}
			if page.Empty() {
				metrics.ObservePage("empty")
			} else {
				metrics.ObservePage("ok")
			}
			return page, nil

		case status == http.StatusTooManyRequests:
			metrics.ObservePage("rate_limited")
			if rateLimited {
				return Page{}, ErrRateLimited
			}
			rateLimited = true
			delay := c.policy.rateLimitDelay(header.Get("Retry-After"))
			log.Warn("rate limited; waiting", zap.Duration("delay", delay))
			metrics.ObserveRetry("rate_limited")
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return Page{}, err
			}

		case status >= http.StatusInternalServerError:
			attempt++
			rateLimited = false
			metrics.ObservePage("server_error")
			if c.policy.exhausted(attempt) {
				return Page{}, fmt.Errorf("%w after %d server errors (last %d)", ErrRetriesExhausted, attempt, status)
			}
			delay := c.policy.serverDelay(attempt)
			log.Warn("server error; backing off", zap.Int("status", status), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			metrics.ObserveRetry("server")
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return Page{}, err
			}

		default:
			metrics.ObservePage("fatal_status")
			return Page{}, &StatusError{Code: status, Body: excerpt(body)}
		}
	}
}

func (c *Client) post(ctx context.Context, unitID string, payload []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", c.cfg.AcceptLanguage)
	req.Header.Set("Origin", c.cfg.Origin)
	req.Header.Set("Referer", c.cfg.RefererURL(unitID))
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("post page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// Harvest pages through a unit starting after resume until upstream is
// exhausted, a request fails for good, or itemCap records were collected
// (itemCap <= 0 means no cap). Records gathered before a failure are kept.
func (c *Client) Harvest(ctx context.Context, unitID string, resume *string, itemCap int) (harvest.HarvestResult, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return harvest.HarvestResult{}, err
	}
	ctx, span := c.tracer.Start(ctx, "review.Harvest", trace.WithAttributes(attribute.String("unit_id", unitID)))
	defer span.End()

	result := harvest.HarvestResult{Signal: harvest.SignalPaused}
	if resume != nil {
		result.LastCursor = *resume
	}
	log := c.logger.With(zap.String("unit_id", unitID))

	if c.warmer != nil {
		if err := c.warmer.Warm(ctx, c.cfg.RefererURL(unitID)); err != nil {
			result.Reason = fmt.Errorf("%w: %v", ErrSessionWarmup, err).Error()
			log.Warn("session warm-up failed; pausing unit", zap.Error(err))
			return result, nil
		}
	}

	cursor := resume
	for itemCap <= 0 || len(result.Records) < itemCap {
		page, err := c.FetchPage(ctx, unitID, cursor)
		if err != nil {
			result.Reason = err.Error()
			log.Warn("pausing unit", zap.Int("collected", len(result.Records)), zap.Error(err))
			span.SetAttributes(attribute.String("signal", string(result.Signal)))
			return result, nil
		}
		result.Pages++
		if page.Empty() {
			result.Signal = harvest.SignalExhausted
			log.Info("no more reviews upstream", zap.Int("collected", len(result.Records)))
			span.SetAttributes(attribute.String("signal", string(result.Signal)))
			return result, nil
		}

		result.Records = append(result.Records, page.Records...)
		next := page.NextCursor
		cursor = &next
		result.LastCursor = next
		log.Info("page collected",
			zap.Int("items", page.Items),
			zap.Int("collected", len(result.Records)),
		)

		if itemCap > 0 && len(result.Records) >= itemCap {
			break
		}
		if err := c.sleeper.Sleep(ctx, c.pacer.next()); err != nil {
			result.Reason = err.Error()
			return result, nil
		}
	}
	result.Reason = "item cap reached"
	span.SetAttributes(attribute.String("signal", string(result.Signal)))
	return result, nil
}

func excerpt(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
