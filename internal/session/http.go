// Package session obtains the cookies the review API expects from a browser
// that visited the unit page first.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// HTTPWarmer fetches the unit page with the shared client so its cookie jar
// picks up whatever the site sets.
type HTTPWarmer struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTPWarmer returns a warmer using client, which must carry a cookie jar.
func NewHTTPWarmer(client *http.Client, userAgent string, logger *zap.Logger) (*HTTPWarmer, error) {
	if client == nil || client.Jar == nil {
		return nil, fmt.Errorf("http warmer needs a client with a cookie jar")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWarmer{client: client, userAgent: userAgent, logger: logger}, nil
}

// Warm GETs pageURL. Any non-5xx response counts as warmed; the site often
// answers bot-looking requests with 4xx yet still sets cookies.
func (w *HTTPWarmer) Warm(ctx context.Context, pageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("build warm-up request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("warm-up request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("warm-up status %d", resp.StatusCode)
	}
	w.logger.Debug("session warmed",
		zap.String("url", pageURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("cookies", len(w.client.Jar.Cookies(req.URL))),
	)
	return nil
}
