package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpConfig controls the headless browser used for warm-up.
type ChromedpConfig struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// ChromedpWarmer loads the unit page in headless Chrome and copies the
// browser cookies into the API client's jar.
type ChromedpWarmer struct {
	cfg         ChromedpConfig
	jar         http.CookieJar
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedpWarmer starts an exec allocator; call Close when done.
func NewChromedpWarmer(cfg ChromedpConfig, jar http.CookieJar, logger *zap.Logger) (*ChromedpWarmer, error) {
	if jar == nil {
		return nil, fmt.Errorf("chromedp warmer needs a cookie jar")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpWarmer{
		cfg:         cfg,
		jar:         jar,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser allocator down.
func (w *ChromedpWarmer) Close() {
	w.allocCancel()
}

// Warm navigates to pageURL and stores the resulting cookies.
func (w *ChromedpWarmer) Warm(ctx context.Context, pageURL string) error {
	target, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("parse warm-up url: %w", err)
	}

	taskCtx, taskCancel := chromedp.NewContext(w.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, w.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var cookies []*network.Cookie
	err = chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if w.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(w.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{pageURL}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("chromedp warm-up: %w", err)
	}

	jarCookies := toHTTPCookies(cookies)
	w.jar.SetCookies(target, jarCookies)
	w.logger.Debug("session warmed in browser", zap.String("url", pageURL), zap.Int("cookies", len(jarCookies)))
	return nil
}

func toHTTPCookies(cookies []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
