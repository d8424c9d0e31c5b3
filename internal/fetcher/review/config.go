package review

import (
	"fmt"
	"strings"
	"time"
)

// Config holds every knob of the upstream review client. Nothing is read from
// package globals; callers build it from the service configuration.
type Config struct {
	Endpoint       string
	Origin         string
	BusinessType   string
	UserAgent      string
	AcceptLanguage string
	PageSize       int

	// MaxRetries bounds the transport and 5xx failures tolerated per page request.
	MaxRetries int
	// RateLimitCap caps the server-directed wait after a 429.
	RateLimitCap     time.Duration
	RequestTimeout   time.Duration
	TransportBackoff time.Duration
	ServerBackoff    time.Duration

	// MaxRequestsPerSecond is a hard request ceiling; zero disables it.
	MaxRequestsPerSecond float64

	Pacing Pacing
}

// Pacing is the jittered delay applied between successful pages.
type Pacing struct {
	Min, Max time.Duration

	ExtraChance        float64
	ExtraMin, ExtraMax time.Duration

	LongChance       float64
	LongMin, LongMax time.Duration
}

// DefaultConfig returns the production defaults of the visitor review API.
func DefaultConfig() Config {
	return Config{
		Endpoint:         "https://pcmap-api.place.naver.com/graphql",
		Origin:           "https://pcmap.place.naver.com",
		BusinessType:     "restaurant",
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36",
		AcceptLanguage:   "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
		PageSize:         50,
		MaxRetries:       5,
		RateLimitCap:     540 * time.Second,
		RequestTimeout:   10 * time.Second,
		TransportBackoff: 3 * time.Second,
		ServerBackoff:    5 * time.Second,
		Pacing: Pacing{
			Min:         2 * time.Second,
			Max:         4 * time.Second,
			ExtraChance: 0.8,
			ExtraMin:    500 * time.Millisecond,
			ExtraMax:    3 * time.Second,
			LongChance:  0.1,
			LongMin:     4 * time.Second,
			LongMax:     6 * time.Second,
		},
	}
}

// Validate enforces required values.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be > 0")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be > 0")
	}
	if c.RateLimitCap < 0 || c.Pacing.Min < 0 || c.Pacing.Max < c.Pacing.Min {
		return fmt.Errorf("invalid delay configuration")
	}
	return nil
}

// RefererURL is the visitor review page of a unit; it is also the page used to
// obtain session cookies.
func (c Config) RefererURL(unitID string) string {
	return fmt.Sprintf("%s/%s/%s/review/visitor", strings.TrimRight(c.Origin, "/"), c.BusinessType, unitID)
}
