package retry

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/botexport/internal/constants"
)

// Outcome classifies a single HTTP attempt.
type Outcome int

const (
	Success Outcome = iota
	NoContent
	RateLimited
	Unauthorized
	PermanentFailure
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NoContent:
		return "no_content"
	case RateLimited:
		return "rate_limited"
	case Unauthorized:
		return "unauthorized"
	case PermanentFailure:
		return "permanent_failure"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Classify maps an HTTP status to its retry outcome. A status of 0 means the
// request never produced a response and is treated as transient.
func Classify(status int) Outcome {
	switch {
	case status == http.StatusNoContent:
		return NoContent
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status >= 400 && status < 500:
		return PermanentFailure
	default:
		return Transient
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config is the retry policy for remote calls and store writes.
type Config struct {
	// MaxAttempts bounds transient failures. Rate-limited attempts do not count.
	MaxAttempts int
	// RetryDelay is the wait after a transient failure.
	RetryDelay time.Duration
	// RateLimitDefault is used when a 429 carries no usable hint.
	RateLimitDefault time.Duration
	// BackoffFactor multiplies RetryDelay per consumed attempt; 1 keeps it fixed.
	BackoffFactor float64
	MaxDelay      time.Duration
	// RetryableErrors are substrings that mark a Go error as retryable in WithRetry.
	RetryableErrors []string
	Sleep           SleepFunc
}

// DefaultConfig is the transport policy: three attempts, fixed five second delay.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:      constants.DefaultMaxAttempts,
		RetryDelay:       constants.DefaultRetryDelay,
		RateLimitDefault: constants.DefaultRateLimitWait,
		BackoffFactor:    constants.DefaultBackoffFactor,
		MaxDelay:         constants.DefaultMaxRetryDelay,
		Sleep:            Sleep,
	}
}

// DefaultStoreConfig is the policy for run history writes.
func DefaultStoreConfig() *Config {
	return &Config{
		MaxAttempts:   4,
		RetryDelay:    constants.DefaultStorePersistWait,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Second,
		RetryableErrors: []string{
			"connection refused",
			"connection reset",
			"timeout",
			"database is locked",
			"deadlock",
			"broken pipe",
		},
		Sleep: Sleep,
	}
}

func (c *Config) normalized() *Config {
	if c == nil {
		return DefaultConfig()
	}
	n := *c
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = 1
	}
	if n.BackoffFactor <= 0 {
		n.BackoffFactor = 1
	}
	if n.RateLimitDefault <= 0 {
		n.RateLimitDefault = constants.DefaultRateLimitWait
	}
	if n.Sleep == nil {
		n.Sleep = Sleep
	}
	return &n
}

// Normalize fills zero fields so callers can build a Config from partial settings.
func (c *Config) Normalize() *Config {
	return c.normalized()
}

// Delay returns the wait after the given number of consumed attempts (1-based).
func (c *Config) Delay(consumed int) time.Duration {
	if consumed <= 1 || c.BackoffFactor == 1 {
		return c.capped(c.RetryDelay)
	}
	d := time.Duration(float64(c.RetryDelay) * math.Pow(c.BackoffFactor, float64(consumed-1)))
	return c.capped(d)
}

func (c *Config) capped(d time.Duration) time.Duration {
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// ParseRetryAfter reads the server supplied wait from the Retry-After header
// (seconds, possibly fractional) or the retry_after field of a JSON body.
// It returns def when neither is usable.
func ParseRetryAfter(header string, body []byte, def time.Duration) time.Duration {
	if d, ok := secondsToDuration(strings.TrimSpace(header)); ok {
		return d
	}
	if len(body) > 0 && gjson.ValidBytes(body) {
		if v := gjson.GetBytes(body, "retry_after"); v.Exists() {
			if d, ok := secondsToDuration(v.String()); ok {
				return d
			}
		}
	}
	return def
}

// MaxRetryAfter caps server supplied waits; larger hints would overflow a Duration.
const MaxRetryAfter = time.Hour

func secondsToDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f >= MaxRetryAfter.Seconds() {
		return MaxRetryAfter, true
	}
	return time.Duration(f * float64(time.Second)), true
}
