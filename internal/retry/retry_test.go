package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   Outcome
	}{
		{200, Success},
		{201, Success},
		{204, NoContent},
		{429, RateLimited},
		{401, Unauthorized},
		{403, PermanentFailure},
		{404, PermanentFailure},
		{400, PermanentFailure},
		{500, Transient},
		{502, Transient},
		{0, Transient},
	}
	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	def := 5 * time.Second
	tests := []struct {
		name   string
		header string
		body   string
		want   time.Duration
	}{
		{"header seconds", "2", "", 2 * time.Second},
		{"header fractional", "0.25", "", 250 * time.Millisecond},
		{"body field", "", `{"retry_after": 1.5, "global": false}`, 1500 * time.Millisecond},
		{"header wins", "3", `{"retry_after": 9}`, 3 * time.Second},
		{"garbage header falls back to body", "soon", `{"retry_after": 4}`, 4 * time.Second},
		{"nothing usable", "", "not json", def},
		{"negative", "-1", "", def},
		{"huge header is capped", "1e20", "", MaxRetryAfter},
		{"huge integer header is capped", "9999999999999", "", MaxRetryAfter},
		{"huge body hint is capped", "", `{"retry_after": 1e300}`, MaxRetryAfter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.header, []byte(tt.body), def); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelay(t *testing.T) {
	fixed := &Config{RetryDelay: 5 * time.Second, BackoffFactor: 1}
	for i := 1; i <= 3; i++ {
		if d := fixed.Delay(i); d != 5*time.Second {
			t.Fatalf("fixed delay attempt %d = %v", i, d)
		}
	}
	exp := &Config{RetryDelay: time.Second, BackoffFactor: 2, MaxDelay: 3 * time.Second}
	if d := exp.Delay(2); d != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d)
	}
	if d := exp.Delay(5); d != 3*time.Second {
		t.Fatalf("expected cap 3s, got %v", d)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	c := (&Config{}).Normalize()
	if c.MaxAttempts != 1 || c.BackoffFactor != 1 || c.Sleep == nil || c.RateLimitDefault <= 0 {
		t.Fatalf("unexpected normalized config: %+v", c)
	}
	var nilCfg *Config
	if nilCfg.Normalize().MaxAttempts != 3 {
		t.Fatalf("nil config should normalize to defaults")
	}
}

func noSleep(slept *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
}

func TestWithRetryRetriesRetryableErrors(t *testing.T) {
	var slept []time.Duration
	cfg := DefaultStoreConfig()
	cfg.Sleep = noSleep(&slept)

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || len(slept) != 2 {
		t.Fatalf("calls=%d sleeps=%d", calls, len(slept))
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	var slept []time.Duration
	cfg := DefaultStoreConfig()
	cfg.Sleep = noSleep(&slept)

	calls := 0
	want := errors.New("syntax error")
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 1 || len(slept) != 0 {
		t.Fatalf("err=%v calls=%d sleeps=%d", err, calls, len(slept))
	}
}

func TestWithRetryExhausts(t *testing.T) {
	var slept []time.Duration
	cfg := DefaultStoreConfig()
	cfg.Sleep = noSleep(&slept)

	err := WithRetry(context.Background(), cfg, func() error { return errors.New("connection refused") })
	if err == nil || !strings.Contains(err.Error(), "after 4 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultStoreConfig()
	err := WithRetry(ctx, cfg, func() error { return errors.New("timeout") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
}
