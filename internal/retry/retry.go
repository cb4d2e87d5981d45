package retry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/botexport/internal/common"
)

func (c *Config) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range c.RetryableErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Operation is a unit of work retried by WithRetry.
type Operation func() error

// WithRetry runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Waiting honours ctx.
func WithRetry(ctx context.Context, cfg *Config, op Operation) error {
	if cfg == nil {
		cfg = DefaultStoreConfig()
	}
	cfg = cfg.normalized()
	logger := common.GetLogger().WithComponent("retry")

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}
		if !cfg.isRetryableError(err) {
			return err
		}
		delay := cfg.Delay(attempt)
		logger.Warn("operation failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"retry_delay", delay)
		if serr := cfg.Sleep(ctx, delay); serr != nil {
			return fmt.Errorf("operation cancelled during retry: %w", serr)
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// WithRetryExec retries a database exec.
func WithRetryExec(ctx context.Context, cfg *Config, exec func() (sql.Result, error)) (sql.Result, error) {
	var res sql.Result
	err := WithRetry(ctx, cfg, func() error {
		var err error
		res, err = exec()
		return err
	})
	return res, err
}
