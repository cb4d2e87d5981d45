package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive calls of one step. The first call is not delayed.
type Pacer struct {
	limit   rate.Limit
	limiter *rate.Limiter
}

// NewPacer allows one call per interval; interval <= 0 disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{limit: limit, limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Done marks the end of a call. The next Wait then lasts a full interval
// from now, however long the call took.
func (p *Pacer) Done() {
	p.limiter = rate.NewLimiter(p.limit, 1)
	p.limiter.Allow()
}
