// Package budget bounds how much work one ProcessNextBatch call may do.
//
// A Budget is a count of items, a wall-clock deadline, or both. Jobs check it
// between items, which makes it the only cooperative suspension point:
//
//	for _, userID := range page {
//	    if b.Exhausted(processed, now()) {
//	        break
//	    }
//	    ...
//	}
package budget

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Budget limits a single batch. The zero value is unlimited.
type Budget struct {
	MaxItems int           // 0 = no count limit
	Deadline time.Time     // zero = no deadline
	Pacer    *rate.Limiter // nil = unpaced
}

// Reasons a batch stopped short of finishing the job.
const (
	StopItems    = "budget_exhausted"
	StopDeadline = "deadline"
)

// Items returns a count-limited budget.
func Items(n int) Budget {
	return Budget{MaxItems: n}
}

// Until returns a time-limited budget.
func Until(deadline time.Time) Budget {
	return Budget{Deadline: deadline}
}

// WithDeadline tightens the deadline; an earlier existing deadline wins.
func (b Budget) WithDeadline(deadline time.Time) Budget {
	if deadline.IsZero() {
		return b
	}
	if b.Deadline.IsZero() || deadline.Before(b.Deadline) {
		b.Deadline = deadline
	}
	return b
}

// WithPacer attaches a rate limiter consulted before every item.
func (b Budget) WithPacer(pacer *rate.Limiter) Budget {
	b.Pacer = pacer
	return b
}

// Unlimited reports whether the budget never runs out on its own.
func (b Budget) Unlimited() bool {
	return b.MaxItems <= 0 && b.Deadline.IsZero()
}

// Exhausted reports whether no further item may start.
func (b Budget) Exhausted(processed int, now time.Time) bool {
	return b.StopReason(processed, now) != ""
}

// StopReason explains exhaustion, or returns "" while budget remains.
func (b Budget) StopReason(processed int, now time.Time) string {
	if b.MaxItems > 0 && processed >= b.MaxItems {
		return StopItems
	}
	if !b.Deadline.IsZero() && !now.Before(b.Deadline) {
		return StopDeadline
	}
	return ""
}

// Remaining returns how many more items fit, or math.MaxInt without a count limit.
func (b Budget) Remaining(processed int) int {
	if b.MaxItems <= 0 {
		return math.MaxInt
	}
	if processed >= b.MaxItems {
		return 0
	}
	return b.MaxItems - processed
}

// PageSize returns how many items to fetch next: what remains of the count
// limit, capped at pageSize.
func (b Budget) PageSize(processed, pageSize int) int {
	remaining := b.Remaining(processed)
	if pageSize <= 0 || remaining < pageSize {
		return remaining
	}
	return pageSize
}

// Wait blocks until the pacer allows the next item. Without a pacer it only
// reports context cancellation.
func (b Budget) Wait(ctx context.Context) error {
	if b.Pacer == nil {
		return ctx.Err()
	}
	return b.Pacer.Wait(ctx)
}

// NewPacer returns a limiter allowing perSecond items per second, or nil when
// perSecond is not positive.
func NewPacer(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
