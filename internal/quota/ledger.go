// Package quota meters monthly message usage against plan limits.
//
// Allow and the caller's later record write are not atomic: two concurrent sends
// near the limit can both pass the check. The overshoot is bounded by request
// concurrency and accepted.
package quota

import (
	"context"
	"fmt"
	"time"

	"omnibot/internal/config"
	"omnibot/internal/storage"
)

// Counter reports how many messages a user has recorded since a point in time.
type Counter interface {
	CountMessagesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type Decision struct {
	Allowed bool
	Used    int
	Limit   int
}

// Remaining is the number of sends left after the one this decision admits.
func (d Decision) Remaining() int {
	return d.Limit - d.Used - 1
}

type Ledger struct {
	counter Counter
	limits  config.QuotaConfig
	now     func() time.Time
}

func NewLedger(counter Counter, limits config.QuotaConfig) *Ledger {
	return &Ledger{counter: counter, limits: limits, now: time.Now}
}

// WithClock returns a copy of the ledger that reads time from now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

// WindowStart is the first instant of the current UTC calendar month.
func WindowStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) Count(ctx context.Context, userID string) (int, error) {
	n, err := l.counter.CountMessagesSince(ctx, userID, WindowStart(l.now()))
	if err != nil {
		return 0, fmt.Errorf("count monthly messages: %w", err)
	}
	return n, nil
}

// Limit maps a plan to its monthly allowance. Unknown plans get the free limit.
func (l *Ledger) Limit(plan string) int {
	switch plan {
	case storage.PlanBasic:
		return l.limits.Basic
	case storage.PlanPremium:
		return l.limits.Premium
	default:
		return l.limits.Free
	}
}

func (l *Ledger) Allow(ctx context.Context, userID, plan string) (Decision, error) {
	used, err := l.Count(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	limit := l.Limit(plan)
	return Decision{Allowed: used < limit, Used: used, Limit: limit}, nil
}
