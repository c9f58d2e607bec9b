// Package quota tracks monthly outbound send counts per sender mailbox in
// Redis. It protects the Gmail quota of the impersonated mailboxes in bulk
// mode; the per-send pacing delay handles the short-term API rate limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded is returned by Check when the sender is at or over
// their monthly limit.
var ErrLimitExceeded = errors.New("monthly send limit exceeded")

// Config holds send quota configuration.
type Config struct {
	// MonthlyLimit is the maximum sends per sender per calendar month.
	// Zero disables the check.
	MonthlyLimit int
}

// Limiter counts sends per sender per month. A nil Redis client disables
// all checks, which keeps single-webhook deployments free of a Redis
// dependency.
type Limiter struct {
	client *redis.Client
	config Config
}

// NewLimiter creates a Limiter with the given Redis client and
// configuration. client may be nil.
func NewLimiter(client *redis.Client, config Config) *Limiter {
	return &Limiter{
		client: client,
		config: config,
	}
}

// Check returns nil if the sender is under their monthly limit, or an
// error if the limit is exceeded.
func (l *Limiter) Check(ctx context.Context, sender string) error {
	if l.client == nil || l.config.MonthlyLimit <= 0 {
		return nil
	}

	key := fmt.Sprintf("quota:send:%s:%s", sender, currentMonth())
	count, err := l.client.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("check send quota: %w", err)
	}

	if int(count) >= l.config.MonthlyLimit {
		return fmt.Errorf("%w (%d/%d)", ErrLimitExceeded, count, l.config.MonthlyLimit)
	}

	return nil
}

// Record increments the monthly send counter for the given sender.
func (l *Limiter) Record(ctx context.Context, sender string) error {
	if l.client == nil || l.config.MonthlyLimit <= 0 {
		return nil
	}

	key := fmt.Sprintf("quota:send:%s:%s", sender, currentMonth())

	pipe := l.client.Pipeline()
	pipe.Incr(ctx, key)
	// Expire at end of current month + 1 day buffer
	pipe.Expire(ctx, key, untilEndOfMonth()+24*time.Hour)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}

	return nil
}

// currentMonth returns the current year-month string (e.g., "2026-08").
func currentMonth() string {
	return time.Now().UTC().Format("2006-01")
}

// untilEndOfMonth returns the duration from now until the end of the
// current month.
func untilEndOfMonth() time.Duration {
	now := time.Now().UTC()
	year, month, _ := now.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Sub(now)
}
