package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy holds the budget for one counter scope.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// Config carries the independent identifier and origin policies.
type Config struct {
	Identifier Policy
	Origin     Policy
}

// Limiter enforces rolling failed-attempt budgets per account identifier
// and per request origin using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func identifierKey(identifier string) string {
	return "tl:i:" + strings.ToLower(identifier)
}

func originKey(origin string) string {
	return "tl:o:" + origin
}

// Check reports whether the identifier+origin pair is within budget
// before any credential work happens. A *BlockedError means the caller
// must deny the attempt; ErrDegraded means the identifier counter could
// not be read and the caller decides whether to proceed.
func (l *Limiter) Check(ctx context.Context, identifier, origin string) error {
	if origin != "" {
		if err := l.checkCounter(ctx, originKey(origin), l.config.Origin, "origin"); err != nil {
			return err
		}
	}

	if err := l.checkCounter(ctx, identifierKey(identifier), l.config.Identifier, "identifier"); err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}

	return nil
}

// RecordFailure bumps both counters after a failed credential attempt.
// Counter store errors are reported per the package failure domains but
// never hide a tripped budget.
func (l *Limiter) RecordFailure(ctx context.Context, identifier, origin string) error {
	var degraded error

	count, err := l.incrementWithTTL(ctx, identifierKey(identifier), l.config.Identifier)
	switch {
	case err != nil:
		degraded = fmt.Errorf("%w: %v", ErrDegraded, err)
	case count >= int64(l.config.Identifier.MaxAttempts):
		l.armBlock(ctx, identifierKey(identifier), l.config.Identifier.Block)
	}

	if origin != "" {
		count, err = l.incrementWithTTL(ctx, originKey(origin), l.config.Origin)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count >= int64(l.config.Origin.MaxAttempts) {
			l.armBlock(ctx, originKey(origin), l.config.Origin.Block)
		}
	}

	return degraded
}

// ResetIdentifier clears the failed-attempt counter for an identifier.
// Called after successful credential verification. The origin counter is
// left to decay on its own.
func (l *Limiter) ResetIdentifier(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, identifierKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Attempts returns the current failed-attempt count for an identifier.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) Attempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, identifierKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, p Policy, scope string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if scope == "origin" {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}

	if count >= int64(p.MaxAttempts) {
		return &BlockedError{Scope: scope, RetryAfter: l.retryAfter(ctx, key, p)}
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, p Policy) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, p.Window).Err(); err != nil {
			return 0, err
		}
	}

	return count, nil
}

// armBlock stretches the tripped key's TTL to the block duration so the
// block runs its full length from the attempt that tripped it. A failed
// EXPIRE leaves the window TTL in place, which is still a block.
func (l *Limiter) armBlock(ctx context.Context, key string, block time.Duration) {
	_ = l.redis.Expire(ctx, key, block).Err()
}

func (l *Limiter) retryAfter(ctx context.Context, key string, p Policy) time.Duration {
	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return p.Block
	}
	return ttl
}
