package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable reports that the history store could not be
// reached. Callers degrade to a conservative assessment instead of
// failing the login.
var ErrStoreUnavailable = errors.New("risk: store unavailable")

func deviceKey(accountID string) string {
	return "rk:d:" + accountID
}

func originFailKey(origin string) string {
	return "rk:o:" + origin
}

// History is the Redis-backed device and origin record behind scoring.
// It is independent of the throttle counters: throttle counters reset on
// success, origin reputation decays only with time.
type History struct {
	redis          redis.UniversalClient
	deviceWindow   time.Duration
	velocityWindow time.Duration
	originWindow   time.Duration
}

func NewHistory(redisClient redis.UniversalClient, deviceWindow, velocityWindow, originWindow time.Duration) *History {
	return &History{
		redis:          redisClient,
		deviceWindow:   deviceWindow,
		velocityWindow: velocityWindow,
		originWindow:   originWindow,
	}
}

// LastSeen returns when the fingerprint was last recorded for the
// account, or ok=false when it has never been seen inside the device
// window.
func (h *History) LastSeen(ctx context.Context, accountID string, fp [32]byte) (time.Time, bool, error) {
	score, err := h.redis.ZScore(ctx, deviceKey(accountID), Hex(fp)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Unix(int64(score), 0), true, nil
}

// RecordDevice stamps the fingerprint with the current time and trims
// sightings that have aged out of the device window.
func (h *History) RecordDevice(ctx context.Context, accountID string, fp [32]byte, now time.Time) error {
	key := deviceKey(accountID)
	cutoff := now.Add(-h.deviceWindow).Unix()

	_, err := h.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: Hex(fp)})
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, h.deviceWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DistinctDevices counts fingerprints the account has used within the
// velocity window.
func (h *History) DistinctDevices(ctx context.Context, accountID string, now time.Time) (int, error) {
	since := strconv.FormatInt(now.Add(-h.velocityWindow).Unix(), 10)
	n, err := h.redis.ZCount(ctx, deviceKey(accountID), since, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// RecordOriginFailure bumps the origin's failed-attempt reputation.
// Fixed window: TTL armed on the first hit only.
func (h *History) RecordOriginFailure(ctx context.Context, origin string) error {
	if origin == "" {
		return nil
	}
	count, err := h.redis.Incr(ctx, originFailKey(origin)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		if err := h.redis.Expire(ctx, originFailKey(origin), h.originWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// OriginFailures returns the current failed-attempt count for an origin.
func (h *History) OriginFailures(ctx context.Context, origin string) (int, error) {
	if origin == "" {
		return 0, nil
	}
	count, err := h.redis.Get(ctx, originFailKey(origin)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(count), nil
}
