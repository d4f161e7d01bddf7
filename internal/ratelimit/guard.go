package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/royaltyledger/internal/config"
)

const (
	keyIngestLock = "royaltyledger:ingest:lock:%s"
	keyFXRequests = "royaltyledger:fx:requests"
	keyPayoutLock = "royaltyledger:payout:lock:%s:%d-Q%d"
)

// Guard serializes batch runs per label and throttles calls to the rate
// provider across processes. Without redis every call is granted.
type Guard struct {
	locker *Locker
	bucket *TokenBucket

	lockTTL time.Duration
	fxRate  float64
	fxBurst int
}

func NewGuard(client *redis.Client, cfg config.Config) *Guard {
	ttl := time.Duration(cfg.Redis.IngestLockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Guard{
		locker:  NewLocker(client),
		bucket:  NewTokenBucket(client),
		lockTTL: ttl,
		fxRate:  cfg.FX.RatePerSecond,
		fxBurst: cfg.FX.Burst,
	}
}

func (g *Guard) Enabled() bool {
	return g != nil && g.locker != nil
}

// LockLabel returns ok=false when another run holds the label.
func (g *Guard) LockLabel(ctx context.Context, labelSlug string) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keyIngestLock, labelSlug), g.lockTTL)
}

func (g *Guard) UnlockLabel(ctx context.Context, labelSlug, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keyIngestLock, labelSlug), token)
}

func (g *Guard) LockPayout(ctx context.Context, labelSlug string, year, quarter int) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keyPayoutLock, labelSlug, year, quarter), g.lockTTL)
}

func (g *Guard) UnlockPayout(ctx context.Context, labelSlug string, year, quarter int, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keyPayoutLock, labelSlug, year, quarter), token)
}

// WaitFX blocks until the shared provider budget allows one request.
func (g *Guard) WaitFX(ctx context.Context) error {
	if g == nil || g.bucket == nil || g.fxRate <= 0 || g.fxBurst <= 0 {
		return nil
	}
	for {
		d, err := g.bucket.Allow(ctx, keyFXRequests, g.fxRate, g.fxBurst)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}
		timer := time.NewTimer(d.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
