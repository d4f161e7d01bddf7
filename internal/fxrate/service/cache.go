package service

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const keyQuote = "fx:%s:%s:%s"

// sharedCache holds provider rates in redis so parallel runs on other hosts
// skip the HTTP round trip. A nil client disables it.
type sharedCache struct {
	client *redis.Client
	ttl    time.Duration
}

func (c sharedCache) get(ctx context.Context, date, from, to string) (decimal.Decimal, bool) {
	if c.client == nil {
		return decimal.Zero, false
	}
	raw, err := c.client.Get(ctx, fmt.Sprintf(keyQuote, date, from, to)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

func (c sharedCache) set(ctx context.Context, date, from, to string, rate decimal.Decimal) error {
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, fmt.Sprintf(keyQuote, date, from, to), rate.String(), c.ttl).Err()
}

func (c sharedCache) del(ctx context.Context, date, from, to string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, fmt.Sprintf(keyQuote, date, from, to)).Err()
}
