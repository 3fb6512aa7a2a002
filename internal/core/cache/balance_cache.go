// Package cache holds the optional redis read cache for wallet
// balances. It is never authoritative: every write path invalidates
// the key and the store recompute remains the source of truth.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/Nzyazin/walletd/internal/core/logger"
	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wallet:balance:"

// BalanceCache caches wallet balances in redis with a TTL. A nil
// *BalanceCache is valid and behaves as an always-miss cache.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewBalanceCache(client *redis.Client, ttl time.Duration, log logger.Logger) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl, log: log}
}

func (c *BalanceCache) Get(ctx context.Context, walletID uuid.UUID) (models.Money, bool) {
	if c == nil {
		return models.Money{}, false
	}

	value, err := c.client.Get(ctx, keyPrefix+walletID.String()).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("Balance cache read failed", logger.ErrorField("error", err))
		}
		return models.Money{}, false
	}

	amount, currency, ok := strings.Cut(value, "|")
	if !ok {
		return models.Money{}, false
	}
	money, err := models.MoneyFromString(amount, currency)
	if err != nil {
		c.log.Warn("Balance cache holds unparsable value",
			logger.StringField("value", value),
			logger.ErrorField("error", err),
		)
		return models.Money{}, false
	}
	return money, true
}

func (c *BalanceCache) Put(ctx context.Context, walletID uuid.UUID, balance models.Money) {
	if c == nil {
		return
	}

	value := balance.Amount.String() + "|" + balance.Currency
	if err := c.client.Set(ctx, keyPrefix+walletID.String(), value, c.ttl).Err(); err != nil {
		c.log.Warn("Balance cache write failed", logger.ErrorField("error", err))
	}
}

func (c *BalanceCache) Invalidate(ctx context.Context, walletIDs ...uuid.UUID) {
	if c == nil || len(walletIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(walletIDs))
	for _, id := range walletIDs {
		keys = append(keys, keyPrefix+id.String())
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("Balance cache invalidation failed", logger.ErrorField("error", err))
	}
}
