package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claims deduplicates poll work across replicas. Claims are an efficiency
// measure only: the reconciliation core is idempotent, so two replicas
// querying the same transaction waste a gateway call but corrupt nothing.
type Claims interface {
	// TryClaim reports whether this replica should poll the transaction now.
	TryClaim(ctx context.Context, merchantOrderID string) bool
}

// RedisClaims takes short-lived claims with SET NX. Any Redis failure is
// treated as claim granted; an unreachable Redis must not stall polling.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisClaims(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisClaims {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &RedisClaims{client: client, ttl: ttl, logger: logger}
}

func (c *RedisClaims) TryClaim(ctx context.Context, merchantOrderID string) bool {
	ok, err := c.client.SetNX(ctx, "poll:claim:"+merchantOrderID, "1", c.ttl).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "poll claim failed, proceeding unclaimed",
			"merchant_order_id", merchantOrderID, "error", err)
		return true
	}
	return ok
}

// NoopClaims grants every claim. Used in single-replica deployments and
// whenever Redis is not configured.
type NoopClaims struct{}

func (NoopClaims) TryClaim(context.Context, string) bool { return true }
