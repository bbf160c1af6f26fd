package correlation

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// cooldownPrefix namespaces the suppression keys in Redis.
const cooldownPrefix = "offence:"

// Cooldown suppresses repeat offences through Redis SET NX with a TTL.
// A nil Cooldown, an empty address or an unreachable Redis all degrade to
// no suppression: losing dedup is better than losing detections.
type Cooldown struct {
	rdb *redis.Client
	log *logrus.Entry
}

// NewCooldown connects the suppression store. An empty addr disables
// suppression entirely.
func NewCooldown(addr, password string, db int) *Cooldown {
	c := &Cooldown{log: util.WithComponent("cooldown")}
	if addr == "" {
		return c
	}
	c.rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return c
}

// Allow reports whether an offence with this key may be raised now. The
// first caller inside a TTL window wins; everyone after is suppressed until
// the key expires.
func (c *Cooldown) Allow(ctx context.Context, key string, ttl time.Duration) bool {
	if c == nil || c.rdb == nil {
		return true
	}
	ok, err := c.rdb.SetNX(ctx, cooldownPrefix+key, 1, ttl).Result()
	if err != nil {
		c.log.WithError(err).Warn("Cooldown store unavailable; raising without suppression")
		return true
	}
	return ok
}

// Ping verifies the suppression store answers. Suppression being optional,
// callers typically log the error and carry on.
func (c *Cooldown) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cooldown) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
