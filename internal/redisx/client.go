package redisx

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// New builds the client used for dedup and idempotency keys. Timeouts are
// short: losing redis degrades dedup, it never blocks ingestion.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
