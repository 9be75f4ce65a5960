package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConsumerLock is an optional single-consumer guard backed by Redis. The run
// queue assumes exactly one consumer; when several replicas are deployed, the
// lock keeps all but one of them idle.
type ConsumerLock struct {
	rdb    *redis.Client
	logger *log.Logger
	key    string
	ttl    time.Duration
}

func NewConsumerLock(rdb *redis.Client, logger *log.Logger, key string, ttl time.Duration) *ConsumerLock {
	if key == "" {
		key = "researchdesk:runner:lock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ConsumerLock{rdb: rdb, logger: logger, key: key, ttl: ttl}
}

// Acquire takes the lock or reports that another consumer holds it. On
// success it starts a background refresher that keeps the lock alive until
// the context is cancelled.
func (l *ConsumerLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire consumer lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	go l.refresh(ctx)
	return true, nil
}

func (l *ConsumerLock) refresh(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := l.rdb.Del(releaseCtx, l.key).Err(); err != nil {
				l.logger.Printf("warn: release consumer lock failed: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := l.rdb.Expire(ctx, l.key, l.ttl).Err(); err != nil {
				l.logger.Printf("warn: extend consumer lock failed: %v", err)
			}
		}
	}
}
