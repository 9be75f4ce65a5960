package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"researchdesk/internal/scoring"
	"researchdesk/internal/store"
)

// Scheduler periodically re-runs the two-level score aggregation across all
// active pages, keeping stored pairs aligned with the retained run outputs
// even when nothing was recomputed inline.
type Scheduler struct {
	Store  *store.Store
	Recalc *scoring.Recalculator
	Rdb    *redis.Client
	Logger *log.Logger
	Cron   string
	Stop   chan struct{}

	lastSweep *time.Time
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.Cron, s.lastSweep) {
		return
	}
	ctx := context.Background()

	// distributed lock so only one replica sweeps
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, "researchdesk:sched:recalc", "1", 2*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("warn: scheduler lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "researchdesk:sched:recalc")
	}

	now := time.Now()
	s.lastSweep = &now

	pageIDs, err := s.Store.ListActivePageIDs(ctx)
	if err != nil {
		s.Logger.Printf("warn: list pages for score sweep: %v", err)
		return
	}
	updated := 0
	for _, pageID := range pageIDs {
		if err := s.Recalc.RecalculatePage(ctx, pageID); err != nil {
			s.Logger.Printf("warn: score sweep for page %d: %v", pageID, err)
			continue
		}
		updated++
	}
	s.Logger.Printf("score sweep finished: %d/%d pages", updated, len(pageIDs))
}

// isDue determines if a sweep with cronSpec should run now based on the last
// sweep time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
