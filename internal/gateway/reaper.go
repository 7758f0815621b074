package gateway

import (
	"context"
	"time"

	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// Evictor drops sessions that have been idle for too long
type Evictor interface {
	EvictIdle(maxIdle time.Duration) int
}

// Reaper periodically evicts idle sessions.
type Reaper struct {
	evictor  Evictor
	maxIdle  time.Duration
	interval time.Duration
	logger   *pkgLogger.Logger
}

// NewReaper checks every maxIdle/4, but at least once a minute.
func NewReaper(evictor Evictor, maxIdle time.Duration, logger *pkgLogger.Logger) *Reaper {
	interval := maxIdle / 4
	if interval > time.Minute || interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		evictor:  evictor,
		maxIdle:  maxIdle,
		interval: interval,
		logger:   logger.WithComponent("reaper"),
	}
}

// Start runs the ticker loop. Blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	if r.maxIdle <= 0 {
		return
	}
	r.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Session reaper started", "max_idle", r.maxIdle)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() int {
	n := r.evictor.EvictIdle(r.maxIdle)
	if n > 0 {
		r.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Evicted idle sessions", "count", n)
	}
	return n
}
