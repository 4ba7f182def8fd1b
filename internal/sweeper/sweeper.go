// Package sweeper frees pending holds whose cart was abandoned.
package sweeper

import (
	"context"
	"log"
	"time"
)

type expiredReleaser interface {
	ReleaseExpired(ctx context.Context) (int, error)
}

// Sweeper calls ReleaseExpired on a fixed interval.
type Sweeper struct {
	releaser expiredReleaser
	interval time.Duration
}

// New returns a sweeper ticking every interval.
func New(releaser expiredReleaser, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{releaser: releaser, interval: interval}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("sweeper: started, interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.releaser.ReleaseExpired(ctx)
	if err != nil {
		log.Printf("sweeper: release expired holds: %v", err)
		return
	}
	if n > 0 {
		log.Printf("sweeper: released %d expired hold(s)", n)
	}
}
