package identity

import (
	"context"
	"time"
)

// Purger removes records that are already treated as absent.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context) (int64, error)

func (f PurgerFunc) PurgeExpired(ctx context.Context) (int64, error) {
	return f(ctx)
}

// Sweeper periodically purges expired pending registrations and sessions.
// Expiry is always enforced on read, so a missed sweep only delays cleanup.
type Sweeper struct {
	interval time.Duration
	purgers  map[string]Purger
	logger   Logger
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(interval time.Duration, logger Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		interval: interval,
		purgers:  map[string]Purger{},
		logger:   normalizeLogger(logger),
	}
}

// Add registers a named purger.
func (s *Sweeper) Add(name string, p Purger) *Sweeper {
	s.purgers[name] = p
	return s
}

// Sweep runs every purger once and returns the rows removed per name.
func (s *Sweeper) Sweep(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(s.purgers))
	for name, p := range s.purgers {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			s.logger.Error("sweep %s failed: %v", name, err)
			continue
		}
		out[name] = n
		if n > 0 {
			s.logger.Debug("sweep %s removed %d rows", name, n)
		}
	}
	return out
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
