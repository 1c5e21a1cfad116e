package maintenance

import (
	"context"
	"time"

	"library-api/internal/observability"
)

// SweepStore is the slice of the revocation store the sweeper needs.
type SweepStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes expired revocation records so the blacklist
// stays bounded by actual logout volume within one interval. It is owned by
// the process lifecycle: started at boot, stopped at shutdown. A failed run
// is logged and skipped; the next tick retries.
type Sweeper struct {
	store    SweepStore
	interval time.Duration
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

func NewSweeper(store SweepStore, interval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return &Sweeper{
		store:    store,
		interval: interval,
		timeout:  time.Minute,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop()
}

// Stop signals the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				s.logger.Error("revocation_sweep_failed", map[string]any{"error": err.Error()})
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one pass, deleting every record expired as of now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	s.metrics.RevocationsSwept(deleted)
	if deleted > 0 {
		s.logger.Info("revocation_sweep_completed", map[string]any{"deleted": deleted})
	}

	return deleted, nil
}
