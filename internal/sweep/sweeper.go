// Package sweep runs the background expiry pass that flips stale quotes and
// reservations to expired. Expiry is also enforced lazily at touch time; the
// sweeper is what frees held funds for callers that never come back.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Expirer flips every stale row of one kind to expired and reports how many
// it touched. The quote and reservation stores both satisfy it.
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically expires stale quotes and reservations.
type Sweeper struct {
	quotes       Expirer
	reservations Expirer
	interval     time.Duration
	done         chan struct{}
	// onSweep, when set, observes each pass. Used for metrics.
	onSweep func(quotes, reservations int64)
}

// NewSweeper creates a sweeper running one pass every interval.
func NewSweeper(quotes, reservations Expirer, interval time.Duration) *Sweeper {
	return &Sweeper{
		quotes:       quotes,
		reservations: reservations,
		interval:     interval,
		done:         make(chan struct{}),
	}
}

// OnSweep registers a callback invoked after every pass with the counts of
// rows expired. Must be called before Start.
func (s *Sweeper) OnSweep(fn func(quotes, reservations int64)) {
	s.onSweep = fn
}

// Start runs sweep passes on a timer. It blocks until Stop is called or the
// context is cancelled; run it in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Sweep runs a single expiry pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := time.Now()

	expiredQuotes, err := s.quotes.ExpireStale(ctx, now)
	if err != nil {
		slog.Error("failed to expire stale quotes", "error", err)
	}

	expiredReservations, err := s.reservations.ExpireStale(ctx, now)
	if err != nil {
		slog.Error("failed to expire stale reservations", "error", err)
	}

	if expiredQuotes > 0 || expiredReservations > 0 {
		slog.Info("expiry sweep",
			"quotes", expiredQuotes, "reservations", expiredReservations)
	}
	if s.onSweep != nil {
		s.onSweep(expiredQuotes, expiredReservations)
	}
}

// Stop signals the background goroutine to exit.
func (s *Sweeper) Stop() {
	close(s.done)
}
