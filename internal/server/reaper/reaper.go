// Package reaper periodically deletes expired refresh tokens.
//
// Reaping only reclaims storage. Stores already hide expired records, so a
// reaper that is late or failing never lets an expired token through.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/timex"
)

// Sweeper is the part of the refresh token store the reaper needs.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type Reaper struct {
	store    Sweeper
	interval time.Duration
	timeout  time.Duration
	clock    timex.Clock
	logger   logging.Logger
}

// New returns a Reaper that sweeps store every interval. Each sweep gets at
// most timeout; zero means the interval.
func New(store Sweeper, interval, timeout time.Duration, clock timex.Clock, logger logging.Logger) *Reaper {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Reaper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		logger:   logger.With("module", "reaper"),
	}
}

// Run sweeps once per interval until ctx is cancelled. It never returns early
// because of a failed sweep.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "reaper started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "reaper stopped")
			return
		case <-ticker.C:
			// already logged by Sweep
			_, _ = r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and reports how many records it removed. A store error
// or panic is logged and returned; a panic comes back as an error. Run drops
// the returned error and keeps ticking.
func (r *Reaper) Sweep(ctx context.Context) (n int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("sweep panicked: %v", p)
		}
		if err != nil {
			r.logger.Error(ctx, "sweep failed", "error", err)
		}
	}()

	n, err = r.store.SweepExpired(ctx, r.clock.Now())
	if err == nil {
		r.logger.Info(ctx, "swept expired refresh tokens", "count", n)
	}
	return n, err
}
