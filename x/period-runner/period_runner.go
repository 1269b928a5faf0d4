package periodrunner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LocalPeriodRunner implements PeriodRunner using local time. A tick is due
// at genesis + K * interval, for K = 0,1,2,... Ticks that elapse while the
// handler runs are coalesced into the next emission.
type LocalPeriodRunner struct {
	log zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	handler     PeriodCallback
	interval    time.Duration
	now         func() time.Time
	genesisTime time.Time
}

// NewLocalPeriodRunner constructs a LocalPeriodRunner.
// If config.Handler is nil, SetHandler must be called before Start.
func NewLocalPeriodRunner(cfg PeriodRunnerConfig) *LocalPeriodRunner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &LocalPeriodRunner{
		handler:     cfg.Handler,
		interval:    cfg.Interval,
		now:         cfg.Now,
		genesisTime: cfg.GenesisTime,
		log:         cfg.Logger,
	}
}

// SetHandler sets the handler to be called on every tick.
func (r *LocalPeriodRunner) SetHandler(handler PeriodCallback) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// Start begins emitting ticks until the context is canceled or Stop is called.
func (r *LocalPeriodRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handler == nil {
		return errors.New("period runner requires a handler to start")
	}
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	if r.genesisTime.IsZero() {
		r.genesisTime = r.now()
	}

	go r.run(runCtx, r.handler, r.done)
	return nil
}

// Stop halts the runner and waits for an in-flight handler to return or ctx
// to expire.
func (r *LocalPeriodRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *LocalPeriodRunner) run(ctx context.Context, handler PeriodCallback, done chan struct{}) {
	defer close(done)

	var (
		lastEmitted uint64
		hasEmitted  bool
	)

	timer := time.NewTimer(r.delayUntilNext(r.now(), hasEmitted, lastEmitted))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := r.now()
		if !now.Before(r.genesisTime) {
			currentID, start := r.PeriodForTime(now)
			if !hasEmitted || currentID > lastEmitted {
				var missed uint64
				if hasEmitted {
					missed = currentID - lastEmitted - 1
				}
				r.emit(ctx, handler, PeriodInfo{
					PeriodID:  currentID,
					StartedAt: start,
					Duration:  r.interval,
					Missed:    missed,
				})
				lastEmitted = currentID
				hasEmitted = true
			}
		}

		timer.Reset(r.delayUntilNext(r.now(), hasEmitted, lastEmitted))
	}
}

// delayUntilNext returns how long to sleep before the next due tick. The
// tick covering now is due immediately unless it was already emitted.
func (r *LocalPeriodRunner) delayUntilNext(now time.Time, hasEmitted bool, lastEmitted uint64) time.Duration {
	if now.Before(r.genesisTime) {
		return r.genesisTime.Sub(now)
	}
	currentID, _ := r.PeriodForTime(now)
	if !hasEmitted || currentID > lastEmitted {
		return 0
	}
	delay := r.periodStart(lastEmitted + 1).Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

// emit calls the handler. Errors are logged; the schedule continues.
func (r *LocalPeriodRunner) emit(ctx context.Context, handler PeriodCallback, info PeriodInfo) {
	if info.Missed > 0 {
		r.log.Warn().
			Uint64("period_id", info.PeriodID).
			Uint64("missed", info.Missed).
			Msg("Ticks coalesced while the previous handler ran")
	}
	if err := handler(ctx, info); err != nil {
		r.log.Error().Err(err).Uint64("period_id", info.PeriodID).Msg("Period handler returned error")
	}
}

// PeriodForTime returns the period ID and the corresponding period start time for the given timestamp.
func (r *LocalPeriodRunner) PeriodForTime(t time.Time) (uint64, time.Time) {
	if t.Before(r.genesisTime) {
		return 0, r.genesisTime
	}
	id := uint64(t.Sub(r.genesisTime) / r.interval)
	return id, r.periodStart(id)
}

// periodStart returns the start time for the given period ID.
func (r *LocalPeriodRunner) periodStart(periodID uint64) time.Time {
	return r.genesisTime.Add(time.Duration(periodID) * r.interval)
}

var _ PeriodRunner = (*LocalPeriodRunner)(nil)
