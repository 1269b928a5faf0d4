package periodrunner

import (
	"context"
	"time"
)

// PeriodRunner invokes the handler on a fixed cadence.
type PeriodRunner interface {
	SetHandler(PeriodCallback)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// PeriodForTime returns the period ID and the period start time for the given timestamp.
	PeriodForTime(t time.Time) (periodID uint64, periodStartTime time.Time)
}

// PeriodCallback is the hook invoked by PeriodRunner for each tick.
type PeriodCallback func(context.Context, PeriodInfo) error

// PeriodInfo describes one tick.
type PeriodInfo struct {
	PeriodID  uint64
	StartedAt time.Time
	Duration  time.Duration
	// Missed counts scheduled ticks skipped since the previous emission.
	Missed uint64
}
