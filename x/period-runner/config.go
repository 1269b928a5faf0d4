package periodrunner

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the time between scheduled ticks.
const DefaultInterval = 5 * time.Minute

// PeriodRunnerConfig configures a PeriodRunner.
type PeriodRunnerConfig struct {
	// Handler is invoked at every tick.
	Handler PeriodCallback
	// Interval is the time between ticks.
	Interval time.Duration
	// GenesisTime anchors the schedule: ticks fire at GenesisTime + K*Interval.
	// Zero anchors it at Start.
	GenesisTime time.Time
	// Now returns the current time. Defaults to time.Now if nil.
	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultPeriodRunnerConfig returns a config with sensible defaults.
func DefaultPeriodRunnerConfig(logger zerolog.Logger) PeriodRunnerConfig {
	return PeriodRunnerConfig{
		Interval: DefaultInterval,
		Now:      time.Now,
		Logger:   logger.With().Str("component", "period-runner").Logger(),
	}
}
