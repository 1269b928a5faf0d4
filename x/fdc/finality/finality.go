// Package finality waits for a voting round to be finalized on the Relay.
package finality

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/poll"
)

// Config configures the finalization poller.
type Config struct {
	ProtocolID uint64      `mapstructure:"protocol_id" yaml:"protocol_id"`
	Poll       poll.Config `mapstructure:"poll"        yaml:"poll"`
}

// DefaultConfig polls every 10 seconds and tolerates five RPC errors in a row.
func DefaultConfig() Config {
	return Config{
		ProtocolID: contracts.FDCProtocolID,
		Poll: poll.Config{
			Interval:             10 * time.Second,
			MaxConsecutiveErrors: 5,
		},
	}
}

// Poller checks Relay.isFinalized until the round is final.
type Poller struct {
	relay  *contracts.RelayBinding
	caller contracts.Caller
	cfg    Config
	log    zerolog.Logger
}

// New creates a Poller reading through caller.
func New(relay *contracts.RelayBinding, caller contracts.Caller, cfg Config, log zerolog.Logger) *Poller {
	if cfg.ProtocolID == 0 {
		cfg.ProtocolID = contracts.FDCProtocolID
	}
	return &Poller{
		relay:  relay,
		caller: caller,
		cfg:    cfg,
		log:    log.With().Str("component", "finalization-poller").Logger(),
	}
}

// IsFinalized performs a single relay check.
func (p *Poller) IsFinalized(ctx context.Context, round attestation.RoundID) (bool, error) {
	final, err := p.relay.IsFinalized(ctx, p.caller, p.cfg.ProtocolID, uint64(round))
	if err != nil {
		return false, fault.Ensure(err, fault.KindTransient, "finality.check")
	}
	return final, nil
}

// WaitFinalized blocks until round is finalized. It checks immediately and
// returns on the first check that reports true.
func (p *Poller) WaitFinalized(ctx context.Context, round attestation.RoundID) (poll.Result, error) {
	_, res, err := poll.Until(ctx, "finality.wait", p.cfg.Poll, func(ctx context.Context, attempt uint) (struct{}, bool, error) {
		final, err := p.IsFinalized(ctx, round)
		if err != nil {
			p.log.Warn().Err(err).Uint64("round_id", uint64(round)).Uint("attempt", attempt).Msg("Relay check failed")
			return struct{}{}, false, err
		}
		if !final {
			p.log.Debug().Uint64("round_id", uint64(round)).Uint("attempt", attempt).Msg("Round not finalized yet")
		}
		return struct{}{}, final, nil
	})
	if err != nil {
		return res, err
	}

	p.log.Info().
		Uint64("round_id", uint64(round)).
		Uint("attempts", res.Attempts).
		Dur("elapsed", res.Elapsed).
		Msg("Round finalized")
	return res, nil
}
