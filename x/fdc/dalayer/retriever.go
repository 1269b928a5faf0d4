package dalayer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/poll"
)

// Fetcher performs a single proof lookup.
type Fetcher interface {
	FetchProof(ctx context.Context, round attestation.RoundID, encodedRequest []byte) (attestation.RawProof, bool, error)
}

// Retriever polls the DA layer until the proof for a finalized round appears.
type Retriever struct {
	fetcher     Fetcher
	settleDelay time.Duration
	poll        poll.Config
	log         zerolog.Logger
}

// NewRetriever creates a Retriever using the settle delay and poll settings of cfg.
func NewRetriever(fetcher Fetcher, cfg Config, log zerolog.Logger) *Retriever {
	return &Retriever{
		fetcher:     fetcher,
		settleDelay: cfg.SettleDelay,
		poll:        cfg.Poll,
		log:         log.With().Str("component", "proof-retriever").Logger(),
	}
}

// Retrieve waits the settle delay, then returns the first response that
// carries response_hex, unmodified.
func (r *Retriever) Retrieve(ctx context.Context, round attestation.RoundID, encodedRequest []byte) (attestation.RawProof, error) {
	const op = "dalayer.retrieve"

	if r.settleDelay > 0 {
		timer := time.NewTimer(r.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attestation.RawProof{}, fault.Ensure(ctx.Err(), fault.KindTimedOut, op)
		case <-timer.C:
		}
	}

	proof, res, err := poll.Until(ctx, op, r.poll, func(ctx context.Context, attempt uint) (attestation.RawProof, bool, error) {
		p, present, err := r.fetcher.FetchProof(ctx, round, encodedRequest)
		if err != nil {
			r.log.Warn().Err(err).Uint64("round_id", uint64(round)).Uint("attempt", attempt).Msg("Proof request failed")
			return attestation.RawProof{}, false, err
		}
		if !present {
			r.log.Debug().Uint64("round_id", uint64(round)).Uint("attempt", attempt).Msg("Proof not available yet")
		}
		return p, present, nil
	})
	if err != nil {
		return attestation.RawProof{}, err
	}

	r.log.Info().
		Uint64("round_id", uint64(round)).
		Int("merkle_path_len", len(proof.Proof)).
		Uint("attempts", res.Attempts).
		Msg("Proof retrieved")
	return proof, nil
}
