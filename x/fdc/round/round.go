// Package round derives FDC voting round identifiers from block timestamps.
package round

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

// EpochParams are the voting epoch parameters reported by FlareSystemsManager.
type EpochParams struct {
	FirstRoundStart uint64
	Duration        uint64
}

// RoundFor returns the round containing timestamp ts.
func (p EpochParams) RoundFor(ts uint64) (attestation.RoundID, error) {
	return ForTimestamp(ts, p.FirstRoundStart, p.Duration)
}

// ForTimestamp computes floor((ts - start) / duration).
func ForTimestamp(ts, start, duration uint64) (attestation.RoundID, error) {
	if duration == 0 {
		return 0, fault.New(fault.KindInvalid, "round.resolve", "voting epoch duration is zero")
	}
	if ts < start {
		return 0, fault.Newf(fault.KindInvalid, "round.resolve",
			"block timestamp %d precedes first voting round start %d", ts, start)
	}
	return attestation.RoundID((ts - start) / duration), nil
}

// Backend provides block headers and contract reads from one chain connection.
type Backend interface {
	contracts.Caller
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
}

// Resolver maps inclusion blocks to voting rounds. The epoch parameters are
// immutable on-chain and cached after the first successful read.
type Resolver struct {
	backend Backend
	manager *contracts.FlareSystemsManagerBinding
	log     zerolog.Logger

	mu     sync.Mutex
	params *EpochParams
}

// NewResolver reads through backend, which must be the connection the
// attestation request was sent with.
func NewResolver(backend Backend, manager *contracts.FlareSystemsManagerBinding, log zerolog.Logger) *Resolver {
	return &Resolver{
		backend: backend,
		manager: manager,
		log:     log.With().Str("component", "round-resolver").Logger(),
	}
}

// Params returns the cached epoch parameters, reading them on first use.
func (r *Resolver) Params(ctx context.Context) (EpochParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.params != nil {
		return *r.params, nil
	}

	start, err := r.manager.FirstVotingRoundStartTs(ctx, r.backend)
	if err != nil {
		return EpochParams{}, fault.Wrap(fault.KindTransient, "round.params", err, "read firstVotingRoundStartTs")
	}
	duration, err := r.manager.VotingEpochDurationSeconds(ctx, r.backend)
	if err != nil {
		return EpochParams{}, fault.Wrap(fault.KindTransient, "round.params", err, "read votingEpochDurationSeconds")
	}
	if duration == 0 {
		return EpochParams{}, fault.New(fault.KindInvalid, "round.params", "voting epoch duration is zero")
	}

	r.params = &EpochParams{FirstRoundStart: start, Duration: duration}
	r.log.Info().
		Uint64("first_voting_round_start_ts", start).
		Uint64("voting_epoch_duration_seconds", duration).
		Msg("Loaded voting epoch parameters")
	return *r.params, nil
}

// Resolve returns the round of the block with the given hash.
func (r *Resolver) Resolve(ctx context.Context, blockHash common.Hash) (attestation.RoundID, error) {
	header, err := r.backend.HeaderByHash(ctx, blockHash)
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "round.resolve", err, "fetch block "+blockHash.Hex())
	}
	return r.resolveHeader(ctx, header)
}

func (r *Resolver) resolveHeader(ctx context.Context, header *types.Header) (attestation.RoundID, error) {
	if header == nil {
		return 0, fault.New(fault.KindTransient, "round.resolve", "block not found")
	}
	params, err := r.Params(ctx)
	if err != nil {
		return 0, err
	}
	id, err := params.RoundFor(header.Time)
	if err != nil {
		return 0, err
	}

	evt := r.log.Info().
		Uint64("block_timestamp", header.Time).
		Uint64("round_id", uint64(id))
	if current, cerr := r.manager.CurrentVotingEpochID(ctx, r.backend); cerr == nil {
		evt = evt.Uint32("chain_current_round_id", current)
	}
	evt.Msg("Resolved voting round")

	return id, nil
}
