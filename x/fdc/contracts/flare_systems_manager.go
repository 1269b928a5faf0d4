package contracts

import (
	"context"
	_ "embed"
	"fmt"
)

// FlareSystemsManager ABI JSON embedded at compile time
//
//go:embed abi/flare_systems_manager.json
var flareSystemsManagerABIJSON string

// FlareSystemsManagerBinding reads voting epoch parameters from FlareSystemsManager.
type FlareSystemsManagerBinding struct {
	binding
}

// NewFlareSystemsManagerBinding parses the embedded ABI and validates the address.
func NewFlareSystemsManagerBinding(contractAddr string) (*FlareSystemsManagerBinding, error) {
	b, err := newBinding("FlareSystemsManager", flareSystemsManagerABIJSON, contractAddr)
	if err != nil {
		return nil, err
	}
	return &FlareSystemsManagerBinding{binding: b}, nil
}

// FirstVotingRoundStartTs returns the unix timestamp at which round 0 started.
func (b *FlareSystemsManagerBinding) FirstVotingRoundStartTs(ctx context.Context, c Caller) (uint64, error) {
	return b.callUint64(ctx, c, "firstVotingRoundStartTs")
}

// VotingEpochDurationSeconds returns the length of a voting round.
func (b *FlareSystemsManagerBinding) VotingEpochDurationSeconds(ctx context.Context, c Caller) (uint64, error) {
	return b.callUint64(ctx, c, "votingEpochDurationSeconds")
}

// CurrentVotingEpochID returns the round the chain considers current.
func (b *FlareSystemsManagerBinding) CurrentVotingEpochID(ctx context.Context, c Caller) (uint32, error) {
	out, err := b.call(ctx, c, "getCurrentVotingEpochId")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("getCurrentVotingEpochId: unexpected result type %T", out[0])
	}
	return v, nil
}

func (b *FlareSystemsManagerBinding) callUint64(ctx context.Context, c Caller, method string) (uint64, error) {
	out, err := b.call(ctx, c, method)
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}
