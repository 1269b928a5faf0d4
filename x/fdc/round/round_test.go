package round

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

func TestForTimestamp(t *testing.T) {
	id, err := ForTimestamp(1265, 1000, 90)
	require.NoError(t, err)
	require.Equal(t, attestation.RoundID(2), id)

	id, err = ForTimestamp(1360, 1000, 90)
	require.NoError(t, err)
	require.Equal(t, attestation.RoundID(4), id)

	id, err = ForTimestamp(1000, 1000, 90)
	require.NoError(t, err)
	require.Equal(t, attestation.RoundID(0), id)

	_, err = ForTimestamp(999, 1000, 90)
	require.True(t, fault.Is(err, fault.KindInvalid))

	_, err = ForTimestamp(1265, 1000, 0)
	require.True(t, fault.Is(err, fault.KindInvalid))
}

func TestForTimestampProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("round is deterministic and the timestamp lies inside it", prop.ForAll(
		func(start, offset, duration uint64) bool {
			ts := start + offset
			a, errA := ForTimestamp(ts, start, duration)
			b, errB := ForTimestamp(ts, start, duration)
			if errA != nil || errB != nil || a != b {
				return false
			}
			lo := start + uint64(a)*duration
			return lo <= ts && ts < lo+duration
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<30),
		gen.UInt64Range(1, 1<<16),
	))

	properties.Property("timestamps before start are rejected", prop.ForAll(
		func(start, gap, duration uint64) bool {
			_, err := ForTimestamp(start-gap, start, duration)
			return fault.Is(err, fault.KindInvalid)
		},
		gen.UInt64Range(1<<20, 1<<40),
		gen.UInt64Range(1, 1<<20),
		gen.UInt64Range(1, 1<<16),
	))

	properties.TestingRun(t)
}

type fakeBackend struct {
	manager   *contracts.FlareSystemsManagerBinding
	headers   map[common.Hash]*types.Header
	paramCall int
	failCalls bool
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.failCalls {
		return nil, errors.New("rpc down")
	}
	methods := f.manager.ABI().Methods
	switch {
	case bytes.Equal(msg.Data[:4], methods["firstVotingRoundStartTs"].ID):
		f.paramCall++
		return common.LeftPadBytes(big.NewInt(1000).Bytes(), 32), nil
	case bytes.Equal(msg.Data[:4], methods["votingEpochDurationSeconds"].ID):
		f.paramCall++
		return common.LeftPadBytes(big.NewInt(90).Bytes(), 32), nil
	case bytes.Equal(msg.Data[:4], methods["getCurrentVotingEpochId"].ID):
		return common.LeftPadBytes(big.NewInt(5).Bytes(), 32), nil
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) HeaderByHash(_ context.Context, hash common.Hash) (*types.Header, error) {
	h, ok := f.headers[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

func newResolver(t *testing.T) (*Resolver, *fakeBackend) {
	t.Helper()
	manager, err := contracts.NewFlareSystemsManagerBinding("0xA90Db6D10F856799b10ef2A77EBCbF460aC71e52")
	require.NoError(t, err)
	backend := &fakeBackend{
		manager: manager,
		headers: map[common.Hash]*types.Header{
			common.HexToHash("0x01"): {Number: big.NewInt(1), Time: 1360},
			common.HexToHash("0x03"): {Number: big.NewInt(77), Time: 1265},
		},
	}
	return NewResolver(backend, manager, zerolog.Nop()), backend
}

func TestResolverResolve(t *testing.T) {
	r, backend := newResolver(t)
	ctx := context.Background()

	id, err := r.Resolve(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, attestation.RoundID(4), id)

	id, err = r.Resolve(ctx, common.HexToHash("0x03"))
	require.NoError(t, err)
	require.Equal(t, attestation.RoundID(2), id)

	require.Equal(t, 2, backend.paramCall, "epoch parameters are read once")
}

func TestResolverErrors(t *testing.T) {
	r, backend := newResolver(t)

	_, err := r.Resolve(context.Background(), common.HexToHash("0x02"))
	require.True(t, fault.Is(err, fault.KindTransient))

	backend.failCalls = true
	_, err = r.Resolve(context.Background(), common.HexToHash("0x01"))
	require.True(t, fault.Is(err, fault.KindTransient))
}
