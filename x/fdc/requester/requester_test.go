package requester

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/chain"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/verifier"
)

type mockPreparer struct{ mock.Mock }

func (m *mockPreparer) PrepareRequest(ctx context.Context, spec attestation.RequestSpec) (verifier.Prepared, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(verifier.Prepared), args.Error(1)
}

type mockSender struct {
	mock.Mock
	fees *contracts.FeeConfigurationsBinding
	fee  *big.Int
}

func (m *mockSender) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if bytes.Equal(msg.Data[:4], m.fees.ABI().Methods["getRequestFee"].ID) {
		return common.LeftPadBytes(m.fee.Bytes(), 32), nil
	}
	return nil, nil
}

func (m *mockSender) Balance(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *mockSender) Send(ctx context.Context, req chain.TxRequest) (*types.Transaction, error) {
	args := m.Called(ctx, req)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockSender) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func (m *mockSender) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	args := m.Called(ctx, hash)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Bool(1), args.Error(2)
}

func (m *mockSender) RevertReason(context.Context, *types.Transaction, *types.Receipt) *chain.RevertError {
	return &chain.RevertError{Reason: "fee too low"}
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, hash common.Hash) (attestation.RoundID, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(attestation.RoundID), args.Error(1)
}

type fixture struct {
	requester *Requester
	preparer  *mockPreparer
	sender    *mockSender
	resolver  *mockResolver
	hub       *contracts.FdcHubBinding
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	hub, err := contracts.NewFdcHubBinding("0x48aC463d7975828989331F4De43341627b9c5f1D")
	require.NoError(t, err)
	fees, err := contracts.NewFeeConfigurationsBinding("0x191a1282Ac700edE65c5B0AaF313BAcC3eA7fC7e")
	require.NoError(t, err)

	f := fixture{
		preparer: &mockPreparer{},
		sender:   &mockSender{fees: fees, fee: big.NewInt(1000)},
		resolver: &mockResolver{},
		hub:      hub,
	}
	f.requester = New(f.preparer, f.sender, hub, fees, f.resolver, zerolog.Nop())
	return f
}

func TestRequestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := attestation.NewTaskRequestSpec("https://x/event/42")
	to := f.hub.Address()
	tx := types.NewTx(&types.DynamicFeeTx{Nonce: 1, To: &to, Value: big.NewInt(1000)})
	blockHash := common.HexToHash("0xb10c")

	f.preparer.On("PrepareRequest", ctx, spec).Return(verifier.Prepared{AbiEncodedRequest: []byte{0xaa}}, nil)
	f.sender.On("Balance", ctx).Return(big.NewInt(5000), nil)
	f.sender.On("Send", ctx, mock.MatchedBy(func(req chain.TxRequest) bool {
		return req.To == to && req.Value.Cmp(big.NewInt(1000)) == 0
	})).Return(tx, nil)
	f.sender.On("WaitMined", ctx, tx.Hash()).Return(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockHash:   blockHash,
		BlockNumber: big.NewInt(12),
	}, nil)
	f.sender.On("Transaction", ctx, tx.Hash()).Return(tx, true, nil)
	f.resolver.On("Resolve", ctx, blockHash).Return(attestation.RoundID(4), nil)

	encoded, err := f.requester.Prepare(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, encoded)

	fee, err := f.requester.Fee(ctx, encoded)
	require.NoError(t, err)

	sent, err := f.requester.Send(ctx, encoded, fee)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), sent.Hash())

	sub, err := f.requester.Wait(ctx, encoded, sent.Hash())
	require.NoError(t, err)
	require.NoError(t, f.requester.ResolveRound(ctx, sub))

	require.Equal(t, []byte{0xaa}, sub.EncodedRequest)
	require.Equal(t, attestation.RoundID(4), sub.RoundID)
	require.Equal(t, tx.Hash(), sub.TxHash)
	require.Equal(t, uint64(12), sub.BlockNumber)
	require.Equal(t, big.NewInt(1000), sub.Fee)

	f.preparer.AssertExpectations(t)
	f.sender.AssertExpectations(t)
	f.resolver.AssertExpectations(t)
}

func TestSendInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Balance", ctx).Return(big.NewInt(10), nil)

	_, err := f.requester.Send(ctx, []byte{0xaa}, big.NewInt(1000))
	require.True(t, fault.Is(err, fault.KindInsufficientFunds))
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestWaitRevertedReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	to := f.hub.Address()
	tx := types.NewTx(&types.DynamicFeeTx{To: &to})

	f.sender.On("WaitMined", ctx, tx.Hash()).Return(&types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(3),
	}, nil)
	f.sender.On("Transaction", ctx, tx.Hash()).Return(tx, true, nil)

	_, err := f.requester.Wait(ctx, []byte{0xaa}, tx.Hash())
	require.True(t, fault.Is(err, fault.KindReverted))
	require.ErrorContains(t, err, "fee too low")
}

func TestWaitRevertedUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := common.HexToHash("0xa1")

	f.sender.On("WaitMined", ctx, hash).Return(&types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(3),
	}, nil)
	f.sender.On("Transaction", ctx, hash).Return(nil, false, nil)

	_, err := f.requester.Wait(ctx, []byte{0xaa}, hash)
	require.True(t, fault.Is(err, fault.KindReverted))
	require.ErrorContains(t, err, "status 0")
}

func TestWaitTimeoutKeepsKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := common.HexToHash("0xa1")
	f.sender.On("WaitMined", ctx, hash).
		Return(nil, fault.New(fault.KindTimedOut, "chain.wait_mined", "waiting for "+hash.Hex()))

	f.sender.On("Transaction", ctx, hash).Return(types.NewTx(&types.DynamicFeeTx{}), true, nil)

	_, err := f.requester.Wait(ctx, []byte{0xaa}, hash)
	require.True(t, fault.Is(err, fault.KindTimedOut))
	require.NotErrorIs(t, err, ErrDropped)
}

func TestWaitReportsDroppedTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash := common.HexToHash("0xa1")
	f.sender.On("WaitMined", ctx, hash).
		Return(nil, fault.New(fault.KindTimedOut, "chain.wait_mined", "waiting for "+hash.Hex()))
	f.sender.On("Transaction", ctx, hash).Return(nil, false, nil)

	_, err := f.requester.Wait(ctx, []byte{0xaa}, hash)
	require.ErrorIs(t, err, ErrDropped)
}

func TestFeeReadsContract(t *testing.T) {
	f := newFixture(t)
	fee, err := f.requester.Fee(context.Background(), []byte{0xaa})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), fee)
}

func TestPrepareFailurePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := attestation.NewTaskRequestSpec("https://x/event/1")
	f.preparer.On("PrepareRequest", ctx, spec).
		Return(verifier.Prepared{}, fault.New(fault.KindTransient, "verifier.prepare", "502"))

	_, err := f.requester.Prepare(ctx, spec)
	require.True(t, fault.Is(err, fault.KindTransient))
}
