package submitter

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/chain"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

var tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")

type mockSender struct {
	mock.Mock
	revert *chain.RevertError
}

func (m *mockSender) Send(ctx context.Context, req chain.TxRequest) (*types.Transaction, error) {
	args := m.Called(ctx, req)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockSender) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	r, _ := args.Get(0).(*types.Receipt)
	return r, args.Error(1)
}

func (m *mockSender) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	args := m.Called(ctx, hash)
	r, _ := args.Get(0).(*types.Receipt)
	return r, args.Bool(1), args.Error(2)
}

func (m *mockSender) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	args := m.Called(ctx, hash)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Bool(1), args.Error(2)
}

func (m *mockSender) RevertReason(context.Context, *types.Transaction, *types.Receipt) *chain.RevertError {
	return m.revert
}

// submit sends the validation call and waits for its receipt.
func submit(s *Submitter, req attestation.PendingRequest) (*Result, error) {
	tx, err := s.Send(context.Background(), req, attestation.Proof{})
	if err != nil {
		return nil, err
	}
	return s.Wait(context.Background(), req, tx)
}

func pending(kind attestation.RequestKind) attestation.PendingRequest {
	return attestation.PendingRequest{ReqID: big.NewInt(42), TokenAddress: tokenAddr, Kind: kind}
}

func selectorFor(t *testing.T, method string) []byte {
	t.Helper()
	b, err := contracts.NewTokenXBinding(tokenAddr.Hex())
	require.NoError(t, err)
	return b.ABI().Methods[method].ID
}

func TestSubmitSelectsEntryPointByKind(t *testing.T) {
	for _, tc := range []struct {
		kind   attestation.RequestKind
		method string
	}{
		{attestation.KindApprove, "validateApproval"},
		{attestation.KindTransfer, "validateTransfer"},
	} {
		t.Run(tc.method, func(t *testing.T) {
			sender := &mockSender{}
			sel := selectorFor(t, tc.method)
			tx := types.NewTx(&types.DynamicFeeTx{Nonce: 7, To: &tokenAddr})

			sender.On("Send", mock.Anything, mock.MatchedBy(func(req chain.TxRequest) bool {
				return req.To == tokenAddr && bytes.HasPrefix(req.Data, sel) && req.Value == nil
			})).Return(tx, nil).Once()
			sender.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(100),
				GasUsed:     21000,
			}, nil).Once()

			res, err := submit(New(sender, DefaultConfig(), zerolog.Nop()), pending(tc.kind))
			require.NoError(t, err)
			require.Equal(t, tc.method, res.Method)
			require.Equal(t, uint64(100), res.BlockNumber)
			sender.AssertExpectations(t)
		})
	}
}

func TestSubmitEstimateRevertIsAuthorizationDenied(t *testing.T) {
	sender := &mockSender{}
	estimateErr := fault.Wrap(fault.KindReverted, "chain.estimate", &chain.RevertError{Reason: "TokenX: not validator"}, "contract reverted")
	sender.On("Send", mock.Anything, mock.Anything).Return(nil, estimateErr)

	_, err := submit(New(sender, DefaultConfig(), zerolog.Nop()), pending(attestation.KindApprove))
	require.True(t, fault.Is(err, fault.KindAuthorizationDenied))
	require.False(t, fault.IsRetryable(err))
	sender.AssertNotCalled(t, "WaitMined", mock.Anything, mock.Anything)
}

func TestSubmitMinedRevertClassification(t *testing.T) {
	for _, tc := range []struct {
		reason string
		kind   fault.Kind
	}{
		{"Request not pending", fault.KindAuthorizationDenied},
		{"invalid proof", fault.KindReverted},
		{"", fault.KindReverted},
	} {
		t.Run(tc.reason, func(t *testing.T) {
			sender := &mockSender{revert: &chain.RevertError{Reason: tc.reason}}
			tx := types.NewTx(&types.DynamicFeeTx{To: &tokenAddr})
			sender.On("Send", mock.Anything, mock.Anything).Return(tx, nil)
			sender.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{
				Status:      types.ReceiptStatusFailed,
				BlockNumber: big.NewInt(5),
			}, nil)

			_, err := submit(New(sender, DefaultConfig(), zerolog.Nop()), pending(attestation.KindTransfer))
			require.Equal(t, tc.kind, fault.KindOf(err))
		})
	}
}

func TestSubmitTransportErrorIsTransient(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := submit(New(sender, DefaultConfig(), zerolog.Nop()), pending(attestation.KindApprove))
	require.True(t, fault.Is(err, fault.KindTransient))
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	sender := &mockSender{}
	_, err := submit(New(sender, DefaultConfig(), zerolog.Nop()), pending(attestation.KindUnknown))
	require.True(t, fault.Is(err, fault.KindInvalid))
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCustomAuthorizationPatterns(t *testing.T) {
	s := New(&mockSender{}, Config{AuthorizationPatterns: []string{"  Caller Is Not Signer "}}, zerolog.Nop())
	require.True(t, s.IsAuthorizationDenial("caller is not signer for 42"))
	require.False(t, s.IsAuthorizationDenial("not validator"))
	require.False(t, s.IsAuthorizationDenial(""))
}

func TestReconcile(t *testing.T) {
	hash := common.HexToHash("0xabc")

	sender := &mockSender{}
	sender.On("Receipt", mock.Anything, hash).Return(nil, false, nil).Once()
	sender.On("Transaction", mock.Anything, hash).Return(nil, false, nil).Once()
	s := New(sender, DefaultConfig(), zerolog.Nop())
	_, found, err := s.Reconcile(context.Background(), hash)
	require.NoError(t, err)
	require.False(t, found)

	sender.On("Receipt", mock.Anything, hash).Return(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(9),
	}, true, nil).Once()
	res, found, err := s.Reconcile(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(9), res.BlockNumber)

	sender.On("Receipt", mock.Anything, hash).Return(&types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(9),
	}, true, nil).Once()
	_, found, err = s.Reconcile(context.Background(), hash)
	require.True(t, found)
	require.True(t, fault.Is(err, fault.KindReverted))
	sender.AssertNumberOfCalls(t, "WaitMined", 0)
}

func TestReconcileWaitsForPendingTransaction(t *testing.T) {
	hash := common.HexToHash("0xabc")
	tx := types.NewTx(&types.DynamicFeeTx{Nonce: 4, To: &tokenAddr})

	sender := &mockSender{}
	sender.On("Receipt", mock.Anything, hash).Return(nil, false, nil).Once()
	sender.On("Transaction", mock.Anything, hash).Return(tx, true, nil).Once()
	sender.On("WaitMined", mock.Anything, hash).Return(&types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(11),
	}, nil).Once()

	res, found, err := New(sender, DefaultConfig(), zerolog.Nop()).Reconcile(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(11), res.BlockNumber)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestReconcilePendingTimeoutIsNotResendable(t *testing.T) {
	hash := common.HexToHash("0xabc")
	tx := types.NewTx(&types.DynamicFeeTx{Nonce: 4, To: &tokenAddr})

	sender := &mockSender{}
	sender.On("Receipt", mock.Anything, hash).Return(nil, false, nil)
	sender.On("Transaction", mock.Anything, hash).Return(tx, true, nil)
	sender.On("WaitMined", mock.Anything, hash).
		Return(nil, fault.New(fault.KindTimedOut, "chain.wait_mined", "waiting for "+hash.Hex()))

	_, found, err := New(sender, DefaultConfig(), zerolog.Nop()).Reconcile(context.Background(), hash)
	require.False(t, found)
	require.True(t, fault.Is(err, fault.KindTimedOut))
}
