// Package requester submits fee-bearing attestation requests to FdcHub and
// determines the voting round they were included in.
package requester

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/chain"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/verifier"
)

// Preparer encodes a request spec through the verifier.
type Preparer interface {
	PrepareRequest(ctx context.Context, spec attestation.RequestSpec) (verifier.Prepared, error)
}

// TxSender signs, broadcasts and tracks validator wallet transactions.
type TxSender interface {
	contracts.Caller
	Balance(ctx context.Context) (*big.Int, error)
	Send(ctx context.Context, req chain.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	RevertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) *chain.RevertError
}

// RoundResolver maps an inclusion block to its voting round.
type RoundResolver interface {
	Resolve(ctx context.Context, blockHash common.Hash) (attestation.RoundID, error)
}

// ErrDropped means the node knows neither a receipt nor a pending entry for
// a request transaction. It was never mined, so no fee was paid.
var ErrDropped = errors.New("request transaction dropped")

// Submission is the outcome of a paid attestation request.
type Submission struct {
	EncodedRequest []byte
	Fee            *big.Int
	TxHash         common.Hash
	BlockHash      common.Hash
	BlockNumber    uint64
	RoundID        attestation.RoundID
}

// Requester drives prepare, fee lookup, payment, inclusion and round
// resolution.
type Requester struct {
	verifier Preparer
	sender   TxSender
	hub      *contracts.FdcHubBinding
	fees     *contracts.FeeConfigurationsBinding
	resolver RoundResolver
	log      zerolog.Logger
}

// New wires a Requester. resolver must read through the chain connection
// sender broadcasts on.
func New(
	v Preparer,
	sender TxSender,
	hub *contracts.FdcHubBinding,
	fees *contracts.FeeConfigurationsBinding,
	resolver RoundResolver,
	log zerolog.Logger,
) *Requester {
	return &Requester{
		verifier: v,
		sender:   sender,
		hub:      hub,
		fees:     fees,
		resolver: resolver,
		log:      log.With().Str("component", "attestation-requester").Logger(),
	}
}

// Prepare returns the ABI-encoded attestation request for spec.
func (r *Requester) Prepare(ctx context.Context, spec attestation.RequestSpec) ([]byte, error) {
	prepared, err := r.verifier.PrepareRequest(ctx, spec)
	if err != nil {
		return nil, err
	}
	return prepared.AbiEncodedRequest, nil
}

// Fee reads the exact request fee from the fee configuration contract.
func (r *Requester) Fee(ctx context.Context, encodedRequest []byte) (*big.Int, error) {
	fee, err := r.fees.RequestFee(ctx, r.sender, encodedRequest)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "requester.fee", err, "read request fee")
	}
	return fee, nil
}

// Send pays fee and broadcasts requestAttestation. The caller records the
// returned hash before waiting so a paid request is never paid twice.
func (r *Requester) Send(ctx context.Context, encodedRequest []byte, fee *big.Int) (*types.Transaction, error) {
	const op = "requester.send"

	balance, err := r.sender.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(fee) < 0 {
		return nil, fault.Newf(fault.KindInsufficientFunds, op, "balance %s below request fee %s", balance, fee).
			WithContext("balance", balance.String()).
			WithContext("fee", fee.String())
	}

	calldata, err := r.hub.RequestAttestationCalldata(encodedRequest)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, op, err, "encode requestAttestation")
	}

	tx, err := r.sender.Send(ctx, chain.TxRequest{
		To:    r.hub.Address(),
		Value: fee,
		Data:  calldata,
		Label: "FdcHub.requestAttestation",
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Str("tx_hash", tx.Hash().Hex()).
		Str("fee", fee.String()).
		Msg("Attestation request sent")
	return tx, nil
}

// Wait blocks until the request transaction hash is included. It works from
// the hash alone, so a request sent by an earlier attempt can be awaited
// after a restart. The returned submission has no RoundID yet.
func (r *Requester) Wait(ctx context.Context, encodedRequest []byte, hash common.Hash) (*Submission, error) {
	const op = "requester.wait"

	receipt, err := r.sender.WaitMined(ctx, hash)
	if err != nil {
		if fault.Is(err, fault.KindTimedOut) && ctx.Err() == nil {
			if _, known, lerr := r.sender.Transaction(ctx, hash); lerr == nil && !known {
				return nil, fault.Wrap(fault.KindTransient, op, ErrDropped, "request transaction "+hash.Hex()).
					WithContext("tx_hash", hash.Hex())
			}
		}
		return nil, err
	}

	var fee *big.Int
	tx, found, err := r.sender.Transaction(ctx, hash)
	if err != nil {
		r.log.Warn().Err(err).Str("tx_hash", hash.Hex()).Msg("Failed to load request transaction")
	}
	if found {
		fee = tx.Value()
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		var cause error = fmt.Errorf("status %d", receipt.Status)
		if found {
			cause = r.sender.RevertReason(ctx, tx, receipt)
		}
		return nil, fault.Wrap(fault.KindReverted, op, cause, "requestAttestation reverted").
			WithContext("tx_hash", hash.Hex())
	}

	sub := &Submission{
		EncodedRequest: encodedRequest,
		Fee:            fee,
		TxHash:         hash,
		BlockHash:      receipt.BlockHash,
		BlockNumber:    receipt.BlockNumber.Uint64(),
	}
	r.log.Info().
		Str("tx_hash", sub.TxHash.Hex()).
		Uint64("block_number", sub.BlockNumber).
		Msg("Attestation request included")
	return sub, nil
}

// ResolveRound fills sub.RoundID from its inclusion block.
func (r *Requester) ResolveRound(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return fault.New(fault.KindInvalid, "requester.resolve", "nil submission")
	}
	id, err := r.resolver.Resolve(ctx, sub.BlockHash)
	if err != nil {
		return err
	}
	sub.RoundID = id
	return nil
}
