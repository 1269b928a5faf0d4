// Package submitter delivers proofs to the TokenX validation entry points.
package submitter

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/chain"
	"github.com/tokenx-labs/fdc-validator/x/fdc/contracts"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

// DefaultAuthorizationPatterns are revert reason fragments that mean the
// caller is not the request's validator or the request is no longer pending.
var DefaultAuthorizationPatterns = []string{
	"not validator",
	"only validator",
	"unauthorized",
	"not authorized",
	"not pending",
}

// Config configures revert classification.
type Config struct {
	AuthorizationPatterns []string `mapstructure:"authorization_patterns" yaml:"authorization_patterns"`
}

// DefaultConfig returns the default patterns.
func DefaultConfig() Config {
	return Config{AuthorizationPatterns: append([]string(nil), DefaultAuthorizationPatterns...)}
}

// TxSender is the subset of chain.Sender used to deliver proofs.
type TxSender interface {
	Send(ctx context.Context, req chain.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error)
	Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	RevertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) *chain.RevertError
}

// Result is a confirmed validation call.
type Result struct {
	Method      string
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Submitter sends validateApproval/validateTransfer and awaits confirmation.
type Submitter struct {
	sender   TxSender
	patterns []string
	log      zerolog.Logger

	mu       sync.Mutex
	bindings map[common.Address]*contracts.TokenXBinding
}

// New creates a Submitter.
func New(sender TxSender, cfg Config, log zerolog.Logger) *Submitter {
	patterns := make([]string, 0, len(cfg.AuthorizationPatterns))
	for _, p := range cfg.AuthorizationPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		patterns = DefaultAuthorizationPatterns
	}
	return &Submitter{
		sender:   sender,
		patterns: patterns,
		log:      log.With().Str("component", "contract-submitter").Logger(),
		bindings: make(map[common.Address]*contracts.TokenXBinding),
	}
}

func (s *Submitter) binding(addr common.Address) (*contracts.TokenXBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[addr]; ok {
		return b, nil
	}
	b, err := contracts.NewTokenXBinding(addr.Hex())
	if err != nil {
		return nil, err
	}
	s.bindings[addr] = b
	return b, nil
}

// Send broadcasts the validation call for req without waiting. A revert
// found during estimation is returned classified.
func (s *Submitter) Send(ctx context.Context, req attestation.PendingRequest, proof attestation.Proof) (*types.Transaction, error) {
	const op = "submitter.send"

	token, err := s.binding(req.TokenAddress)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, op, err, "token binding")
	}
	method, err := contracts.ValidationMethod(req.Kind)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, op, err, "select entry point")
	}
	calldata, err := token.ValidationCalldata(req.Kind, req.ReqID, proof)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, op, err, "encode "+method)
	}

	tx, err := s.sender.Send(ctx, chain.TxRequest{
		To:    token.Address(),
		Data:  calldata,
		Label: "TokenX." + method,
	})
	if err != nil {
		return nil, s.classify(op, err)
	}
	s.log.Info().
		Str("req_id", req.Key()).
		Str("method", method).
		Str("token", req.TokenAddress.Hex()).
		Str("tx_hash", tx.Hash().Hex()).
		Msg("Validation transaction sent")
	return tx, nil
}

// Wait blocks until tx is mined and interprets the receipt.
func (s *Submitter) Wait(ctx context.Context, req attestation.PendingRequest, tx *types.Transaction) (*Result, error) {
	const op = "submitter.wait"

	receipt, err := s.sender.WaitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	method, _ := contracts.ValidationMethod(req.Kind)
	if receipt.Status != types.ReceiptStatusSuccessful {
		rev := s.sender.RevertReason(ctx, tx, receipt)
		return nil, s.classify(op, rev)
	}

	res := &Result{
		Method:      method,
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	s.log.Info().
		Str("req_id", req.Key()).
		Str("method", method).
		Str("tx_hash", res.TxHash.Hex()).
		Uint64("block_number", res.BlockNumber).
		Msg("Validation confirmed")
	return res, nil
}

// Reconcile settles a validation tx sent by an earlier attempt. A tx the
// node still holds is awaited until it is mined or WaitMined times out.
// found is false only when the node no longer knows the tx, so sending the
// proof again cannot race the original.
func (s *Submitter) Reconcile(ctx context.Context, hash common.Hash) (*Result, bool, error) {
	const op = "submitter.reconcile"

	receipt, found, err := s.sender.Receipt(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !found {
		_, known, err := s.sender.Transaction(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		if !known {
			return nil, false, nil
		}
		s.log.Info().Str("tx_hash", hash.Hex()).Msg("Previous validation still pending, waiting for inclusion")
		if receipt, err = s.sender.WaitMined(ctx, hash); err != nil {
			return nil, false, err
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, true, fault.Newf(fault.KindReverted, op, "validation tx %s reverted", hash.Hex())
	}
	return &Result{TxHash: hash, BlockNumber: receipt.BlockNumber.Uint64(), GasUsed: receipt.GasUsed}, true, nil
}

// IsAuthorizationDenial reports whether reason matches a configured pattern.
func (s *Submitter) IsAuthorizationDenial(reason string) bool {
	reason = strings.ToLower(reason)
	if reason == "" {
		return false
	}
	for _, p := range s.patterns {
		if strings.Contains(reason, p) {
			return true
		}
	}
	return false
}

// classify turns reverts matching an access check into
// KindAuthorizationDenied and any other revert into KindReverted.
func (s *Submitter) classify(op string, err error) error {
	rev, ok := chain.AsRevert(err)
	if !ok {
		return fault.Ensure(err, fault.KindTransient, op)
	}
	if s.IsAuthorizationDenial(rev.Reason) {
		return fault.Wrap(fault.KindAuthorizationDenied, op, err, "validation rejected by access check").
			WithContext("reason", rev.Reason)
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Kind == fault.KindReverted {
		return err
	}
	return fault.Wrap(fault.KindReverted, op, err, "validation reverted").
		WithContext("reason", rev.Reason)
}
