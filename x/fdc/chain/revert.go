package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

// RevertError is a contract execution revert with its decoded reason.
type RevertError struct {
	Reason string
	Data   []byte
	Cause  error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return "execution reverted: " + e.Reason
	}
	if len(e.Data) > 0 {
		return "execution reverted: " + hexutil.Encode(e.Data)
	}
	return "execution reverted"
}

func (e *RevertError) Unwrap() error {
	return e.Cause
}

// AsRevert extracts a revert from err, decoding rpc error data when present.
func AsRevert(err error) (*RevertError, bool) {
	if err == nil {
		return nil, false
	}
	var re *RevertError
	if errors.As(err, &re) {
		return re, true
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := errorData(dataErr.ErrorData()); len(data) > 0 {
			rev := &RevertError{Data: data, Cause: err}
			if reason, uerr := abi.UnpackRevert(data); uerr == nil {
				rev.Reason = reason
			}
			return rev, true
		}
	}

	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		return &RevertError{Reason: reason, Cause: err}, true
	}
	return nil, false
}

func errorData(v any) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return b
	case []byte:
		return d
	default:
		return nil
	}
}

// isInsufficientFunds matches node errors for an underfunded sender.
func isInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

func isNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

// classify maps node errors onto pipeline fault kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if rev, ok := AsRevert(err); ok {
		return fault.Wrap(fault.KindReverted, op, rev, "contract reverted")
	}
	if isInsufficientFunds(err) {
		return fault.Wrap(fault.KindInsufficientFunds, op, err, "validator wallet cannot cover cost")
	}
	return fault.Ensure(fmt.Errorf("%s: %w", op, err), fault.KindTransient, op)
}
