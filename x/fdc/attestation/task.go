package attestation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TaskPostprocessJq keeps exactly the task fields from the event record.
const TaskPostprocessJq = `{owner: .owner, spender: .spender, receiver: .receiver, amount: .amount, status: .status, initiatedTime: .initiatedTime}`

// TaskAbiSignature is the schema of the attested task record.
const TaskAbiSignature = `{"components": [` +
	`{"internalType": "address", "name": "owner", "type": "address"},` +
	`{"internalType": "address", "name": "spender", "type": "address"},` +
	`{"internalType": "address", "name": "receiver", "type": "address"},` +
	`{"internalType": "uint256", "name": "amount", "type": "uint256"},` +
	`{"internalType": "enum IERC20x.Status", "name": "status", "type": "uint8"},` +
	`{"internalType": "uint256", "name": "initiatedTime", "type": "uint256"}` +
	`],"name": "task","type": "tuple"}`

// TaskStatus is the user decision recorded for a request.
type TaskStatus uint8

const (
	TaskPending TaskStatus = iota
	TaskApproved
	TaskRejected
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskApproved:
		return "approved"
	case TaskRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// TaskRecord is the attested fact. For approvals Receiver is zero, for
// transfers Spender is.
type TaskRecord struct {
	Owner         common.Address `abi:"owner"         json:"owner"`
	Spender       common.Address `abi:"spender"       json:"spender"`
	Receiver      common.Address `abi:"receiver"      json:"receiver"`
	Amount        *big.Int       `abi:"amount"        json:"amount"`
	Status        uint8          `abi:"status"        json:"status"`
	InitiatedTime *big.Int       `abi:"initiatedTime" json:"initiatedTime"`
}

// Kind infers the request kind from which counterparty is set.
func (t TaskRecord) Kind() RequestKind {
	switch {
	case t.Spender != (common.Address{}) && t.Receiver == (common.Address{}):
		return KindApprove
	case t.Receiver != (common.Address{}) && t.Spender == (common.Address{}):
		return KindTransfer
	default:
		return KindUnknown
	}
}
