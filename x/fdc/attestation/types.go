package attestation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RoundID identifies a fixed-duration voting epoch.
type RoundID uint64

// RequestKind selects the validation entry point on the target contract.
type RequestKind int

const (
	KindUnknown RequestKind = iota
	KindApprove
	KindTransfer
)

// String returns the event store spelling of the kind.
func (k RequestKind) String() string {
	switch k {
	case KindApprove:
		return "Approve"
	case KindTransfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}

// ParseRequestKind accepts the event store txType values case-insensitively.
func ParseRequestKind(s string) (RequestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approval":
		return KindApprove, nil
	case "transfer":
		return KindTransfer, nil
	default:
		return KindUnknown, fmt.Errorf("invalid transaction type %q", s)
	}
}

// PendingRequest is a reqId awaiting validation by this validator.
type PendingRequest struct {
	ReqID        *big.Int
	TokenAddress common.Address
	Kind         RequestKind
	Validator    common.Address
}

// Key returns the decimal reqId used for ledger and lock keys.
func (p PendingRequest) Key() string {
	if p.ReqID == nil {
		return ""
	}
	return p.ReqID.String()
}

// RequestBody mirrors IJsonApi.RequestBody.
type RequestBody struct {
	URL           string `abi:"url"           json:"url"`
	PostprocessJq string `abi:"postprocessJq" json:"postprocessJq"`
	AbiSignature  string `abi:"abi_signature" json:"abi_signature"`
}

// ResponseBody mirrors IJsonApi.ResponseBody.
type ResponseBody struct {
	AbiEncodedData []byte `abi:"abi_encoded_data" json:"abi_encoded_data"`
}

// Response mirrors IJsonApi.Response. Field order matches the ABI tuple.
type Response struct {
	AttestationType     [32]byte     `abi:"attestationType"`
	SourceID            [32]byte     `abi:"sourceId"`
	VotingRound         uint64       `abi:"votingRound"`
	LowestUsedTimestamp uint64       `abi:"lowestUsedTimestamp"`
	RequestBody         RequestBody  `abi:"requestBody"`
	ResponseBody        ResponseBody `abi:"responseBody"`
}

// Proof mirrors IJsonApi.Proof, the argument of the validation entry points.
type Proof struct {
	MerkleProof [][32]byte `abi:"merkleProof"`
	Data        Response   `abi:"data"`
}

// RawProof is the DA layer answer for a finalized request. Raw holds the
// body exactly as served.
type RawProof struct {
	Proof       []common.Hash
	ResponseHex hexutil.Bytes
	Raw         []byte
}

// MerklePath converts the hash list into the ABI bytes32[] representation.
func (r RawProof) MerklePath() [][32]byte {
	out := make([][32]byte, len(r.Proof))
	for i, h := range r.Proof {
		out[i] = h
	}
	return out
}
