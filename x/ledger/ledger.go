// Package ledger records per-request pipeline progress so that a request is
// never resubmitted once confirmed and interrupted work can be reconciled.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// State is the pipeline stage a request has reached.
type State string

const (
	StatePending          State = "pending"
	StateRequestSubmitted State = "request_submitted"
	StateRoundFinalized   State = "round_finalized"
	StateProofRetrieved   State = "proof_retrieved"
	StateDecoded          State = "decoded"
	StateSubmitted        State = "submitted"
	StateConfirmed        State = "confirmed"
	StateFailed           State = "failed"
)

var allStates = []State{
	StatePending, StateRequestSubmitted, StateRoundFinalized, StateProofRetrieved,
	StateDecoded, StateSubmitted, StateConfirmed, StateFailed,
}

// Reached reports whether s is at or past other in pipeline order. Failed
// is never reached.
func (s State) Reached(other State) bool {
	return s != StateFailed && other != StateFailed && stageRank(s) >= stageRank(other)
}

func stageRank(s State) int {
	for i, st := range allStates {
		if st == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// ParseState validates s.
func ParseState(s string) (State, error) {
	for _, st := range allStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown ledger state %q", s)
}

// ErrNotFound is returned when no entry exists for a reqId.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is the recorded progress of one reqId. State is the lifecycle
// status shown to operators; Stage is the last stage that completed and
// survives failures so a later attempt can resume.
type Entry struct {
	ReqID            string    `json:"req_id"`
	Kind             string    `json:"kind"`
	TokenAddress     string    `json:"token_address"`
	State            State     `json:"state"`
	Stage            State     `json:"stage"`
	RoundID          uint64    `json:"round_id"`
	RequestDigest    string    `json:"request_digest,omitempty"`
	EncodedRequest   string    `json:"encoded_request,omitempty"`
	AttestationTx    string    `json:"attestation_tx,omitempty"`
	AttestationBlock string    `json:"attestation_block,omitempty"`
	ValidationTx     string    `json:"validation_tx,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	Error            string    `json:"error,omitempty"`
	Attempts         int       `json:"attempts"`
	Completed        bool      `json:"completed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	State State
	Limit int
}

// Ledger persists entries keyed by reqId.
type Ledger interface {
	Get(ctx context.Context, reqID string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
	Counts(ctx context.Context) (map[State]int, error)
	Reset(ctx context.Context, reqID string) error
	Close() error
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].ReqID < entries[j].ReqID
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}

var (
	_ Ledger = (*Memory)(nil)
	_ Ledger = (*SQL)(nil)
)
