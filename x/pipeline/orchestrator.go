// Package pipeline drives pending TokenX requests through the FDC
// attestation flow: request, finalization, proof, decode, validation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tokenx-labs/fdc-validator/metrics"
	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/poll"
	"github.com/tokenx-labs/fdc-validator/x/fdc/requester"
	"github.com/tokenx-labs/fdc-validator/x/fdc/submitter"
	"github.com/tokenx-labs/fdc-validator/x/ledger"
	"github.com/tokenx-labs/fdc-validator/x/lock"
)

// EventStore lists pending work, serves event records and records
// completion.
type EventStore interface {
	ListPending(ctx context.Context, validator common.Address) ([]attestation.PendingRequest, error)
	GetEvent(ctx context.Context, reqID *big.Int) (attestation.TaskRecord, error)
	EventURL(reqID *big.Int) string
	Complete(ctx context.Context, reqID *big.Int) error
}

// Requester pays for and places attestation requests. Send and Wait are
// separate so the request hash is persisted before inclusion is awaited.
type Requester interface {
	Prepare(ctx context.Context, spec attestation.RequestSpec) ([]byte, error)
	Fee(ctx context.Context, encodedRequest []byte) (*big.Int, error)
	Send(ctx context.Context, encodedRequest []byte, fee *big.Int) (*types.Transaction, error)
	Wait(ctx context.Context, encodedRequest []byte, hash common.Hash) (*requester.Submission, error)
	ResolveRound(ctx context.Context, sub *requester.Submission) error
}

// FinalityWaiter blocks until a round is finalized.
type FinalityWaiter interface {
	WaitFinalized(ctx context.Context, round attestation.RoundID) (poll.Result, error)
}

// ProofSource returns the raw proof of a finalized request.
type ProofSource interface {
	Retrieve(ctx context.Context, round attestation.RoundID, encodedRequest []byte) (attestation.RawProof, error)
}

// Validator delivers proofs to the target contract.
type Validator interface {
	Send(ctx context.Context, req attestation.PendingRequest, proof attestation.Proof) (*types.Transaction, error)
	Wait(ctx context.Context, req attestation.PendingRequest, tx *types.Transaction) (*submitter.Result, error)
	Reconcile(ctx context.Context, hash common.Hash) (*submitter.Result, bool, error)
}

// Deps bundles the orchestrator collaborators. Ledger and Locker default to
// in-memory implementations.
type Deps struct {
	Events    EventStore
	Requester Requester
	Finality  FinalityWaiter
	Proofs    ProofSource
	Validator Validator
	Ledger    ledger.Ledger
	Locker    lock.Locker
}

// ErrTickInProgress is returned when Tick is called while another pass runs.
var ErrTickInProgress = errors.New("tick already in progress")

// Outcome is the result of processing one request.
type Outcome struct {
	ReqID     string        `json:"req_id"`
	Kind      string        `json:"kind"`
	State     ledger.State  `json:"state"`
	Skipped   bool          `json:"skipped,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// TickReport summarizes one scheduler pass.
type TickReport struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Listed      int           `json:"listed"`
	Confirmed   int           `json:"confirmed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Deferred    int           `json:"deferred"`
	Aborted     bool          `json:"aborted,omitempty"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	Outcomes    []Outcome     `json:"outcomes"`
}

// Stats is a snapshot for the status API.
type Stats struct {
	Ticks    uint64               `json:"ticks"`
	InFlight int64                `json:"in_flight"`
	LastTick *TickReport          `json:"last_tick,omitempty"`
	Ledger   map[ledger.State]int `json:"ledger"`
}

// Orchestrator sequences the pipeline per pending request.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	metrics *Metrics
	log     zerolog.Logger

	tickMu   sync.Mutex
	inFlight atomic.Int64

	statsMu  sync.RWMutex
	ticks    uint64
	lastTick *TickReport
}

// New validates deps and builds an Orchestrator. A nil m registers metrics
// on a private registry.
func New(cfg Config, deps Deps, m *Metrics, log zerolog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Events == nil:
		return nil, errors.New("pipeline: event store is required")
	case deps.Requester == nil:
		return nil, errors.New("pipeline: requester is required")
	case deps.Finality == nil:
		return nil, errors.New("pipeline: finality waiter is required")
	case deps.Proofs == nil:
		return nil, errors.New("pipeline: proof source is required")
	case deps.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemory()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if m == nil {
		m = NewMetrics(metrics.NewIsolatedComponentRegistry(metrics.Namespace, "pipeline"))
	}

	cfg = cfg.withDefaults()
	logger := log.With().Str("component", "pipeline").Logger()
	logger.Info().
		Str("validator", cfg.Validator.Hex()).
		Int("concurrency", cfg.Concurrency).
		Dur("request_timeout", cfg.RequestTimeout).
		Msg("Pipeline orchestrator initialized")

	return &Orchestrator{cfg: cfg, deps: deps, metrics: m, log: logger}, nil
}

// Ledger exposes the processing ledger.
func (o *Orchestrator) Ledger() ledger.Ledger {
	return o.deps.Ledger
}

// Tick lists the validator's pending requests and processes them in listing
// order. Concurrent calls return ErrTickInProgress.
func (o *Orchestrator) Tick(ctx context.Context) (*TickReport, error) {
	if !o.tickMu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer o.tickMu.Unlock()

	report := &TickReport{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := o.log.With().Str("tick_id", report.ID).Logger()
	log.Info().Msg("Tick started")

	pending, err := retryStage(ctx, o, "list", func(ctx context.Context) ([]attestation.PendingRequest, error) {
		return o.deps.Events.ListPending(ctx, o.cfg.Validator)
	})
	if err != nil {
		report.Error = err.Error()
		o.finishTick(report, "list_failed")
		log.Error().Err(err).Msg("Failed to list pending requests")
		return report, err
	}
	report.Listed = len(pending)
	o.metrics.TickRequests.WithLabelValues().Observe(float64(len(pending)))

	outcomes := make([]Outcome, len(pending))
	ran := make([]bool, len(pending))
	var (
		g       errgroup.Group
		aborted atomic.Bool
	)
	g.SetLimit(o.cfg.Concurrency)
	for i, req := range pending {
		if aborted.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only after an earlier request hit the
			// funds check.
			if aborted.Load() || ctx.Err() != nil {
				return nil
			}
			out := o.Process(ctx, req)
			outcomes[i], ran[i] = out, true
			if out.ErrorKind == fault.KindInsufficientFunds.String() {
				aborted.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = make([]Outcome, 0, len(pending))
	for i, ok := range ran {
		if ok {
			report.Outcomes = append(report.Outcomes, outcomes[i])
		}
	}
	report.Deferred = len(pending) - len(report.Outcomes)
	for _, out := range report.Outcomes {
		switch {
		case out.Skipped:
			report.Skipped++
		case out.State == ledger.StateConfirmed:
			report.Confirmed++
		default:
			report.Failed++
		}
	}

	result := "ok"
	switch {
	case aborted.Load():
		report.Aborted = true
		report.AbortReason = "validator wallet cannot pay attestation fees"
		result = "aborted"
		log.Error().Int("deferred", report.Deferred).Msg("Tick aborted: insufficient funds")
	case ctx.Err() != nil:
		report.Aborted = true
		report.AbortReason = ctx.Err().Error()
		result = "cancelled"
	}
	o.finishTick(report, result)

	log.Info().
		Int("listed", report.Listed).
		Int("confirmed", report.Confirmed).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("deferred", report.Deferred).
		Dur("duration", report.Duration).
		Msg("Tick finished")
	return report, nil
}

func (o *Orchestrator) finishTick(report *TickReport, result string) {
	report.Duration = time.Since(report.StartedAt)
	o.metrics.TicksTotal.WithLabelValues(result).Inc()
	o.metrics.TickDuration.WithLabelValues(result).Observe(report.Duration.Seconds())
	o.metrics.LastTickUnixTime.SetToCurrentTime()

	o.statsMu.Lock()
	o.ticks++
	o.lastTick = report
	o.statsMu.Unlock()
}

// Stats returns counters, the last tick report and ledger state counts.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.deps.Ledger.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return Stats{
		Ticks:    o.ticks,
		InFlight: o.inFlight.Load(),
		LastTick: o.lastTick,
		Ledger:   counts,
	}, nil
}

// Reset forgets reqID so the next tick processes it from scratch.
func (o *Orchestrator) Reset(ctx context.Context, reqID string) error {
	if err := o.deps.Ledger.Reset(ctx, reqID); err != nil {
		return err
	}
	o.log.Warn().Str("req_id", reqID).Msg("Ledger entry reset by operator")
	return nil
}

// retryStage runs a read-only stage, retrying transient failures with
// exponential backoff.
func retryStage[T any](ctx context.Context, o *Orchestrator, stage string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	b := backoffFor(o.cfg)
	v, err := retry(ctx, b, o.cfg.StageRetries, fn, func(err error, next time.Duration) {
		o.metrics.StageRetries.WithLabelValues(stage).Inc()
		o.log.Warn().Err(err).Str("stage", stage).Dur("retry_in", next).Msg("Stage failed, retrying")
	})
	o.observe(stage, start, err)
	return v, err
}

// runStage runs a stage exactly once.
func runStage[T any](ctx context.Context, o *Orchestrator, stage string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(ctx)
	o.observe(stage, start, err)
	return v, err
}

func (o *Orchestrator) observe(stage string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = fault.KindOf(err).String()
	}
	o.metrics.StageDuration.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}

func wrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}
