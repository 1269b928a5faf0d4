package pipeline

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/decoder"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/poll"
	"github.com/tokenx-labs/fdc-validator/x/fdc/requester"
	"github.com/tokenx-labs/fdc-validator/x/fdc/submitter"
	"github.com/tokenx-labs/fdc-validator/x/ledger"
	"github.com/tokenx-labs/fdc-validator/x/lock"
)

const releaseTimeout = 5 * time.Second

// Process runs one request to confirmation, resuming from the last stage
// recorded in the ledger. A confirmed request is never resubmitted.
func (o *Orchestrator) Process(ctx context.Context, req attestation.PendingRequest) Outcome {
	start := time.Now()
	key := req.Key()
	out := Outcome{ReqID: key, Kind: req.Kind.String()}
	log := o.log.With().
		Str("req_id", key).
		Str("kind", out.Kind).
		Str("token", req.TokenAddress.Hex()).
		Logger()

	done := func() Outcome {
		out.Duration = time.Since(start)
		return out
	}

	release, err := o.deps.Locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			log.Info().Msg("Request locked by another worker, skipping")
			out.Skipped, out.Reason = true, "locked"
			return done()
		}
		log.Error().Err(err).Msg("Failed to acquire request lock")
		out.State, out.ErrorKind, out.Error = ledger.StateFailed, fault.KindTransient.String(), err.Error()
		return done()
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := release(rctx); err != nil {
			log.Warn().Err(err).Msg("Failed to release request lock")
		}
	}()

	entry, err := o.deps.Ledger.Get(ctx, key)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		entry = ledger.Entry{ReqID: key, State: ledger.StatePending, Stage: ledger.StatePending}
	case err != nil:
		log.Error().Err(err).Msg("Failed to read ledger")
		out.State, out.ErrorKind, out.Error = ledger.StateFailed, fault.KindTransient.String(), err.Error()
		return done()
	}

	switch {
	case entry.State == ledger.StateConfirmed:
		if !entry.Completed {
			o.notifyCompletion(ctx, log, req, &entry)
			if err := o.save(ctx, &entry); err != nil {
				log.Warn().Err(err).Msg("Failed to record completion")
			}
		}
		log.Debug().Str("validation_tx", entry.ValidationTx).Msg("Request already confirmed, skipping")
		out.State, out.Skipped, out.Reason = entry.State, true, "confirmed"
		return done()
	case entry.State == ledger.StateFailed && entry.ErrorKind == fault.KindAuthorizationDenied.String():
		log.Debug().Str("error", entry.Error).Msg("Request was denied by the contract, skipping until reset")
		out.State, out.Skipped, out.Reason = entry.State, true, "authorization_denied"
		return done()
	case entry.State == ledger.StateFailed && entry.ErrorKind == fault.KindDecode.String():
		// The round's proof is fixed once finalized, so fetching it again
		// yields the same payload.
		log.Debug().Str("error", entry.Error).Msg("Proof failed to decode, skipping until reset")
		out.State, out.Skipped, out.Reason = entry.State, true, "decode"
		return done()
	}

	if entry.AttestationTx == "" && !entry.Stage.Reached(ledger.StateRequestSubmitted) {
		decided, err := o.userDecided(ctx, log, req)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read event record")
			out.State, out.ErrorKind, out.Error = ledger.StateFailed, fault.KindOf(err).String(), err.Error()
			return done()
		}
		if !decided {
			out.State, out.Skipped, out.Reason = entry.State, true, "awaiting_decision"
			return done()
		}
	}

	o.metrics.InFlight.Inc()
	o.inFlight.Add(1)
	defer func() {
		o.metrics.InFlight.Dec()
		o.inFlight.Add(-1)
	}()

	entry.Kind = req.Kind.String()
	entry.TokenAddress = req.TokenAddress.Hex()
	entry.ErrorKind, entry.Error = "", ""
	entry.Attempts++
	if entry.Stage == "" {
		entry.Stage = ledger.StatePending
	}
	log.Info().
		Str("stage", string(entry.Stage)).
		Int("attempt", entry.Attempts).
		Msg("Processing request")

	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	if err := o.run(rctx, log, req, &entry); err != nil {
		kind := fault.KindOf(err)
		entry.State = ledger.StateFailed
		entry.ErrorKind = kind.String()
		entry.Error = err.Error()
		if serr := o.save(ctx, &entry); serr != nil {
			log.Error().Err(serr).Msg("Failed to record failure")
		}
		o.metrics.RequestsTotal.WithLabelValues(out.Kind, kind.String()).Inc()

		ev := log.Error()
		if kind == fault.KindAuthorizationDenied {
			ev = log.Warn()
		}
		ev.Err(err).
			Str("error_kind", kind.String()).
			Str("stage", string(entry.Stage)).
			Msg("Request failed")

		out.State, out.ErrorKind, out.Error = ledger.StateFailed, kind.String(), err.Error()
		return done()
	}

	o.notifyCompletion(ctx, log, req, &entry)
	if err := o.save(ctx, &entry); err != nil {
		log.Warn().Err(err).Msg("Failed to record completion")
	}
	o.metrics.RequestsTotal.WithLabelValues(out.Kind, "confirmed").Inc()
	out.State = ledger.StateConfirmed
	out = done()
	log.Info().
		Str("validation_tx", entry.ValidationTx).
		Uint64("round_id", entry.RoundID).
		Dur("duration", out.Duration).
		Msg("Request validated")
	return out
}

// run advances e stage by stage. Each completed stage is persisted before
// the next one starts.
func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger, req attestation.PendingRequest, e *ledger.Entry) error {
	previous := e.ValidationTx
	if e.Stage.Reached(ledger.StateSubmitted) && e.ValidationTx != "" {
		confirmed, err := o.reconcile(ctx, log, e)
		if err != nil || confirmed {
			return err
		}
	}

	var (
		round   attestation.RoundID
		encoded []byte
		err     error
	)
	if e.Stage.Reached(ledger.StateRequestSubmitted) {
		encoded, err = hexutil.Decode(e.EncodedRequest)
		if err != nil {
			return fault.Wrap(fault.KindInvalid, "pipeline.resume", err, "stored encoded request")
		}
		round = attestation.RoundID(e.RoundID)
		log.Info().Uint64("round_id", e.RoundID).Str("stage", string(e.Stage)).Msg("Resuming request")
	} else {
		round, encoded, err = o.request(ctx, log, req, e)
		if err != nil {
			return err
		}
	}

	if !e.Stage.Reached(ledger.StateRoundFinalized) {
		res, err := runStage(ctx, o, "finalization", func(ctx context.Context) (poll.Result, error) {
			return o.deps.Finality.WaitFinalized(ctx, round)
		})
		if err != nil {
			return wrapStage("wait finalization", err)
		}
		log.Info().
			Uint64("round_id", uint64(round)).
			Uint("polls", res.Attempts).
			Dur("waited", res.Elapsed).
			Msg("Round finalized")
		if err := o.advance(ctx, e, ledger.StateRoundFinalized); err != nil {
			return err
		}
	}

	raw, err := runStage(ctx, o, "proof", func(ctx context.Context) (attestation.RawProof, error) {
		return o.deps.Proofs.Retrieve(ctx, round, encoded)
	})
	if err != nil {
		return wrapStage("retrieve proof", err)
	}
	if err := o.advance(ctx, e, ledger.StateProofRetrieved); err != nil {
		return err
	}

	proof, err := runStage(ctx, o, "decode", func(context.Context) (attestation.Proof, error) {
		return o.decode(log, req, raw, round)
	})
	if err != nil {
		return wrapStage("decode", err)
	}
	if err := o.advance(ctx, e, ledger.StateDecoded); err != nil {
		return err
	}

	tx, err := runStage(ctx, o, "validate", func(ctx context.Context) (*types.Transaction, error) {
		return o.deps.Validator.Send(ctx, req, proof)
	})
	if err != nil {
		if o.confirmedEarlier(ctx, log, err, e, previous) {
			return o.advance(ctx, e, ledger.StateConfirmed)
		}
		return wrapStage("submit proof", err)
	}
	e.ValidationTx = tx.Hash().Hex()
	if err := o.advance(ctx, e, ledger.StateSubmitted); err != nil {
		return err
	}

	res, err := runStage(ctx, o, "confirm", func(ctx context.Context) (*submitter.Result, error) {
		return o.deps.Validator.Wait(ctx, req, tx)
	})
	if err != nil {
		if o.confirmedEarlier(ctx, log, err, e, previous) {
			return o.advance(ctx, e, ledger.StateConfirmed)
		}
		return wrapStage("confirm proof", err)
	}
	log.Info().
		Str("method", res.Method).
		Uint64("block_number", res.BlockNumber).
		Uint64("gas_used", res.GasUsed).
		Msg("Validation transaction confirmed")
	return o.advance(ctx, e, ledger.StateConfirmed)
}

// request pays for an attestation and resolves its voting round. The
// request hash is persisted as soon as it is broadcast, so a request whose
// payment was already sent is awaited rather than paid again.
func (o *Orchestrator) request(
	ctx context.Context,
	log zerolog.Logger,
	req attestation.PendingRequest,
	e *ledger.Entry,
) (attestation.RoundID, []byte, error) {
	var sub *requester.Submission

	switch {
	case e.AttestationTx != "" && e.AttestationBlock != "" && e.EncodedRequest != "":
		encoded, err := hexutil.Decode(e.EncodedRequest)
		if err != nil {
			return 0, nil, fault.Wrap(fault.KindInvalid, "pipeline.resume", err, "stored encoded request")
		}
		sub = &requester.Submission{
			EncodedRequest: encoded,
			TxHash:         common.HexToHash(e.AttestationTx),
			BlockHash:      common.HexToHash(e.AttestationBlock),
		}
		log.Info().Str("attestation_tx", e.AttestationTx).Msg("Attestation already paid, resolving round")
	case e.AttestationTx != "" && e.EncodedRequest != "":
		encoded, err := hexutil.Decode(e.EncodedRequest)
		if err != nil {
			return 0, nil, fault.Wrap(fault.KindInvalid, "pipeline.resume", err, "stored encoded request")
		}
		log.Info().Str("attestation_tx", e.AttestationTx).Msg("Attestation already sent, waiting for inclusion")
		if sub, err = o.awaitRequest(ctx, log, e, encoded, common.HexToHash(e.AttestationTx)); err != nil {
			return 0, nil, err
		}
	default:
		spec := o.specFor(o.deps.Events.EventURL(req.ReqID))
		digest, err := spec.Digest()
		if err != nil {
			return 0, nil, fault.Wrap(fault.KindInvalid, "pipeline.request", err, "request digest")
		}
		e.RequestDigest = digest.Hex()

		encoded, err := retryStage(ctx, o, "prepare", func(ctx context.Context) ([]byte, error) {
			return o.deps.Requester.Prepare(ctx, spec)
		})
		if err != nil {
			return 0, nil, wrapStage("prepare", err)
		}
		fee, err := retryStage(ctx, o, "fee", func(ctx context.Context) (*big.Int, error) {
			return o.deps.Requester.Fee(ctx, encoded)
		})
		if err != nil {
			return 0, nil, wrapStage("fee", err)
		}
		tx, err := runStage(ctx, o, "request", func(ctx context.Context) (*types.Transaction, error) {
			return o.deps.Requester.Send(ctx, encoded, fee)
		})
		if err != nil {
			return 0, nil, wrapStage("request attestation", err)
		}

		e.EncodedRequest = hexutil.Encode(encoded)
		e.AttestationTx = tx.Hash().Hex()
		e.AttestationBlock = ""
		if err := o.save(ctx, e); err != nil {
			return 0, nil, err
		}
		if sub, err = o.awaitRequest(ctx, log, e, encoded, tx.Hash()); err != nil {
			return 0, nil, err
		}
	}

	if _, err := retryStage(ctx, o, "resolve_round", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Requester.ResolveRound(ctx, sub)
	}); err != nil {
		return 0, nil, wrapStage("resolve round", err)
	}

	e.RoundID = uint64(sub.RoundID)
	if err := o.advance(ctx, e, ledger.StateRequestSubmitted); err != nil {
		return 0, nil, err
	}
	log.Info().
		Uint64("round_id", e.RoundID).
		Str("attestation_tx", e.AttestationTx).
		Msg("Attestation requested")
	return sub.RoundID, sub.EncodedRequest, nil
}

// awaitRequest waits for the request transaction hash and records its
// inclusion block. A reverted or dropped request moved no fee, so its hash
// is cleared and the next attempt pays again. Any other failure keeps it.
func (o *Orchestrator) awaitRequest(
	ctx context.Context,
	log zerolog.Logger,
	e *ledger.Entry,
	encoded []byte,
	hash common.Hash,
) (*requester.Submission, error) {
	sub, err := runStage(ctx, o, "request_inclusion", func(ctx context.Context) (*requester.Submission, error) {
		return o.deps.Requester.Wait(ctx, encoded, hash)
	})
	if err != nil {
		if fault.Is(err, fault.KindReverted) || errors.Is(err, requester.ErrDropped) {
			log.Warn().Err(err).Str("attestation_tx", hash.Hex()).Msg("Attestation request did not land, will pay again")
			e.AttestationTx = ""
		}
		return nil, wrapStage("await attestation request", err)
	}
	e.AttestationBlock = sub.BlockHash.Hex()
	if err := o.save(ctx, e); err != nil {
		return nil, err
	}
	return sub, nil
}

// reconcile settles a validation transaction sent by an earlier attempt.
// A tx the node still holds is awaited. Only a reverted or forgotten tx
// rewinds the entry to Decoded so the proof is sent again.
func (o *Orchestrator) reconcile(ctx context.Context, log zerolog.Logger, e *ledger.Entry) (bool, error) {
	hash := common.HexToHash(e.ValidationTx)
	res, err := runStage(ctx, o, "reconcile", func(ctx context.Context) (reconciled, error) {
		res, found, err := o.deps.Validator.Reconcile(ctx, hash)
		return reconciled{res, found}, err
	})
	switch {
	case err != nil && !fault.Is(err, fault.KindReverted):
		return false, wrapStage("reconcile", err)
	case err != nil:
		log.Warn().Err(err).Str("validation_tx", e.ValidationTx).Msg("Previous validation reverted, resubmitting")
	case res.found:
		log.Info().
			Str("validation_tx", e.ValidationTx).
			Uint64("block_number", res.BlockNumber).
			Msg("Previous validation confirmed")
		return true, o.advance(ctx, e, ledger.StateConfirmed)
	default:
		log.Warn().Str("validation_tx", e.ValidationTx).Msg("Previous validation unknown to the node, resubmitting")
	}
	e.ValidationTx = ""
	e.Stage = ledger.StateDecoded
	return false, nil
}

type reconciled struct {
	*submitter.Result
	found bool
}

// confirmedEarlier handles a denied resend: once an earlier validation
// lands the request is no longer pending, which the contract reports as a
// denial. It records the earlier tx when it confirmed.
func (o *Orchestrator) confirmedEarlier(ctx context.Context, log zerolog.Logger, err error, e *ledger.Entry, previous string) bool {
	if previous == "" || !fault.Is(err, fault.KindAuthorizationDenied) {
		return false
	}
	res, found, rerr := o.deps.Validator.Reconcile(ctx, common.HexToHash(previous))
	if rerr != nil || !found {
		return false
	}
	log.Info().
		Str("validation_tx", previous).
		Uint64("block_number", res.BlockNumber).
		Msg("Earlier validation confirmed, resend was redundant")
	e.ValidationTx = previous
	return true
}

// decode checks the proof belongs to round and that its payload matches
// the requested schema.
func (o *Orchestrator) decode(
	log zerolog.Logger,
	req attestation.PendingRequest,
	raw attestation.RawProof,
	round attestation.RoundID,
) (attestation.Proof, error) {
	proof, err := decoder.BuildProof(raw)
	if err != nil {
		return attestation.Proof{}, err
	}
	if proof.Data.VotingRound != uint64(round) {
		return attestation.Proof{}, fault.Newf(fault.KindDecode, "pipeline.decode",
			"proof is for round %d, requested in %d", proof.Data.VotingRound, round)
	}

	data := proof.Data.ResponseBody.AbiEncodedData
	if proof.Data.RequestBody.AbiSignature == attestation.TaskAbiSignature {
		task, err := decoder.DecodeTask(data)
		if err != nil {
			return attestation.Proof{}, err
		}
		if k := task.Kind(); k != attestation.KindUnknown && k != req.Kind {
			log.Warn().
				Str("attested_kind", k.String()).
				Msg("Attested task kind differs from the listed kind")
		}
		log.Info().
			Str("owner", task.Owner.Hex()).
			Str("status", attestation.TaskStatus(task.Status).String()).
			Msg("Proof decoded")
		return proof, nil
	}

	schema, err := decoder.ParseSchema(proof.Data.RequestBody.AbiSignature)
	if err != nil {
		return attestation.Proof{}, fault.Wrap(fault.KindDecode, "pipeline.decode", err, "response schema")
	}
	fields, err := schema.Decode(data)
	if err != nil {
		return attestation.Proof{}, err
	}
	log.Info().Int("fields", len(fields)).Msg("Proof decoded")
	return proof, nil
}

// userDecided reports whether the owner has approved or rejected req. An
// undecided record would attest a pending status, so it is not paid for.
func (o *Orchestrator) userDecided(ctx context.Context, log zerolog.Logger, req attestation.PendingRequest) (bool, error) {
	task, err := retryStage(ctx, o, "event", func(ctx context.Context) (attestation.TaskRecord, error) {
		return o.deps.Events.GetEvent(ctx, req.ReqID)
	})
	if err != nil {
		return false, wrapStage("read event", err)
	}
	if attestation.TaskStatus(task.Status) == attestation.TaskPending {
		log.Debug().Msg("Request awaiting user decision, skipping")
		return false, nil
	}
	return true, nil
}

// notifyCompletion tells the event store the request is done. Failures are
// retried on the next tick.
func (o *Orchestrator) notifyCompletion(ctx context.Context, log zerolog.Logger, req attestation.PendingRequest, e *ledger.Entry) {
	_, err := retryStage(ctx, o, "complete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Events.Complete(ctx, req.ReqID)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to notify completion, will retry next tick")
		e.Completed = false
		return
	}
	e.Completed = true
}

func (o *Orchestrator) specFor(url string) attestation.RequestSpec {
	spec := attestation.NewTaskRequestSpec(url)
	if o.cfg.PostprocessJq != "" {
		spec.PostprocessJq = o.cfg.PostprocessJq
	}
	if o.cfg.AbiSignature != "" {
		spec.AbiSignature = o.cfg.AbiSignature
	}
	return spec
}

func (o *Orchestrator) advance(ctx context.Context, e *ledger.Entry, stage ledger.State) error {
	e.Stage = stage
	e.State = stage
	return o.save(ctx, e)
}

// save persists e even when ctx is already cancelled.
func (o *Orchestrator) save(ctx context.Context, e *ledger.Entry) error {
	if err := o.deps.Ledger.Put(context.WithoutCancel(ctx), *e); err != nil {
		return fault.Wrap(fault.KindTransient, "pipeline.ledger", err, "persist "+e.ReqID)
	}
	return nil
}
