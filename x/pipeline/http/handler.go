package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	apicommon "github.com/tokenx-labs/fdc-validator/server/api"
	"github.com/tokenx-labs/fdc-validator/x/ledger"
	"github.com/tokenx-labs/fdc-validator/x/pipeline"
)

// Service is the orchestrator surface exposed over HTTP.
type Service interface {
	Tick(ctx context.Context) (*pipeline.TickReport, error)
	Stats(ctx context.Context) (pipeline.Stats, error)
	Reset(ctx context.Context, reqID string) error
	Ledger() ledger.Ledger
}

type Handler struct {
	svc Service
	log zerolog.Logger
}

func NewHandler(svc Service, log zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With().Str("component", "pipeline-http").Logger(),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f ledger.Filter
	if s := strings.TrimSpace(q.Get("state")); s != "" {
		st, err := ledger.ParseState(s)
		if err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_state", err.Error(), nil)
			return
		}
		f.State = st
	}

	f.Limit = defaultListLimit
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxListLimit {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be 1.."+strconv.Itoa(maxListLimit), nil)
			return
		}
		f.Limit = n
	}

	entries, err := h.svc.Ledger().List(r.Context(), f)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list ledger entries")
		apicommon.WriteError(w, r, http.StatusInternalServerError, "ledger_error", err.Error(), nil)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"requests": entries, "count": len(entries)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	reqID, ok := reqIDParam(w, r)
	if !ok {
		return
	}

	entry, err := h.svc.Ledger().Get(r.Context(), reqID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		apicommon.WriteError(w, r, http.StatusNotFound, "not_found", "no entry for reqId "+reqID, nil)
	case err != nil:
		apicommon.WriteError(w, r, http.StatusInternalServerError, "ledger_error", err.Error(), nil)
	default:
		apicommon.WriteJSON(w, http.StatusOK, entry)
	}
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	reqID, ok := reqIDParam(w, r)
	if !ok {
		return
	}

	err := h.svc.Reset(r.Context(), reqID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		apicommon.WriteError(w, r, http.StatusNotFound, "not_found", "no entry for reqId "+reqID, nil)
	case err != nil:
		apicommon.WriteError(w, r, http.StatusInternalServerError, "ledger_error", err.Error(), nil)
	default:
		apicommon.WriteJSON(w, http.StatusOK, map[string]any{"status": "reset", "req_id": reqID})
	}
}

func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	// The tick keeps running if the caller disconnects.
	report, err := h.svc.Tick(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, pipeline.ErrTickInProgress):
		apicommon.WriteError(w, r, http.StatusConflict, "tick_in_progress", err.Error(), nil)
	case err != nil:
		apicommon.WriteError(w, r, http.StatusBadGateway, "tick_failed", err.Error(), report)
	default:
		apicommon.WriteJSON(w, http.StatusOK, report)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		apicommon.WriteError(w, r, http.StatusInternalServerError, "stats_failed", err.Error(), nil)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, stats)
}

// reqIDParam validates the {reqId} path segment as a decimal uint256.
func reqIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(mux.Vars(r)["reqId"])
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_req_id", "reqId must be a decimal uint256", nil)
		return "", false
	}
	return id.String(), true
}
