package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tokenx-labs/fdc-validator/x/ledger"
	"github.com/tokenx-labs/fdc-validator/x/pipeline"
)

type fakeService struct {
	ledger  ledger.Ledger
	tickErr error
	ticks   int
}

func (f *fakeService) Tick(context.Context) (*pipeline.TickReport, error) {
	f.ticks++
	if f.tickErr != nil {
		return nil, f.tickErr
	}
	return &pipeline.TickReport{ID: "tick-1", Listed: 2, Confirmed: 2}, nil
}

func (f *fakeService) Stats(ctx context.Context) (pipeline.Stats, error) {
	counts, err := f.ledger.Counts(ctx)
	return pipeline.Stats{Ticks: uint64(f.ticks), Ledger: counts}, err
}

func (f *fakeService) Reset(ctx context.Context, reqID string) error {
	return f.ledger.Reset(ctx, reqID)
}

func (f *fakeService) Ledger() ledger.Ledger { return f.ledger }

func newRouter(t *testing.T, svc *fakeService) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	NewHandler(svc, zerolog.New(io.Discard)).RegisterMux(r)
	return r
}

func seeded(t *testing.T) *fakeService {
	t.Helper()
	l := ledger.NewMemory()
	ctx := context.Background()
	require.NoError(t, l.Put(ctx, ledger.Entry{ReqID: "42", State: ledger.StateConfirmed, Stage: ledger.StateConfirmed}))
	require.NoError(t, l.Put(ctx, ledger.Entry{ReqID: "43", State: ledger.StateFailed, Stage: ledger.StateDecoded}))
	return &fakeService{ledger: l}
}

func do(r *mux.Router, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestListRequests(t *testing.T) {
	r := newRouter(t, seeded(t))

	rec := do(r, http.MethodGet, routeRequests)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Requests []ledger.Entry `json:"requests"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 2, body.Count)

	rec = do(r, http.MethodGet, routeRequests+"?state=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "43", body.Requests[0].ReqID)
}

func TestListRejectsBadQuery(t *testing.T) {
	r := newRouter(t, seeded(t))
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, routeRequests+"?state=bogus").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, routeRequests+"?limit=0").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, routeRequests+"?limit=x").Code)
}

func TestGetRequest(t *testing.T) {
	r := newRouter(t, seeded(t))

	u, err := r.Get(routeNameRequestByID).URL("reqId", "42")
	require.NoError(t, err)
	rec := do(r, http.MethodGet, u.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var entry ledger.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	require.Equal(t, ledger.StateConfirmed, entry.State)

	u, err = r.Get(routeNameRequestByID).URL("reqId", "7")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, u.String()).Code)

	u, err = r.Get(routeNameRequestByID).URL("reqId", "0x2a")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, u.String()).Code)
}

func TestResetRequest(t *testing.T) {
	svc := seeded(t)
	r := newRouter(t, svc)

	u, err := r.Get(routeNameRequestReset).URL("reqId", "43")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, u.String()).Code)

	_, err = svc.ledger.Get(context.Background(), "43")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodPost, u.String()).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodGet, u.String()).Code)
}

func TestTrigger(t *testing.T) {
	svc := seeded(t)
	r := newRouter(t, svc)

	rec := do(r, http.MethodPost, routeTicks)
	require.Equal(t, http.StatusOK, rec.Code)
	var report pipeline.TickReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Equal(t, "tick-1", report.ID)
	require.Equal(t, 2, report.Confirmed)

	svc.tickErr = pipeline.ErrTickInProgress
	require.Equal(t, http.StatusConflict, do(r, http.MethodPost, routeTicks).Code)

	svc.tickErr = errors.New("event store down")
	require.Equal(t, http.StatusBadGateway, do(r, http.MethodPost, routeTicks).Code)
}

func TestStats(t *testing.T) {
	svc := seeded(t)
	r := newRouter(t, svc)

	rec := do(r, http.MethodGet, routeStats)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats pipeline.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, 1, stats.Ledger[ledger.StateConfirmed])
	require.Equal(t, 1, stats.Ledger[ledger.StateFailed])
}
