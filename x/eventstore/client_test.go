package eventstore

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

var validator = common.HexToAddress("0x00000000000000000000000000000000000000f1")

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL}, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestListPending(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eventParams/"+validator.Hex(), r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"reqId": 42, "txType": "Approve", "tokenXAddress": "0x00000000000000000000000000000000000000aa"},
			{"reqId": "7", "txType": "Transfer", "tokenAddress": "0x00000000000000000000000000000000000000bb"},
			{"reqId": 8, "txType": "Mint", "tokenXAddress": "0x00000000000000000000000000000000000000bb"},
			{"reqId": 9, "txType": "Approve", "tokenXAddress": "nope"},
			{"txType": "Approve", "tokenXAddress": "0x00000000000000000000000000000000000000bb"}
		]`))
	})

	got, err := client.ListPending(context.Background(), validator)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "42", got[0].Key())
	require.Equal(t, attestation.KindApprove, got[0].Kind)
	require.Equal(t, common.HexToAddress("0xaa"), got[0].TokenAddress)
	require.Equal(t, validator, got[0].Validator)

	require.Equal(t, "7", got[1].Key())
	require.Equal(t, attestation.KindTransfer, got[1].Kind)
}

func TestListPendingNon200(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	_, err := client.ListPending(context.Background(), validator)
	require.True(t, fault.Is(err, fault.KindTransient))
}

func TestGetEvent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/event/42", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"owner": "0x00000000000000000000000000000000000000a1",
			"spender": "0x00000000000000000000000000000000000000b2",
			"receiver": "0x0000000000000000000000000000000000000000",
			"amount": "1000000000000000000",
			"status": 1,
			"initiatedTime": 1700000000
		}`))
	})

	task, err := client.GetEvent(context.Background(), big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, attestation.KindApprove, task.Kind())
	require.Equal(t, "1000000000000000000", task.Amount.String())
	require.Equal(t, int64(1700000000), task.InitiatedTime.Int64())
	require.Equal(t, uint8(attestation.TaskApproved), task.Status)
}

func TestComplete(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/txCompletion", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte("ok"))
	})

	require.NoError(t, client.Complete(context.Background(), big.NewInt(42)))
	require.Equal(t, "42", body["reqId"])
}

func TestCompleteFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := client.Complete(context.Background(), big.NewInt(42))
	require.True(t, fault.Is(err, fault.KindTransient))
}

func TestEventURL(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "flaresec.example/api"}, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "https://flaresec.example/api/event/42", client.EventURL(big.NewInt(42)))
}
