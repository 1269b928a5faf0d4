package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

func sampleTask() attestation.TaskRecord {
	return attestation.TaskRecord{
		Owner:         common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Spender:       common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		Amount:        big.NewInt(1_000_000_000_000_000_000),
		Status:        uint8(attestation.TaskApproved),
		InitiatedTime: big.NewInt(1_700_000_000),
	}
}

func sampleResponse(t *testing.T, data []byte) attestation.Response {
	t.Helper()
	attType, err := attestation.EncodeFixedString(attestation.TypeJSONAPI)
	require.NoError(t, err)
	sourceID, err := attestation.EncodeFixedString(attestation.SourceWeb2)
	require.NoError(t, err)
	return attestation.Response{
		AttestationType:     attType,
		SourceID:            sourceID,
		VotingRound:         4,
		LowestUsedTimestamp: 1360,
		RequestBody: attestation.RequestBody{
			URL:           "https://events.example/event/42",
			PostprocessJq: attestation.TaskPostprocessJq,
			AbiSignature:  attestation.TaskAbiSignature,
		},
		ResponseBody: attestation.ResponseBody{AbiEncodedData: data},
	}
}

func TestResponseRoundTrip(t *testing.T) {
	data, err := EncodeTask(sampleTask())
	require.NoError(t, err)
	want := sampleResponse(t, data)

	payload, err := EncodeResponse(want)
	require.NoError(t, err)

	got, err := DecodeResponse(payload)
	require.NoError(t, err)
	require.Equal(t, want, got)

	task, err := DecodeTask(got.ResponseBody.AbiEncodedData)
	require.NoError(t, err)
	require.Equal(t, sampleTask(), task)
	require.Equal(t, attestation.KindApprove, task.Kind())
}

func TestBuildProof(t *testing.T) {
	payload, err := EncodeResponse(sampleResponse(t, []byte{0x01}))
	require.NoError(t, err)
	h := common.HexToHash("0x01")

	proof, err := BuildProof(attestation.RawProof{Proof: []common.Hash{h}, ResponseHex: payload})
	require.NoError(t, err)
	require.Equal(t, [][32]byte{h}, proof.MerkleProof)
	require.Equal(t, uint64(4), proof.Data.VotingRound)
}

func TestDecodeResponseMalformed(t *testing.T) {
	_, err := DecodeResponse(nil)
	require.True(t, fault.Is(err, fault.KindDecode))

	_, err = DecodeResponse([]byte{0x01, 0x02, 0x03})
	require.True(t, fault.Is(err, fault.KindDecode))

	garbage := make([]byte, 64)
	for i := range garbage {
		garbage[i] = 0xff
	}
	_, err = DecodeResponse(garbage)
	require.True(t, fault.Is(err, fault.KindDecode))
}

func TestSchemaDecodeOrderedFields(t *testing.T) {
	data, err := EncodeTask(sampleTask())
	require.NoError(t, err)

	schema, err := ParseSchema(attestation.TaskAbiSignature)
	require.NoError(t, err)
	require.Equal(t, "task", schema.Name)

	fields, err := schema.Decode(data)
	require.NoError(t, err)
	require.Len(t, fields, 6)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	require.Equal(t, []string{"owner", "spender", "receiver", "amount", "status", "initiatedTime"}, names)
	require.Equal(t, "address", fields[0].Type)
	require.Equal(t, sampleTask().Owner, fields[0].Value)
	require.Equal(t, uint8(attestation.TaskApproved), fields[4].Value)
	require.Equal(t, 0, sampleTask().Amount.Cmp(fields[3].Value.(*big.Int)))
}

type labelled struct {
	Label string   `abi:"label"`
	Value *big.Int `abi:"value"`
}

func TestSchemaStringField(t *testing.T) {
	schema, err := ParseSchema(`{"components":[{"name":"label","type":"string"},{"name":"value","type":"uint256"}],"name":"item","type":"tuple"}`)
	require.NoError(t, err)

	data, err := schema.Encode(labelled{Label: "hello", Value: big.NewInt(7)})
	require.NoError(t, err)

	var out labelled
	require.NoError(t, schema.DecodeInto(data, &out))
	require.Equal(t, "hello", out.Label)
	require.Equal(t, int64(7), out.Value.Int64())
}

func TestSchemaScalar(t *testing.T) {
	schema, err := ParseSchema(`{"name":"amount","type":"uint256"}`)
	require.NoError(t, err)

	data, err := schema.Encode(big.NewInt(99))
	require.NoError(t, err)
	fields, err := schema.Decode(data)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, int64(99), fields[0].Value.(*big.Int).Int64())
}

func TestParseSchemaInvalid(t *testing.T) {
	_, err := ParseSchema("not json")
	require.True(t, fault.Is(err, fault.KindInvalid))

	_, err = ParseSchema(`{"name":"x","type":"uint7"}`)
	require.True(t, fault.Is(err, fault.KindInvalid))
}

func TestParseSchemaRejectsMalformedWidths(t *testing.T) {
	for _, sig := range []string{
		`{"name":"x","type":"uint7"}`,
		`{"name":"x","type":"int264"}`,
		`{"name":"x","type":"uint0"}`,
		`{"name":"x","type":"bytes33"}`,
		`{"name":"x","type":"bytes0"}`,
		`{"name":"x","type":"uint12[]"}`,
		`{"name":"x","type":"uint256[0]"}`,
		`{"name":"x","type":"tuple","components":[{"name":"a","type":"address"},{"name":"b","type":"int9"}]}`,
		`{"name":"x","type":"tuple[]","components":[{"name":"a","type":"bytes40"}]}`,
		`{"name":"x","type":"tuple","components":[]}`,
		`{"name":"x","type":"float"}`,
		`{"name":"x","type":"uint"}`,
	} {
		t.Run(sig, func(t *testing.T) {
			_, err := ParseSchema(sig)
			require.True(t, fault.Is(err, fault.KindInvalid), "accepted %s", sig)
		})
	}
}

func TestParseSchemaAcceptsWellFormedTypes(t *testing.T) {
	for _, sig := range []string{
		`{"name":"x","type":"uint8"}`,
		`{"name":"x","type":"int256"}`,
		`{"name":"x","type":"bytes1"}`,
		`{"name":"x","type":"bytes32[2][]"}`,
		`{"name":"x","type":"tuple[3]","components":[{"name":"a","type":"string"},{"name":"b","type":"uint64"}]}`,
		attestation.TaskAbiSignature,
	} {
		t.Run(sig, func(t *testing.T) {
			_, err := ParseSchema(sig)
			require.NoError(t, err)
		})
	}
}

func TestDecodeTaskLayoutMismatch(t *testing.T) {
	schema, err := ParseSchema(`{"components":[{"name":"label","type":"string"}],"name":"item","type":"tuple"}`)
	require.NoError(t, err)
	data, err := schema.Encode(struct {
		Label string `abi:"label"`
	}{Label: "x"})
	require.NoError(t, err)

	_, err = DecodeTask(data)
	require.True(t, fault.Is(err, fault.KindDecode))
}

func TestTaskRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genAddress := gen.SliceOfN(20, gen.UInt8()).Map(func(b []uint8) common.Address {
		return common.BytesToAddress(b)
	})

	properties.Property("decode(encode(task)) == task", prop.ForAll(
		func(owner, counterparty common.Address, amount uint64, status uint8, ts uint64, transfer bool) bool {
			task := attestation.TaskRecord{
				Owner:         owner,
				Amount:        new(big.Int).SetUint64(amount),
				Status:        status,
				InitiatedTime: new(big.Int).SetUint64(ts),
			}
			if transfer {
				task.Receiver = counterparty
			} else {
				task.Spender = counterparty
			}
			data, err := EncodeTask(task)
			if err != nil {
				return false
			}
			got, err := DecodeTask(data)
			if err != nil {
				return false
			}
			return got.Owner == task.Owner &&
				got.Spender == task.Spender &&
				got.Receiver == task.Receiver &&
				got.Amount.Cmp(task.Amount) == 0 &&
				got.Status == task.Status &&
				got.InitiatedTime.Cmp(task.InitiatedTime) == 0
		},
		genAddress,
		genAddress,
		gen.UInt64(),
		gen.UInt8(),
		gen.UInt64(),
		gen.Bool(),
	))

	properties.Property("response round-trips arbitrary url and data", prop.ForAll(
		func(url string, round uint64, data []byte) bool {
			resp := attestation.Response{
				VotingRound:  round,
				RequestBody:  attestation.RequestBody{URL: url},
				ResponseBody: attestation.ResponseBody{AbiEncodedData: data},
			}
			payload, err := EncodeResponse(resp)
			if err != nil {
				return false
			}
			got, err := DecodeResponse(payload)
			if err != nil {
				return false
			}
			return got.RequestBody.URL == url &&
				got.VotingRound == round &&
				string(got.ResponseBody.AbiEncodedData) == string(data)
		},
		gen.AnyString(),
		gen.UInt64(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
