// Package decoder turns DA layer payloads into the typed records the TokenX
// contract expects. The payload is encoded twice: the outer IJsonApi.Response
// tuple, and its abi_encoded_data field against the request's abi_signature.
package decoder

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

var responseArgs = mustResponseArguments()

func mustResponseArguments() abi.Arguments {
	responseType, err := abi.NewType("tuple", "struct IJsonApi.Response", []abi.ArgumentMarshaling{
		{Name: "attestationType", Type: "bytes32", InternalType: "bytes32"},
		{Name: "sourceId", Type: "bytes32", InternalType: "bytes32"},
		{Name: "votingRound", Type: "uint64", InternalType: "uint64"},
		{Name: "lowestUsedTimestamp", Type: "uint64", InternalType: "uint64"},
		{
			Name: "requestBody", Type: "tuple", InternalType: "struct IJsonApi.RequestBody",
			Components: []abi.ArgumentMarshaling{
				{Name: "url", Type: "string", InternalType: "string"},
				{Name: "postprocessJq", Type: "string", InternalType: "string"},
				{Name: "abi_signature", Type: "string", InternalType: "string"},
			},
		},
		{
			Name: "responseBody", Type: "tuple", InternalType: "struct IJsonApi.ResponseBody",
			Components: []abi.ArgumentMarshaling{
				{Name: "abi_encoded_data", Type: "bytes", InternalType: "bytes"},
			},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("build IJsonApi.Response type: %v", err))
	}
	return abi.Arguments{{Name: "data", Type: responseType}}
}

// DecodeResponse decodes response_hex into an IJsonApi.Response.
func DecodeResponse(payload []byte) (attestation.Response, error) {
	const op = "decoder.response"

	if len(payload) == 0 {
		return attestation.Response{}, fault.New(fault.KindDecode, op, "empty response payload")
	}
	values, err := responseArgs.Unpack(payload)
	if err != nil {
		return attestation.Response{}, fault.Wrap(fault.KindDecode, op, err, "unpack response tuple")
	}
	var out attestation.Response
	if err := convert(values, &out); err != nil {
		return attestation.Response{}, fault.Wrap(fault.KindDecode, op, err, "convert response tuple")
	}
	return out, nil
}

// EncodeResponse is the inverse of DecodeResponse.
func EncodeResponse(resp attestation.Response) ([]byte, error) {
	data, err := responseArgs.Pack(resp)
	if err != nil {
		return nil, fmt.Errorf("pack response tuple: %w", err)
	}
	return data, nil
}

// BuildProof decodes raw into the Proof argument of the validation entry points.
func BuildProof(raw attestation.RawProof) (attestation.Proof, error) {
	resp, err := DecodeResponse(raw.ResponseHex)
	if err != nil {
		return attestation.Proof{}, err
	}
	return attestation.Proof{MerkleProof: raw.MerklePath(), Data: resp}, nil
}

// Schema is a parsed abi_signature.
type Schema struct {
	Name string
	args abi.Arguments
	typ  abi.Type
}

// ParseSchema parses an abi_signature JSON description such as
// attestation.TaskAbiSignature.
func ParseSchema(signature string) (*Schema, error) {
	var m abi.ArgumentMarshaling
	if err := json.Unmarshal([]byte(signature), &m); err != nil {
		return nil, fault.Wrap(fault.KindInvalid, "decoder.schema", err, "abi signature is not JSON")
	}
	if err := checkType(m); err != nil {
		return nil, fault.Wrap(fault.KindInvalid, "decoder.schema", err, "abi signature is not a valid type")
	}
	typ, err := abi.NewType(m.Type, m.InternalType, m.Components)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalid, "decoder.schema", err, "abi signature is not a valid type")
	}
	return &Schema{
		Name: m.Name,
		args: abi.Arguments{{Name: m.Name, Type: typ}},
		typ:  typ,
	}, nil
}

// checkType rejects element types abi.NewType accepts loosely, such as
// uint7 or bytes33, including inside tuple components and arrays.
func checkType(m abi.ArgumentMarshaling) error {
	base := m.Type
	for strings.HasSuffix(base, "]") {
		open := strings.LastIndex(base, "[")
		if open < 0 {
			return fmt.Errorf("unbalanced array type %q", m.Type)
		}
		if size := base[open+1 : len(base)-1]; size != "" {
			if n, err := strconv.ParseUint(size, 10, 32); err != nil || n == 0 {
				return fmt.Errorf("invalid array length in %q", m.Type)
			}
		}
		base = base[:open]
	}

	switch {
	case base == "tuple":
		if len(m.Components) == 0 {
			return fmt.Errorf("tuple %q has no components", m.Name)
		}
		for _, c := range m.Components {
			if err := checkType(c); err != nil {
				return err
			}
		}
		return nil
	case base == "bool", base == "address", base == "string", base == "bytes", base == "function":
		return nil
	case strings.HasPrefix(base, "uint"):
		return checkBits(m.Type, base[len("uint"):])
	case strings.HasPrefix(base, "int"):
		return checkBits(m.Type, base[len("int"):])
	case strings.HasPrefix(base, "bytes"):
		n, err := strconv.Atoi(base[len("bytes"):])
		if err != nil || n < 1 || n > 32 {
			return fmt.Errorf("invalid fixed bytes type %q", m.Type)
		}
		return nil
	}
	return fmt.Errorf("unsupported type %q", m.Type)
}

func checkBits(typ, bits string) error {
	n, err := strconv.Atoi(bits)
	if err != nil || n < 8 || n > 256 || n%8 != 0 {
		return fmt.Errorf("invalid integer width in %q", typ)
	}
	return nil
}

// Field is one decoded value in schema order.
type Field struct {
	Name  string
	Type  string
	Value any
}

// Decode decodes data into its top-level fields in schema order. A
// non-tuple schema yields a single field.
func (s *Schema) Decode(data []byte) ([]Field, error) {
	const op = "decoder.data"

	values, err := s.args.Unpack(data)
	if err != nil {
		return nil, fault.Wrap(fault.KindDecode, op, err, "unpack "+s.Name)
	}
	if len(values) != 1 {
		return nil, fault.Newf(fault.KindDecode, op, "expected 1 value, got %d", len(values))
	}

	if s.typ.T != abi.TupleTy {
		return []Field{{Name: s.Name, Type: s.typ.String(), Value: values[0]}}, nil
	}

	v := reflect.ValueOf(values[0])
	if v.Kind() != reflect.Struct || v.NumField() != len(s.typ.TupleElems) {
		return nil, fault.Newf(fault.KindDecode, op, "tuple arity mismatch for %s", s.Name)
	}
	fields := make([]Field, len(s.typ.TupleElems))
	for i, elem := range s.typ.TupleElems {
		fields[i] = Field{
			Name:  s.typ.TupleRawNames[i],
			Type:  elem.String(),
			Value: v.Field(i).Interface(),
		}
	}
	return fields, nil
}

// DecodeInto decodes data and converts the value into out, which must be a
// pointer to a struct with the same field layout.
func (s *Schema) DecodeInto(data []byte, out any) error {
	const op = "decoder.data"

	values, err := s.args.Unpack(data)
	if err != nil {
		return fault.Wrap(fault.KindDecode, op, err, "unpack "+s.Name)
	}
	if err := convert(values, out); err != nil {
		return fault.Wrap(fault.KindDecode, op, err, "convert "+s.Name)
	}
	return nil
}

// Encode packs value against the schema.
func (s *Schema) Encode(value any) ([]byte, error) {
	data, err := s.args.Pack(value)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", s.Name, err)
	}
	return data, nil
}

var taskSchema = mustSchema(attestation.TaskAbiSignature)

func mustSchema(signature string) *Schema {
	s, err := ParseSchema(signature)
	if err != nil {
		panic(err)
	}
	return s
}

// DecodeTask decodes abi_encoded_data produced for attestation.TaskAbiSignature.
func DecodeTask(data []byte) (attestation.TaskRecord, error) {
	var task attestation.TaskRecord
	if err := taskSchema.DecodeInto(data, &task); err != nil {
		return attestation.TaskRecord{}, err
	}
	return task, nil
}

// EncodeTask is the inverse of DecodeTask.
func EncodeTask(task attestation.TaskRecord) ([]byte, error) {
	return taskSchema.Encode(task)
}

// convert copies a single unpacked value into out. abi.ConvertType panics
// on layout mismatches.
func convert(values []any, out any) (err error) {
	if len(values) != 1 {
		return fmt.Errorf("expected 1 value, got %d", len(values))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layout mismatch: %v", r)
		}
	}()
	abi.ConvertType(values[0], out)
	return nil
}
