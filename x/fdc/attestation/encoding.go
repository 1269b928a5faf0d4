package attestation

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EncodeFixedString encodes s as UTF-8 right-padded with zeros to 32 bytes,
// the form FDC uses for attestation type and source identifiers.
func EncodeFixedString(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) > len(out) {
		return out, fmt.Errorf("identifier %q exceeds 32 bytes", s)
	}
	copy(out[:], s)
	return out, nil
}

// EncodeFixedStringHex is EncodeFixedString rendered as 0x-prefixed hex.
func EncodeFixedStringHex(s string) (string, error) {
	b, err := EncodeFixedString(s)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b[:]), nil
}

// DecodeFixedString strips the zero padding added by EncodeFixedString.
func DecodeFixedString(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}
