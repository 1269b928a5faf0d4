package attestation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

const (
	// TypeJSONAPI is the attestation type for JSON web sources.
	TypeJSONAPI = "IJsonApi"
	// SourceWeb2 is the source id for plain HTTP sources.
	SourceWeb2 = "WEB2"
)

// RequestSpec describes the off-chain fact to attest. Immutable once built.
type RequestSpec struct {
	AttestationType string
	SourceID        string
	URL             string
	PostprocessJq   string
	AbiSignature    string
}

// NewTaskRequestSpec builds the default spec attesting a task record served at url.
func NewTaskRequestSpec(url string) RequestSpec {
	return RequestSpec{
		AttestationType: TypeJSONAPI,
		SourceID:        SourceWeb2,
		URL:             url,
		PostprocessJq:   TaskPostprocessJq,
		AbiSignature:    TaskAbiSignature,
	}
}

// Validate checks that every field is present and the identifiers fit 32 bytes.
func (s RequestSpec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.URL) == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if strings.TrimSpace(s.PostprocessJq) == "" {
		errs = append(errs, errors.New("postprocess filter is required"))
	}
	if strings.TrimSpace(s.AbiSignature) == "" {
		errs = append(errs, errors.New("abi signature is required"))
	} else if !json.Valid([]byte(s.AbiSignature)) {
		errs = append(errs, errors.New("abi signature must be JSON"))
	}
	if _, err := EncodeFixedString(s.AttestationType); err != nil || s.AttestationType == "" {
		errs = append(errs, fmt.Errorf("invalid attestation type %q", s.AttestationType))
	}
	if _, err := EncodeFixedString(s.SourceID); err != nil || s.SourceID == "" {
		errs = append(errs, fmt.Errorf("invalid source id %q", s.SourceID))
	}
	return errors.Join(errs...)
}

// PrepareRequest is the verifier prepareRequest body.
type PrepareRequest struct {
	AttestationType string      `json:"attestationType"`
	SourceID        string      `json:"sourceId"`
	RequestBody     RequestBody `json:"requestBody"`
}

// PrepareRequest renders the spec in the verifier wire format.
func (s RequestSpec) PrepareRequest() (PrepareRequest, error) {
	if err := s.Validate(); err != nil {
		return PrepareRequest{}, err
	}
	attType, _ := EncodeFixedStringHex(s.AttestationType)
	sourceID, _ := EncodeFixedStringHex(s.SourceID)
	return PrepareRequest{
		AttestationType: attType,
		SourceID:        sourceID,
		RequestBody: RequestBody{
			URL:           s.URL,
			PostprocessJq: s.PostprocessJq,
			AbiSignature:  s.AbiSignature,
		},
	}, nil
}

// CanonicalJSON returns the RFC 8785 form of the prepareRequest body.
func (s RequestSpec) CanonicalJSON() ([]byte, error) {
	body, err := s.PrepareRequest()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize request: %w", err)
	}
	return canonical, nil
}

// Digest is the keccak256 of CanonicalJSON.
func (s RequestSpec) Digest() (common.Hash, error) {
	canonical, err := s.CanonicalJSON()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(canonical), nil
}
