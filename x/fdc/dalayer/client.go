// Package dalayer fetches attestation responses and merkle proofs from the
// Flare DA layer once a voting round is finalized.
package dalayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
	"github.com/tokenx-labs/fdc-validator/x/fdc/poll"
)

const proofByRequestRoundPath = "api/v1/fdc/proof-by-request-round-raw"

// Config configures the DA layer client and the proof retriever.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"   yaml:"base_url"`
	APIKey    string        `mapstructure:"api_key"    yaml:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"    yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int           `mapstructure:"burst"      yaml:"burst"`
	// SettleDelay is waited once after finalization before the first fetch.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Poll        poll.Config   `mapstructure:"poll"         yaml:"poll"`
}

// DefaultConfig returns the Coston2 DA layer defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://ctn2-data-availability.flare.network/",
		Timeout:     30 * time.Second,
		RateLimit:   2,
		Burst:       2,
		SettleDelay: 10 * time.Second,
		Poll: poll.Config{
			Interval:             5 * time.Second,
			MaxConsecutiveErrors: 5,
		},
	}
}

type proofRequest struct {
	VotingRoundID uint64 `json:"votingRoundId"`
	RequestBytes  string `json:"requestBytes"`
}

type proofResponse struct {
	ResponseHex *string  `json:"response_hex"`
	Proof       []string `json:"proof"`
}

// Client performs single proof lookups.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient constructs a DA layer client for cfg.BaseURL.
func NewClient(cfg Config, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("DA layer base URL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DA layer base URL: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	return &Client{
		baseURL:    parsed,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
		log:        log.With().Str("component", "da-layer-client").Logger(),
	}, nil
}

// FetchProof asks for the proof of encodedRequest in round. present is false
// while the DA layer has not produced the response yet.
func (c *Client) FetchProof(ctx context.Context, round attestation.RoundID, encodedRequest []byte) (attestation.RawProof, bool, error) {
	const op = "dalayer.fetch"

	payload, err := json.Marshal(proofRequest{
		VotingRoundID: uint64(round),
		RequestBytes:  hexutil.Encode(encodedRequest),
	})
	if err != nil {
		return attestation.RawProof{}, false, fault.Wrap(fault.KindInvalid, op, err, "marshal request")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return attestation.RawProof{}, false, fault.Ensure(err, fault.KindTransient, op)
	}

	endpoint := c.buildURL(proofByRequestRoundPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return attestation.RawProof{}, false, fault.Wrap(fault.KindInvalid, op, err, "prepare request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return attestation.RawProof{}, false, fault.Ensure(fmt.Errorf("post proof request: %w", err), fault.KindTransient, op)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return attestation.RawProof{}, false, fault.Wrap(fault.KindTransient, op, err, "read response")
	}
	if res.StatusCode != http.StatusOK {
		return attestation.RawProof{}, false, fault.Newf(fault.KindTransient, op, "DA layer returned %s: %s", res.Status, truncate(raw)).
			WithContext("status_code", res.StatusCode)
	}

	var decoded proofResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return attestation.RawProof{}, false, fault.Wrap(fault.KindTransient, op, err, "decode response")
	}
	if decoded.ResponseHex == nil {
		return attestation.RawProof{Raw: raw}, false, nil
	}

	responseBytes, err := hexutil.Decode(*decoded.ResponseHex)
	if err != nil {
		return attestation.RawProof{}, false, fault.Wrap(fault.KindDecode, op, err, "response_hex is not hex")
	}
	proof := make([]common.Hash, 0, len(decoded.Proof))
	for i, h := range decoded.Proof {
		b, err := hexutil.Decode(h)
		if err != nil || len(b) != common.HashLength {
			return attestation.RawProof{}, false, fault.Newf(fault.KindDecode, op, "proof[%d] is not a 32-byte hash: %q", i, h)
		}
		proof = append(proof, common.BytesToHash(b))
	}

	return attestation.RawProof{Proof: proof, ResponseHex: responseBytes, Raw: raw}, true, nil
}

func (c *Client) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{c.baseURL.Path}, elem...)...)
	return clone.String()
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
