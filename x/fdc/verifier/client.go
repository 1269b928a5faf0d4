// Package verifier talks to the FDC attestation verifier that turns a
// JSON API request description into an ABI-encoded attestation request.
package verifier

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

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

const prepareRequestPath = "JsonApi/prepareRequest"

// Config configures the verifier client.
type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string        `mapstructure:"api_key"  yaml:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"  yaml:"timeout"`
	// RateLimit is the maximum requests per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst"      yaml:"burst"`
}

// DefaultConfig returns the Coston2 testnet verifier defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://jq-verifier-test.flare.rocks/",
		Timeout:   30 * time.Second,
		RateLimit: 2,
		Burst:     2,
	}
}

// Prepared is a verifier answer for a valid request.
type Prepared struct {
	Status            string
	AbiEncodedRequest []byte
}

// Client implements the prepareRequest call.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient constructs a verifier client for cfg.BaseURL.
func NewClient(cfg Config, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("verifier base URL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid verifier base URL: %w", err)
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
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := log.With().Str("component", "verifier-client").Logger()
	logger.Info().
		Str("base_url", cfg.BaseURL).
		Bool("api_key_set", cfg.APIKey != "").
		Msg("Verifier client initialized")

	return &Client{
		baseURL:    parsed,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
		log:        logger,
	}, nil
}

type prepareResponse struct {
	Status            string `json:"status"`
	AbiEncodedRequest string `json:"abiEncodedRequest"`
}

// PrepareRequest asks the verifier to encode spec.
func (c *Client) PrepareRequest(ctx context.Context, spec attestation.RequestSpec) (Prepared, error) {
	const op = "verifier.prepare"

	body, err := spec.PrepareRequest()
	if err != nil {
		return Prepared{}, fault.Wrap(fault.KindInvalid, op, err, "invalid request spec")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Prepared{}, fault.Wrap(fault.KindInvalid, op, err, "marshal request")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Prepared{}, fault.Ensure(err, fault.KindTransient, op)
	}

	endpoint := c.buildURL(prepareRequestPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Prepared{}, fault.Wrap(fault.KindInvalid, op, err, "prepare request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	c.log.Debug().Str("endpoint", endpoint).Str("url", spec.URL).Msg("Requesting attestation encoding")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Prepared{}, fault.Ensure(fmt.Errorf("post prepareRequest: %w", err), fault.KindTransient, op)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		c.log.Warn().
			Int("status_code", res.StatusCode).
			Str("response", string(msg)).
			Msg("Verifier returned error response")
		return Prepared{}, fault.Newf(fault.KindTransient, op, "verifier returned %s: %s", res.Status, strings.TrimSpace(string(msg))).
			WithContext("status_code", res.StatusCode)
	}

	var decoded prepareResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return Prepared{}, fault.Wrap(fault.KindTransient, op, err, "decode verifier response")
	}
	if decoded.Status != "" && !strings.EqualFold(decoded.Status, "VALID") {
		return Prepared{}, fault.Newf(fault.KindInvalid, op, "verifier rejected request: %s", decoded.Status)
	}
	encoded, err := hexutil.Decode(decoded.AbiEncodedRequest)
	if err != nil || len(encoded) == 0 {
		return Prepared{}, fault.Newf(fault.KindInvalid, op, "verifier returned invalid abiEncodedRequest %q", decoded.AbiEncodedRequest)
	}

	c.log.Info().
		Str("status", decoded.Status).
		Int("encoded_request_bytes", len(encoded)).
		Msg("Attestation request prepared")

	return Prepared{Status: decoded.Status, AbiEncodedRequest: encoded}, nil
}

func (c *Client) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{c.baseURL.Path}, elem...)...)
	return clone.String()
}
