// Package eventstore is a client for the backend that records TokenX
// approval and transfer requests and tracks their completion.
package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/x/fdc/attestation"
	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

// Config configures the event store client.
type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"  yaml:"timeout"`
}

// DefaultConfig returns the hosted event store defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://flaresec-production.up.railway.app",
		Timeout: 15 * time.Second,
	}
}

// Client talks to the event store REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient constructs an event store client.
func NewClient(cfg Config, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("event store base URL is required")
	}
	base := cfg.BaseURL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid event store base URL: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: httpClient,
		log:        log.With().Str("component", "eventstore-client").Logger(),
	}, nil
}

// bigNumber accepts a JSON number or a decimal/hex string.
type bigNumber struct {
	*big.Int
}

func (b *bigNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		b.Int = nil
		return nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return fmt.Errorf("invalid integer %q", s)
	}
	b.Int = v
	return nil
}

type eventParams struct {
	ReqID         bigNumber `json:"reqId"`
	TxType        string    `json:"txType"`
	TokenXAddress string    `json:"tokenXAddress"`
	TokenAddress  string    `json:"tokenAddress"`
}

// ListPending returns the requests awaiting validator, in listing order.
// Malformed entries are logged and skipped.
func (c *Client) ListPending(ctx context.Context, validator common.Address) ([]attestation.PendingRequest, error) {
	const op = "eventstore.list"

	var params []eventParams
	if err := c.getJSON(ctx, op, c.buildURL("eventParams", validator.Hex()), &params); err != nil {
		return nil, err
	}

	out := make([]attestation.PendingRequest, 0, len(params))
	for i, p := range params {
		token := p.TokenXAddress
		if token == "" {
			token = p.TokenAddress
		}
		kind, err := attestation.ParseRequestKind(p.TxType)
		switch {
		case p.ReqID.Int == nil || p.ReqID.Sign() < 0:
			c.log.Warn().Int("index", i).Msg("Skipping event without reqId")
			continue
		case err != nil:
			c.log.Warn().Err(err).Str("req_id", p.ReqID.String()).Msg("Skipping event with unknown txType")
			continue
		case !common.IsHexAddress(token):
			c.log.Warn().Str("req_id", p.ReqID.String()).Str("token", token).Msg("Skipping event with invalid token address")
			continue
		}
		out = append(out, attestation.PendingRequest{
			ReqID:        p.ReqID.Int,
			TokenAddress: common.HexToAddress(token),
			Kind:         kind,
			Validator:    validator,
		})
	}

	c.log.Debug().Int("listed", len(params)).Int("accepted", len(out)).Msg("Pending events fetched")
	return out, nil
}

// EventURL is the URL the verifier fetches for reqID. It is the attested
// source.
func (c *Client) EventURL(reqID *big.Int) string {
	return c.buildURL("event", reqID.String())
}

type eventRecord struct {
	Owner         string    `json:"owner"`
	Spender       string    `json:"spender"`
	Receiver      string    `json:"receiver"`
	Amount        bigNumber `json:"amount"`
	Status        uint8     `json:"status"`
	InitiatedTime bigNumber `json:"initiatedTime"`
}

// GetEvent fetches the canonical record of reqID.
func (c *Client) GetEvent(ctx context.Context, reqID *big.Int) (attestation.TaskRecord, error) {
	const op = "eventstore.get"

	var rec eventRecord
	if err := c.getJSON(ctx, op, c.EventURL(reqID), &rec); err != nil {
		return attestation.TaskRecord{}, err
	}
	task := attestation.TaskRecord{
		Owner:         common.HexToAddress(rec.Owner),
		Spender:       common.HexToAddress(rec.Spender),
		Receiver:      common.HexToAddress(rec.Receiver),
		Amount:        rec.Amount.Int,
		Status:        rec.Status,
		InitiatedTime: rec.InitiatedTime.Int,
	}
	if task.Amount == nil {
		task.Amount = new(big.Int)
	}
	if task.InitiatedTime == nil {
		task.InitiatedTime = new(big.Int)
	}
	return task, nil
}

// Complete marks reqID as done. The call is idempotent.
func (c *Client) Complete(ctx context.Context, reqID *big.Int) error {
	const op = "eventstore.complete"

	payload, err := json.Marshal(map[string]string{"reqId": reqID.String()})
	if err != nil {
		return fault.Wrap(fault.KindInvalid, op, err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("txCompletion"), bytes.NewReader(payload))
	if err != nil {
		return fault.Wrap(fault.KindInvalid, op, err, "prepare request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Ensure(fmt.Errorf("post txCompletion: %w", err), fault.KindTransient, op)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fault.Newf(fault.KindTransient, op, "event store returned %s: %s", res.Status, strings.TrimSpace(string(body)))
	}
	c.log.Info().Str("req_id", reqID.String()).Str("response", strings.TrimSpace(string(body))).Msg("Completion reported")
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fault.Wrap(fault.KindInvalid, op, err, "prepare request")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Ensure(fmt.Errorf("get %s: %w", endpoint, err), fault.KindTransient, op)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fault.Newf(fault.KindTransient, op, "event store returned %s: %s", res.Status, strings.TrimSpace(string(msg))).
			WithContext("status_code", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fault.Wrap(fault.KindTransient, op, err, "decode response")
	}
	return nil
}

func (c *Client) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{"/", c.baseURL.Path}, elem...)...)
	return clone.String()
}
