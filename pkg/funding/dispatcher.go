package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gasline/gasline/internal/constants"
	"github.com/gasline/gasline/pkg/gas"
)

// Mode selects the funding action issued for an underfunded sender.
type Mode string

const (
	// ModeRelay requests a cross-chain relay of gas funds.
	ModeRelay Mode = "relay"
	// ModeGasDrop requests a same-chain gas top-up.
	ModeGasDrop Mode = "gasdrop"
)

// Config holds funding dispatcher configuration
type Config struct {
	// APIURL is the base URL of the external funding API.
	APIURL string `yaml:"api_url"`

	// APIKey is sent in the x-api-key header.
	APIKey string `yaml:"api_key"`

	// Mode selects relay (cross-chain) or gasdrop (same-chain) funding.
	Mode Mode `yaml:"mode"`

	// Multiplier pads the estimated gas cost to compute the funded amount.
	Multiplier float64 `yaml:"multiplier"`

	// MinFinality is forwarded on relay requests.
	MinFinality int `yaml:"min_finality"`

	// Routes maps upstream endpoint URLs to chain names, so the source
	// chain can be inferred from whichever endpoint served the request.
	Routes map[string]string `yaml:"routes"`

	// DefaultSource is used when no route matches.
	DefaultSource string `yaml:"default_source"`

	// Timeout bounds a single funding API call.
	Timeout time.Duration `yaml:"timeout"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeRelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = constants.DefaultFundingMultiplier
	}
	if c.MinFinality == 0 {
		c.MinFinality = constants.DefaultFundingMinFinality
	}
	if c.DefaultSource == "" {
		c.DefaultSource = "base"
	}
	if c.Timeout == 0 {
		c.Timeout = constants.DefaultFundingTimeout
	}
}

// relayDestinations fixes the cross-chain rotation: funds are relayed to
// the next chain in the cycle.
var relayDestinations = map[string]string{
	"arbitrum": "base",
	"base":     "optimism",
	"optimism": "arbitrum",
}

// Dispatcher issues fire-and-forget funding requests to the external
// funding API. Failures are logged and swallowed: funding accelerates a
// held transaction but is never a dependency of its release.
type Dispatcher struct {
	cfg        *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDispatcher creates a funding dispatcher
func NewDispatcher(cfg *Config, logger *zap.Logger) *Dispatcher {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("funding"),
	}
}

// Request issues one funding action for the sender, choosing relay or gas
// drop per configuration. Never returns an error: the result only reports
// whether the request was accepted.
func (d *Dispatcher) Request(ctx context.Context, sender string, estimate *gas.Estimate, servedBy string) bool {
	if d.cfg.APIURL == "" {
		d.logger.Debug("funding API not configured, skipping dispatch")
		return false
	}
	if estimate == nil {
		d.logger.Warn("funding dispatch skipped: no gas estimate", zap.String("sender", sender))
		return false
	}

	amount := fmt.Sprintf("%.6f", estimate.TotalCostNative*d.cfg.Multiplier)
	src := d.sourceChain(servedBy)

	var path string
	payload := map[string]interface{}{
		"user": sender,
		"eth":  amount,
		"src":  src,
	}
	switch d.cfg.Mode {
	case ModeGasDrop:
		path = "/api/gas-drop"
	default:
		path = "/api/relay"
		dst, ok := relayDestinations[src]
		if !ok {
			dst = "arbitrum"
		}
		payload["dst"] = dst
		payload["minFinality"] = d.cfg.MinFinality
	}

	ok := d.post(ctx, path, payload)
	if ok {
		requestsTotal.WithLabelValues(string(d.cfg.Mode), "ok").Inc()
		d.logger.Info("funding requested",
			zap.String("mode", string(d.cfg.Mode)),
			zap.String("sender", sender),
			zap.String("amount", amount),
			zap.String("src", src),
		)
	} else {
		requestsTotal.WithLabelValues(string(d.cfg.Mode), "error").Inc()
	}
	return ok
}

// sourceChain infers the source chain from the upstream endpoint that
// served the original request.
func (d *Dispatcher) sourceChain(servedBy string) string {
	if chain, ok := d.cfg.Routes[servedBy]; ok {
		return chain
	}
	return d.cfg.DefaultSource
}

// post performs a single funding API call; all failures are swallowed.
func (d *Dispatcher) post(ctx context.Context, path string, payload map[string]interface{}) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal funding payload", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.APIURL+path, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("failed to build funding request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("x-api-key", d.cfg.APIKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("funding request failed", zap.String("path", path), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("funding API rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return false
	}
	return true
}
