package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gasline/gasline/internal/constants"
	"github.com/gasline/gasline/pkg/jsonrpc"
)

// ErrAllEndpointsUnavailable is returned after every configured endpoint
// has been tried once in the current attempt cycle.
var ErrAllEndpointsUnavailable = fmt.Errorf("all upstream endpoints unavailable")

// Config holds upstream router configuration
type Config struct {
	// Endpoints is the list of upstream JSON-RPC URLs, tried round-robin.
	Endpoints []string `yaml:"endpoints"`

	// FailureThreshold is the number of consecutive failures before an
	// endpoint is marked unhealthy.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryCooldown is how long an unhealthy endpoint is excluded
	// before being optimistically re-enabled.
	RecoveryCooldown time.Duration `yaml:"recovery_cooldown"`

	// Timeout bounds a single upstream HTTP call.
	Timeout time.Duration `yaml:"timeout"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.RecoveryCooldown == 0 {
		c.RecoveryCooldown = constants.DefaultRecoveryCooldown
	}
	if c.Timeout == 0 {
		c.Timeout = constants.DefaultUpstreamTimeout
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one upstream endpoint is required")
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	return nil
}

// Router forwards JSON-RPC requests to upstream endpoints with round-robin
// selection and health-aware failover. Unhealthy endpoints are skipped
// unless all endpoints are unhealthy, in which case the first is forced
// back to healthy so the cycle cannot deadlock.
type Router struct {
	cfg        *Config
	endpoints  []*endpoint
	cursor     atomic.Uint64
	httpClient *http.Client
	logger     *zap.Logger
	reqID      atomic.Int64
}

// NewRouter creates a new upstream router
func NewRouter(cfg *Config, logger *zap.Logger) (*Router, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upstream config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoints := make([]*endpoint, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		endpoints = append(endpoints, newEndpoint(url))
	}

	return &Router{
		cfg:        cfg,
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("upstream"),
	}, nil
}

// Call forwards a JSON-RPC request, failing over across endpoints.
// Exhausting the retry budget yields a structured JSON-RPC error response
// rather than a transport error, so callers can always answer their own
// caller.
func (r *Router) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resp, _, err := r.CallWithOrigin(ctx, req)
	return resp, err
}

// CallWithOrigin is Call plus the URL of the endpoint that served the
// request, which funding dispatch uses to infer the source chain.
func (r *Router) CallWithOrigin(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	attempts := len(r.endpoints)
	var lastErr error

	for i := 0; i < attempts; i++ {
		ep := r.next()
		if ep == nil {
			break
		}

		resp, err := r.post(ctx, ep.url, body)
		now := time.Now()
		if err != nil {
			lastErr = err
			tripped := ep.recordFailure(now, r.cfg.FailureThreshold, r.cfg.RecoveryCooldown)
			callsTotal.WithLabelValues(req.Method, "error").Inc()
			if tripped {
				endpointUnhealthyTotal.WithLabelValues(ep.url).Inc()
				r.logger.Warn("endpoint marked unhealthy",
					zap.String("url", ep.url),
					zap.Duration("cooldown", r.cfg.RecoveryCooldown),
					zap.Error(err),
				)
			} else {
				r.logger.Debug("upstream call failed",
					zap.String("url", ep.url),
					zap.String("method", req.Method),
					zap.Error(err),
				)
			}
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			continue
		}

		ep.recordSuccess(now)
		callsTotal.WithLabelValues(req.Method, "ok").Inc()
		return resp, ep.url, nil
	}

	exhaustedTotal.Inc()
	r.logger.Error("all upstream endpoints exhausted",
		zap.String("method", req.Method),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)

	msg := ErrAllEndpointsUnavailable.Error()
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.InternalError, msg, nil)), "", nil
}

// CallMethod builds and forwards a JSON-RPC request for an internally
// generated call (gas price, balance checks, estimates).
func (r *Router) CallMethod(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	resp, _, err := r.CallMethodWithOrigin(ctx, method, params)
	return resp, err
}

// CallMethodWithOrigin is CallMethod plus the serving endpoint URL.
func (r *Router) CallMethodWithOrigin(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, string, error) {
	req, err := jsonrpc.NewRequest(r.reqID.Add(1), method, params)
	if err != nil {
		return nil, "", err
	}
	return r.CallWithOrigin(ctx, req)
}

// next returns the next endpoint to try, skipping unhealthy endpoints.
// When every endpoint is unhealthy the first is forced back to healthy.
func (r *Router) next() *endpoint {
	n := len(r.endpoints)
	now := time.Now()
	for i := 0; i < n; i++ {
		idx := int(r.cursor.Add(1)-1) % n
		ep := r.endpoints[idx]
		if ep.selectable(now) {
			return ep
		}
	}

	// All endpoints unhealthy: force the first one back rather than
	// refusing every call until a cooldown elapses.
	first := r.endpoints[0]
	first.forceHealthy()
	r.logger.Warn("all endpoints unhealthy, forcing first back into rotation",
		zap.String("url", first.url))
	return first
}

// post performs a single upstream HTTP POST and decodes the response.
func (r *Router) post(ctx context.Context, url string, body []byte) (*jsonrpc.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("upstream returned status %d", httpResp.StatusCode)
	}

	var resp jsonrpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return &resp, nil
}

// Snapshot returns the current health records of all endpoints.
func (r *Router) Snapshot() []EndpointHealth {
	out := make([]EndpointHealth, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep.snapshot())
	}
	return out
}
