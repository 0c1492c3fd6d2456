package holdings

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gasline/gasline/internal/constants"
	"github.com/gasline/gasline/pkg/ethtx"
	"github.com/gasline/gasline/pkg/gas"
	"github.com/gasline/gasline/pkg/jsonrpc"
)

// Config holds registry and poller configuration
type Config struct {
	// PollInterval is how often a held transaction re-checks balance.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RawPollInterval is the slower interval for decoded raw transactions.
	RawPollInterval time.Duration `yaml:"raw_poll_interval"`

	// FallbackHold is how long an undecodable raw transaction is held
	// before being force-released without a balance check.
	FallbackHold time.Duration `yaml:"fallback_hold"`

	// MaxHold bounds how long any transaction may stay held. Zero means
	// held transactions wait indefinitely for a sufficient balance.
	MaxHold time.Duration `yaml:"max_hold"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = constants.DefaultPollInterval
	}
	if c.RawPollInterval == 0 {
		c.RawPollInterval = constants.DefaultRawPollInterval
	}
	if c.FallbackHold == 0 {
		c.FallbackHold = constants.DefaultFallbackHold
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.FallbackHold <= 0 {
		return fmt.Errorf("fallback hold must be positive")
	}
	return nil
}

// Outcome is the terminal result delivered to a deferred HTTP response.
type Outcome struct {
	Response   *jsonrpc.Response
	HTTPStatus int
}

// ResponseHandle is a deferred reply slot for a held transaction,
// resolved exactly once by whichever path reaches a terminal state first.
type ResponseHandle struct {
	ch       chan Outcome
	resolved atomic.Bool
}

// NewResponseHandle creates an unresolved response handle
func NewResponseHandle() *ResponseHandle {
	return &ResponseHandle{ch: make(chan Outcome, 1)}
}

// Resolve delivers the outcome. Returns false if already resolved.
func (h *ResponseHandle) Resolve(resp *jsonrpc.Response, status int) bool {
	if !h.resolved.CompareAndSwap(false, true) {
		return false
	}
	if status == 0 {
		status = http.StatusOK
	}
	h.ch <- Outcome{Response: resp, HTTPStatus: status}
	return true
}

// Resolved reports whether the handle has been resolved.
func (h *ResponseHandle) Resolved() bool {
	return h.resolved.Load()
}

// Wait blocks until the handle is resolved or the context is done.
func (h *ResponseHandle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-h.ch:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Entry is a transaction held pending sufficient balance.
// Exclusively owned by the registry from acceptance until released or
// abandoned; only its own poll goroutine mutates it.
type Entry struct {
	ID       uint64
	Request  *jsonrpc.Request
	Estimate *gas.Estimate
	Skeleton *ethtx.Skeleton // nil when raw decoding failed

	Sender      common.Address
	SenderKnown bool
	Kind        ethtx.Kind
	Raw         bool
	Watched     bool
	CreatedAt   time.Time

	pollCount atomic.Int64
	handle    *ResponseHandle
}

// Handle returns the entry's deferred response handle.
func (e *Entry) Handle() *ResponseHandle {
	return e.handle
}

// PollCount returns how many balance polls the entry has performed.
func (e *Entry) PollCount() int64 {
	return e.pollCount.Load()
}

// RequiredWei is the release condition: estimated gas cost plus value.
func (e *Entry) RequiredWei() *big.Int {
	required := new(big.Int).Set(e.Estimate.TotalCostWei)
	if e.Skeleton != nil {
		required.Add(required, e.Skeleton.ValueWei())
	}
	return required
}

// HeldTransaction is the /status snapshot of a held entry.
type HeldTransaction struct {
	ID          uint64    `json:"id"`
	Kind        string    `json:"type"`
	From        string    `json:"from"`
	To          string    `json:"to,omitempty"`
	GasRequired float64   `json:"gasRequired"`
	USDCost     *float64  `json:"usdCost,omitempty"`
	RequiredWei string    `json:"requiredWei"`
	Timestamp   time.Time `json:"timestamp"`
	PollCount   int64     `json:"pollCount"`
	HeldForMs   int64     `json:"heldForMs"`
}
