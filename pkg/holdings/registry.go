package holdings

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/balance"
	"github.com/gasline/gasline/pkg/ethtx"
	"github.com/gasline/gasline/pkg/gas"
	"github.com/gasline/gasline/pkg/jsonrpc"
)

// Forwarder forwards a held transaction's original payload upstream.
type Forwarder interface {
	Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// BalanceSource reads real on-chain balances.
type BalanceSource interface {
	RealBalance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Registry tracks transactions held pending sufficient balance and runs
// one poll goroutine per entry. Ids are monotonic and never reused; every
// entry leaves the registry exactly once, through release or abandonment.
type Registry struct {
	cfg      *Config
	upstream Forwarder
	balances BalanceSource
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[uint64]*Entry
	nextID  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HoldRequest carries everything needed to register a held transaction.
type HoldRequest struct {
	Request  *jsonrpc.Request
	Estimate *gas.Estimate
	Skeleton *ethtx.Skeleton // nil when raw decoding failed
	Raw      bool
	Watched  bool
}

// NewRegistry creates a held-transaction registry
func NewRegistry(cfg *Config, upstream Forwarder, balances BalanceSource, logger *zap.Logger) (*Registry, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid holdings config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		upstream: upstream,
		balances: balances,
		logger:   logger.Named("holdings"),
		entries:  make(map[uint64]*Entry),
	}, nil
}

// Start prepares the registry to accept holds.
func (r *Registry) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.logger.Info("held-transaction registry started",
		zap.Duration("pollInterval", r.cfg.PollInterval),
		zap.Duration("fallbackHold", r.cfg.FallbackHold),
		zap.Duration("maxHold", r.cfg.MaxHold),
	)
}

// Stop cancels all pollers and waits for them to exit.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("held-transaction registry stopped")
}

// Hold registers a transaction and starts its poller. The caller must
// wait on the returned entry's handle for the deferred response.
func (r *Registry) Hold(hold HoldRequest) *Entry {
	entry := &Entry{
		ID:        r.nextID.Add(1),
		Request:   hold.Request,
		Estimate:  hold.Estimate,
		Skeleton:  hold.Skeleton,
		Raw:       hold.Raw,
		Watched:   hold.Watched,
		CreatedAt: time.Now(),
		handle:    NewResponseHandle(),
	}
	if hold.Skeleton != nil {
		entry.Kind = ethtx.Classify(hold.Skeleton)
		entry.Sender = hold.Skeleton.From
		entry.SenderKnown = hold.Skeleton.HasFrom
	} else {
		entry.Kind = ethtx.KindRawUndecoded
	}

	r.mu.Lock()
	r.entries[entry.ID] = entry
	total := len(r.entries)
	r.mu.Unlock()

	heldGauge.Set(float64(total))
	r.logger.Info("transaction held",
		zap.Uint64("id", entry.ID),
		zap.String("kind", string(entry.Kind)),
		zap.String("from", senderLabel(entry)),
		zap.Bool("raw", entry.Raw),
		zap.Bool("watched", entry.Watched),
		zap.Float64("gasRequired", entry.Estimate.TotalCostNative),
		zap.Int("totalHeld", total),
	)

	r.wg.Add(1)
	go r.run(entry)

	return entry
}

// run drives a single entry to a terminal state. Panics are contained so
// one failing poller cannot take down the others.
func (r *Registry) run(entry *Entry) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("poller panic",
				zap.Uint64("id", entry.ID),
				zap.Any("panic", rec),
			)
			r.abandon(entry, jsonrpc.NewError(jsonrpc.InternalError, "internal proxy failure", nil))
		}
	}()

	// Undecodable raw transactions cannot be balance-checked: hold for
	// the fixed fallback window, then force-release.
	if !entry.SenderKnown {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.cfg.FallbackHold):
		}
		r.logger.Info("force-releasing undecoded raw transaction",
			zap.Uint64("id", entry.ID),
			zap.Duration("heldFor", time.Since(entry.CreatedAt)),
		)
		r.release(entry)
		return
	}

	interval := r.cfg.PollInterval
	if entry.Raw {
		interval = r.cfg.RawPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		if r.cfg.MaxHold > 0 && time.Since(entry.CreatedAt) > r.cfg.MaxHold {
			r.logger.Warn("held transaction exceeded max hold duration",
				zap.Uint64("id", entry.ID),
				zap.Duration("maxHold", r.cfg.MaxHold),
			)
			r.abandon(entry, jsonrpc.NewError(jsonrpc.InternalError, "held transaction expired before balance became sufficient", nil))
			return
		}

		if r.poll(entry) {
			return
		}
	}
}

// poll performs one balance check. Returns true when the entry reached a
// terminal state. Errors are treated as "insufficient": polling never
// dies silently.
func (r *Registry) poll(entry *Entry) bool {
	count := entry.pollCount.Add(1)
	pollsTotal.Inc()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.PollInterval*10)
	defer cancel()

	bal, err := r.balances.RealBalance(ctx, entry.Sender)
	if err != nil {
		r.logger.Warn("balance poll failed, retrying",
			zap.Uint64("id", entry.ID),
			zap.Int64("poll", count),
			zap.Error(err),
		)
		return false
	}

	required := entry.RequiredWei()
	if !balance.HasEnough(bal, required) {
		r.logger.Debug("balance still insufficient",
			zap.Uint64("id", entry.ID),
			zap.Int64("poll", count),
			zap.String("balance", bal.String()),
			zap.String("required", required.String()),
		)
		return false
	}

	r.logger.Info("balance sufficient, releasing",
		zap.Uint64("id", entry.ID),
		zap.Int64("poll", count),
		zap.Bool("watched", entry.Watched),
	)
	r.release(entry)
	return true
}

// release removes the entry, forwards its original payload, and resolves
// the deferred response. Forwarding failure after release is the one
// error that reaches the original caller as an HTTP 500.
func (r *Registry) release(entry *Entry) {
	if !r.remove(entry.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	resp, err := r.upstream.Call(ctx, entry.Request)
	if err != nil {
		r.logger.Error("forward after release failed",
			zap.Uint64("id", entry.ID),
			zap.Error(err),
		)
		abandonedTotal.Inc()
		entry.handle.Resolve(
			jsonrpc.NewErrorResponse(entry.Request.ID,
				jsonrpc.NewError(jsonrpc.InternalError, fmt.Sprintf("transaction forwarding failed: %v", err), nil)),
			http.StatusInternalServerError,
		)
		return
	}

	releasedTotal.Inc()
	entry.handle.Resolve(resp, http.StatusOK)
	r.logger.Info("held transaction forwarded",
		zap.Uint64("id", entry.ID),
		zap.Duration("heldFor", time.Since(entry.CreatedAt)),
		zap.Int64("polls", entry.PollCount()),
	)
}

// abandon removes the entry and resolves its handle with an error.
func (r *Registry) abandon(entry *Entry, rpcErr *jsonrpc.Error) {
	if !r.remove(entry.ID) {
		return
	}
	abandonedTotal.Inc()
	entry.handle.Resolve(
		jsonrpc.NewErrorResponse(entry.Request.ID, rpcErr),
		http.StatusInternalServerError,
	)
}

// remove deletes the entry from the registry, reporting whether this call
// took it. The single point that enforces at-most-once terminal handling.
func (r *Registry) remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	heldGauge.Set(float64(len(r.entries)))
	return true
}

// Len returns the number of currently held transactions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns /status views of all held transactions, ordered by id.
func (r *Registry) Snapshot() []HeldTransaction {
	r.mu.RLock()
	out := make([]HeldTransaction, 0, len(r.entries))
	for _, entry := range r.entries {
		held := HeldTransaction{
			ID:          entry.ID,
			Kind:        string(entry.Kind),
			From:        senderLabel(entry),
			GasRequired: entry.Estimate.TotalCostNative,
			USDCost:     entry.Estimate.TotalCostUSD,
			RequiredWei: entry.RequiredWei().String(),
			Timestamp:   entry.CreatedAt,
			PollCount:   entry.PollCount(),
			HeldForMs:   time.Since(entry.CreatedAt).Milliseconds(),
		}
		if entry.Skeleton != nil && entry.Skeleton.To != nil {
			held.To = entry.Skeleton.To.Hex()
		}
		out = append(out, held)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func senderLabel(entry *Entry) string {
	if !entry.SenderKnown {
		return "UNKNOWN"
	}
	return entry.Sender.Hex()
}
