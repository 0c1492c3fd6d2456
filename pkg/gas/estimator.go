package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/ethtx"
	"github.com/gasline/gasline/pkg/jsonrpc"
)

// Static per-kind gas limits, substituted when upstream estimation fails.
// Estimation against an underfunded account routinely reverts upstream,
// which must not block the decision pipeline.
const (
	LimitNativeTransfer uint64 = 21000
	LimitTokenTransfer  uint64 = 65000
	LimitTokenApprove   uint64 = 46000
	LimitSwap           uint64 = 200000
	LimitDefault        uint64 = 100000
)

// StaticLimit returns the fallback gas limit for a transaction kind.
func StaticLimit(kind ethtx.Kind) uint64 {
	switch kind {
	case ethtx.KindNativeTransfer:
		return LimitNativeTransfer
	case ethtx.KindTokenTransfer:
		return LimitTokenTransfer
	case ethtx.KindTokenApprove:
		return LimitTokenApprove
	case ethtx.KindSwap:
		return LimitSwap
	default:
		return LimitDefault
	}
}

// Estimate is the computed cost of a transaction. Immutable once attached
// to a held transaction: the original estimate governs sufficiency checks
// for the lifetime of the hold.
type Estimate struct {
	GasPrice        *big.Int
	GasLimit        uint64
	TotalCostWei    *big.Int
	TotalCostNative float64
	TotalCostUSD    *float64 // nil when the reference price is unavailable
	Estimated       bool     // false when the static fallback limit was used
}

// Forwarder issues internally generated upstream calls.
type Forwarder interface {
	CallMethod(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error)
}

// PriceSource provides the cached native-token reference price.
type PriceSource interface {
	Price(ctx context.Context) (float64, bool)
}

// Estimator computes gas cost estimates for inbound transactions.
type Estimator struct {
	upstream Forwarder
	prices   PriceSource
	logger   *zap.Logger

	// lastGasPrice is retained for the synthesized fallback estimate used
	// when a fresh gas price cannot be fetched.
	lastGasPrice atomic.Pointer[big.Int]
}

// NewEstimator creates a gas estimator
func NewEstimator(upstream Forwarder, prices PriceSource, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		upstream: upstream,
		prices:   prices,
		logger:   logger.Named("gas"),
	}
}

// Estimate computes the gas cost of a transaction skeleton. The gas-limit
// estimation upstream call may fail (static fallback applies); only a
// failing eth_gasPrice call makes the whole estimate fail.
func (e *Estimator) Estimate(ctx context.Context, s *ethtx.Skeleton) (*Estimate, error) {
	gasPrice, err := e.fetchGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	kind := ethtx.Classify(s)
	gasLimit, estimated := e.fetchGasLimit(ctx, s, kind)

	return e.build(ctx, gasPrice, gasLimit, estimated), nil
}

// Fallback synthesizes an estimate from the static per-kind limit and the
// last-known gas price, so a balance check can still run after a failed
// Estimate. Returns an error only when no gas price has ever been seen.
func (e *Estimator) Fallback(ctx context.Context, s *ethtx.Skeleton) (*Estimate, error) {
	gasPrice := e.lastGasPrice.Load()
	if gasPrice == nil {
		return nil, fmt.Errorf("no known gas price for fallback estimate")
	}
	kind := ethtx.Classify(s)
	return e.build(ctx, gasPrice, StaticLimit(kind), false), nil
}

// EstimateGasLimit answers a client-facing eth_estimateGas: forward
// upstream, and on failure return the static per-kind default so wallet
// UIs keep working while the account is underfunded.
func (e *Estimator) EstimateGasLimit(ctx context.Context, s *ethtx.Skeleton) (uint64, bool) {
	kind := ethtx.Classify(s)
	return e.fetchGasLimit(ctx, s, kind)
}

func (e *Estimator) build(ctx context.Context, gasPrice *big.Int, gasLimit uint64, estimated bool) *Estimate {
	totalWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	totalNative := WeiToNative(totalWei)

	est := &Estimate{
		GasPrice:        gasPrice,
		GasLimit:        gasLimit,
		TotalCostWei:    totalWei,
		TotalCostNative: totalNative,
		Estimated:       estimated,
	}

	if e.prices != nil {
		if price, ok := e.prices.Price(ctx); ok {
			usd := totalNative * price
			est.TotalCostUSD = &usd
		} else {
			e.logger.Debug("reference price unavailable, USD cost omitted")
		}
	}
	return est
}

// fetchGasPrice fetches the current gas price and retains it for fallback use.
func (e *Estimator) fetchGasPrice(ctx context.Context) (*big.Int, error) {
	resp, err := e.upstream.CallMethod(ctx, "eth_gasPrice", []interface{}{})
	if err != nil {
		return nil, fmt.Errorf("gas price fetch failed: %w", err)
	}
	hex, ok := resp.ResultString()
	if !ok {
		return nil, fmt.Errorf("gas price fetch failed: %s", respError(resp))
	}
	gasPrice, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid gas price %q: %w", hex, err)
	}
	e.lastGasPrice.Store(gasPrice)
	return gasPrice, nil
}

// fetchGasLimit attempts an upstream estimation, substituting the static
// per-kind limit on any failure. The second return reports whether the
// limit came from upstream.
func (e *Estimator) fetchGasLimit(ctx context.Context, s *ethtx.Skeleton, kind ethtx.Kind) (uint64, bool) {
	// Undecodable transactions have nothing to estimate against.
	if s != nil {
		resp, err := e.upstream.CallMethod(ctx, "eth_estimateGas", []interface{}{s.CallArgs()})
		if err == nil {
			if hex, ok := resp.ResultString(); ok {
				if limit, decErr := hexutil.DecodeUint64(hex); decErr == nil {
					return limit, true
				}
			}
		}
	}

	limit := StaticLimit(kind)
	e.logger.Debug("gas limit estimation failed, using static default",
		zap.String("kind", string(kind)),
		zap.Uint64("limit", limit),
	)
	return limit, false
}

// WeiToNative converts a wei amount to a native-unit float.
func WeiToNative(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, new(big.Float).SetInt(big.NewInt(params.Ether)))
	out, _ := f.Float64()
	return out
}

func respError(resp *jsonrpc.Response) string {
	if resp != nil && resp.Error != nil {
		return resp.Error.Message
	}
	return "empty result"
}
