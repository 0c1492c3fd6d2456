package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/ethtx"
	"github.com/gasline/gasline/pkg/jsonrpc"
)

// stubUpstream answers eth_gasPrice and eth_estimateGas with scripted
// results or failures.
type stubUpstream struct {
	gasPrice        string
	gasPriceErr     error
	estimateResult  string
	estimateFailure bool
}

func (u *stubUpstream) CallMethod(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	switch method {
	case "eth_gasPrice":
		if u.gasPriceErr != nil {
			return nil, u.gasPriceErr
		}
		return response(u.gasPrice), nil
	case "eth_estimateGas":
		if u.estimateFailure {
			return &jsonrpc.Response{
				JSONRPC: "2.0",
				Error:   jsonrpc.NewError(jsonrpc.InternalError, "insufficient funds for gas * price + value", nil),
			}, nil
		}
		return response(u.estimateResult), nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func response(result string) *jsonrpc.Response {
	raw, _ := json.Marshal(result)
	return &jsonrpc.Response{JSONRPC: "2.0", Result: raw}
}

type fixedPrice float64

func (p fixedPrice) Price(ctx context.Context) (float64, bool) { return float64(p), true }

func nativeTransfer() *ethtx.Skeleton {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	return &ethtx.Skeleton{To: &to}
}

// ========== StaticLimit ==========

func TestStaticLimit(t *testing.T) {
	tests := []struct {
		kind ethtx.Kind
		want uint64
	}{
		{ethtx.KindNativeTransfer, 21000},
		{ethtx.KindTokenTransfer, 65000},
		{ethtx.KindTokenApprove, 46000},
		{ethtx.KindSwap, 200000},
		{ethtx.KindOther, 100000},
		{ethtx.KindRawUndecoded, 100000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StaticLimit(tt.kind), string(tt.kind))
	}
}

// ========== Estimate ==========

func TestEstimator_Estimate(t *testing.T) {
	upstream := &stubUpstream{
		gasPrice:       "0x3b9aca00", // 1 gwei
		estimateResult: "0x5208",     // 21000
	}
	e := NewEstimator(upstream, fixedPrice(2000.0), zap.NewNop())

	est, err := e.Estimate(context.Background(), nativeTransfer())
	require.NoError(t, err)

	assert.Equal(t, uint64(21000), est.GasLimit)
	assert.True(t, est.Estimated)
	assert.Equal(t, "21000000000000", est.TotalCostWei.String())
	assert.InDelta(t, 0.000021, est.TotalCostNative, 1e-12)
	require.NotNil(t, est.TotalCostUSD)
	assert.InDelta(t, 0.042, *est.TotalCostUSD, 1e-9)
}

func TestEstimator_EstimateFallsBackToStaticLimit(t *testing.T) {
	// Upstream rejects the estimate (underfunded sender): the static
	// per-kind limit is used so the balance check can still run.
	upstream := &stubUpstream{
		gasPrice:        "0x3b9aca00",
		estimateFailure: true,
	}
	e := NewEstimator(upstream, nil, zap.NewNop())

	est, err := e.Estimate(context.Background(), nativeTransfer())
	require.NoError(t, err)

	assert.Equal(t, uint64(21000), est.GasLimit)
	assert.False(t, est.Estimated)
	assert.Nil(t, est.TotalCostUSD)
}

func TestEstimator_EstimateFailsWithoutGasPrice(t *testing.T) {
	upstream := &stubUpstream{gasPriceErr: fmt.Errorf("upstream down")}
	e := NewEstimator(upstream, nil, zap.NewNop())

	_, err := e.Estimate(context.Background(), nativeTransfer())
	require.Error(t, err)
}

// ========== Fallback ==========

func TestEstimator_FallbackUsesLastKnownGasPrice(t *testing.T) {
	upstream := &stubUpstream{
		gasPrice:       "0x3b9aca00",
		estimateResult: "0x5208",
	}
	e := NewEstimator(upstream, nil, zap.NewNop())

	// A successful estimate retains the gas price.
	_, err := e.Estimate(context.Background(), nativeTransfer())
	require.NoError(t, err)

	// Upstream goes away: fallback still produces a usable estimate.
	upstream.gasPriceErr = fmt.Errorf("upstream down")
	_, err = e.Estimate(context.Background(), nativeTransfer())
	require.Error(t, err)

	est, err := e.Fallback(context.Background(), nativeTransfer())
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), est.GasLimit)
	assert.False(t, est.Estimated)
	assert.Equal(t, "21000000000000", est.TotalCostWei.String())
}

func TestEstimator_FallbackWithoutHistory(t *testing.T) {
	upstream := &stubUpstream{gasPriceErr: fmt.Errorf("upstream down")}
	e := NewEstimator(upstream, nil, zap.NewNop())

	_, err := e.Fallback(context.Background(), nativeTransfer())
	require.Error(t, err)
}

// ========== EstimateGasLimit ==========

func TestEstimator_EstimateGasLimit(t *testing.T) {
	upstream := &stubUpstream{estimateResult: "0xc350"}
	e := NewEstimator(upstream, nil, zap.NewNop())

	limit, estimated := e.EstimateGasLimit(context.Background(), nativeTransfer())
	assert.True(t, estimated)
	assert.Equal(t, uint64(50000), limit)
}

func TestEstimator_EstimateGasLimitStaticDefault(t *testing.T) {
	upstream := &stubUpstream{estimateFailure: true}
	e := NewEstimator(upstream, nil, zap.NewNop())

	s := &ethtx.Skeleton{Data: []byte{0x09, 0x5e, 0xa7, 0xb3}}
	limit, estimated := e.EstimateGasLimit(context.Background(), s)
	assert.False(t, estimated)
	assert.Equal(t, uint64(46000), limit)
}

// ========== WeiToNative ==========

func TestWeiToNative(t *testing.T) {
	one, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	assert.InDelta(t, 1.0, WeiToNative(one), 1e-12)
	assert.Equal(t, 0.0, WeiToNative(nil))
}
