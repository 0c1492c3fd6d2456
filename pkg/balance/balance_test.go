package balance

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

	"github.com/gasline/gasline/pkg/jsonrpc"
)

type stubForwarder struct {
	result string
	origin string
	err    error
}

func (f *stubForwarder) CallMethodWithOrigin(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	raw, _ := json.Marshal(f.result)
	return &jsonrpc.Response{JSONRPC: "2.0", Result: raw}, f.origin, nil
}

// ========== Spoofing classification ==========

func TestShouldSpoof(t *testing.T) {
	tests := []struct {
		method string
		params string
		want   bool
	}{
		{"eth_getBalance", `["0x1111111111111111111111111111111111111111","latest"]`, true},
		{"eth_accounts", `[]`, true},
		{"eth_requestAccounts", `[]`, true},
		{"wallet_getPermissions", `[]`, true},
		{"wallet_requestPermissions", `[]`, true},
		{"eth_getAccountSnapshot", `[]`, true},
		{"eth_unsubscribe", `["0x1"]`, true},
		{"eth_subscribe", `["newHeads"]`, true},
		{"eth_subscribe", `["logs"]`, false},
		{"eth_subscribe", `[]`, false},
		{"eth_blockNumber", `[]`, false},
		{"eth_sendTransaction", `[{}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.params, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSpoof(tt.method, json.RawMessage(tt.params)))
		})
	}
}

func TestClassify_HeaderOverride(t *testing.T) {
	params := json.RawMessage(`["0x1111111111111111111111111111111111111111","latest"]`)

	assert.Equal(t, ViewSpoof, Classify("eth_getBalance", params, ""))
	assert.Equal(t, ViewSpoof, Classify("eth_getBalance", params, "spoof"))
	assert.Equal(t, ViewReal, Classify("eth_getBalance", params, "real"))
	assert.Equal(t, ViewReal, Classify("eth_blockNumber", nil, ""))
}

// ========== Spoofed value ==========

func TestSpoofedWei(t *testing.T) {
	one, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, 0, SpoofedWei().Cmp(one))
}

// ========== Oracle ==========

func TestOracle_RealBalance(t *testing.T) {
	fwd := &stubForwarder{result: "0x0de0b6b3a7640000", origin: "http://rpc-a"}
	oracle := NewOracle(fwd, zap.NewNop())

	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	value, origin, err := oracle.RealBalanceWithOrigin(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "http://rpc-a", origin)
	assert.Equal(t, 0, value.Cmp(SpoofedWei()))
}

func TestOracle_RealBalanceErrors(t *testing.T) {
	oracle := NewOracle(&stubForwarder{err: fmt.Errorf("upstream down")}, zap.NewNop())
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := oracle.RealBalance(context.Background(), addr)
	require.Error(t, err)

	oracle = NewOracle(&stubForwarder{result: "not-hex"}, zap.NewNop())
	_, err = oracle.RealBalance(context.Background(), addr)
	require.Error(t, err)
}

// ========== HasEnough ==========

func TestHasEnough(t *testing.T) {
	assert.True(t, HasEnough(big.NewInt(100), big.NewInt(100)))
	assert.True(t, HasEnough(big.NewInt(101), big.NewInt(100)))
	assert.False(t, HasEnough(big.NewInt(99), big.NewInt(100)))
	assert.False(t, HasEnough(nil, big.NewInt(1)))
}
