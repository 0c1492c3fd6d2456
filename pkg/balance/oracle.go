package balance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/jsonrpc"
)

// SpoofedWeiHex is the placeholder balance returned to wallet UIs:
// 1 native unit in wei. A UX affordance, never consulted by
// sufficiency checks.
const SpoofedWeiHex = "0x0de0b6b3a7640000"

// SpoofedWei returns the spoofed balance as a big integer.
func SpoofedWei() *big.Int {
	v, _ := hexutil.DecodeBig(SpoofedWeiHex)
	return v
}

// Forwarder issues internally generated upstream calls.
type Forwarder interface {
	CallMethodWithOrigin(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, string, error)
}

// Oracle reads real on-chain balances through the upstream router.
// Sufficiency checks in the held-transaction poller always use this view,
// regardless of what the wallet UI was shown.
type Oracle struct {
	upstream Forwarder
	logger   *zap.Logger
}

// NewOracle creates a balance oracle
func NewOracle(upstream Forwarder, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		upstream: upstream,
		logger:   logger.Named("balance"),
	}
}

// RealBalance fetches the sender's actual latest balance from upstream.
func (o *Oracle) RealBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	value, _, err := o.RealBalanceWithOrigin(ctx, addr)
	return value, err
}

// RealBalanceWithOrigin is RealBalance plus the URL of the upstream
// endpoint that answered, which funding dispatch uses to infer the
// source chain.
func (o *Oracle) RealBalanceWithOrigin(ctx context.Context, addr common.Address) (*big.Int, string, error) {
	resp, origin, err := o.upstream.CallMethodWithOrigin(ctx, "eth_getBalance", []interface{}{addr.Hex(), "latest"})
	if err != nil {
		return nil, origin, fmt.Errorf("balance fetch failed: %w", err)
	}
	hex, ok := resp.ResultString()
	if !ok {
		if resp != nil && resp.Error != nil {
			return nil, origin, fmt.Errorf("balance fetch failed: %s", resp.Error.Message)
		}
		return nil, origin, fmt.Errorf("balance fetch returned empty result")
	}
	value, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, origin, fmt.Errorf("invalid balance %q: %w", hex, err)
	}
	return value, origin, nil
}

// HasEnough reports whether balance covers required (gas cost plus value).
func HasEnough(balance, required *big.Int) bool {
	if balance == nil {
		return false
	}
	return balance.Cmp(required) >= 0
}
