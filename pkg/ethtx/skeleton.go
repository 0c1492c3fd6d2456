package ethtx

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Skeleton is the normalized internal form of an inbound transaction.
// Both structured eth_sendTransaction objects and decoded raw transactions
// are reduced to this shape at ingestion, so downstream code never
// re-inspects the wire format.
type Skeleton struct {
	From     common.Address
	HasFrom  bool // false when raw decoding could not recover the sender
	To       *common.Address
	Value    *big.Int
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
	Nonce    uint64
	ChainID  *big.Int
	Hash     *common.Hash // derivable for signed raw transactions only
}

// callParams mirrors the JSON object form of eth_sendTransaction params[0].
type callParams struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Nonce    *hexutil.Uint64 `json:"nonce"`
}

// FromCallParams normalizes a structured transaction object.
func FromCallParams(raw json.RawMessage) (*Skeleton, error) {
	var params callParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid transaction object: %w", err)
	}

	s := &Skeleton{
		To:    params.To,
		Value: new(big.Int),
	}
	if params.From != nil {
		s.From = *params.From
		s.HasFrom = true
	}
	if params.Value != nil {
		s.Value = (*big.Int)(params.Value)
	}
	if params.Data != nil {
		s.Data = *params.Data
	} else if params.Input != nil {
		s.Data = *params.Input
	}
	if params.Gas != nil {
		s.Gas = uint64(*params.Gas)
	}
	if params.GasPrice != nil {
		s.GasPrice = (*big.Int)(params.GasPrice)
	}
	if params.Nonce != nil {
		s.Nonce = uint64(*params.Nonce)
	}
	return s, nil
}

// CallArgs returns the subset of fields used for upstream gas estimation.
func (s *Skeleton) CallArgs() map[string]interface{} {
	args := map[string]interface{}{
		"data":  hexutil.Encode(s.Data),
		"value": valueOrZero(s.Value),
	}
	if s.HasFrom {
		args["from"] = s.From.Hex()
	}
	if s.To != nil {
		args["to"] = s.To.Hex()
	}
	return args
}

// ValueWei returns the transferred value, never nil.
func (s *Skeleton) ValueWei() *big.Int {
	if s == nil || s.Value == nil {
		return new(big.Int)
	}
	return s.Value
}

func valueOrZero(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}
