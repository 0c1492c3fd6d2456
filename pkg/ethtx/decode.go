package ethtx

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodeRaw decodes a hex-encoded signed transaction into a Skeleton,
// recovering the sender from the signature. Supports legacy and typed
// (EIP-2718) envelopes.
func DecodeRaw(rawHex string) (*Skeleton, error) {
	data, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, fmt.Errorf("invalid raw transaction hex: %w", err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode raw transaction: %w", err)
	}

	s := &Skeleton{
		To:       tx.To(),
		Value:    tx.Value(),
		Data:     tx.Data(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Nonce:    tx.Nonce(),
		ChainID:  tx.ChainId(),
	}
	hash := tx.Hash()
	s.Hash = &hash

	// Sender recovery needs a signer matching the transaction's chain id.
	chainID := tx.ChainId()
	if chainID == nil {
		chainID = new(big.Int)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}
	s.From = from
	s.HasFrom = true

	return s, nil
}
