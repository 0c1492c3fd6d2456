package ethtx

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Kind classifies a transaction by the leading 4 bytes of its call data.
type Kind string

const (
	KindNativeTransfer Kind = "NATIVE_TRANSFER"
	KindTokenTransfer  Kind = "TOKEN_TRANSFER"
	KindTokenApprove   Kind = "TOKEN_APPROVE"
	KindSwap           Kind = "SWAP"
	KindRawUndecoded   Kind = "RAW_UNDECODED"
	KindOther          Kind = "OTHER"
)

// Well-known 4-byte function selectors.
var (
	selectorTransfer     = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	selectorApprove      = []byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
	selectorTransferFrom = []byte{0x23, 0xb8, 0x72, 0xdd} // transferFrom(address,address,uint256)

	swapSelectors = [][]byte{
		{0x38, 0xed, 0x17, 0x39}, // swapExactTokensForTokens
		{0x7f, 0xf3, 0x6a, 0xb5}, // swapExactETHForTokens
		{0x18, 0xcb, 0xaf, 0xe5}, // swapExactTokensForETH
	}
)

// Classify returns the transaction kind for a skeleton.
func Classify(s *Skeleton) Kind {
	if s == nil {
		return KindRawUndecoded
	}
	if len(s.Data) == 0 {
		return KindNativeTransfer
	}
	if len(s.Data) < 4 {
		return KindOther
	}

	sel := s.Data[:4]
	switch {
	case bytes.Equal(sel, selectorTransfer), bytes.Equal(sel, selectorTransferFrom):
		return KindTokenTransfer
	case bytes.Equal(sel, selectorApprove):
		return KindTokenApprove
	}
	for _, swap := range swapSelectors {
		if bytes.Equal(sel, swap) {
			return KindSwap
		}
	}
	return KindOther
}

// ApprovalTarget identifies a privileged token approval: an approve call
// on a specific token contract authorizing a specific spender.
type ApprovalTarget struct {
	Token   common.Address `yaml:"token"`
	Spender common.Address `yaml:"spender"`
}

// UnmarshalYAML decodes the addresses from their hex string form.
func (t *ApprovalTarget) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Token   string `yaml:"token"`
		Spender string `yaml:"spender"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if !common.IsHexAddress(raw.Token) {
		return fmt.Errorf("invalid token address %q", raw.Token)
	}
	if !common.IsHexAddress(raw.Spender) {
		return fmt.Errorf("invalid spender address %q", raw.Spender)
	}
	t.Token = common.HexToAddress(raw.Token)
	t.Spender = common.HexToAddress(raw.Spender)
	return nil
}

// approveSpender extracts the spender argument from approve calldata.
// Layout: 4-byte selector, then the spender as a left-padded 32-byte word.
func approveSpender(data []byte) (common.Address, bool) {
	if len(data) < 4+32 {
		return common.Address{}, false
	}
	return common.BytesToAddress(data[4+12 : 4+32]), true
}

// MatchesApproval reports whether the skeleton is an approve call to the
// target's token contract authorizing the target's spender.
func MatchesApproval(s *Skeleton, target ApprovalTarget) bool {
	if s == nil || s.To == nil || len(s.Data) < 4 {
		return false
	}
	if !bytes.Equal(s.Data[:4], selectorApprove) {
		return false
	}
	if *s.To != target.Token {
		return false
	}
	spender, ok := approveSpender(s.Data)
	return ok && spender == target.Spender
}

// IsWatchedApproval reports whether the skeleton matches any configured
// approval target.
func IsWatchedApproval(s *Skeleton, targets []ApprovalTarget) bool {
	for _, target := range targets {
		if MatchesApproval(s, target) {
			return true
		}
	}
	return false
}
