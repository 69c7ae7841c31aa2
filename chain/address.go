package chain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAddress is returned for strings that are not 0x-prefixed 20-byte hex.
var ErrInvalidAddress = errors.New("invalid address")

// ParseAddress accepts only "0x" followed by 40 hex characters.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || len(s) != 42 || !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// IsAddress reports whether ParseAddress would accept s.
func IsAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// IsZeroHandle reports whether a ciphertext handle is unset. The token
// contracts return the zero handle for accounts that never received a balance.
func IsZeroHandle(h common.Hash) bool {
	return h == (common.Hash{})
}
