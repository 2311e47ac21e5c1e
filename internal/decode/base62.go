package decode

import (
	"fmt"
	"math/big"
	"strings"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Base62 decodes a base62-encoded cell identifier into an unbounded integer.
// Digits accumulate big-endian, most significant first.
func Base62(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty base62 input")
	}

	result := new(big.Int)
	base := big.NewInt(62)
	for _, c := range s {
		idx := strings.IndexRune(base62Alphabet, c)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base62 character %q", c)
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(int64(idx)))
	}
	return result, nil
}
