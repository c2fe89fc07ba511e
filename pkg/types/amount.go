package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// BasisPoints is the denominator of every rate field
const BasisPoints = 10_000

var (
	// MaxUint256 is 2^256 - 1, the allowance granted by approval actions
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	basisPoints = big.NewInt(BasisPoints)

	// ErrInvalidAmount is returned for inputs that are not unsigned 256-bit integers
	ErrInvalidAmount = errors.New("invalid amount")
)

// ParseAmount parses a decimal or 0x-prefixed hexadecimal unsigned integer.
// Signs, fractions, separators and other bases are rejected rather than
// coerced, so "010" is ten.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	digits, base := s, 10
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		digits, base = s[2:], 16
	}
	if digits == "" || !isDigits(digits, base) {
		return nil, fmt.Errorf("%w: %q is not an unsigned base-10 or 0x-prefixed integer", ErrInvalidAmount, s)
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := CheckAmount(v); err != nil {
		return nil, err
	}
	return v, nil
}

func isDigits(s string, base int) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case base == 16 && (c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'):
		default:
			return false
		}
	}
	return true
}

// CheckAmount verifies v is set, non-negative and fits in 256 bits
func CheckAmount(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: missing", ErrInvalidAmount)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, v)
	}
	if v.BitLen() > 256 {
		return fmt.Errorf("%w: %s overflows uint256", ErrInvalidAmount, v)
	}
	return nil
}

// MarketFee is amount * rate / 10000
func MarketFee(amount, rate *big.Int) *big.Int {
	fee := new(big.Int).Mul(bigOrZero(amount), bigOrZero(rate))
	return fee.Quo(fee, basisPoints)
}

// NetMarketAmount is what the seller receives after the market fee
func NetMarketAmount(amount, rate *big.Int) *big.Int {
	return new(big.Int).Sub(bigOrZero(amount), MarketFee(amount, rate))
}
