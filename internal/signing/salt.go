package signing

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// NewSalt returns 8 random bytes left-padded to a 32 byte word
func NewSalt() (*big.Int, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return new(big.Int).SetBytes(b[:]), nil
}
