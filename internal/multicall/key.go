package multicall

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/pkg/types"
)

// Ref identifies what a call is about within its target contract. Each
// constructor fills only the fields its fact depends on, so two offers that
// need the same fact produce equal refs and share one call.
type Ref struct {
	Maker      common.Address
	Salt       common.Hash
	Identifier common.Hash
	OfferHash  common.Hash
	Collateral types.CollateralID
}

// MakerRef keys per-account facts: currency balance and allowance, operator
// approval and nonce
func MakerRef(maker common.Address) Ref {
	return Ref{Maker: maker}
}

// SaltRef keys the cancellation flag of (maker, salt)
func SaltRef(maker common.Address, salt *big.Int) Ref {
	return Ref{Maker: maker, Salt: word(salt)}
}

// IdentifierRef keys the ERC-721 owner of a token
func IdentifierRef(identifier *big.Int) Ref {
	return Ref{Identifier: word(identifier)}
}

// HolderRef keys the ERC-1155 balance of maker for a token id
func HolderRef(maker common.Address, identifier *big.Int) Ref {
	return Ref{Maker: maker, Identifier: word(identifier)}
}

// OfferRef keys the amount already taken from a loan offer
func OfferRef(hash common.Hash) Ref {
	return Ref{OfferHash: hash}
}

// CollateralRef keys the current debt of the lien holding an item
func CollateralRef(id types.CollateralID) Ref {
	return Ref{Collateral: id}
}

// CallKey is the unique identity of one read in a batch
type CallKey struct {
	Target common.Address
	Method string
	Ref    Ref
}

func word(v *big.Int) common.Hash {
	if v == nil {
		return common.Hash{}
	}
	return common.BigToHash(v)
}
