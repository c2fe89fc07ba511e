// Package signing builds the EIP-712 typed data of Kettle offers, derives
// their identity hashes and signs or verifies them.
package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/kettlefi/kettle/pkg/types"
)

var (
	// ErrNoSigner is returned when signing is requested without a bound signer
	ErrNoSigner = errors.New("no signer bound")

	// ErrRejected is returned by Signer implementations when the user declines
	// a signature or transaction request
	ErrRejected = errors.New("signature request rejected")
)

// Hasher derives typed data, hashes and signatures for one settlement
// contract deployment
type Hasher struct {
	chainID           *big.Int
	verifyingContract common.Address
}

// NewHasher creates a hasher for the contract at verifyingContract on chainID
func NewHasher(chainID *big.Int, verifyingContract common.Address) *Hasher {
	return &Hasher{
		chainID:           new(big.Int).Set(chainID),
		verifyingContract: verifyingContract,
	}
}

// ChainID returns the chain id of the signing domain
func (h *Hasher) ChainID() *big.Int { return new(big.Int).Set(h.chainID) }

// VerifyingContract returns the settlement contract of the signing domain
func (h *Hasher) VerifyingContract() common.Address { return h.verifyingContract }

// Domain returns the EIP-712 domain
func (h *Hasher) Domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(h.chainID)),
		VerifyingContract: h.verifyingContract.Hex(),
	}
}

// TypedData returns the full typed data document of an offer
func (h *Hasher) TypedData(offer types.Offer) (apitypes.TypedData, error) {
	typ, primary, message, err := schema(offer)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	return apitypes.TypedData{
		Types:       typ,
		PrimaryType: primary,
		Domain:      h.Domain(),
		Message:     message,
	}, nil
}

// Hash returns the struct hash of an offer. It does not depend on the domain
// and is the identity used for amount-taken lookups.
func (h *Hasher) Hash(offer types.Offer) (common.Hash, error) {
	td, err := h.TypedData(offer)
	if err != nil {
		return common.Hash{}, err
	}
	sum, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash %s: %w", td.PrimaryType, err)
	}
	return common.BytesToHash(sum), nil
}

// MessageToSign returns the domain-bound digest a maker signs
func (h *Hasher) MessageToSign(offer types.Offer) (common.Hash, error) {
	td, err := h.TypedData(offer)
	if err != nil {
		return common.Hash{}, err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// Payload returns the typed data document as JSON for external wallets
// (eth_signTypedData_v4)
func (h *Hasher) Payload(offer types.Offer) ([]byte, error) {
	td, err := h.TypedData(offer)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(td)
	if err != nil {
		return nil, fmt.Errorf("failed to encode typed data: %w", err)
	}
	return data, nil
}

// Sign produces the maker's signature over an offer
func (h *Hasher) Sign(ctx context.Context, offer types.Offer, signer Signer) ([]byte, error) {
	if signer == nil {
		return nil, ErrNoSigner
	}
	digest, err := h.MessageToSign(offer)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignDigest(ctx, digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign offer: %w", err)
	}
	return sig, nil
}

// RecoverAndCompare reports whether signature over offer was produced by
// maker. Any malformed input yields false.
func (h *Hasher) RecoverAndCompare(offer types.Offer, signature []byte, maker common.Address) bool {
	digest, err := h.MessageToSign(offer)
	if err != nil {
		return false
	}
	recovered, err := Recover(digest, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered.Hex(), maker.Hex())
}

// Recover returns the address that signed digest. Both {0,1} and {27,28}
// recovery ids are accepted.
func Recover(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", signature[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
