package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/pkg/types"
)

// ABI tuple mirrors. Field order follows the contract structs and field
// names follow the ABI component names, which the packer relies on.

type collateralTuple struct {
	Collection common.Address
	Criteria   uint8
	ItemType   uint8
	Identifier *big.Int
	Size       *big.Int
}

type feeTuple struct {
	Recipient common.Address
	Rate      *big.Int
}

type loanTermsTuple struct {
	Currency    common.Address
	TotalAmount *big.Int
	MaxAmount   *big.Int
	MinAmount   *big.Int
	Rate        *big.Int
	DefaultRate *big.Int
	Duration    *big.Int
	GracePeriod *big.Int
}

type loanOfferTuple struct {
	Lender     common.Address
	Collateral collateralTuple
	Terms      loanTermsTuple
	Fee        feeTuple
	Expiration *big.Int
	Salt       *big.Int
	Nonce      *big.Int
}

type borrowTermsTuple struct {
	Currency    common.Address
	Amount      *big.Int
	Rate        *big.Int
	DefaultRate *big.Int
	Duration    *big.Int
	GracePeriod *big.Int
}

type borrowOfferTuple struct {
	Borrower   common.Address
	Collateral collateralTuple
	Terms      borrowTermsTuple
	Fee        feeTuple
	Expiration *big.Int
	Salt       *big.Int
	Nonce      *big.Int
}

type marketTermsTuple struct {
	Currency      common.Address
	Amount        *big.Int
	WithLoan      bool
	BorrowAmount  *big.Int
	LoanOfferHash [32]byte
}

type marketOfferTuple struct {
	Side       uint8
	Maker      common.Address
	Collateral collateralTuple
	Terms      marketTermsTuple
	Fee        feeTuple
	Expiration *big.Int
	Salt       *big.Int
	Nonce      *big.Int
}

type lienTuple struct {
	Recipient   common.Address
	Lender      common.Address
	Borrower    common.Address
	Currency    common.Address
	Collection  common.Address
	ItemType    uint8
	TokenID     *big.Int `abi:"tokenId"`
	Size        *big.Int
	Principal   *big.Int
	Rate        *big.Int
	DefaultRate *big.Int
	Fee         *big.Int
	Duration    *big.Int
	GracePeriod *big.Int
	StartTime   *big.Int
}

// MulticallCall is one entry of a Multicall3 tryAggregate request
type MulticallCall struct {
	Target   common.Address
	CallData []byte
}

// MulticallResult is one entry of a Multicall3 tryAggregate response
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

func num(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func toCollateralTuple(c types.Collateral) collateralTuple {
	return collateralTuple{
		Collection: c.Collection,
		Criteria:   uint8(c.Criteria),
		ItemType:   uint8(c.ItemType),
		Identifier: num(c.Identifier),
		Size:       num(c.Size),
	}
}

func fromCollateralTuple(t collateralTuple) types.Collateral {
	return types.Collateral{
		Collection: t.Collection,
		Criteria:   types.Criteria(t.Criteria),
		ItemType:   types.ItemType(t.ItemType),
		Identifier: t.Identifier,
		Size:       t.Size,
	}
}

func toFeeTuple(f types.FeeTerms) feeTuple {
	return feeTuple{Recipient: f.Recipient, Rate: num(f.Rate)}
}

func fromFeeTuple(t feeTuple) types.FeeTerms {
	return types.FeeTerms{Recipient: t.Recipient, Rate: t.Rate}
}

func toLoanOfferTuple(o *types.LoanOffer) loanOfferTuple {
	return loanOfferTuple{
		Lender:     o.Lender,
		Collateral: toCollateralTuple(o.Collateral),
		Terms: loanTermsTuple{
			Currency:    o.Terms.Currency,
			TotalAmount: num(o.Terms.TotalAmount),
			MaxAmount:   num(o.Terms.MaxAmount),
			MinAmount:   num(o.Terms.MinAmount),
			Rate:        num(o.Terms.Rate),
			DefaultRate: num(o.Terms.DefaultRate),
			Duration:    num(o.Terms.Duration),
			GracePeriod: num(o.Terms.GracePeriod),
		},
		Fee:        toFeeTuple(o.Fee),
		Expiration: num(o.Expiration),
		Salt:       num(o.Salt),
		Nonce:      num(o.Nonce),
	}
}

func fromLoanOfferTuple(t loanOfferTuple) *types.LoanOffer {
	return &types.LoanOffer{
		Lender:     t.Lender,
		Collateral: fromCollateralTuple(t.Collateral),
		Terms: types.LoanOfferTerms{
			Currency:    t.Terms.Currency,
			TotalAmount: t.Terms.TotalAmount,
			MaxAmount:   t.Terms.MaxAmount,
			MinAmount:   t.Terms.MinAmount,
			Rate:        t.Terms.Rate,
			DefaultRate: t.Terms.DefaultRate,
			Duration:    t.Terms.Duration,
			GracePeriod: t.Terms.GracePeriod,
		},
		Fee:        fromFeeTuple(t.Fee),
		Expiration: t.Expiration,
		Salt:       t.Salt,
		Nonce:      t.Nonce,
	}
}

func toBorrowOfferTuple(o *types.BorrowOffer) borrowOfferTuple {
	return borrowOfferTuple{
		Borrower:   o.Borrower,
		Collateral: toCollateralTuple(o.Collateral),
		Terms: borrowTermsTuple{
			Currency:    o.Terms.Currency,
			Amount:      num(o.Terms.Amount),
			Rate:        num(o.Terms.Rate),
			DefaultRate: num(o.Terms.DefaultRate),
			Duration:    num(o.Terms.Duration),
			GracePeriod: num(o.Terms.GracePeriod),
		},
		Fee:        toFeeTuple(o.Fee),
		Expiration: num(o.Expiration),
		Salt:       num(o.Salt),
		Nonce:      num(o.Nonce),
	}
}

func fromBorrowOfferTuple(t borrowOfferTuple) *types.BorrowOffer {
	return &types.BorrowOffer{
		Borrower:   t.Borrower,
		Collateral: fromCollateralTuple(t.Collateral),
		Terms: types.BorrowOfferTerms{
			Currency:    t.Terms.Currency,
			Amount:      t.Terms.Amount,
			Rate:        t.Terms.Rate,
			DefaultRate: t.Terms.DefaultRate,
			Duration:    t.Terms.Duration,
			GracePeriod: t.Terms.GracePeriod,
		},
		Fee:        fromFeeTuple(t.Fee),
		Expiration: t.Expiration,
		Salt:       t.Salt,
		Nonce:      t.Nonce,
	}
}

func toMarketOfferTuple(o *types.MarketOffer) marketOfferTuple {
	return marketOfferTuple{
		Side:       uint8(o.Side),
		Maker:      o.Maker,
		Collateral: toCollateralTuple(o.Collateral),
		Terms: marketTermsTuple{
			Currency:      o.Terms.Currency,
			Amount:        num(o.Terms.Amount),
			WithLoan:      o.Terms.WithLoan,
			BorrowAmount:  num(o.Terms.BorrowAmount),
			LoanOfferHash: o.Terms.LoanOfferHash,
		},
		Fee:        toFeeTuple(o.Fee),
		Expiration: num(o.Expiration),
		Salt:       num(o.Salt),
		Nonce:      num(o.Nonce),
	}
}

func fromMarketOfferTuple(t marketOfferTuple) *types.MarketOffer {
	return &types.MarketOffer{
		Side:       types.Side(t.Side),
		Maker:      t.Maker,
		Collateral: fromCollateralTuple(t.Collateral),
		Terms: types.MarketOfferTerms{
			Currency:      t.Terms.Currency,
			Amount:        t.Terms.Amount,
			WithLoan:      t.Terms.WithLoan,
			BorrowAmount:  t.Terms.BorrowAmount,
			LoanOfferHash: t.Terms.LoanOfferHash,
		},
		Fee:        fromFeeTuple(t.Fee),
		Expiration: t.Expiration,
		Salt:       t.Salt,
		Nonce:      t.Nonce,
	}
}

func toLienTuple(l *types.Lien) lienTuple {
	return lienTuple{
		Recipient:   l.Recipient,
		Lender:      l.Lender,
		Borrower:    l.Borrower,
		Currency:    l.Currency,
		Collection:  l.Collection,
		ItemType:    uint8(l.ItemType),
		TokenID:     num(l.TokenID),
		Size:        num(l.Size),
		Principal:   num(l.Principal),
		Rate:        num(l.Rate),
		DefaultRate: num(l.DefaultRate),
		Fee:         num(l.Fee),
		Duration:    num(l.Duration),
		GracePeriod: num(l.GracePeriod),
		StartTime:   num(l.StartTime),
	}
}

// LienArg encodes a lien as the ABI argument expected by the settlement
// contract, for callers that pack calls themselves
func LienArg(l *types.Lien) interface{} {
	return toLienTuple(l)
}

func fromLienTuple(t lienTuple) *types.Lien {
	return &types.Lien{
		Recipient:   t.Recipient,
		Lender:      t.Lender,
		Borrower:    t.Borrower,
		Currency:    t.Currency,
		Collection:  t.Collection,
		ItemType:    types.ItemType(t.ItemType),
		TokenID:     t.TokenID,
		Size:        t.Size,
		Principal:   t.Principal,
		Rate:        t.Rate,
		DefaultRate: t.DefaultRate,
		Fee:         t.Fee,
		Duration:    t.Duration,
		GracePeriod: t.GracePeriod,
		StartTime:   t.StartTime,
	}
}

// convertTuple converts an unpacked anonymous tuple struct into T
func convertTuple[T any](v interface{}) (t T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected tuple layout: %v", r)
		}
	}()
	return *abi.ConvertType(v, new(T)).(*T), nil
}

// proofWords converts a Merkle proof into the ABI's bytes32[] shape
func proofWords(proof []common.Hash) [][32]byte {
	words := make([][32]byte, len(proof))
	for i, p := range proof {
		words[i] = p
	}
	return words
}
