package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralInput identifies the item an offer is about
type CollateralInput struct {
	Collection common.Address `json:"collection" yaml:"collection"`
	Criteria   Criteria       `json:"criteria" yaml:"criteria"`
	ItemType   ItemType       `json:"itemType" yaml:"itemType"`
	Identifier *big.Int       `json:"identifier" yaml:"identifier"`
	Size       *big.Int       `json:"size,omitempty" yaml:"size,omitempty"`
}

// Collateral formats the input, defaulting size to 1
func (c CollateralInput) Collateral() Collateral {
	size := c.Size
	if size == nil || size.Sign() == 0 {
		size = big.NewInt(1)
	}
	return Collateral{
		Collection: c.Collection,
		Criteria:   c.Criteria,
		ItemType:   c.ItemType,
		Identifier: new(big.Int).Set(bigOrZero(c.Identifier)),
		Size:       new(big.Int).Set(size),
	}
}

// CreateLoanOfferInput describes a loan offer to be created by a lender.
// When only Amount is set it is used for total, max and min amounts.
type CreateLoanOfferInput struct {
	CollateralInput
	Currency    common.Address
	Amount      *big.Int
	TotalAmount *big.Int
	MaxAmount   *big.Int
	MinAmount   *big.Int
	Rate        *big.Int
	DefaultRate *big.Int
	Fee         *big.Int
	Recipient   common.Address
	Duration    *big.Int
	GracePeriod *big.Int
	Expiration  *big.Int

	// Lien is an existing position on the same collateral, if the lender
	// is refinancing their own loan
	Lien *Lien
}

// Terms resolves the amount defaults and validates the ordering invariant
func (in CreateLoanOfferInput) Terms() (LoanOfferTerms, error) {
	total, max, min := in.TotalAmount, in.MaxAmount, in.MinAmount
	if total == nil {
		total = in.Amount
	}
	if max == nil {
		max = in.Amount
	}
	if min == nil {
		min = in.Amount
	}
	terms := LoanOfferTerms{
		Currency:    in.Currency,
		TotalAmount: total,
		MaxAmount:   max,
		MinAmount:   min,
		Rate:        in.Rate,
		DefaultRate: in.DefaultRate,
		Duration:    in.Duration,
		GracePeriod: in.GracePeriod,
	}
	if err := checkAmounts(map[string]*big.Int{
		"totalAmount": total, "maxAmount": max, "minAmount": min,
		"rate": in.Rate, "defaultRate": in.DefaultRate,
		"duration": in.Duration, "gracePeriod": in.GracePeriod,
	}); err != nil {
		return LoanOfferTerms{}, err
	}
	if err := terms.Validate(); err != nil {
		return LoanOfferTerms{}, err
	}
	return terms, nil
}

// CreateBorrowOfferInput describes a borrow offer to be created by a
// collateral owner. Borrow offers always use SIMPLE criteria.
type CreateBorrowOfferInput struct {
	CollateralInput
	Currency    common.Address
	Amount      *big.Int
	Rate        *big.Int
	DefaultRate *big.Int
	Fee         *big.Int
	Recipient   common.Address
	Duration    *big.Int
	GracePeriod *big.Int
	Expiration  *big.Int
}

// Terms validates and returns the borrow terms
func (in CreateBorrowOfferInput) Terms() (BorrowOfferTerms, error) {
	if err := checkAmounts(map[string]*big.Int{
		"amount": in.Amount, "rate": in.Rate, "defaultRate": in.DefaultRate,
		"duration": in.Duration, "gracePeriod": in.GracePeriod,
	}); err != nil {
		return BorrowOfferTerms{}, err
	}
	return BorrowOfferTerms{
		Currency:    in.Currency,
		Amount:      in.Amount,
		Rate:        in.Rate,
		DefaultRate: in.DefaultRate,
		Duration:    in.Duration,
		GracePeriod: in.GracePeriod,
	}, nil
}

// CreateMarketOfferInput describes a bid or ask to be created
type CreateMarketOfferInput struct {
	CollateralInput
	Currency      common.Address
	Amount        *big.Int
	WithLoan      bool
	BorrowAmount  *big.Int
	LoanOfferHash common.Hash
	Fee           *big.Int
	Recipient     common.Address
	Expiration    *big.Int

	// Lien is the seller's current loan on the collateral (asks only)
	Lien *Lien
}

// Terms validates and returns the market terms for the given side
func (in CreateMarketOfferInput) Terms(side Side) (MarketOfferTerms, error) {
	if err := checkAmounts(map[string]*big.Int{"amount": in.Amount}); err != nil {
		return MarketOfferTerms{}, err
	}
	terms := MarketOfferTerms{
		Currency:      in.Currency,
		Amount:        in.Amount,
		WithLoan:      in.WithLoan,
		BorrowAmount:  bigOrZero(in.BorrowAmount),
		LoanOfferHash: in.LoanOfferHash,
	}
	if side == SideAsk {
		terms.WithLoan = false
		terms.BorrowAmount = new(big.Int)
		terms.LoanOfferHash = common.Hash{}
	}
	return terms, nil
}

// NewFeeTerms builds the fee terms shared by every create input
func NewFeeTerms(recipient common.Address, rate *big.Int) (FeeTerms, error) {
	if err := CheckAmount(rate); err != nil {
		return FeeTerms{}, fmt.Errorf("fee: %w", err)
	}
	return FeeTerms{Recipient: recipient, Rate: rate}, nil
}

func checkAmounts(fields map[string]*big.Int) error {
	for name, v := range fields {
		if err := CheckAmount(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
