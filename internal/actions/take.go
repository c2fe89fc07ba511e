package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/internal/accrual"
	"github.com/kettlefi/kettle/internal/validation"
	"github.com/kettlefi/kettle/pkg/types"
)

// Selection picks the token used to take a PROOF-criteria offer and the
// Merkle proof of its membership. A nil *Selection takes the offer's own
// identifier with an empty proof.
type Selection struct {
	TokenID *big.Int
	Proof   []common.Hash
}

func (s *Selection) apply(c types.Collateral) (types.Collateral, []common.Hash) {
	if s == nil || s.TokenID == nil {
		return c, nil
	}
	c.Identifier = new(big.Int).Set(s.TokenID)
	return c, s.Proof
}

// TakeLoanOffer plans borrowing against a loan offer with collateral the
// bound account holds
func (b *Builder) TakeLoanOffer(ctx context.Context, offer *types.LoanOffer, signature []byte, sel *Selection) (Plan, error) {
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateLoanOffer(ctx, offer, nil); err != nil {
		return nil, err
	}

	collateral, proof := sel.apply(offer.Collateral)
	if !b.oracle.CollateralBalance(ctx, taker, collateral) {
		return nil, refuse(validation.ReasonBorrowerNotOwner)
	}
	approval, err := b.collateralApproval(ctx, taker, collateral)
	if err != nil {
		return nil, err
	}

	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.Borrow(ctx, offer, offer.Terms.MaxAmount, collateral.Identifier, common.Address{}, signature, proof)
	})
	return b.finish("take-loan", append(appendIf(nil, approval), take)), nil
}

// TakeBorrowOffer plans funding a borrow offer from the bound account
func (b *Builder) TakeBorrowOffer(ctx context.Context, offer *types.BorrowOffer, signature []byte) (Plan, error) {
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateBorrowOffer(ctx, offer); err != nil {
		return nil, err
	}

	approval, err := b.fund(ctx, taker, offer.Terms.Currency, offer.Terms.Amount, validation.ReasonLenderBalance)
	if err != nil {
		return nil, err
	}

	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.Loan(ctx, offer, signature)
	})
	return b.finish("take-borrow", append(appendIf(nil, approval), take)), nil
}

// TakeAskOffer plans buying the item of an ask whose maker holds it
func (b *Builder) TakeAskOffer(ctx context.Context, offer *types.MarketOffer, signature []byte) (Plan, error) {
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateAskOffer(ctx, offer, nil); err != nil {
		return nil, err
	}

	approval, err := b.fund(ctx, taker, offer.Terms.Currency, offer.Terms.Amount, validation.ReasonBuyerBalance)
	if err != nil {
		return nil, err
	}

	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.MarketOrder(ctx, offer.Collateral.Identifier, offer, signature, nil)
	})
	return b.finish("take-ask", append(appendIf(nil, approval), take)), nil
}

// TakeAskOfferInLien plans buying the item of an ask out of the maker's
// lien. The purchase repays the lien.
func (b *Builder) TakeAskOfferInLien(ctx context.Context, lienID *big.Int, lien *types.Lien, offer *types.MarketOffer, signature []byte) (Plan, error) {
	if lien == nil {
		return nil, validation.ErrMissingInput
	}
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateAskOffer(ctx, offer, lien); err != nil {
		return nil, err
	}

	approval, err := b.fund(ctx, taker, offer.Terms.Currency, offer.Terms.Amount, validation.ReasonBuyerBalance)
	if err != nil {
		return nil, err
	}

	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.BuyInLien(ctx, lienID, lien, offer, signature, nil)
	})
	return b.finish("take-ask-in-lien", append(appendIf(nil, approval), take)), nil
}

// TakeBidOffer plans selling an item the bound account holds into a bid
func (b *Builder) TakeBidOffer(ctx context.Context, offer *types.MarketOffer, signature []byte, sel *Selection) (Plan, error) {
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateBidOffer(ctx, offer); err != nil {
		return nil, err
	}

	collateral, proof := sel.apply(offer.Collateral)
	if !b.oracle.CollateralBalance(ctx, taker, collateral) {
		return nil, refuse(validation.ReasonSellerNotOwner)
	}
	approval, err := b.collateralApproval(ctx, taker, collateral)
	if err != nil {
		return nil, err
	}

	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.MarketOrder(ctx, collateral.Identifier, offer, signature, proof)
	})
	return b.finish("take-bid", append(appendIf(nil, approval), take)), nil
}

// TakeBidOfferInLien plans selling the collateral of the bound account's
// lien into a bid. When the net proceeds fall short of the debt the seller
// pays the difference, which may need a currency approval.
func (b *Builder) TakeBidOfferInLien(ctx context.Context, lienID *big.Int, lien *types.Lien, offer *types.MarketOffer, signature []byte, sel *Selection) (Plan, error) {
	if lien == nil {
		return nil, validation.ErrMissingInput
	}
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateBidOffer(ctx, offer); err != nil {
		return nil, err
	}
	if err := b.validator.ValidateSellInLien(ctx, taker, lien, offer); err != nil {
		return nil, err
	}

	approval, err := b.shortfallApproval(ctx, taker, lien, types.NetMarketAmount(offer.Terms.Amount, offer.Fee.Rate), offer.Terms.Currency)
	if err != nil {
		return nil, err
	}

	_, proof := sel.apply(offer.Collateral)
	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.SellInLien(ctx, lienID, lien, offer, signature, proof)
	})
	return b.finish("take-bid-in-lien", append(appendIf(nil, approval), take)), nil
}

// Refinance plans moving the bound account's lien onto a new loan offer.
// proof is required for PROOF-criteria offers.
func (b *Builder) Refinance(ctx context.Context, lienID *big.Int, lien *types.Lien, offer *types.LoanOffer, signature []byte, proof []common.Hash) (Plan, error) {
	if lien == nil {
		return nil, validation.ErrMissingInput
	}
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateLoanOffer(ctx, offer, lien); err != nil {
		return nil, err
	}
	if err := b.validator.ValidateRefinance(ctx, taker, lien, offer); err != nil {
		return nil, err
	}

	approval, err := b.shortfallApproval(ctx, taker, lien, offer.Terms.MaxAmount, offer.Terms.Currency)
	if err != nil {
		return nil, err
	}

	take := b.takeAction(func(ctx context.Context) (*ethtypes.Transaction, error) {
		return b.kettle.Refinance(ctx, lienID, offer.Terms.MaxAmount, lien, offer, signature, proof)
	})
	return b.finish("refinance", append(appendIf(nil, approval), take)), nil
}

// Repay plans closing a current lien with the bound account's funds
func (b *Builder) Repay(ctx context.Context, lienID *big.Int, lien *types.Lien) (Plan, error) {
	if lien == nil {
		return nil, validation.ErrMissingInput
	}
	taker, err := b.account()
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateRepay(ctx, lien); err != nil {
		return nil, err
	}

	debt, err := b.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return nil, fmt.Errorf("read lien debt: %w", err)
	}
	approval, err := b.currencyApproval(ctx, taker, lien.Currency, debt.Debt)
	if err != nil {
		return nil, err
	}

	repay := newAction(KindRepay, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		return b.submit(ctx, func(ctx context.Context) (*ethtypes.Transaction, error) {
			return b.kettle.Repay(ctx, lienID, lien)
		})
	})
	return b.finish("repay", append(appendIf(nil, approval), repay)), nil
}

// Claim plans seizing the collateral of a defaulted lien
func (b *Builder) Claim(ctx context.Context, lienID *big.Int, lien *types.Lien) (Plan, error) {
	if lien == nil {
		return nil, validation.ErrMissingInput
	}
	if lien.IsCurrent(b.clock()) {
		return nil, refuse(validation.ReasonLienNotDefaulted)
	}
	if _, err := b.account(); err != nil {
		return nil, err
	}

	claim := newAction(KindClaim, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		return b.submit(ctx, func(ctx context.Context) (*ethtypes.Transaction, error) {
			return b.kettle.Claim(ctx, lienID, lien)
		})
	})
	return b.finish("claim", Plan{claim}), nil
}

// RefinancePreview is what the borrower pays or receives when lien is
// refinanced into offer at its maximum amount
func (b *Builder) RefinancePreview(ctx context.Context, lien *types.Lien, offer *types.LoanOffer) (accrual.Preview, error) {
	if lien == nil {
		return accrual.Preview{}, validation.ErrMissingInput
	}
	debt, err := b.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return accrual.Preview{}, fmt.Errorf("read lien debt: %w", err)
	}
	return accrual.RefinancePreview(debt.Debt, offer.Terms.MaxAmount), nil
}

// SellInLienPreview is what the borrower pays or receives when the
// collateral of lien is sold into bid
func (b *Builder) SellInLienPreview(ctx context.Context, lien *types.Lien, bid *types.MarketOffer) (accrual.Preview, error) {
	if lien == nil {
		return accrual.Preview{}, validation.ErrMissingInput
	}
	debt, err := b.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return accrual.Preview{}, fmt.Errorf("read lien debt: %w", err)
	}
	return accrual.SellInLienPreview(debt.Debt, bid.Terms.Amount, bid.Fee.Rate), nil
}

func (b *Builder) takeAction(send func(ctx context.Context) (*ethtypes.Transaction, error)) *Action {
	return newAction(KindTake, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		return b.submit(ctx, send)
	})
}

// fund requires taker to hold amount of currency, failing with short, and
// returns the approval the settlement contract needs to pull it
func (b *Builder) fund(ctx context.Context, taker, currency common.Address, amount *big.Int, short validation.Reason) (*Action, error) {
	funded, err := b.oracle.CurrencyBalance(ctx, taker, currency, amount)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if !funded {
		return nil, refuse(short)
	}
	return b.currencyApproval(ctx, taker, currency, amount)
}

// shortfallApproval returns the approval needed when proceeds do not cover
// the current debt of lien and the borrower pays the rest
func (b *Builder) shortfallApproval(ctx context.Context, taker common.Address, lien *types.Lien, proceeds *big.Int, currency common.Address) (*Action, error) {
	debt, err := b.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return nil, fmt.Errorf("read lien debt: %w", err)
	}
	diff := floorSub(debt.Debt, proceeds)
	if diff.Sign() == 0 {
		return nil, nil
	}
	return b.currencyApproval(ctx, taker, currency, diff)
}
