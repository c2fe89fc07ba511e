package validation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/pkg/types"
)

// ValidateOffer checks one offer right before it is taken and returns an
// *Error for the first failing rule. lien is the position currently holding
// the collateral, if any; it is ignored unless the validator is lien-aware.
func (v *Validator) ValidateOffer(ctx context.Context, offer types.Offer, lien *types.Lien) error {
	if offer == nil {
		return fmt.Errorf("offer is empty")
	}
	if err := types.CheckFields(offer); err != nil {
		v.metrics.RecordVerdict(kindLabel(offer), string(ReasonInvalidOffer), false)
		return &Error{Reason: ReasonInvalidOffer, Err: err}
	}
	hash, err := v.hasher.Hash(offer)
	if err != nil {
		return &Error{Reason: ReasonInvalidOffer, Err: err}
	}
	err = v.rules(true).check(ctx, offer, hash, lien, v.point)
	if err != nil {
		if r, ok := ReasonOf(err); ok {
			v.metrics.RecordVerdict(kindLabel(offer), string(r), false)
		}
		return fail(hash, err)
	}
	v.metrics.RecordVerdict(kindLabel(offer), "", true)
	return nil
}

// ValidateLoanOffer checks a loan offer before it is borrowed against
func (v *Validator) ValidateLoanOffer(ctx context.Context, offer *types.LoanOffer, lien *types.Lien) error {
	if offer == nil {
		return ErrMissingInput
	}
	return v.ValidateOffer(ctx, offer, lien)
}

// ValidateBorrowOffer checks a borrow offer before it is funded
func (v *Validator) ValidateBorrowOffer(ctx context.Context, offer *types.BorrowOffer) error {
	if offer == nil {
		return ErrMissingInput
	}
	return v.ValidateOffer(ctx, offer, nil)
}

// ValidateAskOffer checks an ask before it is bought. A seller without the
// item must be the borrower of a current lien on it whose debt the ask
// covers.
func (v *Validator) ValidateAskOffer(ctx context.Context, offer *types.MarketOffer, lien *types.Lien) error {
	if offer == nil {
		return ErrMissingInput
	}
	if offer.Side != types.SideAsk {
		return fmt.Errorf("offer is a %s, not an ASK", offer.Side)
	}
	return v.ValidateOffer(ctx, offer, lien)
}

// CheckAskLien reports why lien cannot back ask, using the same rule the
// ask validation applies: matching currency, collection, item type and
// token, the ask maker as borrower, and a lien that has not defaulted
func (v *Validator) CheckAskLien(ask *types.MarketOffer, lien *types.Lien) error {
	if ask == nil || lien == nil {
		return ErrMissingInput
	}
	if err := v.rules(true).lienMatchesAsk(ask, lien); err != nil {
		return fail(common.Hash{}, err)
	}
	return nil
}

// ValidateBidOffer checks a bid before it is sold into
func (v *Validator) ValidateBidOffer(ctx context.Context, offer *types.MarketOffer) error {
	if offer == nil {
		return ErrMissingInput
	}
	if offer.Side != types.SideBid {
		return fmt.Errorf("offer is a %s, not a BID", offer.Side)
	}
	return v.ValidateOffer(ctx, offer, nil)
}

// ValidateRefinance checks that taker can move lien into offer: same
// borrower, currency, collection and (for SIMPLE offers) token, a lien that
// has not defaulted, and funds for any debt the new loan does not cover.
func (v *Validator) ValidateRefinance(ctx context.Context, taker common.Address, lien *types.Lien, offer *types.LoanOffer) error {
	if lien == nil || offer == nil {
		return ErrMissingInput
	}
	if err := v.lienTakeover(taker, lien, offer.Terms.Currency, offer.Collateral); err != nil {
		return err
	}
	return v.coverDebt(ctx, lien, offer.Terms.MaxAmount)
}

// ValidateSellInLien checks that taker can sell the collateral of lien into
// bid: the structural checks of ValidateRefinance, then the net bid proceeds
// against the current debt.
func (v *Validator) ValidateSellInLien(ctx context.Context, taker common.Address, lien *types.Lien, bid *types.MarketOffer) error {
	if lien == nil || bid == nil {
		return ErrMissingInput
	}
	if err := v.lienTakeover(taker, lien, bid.Terms.Currency, bid.Collateral); err != nil {
		return err
	}
	return v.coverDebt(ctx, lien, types.NetMarketAmount(bid.Terms.Amount, bid.Fee.Rate))
}

// ValidateRepay checks the lien is still current and its borrower holds the
// current debt
func (v *Validator) ValidateRepay(ctx context.Context, lien *types.Lien) error {
	if lien == nil {
		return ErrMissingInput
	}
	if lien.IsDefaulted(v.clock()) {
		return &Error{Reason: ReasonLienDefaulted}
	}
	debt, err := v.point.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return fail(common.Hash{}, err)
	}
	balance, err := v.point.balance(ctx, lien.Borrower, lien.Currency)
	if err != nil {
		return fail(common.Hash{}, err)
	}
	if balance.Cmp(debt.Debt) < 0 {
		return &Error{Reason: ReasonBorrowerBalance}
	}
	return nil
}

func (v *Validator) lienTakeover(taker common.Address, lien *types.Lien, currency common.Address, c types.Collateral) error {
	switch {
	case taker != lien.Borrower:
		return &Error{Reason: ReasonInvalidBorrower}
	case lien.Currency != currency:
		return &Error{Reason: ReasonCurrencyMismatch}
	case lien.Collection != c.Collection:
		return &Error{Reason: ReasonCollectionMismatch}
	case c.Criteria == types.CriteriaSimple && orZero(lien.TokenID).Cmp(orZero(c.Identifier)) != 0:
		return &Error{Reason: ReasonTokenIDMismatch}
	case lien.IsDefaulted(v.clock()):
		return &Error{Reason: ReasonLienDefaulted}
	}
	return nil
}

// coverDebt requires the borrower to hold whatever part of the current debt
// proceeds does not repay
func (v *Validator) coverDebt(ctx context.Context, lien *types.Lien, proceeds *big.Int) error {
	debt, err := v.point.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return fail(common.Hash{}, err)
	}
	shortfall := floorSub(debt.Debt, proceeds)
	if shortfall.Sign() == 0 {
		return nil
	}
	balance, err := v.point.balance(ctx, lien.Borrower, lien.Currency)
	if err != nil {
		return fail(common.Hash{}, err)
	}
	if balance.Cmp(shortfall) < 0 {
		return &Error{Reason: ReasonBorrowerBalance}
	}
	return nil
}
