package validation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/pkg/types"
)

// Capabilities selects the optional parts of the rule set
type Capabilities struct {
	// LienAware lets a maker whose collateral or funds sit in a current lien
	// on the same item satisfy ownership and solvency through the lien
	LienAware bool
}

// rules is the one rule set shared by the batch and single-offer paths.
// Checks run in a fixed order and stop at the first failure: expiration,
// ownership, balance and allowance, amount remaining, cancellation, nonce.
type rules struct {
	caps Capabilities
	now  time.Time
	// strictLien reports a mismatching lien with its own reason instead of
	// ignoring it
	strictLien bool
}

func (r rules) check(ctx context.Context, offer types.Offer, hash common.Hash, lien *types.Lien, f facts) error {
	switch o := offer.(type) {
	case *types.LoanOffer:
		return r.loan(ctx, o, hash, lien, f)
	case *types.BorrowOffer:
		return r.borrow(ctx, o, f)
	case *types.MarketOffer:
		if o.Side == types.SideAsk {
			return r.ask(ctx, o, lien, f)
		}
		return r.bid(ctx, o, f)
	default:
		return fmt.Errorf("unsupported offer type %T", offer)
	}
}

// activeLien returns lien when it may stand in for the maker's own
// collateral or funds: current, on the offer's exact item and currency
func (r rules) activeLien(lien *types.Lien, c types.Collateral, currency common.Address) *types.Lien {
	if !r.caps.LienAware || lien == nil {
		return nil
	}
	if !lien.IsCurrent(r.now) || lien.ItemType != c.ItemType {
		return nil
	}
	if !lien.MatchesCollateral(c.Collection, c.Identifier, currency) {
		return nil
	}
	return lien
}

func (r rules) loan(ctx context.Context, o *types.LoanOffer, hash common.Hash, lien *types.Lien, f facts) error {
	if types.IsExpired(o.Expiration, r.now) {
		return ReasonExpired
	}

	if o.Collateral.ItemType == types.ItemTypeERC721 {
		owns, err := f.holds(ctx, o.Lender, o.Collateral)
		if err != nil {
			return err
		}
		if owns {
			return ReasonLenderOwnsCollateral
		}
	}

	// a lender refinancing their own lien only funds the increase
	required := orZero(o.Terms.MaxAmount)
	if l := r.activeLien(lien, o.Collateral, o.Terms.Currency); l != nil && l.Lender == o.Lender {
		debt, ok, err := f.lienDebt(ctx, l)
		if err != nil {
			return err
		}
		if ok {
			required = floorSub(required, debt)
		}
	}

	balance, err := f.balance(ctx, o.Lender, o.Terms.Currency)
	if err != nil {
		return err
	}
	if balance.Cmp(required) < 0 {
		return ReasonLenderBalance
	}
	allowance, err := f.allowance(ctx, o.Lender, o.Terms.Currency)
	if err != nil {
		return err
	}
	if allowance.Cmp(required) < 0 {
		return ReasonLenderAllowance
	}

	taken, err := f.amountTaken(ctx, hash)
	if err != nil {
		return err
	}
	remaining := floorSub(orZero(o.Terms.TotalAmount), taken)
	if remaining.Cmp(orZero(o.Terms.MinAmount)) < 0 {
		return ReasonAmountRemaining
	}

	return r.live(ctx, o.Lender, o.Salt, o.Nonce, f)
}

func (r rules) borrow(ctx context.Context, o *types.BorrowOffer, f facts) error {
	if types.IsExpired(o.Expiration, r.now) {
		return ReasonExpired
	}

	owns, err := f.holds(ctx, o.Borrower, o.Collateral)
	if err != nil {
		return err
	}
	if !owns {
		return ReasonBorrowerNotOwner
	}
	approved, err := f.approvedForAll(ctx, o.Borrower, o.Collateral.Collection)
	if err != nil {
		return err
	}
	if !approved {
		return ReasonBorrowerNotApproved
	}

	return r.live(ctx, o.Borrower, o.Salt, o.Nonce, f)
}

func (r rules) ask(ctx context.Context, o *types.MarketOffer, lien *types.Lien, f facts) error {
	if types.IsExpired(o.Expiration, r.now) {
		return ReasonExpired
	}

	owns, err := f.holds(ctx, o.Maker, o.Collateral)
	if err != nil {
		return err
	}

	// without the item the seller must be selling out of a lien that the
	// ask proceeds repay
	inLien := false
	if !owns {
		if r.strictLien && r.caps.LienAware && lien != nil {
			if err := r.lienMatchesAsk(o, lien); err != nil {
				return err
			}
		}
		l := r.activeLien(lien, o.Collateral, o.Terms.Currency)
		if l == nil || l.Borrower != o.Maker {
			return ReasonSellerNotOwner
		}
		debt, ok, err := f.lienDebt(ctx, l)
		if err != nil {
			return err
		}
		if !ok {
			return ReasonSellerNotOwner
		}
		if debt.Cmp(types.NetMarketAmount(o.Terms.Amount, o.Fee.Rate)) > 0 {
			return ReasonAskDoesNotCoverDebt
		}
		inLien = true
	}

	if !inLien {
		approved, err := f.approvedForAll(ctx, o.Maker, o.Collateral.Collection)
		if err != nil {
			return err
		}
		if !approved {
			return ReasonSellerNotApproved
		}
	}

	return r.live(ctx, o.Maker, o.Salt, o.Nonce, f)
}

// lienMatchesAsk explains why a lien cannot back an ask
func (r rules) lienMatchesAsk(o *types.MarketOffer, lien *types.Lien) error {
	switch {
	case lien.Currency != o.Terms.Currency:
		return ReasonLienCurrencyMismatch
	case lien.Collection != o.Collateral.Collection:
		return ReasonLienCollectionMismatch
	case lien.ItemType != o.Collateral.ItemType:
		return ReasonLienItemTypeMismatch
	case orZero(lien.TokenID).Cmp(orZero(o.Collateral.Identifier)) != 0:
		return ReasonLienTokenIDMismatch
	case lien.Borrower != o.Maker:
		return ReasonSellerNotBorrower
	case lien.IsDefaulted(r.now):
		return ReasonLienDefaulted
	}
	return nil
}

func (r rules) bid(ctx context.Context, o *types.MarketOffer, f facts) error {
	if types.IsExpired(o.Expiration, r.now) {
		return ReasonExpired
	}

	if bidChecksOwnership(o) {
		owns, err := f.holds(ctx, o.Maker, o.Collateral)
		if err != nil {
			return err
		}
		if owns {
			return ReasonBidderOwnsCollateral
		}
	}

	amount := orZero(o.Terms.Amount)
	balance, err := f.balance(ctx, o.Maker, o.Terms.Currency)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ReasonMakerBalance
	}
	allowance, err := f.allowance(ctx, o.Maker, o.Terms.Currency)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ReasonMakerAllowance
	}

	return r.live(ctx, o.Maker, o.Salt, o.Nonce, f)
}

// bidChecksOwnership is true for bids on one specific ERC-721 token
func bidChecksOwnership(o *types.MarketOffer) bool {
	return o.Collateral.ItemType == types.ItemTypeERC721 && o.Collateral.Criteria == types.CriteriaSimple
}

// live checks the offer was neither cancelled nor invalidated by a nonce bump
func (r rules) live(ctx context.Context, maker common.Address, salt, nonce *big.Int, f facts) error {
	cancelled, err := f.cancelled(ctx, maker, salt)
	if err != nil {
		return err
	}
	if cancelled {
		return ReasonCancelled
	}
	current, err := f.nonce(ctx, maker)
	if err != nil {
		return err
	}
	if current.Cmp(orZero(nonce)) != 0 {
		return ReasonInvalidNonce
	}
	return nil
}

// floorSub is max(a-b, 0)
func floorSub(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(orZero(a), orZero(b))
	if d.Sign() < 0 {
		return d.SetInt64(0)
	}
	return d
}
