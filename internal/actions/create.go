package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/internal/validation"
	"github.com/kettlefi/kettle/pkg/types"
)

// CreateLoanOffer plans a new loan offer from the bound account. A lender
// refinancing its own current lien on the same item only needs to fund the
// part of maxAmount the outstanding debt does not cover.
func (b *Builder) CreateLoanOffer(ctx context.Context, in types.CreateLoanOfferInput) (Plan, error) {
	maker, err := b.account()
	if err != nil {
		return nil, err
	}
	offer, err := b.formatLoanOffer(ctx, maker, in)
	if err != nil {
		return nil, err
	}

	required := offer.Terms.MaxAmount
	if l := in.Lien; l != nil && l.Lender == maker && l.IsCurrent(b.clock()) &&
		l.MatchesCollateral(offer.Collateral.Collection, offer.Collateral.Identifier, offer.Terms.Currency) {
		debt, err := b.kettle.CurrentDebtAmount(ctx, l)
		if err != nil {
			return nil, fmt.Errorf("read lien debt: %w", err)
		}
		required = floorSub(required, debt.Debt)
	}

	funded, err := b.oracle.CurrencyBalance(ctx, maker, offer.Terms.Currency, required)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if !funded {
		return nil, refuse(validation.ReasonInsufficientBalance)
	}
	approval, err := b.currencyApproval(ctx, maker, offer.Terms.Currency, required)
	if err != nil {
		return nil, err
	}

	create, err := b.createAction(offer)
	if err != nil {
		return nil, err
	}
	return b.finish("create-loan", append(appendIf(nil, approval), create)), nil
}

// CreateBorrowOffer plans a new borrow offer. The maker must hold the item.
func (b *Builder) CreateBorrowOffer(ctx context.Context, in types.CreateBorrowOfferInput) (Plan, error) {
	maker, err := b.account()
	if err != nil {
		return nil, err
	}
	offer, err := b.formatBorrowOffer(ctx, maker, in)
	if err != nil {
		return nil, err
	}

	if !b.oracle.CollateralBalance(ctx, maker, offer.Collateral) {
		return nil, refuse(validation.ReasonInsufficientCollateral)
	}
	approval, err := b.collateralApproval(ctx, maker, offer.Collateral)
	if err != nil {
		return nil, err
	}

	create, err := b.createAction(offer)
	if err != nil {
		return nil, err
	}
	return b.finish("create-borrow", append(appendIf(nil, approval), create)), nil
}

// CreateAskOffer plans a new ask. A maker who does not hold the item may
// still sell it out of a current lien they borrowed against, provided the
// net proceeds of the ask repay the debt.
func (b *Builder) CreateAskOffer(ctx context.Context, in types.CreateMarketOfferInput) (Plan, error) {
	maker, err := b.account()
	if err != nil {
		return nil, err
	}
	offer, err := b.formatMarketOffer(ctx, types.SideAsk, maker, in)
	if err != nil {
		return nil, err
	}

	var approval *Action
	if b.oracle.CollateralBalance(ctx, maker, offer.Collateral) {
		approval, err = b.collateralApproval(ctx, maker, offer.Collateral)
		if err != nil {
			return nil, err
		}
	} else {
		if in.Lien == nil {
			return nil, refuse(validation.ReasonInsufficientCollateral)
		}
		if err := b.askCoversLien(ctx, offer, in.Lien); err != nil {
			return nil, err
		}
	}

	create, err := b.createAction(offer)
	if err != nil {
		return nil, err
	}
	return b.finish("create-ask", append(appendIf(nil, approval), create)), nil
}

func (b *Builder) askCoversLien(ctx context.Context, offer *types.MarketOffer, lien *types.Lien) error {
	if err := b.validator.CheckAskLien(offer, lien); err != nil {
		return err
	}
	debt, err := b.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		return fmt.Errorf("read lien debt: %w", err)
	}
	if debt.Debt.Cmp(types.NetMarketAmount(offer.Terms.Amount, offer.Fee.Rate)) > 0 {
		return refuse(validation.ReasonAskDoesNotCoverDebt)
	}
	return nil
}

// CreateBidOffer plans a new bid. The maker must hold the bid amount.
func (b *Builder) CreateBidOffer(ctx context.Context, in types.CreateMarketOfferInput) (Plan, error) {
	maker, err := b.account()
	if err != nil {
		return nil, err
	}
	offer, err := b.formatMarketOffer(ctx, types.SideBid, maker, in)
	if err != nil {
		return nil, err
	}

	funded, err := b.oracle.CurrencyBalance(ctx, maker, offer.Terms.Currency, offer.Terms.Amount)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if !funded {
		return nil, refuse(validation.ReasonInsufficientBalance)
	}
	approval, err := b.currencyApproval(ctx, maker, offer.Terms.Currency, offer.Terms.Amount)
	if err != nil {
		return nil, err
	}

	create, err := b.createAction(offer)
	if err != nil {
		return nil, err
	}
	return b.finish("create-bid", append(appendIf(nil, approval), create)), nil
}

// EditBorrowOffer cancels the offer with salt and plans its replacement
func (b *Builder) EditBorrowOffer(ctx context.Context, salt *big.Int, in types.CreateBorrowOfferInput) (Plan, error) {
	cancel, err := b.CancelOffer(ctx, salt)
	if err != nil {
		return nil, err
	}
	create, err := b.CreateBorrowOffer(ctx, in)
	if err != nil {
		return nil, err
	}
	return append(cancel, create...), nil
}

// EditAskOffer cancels the ask with salt and plans its replacement
func (b *Builder) EditAskOffer(ctx context.Context, salt *big.Int, in types.CreateMarketOfferInput) (Plan, error) {
	cancel, err := b.CancelOffer(ctx, salt)
	if err != nil {
		return nil, err
	}
	create, err := b.CreateAskOffer(ctx, in)
	if err != nil {
		return nil, err
	}
	return append(cancel, create...), nil
}

// createAction carries the formatted offer and its typed data. The offer
// is signed only when the action is executed.
func (b *Builder) createAction(offer types.Offer) (*Action, error) {
	hash, err := b.hasher.Hash(offer)
	if err != nil {
		return nil, fmt.Errorf("hash offer: %w", err)
	}
	payload, err := b.hasher.Payload(offer)
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}
	a := newAction(KindCreate, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		sig, err := b.hasher.Sign(ctx, offer, b.client.Signer())
		if err != nil {
			return Result{}, rejected(err)
		}
		return Result{Signed: &types.SignedOffer{Kind: offer.Kind(), Offer: offer, Signature: sig}}, nil
	})
	a.Offer = offer
	a.Hash = hash
	a.Payload = payload
	return a, nil
}

func (b *Builder) header(ctx context.Context, maker, recipient common.Address, fee, expiration *big.Int) (types.FeeTerms, *big.Int, *big.Int, error) {
	feeTerms, err := types.NewFeeTerms(recipient, fee)
	if err != nil {
		return types.FeeTerms{}, nil, nil, err
	}
	if err := types.CheckAmount(expiration); err != nil {
		return types.FeeTerms{}, nil, nil, fmt.Errorf("expiration: %w", err)
	}
	salt, err := signing.NewSalt()
	if err != nil {
		return types.FeeTerms{}, nil, nil, err
	}
	nonce, err := b.kettle.Nonce(ctx, maker)
	if err != nil {
		return types.FeeTerms{}, nil, nil, fmt.Errorf("read nonce: %w", err)
	}
	return feeTerms, salt, nonce, nil
}

func (b *Builder) formatLoanOffer(ctx context.Context, maker common.Address, in types.CreateLoanOfferInput) (*types.LoanOffer, error) {
	terms, err := in.Terms()
	if err != nil {
		return nil, err
	}
	fee, salt, nonce, err := b.header(ctx, maker, in.Recipient, in.Fee, in.Expiration)
	if err != nil {
		return nil, err
	}
	return &types.LoanOffer{
		Lender:     maker,
		Collateral: in.Collateral(),
		Terms:      terms,
		Fee:        fee,
		Expiration: in.Expiration,
		Salt:       salt,
		Nonce:      nonce,
	}, nil
}

func (b *Builder) formatBorrowOffer(ctx context.Context, maker common.Address, in types.CreateBorrowOfferInput) (*types.BorrowOffer, error) {
	terms, err := in.Terms()
	if err != nil {
		return nil, err
	}
	fee, salt, nonce, err := b.header(ctx, maker, in.Recipient, in.Fee, in.Expiration)
	if err != nil {
		return nil, err
	}
	collateral := in.Collateral()
	collateral.Criteria = types.CriteriaSimple
	return &types.BorrowOffer{
		Borrower:   maker,
		Collateral: collateral,
		Terms:      terms,
		Fee:        fee,
		Expiration: in.Expiration,
		Salt:       salt,
		Nonce:      nonce,
	}, nil
}

func (b *Builder) formatMarketOffer(ctx context.Context, side types.Side, maker common.Address, in types.CreateMarketOfferInput) (*types.MarketOffer, error) {
	terms, err := in.Terms(side)
	if err != nil {
		return nil, err
	}
	fee, salt, nonce, err := b.header(ctx, maker, in.Recipient, in.Fee, in.Expiration)
	if err != nil {
		return nil, err
	}
	offer := &types.MarketOffer{
		Side:       side,
		Maker:      maker,
		Collateral: in.Collateral(),
		Terms:      terms,
		Fee:        fee,
		Expiration: in.Expiration,
		Salt:       salt,
		Nonce:      nonce,
	}
	offer.Normalize()
	return offer, nil
}
