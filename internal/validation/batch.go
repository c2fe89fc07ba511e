package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/multicall"
	"github.com/kettlefi/kettle/pkg/types"
)

// plan is what one offer needs from the batch
type plan struct {
	offer    types.Offer
	hash     common.Hash
	lien     *types.Lien
	required []request
	// optional reads may be missing without invalidating the offer
	optional []request
}

// ValidateLoanOffers validates loan offers in one round trip. liens, when
// the validator is lien-aware, lets lenders refinance their own positions.
func (v *Validator) ValidateLoanOffers(ctx context.Context, offers []types.OfferWithHash, liens types.LienSet) (map[common.Hash]Verdict, error) {
	return v.validateKind(ctx, types.OfferKindLoan, nil, offers, liens)
}

// ValidateBorrowOffers validates borrow offers in one round trip
func (v *Validator) ValidateBorrowOffers(ctx context.Context, offers []types.OfferWithHash) (map[common.Hash]Verdict, error) {
	return v.validateKind(ctx, types.OfferKindBorrow, nil, offers, nil)
}

// ValidateAskOffers validates asks in one round trip. liens, when the
// validator is lien-aware, lets sellers list collateral held by a lien.
func (v *Validator) ValidateAskOffers(ctx context.Context, offers []types.OfferWithHash, liens types.LienSet) (map[common.Hash]Verdict, error) {
	ask := types.SideAsk
	return v.validateKind(ctx, types.OfferKindMarket, &ask, offers, liens)
}

// ValidateBidOffers validates bids in one round trip
func (v *Validator) ValidateBidOffers(ctx context.Context, offers []types.OfferWithHash) (map[common.Hash]Verdict, error) {
	bid := types.SideBid
	return v.validateKind(ctx, types.OfferKindMarket, &bid, offers, nil)
}

func (v *Validator) validateKind(ctx context.Context, kind types.OfferKind, side *types.Side, offers []types.OfferWithHash, liens types.LienSet) (map[common.Hash]Verdict, error) {
	for i, o := range offers {
		if o.Offer == nil || o.Offer.Kind() != kind {
			return nil, fmt.Errorf("offer %d is not a %s offer", i, kind)
		}
		if side != nil && o.Offer.(*types.MarketOffer).Side != *side {
			return nil, fmt.Errorf("offer %d is not a %s offer", i, *side)
		}
	}
	return v.ValidateOffers(ctx, offers, liens)
}

// ValidateOffers validates offers of any kind with a single multicall and
// returns one verdict per input offer, keyed by offer hash. Offers without a
// hash are hashed locally. A malformed offer gets a ReasonInvalidOffer
// verdict and does not affect the others; if it cannot be hashed either it
// is keyed by placeholderKey. The call fails only when the chain could not
// be queried at all.
func (v *Validator) ValidateOffers(ctx context.Context, offers []types.OfferWithHash, liens types.LienSet) (map[common.Hash]Verdict, error) {
	start := time.Now()
	r := v.rules(false)

	verdicts := make(map[common.Hash]Verdict, len(offers))
	invalid := 0
	batch := multicall.NewBatch()
	plans := make([]plan, 0, len(offers))
	for i, o := range offers {
		hash, err := v.offerKey(i, o)
		if err != nil {
			logging.Warn("malformed offer", logging.Component("validation"), "index", i, logging.OfferHash(hash), logging.Err(err))
			verdicts[hash] = Verdict{Hash: hash, Reason: ReasonInvalidOffer}
			invalid++
			if o.Offer != nil {
				v.metrics.RecordVerdict(kindLabel(o.Offer), string(ReasonInvalidOffer), false)
			}
			continue
		}
		p := v.plan(r, o.Offer, hash, liens)
		for _, req := range p.required {
			batch.Add(req.key, req.abi, req.args...)
		}
		for _, req := range p.optional {
			batch.Add(req.key, req.abi, req.args...)
		}
		plans = append(plans, p)
	}

	res, err := v.exec.Run(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("validate offers: %w", err)
	}

	f := batchFacts{keys: v.keys, res: res}
	for _, p := range plans {
		verdict := v.verdict(ctx, r, p, res, f)
		if !verdict.Valid {
			invalid++
		}
		v.metrics.RecordVerdict(kindLabel(p.offer), string(verdict.Reason), verdict.Valid)
		verdicts[p.hash] = verdict
	}

	logging.Info("offers validated",
		logging.Component("validation"),
		"run_id", res.RunID,
		"offers", len(offers),
		"calls", batch.Len(),
		"invalid", invalid,
		"duration", time.Since(start))
	return verdicts, nil
}

// offerKey checks the fields of offer i and returns the hash its verdict is
// keyed by. On error the returned key is still usable.
func (v *Validator) offerKey(i int, o types.OfferWithHash) (common.Hash, error) {
	key := o.Hash
	if o.Offer == nil {
		if key == (common.Hash{}) {
			key = placeholderKey(i, o.Offer)
		}
		return key, fmt.Errorf("offer %d is empty", i)
	}
	err := types.CheckFields(o.Offer)
	if err == nil && key == (common.Hash{}) {
		key, err = v.hasher.Hash(o.Offer)
	}
	if err != nil {
		if key == (common.Hash{}) {
			key = placeholderKey(i, o.Offer)
		}
		return key, err
	}
	return key, nil
}

// placeholderKey identifies an offer that has no hash by its position in
// the batch and its maker
func placeholderKey(i int, offer types.Offer) common.Hash {
	var maker common.Address
	if offer != nil {
		maker = offer.Header().Maker
	}
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("kettle/invalid-offer/%d", i)), maker.Bytes())
}

func (v *Validator) verdict(ctx context.Context, r rules, p plan, res *multicall.Results, f batchFacts) Verdict {
	for _, req := range p.required {
		if _, ok := res.Values(req.key); ok {
			continue
		}
		if req.revertIsAnswer && res.Reverted(req.key) {
			continue
		}
		return Verdict{Hash: p.hash, Reason: ReasonInvalidReturnData}
	}

	err := r.check(ctx, p.offer, p.hash, p.lien, f)
	if err == nil {
		return Verdict{Hash: p.hash, Valid: true}
	}
	if reason, ok := ReasonOf(err); ok {
		return Verdict{Hash: p.hash, Reason: reason}
	}
	if !errors.Is(err, errMissing) {
		logging.Warn("offer check failed", logging.OfferHash(p.hash), logging.Err(err))
	}
	return Verdict{Hash: p.hash, Reason: ReasonInvalidReturnData}
}

// plan lists the reads the rules will make for an offer. The lien debt is
// requested only when the lien can take part, and is optional.
func (v *Validator) plan(r rules, offer types.Offer, hash common.Hash, liens types.LienSet) plan {
	k := v.keys
	p := plan{offer: offer, hash: hash}
	h := offer.Header()

	switch o := offer.(type) {
	case *types.LoanOffer:
		if o.Collateral.ItemType == types.ItemTypeERC721 {
			p.required = append(p.required, k.holds(o.Lender, o.Collateral))
		}
		p.required = append(p.required,
			k.balance(o.Lender, o.Terms.Currency),
			k.allowance(o.Lender, o.Terms.Currency),
			k.amountTaken(hash))
		p.lien = lookup(liens, o.Collateral)
		if l := r.activeLien(p.lien, o.Collateral, o.Terms.Currency); l != nil && l.Lender == o.Lender {
			p.optional = append(p.optional, k.lienDebt(l))
		}
	case *types.BorrowOffer:
		p.required = append(p.required,
			k.holds(o.Borrower, o.Collateral),
			k.approvedForAll(o.Borrower, o.Collateral.Collection))
	case *types.MarketOffer:
		if o.Side == types.SideAsk {
			p.required = append(p.required,
				k.holds(o.Maker, o.Collateral),
				k.approvedForAll(o.Maker, o.Collateral.Collection))
			p.lien = lookup(liens, o.Collateral)
			if l := r.activeLien(p.lien, o.Collateral, o.Terms.Currency); l != nil && l.Borrower == o.Maker {
				p.optional = append(p.optional, k.lienDebt(l))
			}
			break
		}
		if bidChecksOwnership(o) {
			p.required = append(p.required, k.holds(o.Maker, o.Collateral))
		}
		p.required = append(p.required,
			k.balance(o.Maker, o.Terms.Currency),
			k.allowance(o.Maker, o.Terms.Currency))
	}
	p.required = append(p.required, k.cancelled(h.Maker, h.Salt), k.nonce(h.Maker))
	return p
}

func lookup(liens types.LienSet, c types.Collateral) *types.Lien {
	l, _ := liens.Lookup(c.Collection, c.Identifier)
	return l
}

func kindLabel(offer types.Offer) string {
	if m, ok := offer.(*types.MarketOffer); ok {
		if m.Side == types.SideAsk {
			return "ask"
		}
		return "bid"
	}
	return offer.Kind().String()
}
