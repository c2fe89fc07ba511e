package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Criteria selects how a collateral identifier is matched on-chain
type Criteria uint8

const (
	// CriteriaSimple compares the identifier with the token id directly
	CriteriaSimple Criteria = iota
	// CriteriaProof validates the token id against a Merkle proof
	CriteriaProof
)

// String returns the criteria name
func (c Criteria) String() string {
	switch c {
	case CriteriaSimple:
		return "SIMPLE"
	case CriteriaProof:
		return "PROOF"
	default:
		return fmt.Sprintf("Criteria(%d)", uint8(c))
	}
}

// ItemType is the token standard of a collateral item
type ItemType uint8

const (
	ItemTypeERC721 ItemType = iota
	ItemTypeERC1155
)

// String returns the token standard name
func (t ItemType) String() string {
	switch t {
	case ItemTypeERC721:
		return "ERC721"
	case ItemTypeERC1155:
		return "ERC1155"
	default:
		return fmt.Sprintf("ItemType(%d)", uint8(t))
	}
}

// Side is the direction of a market offer
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

// String returns the side name
func (s Side) String() string {
	if s == SideAsk {
		return "ASK"
	}
	return "BID"
}

// OfferKind discriminates the three offer variants
type OfferKind uint8

const (
	OfferKindLoan OfferKind = iota
	OfferKindBorrow
	OfferKindMarket
)

// String returns the kind name
func (k OfferKind) String() string {
	switch k {
	case OfferKindLoan:
		return "loan"
	case OfferKindBorrow:
		return "borrow"
	case OfferKindMarket:
		return "market"
	default:
		return fmt.Sprintf("OfferKind(%d)", uint8(k))
	}
}

// Collateral describes the NFT an offer is about
type Collateral struct {
	Collection common.Address `json:"collection"`
	Criteria   Criteria       `json:"criteria"`
	ItemType   ItemType       `json:"itemType"`
	Identifier *big.Int       `json:"identifier"`
	Size       *big.Int       `json:"size"`
}

// ID returns the composite key of the collateral item
func (c Collateral) ID() CollateralID {
	return NewCollateralID(c.Collection, c.Identifier)
}

// FeeTerms is the protocol fee attached to an offer. Rate is in basis points.
type FeeTerms struct {
	Recipient common.Address `json:"recipient"`
	Rate      *big.Int       `json:"rate"`
}

// LoanOfferTerms are the terms a lender commits to
type LoanOfferTerms struct {
	Currency    common.Address `json:"currency"`
	TotalAmount *big.Int       `json:"totalAmount"`
	MaxAmount   *big.Int       `json:"maxAmount"`
	MinAmount   *big.Int       `json:"minAmount"`
	Rate        *big.Int       `json:"rate"`
	DefaultRate *big.Int       `json:"defaultRate"`
	Duration    *big.Int       `json:"duration"`
	GracePeriod *big.Int       `json:"gracePeriod"`
}

// Validate checks minAmount <= maxAmount <= totalAmount
func (t LoanOfferTerms) Validate() error {
	if t.TotalAmount == nil || t.MaxAmount == nil || t.MinAmount == nil {
		return fmt.Errorf("loan terms: amounts must be set")
	}
	if t.MinAmount.Cmp(t.MaxAmount) > 0 {
		return fmt.Errorf("loan terms: minAmount %s exceeds maxAmount %s", t.MinAmount, t.MaxAmount)
	}
	if t.MaxAmount.Cmp(t.TotalAmount) > 0 {
		return fmt.Errorf("loan terms: maxAmount %s exceeds totalAmount %s", t.MaxAmount, t.TotalAmount)
	}
	return nil
}

// BorrowOfferTerms are the terms a borrower asks for
type BorrowOfferTerms struct {
	Currency    common.Address `json:"currency"`
	Amount      *big.Int       `json:"amount"`
	Rate        *big.Int       `json:"rate"`
	DefaultRate *big.Int       `json:"defaultRate"`
	Duration    *big.Int       `json:"duration"`
	GracePeriod *big.Int       `json:"gracePeriod"`
}

// MarketOfferTerms are the price terms of a bid or ask
type MarketOfferTerms struct {
	Currency      common.Address `json:"currency"`
	Amount        *big.Int       `json:"amount"`
	WithLoan      bool           `json:"withLoan"`
	BorrowAmount  *big.Int       `json:"borrowAmount"`
	LoanOfferHash common.Hash    `json:"loanOfferHash"`
}

// Header holds the fields every offer variant shares
type Header struct {
	Maker      common.Address
	Collateral Collateral
	Currency   common.Address
	Fee        FeeTerms
	Expiration *big.Int
	Salt       *big.Int
	Nonce      *big.Int
}

// Offer is the closed set {*LoanOffer, *BorrowOffer, *MarketOffer}.
// Consumers type-switch on the concrete type.
type Offer interface {
	Kind() OfferKind
	Header() Header
	sealed()
}

// LoanOffer is a lender's signed intent to fund a loan against collateral
type LoanOffer struct {
	Lender     common.Address `json:"lender"`
	Collateral Collateral     `json:"collateral"`
	Terms      LoanOfferTerms `json:"terms"`
	Fee        FeeTerms       `json:"fee"`
	Expiration *big.Int       `json:"expiration"`
	Salt       *big.Int       `json:"salt"`
	Nonce      *big.Int       `json:"nonce"`
}

func (o *LoanOffer) Kind() OfferKind { return OfferKindLoan }
func (o *LoanOffer) sealed()         {}

// Header returns the shared fields of the offer
func (o *LoanOffer) Header() Header {
	return Header{
		Maker:      o.Lender,
		Collateral: o.Collateral,
		Currency:   o.Terms.Currency,
		Fee:        o.Fee,
		Expiration: o.Expiration,
		Salt:       o.Salt,
		Nonce:      o.Nonce,
	}
}

// BorrowOffer is a borrower's signed request for a loan against collateral
type BorrowOffer struct {
	Borrower   common.Address   `json:"borrower"`
	Collateral Collateral       `json:"collateral"`
	Terms      BorrowOfferTerms `json:"terms"`
	Fee        FeeTerms         `json:"fee"`
	Expiration *big.Int         `json:"expiration"`
	Salt       *big.Int         `json:"salt"`
	Nonce      *big.Int         `json:"nonce"`
}

func (o *BorrowOffer) Kind() OfferKind { return OfferKindBorrow }
func (o *BorrowOffer) sealed()         {}

// Header returns the shared fields of the offer
func (o *BorrowOffer) Header() Header {
	return Header{
		Maker:      o.Borrower,
		Collateral: o.Collateral,
		Currency:   o.Terms.Currency,
		Fee:        o.Fee,
		Expiration: o.Expiration,
		Salt:       o.Salt,
		Nonce:      o.Nonce,
	}
}

// MarketOffer is a signed bid or ask for collateral
type MarketOffer struct {
	Side       Side             `json:"side"`
	Maker      common.Address   `json:"maker"`
	Collateral Collateral       `json:"collateral"`
	Terms      MarketOfferTerms `json:"terms"`
	Fee        FeeTerms         `json:"fee"`
	Expiration *big.Int         `json:"expiration"`
	Salt       *big.Int         `json:"salt"`
	Nonce      *big.Int         `json:"nonce"`
}

func (o *MarketOffer) Kind() OfferKind { return OfferKindMarket }
func (o *MarketOffer) sealed()         {}

// Header returns the shared fields of the offer
func (o *MarketOffer) Header() Header {
	return Header{
		Maker:      o.Maker,
		Collateral: o.Collateral,
		Currency:   o.Terms.Currency,
		Fee:        o.Fee,
		Expiration: o.Expiration,
		Salt:       o.Salt,
		Nonce:      o.Nonce,
	}
}

// Normalize clears the loan fields of ASK offers, which only bids may use
func (o *MarketOffer) Normalize() {
	if o.Terms.BorrowAmount == nil {
		o.Terms.BorrowAmount = new(big.Int)
	}
	if o.Side == SideAsk {
		o.Terms.WithLoan = false
		o.Terms.BorrowAmount = new(big.Int)
		o.Terms.LoanOfferHash = common.Hash{}
	}
}

// IsExpired reports whether an offer expiration lies in the past
func IsExpired(expiration *big.Int, now time.Time) bool {
	if expiration == nil {
		return true
	}
	return expiration.Cmp(big.NewInt(now.Unix())) < 0
}

// OfferWithHash pairs an offer with its identity hash
type OfferWithHash struct {
	Offer Offer
	Hash  common.Hash
}

// SignedOffer is the bundle handed to a taker
type SignedOffer struct {
	Kind      OfferKind `json:"type"`
	Offer     Offer     `json:"offer"`
	Signature []byte    `json:"signature"`
}

// CheckFields verifies every integer field of offer is a valid uint256.
// Unset fields encode as zero and pass.
func CheckFields(offer Offer) error {
	type field struct {
		name  string
		value *big.Int
	}
	var fields []field
	h := offer.Header()
	fields = append(fields,
		field{"collateral.identifier", h.Collateral.Identifier},
		field{"collateral.size", h.Collateral.Size},
		field{"fee.rate", h.Fee.Rate},
		field{"expiration", h.Expiration},
		field{"salt", h.Salt},
		field{"nonce", h.Nonce})

	switch o := offer.(type) {
	case *LoanOffer:
		fields = append(fields,
			field{"terms.totalAmount", o.Terms.TotalAmount},
			field{"terms.maxAmount", o.Terms.MaxAmount},
			field{"terms.minAmount", o.Terms.MinAmount},
			field{"terms.rate", o.Terms.Rate},
			field{"terms.defaultRate", o.Terms.DefaultRate},
			field{"terms.duration", o.Terms.Duration},
			field{"terms.gracePeriod", o.Terms.GracePeriod})
	case *BorrowOffer:
		fields = append(fields,
			field{"terms.amount", o.Terms.Amount},
			field{"terms.rate", o.Terms.Rate},
			field{"terms.defaultRate", o.Terms.DefaultRate},
			field{"terms.duration", o.Terms.Duration},
			field{"terms.gracePeriod", o.Terms.GracePeriod})
	case *MarketOffer:
		fields = append(fields,
			field{"terms.amount", o.Terms.Amount},
			field{"terms.borrowAmount", o.Terms.BorrowAmount})
	}

	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := CheckAmount(f.value); err != nil {
			return fmt.Errorf("%s %s: %w", offer.Kind(), f.name, err)
		}
	}
	return nil
}
