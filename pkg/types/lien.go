package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Lien is the on-chain record of an active loan. It is always read from the
// settlement contract and never persisted off-chain.
type Lien struct {
	Recipient   common.Address `json:"recipient"`
	Lender      common.Address `json:"lender"` // zero for liens created from borrow offers
	Borrower    common.Address `json:"borrower"`
	Currency    common.Address `json:"currency"`
	Collection  common.Address `json:"collection"`
	ItemType    ItemType       `json:"itemType"`
	TokenID     *big.Int       `json:"tokenId"`
	Size        *big.Int       `json:"size"`
	Principal   *big.Int       `json:"principal"`
	Rate        *big.Int       `json:"rate"`
	DefaultRate *big.Int       `json:"defaultRate"`
	Fee         *big.Int       `json:"fee"`
	Duration    *big.Int       `json:"duration"`
	GracePeriod *big.Int       `json:"gracePeriod"`
	StartTime   *big.Int       `json:"startTime"`
}

// EndTime is startTime + duration + gracePeriod
func (l *Lien) EndTime() *big.Int {
	end := new(big.Int).Set(bigOrZero(l.StartTime))
	end.Add(end, bigOrZero(l.Duration))
	return end.Add(end, bigOrZero(l.GracePeriod))
}

// IsCurrent reports whether the lien is still inside its grace window
func (l *Lien) IsCurrent(now time.Time) bool {
	return l.EndTime().Cmp(big.NewInt(now.Unix())) > 0
}

// IsDefaulted is the complement of IsCurrent
func (l *Lien) IsDefaulted(now time.Time) bool {
	return !l.IsCurrent(now)
}

// MatchesCollateral reports whether the lien holds exactly this item in this currency
func (l *Lien) MatchesCollateral(collection common.Address, identifier *big.Int, currency common.Address) bool {
	return l.Collection == collection &&
		l.Currency == currency &&
		identifier != nil && l.TokenID != nil &&
		l.TokenID.Cmp(identifier) == 0
}

// CollateralID returns the composite key of the item held by the lien
func (l *Lien) CollateralID() CollateralID {
	return NewCollateralID(l.Collection, l.TokenID)
}

// CollateralID identifies a single collateral item. It is comparable and is
// used directly as a map key.
type CollateralID struct {
	Collection common.Address
	Identifier common.Hash
}

// NewCollateralID builds the key for (collection, identifier)
func NewCollateralID(collection common.Address, identifier *big.Int) CollateralID {
	return CollateralID{
		Collection: collection,
		Identifier: common.BigToHash(bigOrZero(identifier)),
	}
}

// String renders the key as collection/identifier
func (id CollateralID) String() string {
	return id.Collection.Hex() + "/" + id.Identifier.Big().String()
}

// LienSet maps collateral items to the lien currently holding them
type LienSet map[CollateralID]*Lien

// NewLienSet indexes liens by the collateral they hold
func NewLienSet(liens ...*Lien) LienSet {
	set := make(LienSet, len(liens))
	for _, l := range liens {
		if l == nil {
			continue
		}
		set[l.CollateralID()] = l
	}
	return set
}

// Lookup returns the lien on (collection, identifier), if any
func (s LienSet) Lookup(collection common.Address, identifier *big.Int) (*Lien, bool) {
	if s == nil {
		return nil, false
	}
	l, ok := s[NewCollateralID(collection, identifier)]
	return l, ok
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
