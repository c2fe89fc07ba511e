package validation

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMissingInput is returned when a lien or offer argument is nil
var ErrMissingInput = errors.New("validation: lien and offer are required")

// Reason is a business-rule failure. Reasons are comparable error values:
// callers match them with errors.Is.
type Reason string

func (r Reason) Error() string { return string(r) }

// Offer state
const (
	ReasonInvalidReturnData Reason = "Invalid return data"
	ReasonExpired           Reason = "Offer has expired"
	ReasonCancelled         Reason = "Offer has been cancelled"
	ReasonInvalidNonce      Reason = "Invalid nonce"
	ReasonAmountRemaining   Reason = "Insufficient offer amount remaining"

	// ReasonInvalidOffer marks an offer with a field the contract cannot
	// encode, such as a negative or oversized integer
	ReasonInvalidOffer Reason = "Invalid offer"
)

// Maker solvency and collateral
const (
	ReasonLenderOwnsCollateral   Reason = "Lender cannot own collateral"
	ReasonLenderBalance          Reason = "Insufficient lender balance"
	ReasonLenderAllowance        Reason = "Insufficient lender allowance"
	ReasonBorrowerNotOwner       Reason = "Borrower does not own collateral"
	ReasonBorrowerNotApproved    Reason = "Borrower has not approved collateral"
	ReasonSellerNotOwner         Reason = "Seller does not own collateral"
	ReasonSellerNotApproved      Reason = "Seller has not approved collateral"
	ReasonAskDoesNotCoverDebt    Reason = "Ask does not cover debt"
	ReasonBidderOwnsCollateral   Reason = "Bidder cannot own collateral"
	ReasonMakerBalance           Reason = "Insufficient maker balance"
	ReasonMakerAllowance         Reason = "Insufficient maker allowance"
	ReasonBorrowerBalance        Reason = "Insufficient borrower balance"
	ReasonBuyerBalance           Reason = "Insufficient buyer balance"
	ReasonInsufficientBalance    Reason = "Insufficient balance"
	ReasonInsufficientCollateral Reason = "Insufficient collateral balance"
)

// Lien checks
const (
	ReasonLienCurrencyMismatch   Reason = "Lien currency does not match offer currency"
	ReasonLienCollectionMismatch Reason = "Lien collection does not match offer collection"
	ReasonLienItemTypeMismatch   Reason = "Lien itemType does not match offer itemType"
	ReasonLienTokenIDMismatch    Reason = "Lien tokenId does not match offer tokenId"
	ReasonSellerNotBorrower      Reason = "Seller is not the borrower"
	ReasonLienDefaulted          Reason = "Lien is defaulted"
	ReasonLienNotDefaulted       Reason = "Lien is not defaulted"
	ReasonInvalidBorrower        Reason = "Invalid borrower"
	ReasonCurrencyMismatch       Reason = "Currencies do not match"
	ReasonCollectionMismatch     Reason = "Collections do not match"
	ReasonTokenIDMismatch        Reason = "TokenIds do not match"
)

// Error is the failure raised on the single-offer path. It carries the
// reason and, for failed chain reads, the underlying cause.
type Error struct {
	Reason Reason
	Offer  common.Hash
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

// Unwrap exposes both the reason and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Reason}
}

// ReasonOf extracts the reason from err, if it carries one
func ReasonOf(err error) (Reason, bool) {
	var r Reason
	if errors.As(err, &r) {
		return r, true
	}
	return "", false
}

// fail wraps err into *Error. Reasons are wrapped as they are; anything else
// is a failed read and reported as invalid return data.
func fail(hash common.Hash, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}
	if r, ok := ReasonOf(err); ok {
		return &Error{Reason: r, Offer: hash}
	}
	return &Error{Reason: ReasonInvalidReturnData, Offer: hash, Err: err}
}

// Verdict is the batch outcome for one offer
type Verdict struct {
	Hash   common.Hash `json:"hash"`
	Valid  bool        `json:"valid"`
	Reason Reason      `json:"reason,omitempty"`
}
