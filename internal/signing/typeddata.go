package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/kettlefi/kettle/pkg/types"
)

const (
	// DomainName and DomainVersion identify the settlement contract's signing domain
	DomainName    = "Kettle"
	DomainVersion = "3"

	primaryLoanOffer   = "LoanOffer"
	primaryBorrowOffer = "BorrowOffer"
	primaryMarketOffer = "MarketOffer"
)

var (
	domainFields = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	collateralFields = []apitypes.Type{
		{Name: "collection", Type: "address"},
		{Name: "criteria", Type: "uint8"},
		{Name: "itemType", Type: "uint8"},
		{Name: "identifier", Type: "uint256"},
		{Name: "size", Type: "uint256"},
	}

	feeTermsFields = []apitypes.Type{
		{Name: "recipient", Type: "address"},
		{Name: "rate", Type: "uint256"},
	}

	loanOfferTypes = apitypes.Types{
		"EIP712Domain": domainFields,
		"Collateral":   collateralFields,
		"FeeTerms":     feeTermsFields,
		"LoanOfferTerms": {
			{Name: "currency", Type: "address"},
			{Name: "totalAmount", Type: "uint256"},
			{Name: "maxAmount", Type: "uint256"},
			{Name: "minAmount", Type: "uint256"},
			{Name: "rate", Type: "uint256"},
			{Name: "defaultRate", Type: "uint256"},
			{Name: "duration", Type: "uint256"},
			{Name: "gracePeriod", Type: "uint256"},
		},
		primaryLoanOffer: {
			{Name: "lender", Type: "address"},
			{Name: "collateral", Type: "Collateral"},
			{Name: "terms", Type: "LoanOfferTerms"},
			{Name: "fee", Type: "FeeTerms"},
			{Name: "expiration", Type: "uint256"},
			{Name: "salt", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}

	borrowOfferTypes = apitypes.Types{
		"EIP712Domain": domainFields,
		"Collateral":   collateralFields,
		"FeeTerms":     feeTermsFields,
		"BorrowOfferTerms": {
			{Name: "currency", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "rate", Type: "uint256"},
			{Name: "defaultRate", Type: "uint256"},
			{Name: "duration", Type: "uint256"},
			{Name: "gracePeriod", Type: "uint256"},
		},
		primaryBorrowOffer: {
			{Name: "borrower", Type: "address"},
			{Name: "collateral", Type: "Collateral"},
			{Name: "terms", Type: "BorrowOfferTerms"},
			{Name: "fee", Type: "FeeTerms"},
			{Name: "expiration", Type: "uint256"},
			{Name: "salt", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}

	marketOfferTypes = apitypes.Types{
		"EIP712Domain": domainFields,
		"Collateral":   collateralFields,
		"FeeTerms":     feeTermsFields,
		"MarketOfferTerms": {
			{Name: "currency", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "withLoan", Type: "bool"},
			{Name: "borrowAmount", Type: "uint256"},
			{Name: "loanOfferHash", Type: "bytes32"},
		},
		primaryMarketOffer: {
			{Name: "side", Type: "uint8"},
			{Name: "maker", Type: "address"},
			{Name: "collateral", Type: "Collateral"},
			{Name: "terms", Type: "MarketOfferTerms"},
			{Name: "fee", Type: "FeeTerms"},
			{Name: "expiration", Type: "uint256"},
			{Name: "salt", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}
)

// Nested structs are plain maps: the encoder type-asserts map[string]interface{}.
// Integers are decimal strings so the same document hashes and serialises for wallets.

func dec(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func collateralMessage(c types.Collateral) map[string]interface{} {
	return map[string]interface{}{
		"collection": c.Collection.Hex(),
		"criteria":   dec(big.NewInt(int64(c.Criteria))),
		"itemType":   dec(big.NewInt(int64(c.ItemType))),
		"identifier": dec(c.Identifier),
		"size":       dec(c.Size),
	}
}

func feeMessage(f types.FeeTerms) map[string]interface{} {
	return map[string]interface{}{
		"recipient": f.Recipient.Hex(),
		"rate":      dec(f.Rate),
	}
}

func loanOfferMessage(o *types.LoanOffer) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"lender":     o.Lender.Hex(),
		"collateral": collateralMessage(o.Collateral),
		"terms": map[string]interface{}{
			"currency":    o.Terms.Currency.Hex(),
			"totalAmount": dec(o.Terms.TotalAmount),
			"maxAmount":   dec(o.Terms.MaxAmount),
			"minAmount":   dec(o.Terms.MinAmount),
			"rate":        dec(o.Terms.Rate),
			"defaultRate": dec(o.Terms.DefaultRate),
			"duration":    dec(o.Terms.Duration),
			"gracePeriod": dec(o.Terms.GracePeriod),
		},
		"fee":        feeMessage(o.Fee),
		"expiration": dec(o.Expiration),
		"salt":       dec(o.Salt),
		"nonce":      dec(o.Nonce),
	}
}

func borrowOfferMessage(o *types.BorrowOffer) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"borrower":   o.Borrower.Hex(),
		"collateral": collateralMessage(o.Collateral),
		"terms": map[string]interface{}{
			"currency":    o.Terms.Currency.Hex(),
			"amount":      dec(o.Terms.Amount),
			"rate":        dec(o.Terms.Rate),
			"defaultRate": dec(o.Terms.DefaultRate),
			"duration":    dec(o.Terms.Duration),
			"gracePeriod": dec(o.Terms.GracePeriod),
		},
		"fee":        feeMessage(o.Fee),
		"expiration": dec(o.Expiration),
		"salt":       dec(o.Salt),
		"nonce":      dec(o.Nonce),
	}
}

func marketOfferMessage(o *types.MarketOffer) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"side":       dec(big.NewInt(int64(o.Side))),
		"maker":      o.Maker.Hex(),
		"collateral": collateralMessage(o.Collateral),
		"terms": map[string]interface{}{
			"currency":      o.Terms.Currency.Hex(),
			"amount":        dec(o.Terms.Amount),
			"withLoan":      o.Terms.WithLoan,
			"borrowAmount":  dec(o.Terms.BorrowAmount),
			"loanOfferHash": o.Terms.LoanOfferHash.Hex(),
		},
		"fee":        feeMessage(o.Fee),
		"expiration": dec(o.Expiration),
		"salt":       dec(o.Salt),
		"nonce":      dec(o.Nonce),
	}
}

// schema returns the types, primary type and message for an offer
func schema(offer types.Offer) (apitypes.Types, string, apitypes.TypedDataMessage, error) {
	switch o := offer.(type) {
	case *types.LoanOffer:
		return loanOfferTypes, primaryLoanOffer, loanOfferMessage(o), nil
	case *types.BorrowOffer:
		return borrowOfferTypes, primaryBorrowOffer, borrowOfferMessage(o), nil
	case *types.MarketOffer:
		return marketOfferTypes, primaryMarketOffer, marketOfferMessage(o), nil
	default:
		return nil, "", nil, fmt.Errorf("unsupported offer type %T", offer)
	}
}
