package accrual

import (
	"math/big"

	"github.com/kettlefi/kettle/pkg/types"
)

// Preview is what a borrower pays in (Owed) or receives (Paid) when closing
// a lien through a refinance or a sale. At most one side is non-zero.
type Preview struct {
	Owed *big.Int `json:"owed"`
	Paid *big.Int `json:"paid"`
}

// RefinancePreview settles debt against a new loan of maxAmount
func RefinancePreview(debt, maxAmount *big.Int) Preview {
	return settle(debt, maxAmount)
}

// SellInLienPreview settles debt against the net proceeds of a bid
func SellInLienPreview(debt, amount, feeRate *big.Int) Preview {
	return settle(debt, types.NetMarketAmount(amount, feeRate))
}

func settle(debt, proceeds *big.Int) Preview {
	if debt.Cmp(proceeds) > 0 {
		return Preview{Owed: new(big.Int).Sub(debt, proceeds), Paid: new(big.Int)}
	}
	return Preview{Owed: new(big.Int), Paid: new(big.Int).Sub(proceeds, debt)}
}
