// Package oracle answers the balance, allowance and collateral questions the
// validators and the action builder ask about a single account.
package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/pkg/types"
)

// Oracle reads token state through a connected chain client
type Oracle struct {
	client *chain.Client
}

// New creates an oracle on top of client
func New(client *chain.Client) *Oracle {
	return &Oracle{client: client}
}

// Balance returns owner's balance of an ERC-20 currency
func (o *Oracle) Balance(ctx context.Context, owner, currency common.Address) (*big.Int, error) {
	token, err := chain.NewERC20(o.client, currency)
	if err != nil {
		return nil, err
	}
	return token.BalanceOf(ctx, owner)
}

// CurrencyBalance reports whether owner holds at least required of currency
func (o *Oracle) CurrencyBalance(ctx context.Context, owner, currency common.Address, required *big.Int) (bool, error) {
	balance, err := o.Balance(ctx, owner, currency)
	if err != nil {
		return false, err
	}
	return balance.Cmp(orZero(required)) >= 0, nil
}

// CurrencyAllowance returns how much of currency spender may pull from owner
func (o *Oracle) CurrencyAllowance(ctx context.Context, owner, currency, spender common.Address) (*big.Int, error) {
	token, err := chain.NewERC20(o.client, currency)
	if err != nil {
		return nil, err
	}
	return token.Allowance(ctx, owner, spender)
}

// CollateralBalance reports whether owner holds the collateral: ownership for
// ERC-721, a balance of at least size for ERC-1155. A failed read, including
// ownerOf reverting for an unminted token, means not held.
func (o *Oracle) CollateralBalance(ctx context.Context, owner common.Address, collateral types.Collateral) bool {
	collection, err := chain.NewCollection(o.client, collateral.Collection, collateral.ItemType)
	if err != nil {
		logging.Debug("collateral balance unavailable", logging.Err(err))
		return false
	}

	if collateral.ItemType == types.ItemTypeERC721 {
		holder, err := collection.OwnerOf(ctx, collateral.Identifier)
		if err != nil {
			logging.Debug("ownerOf failed",
				"collection", collateral.Collection.Hex(),
				"identifier", orZero(collateral.Identifier).String(),
				logging.Err(err))
			return false
		}
		return holder == owner
	}

	balance, err := collection.BalanceOf(ctx, owner, collateral.Identifier)
	if err != nil {
		logging.Debug("balanceOf failed",
			"collection", collateral.Collection.Hex(),
			"identifier", orZero(collateral.Identifier).String(),
			logging.Err(err))
		return false
	}
	size := collateral.Size
	if size == nil || size.Sign() == 0 {
		size = big.NewInt(1)
	}
	return balance.Cmp(size) >= 0
}

// CollateralApprovedForAll reports whether operator may move every item of
// owner in collection. The call is identical for both token standards.
func (o *Oracle) CollateralApprovedForAll(ctx context.Context, owner, collection, operator common.Address) (bool, error) {
	c, err := chain.NewCollection(o.client, collection, types.ItemTypeERC721)
	if err != nil {
		return false, err
	}
	return c.IsApprovedForAll(ctx, owner, operator)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
