package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/pkg/types"
)

// Collection is a bound ERC-721 or ERC-1155 collateral contract
type Collection struct {
	client   *Client
	address  common.Address
	itemType types.ItemType
	contract *bind.BoundContract
}

// CollectionABI returns the ABI matching a token standard
func CollectionABI(itemType types.ItemType) abi.ABI {
	if itemType == types.ItemTypeERC1155 {
		return ERC1155ContractABI
	}
	return ERC721ContractABI
}

// NewCollection binds the collection at addr
func NewCollection(client *Client, addr common.Address, itemType types.ItemType) (*Collection, error) {
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}
	return &Collection{
		client:   client,
		address:  addr,
		itemType: itemType,
		contract: bind.NewBoundContract(addr, CollectionABI(itemType), backend, backend, backend),
	}, nil
}

// Address returns the collection address
func (c *Collection) Address() common.Address { return c.address }

// ItemType returns the token standard the collection was bound with
func (c *Collection) ItemType() types.ItemType { return c.itemType }

// OwnerOf returns the owner of an ERC-721 token
func (c *Collection) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	if c.itemType != types.ItemTypeERC721 {
		return common.Address{}, fmt.Errorf("ownerOf is not defined for %s", c.itemType)
	}
	var result []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &result, "ownerOf", tokenID); err != nil {
		return common.Address{}, fmt.Errorf("failed to get owner: %w", err)
	}
	if len(result) == 0 {
		return common.Address{}, fmt.Errorf("empty result")
	}
	owner, ok := result[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected result type %T", result[0])
	}
	return owner, nil
}

// BalanceOf returns the ERC-1155 balance of account for id
func (c *Collection) BalanceOf(ctx context.Context, account common.Address, id *big.Int) (*big.Int, error) {
	if c.itemType != types.ItemTypeERC1155 {
		return nil, fmt.Errorf("balanceOf(account, id) is not defined for %s", c.itemType)
	}
	var result []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &result, "balanceOf", account, id); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return firstBig(result)
}

// IsApprovedForAll reports whether operator may move all of owner's items
func (c *Collection) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	var result []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &result, "isApprovedForAll", owner, operator); err != nil {
		return false, fmt.Errorf("failed to get approval: %w", err)
	}
	if len(result) == 0 {
		return false, fmt.Errorf("empty result")
	}
	approved, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type %T", result[0])
	}
	return approved, nil
}

// SetApprovalForAll grants or revokes operator rights for the bound signer
func (c *Collection) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (*ethtypes.Transaction, error) {
	tx, err := c.client.Transact(ctx, func(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
		return c.contract.Transact(opts, "setApprovalForAll", operator, approved)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set approval: %w", err)
	}
	return tx, nil
}
