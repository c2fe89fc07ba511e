package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ERC20 is a bound ERC-20 currency contract
type ERC20 struct {
	client   *Client
	address  common.Address
	contract *bind.BoundContract
}

// NewERC20 binds the currency at addr
func NewERC20(client *Client, addr common.Address) (*ERC20, error) {
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}
	return &ERC20{
		client:   client,
		address:  addr,
		contract: bind.NewBoundContract(addr, ERC20ContractABI, backend, backend, backend),
	}, nil
}

// Address returns the currency address
func (e *ERC20) Address() common.Address { return e.address }

// BalanceOf returns the token balance for an address
func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var result []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &result, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return firstBig(result)
}

// Allowance returns how much spender may pull from owner
func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var result []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &result, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return firstBig(result)
}

// Approve lets spender pull amount from the bound signer
func (e *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*ethtypes.Transaction, error) {
	tx, err := e.client.Transact(ctx, func(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
		return e.contract.Transact(opts, "approve", spender, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to approve: %w", err)
	}
	return tx, nil
}

func firstBig(result []interface{}) (*big.Int, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	v, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result[0])
	}
	return v, nil
}
