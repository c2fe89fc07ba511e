package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 is the bound batching contract
type Multicall3 struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewMulticall3 binds the Multicall3 deployment at addr
func NewMulticall3(client *Client, addr common.Address) (*Multicall3, error) {
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}
	return &Multicall3{
		address:  addr,
		contract: bind.NewBoundContract(addr, Multicall3ContractABI, backend, backend, backend),
	}, nil
}

// Address returns the Multicall3 address
func (m *Multicall3) Address() common.Address { return m.address }

// TryAggregate runs calls in one eth_call without requiring success. The
// result has one entry per call, in order.
func (m *Multicall3) TryAggregate(ctx context.Context, calls []MulticallCall) ([]MulticallResult, error) {
	var result []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &result, "tryAggregate", false, calls); err != nil {
		return nil, fmt.Errorf("tryAggregate: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("tryAggregate: empty result")
	}
	out, err := convertTuple[[]MulticallResult](result[0])
	if err != nil {
		return nil, fmt.Errorf("tryAggregate: %w", err)
	}
	if len(out) != len(calls) {
		return nil, fmt.Errorf("tryAggregate: expected %d results, got %d", len(calls), len(out))
	}
	return out, nil
}
