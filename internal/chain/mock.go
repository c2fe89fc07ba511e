package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/internal/accrual"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/pkg/types"
)

// MockTx is a transaction accepted by MockChain, decoded against the ABI of
// its target
type MockTx struct {
	Hash   common.Hash
	From   common.Address
	To     common.Address
	Method string
	Args   []interface{}
}

type mockCollection struct {
	itemType  types.ItemType
	owners    map[string]common.Address
	balances  map[common.Address]map[string]*big.Int
	operators map[common.Address]map[common.Address]bool
}

type failKey struct {
	target common.Address
	method string
}

// MockChain is an in-memory Backend that executes the ERC-20, ERC-721,
// ERC-1155, Multicall3 and settlement contract surface the engine uses, so
// every code path above the RPC boundary runs unchanged in tests and in
// --mock mode.
type MockChain struct {
	mu sync.Mutex

	chainID   *big.Int
	kettle    common.Address
	multicall common.Address
	hasher    *signing.Hasher
	now       time.Time
	block     uint64

	balances    map[common.Address]map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]map[common.Address]*big.Int
	collections map[common.Address]*mockCollection
	nonces      map[common.Address]*big.Int
	consumed    map[common.Address]map[string]bool
	amountTaken map[common.Hash]*big.Int

	txNonces     map[common.Address]uint64
	receipts     map[common.Hash]*ethtypes.Receipt
	pending      []*ethtypes.Receipt
	holdReceipts bool
	failures     map[failKey]bool
	rejectAll    bool
	txs          []MockTx
	calls        int
}

// NewMockChain creates a chain with the settlement and Multicall3
// contracts deployed at the given addresses
func NewMockChain(chainID int64, kettle, multicall common.Address) *MockChain {
	id := big.NewInt(chainID)
	return &MockChain{
		chainID:     id,
		kettle:      kettle,
		multicall:   multicall,
		hasher:      signing.NewHasher(id, kettle),
		now:         time.Unix(1_700_000_000, 0),
		block:       1,
		balances:    make(map[common.Address]map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		collections: make(map[common.Address]*mockCollection),
		nonces:      make(map[common.Address]*big.Int),
		consumed:    make(map[common.Address]map[string]bool),
		amountTaken: make(map[common.Hash]*big.Int),
		txNonces:    make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*ethtypes.Receipt),
		failures:    make(map[failKey]bool),
	}
}

// Seeding

// SetTime sets the timestamp of the latest block
func (m *MockChain) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Now returns the timestamp of the latest block
func (m *MockChain) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AddToken deploys an ERC-20 at addr
func (m *MockChain) AddToken(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token(addr)
}

// AddCollection deploys a collection of the given standard at addr
func (m *MockChain) AddCollection(addr common.Address, itemType types.ItemType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(addr, itemType)
}

// SetBalance sets an ERC-20 balance, deploying the token if needed
func (m *MockChain) SetBalance(token, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token(token)[owner] = new(big.Int).Set(amount)
}

// SetAllowance sets an ERC-20 allowance, deploying the token if needed
func (m *MockChain) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAllowance(token, owner, spender, amount)
}

// Mint721 assigns an ERC-721 token to owner
func (m *MockChain) Mint721(collection common.Address, tokenID *big.Int, owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection, types.ItemTypeERC721).owners[tokenID.String()] = owner
}

// Mint1155 sets an ERC-1155 balance
func (m *MockChain) Mint1155(collection common.Address, id *big.Int, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection, types.ItemTypeERC1155)
	if c.balances[owner] == nil {
		c.balances[owner] = make(map[string]*big.Int)
	}
	c.balances[owner][id.String()] = new(big.Int).Set(amount)
}

// SetApprovalForAll sets operator rights on a collection
func (m *MockChain) SetApprovalForAll(collection, owner, operator common.Address, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = m.collection(collection, types.ItemTypeERC721)
	}
	m.setOperator(c, owner, operator, approved)
}

// SetNonce sets a user's settlement nonce
func (m *MockChain) SetNonce(user common.Address, nonce *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[user] = new(big.Int).Set(nonce)
}

// SetCancelled marks (user, salt) as cancelled or fulfilled
func (m *MockChain) SetCancelled(user common.Address, salt *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consume(user, salt)
}

// SetAmountTaken sets the principal already lent from an offer
func (m *MockChain) SetAmountTaken(offerHash common.Hash, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amountTaken[offerHash] = new(big.Int).Set(amount)
}

// FailCall makes every call and transaction of method on target revert
func (m *MockChain) FailCall(target common.Address, method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[failKey{target, method}] = true
}

// FailAllCalls makes every eth_call fail with a transport error
func (m *MockChain) FailAllCalls(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectAll = fail
}

// HoldReceipts keeps new transactions pending until ReleaseReceipts
func (m *MockChain) HoldReceipts(hold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdReceipts = hold
}

// ReleaseReceipts mines every held transaction
func (m *MockChain) ReleaseReceipts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.pending {
		m.mine(r)
	}
	m.pending = nil
}

// Transactions returns the accepted transactions in order
func (m *MockChain) Transactions() []MockTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockTx, len(m.txs))
	copy(out, m.txs)
	return out
}

// CallCount returns the number of eth_call requests served
func (m *MockChain) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Backend implementation

// ChainID returns the configured chain id
func (m *MockChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

// BlockNumber returns the latest block number
func (m *MockChain) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block, nil
}

// HeaderByNumber returns a pre-London header for the latest block
func (m *MockChain) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ethtypes.Header{
		Number: new(big.Int).SetUint64(m.block),
		Time:   uint64(m.now.Unix()),
	}, nil
}

// CodeAt returns non-empty code for deployed contracts
func (m *MockChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasCode(contract) {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

// PendingCodeAt is CodeAt for the pending block
func (m *MockChain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return m.CodeAt(ctx, account, nil)
}

// PendingNonceAt returns the next transaction nonce of account
func (m *MockChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txNonces[account], nil
}

// SuggestGasPrice returns a fixed 1 gwei
func (m *MockChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

// SuggestGasTipCap returns a fixed 1 gwei
func (m *MockChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

// EstimateGas reverts for failing methods and returns a fixed limit otherwise
func (m *MockChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if call.To == nil {
		return 0, errors.New("contract creation is not supported")
	}
	if method, ok := m.methodFor(*call.To, call.Data); ok && m.failures[failKey{*call.To, method.Name}] {
		return 0, fmt.Errorf("%w: %s", ErrExecutionReverted, method.Name)
	}
	return 250_000, nil
}

// FilterLogs returns no logs
func (m *MockChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return nil, nil
}

// SubscribeFilterLogs is not supported
func (m *MockChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions are not supported")
}

// TransactionReceipt returns the receipt of a mined transaction
func (m *MockChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// CallContract executes a read against the in-memory state
func (m *MockChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.rejectAll {
		return nil, errors.New("connection refused")
	}
	if call.To == nil {
		return nil, errors.New("missing call target")
	}
	return m.call(*call.To, call.Data)
}

// SendTransaction verifies the sender and nonce, then applies the call
func (m *MockChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(m.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if want := m.txNonces[from]; tx.Nonce() != want {
		return fmt.Errorf("invalid nonce: have %d, want %d", tx.Nonce(), want)
	}
	if tx.To() == nil {
		return errors.New("contract creation is not supported")
	}
	m.txNonces[from]++

	status := ethtypes.ReceiptStatusSuccessful
	method, args, err := m.decode(*tx.To(), tx.Data())
	if err == nil {
		err = m.apply(from, *tx.To(), method, args)
	}
	if err != nil {
		status = ethtypes.ReceiptStatusFailed
	}
	name := ""
	if method != nil {
		name = method.Name
	}
	m.txs = append(m.txs, MockTx{Hash: tx.Hash(), From: from, To: *tx.To(), Method: name, Args: args})

	receipt := &ethtypes.Receipt{
		Status:  status,
		TxHash:  tx.Hash(),
		GasUsed: 21_000,
	}
	if m.holdReceipts {
		m.pending = append(m.pending, receipt)
		return nil
	}
	m.mine(receipt)
	return nil
}

// internals; callers hold m.mu

func (m *MockChain) mine(r *ethtypes.Receipt) {
	m.block++
	r.BlockNumber = new(big.Int).SetUint64(m.block)
	m.receipts[r.TxHash] = r
}

func (m *MockChain) token(addr common.Address) map[common.Address]*big.Int {
	if m.balances[addr] == nil {
		m.balances[addr] = make(map[common.Address]*big.Int)
	}
	return m.balances[addr]
}

func (m *MockChain) collection(addr common.Address, itemType types.ItemType) *mockCollection {
	c, ok := m.collections[addr]
	if !ok {
		c = &mockCollection{
			itemType:  itemType,
			owners:    make(map[string]common.Address),
			balances:  make(map[common.Address]map[string]*big.Int),
			operators: make(map[common.Address]map[common.Address]bool),
		}
		m.collections[addr] = c
	}
	return c
}

func (m *MockChain) setAllowance(token, owner, spender common.Address, amount *big.Int) {
	m.token(token)
	if m.allowances[token] == nil {
		m.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if m.allowances[token][owner] == nil {
		m.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	m.allowances[token][owner][spender] = new(big.Int).Set(amount)
}

func (m *MockChain) setOperator(c *mockCollection, owner, operator common.Address, approved bool) {
	if c.operators[owner] == nil {
		c.operators[owner] = make(map[common.Address]bool)
	}
	c.operators[owner][operator] = approved
}

func (m *MockChain) consume(user common.Address, salt *big.Int) {
	if m.consumed[user] == nil {
		m.consumed[user] = make(map[string]bool)
	}
	m.consumed[user][salt.String()] = true
}

func (m *MockChain) hasCode(addr common.Address) bool {
	if addr == m.kettle || addr == m.multicall {
		return true
	}
	if _, ok := m.balances[addr]; ok {
		return true
	}
	_, ok := m.collections[addr]
	return ok
}

func (m *MockChain) abiFor(target common.Address) (abi.ABI, bool) {
	switch {
	case target == m.kettle:
		return KettleContractABI, true
	case target == m.multicall:
		return Multicall3ContractABI, true
	}
	if _, ok := m.balances[target]; ok {
		return ERC20ContractABI, true
	}
	if c, ok := m.collections[target]; ok {
		return CollectionABI(c.itemType), true
	}
	return abi.ABI{}, false
}

func (m *MockChain) methodFor(target common.Address, data []byte) (*abi.Method, bool) {
	parsed, ok := m.abiFor(target)
	if !ok || len(data) < 4 {
		return nil, false
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, false
	}
	return method, true
}

func (m *MockChain) decode(target common.Address, data []byte) (*abi.Method, []interface{}, error) {
	method, ok := m.methodFor(target, data)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown method", ErrExecutionReverted)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return method, nil, fmt.Errorf("%w: bad calldata: %v", ErrExecutionReverted, err)
	}
	return method, args, nil
}

// call runs a read. Calls to addresses without code succeed with empty
// output, as on a real chain.
func (m *MockChain) call(target common.Address, data []byte) ([]byte, error) {
	if !m.hasCode(target) {
		return nil, nil
	}
	method, args, err := m.decode(target, data)
	if err != nil {
		return nil, err
	}
	if m.failures[failKey{target, method.Name}] {
		return nil, fmt.Errorf("%w: %s", ErrExecutionReverted, method.Name)
	}

	var out []interface{}
	switch {
	case target == m.multicall:
		out, err = m.readMulticall(method.Name, args)
	case target == m.kettle:
		out, err = m.readKettle(method.Name, args)
	default:
		if c, ok := m.collections[target]; ok {
			out, err = m.readCollection(c, method.Name, args)
		} else {
			out, err = m.readToken(target, method.Name, args)
		}
	}
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (m *MockChain) readMulticall(name string, args []interface{}) ([]interface{}, error) {
	if name != "tryAggregate" {
		return nil, fmt.Errorf("%w: %s", ErrExecutionReverted, name)
	}
	calls, err := convertTuple[[]MulticallCall](args[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	}
	results := make([]MulticallResult, len(calls))
	for i, c := range calls {
		data, err := m.call(c.Target, c.CallData)
		if err != nil || data == nil {
			data = []byte{}
		}
		results[i] = MulticallResult{Success: err == nil, ReturnData: data}
	}
	return []interface{}{results}, nil
}

func (m *MockChain) readToken(token common.Address, name string, args []interface{}) ([]interface{}, error) {
	switch name {
	case "balanceOf":
		return []interface{}{bigOrZero(m.balances[token][args[0].(common.Address)])}, nil
	case "allowance":
		owner, spender := args[0].(common.Address), args[1].(common.Address)
		return []interface{}{bigOrZero(m.allowances[token][owner][spender])}, nil
	}
	return nil, fmt.Errorf("%w: %s is not a view", ErrExecutionReverted, name)
}

func (m *MockChain) readCollection(c *mockCollection, name string, args []interface{}) ([]interface{}, error) {
	switch name {
	case "ownerOf":
		owner, ok := c.owners[args[0].(*big.Int).String()]
		if !ok {
			return nil, fmt.Errorf("%w: invalid token id", ErrExecutionReverted)
		}
		return []interface{}{owner}, nil
	case "balanceOf":
		account, id := args[0].(common.Address), args[1].(*big.Int)
		return []interface{}{bigOrZero(c.balances[account][id.String()])}, nil
	case "isApprovedForAll":
		owner, operator := args[0].(common.Address), args[1].(common.Address)
		return []interface{}{c.operators[owner][operator]}, nil
	}
	return nil, fmt.Errorf("%w: %s is not a view", ErrExecutionReverted, name)
}

func (m *MockChain) readKettle(name string, args []interface{}) ([]interface{}, error) {
	switch name {
	case "nonces":
		return []interface{}{bigOrZero(m.nonces[args[0].(common.Address)])}, nil
	case "cancelledOrFulfilled":
		user, salt := args[0].(common.Address), args[1].(*big.Int)
		if m.consumed[user][salt.String()] {
			return []interface{}{big.NewInt(1)}, nil
		}
		return []interface{}{new(big.Int)}, nil
	case "amountTaken":
		return []interface{}{bigOrZero(m.amountTaken[common.Hash(args[0].([32]byte))])}, nil
	case "currentDebtAmount":
		lien, err := m.lienArg(args[0])
		if err != nil {
			return nil, err
		}
		debt, err := accrual.ForLien(lien, m.now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionReverted, err)
		}
		return []interface{}{debt.Debt, debt.FeeInterest, debt.LenderInterest}, nil
	case "hashLoanOffer", "hashBorrowOffer", "hashMarketOffer":
		offer, err := m.offerArg(name, args[0])
		if err != nil {
			return nil, err
		}
		h, err := m.hasher.Hash(offer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionReverted, err)
		}
		return []interface{}{[32]byte(h)}, nil
	}
	return nil, fmt.Errorf("%w: %s is not a view", ErrExecutionReverted, name)
}

func (m *MockChain) lienArg(v interface{}) (*types.Lien, error) {
	t, err := convertTuple[lienTuple](v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	}
	return fromLienTuple(t), nil
}

func (m *MockChain) offerArg(method string, v interface{}) (types.Offer, error) {
	var (
		offer types.Offer
		err   error
	)
	switch method {
	case "hashLoanOffer", "borrow", "refinance":
		var t loanOfferTuple
		if t, err = convertTuple[loanOfferTuple](v); err == nil {
			offer = fromLoanOfferTuple(t)
		}
	case "hashBorrowOffer", "loan":
		var t borrowOfferTuple
		if t, err = convertTuple[borrowOfferTuple](v); err == nil {
			offer = fromBorrowOfferTuple(t)
		}
	default:
		var t marketOfferTuple
		if t, err = convertTuple[marketOfferTuple](v); err == nil {
			offer = fromMarketOfferTuple(t)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionReverted, err)
	}
	return offer, nil
}

// apply executes the state changes of a transaction. Settlement methods
// only mark offers consumed; asset movements are not modelled.
func (m *MockChain) apply(from, target common.Address, method *abi.Method, args []interface{}) error {
	if m.failures[failKey{target, method.Name}] {
		return fmt.Errorf("%w: %s", ErrExecutionReverted, method.Name)
	}
	if c, ok := m.collections[target]; ok {
		if method.Name == "setApprovalForAll" {
			m.setOperator(c, from, args[0].(common.Address), args[1].(bool))
		}
		return nil
	}
	if target != m.kettle {
		if method.Name == "approve" {
			m.setAllowance(target, from, args[0].(common.Address), args[1].(*big.Int))
		}
		return nil
	}

	switch method.Name {
	case "cancelOffer":
		m.consume(from, args[0].(*big.Int))
	case "cancelOffers":
		for _, salt := range args[0].([]*big.Int) {
			m.consume(from, salt)
		}
	case "incrementNonce":
		m.nonces[from] = new(big.Int).Add(bigOrZero(m.nonces[from]), big.NewInt(1))
	case "borrow", "refinance":
		offerArg := args[0]
		if method.Name == "refinance" {
			offerArg = args[3]
		}
		offer, err := m.offerArg(method.Name, offerArg)
		if err != nil {
			return err
		}
		h, err := m.hasher.Hash(offer)
		if err != nil {
			return err
		}
		m.amountTaken[h] = new(big.Int).Add(bigOrZero(m.amountTaken[h]), args[1].(*big.Int))
	case "loan":
		offer, err := m.offerArg(method.Name, args[0])
		if err != nil {
			return err
		}
		m.consume(offer.Header().Maker, offer.Header().Salt)
	case "marketOrder":
		offer, err := m.offerArg(method.Name, args[1])
		if err != nil {
			return err
		}
		m.consume(offer.Header().Maker, offer.Header().Salt)
	case "buyInLien", "sellInLien":
		offer, err := m.offerArg(method.Name, args[2])
		if err != nil {
			return err
		}
		m.consume(offer.Header().Maker, offer.Header().Salt)
	}
	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
