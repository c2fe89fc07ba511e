package validation

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/multicall"
	"github.com/kettlefi/kettle/internal/oracle"
	"github.com/kettlefi/kettle/pkg/types"
)

var errMissing = errors.New("missing result")

// facts is the on-chain state the rules look at. The batch implementation
// answers from one multicall response, the point implementation reads each
// fact when the rules first ask for it.
type facts interface {
	holds(ctx context.Context, owner common.Address, c types.Collateral) (bool, error)
	approvedForAll(ctx context.Context, owner, collection common.Address) (bool, error)
	balance(ctx context.Context, owner, currency common.Address) (*big.Int, error)
	allowance(ctx context.Context, owner, currency common.Address) (*big.Int, error)
	amountTaken(ctx context.Context, offerHash common.Hash) (*big.Int, error)
	// lienDebt reports ok=false when the debt is unavailable; the rules then
	// treat the lien as absent
	lienDebt(ctx context.Context, lien *types.Lien) (debt *big.Int, ok bool, err error)
	cancelled(ctx context.Context, maker common.Address, salt *big.Int) (bool, error)
	nonce(ctx context.Context, maker common.Address) (*big.Int, error)
}

// keys builds the call key of every fact. The same constructors are used to
// build the batch request and to read its response.
type keys struct {
	kettle common.Address
}

type request struct {
	key  multicall.CallKey
	abi  *abi.ABI
	args []interface{}
	// a revert is an answer (not held) rather than missing data
	revertIsAnswer bool
}

func (k keys) holds(owner common.Address, c types.Collateral) request {
	if c.ItemType == types.ItemTypeERC721 {
		return request{
			key:            multicall.CallKey{Target: c.Collection, Method: "ownerOf", Ref: multicall.IdentifierRef(c.Identifier)},
			abi:            &chain.ERC721ContractABI,
			args:           []interface{}{orZero(c.Identifier)},
			revertIsAnswer: true,
		}
	}
	return request{
		key:            multicall.CallKey{Target: c.Collection, Method: "balanceOf", Ref: multicall.HolderRef(owner, c.Identifier)},
		abi:            &chain.ERC1155ContractABI,
		args:           []interface{}{owner, orZero(c.Identifier)},
		revertIsAnswer: true,
	}
}

func (k keys) approvedForAll(owner, collection common.Address) request {
	return request{
		key:  multicall.CallKey{Target: collection, Method: "isApprovedForAll", Ref: multicall.MakerRef(owner)},
		abi:  &chain.ERC721ContractABI,
		args: []interface{}{owner, k.kettle},
	}
}

func (k keys) balance(owner, currency common.Address) request {
	return request{
		key:  multicall.CallKey{Target: currency, Method: "balanceOf", Ref: multicall.MakerRef(owner)},
		abi:  &chain.ERC20ContractABI,
		args: []interface{}{owner},
	}
}

func (k keys) allowance(owner, currency common.Address) request {
	return request{
		key:  multicall.CallKey{Target: currency, Method: "allowance", Ref: multicall.MakerRef(owner)},
		abi:  &chain.ERC20ContractABI,
		args: []interface{}{owner, k.kettle},
	}
}

func (k keys) amountTaken(offerHash common.Hash) request {
	return request{
		key:  multicall.CallKey{Target: k.kettle, Method: "amountTaken", Ref: multicall.OfferRef(offerHash)},
		abi:  &chain.KettleContractABI,
		args: []interface{}{[32]byte(offerHash)},
	}
}

func (k keys) lienDebt(lien *types.Lien) request {
	return request{
		key:  multicall.CallKey{Target: k.kettle, Method: "currentDebtAmount", Ref: multicall.CollateralRef(lien.CollateralID())},
		abi:  &chain.KettleContractABI,
		args: []interface{}{chain.LienArg(lien)},
	}
}

func (k keys) cancelled(maker common.Address, salt *big.Int) request {
	return request{
		key:  multicall.CallKey{Target: k.kettle, Method: "cancelledOrFulfilled", Ref: multicall.SaltRef(maker, salt)},
		abi:  &chain.KettleContractABI,
		args: []interface{}{maker, orZero(salt)},
	}
}

func (k keys) nonce(maker common.Address) request {
	return request{
		key:  multicall.CallKey{Target: k.kettle, Method: "nonces", Ref: multicall.MakerRef(maker)},
		abi:  &chain.KettleContractABI,
		args: []interface{}{maker},
	}
}

// batchFacts answers from a completed multicall
type batchFacts struct {
	keys
	res *multicall.Results
}

func (f batchFacts) holds(_ context.Context, owner common.Address, c types.Collateral) (bool, error) {
	key := f.keys.holds(owner, c).key
	if f.res.Reverted(key) {
		return false, nil
	}
	if c.ItemType == types.ItemTypeERC721 {
		holder, ok := f.res.Address(key)
		if !ok {
			return false, errMissing
		}
		return holder == owner, nil
	}
	balance, ok := f.res.Big(key)
	if !ok {
		return false, errMissing
	}
	return balance.Cmp(size(c)) >= 0, nil
}

func (f batchFacts) approvedForAll(_ context.Context, owner, collection common.Address) (bool, error) {
	approved, ok := f.res.Bool(f.keys.approvedForAll(owner, collection).key)
	if !ok {
		return false, errMissing
	}
	return approved, nil
}

func (f batchFacts) big(r request) (*big.Int, error) {
	v, ok := f.res.Big(r.key)
	if !ok {
		return nil, errMissing
	}
	return v, nil
}

func (f batchFacts) balance(_ context.Context, owner, currency common.Address) (*big.Int, error) {
	return f.big(f.keys.balance(owner, currency))
}

func (f batchFacts) allowance(_ context.Context, owner, currency common.Address) (*big.Int, error) {
	return f.big(f.keys.allowance(owner, currency))
}

func (f batchFacts) amountTaken(_ context.Context, offerHash common.Hash) (*big.Int, error) {
	return f.big(f.keys.amountTaken(offerHash))
}

func (f batchFacts) lienDebt(_ context.Context, lien *types.Lien) (*big.Int, bool, error) {
	debt, ok := f.res.Big(f.keys.lienDebt(lien).key)
	return debt, ok, nil
}

func (f batchFacts) cancelled(_ context.Context, maker common.Address, salt *big.Int) (bool, error) {
	v, err := f.big(f.keys.cancelled(maker, salt))
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

func (f batchFacts) nonce(_ context.Context, maker common.Address) (*big.Int, error) {
	return f.big(f.keys.nonce(maker))
}

// pointFacts reads each fact with its own call
type pointFacts struct {
	oracle *oracle.Oracle
	kettle *chain.Kettle
}

func (f pointFacts) holds(ctx context.Context, owner common.Address, c types.Collateral) (bool, error) {
	return f.oracle.CollateralBalance(ctx, owner, c), nil
}

func (f pointFacts) approvedForAll(ctx context.Context, owner, collection common.Address) (bool, error) {
	return f.oracle.CollateralApprovedForAll(ctx, owner, collection, f.kettle.Address())
}

func (f pointFacts) balance(ctx context.Context, owner, currency common.Address) (*big.Int, error) {
	return f.oracle.Balance(ctx, owner, currency)
}

func (f pointFacts) allowance(ctx context.Context, owner, currency common.Address) (*big.Int, error) {
	return f.oracle.CurrencyAllowance(ctx, owner, currency, f.kettle.Address())
}

func (f pointFacts) amountTaken(ctx context.Context, offerHash common.Hash) (*big.Int, error) {
	return f.kettle.AmountTaken(ctx, offerHash)
}

func (f pointFacts) lienDebt(ctx context.Context, lien *types.Lien) (*big.Int, bool, error) {
	debt, err := f.kettle.CurrentDebtAmount(ctx, lien)
	if err != nil {
		if chain.IsRevert(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return debt.Debt, true, nil
}

func (f pointFacts) cancelled(ctx context.Context, maker common.Address, salt *big.Int) (bool, error) {
	return f.kettle.CancelledOrFulfilled(ctx, maker, orZero(salt))
}

func (f pointFacts) nonce(ctx context.Context, maker common.Address) (*big.Int, error) {
	return f.kettle.Nonce(ctx, maker)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func size(c types.Collateral) *big.Int {
	if c.Size == nil || c.Size.Sign() == 0 {
		return big.NewInt(1)
	}
	return c.Size
}
