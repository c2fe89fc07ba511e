package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/internal/accrual"
	"github.com/kettlefi/kettle/pkg/types"
)

// Kettle is the bound settlement contract
type Kettle struct {
	client   *Client
	address  common.Address
	contract *bind.BoundContract
}

// NewKettle binds the settlement contract at addr
func NewKettle(client *Client, addr common.Address) (*Kettle, error) {
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}
	return &Kettle{
		client:   client,
		address:  addr,
		contract: bind.NewBoundContract(addr, KettleContractABI, backend, backend, backend),
	}, nil
}

// Address returns the settlement contract address
func (k *Kettle) Address() common.Address { return k.address }

func (k *Kettle) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var result []interface{}
	if err := k.contract.Call(&bind.CallOpts{Context: ctx}, &result, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}

// Nonce returns the user's current offer nonce
func (k *Kettle) Nonce(ctx context.Context, user common.Address) (*big.Int, error) {
	result, err := k.call(ctx, "nonces", user)
	if err != nil {
		return nil, err
	}
	return firstBig(result)
}

// CancelledOrFulfilled reports whether the (user, salt) pair was consumed
func (k *Kettle) CancelledOrFulfilled(ctx context.Context, user common.Address, salt *big.Int) (bool, error) {
	result, err := k.call(ctx, "cancelledOrFulfilled", user, salt)
	if err != nil {
		return false, err
	}
	v, err := firstBig(result)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// AmountTaken returns the principal already lent from a loan offer
func (k *Kettle) AmountTaken(ctx context.Context, offerHash common.Hash) (*big.Int, error) {
	result, err := k.call(ctx, "amountTaken", [32]byte(offerHash))
	if err != nil {
		return nil, err
	}
	return firstBig(result)
}

// CurrentDebtAmount asks the contract for a lien's debt at the current block
func (k *Kettle) CurrentDebtAmount(ctx context.Context, lien *types.Lien) (accrual.Debt, error) {
	result, err := k.call(ctx, "currentDebtAmount", toLienTuple(lien))
	if err != nil {
		return accrual.Debt{}, err
	}
	if len(result) != 3 {
		return accrual.Debt{}, fmt.Errorf("currentDebtAmount: expected 3 values, got %d", len(result))
	}
	debt := accrual.Debt{}
	for i, dst := range []**big.Int{&debt.Debt, &debt.FeeInterest, &debt.LenderInterest} {
		v, ok := result[i].(*big.Int)
		if !ok {
			return accrual.Debt{}, fmt.Errorf("currentDebtAmount: unexpected type %T", result[i])
		}
		*dst = v
	}
	return debt, nil
}

// HashOffer returns the contract's struct hash for an offer
func (k *Kettle) HashOffer(ctx context.Context, offer types.Offer) (common.Hash, error) {
	var (
		result []interface{}
		err    error
	)
	switch o := offer.(type) {
	case *types.LoanOffer:
		result, err = k.call(ctx, "hashLoanOffer", toLoanOfferTuple(o))
	case *types.BorrowOffer:
		result, err = k.call(ctx, "hashBorrowOffer", toBorrowOfferTuple(o))
	case *types.MarketOffer:
		result, err = k.call(ctx, "hashMarketOffer", toMarketOfferTuple(o))
	default:
		return common.Hash{}, fmt.Errorf("unsupported offer type %T", offer)
	}
	if err != nil {
		return common.Hash{}, err
	}
	if len(result) == 0 {
		return common.Hash{}, fmt.Errorf("empty result")
	}
	h, ok := result[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected result type %T", result[0])
	}
	return common.Hash(h), nil
}

func (k *Kettle) transact(ctx context.Context, method string, args ...interface{}) (*ethtypes.Transaction, error) {
	tx, err := k.client.Transact(ctx, func(opts *bind.TransactOpts) (*ethtypes.Transaction, error) {
		return k.contract.Transact(opts, method, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", method, err)
	}
	return tx, nil
}

// Borrow takes a loan offer against tokenID
func (k *Kettle) Borrow(ctx context.Context, offer *types.LoanOffer, amount, tokenID *big.Int, borrower common.Address, signature []byte, proof []common.Hash) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "borrow", toLoanOfferTuple(offer), num(amount), num(tokenID), borrower, signature, proofWords(proof))
}

// Loan funds a borrow offer
func (k *Kettle) Loan(ctx context.Context, offer *types.BorrowOffer, signature []byte) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "loan", toBorrowOfferTuple(offer), signature)
}

// MarketOrder fills a bid or ask for tokenID
func (k *Kettle) MarketOrder(ctx context.Context, tokenID *big.Int, offer *types.MarketOffer, signature []byte, proof []common.Hash) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "marketOrder", num(tokenID), toMarketOfferTuple(offer), signature, proofWords(proof))
}

// BuyInLien fills an ask whose collateral is held by a lien
func (k *Kettle) BuyInLien(ctx context.Context, lienID *big.Int, lien *types.Lien, offer *types.MarketOffer, signature []byte, proof []common.Hash) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "buyInLien", num(lienID), toLienTuple(lien), toMarketOfferTuple(offer), signature, proofWords(proof))
}

// SellInLien fills a bid with collateral held by the seller's lien
func (k *Kettle) SellInLien(ctx context.Context, lienID *big.Int, lien *types.Lien, offer *types.MarketOffer, signature []byte, proof []common.Hash) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "sellInLien", num(lienID), toLienTuple(lien), toMarketOfferTuple(offer), signature, proofWords(proof))
}

// Refinance moves a lien onto a new loan offer
func (k *Kettle) Refinance(ctx context.Context, lienID, amount *big.Int, lien *types.Lien, offer *types.LoanOffer, signature []byte, proof []common.Hash) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "refinance", num(lienID), num(amount), toLienTuple(lien), toLoanOfferTuple(offer), signature, proofWords(proof))
}

// Repay closes a lien
func (k *Kettle) Repay(ctx context.Context, lienID *big.Int, lien *types.Lien) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "repay", num(lienID), toLienTuple(lien))
}

// Claim seizes the collateral of a defaulted lien
func (k *Kettle) Claim(ctx context.Context, lienID *big.Int, lien *types.Lien) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "claim", num(lienID), toLienTuple(lien))
}

// CancelOffer marks one salt of the signer as consumed
func (k *Kettle) CancelOffer(ctx context.Context, salt *big.Int) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "cancelOffer", num(salt))
}

// CancelOffers marks several salts of the signer as consumed
func (k *Kettle) CancelOffers(ctx context.Context, salts []*big.Int) (*ethtypes.Transaction, error) {
	words := make([]*big.Int, len(salts))
	for i, s := range salts {
		words[i] = num(s)
	}
	return k.transact(ctx, "cancelOffers", words)
}

// IncrementNonce invalidates every outstanding offer of the signer
func (k *Kettle) IncrementNonce(ctx context.Context) (*ethtypes.Transaction, error) {
	return k.transact(ctx, "incrementNonce")
}
