package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/pkg/types"
)

// CancelOffer plans cancelling the bound account's offer with salt. The
// action waits for the cancellation to be mined.
func (b *Builder) CancelOffer(ctx context.Context, salt *big.Int) (Plan, error) {
	if err := types.CheckAmount(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	if _, err := b.account(); err != nil {
		return nil, err
	}
	cancel := newAction(KindCancel, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		return b.confirm(ctx, func(ctx context.Context) (*ethtypes.Transaction, error) {
			return b.kettle.CancelOffer(ctx, salt)
		})
	})
	return b.finish("cancel", Plan{cancel}), nil
}

// CancelOffers plans cancelling several offers in one transaction
func (b *Builder) CancelOffers(ctx context.Context, salts []*big.Int) (Plan, error) {
	if len(salts) == 0 {
		return nil, fmt.Errorf("no salts to cancel")
	}
	for i, s := range salts {
		if err := types.CheckAmount(s); err != nil {
			return nil, fmt.Errorf("salt %d: %w", i, err)
		}
	}
	if _, err := b.account(); err != nil {
		return nil, err
	}
	cancel := newAction(KindCancel, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		return b.confirm(ctx, func(ctx context.Context) (*ethtypes.Transaction, error) {
			return b.kettle.CancelOffers(ctx, salts)
		})
	})
	return b.finish("cancel", Plan{cancel}), nil
}

// IncrementNonce plans invalidating every outstanding offer of the bound
// account
func (b *Builder) IncrementNonce(ctx context.Context) (Plan, error) {
	if _, err := b.account(); err != nil {
		return nil, err
	}
	inc := newAction(KindIncrementNonce, b.operator(), StateReady, b.metrics, func(ctx context.Context) (Result, error) {
		return b.submit(ctx, b.kettle.IncrementNonce)
	})
	return b.finish("increment-nonce", Plan{inc}), nil
}

// confirm submits a transaction and waits up to the confirm timeout for it
// to be mined. A rejected request is ErrTransactionRejected, a wait that
// runs out is ErrUnconfirmed and anything else is ErrUnexpected.
func (b *Builder) confirm(ctx context.Context, send func(ctx context.Context) (*ethtypes.Transaction, error)) (Result, error) {
	tx, err := send(ctx)
	if err != nil {
		if errors.Is(err, signing.ErrRejected) {
			return Result{}, rejected(err)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.confirmTimeout)
	defer cancel()
	receipt, err := b.client.WaitForTransaction(waitCtx, tx)
	if err != nil {
		if receipt != nil && receipt.Status == ethtypes.ReceiptStatusFailed {
			return Result{}, fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		logging.Warn("transaction not confirmed", logging.Component("actions"), logging.TxHash(tx.Hash()), logging.Err(err))
		return txResult(tx), fmt.Errorf("%w: %s", ErrUnconfirmed, tx.Hash().Hex())
	}
	return txResult(tx), nil
}
