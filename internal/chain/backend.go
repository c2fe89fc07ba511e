package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"golang.org/x/time/rate"

	"github.com/kettlefi/kettle/internal/util"
)

var (
	// ErrNotConnected is returned when no RPC backend is available
	ErrNotConnected = errors.New("not connected")

	// ErrChainMismatch is returned when the RPC endpoint serves another chain
	ErrChainMismatch = errors.New("chain id mismatch")

	// ErrExecutionReverted is the error reported for reverted calls
	ErrExecutionReverted = errors.New("execution reverted")
)

// Backend is everything the engine needs from an RPC endpoint. It is
// satisfied by *ethclient.Client and by *MockChain.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// limitedBackend throttles read calls, retries transport failures and
// reports each outcome to the endpoint tracker
type limitedBackend struct {
	Backend
	url     string
	limiter *rate.Limiter
	tracker *EndpointTracker
	retry   util.Backoff
}

func newLimitedBackend(b Backend, url string, rps float64, burst int, tracker *EndpointTracker) *limitedBackend {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &limitedBackend{
		Backend: b,
		url:     url,
		limiter: rate.NewLimiter(limit, burst),
		tracker: tracker,
	}
}

// CallContract waits for a rate limit token before forwarding the call.
// Reverts are returned at once; anything else is retried per b.retry.
func (b *limitedBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, _, err := util.DoValue(ctx, b.retry, func() ([]byte, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, util.Permanent(err)
		}
		start := time.Now()
		out, err := b.Backend.CallContract(ctx, call, blockNumber)
		// reverts are answers, not endpoint failures
		if err != nil && !IsRevert(err) {
			b.recordError()
			return nil, err
		}
		if b.tracker != nil {
			b.tracker.RecordSuccess(b.url, time.Since(start))
		}
		if err != nil {
			return nil, util.Permanent(err)
		}
		return out, nil
	})
	return out, err
}

func (b *limitedBackend) recordError() {
	if b.tracker != nil {
		b.tracker.RecordError(b.url)
	}
}

// IsRevert reports whether err is an EVM execution revert
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) {
		return true
	}
	return errors.Is(err, ErrExecutionReverted) || strings.Contains(err.Error(), ErrExecutionReverted.Error())
}
