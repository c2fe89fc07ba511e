package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/internal/util"
)

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	ChainID            int64
	RPCURLs            []string
	BlockConfirmations int
	MaxGasPrice        *big.Int
	RequestsPerSecond  float64 // 0 disables read throttling
	Burst              int
	PollInterval       time.Duration
	DialBackoff        util.Backoff
	ReadBackoff        util.Backoff
}

// DefaultClientConfig returns defaults for Ethereum mainnet. RPC endpoints
// must be supplied by the caller.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ChainID:            1,
		BlockConfirmations: 1,
		MaxGasPrice:        big.NewInt(200e9), // 200 gwei
		RequestsPerSecond:  25,
		Burst:              10,
		PollInterval:       2 * time.Second,
		DialBackoff:        util.DialBackoff(),
		ReadBackoff:        util.ReadBackoff(),
	}
}

// DialFunc opens a backend for an RPC URL
type DialFunc func(ctx context.Context, url string) (Backend, error)

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

// Client provides throttled, failover-aware access to an EVM chain and
// submits transactions with the bound signer
type Client struct {
	config  *ClientConfig
	chainID *big.Int
	signer  signing.Signer
	tracker *EndpointTracker
	dial    DialFunc

	nonceMu      sync.Mutex
	pendingNonce uint64

	mu      sync.RWMutex
	backend *limitedBackend
	closer  func()
}

// NewClient creates a client. signer may be nil for read-only use.
func NewClient(config *ClientConfig, signer signing.Signer) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config:  config,
		chainID: big.NewInt(config.ChainID),
		signer:  signer,
		tracker: NewEndpointTracker(config.RPCURLs),
		dial:    dialEthclient,
	}
}

// SetDialer replaces the function used to open RPC endpoints
func (c *Client) SetDialer(dial DialFunc) {
	c.dial = dial
}

// Connect dials the configured endpoints in tracker order and keeps the
// first one that serves the expected chain
func (c *Client) Connect(ctx context.Context) error {
	candidates := c.tracker.Candidates()
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no RPC endpoints configured", ErrNotConnected)
	}

	var lastErr error
	for _, url := range candidates {
		start := time.Now()
		backend, _, err := util.DoValue(ctx, c.config.DialBackoff, func() (Backend, error) {
			return c.dial(ctx, url)
		})
		if err != nil {
			c.tracker.RecordError(url)
			lastErr = err
			logging.Warn("RPC endpoint unavailable", logging.Component("chain"), "url", logging.RedactURL(url), logging.Err(lastErr))
			continue
		}
		if err := c.attach(ctx, backend, url); err != nil {
			if closer, ok := backend.(interface{ Close() }); ok {
				closer.Close()
			}
			c.tracker.RecordError(url)
			lastErr = err
			logging.Warn("RPC endpoint rejected", logging.Component("chain"), "url", logging.RedactURL(url), logging.Err(err))
			continue
		}
		c.tracker.RecordSuccess(url, time.Since(start))
		if closer, ok := backend.(interface{ Close() }); ok {
			c.mu.Lock()
			c.closer = closer.Close
			c.mu.Unlock()
		}
		logging.Info("connected to chain", logging.Component("chain"), "chain_id", c.chainID.String(), "url", logging.RedactURL(url))
		return nil
	}
	return fmt.Errorf("failed to connect to any RPC endpoint: %w", lastErr)
}

// Attach uses an already opened backend, such as a MockChain
func (c *Client) Attach(ctx context.Context, backend Backend) error {
	return c.attach(ctx, backend, "attached")
}

func (c *Client) attach(ctx context.Context, backend Backend, url string) error {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Cmp(c.chainID) != 0 {
		return fmt.Errorf("%w: expected %s, got %s", ErrChainMismatch, c.chainID, chainID)
	}

	limited := newLimitedBackend(backend, url, c.config.RequestsPerSecond, c.config.Burst, c.tracker)
	limited.retry = c.config.ReadBackoff

	if c.signer != nil {
		nonce, err := backend.PendingNonceAt(ctx, c.signer.Address())
		if err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		c.nonceMu.Lock()
		c.pendingNonce = nonce
		c.nonceMu.Unlock()
	}

	c.mu.Lock()
	c.backend = limited
	c.mu.Unlock()
	return nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	c.backend = nil
}

// IsConnected reports whether a backend is attached
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

// Backend returns the throttled backend or ErrNotConnected
func (c *Client) Backend() (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, ErrNotConnected
	}
	return c.backend, nil
}

// Tracker exposes endpoint health
func (c *Client) Tracker() *EndpointTracker { return c.tracker }

// ChainID returns the expected chain id
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Signer returns the bound signer, or nil
func (c *Client) Signer() signing.Signer { return c.signer }

// Address returns the bound signer's account, or the zero address
func (c *Client) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// TransactOpts creates transaction options that sign through the bound signer
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.signer == nil {
		return nil, signing.ErrNoSigner
	}
	backend, err := c.Backend()
	if err != nil {
		return nil, err
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(c.config.MaxGasPrice)
	}

	from := c.signer.Address()
	txSigner := ethtypes.LatestSignerForChainID(c.chainID)
	opts := &bind.TransactOpts{
		From:     from,
		Context:  ctx,
		GasPrice: gasPrice,
		Signer: func(addr common.Address, tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
			if addr != from {
				return nil, bind.ErrNotAuthorized
			}
			sig, err := c.signer.SignDigest(ctx, txSigner.Hash(tx).Bytes())
			if err != nil {
				return nil, err
			}
			if len(sig) == crypto.SignatureLength && sig[crypto.RecoveryIDOffset] >= 27 {
				sig[crypto.RecoveryIDOffset] -= 27
			}
			return tx.WithSignature(txSigner, sig)
		},
	}

	c.nonceMu.Lock()
	opts.Nonce = new(big.Int).SetUint64(c.pendingNonce)
	c.pendingNonce++
	c.nonceMu.Unlock()

	return opts, nil
}

// Transact builds options, runs send and resynchronises the local nonce
// when the transaction was not submitted
func (c *Client) Transact(ctx context.Context, send func(*bind.TransactOpts) (*ethtypes.Transaction, error)) (*ethtypes.Transaction, error) {
	opts, err := c.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := send(opts)
	if err != nil {
		if syncErr := c.SyncNonce(ctx); syncErr != nil {
			logging.Warn("failed to resync nonce", logging.Component("chain"), logging.Err(syncErr))
		}
		return nil, err
	}
	logging.Debug("transaction submitted", logging.Component("chain"), "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return tx, nil
}

// WaitForTransaction waits for tx to be mined and for the configured
// number of confirmations
func (c *Client) WaitForTransaction(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	backend, err := c.Backend()
	if err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction: %w", err)
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return receipt, fmt.Errorf("transaction failed: %s", tx.Hash().Hex())
	}

	if c.config.BlockConfirmations <= 1 {
		return receipt, nil
	}
	target := receipt.BlockNumber.Uint64() + uint64(c.config.BlockConfirmations) - 1
	interval := c.config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		current, err := backend.BlockNumber(ctx)
		if err == nil && current >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SyncNonce reloads the pending nonce from the chain
func (c *Client) SyncNonce(ctx context.Context) error {
	if c.signer == nil {
		return nil
	}
	backend, err := c.Backend()
	if err != nil {
		return err
	}
	nonce, err := backend.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}
	c.nonceMu.Lock()
	c.pendingNonce = nonce
	c.nonceMu.Unlock()
	return nil
}

// BlockNumber returns the current block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	backend, err := c.Backend()
	if err != nil {
		return 0, err
	}
	return backend.BlockNumber(ctx)
}
