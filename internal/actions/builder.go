package actions

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/metrics"
	"github.com/kettlefi/kettle/internal/oracle"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/internal/validation"
	"github.com/kettlefi/kettle/pkg/types"
)

// DefaultConfirmTimeout bounds the wait for a cancellation to be mined
const DefaultConfirmTimeout = 30 * time.Second

// Options configures a Builder
type Options struct {
	// ConfirmTimeout defaults to DefaultConfirmTimeout
	ConfirmTimeout time.Duration

	// Clock defaults to time.Now
	Clock func() time.Time

	Metrics *metrics.Collector
}

// Builder assembles action plans for the account bound to the client
type Builder struct {
	client    *chain.Client
	kettle    *chain.Kettle
	oracle    *oracle.Oracle
	validator *validation.Validator
	hasher    *signing.Hasher

	clock          func() time.Time
	confirmTimeout time.Duration
	metrics        *metrics.Collector
}

// New creates a builder for the settlement contract at kettle. Take flows
// run validator's single-offer checks before any action is built.
func New(client *chain.Client, kettle common.Address, validator *validation.Validator, opts Options) (*Builder, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	contract, err := chain.NewKettle(client, kettle)
	if err != nil {
		return nil, fmt.Errorf("bind settlement contract: %w", err)
	}
	b := &Builder{
		client:         client,
		kettle:         contract,
		oracle:         oracle.New(client),
		validator:      validator,
		hasher:         signing.NewHasher(client.ChainID(), kettle),
		clock:          opts.Clock,
		confirmTimeout: opts.ConfirmTimeout,
		metrics:        opts.Metrics,
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	if b.confirmTimeout <= 0 {
		b.confirmTimeout = DefaultConfirmTimeout
	}
	return b, nil
}

// Hasher returns the typed-data hasher of the bound deployment
func (b *Builder) Hasher() *signing.Hasher { return b.hasher }

// account is the maker or taker of every plan
func (b *Builder) account() (common.Address, error) {
	if b.client.Signer() == nil {
		return common.Address{}, signing.ErrNoSigner
	}
	return b.client.Address(), nil
}

func (b *Builder) operator() common.Address { return b.kettle.Address() }

func (b *Builder) finish(intent string, plan Plan) Plan {
	kinds := make([]string, len(plan))
	for i, a := range plan {
		kinds[i] = string(a.Kind)
		a.intent = intent
		a.actor = b.client.Address()
	}
	b.metrics.RecordActions(intent, kinds...)
	logging.Debug("actions built", logging.Component("actions"), "intent", intent, "steps", len(plan))
	return plan
}

// currencyApproval returns an approve(operator, max) action when owner's
// allowance is below required, nil otherwise
func (b *Builder) currencyApproval(ctx context.Context, owner, currency common.Address, required *big.Int) (*Action, error) {
	allowance, err := b.oracle.CurrencyAllowance(ctx, owner, currency, b.operator())
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(required) >= 0 {
		return nil, nil
	}
	token, err := chain.NewERC20(b.client, currency)
	if err != nil {
		return nil, err
	}
	return newAction(KindApproval, currency, StateNeedsApproval, b.metrics, func(ctx context.Context) (Result, error) {
		return b.sendAndWait(ctx, func(ctx context.Context) (*ethtypes.Transaction, error) {
			return token.Approve(ctx, b.operator(), types.MaxUint256)
		})
	}), nil
}

// collateralApproval returns a setApprovalForAll(operator, true) action when
// owner has not approved the settlement contract for the collection
func (b *Builder) collateralApproval(ctx context.Context, owner common.Address, c types.Collateral) (*Action, error) {
	approved, err := b.oracle.CollateralApprovedForAll(ctx, owner, c.Collection, b.operator())
	if err != nil {
		return nil, fmt.Errorf("read approval: %w", err)
	}
	if approved {
		return nil, nil
	}
	collection, err := chain.NewCollection(b.client, c.Collection, c.ItemType)
	if err != nil {
		return nil, err
	}
	return newAction(KindApproval, c.Collection, StateNeedsApproval, b.metrics, func(ctx context.Context) (Result, error) {
		return b.sendAndWait(ctx, func(ctx context.Context) (*ethtypes.Transaction, error) {
			return collection.SetApprovalForAll(ctx, b.operator(), true)
		})
	}), nil
}

// sendAndWait submits a transaction and waits for it to be mined, so the
// next step of the plan sees its effect
func (b *Builder) sendAndWait(ctx context.Context, send func(ctx context.Context) (*ethtypes.Transaction, error)) (Result, error) {
	tx, err := send(ctx)
	if err != nil {
		return Result{}, rejected(err)
	}
	if _, err := b.client.WaitForTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	return txResult(tx), nil
}

// submit sends the terminal transaction of a plan without waiting for it
func (b *Builder) submit(ctx context.Context, send func(ctx context.Context) (*ethtypes.Transaction, error)) (Result, error) {
	tx, err := send(ctx)
	if err != nil {
		return Result{}, rejected(err)
	}
	return txResult(tx), nil
}

// appendIf adds a to plan when it is non-nil
func appendIf(plan Plan, a *Action) Plan {
	if a == nil {
		return plan
	}
	return append(plan, a)
}

func floorSub(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		return d.SetInt64(0)
	}
	return d
}

func refuse(r validation.Reason) error {
	return &validation.Error{Reason: r}
}
