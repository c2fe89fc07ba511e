// Package actions turns a user intent (create, take, refinance, repay, claim,
// cancel, increment nonce) into the ordered steps the caller must execute:
// every missing approval first, the terminal step last.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/metrics"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/pkg/types"
)

var (
	// ErrTransactionRejected is returned when the signer declines a signature
	// or transaction request
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrUnexpected wraps any other failure of a cancellation
	ErrUnexpected = errors.New("an unexpected error occurred")

	// ErrUnconfirmed is returned when a submitted transaction could not be
	// confirmed in time. It may still be mined.
	ErrUnconfirmed = errors.New("unable to confirm transaction, please check block explorer and try again")

	// ErrAlreadyExecuted is returned by a second Execute on the same action
	ErrAlreadyExecuted = errors.New("action already executed")
)

// Kind tags an action
type Kind string

const (
	KindApproval       Kind = "approval"
	KindCreate         Kind = "create"
	KindTake           Kind = "take"
	KindRepay          Kind = "repay"
	KindClaim          Kind = "claim"
	KindCancel         Kind = "cancel"
	KindIncrementNonce Kind = "increment-nonce"
)

// State is the position of an action in its lifecycle
type State int

const (
	StateNeedsApproval State = iota
	StateReady
	StateExecuted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateNeedsApproval:
		return "needs-approval"
	case StateReady:
		return "ready"
	case StateExecuted:
		return "executed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is what executing an action produced
type Result struct {
	// TxHash is set for every action that submits a transaction
	TxHash common.Hash `json:"txHash,omitempty"`

	// Signed is set for create actions
	Signed *types.SignedOffer `json:"signed,omitempty"`
}

// Action is one step of a plan. Building it performs no state change;
// Execute submits it.
type Action struct {
	Kind Kind

	// Target is the contract the transaction is sent to: the token or
	// collection for approvals, the settlement contract otherwise
	Target common.Address

	// Offer, Hash and Payload are set on create actions. Payload is the
	// EIP-712 typed data for external wallets.
	Offer   types.Offer
	Hash    common.Hash
	Payload []byte

	run     func(ctx context.Context) (Result, error)
	metrics *metrics.Collector
	intent  string
	actor   common.Address

	mu     sync.Mutex
	state  State
	result Result
}

func newAction(kind Kind, target common.Address, state State, m *metrics.Collector, run func(ctx context.Context) (Result, error)) *Action {
	return &Action{Kind: kind, Target: target, state: state, run: run, metrics: m}
}

// State returns the current state of the action
func (a *Action) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Execute submits the action. An action runs at most once; later calls
// return the first result with ErrAlreadyExecuted. A failed action stays in
// its state and may be retried; the result of a failure carries the
// transaction hash when one was submitted.
func (a *Action) Execute(ctx context.Context) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateExecuted {
		return a.result, ErrAlreadyExecuted
	}

	res, err := a.run(ctx)
	a.metrics.RecordExecution(string(a.Kind), err)
	a.audit(res, err)
	if err != nil {
		logging.Warn("action failed", logging.Component("actions"), "kind", string(a.Kind), logging.Err(err))
		return res, err
	}
	a.state = StateExecuted
	a.result = res
	return res, nil
}

func (a *Action) audit(res Result, err error) {
	event := logging.AuditEvent{
		Operation: a.intent + "/" + string(a.Kind),
		Actor:     a.actor.Hex(),
		Target:    a.Target.Hex(),
		Result:    "success",
	}
	if err != nil {
		event.Result = "failure"
		event.Details = err.Error()
	}
	switch {
	case res.TxHash != (common.Hash{}):
		event.Hash = res.TxHash.Hex()
	case a.Hash != (common.Hash{}):
		event.Hash = a.Hash.Hex()
	}
	logging.Audit(event)
}

// Plan is the ordered sequence returned by the builder
type Plan []*Action

// Kinds lists the kinds of the plan in order
func (p Plan) Kinds() []Kind {
	kinds := make([]Kind, len(p))
	for i, a := range p {
		kinds[i] = a.Kind
	}
	return kinds
}

// Approvals returns the approval steps of the plan
func (p Plan) Approvals() Plan {
	var out Plan
	for _, a := range p {
		if a.Kind == KindApproval {
			out = append(out, a)
		}
	}
	return out
}

// Terminal returns the last step of the plan
func (p Plan) Terminal() *Action {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// Execute runs every step in order and stops at the first failure. On
// failure the last result is the partial result of the failed step.
func (p Plan) Execute(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(p))
	for _, a := range p {
		res, err := a.Execute(ctx)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("%s: %w", a.Kind, err)
		}
	}
	return results, nil
}

// rejected maps a signer refusal to ErrTransactionRejected and leaves
// every other error untouched
func rejected(err error) error {
	if errors.Is(err, signing.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrTransactionRejected, err)
	}
	return err
}

func txResult(tx *ethtypes.Transaction) Result {
	return Result{TxHash: tx.Hash()}
}
