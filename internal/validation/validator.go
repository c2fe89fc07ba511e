// Package validation decides whether signed offers can still be taken,
// either for many offers at once in a single multicall round trip or for
// one offer right before its transaction is sent.
package validation

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/metrics"
	"github.com/kettlefi/kettle/internal/multicall"
	"github.com/kettlefi/kettle/internal/oracle"
	"github.com/kettlefi/kettle/internal/signing"
)

// Options configures a Validator
type Options struct {
	Capabilities Capabilities

	// MaxCallsPerRequest splits large batches into concurrent multicall
	// requests. Zero sends one request per batch.
	MaxCallsPerRequest int

	// Clock defaults to time.Now
	Clock func() time.Time

	Metrics *metrics.Collector
}

// Validator checks offers against live chain state
type Validator struct {
	keys    keys
	caps    Capabilities
	clock   func() time.Time
	metrics *metrics.Collector

	exec   *multicall.Executor
	point  pointFacts
	hasher *signing.Hasher
}

// New binds a validator to the settlement contract at kettle, batching reads
// through the Multicall3 deployment at multicallAddr
func New(client *chain.Client, kettle, multicallAddr common.Address, opts Options) (*Validator, error) {
	contract, err := chain.NewKettle(client, kettle)
	if err != nil {
		return nil, fmt.Errorf("bind settlement contract: %w", err)
	}
	mc, err := chain.NewMulticall3(client, multicallAddr)
	if err != nil {
		return nil, fmt.Errorf("bind multicall: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Validator{
		keys:    keys{kettle: kettle},
		caps:    opts.Capabilities,
		clock:   clock,
		metrics: opts.Metrics,
		exec:    multicall.NewExecutor(mc, opts.MaxCallsPerRequest, opts.Metrics),
		point:   pointFacts{oracle: oracle.New(client), kettle: contract},
		hasher:  signing.NewHasher(client.ChainID(), kettle),
	}, nil
}

// Capabilities returns the rule options in effect
func (v *Validator) Capabilities() Capabilities {
	return v.caps
}

// Hasher returns the typed-data hasher of the bound deployment
func (v *Validator) Hasher() *signing.Hasher {
	return v.hasher
}

func (v *Validator) rules(strictLien bool) rules {
	return rules{caps: v.caps, now: v.clock(), strictLien: strictLien}
}
