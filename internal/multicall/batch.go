// Package multicall packs many contract reads into Multicall3 tryAggregate
// round trips and hands the decoded results back by call key.
package multicall

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/metrics"
	"github.com/kettlefi/kettle/internal/util"
)

type call struct {
	key  CallKey
	abi  *abi.ABI
	args []interface{}
}

// Batch collects reads before they are executed. Keys are unique: adding a
// key twice keeps the first call.
type Batch struct {
	calls []call
	index map[CallKey]int
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{index: make(map[CallKey]int)}
}

// Add registers key.Method(args...) on key.Target, encoded with contract
func (b *Batch) Add(key CallKey, contract *abi.ABI, args ...interface{}) {
	if _, ok := b.index[key]; ok {
		return
	}
	b.index[key] = len(b.calls)
	b.calls = append(b.calls, call{key: key, abi: contract, args: args})
}

// Has reports whether key was added
func (b *Batch) Has(key CallKey) bool {
	_, ok := b.index[key]
	return ok
}

// Len returns the number of distinct calls
func (b *Batch) Len() int {
	return len(b.calls)
}

// grouped returns the calls ordered by target contract, keeping insertion
// order inside each group
func (b *Batch) grouped() []call {
	out := make([]call, len(b.calls))
	copy(out, b.calls)
	sort.SliceStable(out, func(i, j int) bool {
		return bytes.Compare(out[i].key.Target[:], out[j].key.Target[:]) < 0
	})
	return out
}

// Results holds the decoded outcome of every call in a batch
type Results struct {
	RunID    string
	values   map[CallKey][]interface{}
	reverted map[CallKey]bool
}

// Values returns the decoded outputs of a successful call
func (r *Results) Values(key CallKey) ([]interface{}, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Reverted reports whether the call ran and failed
func (r *Results) Reverted(key CallKey) bool {
	return r.reverted[key]
}

// Big returns the first output of key as an integer
func (r *Results) Big(key CallKey) (*big.Int, bool) {
	v, ok := r.values[key]
	if !ok || len(v) == 0 {
		return nil, false
	}
	n, ok := v[0].(*big.Int)
	return n, ok
}

// Address returns the first output of key as an address
func (r *Results) Address(key CallKey) (common.Address, bool) {
	v, ok := r.values[key]
	if !ok || len(v) == 0 {
		return common.Address{}, false
	}
	a, ok := v[0].(common.Address)
	return a, ok
}

// Bool returns the first output of key as a boolean
func (r *Results) Bool(key CallKey) (bool, bool) {
	v, ok := r.values[key]
	if !ok || len(v) == 0 {
		return false, false
	}
	b, ok := v[0].(bool)
	return b, ok
}

// Aggregator executes packed calls in one round trip. *chain.Multicall3
// implements it.
type Aggregator interface {
	TryAggregate(ctx context.Context, calls []chain.MulticallCall) ([]chain.MulticallResult, error)
}

// Executor runs batches against an Aggregator
type Executor struct {
	agg      Aggregator
	maxCalls int
	metrics  *metrics.Collector
}

// NewExecutor creates an executor. maxCalls splits batches larger than it
// into concurrent requests; zero sends every batch as one request.
func NewExecutor(agg Aggregator, maxCalls int, m *metrics.Collector) *Executor {
	if maxCalls < 0 {
		maxCalls = 0
	}
	return &Executor{agg: agg, maxCalls: maxCalls, metrics: m}
}

// Run executes the batch. It fails only when a request could not be made
// at all; individual call failures are reported through Results.
func (e *Executor) Run(ctx context.Context, b *Batch) (*Results, error) {
	res := &Results{
		RunID:    uuid.NewString(),
		values:   make(map[CallKey][]interface{}, b.Len()),
		reverted: make(map[CallKey]bool),
	}
	if b.Len() == 0 {
		return res, nil
	}

	calls := b.grouped()
	packed := make([]chain.MulticallCall, len(calls))
	for i, c := range calls {
		data, err := c.abi.Pack(c.key.Method, c.args...)
		if err != nil {
			return nil, fmt.Errorf("pack %s on %s: %w", c.key.Method, c.key.Target.Hex(), err)
		}
		packed[i] = chain.MulticallCall{Target: c.key.Target, CallData: data}
	}

	start := time.Now()
	out, chunks, err := e.aggregate(ctx, packed)
	if err != nil {
		return nil, fmt.Errorf("multicall %s: %w", res.RunID, err)
	}

	for i, c := range calls {
		r := out[i]
		if !r.Success {
			res.reverted[c.key] = true
			continue
		}
		if len(r.ReturnData) == 0 {
			// no code at target
			continue
		}
		values, err := c.abi.Unpack(c.key.Method, r.ReturnData)
		if err != nil {
			logging.Debug("undecodable multicall result",
				"run_id", res.RunID,
				"target", c.key.Target.Hex(),
				"method", c.key.Method,
				logging.Err(err))
			continue
		}
		res.values[c.key] = values
	}

	logging.Debug("multicall batch complete",
		logging.Component("multicall"),
		"run_id", res.RunID,
		"calls", len(calls),
		"requests", chunks,
		"reverted", len(res.reverted),
		"duration", time.Since(start))
	return res, nil
}

// aggregate sends packed in chunks of at most maxCalls, concurrently, and
// returns the results in input order
func (e *Executor) aggregate(ctx context.Context, packed []chain.MulticallCall) ([]chain.MulticallResult, int, error) {
	size := e.maxCalls
	if size == 0 || size > len(packed) {
		size = len(packed)
	}
	out := make([]chain.MulticallResult, len(packed))
	g, gctx := errgroup.WithContext(ctx)
	chunks := 0
	for lo := 0; lo < len(packed); lo += size {
		hi := min(lo+size, len(packed))
		chunks++
		g.Go(func() error {
			return util.SafeCall("multicall-chunk", func() error {
				start := time.Now()
				results, err := e.agg.TryAggregate(gctx, packed[lo:hi])
				e.metrics.RecordMulticall(hi-lo, time.Since(start), err)
				if err != nil {
					return err
				}
				if len(results) != hi-lo {
					return fmt.Errorf("expected %d results, got %d", hi-lo, len(results))
				}
				copy(out[lo:hi], results)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, chunks, err
	}
	return out, chunks, nil
}
