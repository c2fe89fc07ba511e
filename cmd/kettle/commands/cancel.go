package commands

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/kettlefi/kettle/internal/actions"
	"github.com/kettlefi/kettle/pkg/types"
)

// NewCancelCmd creates the offer cancellation command
func NewCancelCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "cancel <salt>...",
		Short: "Cancel offers of the configured account by salt",
		Long:  "Cancel one or more offers signed by the configured account and wait for the transaction to be mined.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd.Context(), cmd.OutOrStdout(), args, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "send without asking for confirmation")
	return cmd
}

// NewIncrementNonceCmd creates the nonce increment command
func NewIncrementNonceCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "increment-nonce",
		Short: "Invalidate every outstanding offer of the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncrementNonce(cmd.Context(), cmd.OutOrStdout(), yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "send without asking for confirmation")
	return cmd
}

func runCancel(ctx context.Context, w io.Writer, args []string, yes bool) error {
	salts := make([]*big.Int, len(args))
	for i, a := range args {
		s, err := types.ParseAmount(a)
		if err != nil {
			return fmt.Errorf("salt: %w", err)
		}
		salts[i] = s
	}

	return withBuilder(ctx, w, yes, func(b *actions.Builder) (actions.Plan, error) {
		if len(salts) == 1 {
			return b.CancelOffer(ctx, salts[0])
		}
		return b.CancelOffers(ctx, salts)
	})
}

func runIncrementNonce(ctx context.Context, w io.Writer, yes bool) error {
	return withBuilder(ctx, w, yes, func(b *actions.Builder) (actions.Plan, error) {
		return b.IncrementNonce(ctx)
	})
}

// withBuilder opens a signing session, builds a plan and executes it once
// the user agrees, reporting every submitted transaction
func withBuilder(ctx context.Context, w io.Writer, yes bool, build func(b *actions.Builder) (actions.Plan, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEnv(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer e.Close()

	b, err := e.builder()
	if err != nil {
		return err
	}
	plan, err := build(b)
	if err != nil {
		return err
	}

	if !yes {
		desc := fmt.Sprintf("%d transaction(s) from %s", len(plan), e.client.Address().Hex())
		if err := confirmSend("Send "+kindList(plan)+"?", desc); err != nil {
			return err
		}
	}

	// an unconfirmed step still reports its hash
	var results []actions.Result
	execErr := withSpinner("Waiting for confirmation", func() error {
		var err error
		results, err = plan.Execute(ctx)
		return err
	})

	type row struct {
		Kind   actions.Kind `json:"kind"`
		TxHash common.Hash  `json:"txHash"`
	}
	rows := make([]row, 0, len(results))
	for i, r := range results {
		if r.TxHash == (common.Hash{}) {
			continue
		}
		rows = append(rows, row{Kind: plan[i].Kind, TxHash: r.TxHash})
	}
	if err := emit(w, rows, func(w io.Writer) {
		for _, r := range rows {
			printKV(w, [][2]string{{string(r.Kind), r.TxHash.Hex()}})
		}
	}); err != nil {
		return err
	}
	return execErr
}

func kindList(plan actions.Plan) string {
	kinds := plan.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
