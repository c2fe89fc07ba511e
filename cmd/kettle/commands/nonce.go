package commands

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/kettlefi/kettle/internal/chain"
)

// NewNonceCmd creates the nonce lookup command
func NewNonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce <address>",
		Short: "Show an account's current offer nonce",
		Long:  "Offers signed with an older nonce than the current one can no longer be taken.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNonce(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runNonce(ctx context.Context, w io.Writer, addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}
	account := common.HexToAddress(addr)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEnv(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer e.Close()

	kettle, err := chain.NewKettle(e.client, e.kettle)
	if err != nil {
		return err
	}
	nonce, err := kettle.Nonce(ctx, account)
	if err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}

	out := struct {
		Account common.Address `json:"account"`
		Nonce   *big.Int       `json:"nonce"`
	}{account, nonce}
	return emit(w, out, func(w io.Writer) {
		printKV(w, [][2]string{
			{"Account", account.Hex()},
			{"Nonce", nonce.String()},
		})
	})
}
