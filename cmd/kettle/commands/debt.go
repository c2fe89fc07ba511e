package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/spf13/cobra"

	"github.com/kettlefi/kettle/internal/accrual"
	"github.com/kettlefi/kettle/pkg/types"
)

type debtFlags struct {
	lienFile    string
	principal   string
	rate        string
	defaultRate string
	fee         string
	duration    string
	start       string
	at          int64
}

// NewDebtCmd creates the debt preview command
func NewDebtCmd() *cobra.Command {
	f := &debtFlags{}
	cmd := &cobra.Command{
		Use:   "debt",
		Short: "Preview the debt of a lien",
		Long: `Compute principal, fee interest and lender interest owed on a lien at a
point in time, exactly as the settlement contract does. Terms come from a
lien JSON file (--lien) or from flags. Rates are in basis points, times in
unix seconds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebt(cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.lienFile, "lien", "", "Lien JSON file")
	cmd.Flags().StringVar(&f.principal, "principal", "", "Principal in currency base units")
	cmd.Flags().StringVar(&f.rate, "rate", "0", "Lender rate (bps per year)")
	cmd.Flags().StringVar(&f.defaultRate, "default-rate", "0", "Rate after the loan duration (bps per year)")
	cmd.Flags().StringVar(&f.fee, "fee", "0", "Fee rate (bps per year)")
	cmd.Flags().StringVar(&f.duration, "duration", "", "Loan duration in seconds")
	cmd.Flags().StringVar(&f.start, "start", "", "Lien start time")
	cmd.Flags().Int64Var(&f.at, "at", 0, "Evaluation time (default: now)")
	return cmd
}

func (f *debtFlags) params() (accrual.Params, error) {
	if f.lienFile != "" {
		data, err := os.ReadFile(f.lienFile)
		if err != nil {
			return accrual.Params{}, err
		}
		var lien types.Lien
		if err := json.Unmarshal(data, &lien); err != nil {
			return accrual.Params{}, fmt.Errorf("%s: %w", f.lienFile, err)
		}
		return accrual.LienParams(&lien), nil
	}

	if f.principal == "" || f.duration == "" || f.start == "" {
		return accrual.Params{}, fmt.Errorf("--principal, --duration and --start are required without --lien")
	}
	var p accrual.Params
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"principal", f.principal, &p.Principal},
		{"rate", f.rate, &p.Rate},
		{"default-rate", f.defaultRate, &p.DefaultRate},
		{"fee", f.fee, &p.FeeRate},
		{"duration", f.duration, &p.Duration},
		{"start", f.start, &p.StartTime},
	} {
		v, err := types.ParseAmount(field.raw)
		if err != nil {
			return accrual.Params{}, fmt.Errorf("--%s: %w", field.name, err)
		}
		*field.dst = v
	}
	return p, nil
}

func runDebt(w io.Writer, f *debtFlags) error {
	p, err := f.params()
	if err != nil {
		return err
	}
	at := f.at
	if at == 0 {
		at = timeNow().Unix()
	}

	debt, err := accrual.CurrentDebtAmount(big.NewInt(at), p)
	if err != nil {
		return err
	}

	return emit(w, debt, func(w io.Writer) {
		printHeader(w, "Lien debt")
		printKV(w, [][2]string{
			{"At", fmt.Sprintf("%d", at)},
			{"Principal", p.Principal.String()},
			{"Fee interest", debt.FeeInterest.String()},
			{"Lender interest", debt.LenderInterest.String()},
			{"Debt", debt.Debt.String()},
		})
	})
}
