package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kettlefi/kettle/internal/config"
)

// timeNow is the clock of commands that evaluate time-dependent state
var timeNow = time.Now

// NewRootCmd builds the kettle command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kettle",
		Short:         "Kettle NFT lending offer engine",
		Long:          "Hash, validate and manage signed loan, borrow and market offers of a Kettle deployment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return checkOutputFormat()
		},
	}

	root.PersistentFlags().StringVar(&ConfigPath, "config", "", "Config file (default: "+config.DefaultConfigPath()+")")
	root.PersistentFlags().BoolVar(&UseMock, "mock", false, "Run against an in-memory chain")
	root.PersistentFlags().StringVarP(&OutputFormat, "output", "o", "", "Output format: json or plain (default: styled when attached to a terminal)")

	root.AddCommand(NewDebtCmd())
	root.AddCommand(NewHashCmd())
	root.AddCommand(NewPayloadCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewNonceCmd())
	root.AddCommand(NewCancelCmd())
	root.AddCommand(NewIncrementNonceCmd())
	root.AddCommand(NewVersionCmd())
	return root
}
