package commands

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version of the kettle CLI and build information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := struct {
				Version   string `json:"version"`
				Commit    string `json:"commit"`
				BuildDate string `json:"buildDate"`
				GoVersion string `json:"goVersion"`
				Platform  string `json:"platform"`
			}{GetVersion(), GetCommit(), BuildDate, GetGoVersion(), runtime.GOOS + "/" + runtime.GOARCH}

			return emit(cmd.OutOrStdout(), info, func(w io.Writer) {
				rows := [][2]string{
					{"Version", info.Version},
					{"Commit", info.Commit},
					{"Build Date", info.BuildDate},
					{"Go Version", info.GoVersion},
					{"OS/Arch", info.Platform},
				}
				if styled() {
					var body string
					for i, r := range rows {
						if i > 0 {
							body += "\n"
						}
						body += StyleLabel.Render(r[0]) + StyleValue.Render(r[1])
					}
					fmt.Fprintln(w, StyleBox.Render(StyleHeader.Render("Kettle")+"\n"+body))
					return
				}
				fmt.Fprintln(w, "Kettle CLI")
				printKV(w, rows)
			})
		},
	}
}
