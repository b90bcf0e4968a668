package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the spreadguard CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "spreadguard version %s\n", version)
		fmt.Fprintln(w, "Maintenance-window and drawdown risk controller for FX accounts")
		fmt.Fprintln(w, "https://github.com/rustyeddy/spreadguard")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
