package commands

import (
	"context"
	"fmt"
	"os"

	"lwepub/lib/telemetry"

	"github.com/spf13/cobra"
)

var verbose *bool

func init() {
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug level logging.")
}

var rootCmd = &cobra.Command{
	Use:   "lwepub",
	Short: "lwepub scrapes LessWrong posts and binds them into EPUB files.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
