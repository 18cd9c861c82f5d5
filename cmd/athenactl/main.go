// Command athenactl is the administrative counterpart to athenad: a
// cobra CLI for operators to boot the same storage/engine stack out of
// process and run one-shot checks or maintenance against it, without
// going through the stdio tool-call transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	athenaDir  string
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "athenactl",
	Short: "athenactl - administrative CLI for the Athena memory substrate",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&athenaDir, "data-dir", ".", "directory holding athena.yaml and (for sqlite) the database file")
	rootCmd.AddCommand(healthCmd, consolidateCmd, createProjectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
