// Command athenad is the Athena memory daemon: it boots the storage
// backend, every layer store, the retrieval/consolidation engines and
// the verification gateway, then serves tool calls over a stdio
// JSON-lines transport. The MCP wire transport itself is out of this
// project's scope; serve implements just enough framing to drive the
// dispatcher end to end. Operational commands (health, consolidate,
// project creation) live in the separate cmd/athenactl binary, which
// shares this daemon's wiring via internal/daemon.
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
	athenaDir string
	rootCtx   context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "athenad",
	Short: "athenad - the Athena memory substrate daemon",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&athenaDir, "data-dir", ".", "directory holding athena.yaml and (for sqlite) the database file")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
