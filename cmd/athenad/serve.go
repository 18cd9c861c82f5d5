package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shawkridge/athena/internal/daemon"
	"github.com/shawkridge/athena/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon, dispatching tool calls read as JSON lines on stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer rootCancel()

		d, err := daemon.Boot(athenaDir)
		if err != nil {
			return err
		}
		defer d.Stop(context.Background())

		d.Start(rootCtx)
		d.Log.Info("athenad serving", "data_dir", athenaDir, "backend", d.Cfg.StorageBackend)

		return runStdioLoop(rootCtx, d)
	},
}

// toolCall is one line of stdin: a tool-call envelope. project_id
// defaults to 0 if omitted (only meaningful once a project has been
// created via system.create_project).
type toolCall struct {
	Tool      string         `json:"tool"`
	ProjectID types.ID       `json:"project_id"`
	Arguments map[string]any `json:"arguments"`
}

// runStdioLoop reads one toolCall per line from stdin and writes one
// types.ToolResponse per line to stdout, until stdin closes or ctx is
// cancelled. Malformed input lines produce an ERROR response rather
// than terminating the loop.
func runStdioLoop(ctx context.Context, d *daemon.Daemon) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var call toolCall
		if err := json.Unmarshal(line, &call); err != nil {
			_ = encoder.Encode(types.ToolResponse{
				Status: types.ToolStatusError,
				Errors: []types.ToolError{{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("malformed request: %v", err)}},
			})
			continue
		}

		resp := d.Dispatcher.Dispatch(ctx, call.ProjectID, call.Tool, call.Arguments)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}
