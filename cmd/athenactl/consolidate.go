package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawkridge/athena/internal/daemon"
	"github.com/shawkridge/athena/internal/types"
)

var consolidateProjectID int64

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Manually trigger a consolidation run for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.Boot(athenaDir)
		if err != nil {
			return err
		}
		defer d.Stop(rootCtx)

		run, err := d.Consolidator.Run(rootCtx, types.ID(consolidateProjectID), types.TriggerManual, nil)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	consolidateCmd.Flags().Int64Var(&consolidateProjectID, "project", 0, "project id to consolidate")
}
