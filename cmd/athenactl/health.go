package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawkridge/athena/internal/daemon"
	"github.com/shawkridge/athena/internal/types"
)

var healthProjectID int64

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the verification gateway's aggregate health report for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.Boot(athenaDir)
		if err != nil {
			return err
		}
		defer d.Stop(rootCtx)

		report, err := d.GatewayEngine.Health(rootCtx, types.ID(healthProjectID))
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	healthCmd.Flags().Int64Var(&healthProjectID, "project", 0, "project id to report health for")
}
