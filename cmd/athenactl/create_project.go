package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shawkridge/athena/internal/daemon"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

var createProjectName string

var createProjectCmd = &cobra.Command{
	Use:   "create-project",
	Short: "Create a new project and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createProjectName == "" {
			return fmt.Errorf("--name is required")
		}

		d, err := daemon.Boot(athenaDir)
		if err != nil {
			return err
		}
		defer d.Stop(rootCtx)

		proj := types.Project{Name: createProjectName, CreatedAt: time.Now()}
		body, err := json.Marshal(proj)
		if err != nil {
			return fmt.Errorf("marshalling project: %w", err)
		}
		id, err := d.DB.Put(rootCtx, storage.NSProjects, storage.Record{
			Fields: map[string]any{"name": proj.Name},
			Body:   body,
		})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	createProjectCmd.Flags().StringVar(&createProjectName, "name", "", "name of the project to create")
}
