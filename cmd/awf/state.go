package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/awf/internal/exec"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted run state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a run's state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runner := exec.NewOSRunner()
		paths, err := resolvePaths(ctx, runner)
		if err != nil {
			return err
		}
		store, err := openStore(paths)
		if err != nil {
			return err
		}
		defer store.Close()

		ws, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		if ws == nil {
			return fmt.Errorf("no state for run %s", args[0])
		}
		data, err := json.MarshalIndent(ws, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
	rootCmd.AddCommand(stateCmd)
}
