package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/logging"
	"github.com/joss/awf/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect and manage run worktrees",
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create <run-id> <branch>",
	Short: "Create the worktree for a run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runner := exec.NewOSRunner()
		paths, err := resolvePaths(ctx, runner)
		if err != nil {
			return err
		}
		alloc := worktree.NewAllocator(runner, paths.Root, paths.Trees, logging.New("worktree"))
		path, err := alloc.Create(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var worktreeValidateCmd = &cobra.Command{
	Use:   "validate <run-id>",
	Short: "Check that a run's worktree is usable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runner := exec.NewOSRunner()
		paths, err := resolvePaths(ctx, runner)
		if err != nil {
			return err
		}
		alloc := worktree.NewAllocator(runner, paths.Root, paths.Trees, logging.New("worktree"))
		valid, reason := alloc.Validate(ctx, alloc.Path(args[0]))
		if !valid {
			return fmt.Errorf("%s", reason)
		}
		fmt.Println("ok")
		return nil
	},
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove <run-id>",
	Short: "Tear down a run's worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runner := exec.NewOSRunner()
		paths, err := resolvePaths(ctx, runner)
		if err != nil {
			return err
		}
		alloc := worktree.NewAllocator(runner, paths.Root, paths.Trees, logging.New("worktree"))
		return alloc.Remove(ctx, args[0])
	},
}

var worktreePortsCmd = &cobra.Command{
	Use:   "ports <run-id>",
	Short: "Show the port pair allocated for a run id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, frontend, err := worktree.NewPortAllocator().Allocate(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("BACKEND_PORT=%d\nFRONTEND_PORT=%d\n", backend, frontend)
		return nil
	},
}

func init() {
	worktreeCmd.AddCommand(worktreeCreateCmd, worktreeValidateCmd, worktreeRemoveCmd, worktreePortsCmd)
	rootCmd.AddCommand(worktreeCmd)
}
