// Command awf runs the agentic workflow pipeline: it takes a GitHub
// issue through classify, plan, build/test, review, and merge inside an
// isolated git worktree.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "awf",
	Short:   "Agentic workflow pipeline for GitHub issues",
	Version: version,
	Long: `awf drives a coding agent through a full issue workflow:
classify the issue, cut a branch in an isolated worktree, generate a
spec, plan, loop build and test until tests pass, review, and ship.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitOnError(err)
	}
	os.Exit(0)
}
