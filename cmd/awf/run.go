package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/awf/internal/agent"
	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/pipeline"
)

var runFlags struct {
	planIterations  int
	buildIterations int
	maxLoops        int
	skipTests       bool
	skipReview      bool
	skipMerge       bool
	modelSet        string
}

var runCmd = &cobra.Command{
	Use:   "run <issue-number> [run-id]",
	Short: "Run the full workflow for a GitHub issue",
	Long: `Run takes an issue through the complete pipeline. Passing an
existing run id resumes that run where it stopped; state is reloaded
from the run database and completed steps are skipped.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		set := agent.ModelSet(runFlags.modelSet)
		if set != "" && set != agent.ModelSetBase && set != agent.ModelSetHeavy {
			return fmt.Errorf("invalid model set %q (want base or heavy)", runFlags.modelSet)
		}

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

		opts := pipeline.Options{
			IssueNumber:     args[0],
			ModelSet:        set,
			PlanIterations:  runFlags.planIterations,
			BuildIterations: runFlags.buildIterations,
			MaxLoops:        runFlags.maxLoops,
			SkipTests:       runFlags.skipTests,
			SkipReview:      runFlags.skipReview,
			SkipMerge:       runFlags.skipMerge,
		}
		if len(args) > 1 {
			opts.RunID = args[1]
		}

		out := newRenderer()
		summary, err := pipeline.New(runner, paths, store, out).Run(ctx, opts)
		if err != nil {
			return err
		}
		out.Summary(*summary)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runFlags.planIterations, "plan-iterations", 1, "agent iterations for the plan phase")
	runCmd.Flags().IntVar(&runFlags.buildIterations, "build-iterations", 1, "agent iterations per build phase")
	runCmd.Flags().IntVar(&runFlags.maxLoops, "max-loops", 0, "cap on build/test loops (0 = unlimited)")
	runCmd.Flags().BoolVar(&runFlags.skipTests, "skip-tests", false, "build once without the test loop")
	runCmd.Flags().BoolVar(&runFlags.skipReview, "skip-review", false, "skip the review agent")
	runCmd.Flags().BoolVar(&runFlags.skipMerge, "skip-merge", false, "leave the branch on its PR instead of merging")
	runCmd.Flags().StringVar(&runFlags.modelSet, "model-set", "", "model tier: base or heavy")
	rootCmd.AddCommand(runCmd)
}
