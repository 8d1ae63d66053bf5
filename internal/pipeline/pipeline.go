package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joss/awf/internal/agent"
	"github.com/joss/awf/internal/config"
	"github.com/joss/awf/internal/exec"
	"github.com/joss/awf/internal/gitops"
	"github.com/joss/awf/internal/issue"
	"github.com/joss/awf/internal/logging"
	"github.com/joss/awf/internal/loop"
	"github.com/joss/awf/internal/render"
	"github.com/joss/awf/internal/review"
	"github.com/joss/awf/internal/state"
	"github.com/joss/awf/internal/worktree"
)

// Options controls one pipeline run.
type Options struct {
	// IssueNumber is the GitHub issue to work. Required.
	IssueNumber string

	// RunID resumes an existing run; empty starts a fresh one.
	RunID string

	// ModelSet picks the model tier for all agents.
	ModelSet agent.ModelSet

	// PlanIterations and BuildIterations are passed to the phase runner.
	PlanIterations  int
	BuildIterations int

	// MaxLoops caps build/test loops. Zero means unlimited.
	MaxLoops int

	// SkipTests runs a single build phase without the test loop.
	SkipTests bool

	// SkipReview skips the review agent after the loop.
	SkipReview bool

	// SkipMerge leaves the branch on its PR instead of merging to main.
	SkipMerge bool
}

// gitClient is the slice of git/gh operations the pipeline drives.
// Satisfied by *gitops.Ops.
type gitClient interface {
	Commit(ctx context.Context, dir, message string) error
	EnsurePR(ctx context.Context, dir, branch, title, body string) (string, error)
	MergeToMain(ctx context.Context, repoRoot, branch string) error
}

// reviewRunner is the review surface the pipeline drives. Satisfied by
// *review.Reviewer.
type reviewRunner interface {
	Review(ctx context.Context, runID string, set agent.ModelSet, worktree, planFile string) (*review.Result, error)
	Screenshots(runID string) []string
}

// commandExecutor runs slash commands through the agent CLI. Satisfied
// by *agent.Executor.
type commandExecutor interface {
	ExecuteCommand(ctx context.Context, req agent.CommandRequest) (*agent.PromptResponse, error)
}

// Pipeline holds the long-lived dependencies a run needs.
type Pipeline struct {
	runner   exec.Runner
	paths    *config.Paths
	store    *state.Store
	registry *logging.Registry
	executor commandExecutor
	issues   *issue.Client
	git      gitClient
	trees    *worktree.Allocator
	ports    *worktree.PortAllocator
	out      *render.Renderer
	log      *logging.Logger

	// capture grabs a page screenshot; swapped in tests.
	capture func(url, path string) error
}

// New wires a pipeline against a repository root.
func New(runner exec.Runner, paths *config.Paths, store *state.Store, out *render.Renderer) *Pipeline {
	registry := logging.NewRegistry(paths.Runs)
	log := logging.New("pipeline")
	return &Pipeline{
		runner:   runner,
		paths:    paths,
		store:    store,
		registry: registry,
		executor: agent.NewExecutor(runner, config.Env(), paths.Runs, log),
		issues:   issue.NewClient(runner, log),
		git:      gitops.New(runner, log),
		trees:    worktree.NewAllocator(runner, paths.Root, paths.Trees, log),
		ports:    worktree.NewPortAllocator(),
		out:      out,
		log:      log,
		capture:  review.CaptureScreenshot,
	}
}

// issueNotifier adapts the issue client to the loop's Notifier.
type issueNotifier struct {
	issues      *issue.Client
	issueNumber string
	runID       string
}

func (n *issueNotifier) Notify(ctx context.Context, channel, message string) {
	n.issues.Comment(ctx, n.issueNumber, n.runID, channel, message)
}

// agentTester runs the test suite through the /test agent command so
// test invocations get the model-tier mapping and retry policy like
// every other agent call.
type agentTester struct {
	executor commandExecutor
	runID    string
	set      agent.ModelSet
	worktree string
}

func (t *agentTester) RunTests(ctx context.Context) (string, error) {
	resp, err := t.executor.ExecuteCommand(ctx, agent.CommandRequest{
		AgentName:  "tester",
		Command:    "/test",
		RunID:      t.runID,
		ModelSet:   t.set,
		WorkingDir: t.worktree,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("test agent failed: %s", resp.Output)
	}
	return resp.Output, nil
}

// Run executes the full workflow for an issue and returns the run
// summary. State is saved after every step so an interrupted run can be
// resumed with the same run id.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*render.RunSummary, error) {
	start := time.Now()

	runID := opts.RunID
	if runID == "" {
		runID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	p.log = p.registry.Get(runID, "run")
	p.executor = agent.NewExecutor(p.runner, config.Env(), p.paths.Runs, p.log)

	ws, err := p.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		ws = state.New(runID, opts.IssueNumber)
	}
	save := func() error { return p.store.Save(ctx, ws, "run") }

	set := opts.ModelSet
	if set == "" {
		set = agent.ModelSet(ws.ModelSet)
	}
	if set == "" {
		set = agent.ModelSetBase
	}
	ws.ModelSet = string(set)

	notify := &issueNotifier{issues: p.issues, issueNumber: ws.IssueNumber, runID: runID}

	p.out.Step("Fetching issue #" + ws.IssueNumber)
	iss, err := p.issues.Fetch(ctx, ws.IssueNumber)
	if err != nil {
		return nil, err
	}
	notify.Notify(ctx, "ops", fmt.Sprintf("Starting run for issue #%d: %s", iss.Number, iss.Title))

	if ws.IssueClass == "" {
		p.out.Step("Classifying issue")
		class, err := p.classify(ctx, runID, set, iss)
		if err != nil {
			return nil, err
		}
		ws.IssueClass = class
		p.out.Stepf("classified as %s", class)
		if err := save(); err != nil {
			return nil, err
		}
	}

	if ws.BranchName == "" {
		p.out.Step("Generating branch name")
		branch, err := p.generateBranchName(ctx, runID, set, ws.IssueClass, iss)
		if err != nil {
			return nil, err
		}
		ws.BranchName = branch
		p.out.Stepf("branch %s", branch)
		if err := save(); err != nil {
			return nil, err
		}
	}

	if valid, reason := p.trees.Validate(ctx, ws.WorktreePath); !valid {
		if ws.WorktreePath != "" {
			p.log.Warn("worktree_invalid", map[string]any{"reason": reason}, nil)
		}
		p.out.Step("Creating worktree")
		path, err := p.trees.Create(ctx, runID, ws.BranchName)
		if err != nil {
			return nil, err
		}
		ws.WorktreePath = path
		p.out.Stepf("worktree %s", path)
		if err := save(); err != nil {
			return nil, err
		}
	}

	if ws.BackendPort == 0 {
		p.out.Step("Allocating ports")
		backend, frontend, err := p.ports.Allocate(runID)
		if err != nil {
			return nil, err
		}
		ws.BackendPort, ws.FrontendPort = backend, frontend
		p.out.Stepf("backend %d, frontend %d", backend, frontend)
		if err := save(); err != nil {
			return nil, err
		}
	}
	if err := p.trees.SetupEnvironment(runID, ws.BackendPort, ws.FrontendPort); err != nil {
		return nil, err
	}

	if ws.PlanFile == "" {
		p.out.Step("Generating spec")
		specPath, err := p.generateSpec(ctx, runID, set, ws.WorktreePath, ws.IssueClass, iss)
		if err != nil {
			return nil, err
		}
		ws.PlanFile = specPath
		p.out.Stepf("spec %s", specPath)
		if err := save(); err != nil {
			return nil, err
		}
	}

	phases := loop.NewScriptPhaseRunner(p.runner, ws.WorktreePath, "", p.log)
	tester := &agentTester{executor: p.executor, runID: runID, set: set, worktree: ws.WorktreePath}
	ctl := loop.NewController(phases, tester, p.git, notify, ws.WorktreePath, p.log)
	ctl.MaxLoops = opts.MaxLoops
	if opts.PlanIterations > 0 {
		ctl.PlanIterations = opts.PlanIterations
	}
	if opts.BuildIterations > 0 {
		ctl.BuildIterations = opts.BuildIterations
	}

	p.out.Step("Planning")
	if err := ctl.EnsurePlan(ctx); err != nil {
		return nil, err
	}
	notify.Notify(ctx, "plan", "Plan ready, starting build loop")

	var phase loop.Phase
	if opts.SkipTests {
		p.out.Step("Building (tests skipped)")
		if _, err := phases.RunPhase(ctx, loop.PhaseBuild, ctl.BuildIterations); err != nil {
			return nil, err
		}
		if err := p.git.Commit(ctx, ws.WorktreePath, "checkpoint: build"); err != nil {
			p.log.Warn("checkpoint_commit_failed", nil, err)
		}
		phase = loop.PhaseDone
	} else {
		p.out.Step("Build/test loop")
		phase, err = ctl.Run(ctx)
		if err != nil {
			return nil, err
		}
	}

	summary := &render.RunSummary{
		RunID:        runID,
		IssueNumber:  ws.IssueNumber,
		Branch:       ws.BranchName,
		Phase:        string(phase),
		WorktreePath: ws.WorktreePath,
		BackendPort:  ws.BackendPort,
		FrontendPort: ws.FrontendPort,
	}

	reviewer := review.NewReviewer(p.executor, p.paths.Runs, p.log)
	if err := p.finish(ctx, opts, ws, iss, phase, reviewer, notify, summary); err != nil {
		return nil, err
	}

	if err := save(); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// finish runs the post-loop stages: review, ship, merge. Abandoned runs
// get the same review and shipped branch as finished ones so the work
// and failure state survive; only the merge is withheld.
func (p *Pipeline) finish(ctx context.Context, opts Options, ws *state.WorkflowState, iss *issue.Issue, phase loop.Phase, reviewer reviewRunner, notify loop.Notifier, summary *render.RunSummary) error {
	blockers := 0
	if !opts.SkipReview {
		p.out.Step("Reviewing")
		result, err := reviewer.Review(ctx, ws.RunID, agent.ModelSet(ws.ModelSet), ws.WorktreePath, ws.PlanFile)
		if err != nil {
			p.out.Warn("review failed: " + err.Error())
			p.log.Warn("review_failed", nil, err)
		} else {
			p.captureFrontend(ws)
			shots := reviewer.Screenshots(ws.RunID)
			notify.Notify(ctx, "review", review.BuildComment(result, shots))
			blockers = len(result.Blockers())
			if blockers > 0 {
				p.out.Warn(fmt.Sprintf("%d blocking review finding(s)", blockers))
			}
		}
	}

	p.out.Step("Shipping")
	if err := p.git.Commit(ctx, ws.WorktreePath, fmt.Sprintf("%s: resolve issue #%d", strings.TrimPrefix(string(ws.IssueClass), "/"), iss.Number)); err != nil {
		p.log.Warn("final_commit_failed", nil, err)
	}
	title := fmt.Sprintf("%s: %s (#%d)", strings.TrimPrefix(string(ws.IssueClass), "/"), iss.Title, iss.Number)
	body := fmt.Sprintf("Resolves #%d\n\nRun: %s", iss.Number, ws.RunID)
	prURL, err := p.git.EnsurePR(ctx, ws.WorktreePath, ws.BranchName, title, body)
	if err != nil {
		return err
	}
	if prURL != "" {
		summary.PRURL = prURL
		notify.Notify(ctx, "ops", "Opened pull request: "+prURL)
	}

	switch {
	case phase != loop.PhaseDone:
		notify.Notify(ctx, "ops", "Run abandoned with failing tests; branch pushed, worktree and state kept for resume")
	case blockers > 0:
		notify.Notify(ctx, "ops", "Merge held back: blocking review findings")
	case opts.SkipMerge:
	default:
		p.out.Step("Merging to main")
		// The merge checks out main, which git refuses inside a linked
		// worktree, so it runs from the main repository root.
		if err := p.git.MergeToMain(ctx, p.paths.Root, ws.BranchName); err != nil {
			// Unresolvable merge is degraded, not fatal: the PR stays
			// open for a human to merge.
			p.out.Warn("merge failed: " + err.Error())
			p.log.Warn("merge_failed", nil, err)
			notify.Notify(ctx, "ops", "Could not merge to main; PR left for manual merge")
		} else {
			notify.Notify(ctx, "ops", "Merged to main")
		}
	}
	return nil
}

// captureFrontend screenshots the worktree's running frontend into the
// run's review artifacts. A failed capture is skipped: the app may not
// serve a frontend at all.
func (p *Pipeline) captureFrontend(ws *state.WorkflowState) {
	if ws.FrontendPort == 0 {
		return
	}
	dir := filepath.Join(p.paths.Runs, ws.RunID, "reviewer", "screenshots")
	if err := config.EnsureDir(dir); err != nil {
		p.log.Warn("screenshot_dir_failed", map[string]any{"dir": dir}, err)
		return
	}
	url := fmt.Sprintf("http://localhost:%d", ws.FrontendPort)
	if err := p.capture(url, filepath.Join(dir, "frontend.png")); err != nil {
		p.log.Warn("screenshot_capture_failed", map[string]any{"url": url}, err)
	}
}
