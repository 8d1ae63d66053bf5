// Package state persists per-run workflow state in sqlite so separate
// workflow invocations can pick up where the previous one stopped.
package state

// IssueClass is the classification a triage agent assigns to an issue.
type IssueClass string

const (
	IssueClassChore   IssueClass = "/chore"
	IssueClassBug     IssueClass = "/bug"
	IssueClassFeature IssueClass = "/feature"
)

// Valid reports whether the class is one the pipeline understands.
func (c IssueClass) Valid() bool {
	switch c {
	case IssueClassChore, IssueClassBug, IssueClassFeature:
		return true
	}
	return false
}

// WorkflowState is the durable record for one run id. Fields are filled
// in progressively as the pipeline advances; zero values mean the step
// has not happened yet.
type WorkflowState struct {
	RunID        string     `json:"run_id"`
	IssueNumber  string     `json:"issue_number"`
	BranchName   string     `json:"branch_name,omitempty"`
	PlanFile     string     `json:"plan_file,omitempty"`
	IssueClass   IssueClass `json:"issue_class,omitempty"`
	WorktreePath string     `json:"worktree_path,omitempty"`
	BackendPort  int        `json:"backend_port,omitempty"`
	FrontendPort int        `json:"frontend_port,omitempty"`
	ModelSet     string     `json:"model_set,omitempty"`

	// Workflows is the append-only history of workflow names that have
	// saved this state, oldest first.
	Workflows []string `json:"all_workflows,omitempty"`
}

// New creates state for a fresh run.
func New(runID, issueNumber string) *WorkflowState {
	return &WorkflowState{RunID: runID, IssueNumber: issueNumber}
}
