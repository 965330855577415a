package distributed

import (
	"context"
	"fmt"
)

// Analyzer resolves a configured target into an ordered action plan. It is
// satisfied by whatever component owns target analysis and the in-memory
// depgraph.Graph for a repository; distributed never imports that
// component directly, mirroring depgraph.Executor's own WorkspaceResolver
// decoupling.
type Analyzer interface {
	AnalyzeTarget(ctx context.Context, repository, target string) (AnalyzeResult, error)
}

// ActionRunner executes one previously-analysed action by ID against the
// owning process's graph and executor.
type ActionRunner interface {
	RunAction(ctx context.Context, actionID string) (executed bool, err error)
}

// Activities bundles the Temporal activity methods BuildWorkflow drives.
// Every worker process registers one Activities value backed by its own
// live Analyzer/ActionRunner; the workflow itself only ever sees IDs and
// results, never graph pointers, so it stays replay-safe.
type Activities struct {
	Analyzer Analyzer
	Runner   ActionRunner
}

// AnalyzeActivity resolves req into an AnalyzeResult.
func (a *Activities) AnalyzeActivity(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	if a.Analyzer == nil {
		return AnalyzeResult{}, fmt.Errorf("distributed: no analyzer configured")
	}
	return a.Analyzer.AnalyzeTarget(ctx, req.Repository, req.Target)
}

// ExecuteActivity runs req.ActionID.
func (a *Activities) ExecuteActivity(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if a.Runner == nil {
		return ExecuteResult{}, fmt.Errorf("distributed: no action runner configured")
	}
	executed, err := a.Runner.RunAction(ctx, req.ActionID)
	if err != nil {
		return ExecuteResult{}, err
	}
	return ExecuteResult{Executed: executed}, nil
}
