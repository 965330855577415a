// Package distributed implements the optional Temporal-backed coordination
// layer (SPEC_FULL.md §3): a BuildWorkflow/AnalyzeActivity/ExecuteActivity
// trio that lets a fleet of workers pull configured-target analysis and
// action execution work through a shared task queue, generalizing the
// teacher's internal/temporal tick-workflow pattern from "dispatch a coding
// agent" to "analyse a target" / "execute an action".
package distributed

// BuildRequest starts a distributed build of one configured target.
type BuildRequest struct {
	Repository string `json:"repository"`
	Target     string `json:"target"`
}

// BuildResult is BuildWorkflow's terminal result.
type BuildResult struct {
	RootArtifactID  string `json:"root_artifact_id"`
	ActionsExecuted int    `json:"actions_executed"`
	ActionsFailed   int    `json:"actions_failed"`
	Success         bool   `json:"success"`
}

// AnalyzeRequest asks AnalyzeActivity to resolve a configured target into
// an ordered action plan.
type AnalyzeRequest struct {
	Repository string `json:"repository"`
	Target     string `json:"target"`
}

// AnalyzeResult is the outcome of target analysis: every action that must
// run, already in an order consistent with dependency order (an action's
// inputs are only produced by actions appearing earlier in the slice), plus
// the ID of the artifact the workflow should report as the build's result.
type AnalyzeResult struct {
	ActionIDs      []string `json:"action_ids"`
	RootArtifactID string   `json:"root_artifact_id"`
}

// ExecuteRequest asks ExecuteActivity to run one action by ID. The action
// itself, its inputs, and its command line are not serialized across the
// workflow boundary — they live in the worker process's in-memory graph,
// addressed by ID, the same way internal/depgraph.Graph addresses nodes.
type ExecuteRequest struct {
	ActionID string `json:"action_id"`
}

// ExecuteResult carries the ActionRunner's bool result. For the engine's
// runner that is depgraph.Executor.ProcessAction's success flag, which is
// true for a cache hit as well as for a fresh run.
type ExecuteResult struct {
	Executed bool `json:"executed"`
}
