package distributed

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// BuildWorkflow implements the distributed build loop: analyse the
// requested target into an action plan, then execute that plan's actions
// in the order analysis produced them (an action's inputs are only
// produced by actions earlier in the slice, so sequential execution
// respects the dependency order without the workflow needing its own copy
// of the graph). Grounded on the teacher's CortexAgentWorkflow shape (a
// workflow.Context-driven loop composed of workflow.ExecuteActivity calls,
// each under its own workflow.ActivityOptions), generalized from an
// agent-dispatch pipeline to an analyse/execute pipeline.
func BuildWorkflow(ctx workflow.Context, req BuildRequest) (BuildResult, error) {
	logger := workflow.GetLogger(ctx)

	analyzeOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	var a *Activities

	analyzeCtx := workflow.WithActivityOptions(ctx, analyzeOpts)
	var plan AnalyzeResult
	if err := workflow.ExecuteActivity(analyzeCtx, a.AnalyzeActivity, AnalyzeRequest{
		Repository: req.Repository,
		Target:     req.Target,
	}).Get(ctx, &plan); err != nil {
		return BuildResult{}, fmt.Errorf("analyze %s in %s: %w", req.Target, req.Repository, err)
	}

	logger.Info("target analyzed", "target", req.Target, "actions", len(plan.ActionIDs))

	execOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	execCtx := workflow.WithActivityOptions(ctx, execOpts)

	result := BuildResult{RootArtifactID: plan.RootArtifactID}
	for _, actionID := range plan.ActionIDs {
		var execResult ExecuteResult
		if err := workflow.ExecuteActivity(execCtx, a.ExecuteActivity, ExecuteRequest{ActionID: actionID}).Get(ctx, &execResult); err != nil {
			logger.Error("action execution failed", "action", actionID, "err", err)
			result.ActionsFailed++
			result.Success = false
			return result, fmt.Errorf("execute action %s: %w", actionID, err)
		}
		if execResult.Executed {
			result.ActionsExecuted++
		}
	}

	result.Success = true
	return result, nil
}
