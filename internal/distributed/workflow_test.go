package distributed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func stubActivities(env *testsuite.TestWorkflowEnvironment, plan AnalyzeResult, execErr error) {
	var a *Activities

	env.OnActivity(a.AnalyzeActivity, mock.Anything, mock.Anything).Return(plan, nil)
	env.OnActivity(a.ExecuteActivity, mock.Anything, mock.Anything).Return(func(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
		if execErr != nil {
			return ExecuteResult{}, execErr
		}
		return ExecuteResult{Executed: true}, nil
	})
}

func TestBuildWorkflowRunsEveryAnalyzedAction(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	plan := AnalyzeResult{ActionIDs: []string{"action-1", "action-2", "action-3"}, RootArtifactID: "artifact-root"}
	stubActivities(env, plan, nil)

	env.ExecuteWorkflow(BuildWorkflow, BuildRequest{Repository: "main", Target: "//app:bin"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BuildResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)
	require.Equal(t, 3, result.ActionsExecuted)
	require.Equal(t, "artifact-root", result.RootArtifactID)
}

func TestBuildWorkflowFailsWhenActionExecutionFails(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	plan := AnalyzeResult{ActionIDs: []string{"action-1"}, RootArtifactID: "artifact-root"}
	stubActivities(env, plan, errBoom)

	env.ExecuteWorkflow(BuildWorkflow, BuildRequest{Repository: "main", Target: "//app:bin"})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestBuildWorkflowPropagatesAnalyzeFailure(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	env.OnActivity(a.AnalyzeActivity, mock.Anything, mock.Anything).Return(AnalyzeResult{}, errBoom)

	env.ExecuteWorkflow(BuildWorkflow, BuildRequest{Repository: "main", Target: "//app:missing"})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

var errBoom = &testError{msg: "boom"}
