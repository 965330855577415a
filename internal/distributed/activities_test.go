package distributed

import (
	"context"
	"testing"
)

type fakeAnalyzer struct {
	result AnalyzeResult
	err    error
}

func (f fakeAnalyzer) AnalyzeTarget(ctx context.Context, repository, target string) (AnalyzeResult, error) {
	return f.result, f.err
}

type fakeRunner struct {
	executed map[string]bool
	err      error
}

func (f fakeRunner) RunAction(ctx context.Context, actionID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.executed[actionID], nil
}

func TestActivitiesAnalyzeActivityDelegatesToAnalyzer(t *testing.T) {
	a := &Activities{Analyzer: fakeAnalyzer{result: AnalyzeResult{ActionIDs: []string{"x"}, RootArtifactID: "root"}}}
	result, err := a.AnalyzeActivity(context.Background(), AnalyzeRequest{Repository: "main", Target: "//a:b"})
	if err != nil {
		t.Fatalf("AnalyzeActivity: %v", err)
	}
	if result.RootArtifactID != "root" || len(result.ActionIDs) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestActivitiesAnalyzeActivityRequiresAnalyzer(t *testing.T) {
	a := &Activities{}
	if _, err := a.AnalyzeActivity(context.Background(), AnalyzeRequest{}); err == nil {
		t.Fatal("expected an error with no analyzer configured")
	}
}

func TestActivitiesExecuteActivityDelegatesToRunner(t *testing.T) {
	a := &Activities{Runner: fakeRunner{executed: map[string]bool{"action-1": true}}}
	result, err := a.ExecuteActivity(context.Background(), ExecuteRequest{ActionID: "action-1"})
	if err != nil {
		t.Fatalf("ExecuteActivity: %v", err)
	}
	if !result.Executed {
		t.Fatal("expected Executed to be true")
	}
}

func TestActivitiesExecuteActivityRequiresRunner(t *testing.T) {
	a := &Activities{}
	if _, err := a.ExecuteActivity(context.Background(), ExecuteRequest{ActionID: "action-1"}); err == nil {
		t.Fatal("expected an error with no runner configured")
	}
}
