package depgraph

import (
	"context"
	"testing"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/execapi"
	"github.com/buildforge/justb/internal/hashinfo"
)

func TestRebuilderDetectsFlakyAction(t *testing.T) {
	remote := newFakeAPI()
	cached := newFakeAPI()

	rebuiltHi := hashinfo.HashData(hashinfo.GitSHA1, []byte("rebuilt"), false)
	cachedHi := hashinfo.HashData(hashinfo.GitSHA1, []byte("cached"), false)
	remote.execFn = func(execapi.Action) (execapi.Result, error) {
		return execapi.Result{ExitCode: 0, Outputs: map[string]artifact.ObjectInfo{
			"out.txt": {Digest: artifact.NewDigest(rebuiltHi, 7), Type: artifact.File},
		}}, nil
	}
	cached.execFn = func(execapi.Action) (execapi.Result, error) {
		return execapi.Result{ExitCode: 0, CachedResult: true, Outputs: map[string]artifact.ObjectInfo{
			"out.txt": {Digest: artifact.NewDigest(cachedHi, 6), Type: artifact.File},
		}}, nil
	}

	graph := NewGraph()
	action := graph.AddAction(ActionSpec{
		ID:          "flaky-action",
		Command:     []string{"/bin/nondeterministic"},
		OutputFiles: []string{"out.txt"},
	})

	exec := &Executor{RemoteAPI: remote, Stats: NewStatistics()}
	rebuilder := NewRebuilder(exec, cached)

	ok, err := rebuilder.ProcessAction(context.Background(), action)
	if err != nil || !ok {
		t.Fatalf("ProcessAction failed: ok=%v err=%v", ok, err)
	}
	if exec.Stats.ActionsFlaky() != 1 {
		t.Fatalf("expected one flaky action recorded, got %d", exec.Stats.ActionsFlaky())
	}
	flaky, misses := rebuilder.FlakyActions()
	if len(misses) != 0 {
		t.Fatalf("expected no cache misses, got %v", misses)
	}
	if _, ok := flaky["flaky-action"]["out.txt"]; !ok {
		t.Fatalf("expected flaky-action/out.txt to be recorded, got %+v", flaky)
	}
}

func TestRebuilderMatchingOutputsNotFlagged(t *testing.T) {
	remote := newFakeAPI()
	cached := newFakeAPI()
	hi := hashinfo.HashData(hashinfo.GitSHA1, []byte("same"), false)
	digest := artifact.NewDigest(hi, 4)
	result := execapi.Result{ExitCode: 0, Outputs: map[string]artifact.ObjectInfo{
		"out.txt": {Digest: digest, Type: artifact.File},
	}}
	remote.execFn = func(execapi.Action) (execapi.Result, error) { return result, nil }
	cached.execFn = func(execapi.Action) (execapi.Result, error) { return result, nil }

	graph := NewGraph()
	action := graph.AddAction(ActionSpec{
		ID:          "stable-action",
		Command:     []string{"/bin/true"},
		OutputFiles: []string{"out.txt"},
	})

	exec := &Executor{RemoteAPI: remote, Stats: NewStatistics()}
	rebuilder := NewRebuilder(exec, cached)

	if _, err := rebuilder.ProcessAction(context.Background(), action); err != nil {
		t.Fatal(err)
	}
	if exec.Stats.ActionsFlaky() != 0 {
		t.Fatalf("expected no flaky actions, got %d", exec.Stats.ActionsFlaky())
	}
	if exec.Stats.RebuiltActionsCompared() != 1 {
		t.Fatalf("expected one compared action, got %d", exec.Stats.RebuiltActionsCompared())
	}
}
