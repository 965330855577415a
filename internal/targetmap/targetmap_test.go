package targetmap

import (
	"testing"

	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/expression"
)

func TestSourceTargetMapResolvesWorkspaceFile(t *testing.T) {
	_, ts, rig := newTestRig(t, map[string]string{
		"TARGETS": `{}`,
		"a.txt":   "hello",
	})

	key := entityname.NewNamedTarget("main", ".", "a.txt")
	done := make(chan *AnalysedTarget, 1)
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, expression.NewConfiguration(nil))}, func(vs []*AnalysedTarget) {
		done <- vs[0]
	}, func(string, bool) {}, func() { t.Error("expected source fallback to succeed") })
	ts.Finish()

	at := <-done
	if len(at.ArtifactNames()) != 1 || at.ArtifactNames()[0] != "a.txt" {
		t.Fatalf("expected artifacts {a.txt}, got %v", at.ArtifactNames())
	}
}

func TestTargetMapGenericRuleProducesAction(t *testing.T) {
	_, ts, rig := newTestRig(t, map[string]string{
		"TARGETS": `{"lib": {"type": "generic", "cmds": ["true"], "outs": ["out.txt"], "deps": []}}`,
	})

	key := entityname.NewNamedTarget("main", ".", "lib")
	done := make(chan *AnalysedTarget, 1)
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, expression.NewConfiguration(nil))}, func(vs []*AnalysedTarget) {
		done <- vs[0]
	}, func(string, bool) {}, func() { t.Error("expected generic rule analysis to succeed") })
	ts.Finish()

	at := <-done
	if len(at.ArtifactNames()) != 1 || at.ArtifactNames()[0] != "out.txt" {
		t.Fatalf("expected artifacts {out.txt}, got %v", at.ArtifactNames())
	}
	if len(at.Actions) != 1 {
		t.Fatalf("expected exactly one action, got %d", len(at.Actions))
	}
	if got := at.Actions[0].Command(); len(got) != 1 || got[0] != "true" {
		t.Fatalf("expected command [true], got %v", got)
	}
}

// TestTargetMapDedupAcrossUnusedConfigVar is spec.md §8 scenario C: two
// analyses of the same target differing only in a configuration variable
// the target's rule never reads produce the same action, by identity.
func TestTargetMapDedupAcrossUnusedConfigVar(t *testing.T) {
	_, ts, rig := newTestRig(t, map[string]string{
		"TARGETS": `{"lib": {"type": "generic", "cmds": ["true"], "outs": ["out.txt"], "deps": []}}`,
	})

	key := entityname.NewNamedTarget("main", ".", "lib")
	configA := expression.NewConfiguration(map[string]expression.Value{"DEBUG": expression.Bool(true)})
	configB := expression.NewConfiguration(map[string]expression.Value{"DEBUG": expression.Bool(false)})

	results := make(chan *AnalysedTarget, 2)
	fail := func() { t.Error("expected both analyses to succeed") }
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, configA)}, func(vs []*AnalysedTarget) {
		results <- vs[0]
	}, func(string, bool) {}, fail)
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, configB)}, func(vs []*AnalysedTarget) {
		results <- vs[0]
	}, func(string, bool) {}, fail)
	ts.Finish()

	a := <-results
	b := <-results
	if len(a.Actions) != 1 || len(b.Actions) != 1 {
		t.Fatalf("expected one action per analysis, got %d and %d", len(a.Actions), len(b.Actions))
	}
	if a.Actions[0] != b.Actions[0] {
		t.Fatal("expected both analyses to share the same action node")
	}
	namesA, ok := a.Artifacts.Get("out.txt")
	if !ok {
		t.Fatal("missing out.txt in first analysis")
	}
	namesB, ok := b.Artifacts.Get("out.txt")
	if !ok {
		t.Fatal("missing out.txt in second analysis")
	}
	if !namesA.Equal(namesB) {
		t.Fatal("expected both analyses' out.txt artifact to be equal")
	}
}

func TestTargetMapFileGenRuleProducesArtifact(t *testing.T) {
	_, ts, rig := newTestRig(t, map[string]string{
		"TARGETS": `{"gen": {"type": "file_gen", "name": "out.txt", "data": "hello world"}}`,
	})

	key := entityname.NewNamedTarget("main", ".", "gen")
	done := make(chan *AnalysedTarget, 1)
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, expression.NewConfiguration(nil))}, func(vs []*AnalysedTarget) {
		done <- vs[0]
	}, func(string, bool) {}, func() { t.Error("expected file_gen analysis to succeed") })
	ts.Finish()

	at := <-done
	if len(at.ArtifactNames()) != 1 || at.ArtifactNames()[0] != "out.txt" {
		t.Fatalf("expected artifacts {out.txt}, got %v", at.ArtifactNames())
	}
}

func TestTargetMapSymlinkRuleProducesArtifact(t *testing.T) {
	_, ts, rig := newTestRig(t, map[string]string{
		"TARGETS": `{"link": {"type": "symlink", "name": "out_link", "target": "real/path"}}`,
	})

	key := entityname.NewNamedTarget("main", ".", "link")
	done := make(chan *AnalysedTarget, 1)
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, expression.NewConfiguration(nil))}, func(vs []*AnalysedTarget) {
		done <- vs[0]
	}, func(string, bool) {}, func() { t.Error("expected symlink analysis to succeed") })
	ts.Finish()

	at := <-done
	if len(at.ArtifactNames()) != 1 || at.ArtifactNames()[0] != "out_link" {
		t.Fatalf("expected artifacts {out_link}, got %v", at.ArtifactNames())
	}
}

func TestTargetMapSymlinkRuleRejectsInvalidTarget(t *testing.T) {
	_, ts, rig := newTestRig(t, map[string]string{
		"TARGETS": `{"link": {"type": "symlink", "name": "out_link", "target": "../escape"}}`,
	})

	key := entityname.NewNamedTarget("main", ".", "link")
	failed := make(chan struct{}, 1)
	rig.tm.ConsumeAfterKeysReady(ts, []TargetKey{NewTargetKey(key, expression.NewConfiguration(nil))}, func(vs []*AnalysedTarget) {
		t.Error("expected symlink analysis with an escaping target to fail")
	}, func(string, bool) {}, func() { failed <- struct{}{} })
	ts.Finish()

	<-failed
}
