package targetmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/hashinfo"
	"github.com/buildforge/justb/internal/repoconfig"
	"github.com/buildforge/justb/internal/tasksystem"
)

func mustFSRoot(t *testing.T, files map[string]string) fileroot.Root {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fileroot.NewFSRoot(dir)
}

// newTestRig builds a fully wired RepositoryConfig + TargetMap pair over a
// single "main" repository whose workspace, TARGETS and RULES files come
// from the given file contents.
func newTestRig(t *testing.T, files map[string]string) (*repoconfig.RepositoryConfig, *tasksystem.TaskSystem, *testRig) {
	t.Helper()
	return newTestRigWithLevelCache(t, files, NewMemoryLevelCache())
}

// newTestRigWithLevelCache is newTestRig parameterized over the LevelCache
// instance, so tests can share one across independently built graphs (as
// two cooperating worker processes would).
func newTestRigWithLevelCache(t *testing.T, files map[string]string, levelCache LevelCache) (*repoconfig.RepositoryConfig, *tasksystem.TaskSystem, *testRig) {
	t.Helper()
	root := mustFSRoot(t, files)
	cfg := repoconfig.New()
	cfg.SetInfo("main", repoconfig.RepositoryInfo{WorkspaceRoot: root})

	ts := tasksystem.New(4, nil)
	t.Cleanup(ts.Shutdown)

	dirEntries := repoconfig.NewDirectoryEntriesMap(cfg, 1)
	targetsFileMap := repoconfig.NewTargetsFileMap(cfg, 1)
	ruleFileMap := repoconfig.NewRuleFileMap(cfg, 1)
	exprFileMap := repoconfig.NewExpressionFileMap(cfg, 1)
	exprFnMap := repoconfig.NewExpressionFunctionMap(cfg, exprFileMap, 1)
	ruleMap := repoconfig.NewRuleMap(cfg, ruleFileMap, exprFnMap, 1)
	sourceTargetMap := NewSourceTargetMap(cfg, dirEntries, 1)
	graph := depgraph.NewGraph()
	tm := NewTargetMap(cfg, targetsFileMap, ruleMap, sourceTargetMap, graph, hashinfo.GitSHA1, nil, levelCache, "main", 1)

	return cfg, ts, &testRig{tm: tm, graph: graph}
}

// testRig bundles the target map with the graph it feeds actions into, so
// tests can inspect total action counts after analysis.
type testRig struct {
	tm    *asyncmap.Map[TargetKey, *AnalysedTarget]
	graph *depgraph.Graph
}
