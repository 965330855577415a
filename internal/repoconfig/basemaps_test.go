package repoconfig

import (
	"testing"

	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/tasksystem"
)

func TestDirectoryEntriesMapReadsWorkspaceDirectory(t *testing.T) {
	root := mustFSRoot(t, map[string]string{"src/a.txt": "a", "src/b.txt": "b"})
	cfg := New()
	cfg.SetInfo("main", RepositoryInfo{WorkspaceRoot: root})

	ts := tasksystem.New(2, nil)
	defer ts.Shutdown()
	m := NewDirectoryEntriesMap(cfg, 1)

	done := make(chan fileroot.DirectoryEntries, 1)
	m.ConsumeAfterKeysReady(ts, []ModuleName{{Repository: "main", Module: "src"}}, func(vs []fileroot.DirectoryEntries) {
		done <- vs[0]
	}, func(string, bool) {}, nil)
	ts.Finish()

	entries := <-done
	if entries.Empty() {
		t.Fatal("expected non-empty directory entries")
	}
	if !entries.ContainsFile("a.txt") {
		t.Fatalf("expected a.txt in entries, got %v", entries.Files())
	}
}

func TestJSONFileMapMandatoryMissingFails(t *testing.T) {
	root := mustFSRoot(t, nil)
	cfg := New()
	cfg.SetInfo("main", RepositoryInfo{WorkspaceRoot: root})

	ts := tasksystem.New(2, nil)
	defer ts.Shutdown()
	m := NewTargetsFileMap(cfg, 1)

	failed := make(chan struct{}, 1)
	m.ConsumeAfterKeysReady(ts, []ModuleName{{Repository: "main", Module: "."}}, func(vs []map[string]any) {
		t.Error("consumer should not run for a missing mandatory file")
	}, func(string, bool) {}, func() { failed <- struct{}{} })
	ts.Finish()

	select {
	case <-failed:
	default:
		t.Fatal("expected mandatory-file failure")
	}
}

func TestJSONFileMapNonMandatoryMissingYieldsEmpty(t *testing.T) {
	root := mustFSRoot(t, nil)
	cfg := New()
	cfg.SetInfo("main", RepositoryInfo{WorkspaceRoot: root})

	ts := tasksystem.New(2, nil)
	defer ts.Shutdown()
	m := NewJSONFileMap(cfg, expressionRootOf, expressionFileNameOf, false, 1)

	done := make(chan map[string]any, 1)
	m.ConsumeAfterKeysReady(ts, []ModuleName{{Repository: "main", Module: "."}}, func(vs []map[string]any) {
		done <- vs[0]
	}, func(string, bool) {}, nil)
	ts.Finish()

	got := <-done
	if len(got) != 0 {
		t.Fatalf("expected empty object, got %v", got)
	}
}

func TestJSONFileMapParsesPresentFile(t *testing.T) {
	root := mustFSRoot(t, map[string]string{"TARGETS": `{"foo": {"type": "generic"}}`})
	cfg := New()
	cfg.SetInfo("main", RepositoryInfo{WorkspaceRoot: root})

	ts := tasksystem.New(2, nil)
	defer ts.Shutdown()
	m := NewTargetsFileMap(cfg, 1)

	done := make(chan map[string]any, 1)
	m.ConsumeAfterKeysReady(ts, []ModuleName{{Repository: "main", Module: "."}}, func(vs []map[string]any) {
		done <- vs[0]
	}, func(string, bool) {}, nil)
	ts.Finish()

	got := <-done
	if _, ok := got["foo"]; !ok {
		t.Fatalf("expected \"foo\" entry, got %v", got)
	}
}
