package depgraph

import (
	"context"
	"testing"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/execapi"
	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/hashinfo"
)

type fakeAPI struct {
	blobs     map[string][]byte
	execFn    func(execapi.Action) (execapi.Result, error)
	available map[string]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{blobs: make(map[string][]byte), available: make(map[string]bool)}
}

func (f *fakeAPI) Name() string { return "fake" }
func (f *fakeAPI) Capabilities(context.Context) (execapi.Capabilities, error) {
	return execapi.Capabilities{ExecEnabled: true}, nil
}
func (f *fakeAPI) Upload(_ context.Context, blobs []artifact.Blob) error {
	for _, b := range blobs {
		content, err := b.ReadContent()
		if err != nil {
			return err
		}
		f.blobs[b.Digest().Hash()] = content
		f.available[b.Digest().Hash()] = true
	}
	return nil
}
func (f *fakeAPI) Execute(_ context.Context, action execapi.Action) (execapi.Result, error) {
	if f.execFn != nil {
		return f.execFn(action)
	}
	return execapi.Result{ExitCode: 0, Outputs: map[string]artifact.ObjectInfo{}}, nil
}
func (f *fakeAPI) RetrieveToPaths(context.Context, []artifact.ObjectInfo, []string) error {
	return nil
}
func (f *fakeAPI) Available(_ context.Context, digest artifact.Digest) (bool, error) {
	return f.available[digest.Hash()], nil
}

type fakeRoot struct {
	files map[string][]byte
}

func (r fakeRoot) Exists(path string) bool      { _, ok := r.files[path]; return ok }
func (r fakeRoot) IsFile(path string) bool      { return r.Exists(path) }
func (r fakeRoot) IsDirectory(string) bool      { return false }
func (r fakeRoot) ReadFile(path string) ([]byte, bool) {
	c, ok := r.files[path]
	return c, ok
}
func (r fakeRoot) ReadDirectory(string) fileroot.DirectoryEntries { return fileroot.DirectoryEntries{} }
func (r fakeRoot) FileType(string) (fileroot.EntryType, bool)     { return fileroot.EntryFile, true }
func (r fakeRoot) ReadBlob(string) ([]byte, bool)                 { return nil, false }
func (r fakeRoot) ReadTree(string) (fileroot.DirectoryEntries, bool) {
	return fileroot.DirectoryEntries{}, false
}
func (r fakeRoot) IsAbsent() bool                  { return false }
func (r fakeRoot) AbsentTreeID() (string, bool)    { return "", false }
func (r fakeRoot) ToArtifactDescription(path, repo string) (artifact.Description, bool) {
	return artifact.NewLocalDescription(repo, path), true
}

type fakeResolver struct {
	roots map[string]fileroot.Root
}

func (r fakeResolver) WorkspaceRoot(repo string) (fileroot.Root, bool) {
	root, ok := r.roots[repo]
	return root, ok
}

func TestProcessArtifactUploadsLocalSource(t *testing.T) {
	content := []byte("hello world")
	root := fakeRoot{files: map[string][]byte{"a.txt": content}}
	resolver := fakeResolver{roots: map[string]fileroot.Root{"main": root}}
	remote := newFakeAPI()

	exec := &Executor{
		Resolver:  resolver,
		RemoteAPI: remote,
		Stats:     NewStatistics(),
	}

	node := NewSourceArtifactNode("a", artifact.NewLocalDescription("main", "a.txt"))
	ok, err := exec.ProcessArtifact(context.Background(), node)
	if err != nil || !ok {
		t.Fatalf("ProcessArtifact failed: ok=%v err=%v", ok, err)
	}
	info, has := node.Info()
	if !has {
		t.Fatal("expected object info to be set")
	}
	if !remote.available[info.Digest.Hash()] {
		t.Fatal("expected blob to be uploaded to remote")
	}
}

func TestProcessActionRunsAndWritesOutputs(t *testing.T) {
	remote := newFakeAPI()
	hi := hashinfo.HashData(hashinfo.GitSHA1, []byte("in"), false)
	inputDigest := artifact.NewDigest(hi, 2)
	inputNode := NewSourceArtifactNode("in", artifact.Description{})
	inputNode.SetObjectInfo(artifact.ObjectInfo{Digest: inputDigest, Type: artifact.File}, false)

	outHi := hashinfo.HashData(hashinfo.GitSHA1, []byte("out"), false)
	outDigest := artifact.NewDigest(outHi, 3)
	remote.execFn = func(a execapi.Action) (execapi.Result, error) {
		return execapi.Result{
			ExitCode: 0,
			Outputs: map[string]artifact.ObjectInfo{
				"out.txt": {Digest: outDigest, Type: artifact.File},
			},
		}, nil
	}

	graph := NewGraph()
	action := graph.AddAction(ActionSpec{
		ID:          "action-1",
		Command:     []string{"/bin/true"},
		Inputs:      map[string]*ArtifactNode{"in.txt": inputNode},
		OutputFiles: []string{"out.txt"},
	})

	exec := &Executor{RemoteAPI: remote, Stats: NewStatistics()}
	ok, err := exec.ProcessAction(context.Background(), action, CacheOutput)
	if err != nil || !ok {
		t.Fatalf("ProcessAction failed: ok=%v err=%v", ok, err)
	}
	outNode := action.OutputFiles()["out.txt"]
	info, has := outNode.Info()
	if !has || info.Digest.Hash() != outDigest.Hash() {
		t.Fatalf("expected output digest to be written, got %+v", info)
	}
	if exec.Stats.ActionsExecuted() != 1 {
		t.Fatalf("expected one executed action, got %d", exec.Stats.ActionsExecuted())
	}
}

func TestProcessActionMayFailPropagatesFailure(t *testing.T) {
	remote := newFakeAPI()
	remote.execFn = func(execapi.Action) (execapi.Result, error) {
		return execapi.Result{
			ExitCode: 1,
			Outputs:  map[string]artifact.ObjectInfo{"out.txt": {}},
		}, nil
	}
	graph := NewGraph()
	action := graph.AddAction(ActionSpec{
		ID:          "action-flaky",
		Command:     []string{"/bin/false"},
		OutputFiles: []string{"out.txt"},
		MayFail:     "expected failure",
	})
	exec := &Executor{RemoteAPI: remote, Stats: NewStatistics()}
	ok, err := exec.ProcessAction(context.Background(), action, CacheOutput)
	if err != nil || !ok {
		t.Fatalf("expected may_fail action to be treated as soft success: ok=%v err=%v", ok, err)
	}
	info, _ := action.OutputFiles()["out.txt"].Info()
	if !info.Failed {
		t.Fatal("expected output to be marked failed")
	}
}

func TestProcessActionHardFailureWithoutMayFail(t *testing.T) {
	remote := newFakeAPI()
	remote.execFn = func(execapi.Action) (execapi.Result, error) {
		return execapi.Result{ExitCode: 1}, nil
	}
	graph := NewGraph()
	action := graph.AddAction(ActionSpec{ID: "action-hard", Command: []string{"/bin/false"}})
	exec := &Executor{RemoteAPI: remote, Stats: NewStatistics()}
	ok, err := exec.ProcessAction(context.Background(), action, CacheOutput)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected hard failure without may_fail to return false")
	}
}
