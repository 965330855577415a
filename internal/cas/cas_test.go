package cas

import (
	"bytes"
	"testing"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/hashinfo"
)

func makeBlob(t *testing.T, content []byte) artifact.Blob {
	t.Helper()
	hi := hashinfo.HashData(hashinfo.GitSHA1, content, false)
	digest := artifact.NewDigest(hi, int64(len(content)))
	return artifact.NewMemoryBlob(digest, content, false)
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	blob := makeBlob(t, []byte("hello world"))
	if err := store.Put(blob, artifact.File); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get(blob.Digest(), artifact.File)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("object not found after Put")
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("content mismatch: got %q", got)
	}
}

func TestGarbageCollectionUplinksOnAccess(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	blob := makeBlob(t, []byte("persisted across gc"))
	if err := store.Put(blob, artifact.File); err != nil {
		t.Fatal(err)
	}

	// One rotation: blob moves from generation 0 to generation 1, still
	// within the surviving window (3 generations).
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get(blob.Digest(), artifact.File)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("object should still be reachable after one GC rotation")
	}
	if !bytes.Equal(got, []byte("persisted across gc")) {
		t.Fatalf("content mismatch after GC: got %q", got)
	}

	// Accessing it should have uplinked it back into generation 0: a
	// second GC rotation (dropping what is now generation 2) must not
	// lose it.
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}
	got, ok, err = store.Get(blob.Digest(), artifact.File)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("object should have been uplinked into generation 0 and survived a second GC")
	}
	if !bytes.Equal(got, []byte("persisted across gc")) {
		t.Fatalf("content mismatch after second GC: got %q", got)
	}
}

func TestGetUplinksTreeClosure(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	child := makeBlob(t, []byte("child blob content"))
	if err := store.Put(child, artifact.File); err != nil {
		t.Fatal(err)
	}

	treeDigest, treeBytes, err := artifact.BuildTreeDigest([]artifact.TreeEntry{
		{Name: "child.txt", Hash: child.Digest().Hash(), Mode: "100644"},
	})
	if err != nil {
		t.Fatal(err)
	}
	treeBlob := artifact.NewMemoryBlob(treeDigest, treeBytes, false)
	if err := store.Put(treeBlob, artifact.Tree); err != nil {
		t.Fatal(err)
	}

	// Two rotations without access push both objects to generation 2, the
	// oldest surviving generation with 3 total.
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}

	// Reading the tree must uplink its own object and the child blob it
	// references, not just the tree object itself.
	if _, ok, err := store.Get(treeDigest, artifact.Tree); err != nil || !ok {
		t.Fatalf("get tree: ok=%v err=%v", ok, err)
	}

	// A third rotation would drop generation 2 entirely. If the child
	// blob was left behind there, it is now gone even though the tree
	// that references it was just uplinked.
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get(child.Digest(), artifact.File)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("child blob should have been uplinked alongside its parent tree")
	}
	if !bytes.Equal(got, []byte("child blob content")) {
		t.Fatalf("content mismatch: got %q", got)
	}

	if _, ok, err := store.Get(treeDigest, artifact.Tree); err != nil || !ok {
		t.Fatalf("tree itself should also have survived: ok=%v err=%v", ok, err)
	}
}

func TestGarbageCollectionReclaimsOldestGeneration(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	blob := makeBlob(t, []byte("will be reclaimed"))
	if err := store.Put(blob, artifact.File); err != nil {
		t.Fatal(err)
	}

	// With only 2 generations, two rotations without access push the
	// object out of the surviving window.
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}
	if err := store.TriggerGarbageCollection(); err != nil {
		t.Fatal(err)
	}

	_, ok, err := store.Get(blob.Digest(), artifact.File)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("object should have been reclaimed after falling out of the generation window")
	}
}
