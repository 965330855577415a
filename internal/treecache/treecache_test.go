package treecache

import (
	"path/filepath"
	"testing"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/cas"
	"github.com/buildforge/justb/internal/hashinfo"
)

func newTestStorage(t *testing.T) *cas.Storage {
	t.Helper()
	s, err := cas.Open(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCache(t *testing.T, storage *cas.Storage) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "tree_structure.db"), storage)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func putBlob(t *testing.T, storage *cas.Storage, content string, objType artifact.ObjectType) artifact.Digest {
	t.Helper()
	hi := hashinfo.HashData(hashinfo.GitSHA1, []byte(content), false)
	digest := artifact.NewDigest(hi, int64(len(content)))
	if err := storage.Put(artifact.NewMemoryBlob(digest, []byte(content), objType == artifact.Executable), objType); err != nil {
		t.Fatalf("Put %q: %v", content, err)
	}
	return digest
}

func putTree(t *testing.T, storage *cas.Storage, entries []artifact.TreeEntry) artifact.Digest {
	t.Helper()
	digest, raw, err := artifact.BuildTreeDigest(entries)
	if err != nil {
		t.Fatalf("BuildTreeDigest: %v", err)
	}
	if err := storage.Put(artifact.NewMemoryBlob(digest, raw, false), artifact.Tree); err != nil {
		t.Fatalf("Put tree: %v", err)
	}
	return digest
}

func TestComputeReplacesLeafBlobsWithEmptyDigest(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	file := putBlob(t, storage, "hello world", artifact.File)
	tree := putTree(t, storage, []artifact.TreeEntry{
		{Name: "a.txt", Hash: file.Hash(), Mode: "100644"},
	})

	structure, err := Compute(tree, storage, cache)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	content, ok, err := storage.Get(structure, artifact.Tree)
	if err != nil || !ok {
		t.Fatalf("expected structure tree to be stored, ok=%v err=%v", ok, err)
	}
	entries, err := artifact.ParseGitTreeBytes(content)
	if err != nil {
		t.Fatalf("ParseGitTreeBytes: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	empty := emptyBlobDigest(hashinfo.GitSHA1)
	if entries[0].Hash != empty.Hash() {
		t.Fatalf("expected leaf hash %s, got %s", empty.Hash(), entries[0].Hash)
	}
}

func TestComputePreservesSymlinkTarget(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	link := putBlob(t, storage, "../real/path", artifact.Symlink)
	tree := putTree(t, storage, []artifact.TreeEntry{
		{Name: "out_link", Hash: link.Hash(), Mode: "120000"},
	})

	structure, err := Compute(tree, storage, cache)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	content, _, err := storage.Get(structure, artifact.Tree)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	entries, err := artifact.ParseGitTreeBytes(content)
	if err != nil {
		t.Fatalf("ParseGitTreeBytes: %v", err)
	}
	if len(entries) != 1 || entries[0].Hash != link.Hash() {
		t.Fatalf("expected symlink hash preserved, got %+v", entries)
	}
}

func TestComputeRecursesIntoSubtrees(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	file := putBlob(t, storage, "content", artifact.File)
	sub := putTree(t, storage, []artifact.TreeEntry{
		{Name: "nested.txt", Hash: file.Hash(), Mode: "100644"},
	})
	root := putTree(t, storage, []artifact.TreeEntry{
		{Name: "sub", Hash: sub.Hash(), Mode: "40000", IsTree: true},
	})

	structure, err := Compute(root, storage, cache)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	rootContent, _, err := storage.Get(structure, artifact.Tree)
	if err != nil {
		t.Fatalf("Get root structure: %v", err)
	}
	rootEntries, err := artifact.ParseGitTreeBytes(rootContent)
	if err != nil || len(rootEntries) != 1 {
		t.Fatalf("unexpected root entries: %+v, err=%v", rootEntries, err)
	}
	if !rootEntries[0].IsTree {
		t.Fatalf("expected sub to remain a tree entry")
	}

	subInfo, err := hashinfo.Create(hashinfo.GitSHA1, rootEntries[0].Hash, true)
	if err != nil {
		t.Fatalf("hashinfo.Create: %v", err)
	}
	subDigest := artifact.NewDigest(subInfo, 0)
	subContent, ok, err := storage.Get(subDigest, artifact.Tree)
	if err != nil || !ok {
		t.Fatalf("expected projected subtree stored, ok=%v err=%v", ok, err)
	}
	subEntries, err := artifact.ParseGitTreeBytes(subContent)
	if err != nil || len(subEntries) != 1 {
		t.Fatalf("unexpected sub entries: %+v, err=%v", subEntries, err)
	}
	empty := emptyBlobDigest(hashinfo.GitSHA1)
	if subEntries[0].Hash != empty.Hash() {
		t.Fatalf("expected nested leaf replaced by empty digest, got %s", subEntries[0].Hash)
	}
}

func TestComputeIsIdempotentAndCached(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	file := putBlob(t, storage, "x", artifact.File)
	tree := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: file.Hash(), Mode: "100644"}})

	first, err := Compute(tree, storage, cache)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	second, err := Compute(tree, storage, cache)
	if err != nil {
		t.Fatalf("Compute (cached): %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("expected identical structure digest across calls, got %s and %s", first.Hash(), second.Hash())
	}

	cached, ok, err := cache.Get(tree)
	if err != nil || !ok {
		t.Fatalf("expected a cache hit after Compute, ok=%v err=%v", ok, err)
	}
	if !cached.Equal(first) {
		t.Fatalf("expected cache to store the computed structure digest")
	}
}

func TestTwoDifferentTreesShareOneStructure(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	fileA := putBlob(t, storage, "aaaa", artifact.File)
	fileB := putBlob(t, storage, "bbbb", artifact.File)
	treeA := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: fileA.Hash(), Mode: "100644"}})
	treeB := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: fileB.Hash(), Mode: "100644"}})

	structA, err := Compute(treeA, storage, cache)
	if err != nil {
		t.Fatalf("Compute A: %v", err)
	}
	structB, err := Compute(treeB, storage, cache)
	if err != nil {
		t.Fatalf("Compute B: %v", err)
	}
	if !structA.Equal(structB) {
		t.Fatalf("expected two trees differing only in leaf content to share one structure digest")
	}
}

func TestSetRejectsUnknownKeyOrValue(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	fake := artifact.NewDigest(hashinfo.HashData(hashinfo.GitSHA1, []byte("not in cas"), true), 0)
	other := artifact.NewDigest(hashinfo.HashData(hashinfo.GitSHA1, []byte("also not in cas"), true), 0)
	if err := cache.Set(fake, other); err == nil {
		t.Fatal("expected Set to reject a key absent from the CAS")
	}
}

func TestSetRejectsConflictingValue(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	fileA := putBlob(t, storage, "aaaa", artifact.File)
	fileB := putBlob(t, storage, "bbbb", artifact.File)
	key := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: fileA.Hash(), Mode: "100644"}})
	valueOne := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: fileA.Hash(), Mode: "100644"}})
	valueTwo := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: fileB.Hash(), Mode: "100644"}})

	if err := cache.Set(key, valueOne); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(key, valueOne); err != nil {
		t.Fatalf("expected re-Set with the same value to succeed: %v", err)
	}
	if err := cache.Set(key, valueTwo); err == nil {
		t.Fatal("expected Set to reject remapping an existing key to a different value")
	}
}

func TestGetDropsStaleEntryWhenValueCollected(t *testing.T) {
	storage := newTestStorage(t)
	cache := newTestCache(t, storage)

	file := putBlob(t, storage, "x", artifact.File)
	tree := putTree(t, storage, []artifact.TreeEntry{{Name: "f", Hash: file.Hash(), Mode: "100644"}})

	structure, err := Compute(tree, storage, cache)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if _, ok, err := cache.Get(tree); err != nil || !ok {
		t.Fatalf("expected a hit right after Compute, ok=%v err=%v", ok, err)
	}

	for i := 0; i < 2; i++ {
		if err := storage.TriggerGarbageCollection(); err != nil {
			t.Fatalf("TriggerGarbageCollection: %v", err)
		}
	}

	if _, ok, err := cache.Get(tree); err != nil {
		t.Fatalf("Get after GC: %v", err)
	} else if ok {
		t.Fatalf("expected a miss once %s has aged out of the CAS", structure.Hash())
	}
}
