package fileroot

import (
	"strings"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/hashinfo"
)

// GitRoot is a Root backed by an opened Git object database and a tree
// object, for content-fixed repository roots (spec.md §3 "Git root").
type GitRoot struct {
	db       *gitObjectDB
	treeHash string
}

// OpenGitRoot opens the object database at repoPath and roots at the tree
// named by treeHash (40-char hex sha1).
func OpenGitRoot(repoPath, treeHash string) (*GitRoot, error) {
	db, err := openGitObjectDB(repoPath)
	if err != nil {
		return nil, err
	}
	return &GitRoot{db: db, treeHash: treeHash}, nil
}

// lookup walks path (slash-separated, possibly ".") from the root tree and
// returns the entry and whether it names a tree.
func (r *GitRoot) lookup(path string) (gitTreeEntry, bool, bool) {
	hash := r.treeHash
	if path == "." || path == "" {
		return gitTreeEntry{mode: "40000", name: ".", hash: hash}, true, true
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		kind, content, err := r.db.readObject(hash)
		if err != nil || kind != kindTree {
			return gitTreeEntry{}, false, false
		}
		entries, err := parseTree(content)
		if err != nil {
			return gitTreeEntry{}, false, false
		}
		var found *gitTreeEntry
		for i := range entries {
			if entries[i].name == part {
				found = &entries[i]
				break
			}
		}
		if found == nil {
			return gitTreeEntry{}, false, false
		}
		isLast := i == len(parts)-1
		if isLast {
			return *found, entryTypeForMode(found.mode) == EntryDirectory, true
		}
		if entryTypeForMode(found.mode) != EntryDirectory {
			return gitTreeEntry{}, false, false
		}
		hash = found.hash
	}
	return gitTreeEntry{}, false, false
}

func (r *GitRoot) Exists(path string) bool {
	_, _, ok := r.lookup(path)
	return ok
}

func (r *GitRoot) IsFile(path string) bool {
	e, isTree, ok := r.lookup(path)
	if !ok || isTree {
		return false
	}
	t := entryTypeForMode(e.mode)
	return t == EntryFile || t == EntryExecutable
}

func (r *GitRoot) IsDirectory(path string) bool {
	_, isTree, ok := r.lookup(path)
	return ok && isTree
}

func (r *GitRoot) ReadFile(path string) ([]byte, bool) {
	e, isTree, ok := r.lookup(path)
	if !ok || isTree {
		return nil, false
	}
	kind, content, err := r.db.readObject(e.hash)
	if err != nil || kind != kindBlob {
		return nil, false
	}
	return content, true
}

func (r *GitRoot) ReadDirectory(path string) DirectoryEntries {
	e, isTree, ok := r.lookup(path)
	if !ok || !isTree {
		return newDirectoryEntries(nil)
	}
	hash := r.treeHash
	if path != "." && path != "" {
		hash = e.hash
	}
	_, content, err := r.db.readObject(hash)
	if err != nil {
		return newDirectoryEntries(nil)
	}
	entries, err := parseTree(content)
	if err != nil {
		return newDirectoryEntries(nil)
	}
	m := make(map[string]EntryType, len(entries))
	for _, ent := range entries {
		m[ent.name] = entryTypeForMode(ent.mode)
	}
	return newDirectoryEntries(m)
}

func (r *GitRoot) FileType(path string) (EntryType, bool) {
	e, isTree, ok := r.lookup(path)
	if !ok || isTree {
		return 0, false
	}
	return entryTypeForMode(e.mode), true
}

func (r *GitRoot) ReadBlob(hexHash string) ([]byte, bool) {
	kind, content, err := r.db.readObject(hexHash)
	if err != nil || kind != kindBlob {
		return nil, false
	}
	return content, true
}

func (r *GitRoot) ReadTree(hexHash string) (DirectoryEntries, bool) {
	kind, content, err := r.db.readObject(hexHash)
	if err != nil || kind != kindTree {
		return DirectoryEntries{}, false
	}
	entries, err := parseTree(content)
	if err != nil {
		return DirectoryEntries{}, false
	}
	m := make(map[string]EntryType, len(entries))
	for _, ent := range entries {
		m[ent.name] = entryTypeForMode(ent.mode)
	}
	return newDirectoryEntries(m), true
}

// TreeHash returns the hex sha1 of the tree this root is rooted at, used by
// RepositoryConfig to derive a content-fixed repository's cache key.
func (r *GitRoot) TreeHash() string { return r.treeHash }

func (r *GitRoot) IsAbsent() bool { return false }

func (r *GitRoot) AbsentTreeID() (string, bool) { return "", false }

func (r *GitRoot) ToArtifactDescription(filePath, repository string) (artifact.Description, bool) {
	e, isTree, ok := r.lookup(filePath)
	if !ok {
		return artifact.Description{}, false
	}
	if isTree {
		_, content, err := r.db.readObject(e.hash)
		if err != nil {
			return artifact.Description{}, false
		}
		hi, err := hashinfo.Create(hashinfo.GitSHA1, e.hash, true)
		if err != nil {
			return artifact.Description{}, false
		}
		digest := artifact.NewDigest(hi, int64(len(content)))
		return artifact.NewKnownDescription(digest, artifact.Tree), true
	}
	content, found := r.ReadBlob(e.hash)
	if !found {
		return artifact.Description{}, false
	}
	hi, err := hashinfo.Create(hashinfo.GitSHA1, e.hash, false)
	if err != nil {
		return artifact.Description{}, false
	}
	digest := artifact.NewDigest(hi, int64(len(content)))
	objType := artifact.File
	switch entryTypeForMode(e.mode) {
	case EntryExecutable:
		objType = artifact.Executable
	case EntrySymlink:
		objType = artifact.Symlink
	}
	return artifact.NewKnownDescription(digest, objType), true
}

// AbsentGitRoot represents a tree known only by id, not yet fetched locally
// (spec.md's "absent root" used to defer source-tree fetches).
type AbsentGitRoot struct {
	treeID string
}

func NewAbsentGitRoot(treeID string) *AbsentGitRoot {
	return &AbsentGitRoot{treeID: treeID}
}

func (r *AbsentGitRoot) Exists(string) bool                    { return false }
func (r *AbsentGitRoot) IsFile(string) bool                    { return false }
func (r *AbsentGitRoot) IsDirectory(string) bool                { return false }
func (r *AbsentGitRoot) ReadFile(string) ([]byte, bool)         { return nil, false }
func (r *AbsentGitRoot) ReadDirectory(string) DirectoryEntries  { return newDirectoryEntries(nil) }
func (r *AbsentGitRoot) FileType(string) (EntryType, bool)      { return 0, false }
func (r *AbsentGitRoot) ReadBlob(string) ([]byte, bool)         { return nil, false }
func (r *AbsentGitRoot) ReadTree(string) (DirectoryEntries, bool) { return DirectoryEntries{}, false }
func (r *AbsentGitRoot) IsAbsent() bool                         { return true }
func (r *AbsentGitRoot) AbsentTreeID() (string, bool)           { return r.treeID, true }
func (r *AbsentGitRoot) ToArtifactDescription(string, string) (artifact.Description, bool) {
	return artifact.Description{}, false
}
