// Package fileroot implements the File Root variant of spec.md §3: a
// workspace root that is either a plain filesystem directory or an opened
// Git object database rooted at a tree object, grounded on original_source's
// file_system/file_root.hpp and execution_api/git/git_api.cpp.
package fileroot

import (
	"github.com/buildforge/justb/internal/artifact"
)

// EntryType distinguishes files, executables, symlinks, and subdirectories
// when walking a Root, independent of artifact.ObjectType (a directory is
// not an artifact.ObjectType but is a valid ReadDirectory entry kind).
type EntryType int

const (
	EntryFile EntryType = iota
	EntryExecutable
	EntrySymlink
	EntryDirectory
)

// DirectoryEntries is the opaque, stably name-ordered result of
// ReadDirectory, enumerable as files-only or directories-only per spec.md
// §3.
type DirectoryEntries struct {
	names  []string
	byName map[string]EntryType
}

func newDirectoryEntries(m map[string]EntryType) DirectoryEntries {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sortStrings(names)
	return DirectoryEntries{names: names, byName: m}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (d DirectoryEntries) Empty() bool { return len(d.names) == 0 }

func (d DirectoryEntries) ContainsFile(name string) bool {
	t, ok := d.byName[name]
	return ok && t != EntryDirectory
}

// Files returns file/executable/symlink entry names, name-ordered.
func (d DirectoryEntries) Files() []string {
	return d.filter(func(t EntryType) bool { return t != EntryDirectory })
}

// Directories returns subdirectory entry names, name-ordered.
func (d DirectoryEntries) Directories() []string {
	return d.filter(func(t EntryType) bool { return t == EntryDirectory })
}

func (d DirectoryEntries) filter(keep func(EntryType) bool) []string {
	out := make([]string, 0, len(d.names))
	for _, n := range d.names {
		if keep(d.byName[n]) {
			out = append(out, n)
		}
	}
	return out
}

// Root is the File Root variant of spec.md §3: either an FS root (absolute
// directory path) or a Git root (opened object database + tree object).
// Operations never panic; a lookup past the edge of the tree or filesystem
// reports absence rather than erroring, matching the noexcept contract of
// FileRoot in the original.
type Root interface {
	Exists(path string) bool
	IsFile(path string) bool
	IsDirectory(path string) bool
	ReadFile(path string) ([]byte, bool)
	ReadDirectory(path string) DirectoryEntries
	FileType(path string) (EntryType, bool)
	ReadBlob(hexHash string) ([]byte, bool)
	ReadTree(hexHash string) (DirectoryEntries, bool)

	// IsAbsent reports whether this root names an unfetched tree known only
	// by id (a "absent root", used for distributed builds that defer
	// fetching source trees until an action actually needs their content).
	IsAbsent() bool
	// AbsentTreeID returns the known tree id for an absent root; the second
	// result is false for non-absent roots.
	AbsentTreeID() (string, bool)

	// ToArtifactDescription builds the LOCAL or KNOWN description for
	// filePath within this root, for use when staging a source target.
	ToArtifactDescription(filePath, repository string) (artifact.Description, bool)
}
