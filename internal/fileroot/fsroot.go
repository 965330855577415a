package fileroot

import (
	"os"
	"path/filepath"

	"github.com/buildforge/justb/internal/artifact"
)

// FSRoot is a Root backed by a real directory on the local filesystem.
type FSRoot struct {
	base string
}

// NewFSRoot returns a Root rooted at the absolute directory base.
func NewFSRoot(base string) *FSRoot {
	return &FSRoot{base: base}
}

func (r *FSRoot) resolve(path string) string {
	if path == "." || path == "" {
		return r.base
	}
	return filepath.Join(r.base, path)
}

func (r *FSRoot) Exists(path string) bool {
	_, err := os.Lstat(r.resolve(path))
	return err == nil
}

func (r *FSRoot) IsFile(path string) bool {
	st, err := os.Lstat(r.resolve(path))
	if err != nil {
		return false
	}
	return st.Mode().IsRegular()
}

func (r *FSRoot) IsDirectory(path string) bool {
	st, err := os.Lstat(r.resolve(path))
	if err != nil {
		return false
	}
	return st.IsDir()
}

func (r *FSRoot) ReadFile(path string) ([]byte, bool) {
	data, err := os.ReadFile(r.resolve(path))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (r *FSRoot) ReadDirectory(path string) DirectoryEntries {
	entries, err := os.ReadDir(r.resolve(path))
	if err != nil {
		return newDirectoryEntries(nil)
	}
	m := make(map[string]EntryType, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			m[e.Name()] = EntryDirectory
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			m[e.Name()] = EntrySymlink
		case info.Mode()&0o111 != 0:
			m[e.Name()] = EntryExecutable
		default:
			m[e.Name()] = EntryFile
		}
	}
	return newDirectoryEntries(m)
}

func (r *FSRoot) FileType(path string) (EntryType, bool) {
	st, err := os.Lstat(r.resolve(path))
	if err != nil {
		return 0, false
	}
	switch {
	case st.IsDir():
		return 0, false
	case st.Mode()&os.ModeSymlink != 0:
		return EntrySymlink, true
	case st.Mode()&0o111 != 0:
		return EntryExecutable, true
	default:
		return EntryFile, true
	}
}

// ReadBlob is meaningless for a plain filesystem root; only Git roots carry
// a content-addressed object database.
func (r *FSRoot) ReadBlob(string) ([]byte, bool) { return nil, false }

func (r *FSRoot) ReadTree(string) (DirectoryEntries, bool) { return DirectoryEntries{}, false }

func (r *FSRoot) IsAbsent() bool { return false }

func (r *FSRoot) AbsentTreeID() (string, bool) { return "", false }

func (r *FSRoot) ToArtifactDescription(filePath, repository string) (artifact.Description, bool) {
	return artifact.NewLocalDescription(repository, filePath), true
}
