package fileroot

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// gitObjectDB reads loose objects from a Git object database, supplementing
// spec.md's core scope with the minimal reader original_source's
// execution_api/git/git_api.cpp assumes is available via GitCAS::Open /
// GitTree::Read. Packfiles are intentionally out of scope: content-fixed
// repository roots used by this build engine are freshly unpacked clones,
// which Git keeps as loose objects until a GC compacts them.
type gitObjectDB struct {
	objectsDir string
}

func openGitObjectDB(repoPath string) (*gitObjectDB, error) {
	dir := filepath.Join(repoPath, ".git", "objects")
	if _, err := os.Stat(dir); err != nil {
		dir = filepath.Join(repoPath, "objects")
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("fileroot: no git object database under %s", repoPath)
		}
	}
	return &gitObjectDB{objectsDir: dir}, nil
}

// gitObjectKind mirrors Git's object type header.
type gitObjectKind string

const (
	kindBlob   gitObjectKind = "blob"
	kindTree   gitObjectKind = "tree"
	kindCommit gitObjectKind = "commit"
)

// readObject locates and inflates the loose object named by hexHash,
// returning its kind and raw (unframed) content.
func (db *gitObjectDB) readObject(hexHash string) (gitObjectKind, []byte, error) {
	if len(hexHash) != 40 {
		return "", nil, fmt.Errorf("fileroot: malformed git object id %q", hexHash)
	}
	path := filepath.Join(db.objectsDir, hexHash[:2], hexHash[2:])
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("fileroot: object %s not found: %w", hexHash, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", nil, fmt.Errorf("fileroot: inflate object %s: %w", hexHash, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("fileroot: read object %s: %w", hexHash, err)
	}

	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("fileroot: object %s has no header terminator", hexHash)
	}
	header := string(raw[:nul])
	var kind string
	var size int
	if _, err := fmt.Sscanf(header, "%s %d", &kind, &size); err != nil {
		return "", nil, fmt.Errorf("fileroot: object %s has malformed header %q", hexHash, header)
	}
	content := raw[nul+1:]
	if len(content) != size {
		return "", nil, fmt.Errorf("fileroot: object %s size mismatch: header says %d, got %d", hexHash, size, len(content))
	}
	return gitObjectKind(kind), content, nil
}

// gitTreeEntry is one line of a parsed Git tree object.
type gitTreeEntry struct {
	mode string
	name string
	hash string // 40-char hex
}

// parseTree decodes the binary Git tree format: repeated
// "<mode> <name>\0<20-byte raw sha1>".
func parseTree(content []byte) ([]gitTreeEntry, error) {
	var entries []gitTreeEntry
	for len(content) > 0 {
		sp := bytes.IndexByte(content, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("fileroot: malformed tree entry (no space)")
		}
		mode := string(content[:sp])
		rest := content[sp+1:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("fileroot: malformed tree entry (no NUL)")
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]
		if len(rest) < 20 {
			return nil, fmt.Errorf("fileroot: truncated tree entry hash")
		}
		hash := fmt.Sprintf("%x", rest[:20])
		entries = append(entries, gitTreeEntry{mode: mode, name: name, hash: hash})
		content = rest[20:]
	}
	return entries, nil
}

func entryTypeForMode(mode string) EntryType {
	switch mode {
	case "40000", "040000":
		return EntryDirectory
	case "120000":
		return EntrySymlink
	case "100755":
		return EntryExecutable
	default:
		return EntryFile
	}
}
