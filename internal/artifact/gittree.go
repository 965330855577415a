package artifact

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/buildforge/justb/internal/hashinfo"
)

// TreeEntry is one row of a Git tree object: a name, a hex-encoded sha1
// reference, and whether that reference names a subtree.
type TreeEntry struct {
	Name   string
	Hash   string // hex sha1
	Mode   string
	IsTree bool
}

// treeSortKey mirrors Git's own tree-entry ordering: entries are sorted by
// name, but a directory's name is compared as if it had a trailing slash,
// so "foo" sorts after "foo.txt" but before "foo/bar".
func treeSortKey(e TreeEntry) string {
	if e.IsTree {
		return e.Name + "/"
	}
	return e.Name
}

// BuildGitTreeBytes renders entries into the canonical binary body of a Git
// tree object: repeated "<mode> <name>\0<20-byte raw sha1>" records in
// Git's own sort order. Grounded on gitobjects.go's parseTree, which decodes
// the same format.
func BuildGitTreeBytes(entries []TreeEntry) ([]byte, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		mode := e.Mode
		if mode == "" {
			if e.IsTree {
				mode = "40000"
			} else {
				mode = "100644"
			}
		}
		buf.WriteString(mode)
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		raw, err := hex.DecodeString(e.Hash)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// BuildTreeDigest is BuildGitTreeBytes followed by framing the result as a
// Git tree object digest, matching the hashing side of §6.3's "GitSHA1
// tree" rule.
func BuildTreeDigest(entries []TreeEntry) (Digest, []byte, error) {
	raw, err := BuildGitTreeBytes(entries)
	if err != nil {
		return Digest{}, nil, err
	}
	hi := hashinfo.HashData(hashinfo.GitSHA1, raw, true)
	return NewDigest(hi, int64(len(raw))), raw, nil
}

// ParseGitTreeBytes decodes the canonical binary body of a Git tree object
// (repeated "<mode> <name>\0<20-byte raw sha1>" records), inverse of
// BuildGitTreeBytes. Grounded on the same format fileroot's gitObjectDB
// reader decodes for workspace-root git trees; exported here so any
// consumer holding a tree object's raw bytes (not just fileroot's own
// object database reader) can walk its entries.
func ParseGitTreeBytes(content []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(content) > 0 {
		sp := bytes.IndexByte(content, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("artifact: malformed tree entry (no space)")
		}
		mode := string(content[:sp])
		rest := content[sp+1:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("artifact: malformed tree entry (no NUL)")
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]
		if len(rest) < 20 {
			return nil, fmt.Errorf("artifact: truncated tree entry hash")
		}
		hash := hex.EncodeToString(rest[:20])
		entries = append(entries, TreeEntry{Name: name, Hash: hash, Mode: mode, IsTree: mode == "40000" || mode == "040000"})
		content = rest[20:]
	}
	return entries, nil
}
