// Package hashinfo implements the hash-family abstraction of spec.md §3:
// a validated hexadecimal hash paired with the family that produced it
// (Git-style SHA1 with blob/tree object framing, or plain SHA256), grounded
// on original_source's crypto/hash_info.hpp.
package hashinfo

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
)

// Family selects the hash function and object framing used to derive a
// digest. GitSHA1 frames content with a Git "blob <n>\x00"/"tree <n>\x00"
// header before hashing, matching Git's own object identity. PlainSHA256
// hashes raw content with no framing; trees are not representable in this
// family.
type Family int

const (
	GitSHA1 Family = iota
	PlainSHA256
)

func (f Family) String() string {
	switch f {
	case GitSHA1:
		return "git-sha1"
	case PlainSHA256:
		return "plain-sha256"
	default:
		return "unknown"
	}
}

// hexLen is the expected hex digest length for each family.
func (f Family) hexLen() int {
	switch f {
	case GitSHA1:
		return 40
	case PlainSHA256:
		return 64
	default:
		return 0
	}
}

// HashInfo holds a validated hexadecimal hash together with the family that
// produced it and whether it names a tree object. Once constructed, the hash
// is guaranteed well-formed for its family.
type HashInfo struct {
	hash   string
	family Family
	isTree bool
}

// Create validates externally-supplied (hash, family, isTree) data per
// spec.md §3's invariants: the hash must be the right length and pure hex for
// its family, and isTree=true is only legal under GitSHA1 (PlainSHA256 has no
// tree objects).
func Create(family Family, hash string, isTree bool) (HashInfo, error) {
	if err := validate(family, hash, isTree); err != nil {
		return HashInfo{}, err
	}
	return HashInfo{hash: hash, family: family, isTree: isTree}, nil
}

func validate(family Family, hash string, isTree bool) error {
	want := family.hexLen()
	if want == 0 {
		return fmt.Errorf("hashinfo: unknown hash family %d", family)
	}
	if len(hash) != want {
		return fmt.Errorf("hashinfo: hash %q has length %d, want %d for %s", hash, len(hash), want, family)
	}
	for _, c := range hash {
		if !isHexDigit(c) {
			return fmt.Errorf("hashinfo: hash %q is not valid hex", hash)
		}
	}
	if isTree && family != GitSHA1 {
		return fmt.Errorf("hashinfo: is_tree is only valid for %s, got %s", GitSHA1, family)
	}
	return nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// HashData hashes content and builds a HashInfo for it. Under PlainSHA256,
// isTree is always forced to false since that family has no tree objects.
// Infallible: content is already in memory.
func HashData(family Family, content []byte, isTree bool) HashInfo {
	if family != GitSHA1 {
		isTree = false
	}
	h := newHasher(family)
	writeGitFramed(h, family, content, isTree)
	sum := h.Sum(nil)
	return HashInfo{hash: fmt.Sprintf("%x", sum), family: family, isTree: isTree}
}

// HashFile hashes the file at path in constant memory and builds a HashInfo
// plus the file's byte size. Returns an error only on I/O failure.
func HashFile(family Family, path string, isTree bool) (HashInfo, int64, error) {
	if family != GitSHA1 {
		isTree = false
	}
	f, err := os.Open(path)
	if err != nil {
		return HashInfo{}, 0, fmt.Errorf("hashinfo: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return HashInfo{}, 0, fmt.Errorf("hashinfo: stat %s: %w", path, err)
	}
	size := st.Size()

	h := newHasher(family)
	if family == GitSHA1 {
		fmt.Fprintf(h, "%s %d\x00", objectKind(isTree), size)
	}
	if _, err := io.Copy(h, f); err != nil {
		return HashInfo{}, 0, fmt.Errorf("hashinfo: read %s: %w", path, err)
	}
	sum := h.Sum(nil)
	return HashInfo{hash: fmt.Sprintf("%x", sum), family: family, isTree: isTree}, size, nil
}

func newHasher(family Family) hash.Hash {
	if family == GitSHA1 {
		return sha1.New()
	}
	return sha256.New()
}

func objectKind(isTree bool) string {
	if isTree {
		return "tree"
	}
	return "blob"
}

func writeGitFramed(h hash.Hash, family Family, content []byte, isTree bool) {
	if family == GitSHA1 {
		fmt.Fprintf(h, "%s %d\x00", objectKind(isTree), len(content))
	}
	h.Write(content)
}

// Hash returns the validated hexadecimal digest.
func (i HashInfo) Hash() string { return i.hash }

// HashType returns the hash family.
func (i HashInfo) HashType() Family { return i.family }

// IsTree reports whether this digest names a Git tree object.
func (i HashInfo) IsTree() bool { return i.isTree }

func (i HashInfo) String() string {
	return fmt.Sprintf("%s:%s", i.family, i.hash)
}
