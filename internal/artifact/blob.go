package artifact

import (
	"fmt"
	"io"
	"os"
)

// source is content-source for a Blob: either data held in memory or a path
// from which it may be streamed chunk-wise, matching spec.md §3's "owned
// in-memory string or a filesystem path" variant. This resolves Open
// Question (i) of spec.md §9: the source's two historical ArtifactBlob
// shapes (common/ and execution_api/common/) collapse into this one type.
type source struct {
	memory []byte
	path   string
	isPath bool
}

// Blob is a digest paired with its content source and executable bit.
// Equality is over (digest, is_executable), per ArtifactBlob::operator==.
type Blob struct {
	digest     Digest
	src        source
	executable bool
}

// NewMemoryBlob builds a Blob whose content is held in memory.
func NewMemoryBlob(digest Digest, content []byte, isExecutable bool) Blob {
	return Blob{digest: digest, src: source{memory: content}, executable: isExecutable}
}

// NewFileBlob builds a Blob whose content is streamed from path on demand.
func NewFileBlob(digest Digest, path string, isExecutable bool) Blob {
	return Blob{digest: digest, src: source{path: path, isPath: true}, executable: isExecutable}
}

func (b Blob) Digest() Digest       { return b.digest }
func (b Blob) IsExecutable() bool   { return b.executable }
func (b Blob) SetExecutable(v bool) Blob {
	b.executable = v
	return b
}

// Equal compares digest and executable bit only, ignoring content source.
func (b Blob) Equal(other Blob) bool {
	return b.digest.Equal(other.digest) && b.executable == other.executable
}

// ReadContent materialises the blob's content, reading from disk if the
// blob is file-backed.
func (b Blob) ReadContent() ([]byte, error) {
	if !b.src.isPath {
		return b.src.memory, nil
	}
	f, err := os.Open(b.src.path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read blob content from %s: %w", b.src.path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("artifact: read blob content from %s: %w", b.src.path, err)
	}
	return data, nil
}
