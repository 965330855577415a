// Package artifact implements the content-addressed data model of
// spec.md §3: digests, blobs, object info, and the tagged Description
// variant used to name an artifact before it is analysed, grounded on
// original_source's common/artifact_digest.hpp, artifact_digest_factory.hpp,
// artifact_blob.{hpp,cpp} and artifact_factory.hpp.
package artifact

import (
	"fmt"

	"github.com/buildforge/justb/internal/hashinfo"
)

// Digest pairs a validated HashInfo with the unframed content byte length.
// Equality and hashing are over the hash info only (size is derivable from
// content and carried for convenience), matching ArtifactDigest's operator==.
type Digest struct {
	hashInfo hashinfo.HashInfo
	size     int64
}

// NewDigest builds a Digest from an already-validated HashInfo and size.
func NewDigest(hi hashinfo.HashInfo, size int64) Digest {
	return Digest{hashInfo: hi, size: size}
}

func (d Digest) Hash() string             { return d.hashInfo.Hash() }
func (d Digest) Size() int64              { return d.size }
func (d Digest) IsTree() bool             { return d.hashInfo.IsTree() }
func (d Digest) HashInfo() hashinfo.HashInfo { return d.hashInfo }

// Equal compares two digests the way ArtifactDigest::operator== does: by
// hash info alone, ignoring size.
func (d Digest) Equal(other Digest) bool {
	return d.hashInfo.Hash() == other.hashInfo.Hash() &&
		d.hashInfo.HashType() == other.hashInfo.HashType() &&
		d.hashInfo.IsTree() == other.hashInfo.IsTree()
}

func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.hashInfo.Hash(), d.size)
}

// CacheKey is a value suitable as a map key for digest-indexed caches such
// as the CAS's in-memory index and the executor's result dedup map.
func (d Digest) CacheKey() string {
	kind := "b"
	if d.hashInfo.IsTree() {
		kind = "t"
	}
	return fmt.Sprintf("%d:%s:%s", d.hashInfo.HashType(), kind, d.hashInfo.Hash())
}
