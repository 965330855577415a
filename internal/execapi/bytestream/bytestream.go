// Package bytestream implements the ByteStream resource-name grammar of
// spec.md §6.3/§8 scenario F, grounded on original_source's
// execution_api/common/bytestream_utils.{hpp,cpp}.
package bytestream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/hashinfo"
)

// ChunkSize is the default upload chunk size, matching BuildBarn's default
// that the original adopted.
const ChunkSize = 64 * 1024

const (
	segmentBlobs   = "blobs"
	segmentUploads = "uploads"
)

// ReadRequest names a Read resource: "{instance}/blobs/{hash}/{size}".
type ReadRequest struct {
	InstanceName string
	Hash         string
	Size         int64
}

// NewReadRequest builds a ReadRequest for digest under instance.
func NewReadRequest(instanceName string, digest artifact.Digest) ReadRequest {
	return ReadRequest{InstanceName: instanceName, Hash: digest.Hash(), Size: digest.Size()}
}

// String renders the resource name.
func (r ReadRequest) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", r.InstanceName, segmentBlobs, r.Hash, r.Size)
}

// ParseReadRequest parses a resource name produced by String. Unlike the
// original's use of stoi (which silently truncates 64-bit sizes on 32-bit
// int platforms), size is parsed with strconv.ParseInt at 64-bit width
// (spec.md §9 Open Question ii).
func ParseReadRequest(s string) (ReadRequest, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[1] != segmentBlobs {
		return ReadRequest{}, fmt.Errorf("bytestream: malformed read request %q", s)
	}
	size, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ReadRequest{}, fmt.Errorf("bytestream: malformed size in read request %q: %w", s, err)
	}
	return ReadRequest{InstanceName: parts[0], Hash: parts[2], Size: size}, nil
}

// Digest reconstructs the ArtifactDigest named by this request under the
// given hash family.
func (r ReadRequest) Digest(family hashinfo.Family) (artifact.Digest, error) {
	hi, err := hashinfo.Create(family, r.Hash, false)
	if err != nil {
		return artifact.Digest{}, fmt.Errorf("bytestream: %w", err)
	}
	return artifact.NewDigest(hi, r.Size), nil
}

// WriteRequest names a Write resource:
// "{instance}/uploads/{uuid}/blobs/{hash}/{size}".
type WriteRequest struct {
	InstanceName string
	UUID         string
	Hash         string
	Size         int64
}

// NewWriteRequest builds a WriteRequest for digest under instance, minting a
// fresh v4 UUID for the upload.
func NewWriteRequest(instanceName string, digest artifact.Digest) WriteRequest {
	return WriteRequest{
		InstanceName: instanceName,
		UUID:         uuid.NewString(),
		Hash:         digest.Hash(),
		Size:         digest.Size(),
	}
}

func (r WriteRequest) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%d",
		r.InstanceName, segmentUploads, r.UUID, segmentBlobs, r.Hash, r.Size)
}

// ParseWriteRequest parses a resource name produced by String.
func ParseWriteRequest(s string) (WriteRequest, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 6 || parts[1] != segmentUploads || parts[3] != segmentBlobs {
		return WriteRequest{}, fmt.Errorf("bytestream: malformed write request %q", s)
	}
	if _, err := uuid.Parse(parts[2]); err != nil {
		return WriteRequest{}, fmt.Errorf("bytestream: malformed uuid in write request %q: %w", s, err)
	}
	size, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return WriteRequest{}, fmt.Errorf("bytestream: malformed size in write request %q: %w", s, err)
	}
	return WriteRequest{InstanceName: parts[0], UUID: parts[2], Hash: parts[4], Size: size}, nil
}

func (r WriteRequest) Digest(family hashinfo.Family) (artifact.Digest, error) {
	hi, err := hashinfo.Create(family, r.Hash, false)
	if err != nil {
		return artifact.Digest{}, fmt.Errorf("bytestream: %w", err)
	}
	return artifact.NewDigest(hi, r.Size), nil
}
