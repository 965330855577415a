// Package execapi defines the pluggable execution API traits of spec.md
// §6.1 (C8's dispatch target) and the common helpers original_source shares
// across its local, Git, and Bazel remote execution backends.
package execapi

import (
	"context"
	"fmt"

	"github.com/buildforge/justb/internal/artifact"
)

// Action is everything an execution backend needs to run one graph node:
// the spec.md §3 Action shape, minus the dependency-graph bookkeeping that
// belongs to internal/depgraph.
type Action struct {
	ID                  string
	Command             []string
	Env                 map[string]string
	Inputs              map[string]artifact.ObjectInfo // path -> input
	OutputFiles         []string
	OutputDirs          []string
	MayFail             bool
	NoCache             bool
	TimeoutScale        float64
	ExecutionProperties map[string]string
}

// Result is what an execution backend reports back for one Action.
type Result struct {
	ExitCode     int
	Outputs      map[string]artifact.ObjectInfo // path -> produced object
	StdoutDigest artifact.Digest
	StderrDigest artifact.Digest
	CachedResult bool
}

// Capabilities summarizes what a backend supports, mirroring the subset of
// REv2's ServerCapabilities this engine actually inspects.
type Capabilities struct {
	ExecEnabled       bool
	MaxBatchTotalSize int64
}

// API is the execution API trait: upload blobs, run an action, retrieve
// outputs. Every backend (local process, local Docker, Bazel remote) provides
// this interface.
type API interface {
	Name() string
	Capabilities(ctx context.Context) (Capabilities, error)
	Upload(ctx context.Context, blobs []artifact.Blob) error
	Execute(ctx context.Context, action Action) (Result, error)
	RetrieveToPaths(ctx context.Context, infos []artifact.ObjectInfo, outputPaths []string) error

	// Available reports whether digest is already present on this backend's
	// CAS, matching IExecutionApi::IsAvailable's single-digest form.
	Available(ctx context.Context, digest artifact.Digest) (bool, error)
}

// EnsureAvailable probes a backend's capabilities and turns a connectivity
// failure into a uniform error, grounded on common_api.cpp's role of
// centralizing the logic every backend-specific RetrieveToFds/UploadTree
// path otherwise duplicated.
func EnsureAvailable(ctx context.Context, api API) error {
	caps, err := api.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("execapi: backend %s unavailable: %w", api.Name(), err)
	}
	if !caps.ExecEnabled {
		return fmt.Errorf("execapi: backend %s does not support execution", api.Name())
	}
	return nil
}
