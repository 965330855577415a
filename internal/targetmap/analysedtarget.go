// Package targetmap implements the source-target map (spec.md §4.5) and
// the target map (C10, spec.md §4.6): resolving an EntityName, or an
// (EntityName, Configuration) pair, into an AnalysedTarget by evaluating
// rule bodies against the functional expression language of
// internal/expression and registering every produced action into a shared
// internal/depgraph.Graph, grounded on original_source's
// build_engine/analysed_target/analysed_target.hpp and
// build_engine/target_map/target_map.{hpp,cpp}.
package targetmap

import (
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/expression"
)

// AnalysedTarget is the result of analysing one target: three expression
// maps (artifacts, runfiles, provides) plus every action that had to be
// registered in the dependency graph to produce them, per spec.md §3.
type AnalysedTarget struct {
	Artifacts expression.Value // Map of string -> Artifact
	Runfiles  expression.Value // Map of string -> Artifact
	Provides  expression.Value // arbitrary Map

	Actions []*depgraph.ActionNode
}

// NewAnalysedTarget builds an AnalysedTarget from already-evaluated
// artifacts/runfiles/provides maps and the actions registered while
// producing them.
func NewAnalysedTarget(artifacts, runfiles, provides expression.Value, actions []*depgraph.ActionNode) *AnalysedTarget {
	return &AnalysedTarget{Artifacts: artifacts, Runfiles: runfiles, Provides: provides, Actions: actions}
}

// ArtifactNames returns the sorted staged names of the target's artifacts,
// backing the DEP_ARTIFACT_NAMES built-in.
func (t *AnalysedTarget) ArtifactNames() []string { return t.Artifacts.SortedKeys() }

// RunfileNames returns the sorted staged names of the target's runfiles,
// backing the DEP_RUNFILE_NAMES built-in.
func (t *AnalysedTarget) RunfileNames() []string { return t.Runfiles.SortedKeys() }
