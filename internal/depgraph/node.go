// Package depgraph implements the bipartite action/artifact dependency
// graph and the Executor/Rebuilder that walk it (C8), grounded on
// original_source's execution_engine/dag/dag.hpp and
// execution_engine/executor/executor.hpp.
package depgraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/buildforge/justb/internal/artifact"
)

// ArtifactNode is one artifact in the graph: either a source artifact
// (Local/Known/Tree description, no producer) or the output of exactly one
// ActionNode. Its object info is written at most once, by the action that
// produces it or by the executor's upload step for source artifacts.
type ArtifactNode struct {
	mu          sync.Mutex
	id          string
	description artifact.Description
	producer    *ActionNode // nil for source artifacts
	outputPath  string      // path within producer's outputs, if producer != nil
	info        *artifact.ObjectInfo
}

// NewSourceArtifactNode builds an artifact node with no producer: its
// content comes directly from a workspace root or is already Known/Tree.
func NewSourceArtifactNode(id string, desc artifact.Description) *ArtifactNode {
	return &ArtifactNode{id: id, description: desc}
}

// NewOutputArtifactNode builds an artifact node that will be populated by
// producer's execution, at outputPath within its declared outputs.
func NewOutputArtifactNode(id string, producer *ActionNode, outputPath string) *ArtifactNode {
	return &ArtifactNode{id: id, producer: producer, outputPath: outputPath}
}

func (a *ArtifactNode) ID() string { return a.id }

func (a *ArtifactNode) Description() artifact.Description { return a.description }

func (a *ArtifactNode) IsTreeAction() bool {
	return a.producer != nil && a.producer.IsTreeAction()
}

// Info returns the artifact's resolved object info, if set.
func (a *ArtifactNode) Info() (artifact.ObjectInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.info == nil {
		return artifact.ObjectInfo{}, false
	}
	return *a.info, true
}

// SetObjectInfo records the artifact's resolved content. It is legal to
// call this at most once per node; a second call with different content
// is a caller bug, not recoverable here, since every node is owned by
// exactly one producer.
func (a *ArtifactNode) SetObjectInfo(info artifact.ObjectInfo, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info.Failed = info.Failed || failed
	a.info = &info
}

// Producer returns the producer action for this artifact, if any.
func (a *ArtifactNode) Producer() (*ActionNode, string, bool) {
	if a.producer == nil {
		return nil, "", false
	}
	return a.producer, a.outputPath, true
}

// ActionNode is one action (or tree action) in the graph: a command plus
// its declared inputs and outputs.
type ActionNode struct {
	id                  string
	command             []string
	env                 map[string]string
	inputs              map[string]*ArtifactNode // staged path -> input artifact
	outputFiles         map[string]*ArtifactNode // declared output path -> output node
	outputDirs          map[string]*ArtifactNode
	mayFail             string // empty means the action must not fail
	noCache             bool
	timeoutScale        float64
	executionProperties map[string]string
	isTreeAction        bool
}

// ActionSpec is the declarative shape used to build an ActionNode; it
// exists so Graph.AddAction can wire input/output artifact nodes together
// in one call.
type ActionSpec struct {
	ID                  string
	Command             []string
	Env                 map[string]string
	Inputs              map[string]*ArtifactNode
	OutputFiles         []string
	OutputDirs          []string
	MayFail             string
	NoCache             bool
	TimeoutScale        float64
	ExecutionProperties map[string]string
	IsTreeAction        bool
}

func newActionNode(spec ActionSpec) *ActionNode {
	n := &ActionNode{
		id:                  spec.ID,
		command:             spec.Command,
		env:                 spec.Env,
		inputs:              spec.Inputs,
		outputFiles:         make(map[string]*ArtifactNode, len(spec.OutputFiles)),
		outputDirs:          make(map[string]*ArtifactNode, len(spec.OutputDirs)),
		mayFail:             spec.MayFail,
		noCache:             spec.NoCache,
		timeoutScale:        spec.TimeoutScale,
		executionProperties: spec.ExecutionProperties,
		isTreeAction:        spec.IsTreeAction,
	}
	if n.timeoutScale == 0 {
		n.timeoutScale = 1
	}
	for _, p := range spec.OutputFiles {
		n.outputFiles[p] = NewOutputArtifactNode(fmt.Sprintf("%s:%s", n.id, p), n, p)
	}
	for _, p := range spec.OutputDirs {
		n.outputDirs[p] = NewOutputArtifactNode(fmt.Sprintf("%s:%s", n.id, p), n, p)
	}
	return n
}

func (a *ActionNode) ID() string                        { return a.id }
func (a *ActionNode) Command() []string                 { return a.command }
func (a *ActionNode) Env() map[string]string             { return a.env }
func (a *ActionNode) Inputs() map[string]*ArtifactNode   { return a.inputs }
func (a *ActionNode) OutputFiles() map[string]*ArtifactNode { return a.outputFiles }
func (a *ActionNode) OutputDirs() map[string]*ArtifactNode  { return a.outputDirs }
func (a *ActionNode) MayFail() (string, bool)            { return a.mayFail, a.mayFail != "" }
func (a *ActionNode) NoCache() bool                      { return a.noCache }
func (a *ActionNode) TimeoutScale() float64              { return a.timeoutScale }
func (a *ActionNode) ExecutionProperties() map[string]string { return a.executionProperties }
func (a *ActionNode) IsTreeAction() bool                 { return a.isTreeAction }

// OutputFilePaths and OutputDirPaths give stable-order path lists for
// response validation.
func (a *ActionNode) OutputFilePaths() []string {
	return sortedKeysOf(a.outputFiles)
}

func (a *ActionNode) OutputDirPaths() []string {
	return sortedKeysOf(a.outputDirs)
}

func sortedKeysOf(m map[string]*ArtifactNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// sorted, so the order does not depend on declaration order or on map
	// iteration order.
	sort.Strings(keys)
	return keys
}

// Graph owns every node created for one build and lets callers look nodes
// up by id for progress reporting and tests.
type Graph struct {
	mu        sync.Mutex
	artifacts map[string]*ArtifactNode
	actions   map[string]*ActionNode
}

func NewGraph() *Graph {
	return &Graph{
		artifacts: make(map[string]*ArtifactNode),
		actions:   make(map[string]*ActionNode),
	}
}

// AddSourceArtifact registers (or returns the existing) source artifact
// node for id, so identical descriptions share one node.
func (g *Graph) AddSourceArtifact(id string, desc artifact.Description) *ArtifactNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.artifacts[id]; ok {
		return n
	}
	n := NewSourceArtifactNode(id, desc)
	g.artifacts[id] = n
	return n
}

// AddAction registers an action by its id, deduplicating identical
// descriptions (spec.md §4.6's result-target-map coalescing: actions with
// the same digest/id share one node and its output artifacts).
func (g *Graph) AddAction(spec ActionSpec) *ActionNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.actions[spec.ID]; ok {
		return n
	}
	n := newActionNode(spec)
	g.actions[spec.ID] = n
	for path, out := range n.outputFiles {
		g.artifacts[out.ID()] = out
		_ = path
	}
	for path, out := range n.outputDirs {
		g.artifacts[out.ID()] = out
		_ = path
	}
	return n
}

func (g *Graph) Artifact(id string) (*ArtifactNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.artifacts[id]
	return n, ok
}

func (g *Graph) Action(id string) (*ActionNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.actions[id]
	return n, ok
}
