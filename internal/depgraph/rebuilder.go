package depgraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/execapi"
)

// flakyRecord pairs the rebuilt and previously-cached object info for one
// output path of a flaky action.
type flakyRecord struct {
	Rebuilt artifact.ObjectInfo
	Cached  artifact.ObjectInfo
}

// Rebuilder runs every action twice against two different endpoints — a
// "rebuild" endpoint forced to execute fresh, and a "cached" endpoint
// expected to only serve from its action cache — and flags any action
// whose outputs differ between the two as flaky. Grounded on executor.hpp's
// Rebuilder.
type Rebuilder struct {
	Executor   *Executor
	CachedAPI  execapi.API

	mu          sync.Mutex
	cacheMisses []string
	flaky       map[string]map[string]flakyRecord
}

func NewRebuilder(exec *Executor, cachedAPI execapi.API) *Rebuilder {
	return &Rebuilder{Executor: exec, CachedAPI: cachedAPI, flaky: make(map[string]map[string]flakyRecord)}
}

// ProcessArtifact delegates to the underlying executor unchanged: artifact
// availability does not depend on which action produced it.
func (r *Rebuilder) ProcessArtifact(ctx context.Context, node *ArtifactNode) (bool, error) {
	return r.Executor.ProcessArtifact(ctx, node)
}

// ProcessAction sends the same request, with caching disabled, to the
// rebuild endpoint and to the reference endpoint (CachedAPI), then compares
// their outputs. The rebuilt response is recorded with PretendCached.
func (r *Rebuilder) ProcessAction(ctx context.Context, action *ActionNode) (bool, error) {
	e := r.Executor
	log := e.logger().With("rebuild", action.ID())

	if action.IsTreeAction() {
		return e.ProcessAction(ctx, action, PretendCached)
	}
	if _, _, err := e.createRootDigest(ctx, action); err != nil {
		return false, fmt.Errorf("depgraph: rebuild root tree for %s: %w", action.ID(), err)
	}

	inputs := make(map[string]artifact.ObjectInfo, len(action.Inputs()))
	for path, in := range action.Inputs() {
		if info, ok := in.Info(); ok {
			inputs[path] = info
		}
	}
	req := execapi.Action{
		ID:                  action.ID(),
		Command:             action.Command(),
		Env:                 action.Env(),
		Inputs:              inputs,
		OutputFiles:         action.OutputFilePaths(),
		OutputDirs:          action.OutputDirPaths(),
		MayFail:             action.mayFail != "",
		NoCache:             true,
		TimeoutScale:        action.TimeoutScale(),
		ExecutionProperties: mergeProperties(e.Properties, action.ExecutionProperties()),
	}

	endpoint := e.selectEndpoint(action.ExecutionProperties())
	rebuilt, err := endpoint.Execute(ctx, req)
	if err != nil {
		log.Error("rebuild execute failed", "err", err)
		return false, nil
	}

	cached, err := r.CachedAPI.Execute(ctx, req)
	if err != nil {
		log.Error("cached reference endpoint has no result", "err", err)
		return false, nil
	}

	r.detectFlaky(action, rebuilt, cached)

	return e.parseResponse(log, action, rebuilt, PretendCached, true)
}

func (r *Rebuilder) detectFlaky(action *ActionNode, rebuilt, cached execapi.Result) {
	stats := r.Executor.Stats
	mismatched := false
	for path, info := range rebuilt.Outputs {
		cachedInfo, ok := cached.Outputs[path]
		if !ok || !cachedInfo.Digest.Equal(info.Digest) {
			mismatched = true
			r.recordFlaky(action, path, info, cachedInfo)
		}
	}
	if mismatched {
		stats.IncrementActionsFlakyCounter()
		if _, mayFail := action.MayFail(); mayFail || action.NoCache() {
			stats.IncrementActionsFlakyTaintedCounter()
		}
	} else {
		stats.IncrementRebuiltActionComparedCounter()
	}
}

func (r *Rebuilder) recordFlaky(action *ActionNode, path string, rebuilt, cached artifact.ObjectInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outputs, ok := r.flaky[action.ID()]
	if !ok {
		outputs = make(map[string]flakyRecord)
		r.flaky[action.ID()] = outputs
	}
	outputs[path] = flakyRecord{Rebuilt: rebuilt, Cached: cached}
}

// RecordCacheMiss notes that the reference endpoint had no result at all
// for an action, distinct from a flaky (differing) result.
func (r *Rebuilder) RecordCacheMiss(actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheMisses = append(r.cacheMisses, actionID)
	r.Executor.Stats.IncrementRebuiltActionMissingCounter()
}

// FlakyActions returns a snapshot of every flaky action's per-path
// rebuilt/cached object info, plus the list of reference cache misses.
func (r *Rebuilder) FlakyActions() (map[string]map[string]flakyRecord, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]flakyRecord, len(r.flaky))
	for id, outputs := range r.flaky {
		cp := make(map[string]flakyRecord, len(outputs))
		for k, v := range outputs {
			cp[k] = v
		}
		out[id] = cp
	}
	misses := make([]string, len(r.cacheMisses))
	copy(misses, r.cacheMisses)
	return out, misses
}
