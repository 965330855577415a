package depgraph

import (
	"context"
	"fmt"
)

// Build recursively ensures node's content is available, processing its
// producer action (and that action's own inputs, transitively) first when
// it has one, then the node itself. Grounded on executor.hpp's recursive
// descent into an action's inputs before the action can be dispatched:
// ProcessAction.createRootDigest requires every input's ObjectInfo to
// already be set, so something has to walk the DAG bottom-up before
// calling it — this is that walk, used by a one-shot build/analyze command
// that owns the whole graph in-process.
func (e *Executor) Build(ctx context.Context, node *ArtifactNode) (bool, error) {
	return e.build(ctx, node, map[string]bool{})
}

func (e *Executor) build(ctx context.Context, node *ArtifactNode, visited map[string]bool) (bool, error) {
	if _, ok := node.Info(); ok {
		return true, nil
	}
	if visited[node.ID()] {
		return false, fmt.Errorf("depgraph: cycle detected at artifact %s", node.ID())
	}
	visited[node.ID()] = true

	if producer, _, hasProducer := node.Producer(); hasProducer {
		for _, in := range producer.Inputs() {
			ok, err := e.build(ctx, in, visited)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		if _, ok := node.Info(); !ok {
			if ok, err := e.ProcessAction(ctx, producer, CacheOutput); err != nil || !ok {
				return ok, err
			}
		}
		_, ok := node.Info()
		return ok, nil
	}

	return e.ProcessArtifact(ctx, node)
}

// RunAction processes actionID against graph assuming every action earlier
// in a topological ordering (e.g. the sequence Temporal's BuildWorkflow
// drives activities through) has already run, so its inputs either carry
// resolved object info already or are source artifacts this call uploads
// on demand. Satisfies internal/distributed.ActionRunner.
func (e *Executor) RunAction(ctx context.Context, graph *Graph, actionID string) (bool, error) {
	action, ok := graph.Action(actionID)
	if !ok {
		return false, fmt.Errorf("depgraph: unknown action %s", actionID)
	}
	for _, in := range action.Inputs() {
		if _, ok := in.Info(); ok {
			continue
		}
		if _, _, hasProducer := in.Producer(); hasProducer {
			continue
		}
		if ok, err := e.ProcessArtifact(ctx, in); err != nil || !ok {
			return ok, err
		}
	}
	return e.ProcessAction(ctx, action, CacheOutput)
}
