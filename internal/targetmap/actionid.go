package targetmap

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/hashinfo"
)

// descriptorFor renders an artifact.Description as a stable string suitable
// for inclusion in a content-addressed action id, without requiring the
// description's digest to already be resolved (Local/Action descriptions
// are not yet backed by a digest at analysis time).
func descriptorFor(d artifact.Description) string {
	switch {
	case d.IsLocal():
		repo, path := d.Local()
		return fmt.Sprintf("L:%s:%s", repo, path)
	case d.IsKnown():
		digest, objType := d.Known()
		return fmt.Sprintf("K:%s:%s", objType, digest.CacheKey())
	case d.IsAction():
		actionID, outputPath := d.Action()
		return fmt.Sprintf("A:%s:%s", actionID, outputPath)
	case d.IsTree():
		return fmt.Sprintf("T:%s", d.Tree())
	default:
		return "?"
	}
}

// ResolveArtifactNode maps an artifact.Description produced by target
// analysis (an AnalysedTarget.Artifacts/Runfiles entry) to its node in
// graph, the same way evalContext.resolveNode does internally: source
// descriptions (Local/Known/Tree) get-or-create a node keyed by
// descriptorFor, while an Action description looks up the action's already
// -registered output node directly by its "<actionID>:<path>" id.
func ResolveArtifactNode(graph *depgraph.Graph, d artifact.Description) (*depgraph.ArtifactNode, bool) {
	if d.IsAction() {
		actionID, outputPath := d.Action()
		return graph.Artifact(fmt.Sprintf("%s:%s", actionID, outputPath))
	}
	return graph.AddSourceArtifact(descriptorFor(d), d), true
}

// actionDescriptor is the canonical, JSON-marshalled shape hashed to derive
// a content-addressed action id, matching spec.md §4.6 step 5: "actions
// with the same digest/id share one node and its output artifacts."
type actionDescriptor struct {
	Command             []string          `json:"command"`
	Env                 map[string]string `json:"env,omitempty"`
	Inputs              map[string]string `json:"inputs,omitempty"`
	OutputFiles         []string          `json:"output_files"`
	OutputDirs          []string          `json:"output_dirs"`
	MayFail             string            `json:"may_fail,omitempty"`
	NoCache             bool              `json:"no_cache,omitempty"`
	TimeoutScale        float64           `json:"timeout_scale,omitempty"`
	ExecutionProperties map[string]string `json:"execution_properties,omitempty"`
	IsTreeAction        bool              `json:"is_tree_action,omitempty"`
}

// computeActionID hashes an actionDescriptor under the given hash family so
// that two target analyses building the same action (same command, same
// input descriptions at every staged path, same declared outputs) always
// agree on its id, independent of any configuration variable that does not
// feed into those fields (spec.md §8 scenario C).
func computeActionID(family hashinfo.Family, d actionDescriptor) string {
	sort.Strings(d.OutputFiles)
	sort.Strings(d.OutputDirs)
	encoded, err := json.Marshal(d)
	if err != nil {
		// Every field of actionDescriptor is JSON-safe; a marshal error here
		// would be a programming bug, not a runtime condition to recover from.
		panic(fmt.Sprintf("targetmap: failed to marshal action descriptor: %v", err))
	}
	return hashinfo.HashData(family, encoded, false).Hash()
}

func inputDescriptors(inputs map[string]artifact.Description) map[string]string {
	out := make(map[string]string, len(inputs))
	for path, d := range inputs {
		out[path] = descriptorFor(d)
	}
	return out
}
