package targetmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/depgraph"
)

// isTreeDescription reports whether d names a whole subtree rather than a
// single file/symlink: a Known artifact of Tree type, a Tree-variant
// description, or an Action output declared as an output directory.
func isTreeDescription(g *depgraph.Graph, d artifact.Description) bool {
	switch {
	case d.IsKnown():
		_, objType := d.Known()
		return objType == artifact.Tree
	case d.IsTree():
		return true
	case d.IsAction():
		actionID, outputPath := d.Action()
		if an, ok := g.Action(actionID); ok {
			_, isDir := an.OutputDirs()[outputPath]
			return isDir
		}
		return false
	default:
		return false
	}
}

// detectStageConflicts implements spec.md §4.6 step 4's "staging into a
// tree path that also appears as a tree output is a fatal conflict":
// if some staged path p names a whole tree, no other staged path may sit
// strictly beneath p.
func detectStageConflicts(g *depgraph.Graph, staged map[string]artifact.Description) error {
	paths := make([]string, 0, len(staged))
	for p := range staged {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if !isTreeDescription(g, staged[p]) {
			continue
		}
		prefix := p + "/"
		for _, q := range paths {
			if q == p {
				continue
			}
			if strings.HasPrefix(q, prefix) {
				return fmt.Errorf("stage conflict: %q is staged as a tree but %q is staged beneath it", p, q)
			}
		}
	}
	return nil
}

// validSymlinkTarget implements spec.md §4.6 step 4's symlink validation:
// an inline symlink target must be non-absolute and must not climb above
// its staging point (no leading "/", no ".." path component).
func validSymlinkTarget(target string) bool {
	if strings.HasPrefix(target, "/") {
		return false
	}
	if target == "" {
		return false
	}
	for _, part := range strings.Split(target, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
