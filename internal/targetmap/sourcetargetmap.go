package targetmap

import (
	"fmt"
	"path"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/repoconfig"
	"github.com/buildforge/justb/internal/tasksystem"
)

// NewSourceTargetMap builds the source-target map of spec.md §4.5:
// key=EntityName -> value=*AnalysedTarget. For a name that refers to a
// file, symlink or subtree entry of its module's directory, the analysed
// target's artifacts map holds exactly that entry, described as a Local
// artifact (mutable FS root) or a Known artifact (content-fixed Git root).
// A name with no corresponding directory entry fails fatally.
func NewSourceTargetMap(
	config *repoconfig.RepositoryConfig,
	dirEntries *asyncmap.Map[repoconfig.ModuleName, fileroot.DirectoryEntries],
	jobs int,
) *asyncmap.Map[entityname.EntityName, *AnalysedTarget] {
	creator := func(
		ts *tasksystem.TaskSystem,
		setter func(*AnalysedTarget),
		logger asyncmap.Logger,
		_ asyncmap.SubCaller[entityname.EntityName, *AnalysedTarget],
		key entityname.EntityName,
	) {
		dirEntries.ConsumeAfterKeysReady(ts, []repoconfig.ModuleName{key.ModuleName()}, func(vs []fileroot.DirectoryEntries) {
			entries := vs[0]
			isFile := entries.ContainsFile(key.Name)
			isDir := false
			for _, d := range entries.Directories() {
				if d == key.Name {
					isDir = true
					break
				}
			}
			if !isFile && !isDir {
				logger(fmt.Sprintf("%s does not refer to a source file, symlink, or tree in module %q of repository %q",
					key.Name, key.Module, key.Repository), true)
				return
			}
			root, ok := config.WorkspaceRoot(key.Repository)
			if !ok {
				logger(fmt.Sprintf("Unknown repository %q for module %q", key.Repository, key.Module), true)
				return
			}
			filePath := path.Join(key.Module, key.Name)
			desc, ok := root.ToArtifactDescription(filePath, key.Repository)
			if !ok {
				logger(fmt.Sprintf("Could not resolve %q as a source artifact in module %q of repository %q",
					key.Name, key.Module, key.Repository), true)
				return
			}
			artifacts := expression.Map(map[string]expression.Value{key.Name: expression.ArtifactOf(desc)})
			setter(NewAnalysedTarget(artifacts, expression.Map(nil), expression.Map(nil), nil))
		}, logger, func() {
			logger(fmt.Sprintf("Failed to read directory entries for module %q of repository %q", key.Module, key.Repository), true)
		})
	}
	return asyncmap.New(creator, jobs)
}
