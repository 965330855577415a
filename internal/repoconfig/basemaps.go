package repoconfig

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/tasksystem"
)

type ModuleName = entityname.ModuleName

// escapesRepository reports whether module is an absolute path or starts
// with "..", matching JsonFileMap's rejection of modules escaping their
// repository.
func escapesRepository(module string) bool {
	if path.IsAbs(module) {
		return true
	}
	return module == ".." || strings.HasPrefix(module, "../")
}

// NewDirectoryEntriesMap builds the DirectoryEntriesMap of spec.md §4.4:
// key=ModuleName -> value=DirectoryEntries. The ValueCreator resolves the
// workspace root for the key's repository (failing fatally if the
// repository is unknown) and delegates to Root.ReadDirectory, which itself
// reports an empty set for a missing directory.
func NewDirectoryEntriesMap(config *RepositoryConfig, jobs int) *asyncmap.Map[ModuleName, fileroot.DirectoryEntries] {
	creator := func(
		_ *tasksystem.TaskSystem,
		setter func(fileroot.DirectoryEntries),
		logger asyncmap.Logger,
		_ asyncmap.SubCaller[ModuleName, fileroot.DirectoryEntries],
		key ModuleName,
	) {
		root, ok := config.WorkspaceRoot(key.Repository)
		if !ok {
			logger(fmt.Sprintf("Unknown repository %q for module %q", key.Repository, key.Module), true)
			return
		}
		if escapesRepository(key.Module) {
			logger(fmt.Sprintf("Module %q escapes repository %q", key.Module, key.Repository), true)
			return
		}
		setter(root.ReadDirectory(key.Module))
	}
	return asyncmap.New(creator, jobs)
}

// RootSelector extracts the relevant root (target/rule/expression) for a
// repository from RepositoryInfo.
type RootSelector func(info RepositoryInfo) fileroot.Root

// FileNameSelector extracts the relevant conventional file name
// (TARGETS/RULES/EXPRESSIONS) for a repository from RepositoryInfo.
type FileNameSelector func(info RepositoryInfo) string

// NewJSONFileMap builds the JsonFileMap template of spec.md §4.4:
// key=ModuleName -> value=decoded JSON object (as map[string]any). rootOf
// and fileNameOf select which root/file-name convention to read through;
// mandatory controls whether a missing file is fatal (true) or yields an
// empty object (false). A present file that is not a JSON object is always
// fatal, regardless of mandatory.
func NewJSONFileMap(
	config *RepositoryConfig,
	rootOf RootSelector,
	fileNameOf FileNameSelector,
	mandatory bool,
	jobs int,
) *asyncmap.Map[ModuleName, map[string]any] {
	creator := func(
		_ *tasksystem.TaskSystem,
		setter func(map[string]any),
		logger asyncmap.Logger,
		_ asyncmap.SubCaller[ModuleName, map[string]any],
		key ModuleName,
	) {
		info, ok := config.Info(key.Repository)
		if !ok {
			logger(fmt.Sprintf("Unknown repository %q for module %q", key.Repository, key.Module), true)
			return
		}
		if escapesRepository(key.Module) {
			logger(fmt.Sprintf("Module %q escapes repository %q", key.Module, key.Repository), true)
			return
		}
		root := rootOf(info)
		fileName := fileNameOf(info)
		filePath := path.Join(key.Module, fileName)

		content, found := root.ReadFile(filePath)
		if !found {
			if mandatory {
				logger(fmt.Sprintf("Missing mandatory file %q in module %q of repository %q",
					fileName, key.Module, key.Repository), true)
				return
			}
			setter(map[string]any{})
			return
		}

		var obj map[string]any
		if err := json.Unmarshal(content, &obj); err != nil {
			logger(fmt.Sprintf("File %q in module %q of repository %q is not a JSON object: %v",
				fileName, key.Module, key.Repository, err), true)
			return
		}
		setter(obj)
	}
	return asyncmap.New(creator, jobs)
}

func targetRootOf(info RepositoryInfo) fileroot.Root     { return info.TargetRoot }
func ruleRootOf(info RepositoryInfo) fileroot.Root       { return info.RuleRoot }
func expressionRootOf(info RepositoryInfo) fileroot.Root { return info.ExpressionRoot }

func targetFileNameOf(info RepositoryInfo) string     { return info.TargetFileName }
func ruleFileNameOf(info RepositoryInfo) string       { return info.RuleFileName }
func expressionFileNameOf(info RepositoryInfo) string { return info.ExpressionFileName }

// NewTargetsFileMap instantiates JsonFileMap over the target root / TARGETS
// file name, always mandatory.
func NewTargetsFileMap(config *RepositoryConfig, jobs int) *asyncmap.Map[ModuleName, map[string]any] {
	return NewJSONFileMap(config, targetRootOf, targetFileNameOf, true, jobs)
}

// NewRuleFileMap instantiates JsonFileMap over the rule root / RULES file
// name, always mandatory.
func NewRuleFileMap(config *RepositoryConfig, jobs int) *asyncmap.Map[ModuleName, map[string]any] {
	return NewJSONFileMap(config, ruleRootOf, ruleFileNameOf, true, jobs)
}

// NewExpressionFileMap instantiates JsonFileMap over the expression root /
// EXPRESSIONS file name, always mandatory.
func NewExpressionFileMap(config *RepositoryConfig, jobs int) *asyncmap.Map[ModuleName, map[string]any] {
	return NewJSONFileMap(config, expressionRootOf, expressionFileNameOf, true, jobs)
}
