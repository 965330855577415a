// Package entityname implements the EntityName grammar of spec.md §3/§6.2:
// (repository, module, name [, reference-type]) names and their JSON parse
// rules, grounded on original_source's
// build_engine/base_maps/entity_name.hpp. Split out from internal/repoconfig
// so that internal/expression can depend on EntityName (for the Name
// expression variant) without repoconfig and expression importing each
// other.
package entityname

import (
	"fmt"
	"path"
	"strings"
)

// ReferenceType distinguishes what an EntityName names, per spec.md §3.
type ReferenceType int

const (
	NamedTarget ReferenceType = iota
	FileRef
	TreeRef
	GlobRef
	SymlinkRef
)

func (r ReferenceType) String() string {
	switch r {
	case FileRef:
		return "FILE"
	case TreeRef:
		return "TREE"
	case GlobRef:
		return "GLOB"
	case SymlinkRef:
		return "SYMLINK"
	default:
		return "NAMED_TARGET"
	}
}

// Entity-name grammar markers, per spec.md §6.2.
const (
	kRelativeLocationMarker = "./"
	kLocationMarker         = "@"
	kAnonymousMarker        = "ANONYMOUS"
	kFileLocationMarker     = "FILE"
	kTreeLocationMarker     = "TREE"
	kGlobMarker             = "GLOB"
	kSymlinkLocationMarker  = "SYMLINK"
)

// EntityName is (repository, module, name [, reference-type]) per spec.md
// §3. Module is workspace-relative; "." denotes the workspace root.
type EntityName struct {
	Repository string
	Module     string
	Name       string
	Reference  ReferenceType
}

// NewNamedTarget builds an EntityName referring to an ordinary target.
func NewNamedTarget(repository, module, name string) EntityName {
	return EntityName{Repository: repository, Module: module, Name: name, Reference: NamedTarget}
}

// ModuleName is the hashable (repository, module) key used by file-level
// maps, per spec.md §3.
type ModuleName struct {
	Repository string
	Module     string
}

func (e EntityName) ModuleName() ModuleName {
	return ModuleName{Repository: e.Repository, Module: e.Module}
}

func (e EntityName) String() string {
	return fmt.Sprintf("[%q,%q,%q]", e.Repository, e.Module, e.Name)
}

// entitySource abstracts over the two JSON-ish representations the
// original's ParseEntityName is templated over (raw JSON and evaluated
// Expression); this Go port only ever parses from decoded JSON values
// (map[string]any / []any / string / nil), so entitySource is just that.
type entitySource = any

// NameResolver resolves a local repository-binding name (as used by the
// "@" location marker) to the global repository name it maps to, mirroring
// RepositoryConfig::GlobalName.
type NameResolver interface {
	GlobalName(repo, localName string) (string, bool)
}

// Diagnostic is invoked, if non-nil, with a human-readable parse failure
// reason; ParseEntityName still returns (EntityName{}, false) regardless.
type Diagnostic func(msg string)

// ParseEntityName ports entity_name.hpp's ParseEntityName grammar field for
// field: a bare string names an entity in the current module; a 2-element
// list names a sibling module in the current repository; longer lists
// dispatch on their first element to the relative/"@"/filesystem-reference
// forms. Any structural deviation returns (EntityName{}, false), logging a
// diagnostic if one was supplied.
func ParseEntityName(source entitySource, current EntityName, resolver NameResolver, diag Diagnostic) (EntityName, bool) {
	res, ok := parseEntityName(source, current, resolver, diag)
	if !ok && diag != nil {
		diag(fmt.Sprintf("Syntactically invalid entity name: %v.", source))
	}
	return res, ok
}

func parseEntityName(source entitySource, current EntityName, resolver NameResolver, diag Diagnostic) (EntityName, bool) {
	if s, ok := source.(string); ok {
		return EntityName{Repository: current.Repository, Module: current.Module, Name: s, Reference: NamedTarget}, true
	}
	list, ok := source.([]any)
	if !ok {
		return EntityName{}, false
	}
	switch {
	case len(list) == 2:
		return parseEntityName2(list, current)
	case len(list) >= 3:
		return parseEntityName3(list, current, resolver, diag)
	default:
		return EntityName{}, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// parseEntityName2 handles `[module, name]`: a sibling module of the
// current repository.
func parseEntityName2(list []any, current EntityName) (EntityName, bool) {
	mod, ok1 := asString(list[0])
	name, ok2 := asString(list[1])
	if !ok1 || !ok2 {
		return EntityName{}, false
	}
	return EntityName{Repository: current.Repository, Module: mod, Name: name, Reference: NamedTarget}, true
}

func parseEntityName3(list []any, current EntityName, resolver NameResolver, diag Diagnostic) (EntityName, bool) {
	s0, ok := asString(list[0])
	if !ok {
		return EntityName{}, false
	}
	switch s0 {
	case kRelativeLocationMarker:
		return parseEntityNameRelative(list, current, diag)
	case kLocationMarker:
		return parseEntityNameLocation(list, current, resolver, diag)
	case kAnonymousMarker:
		if diag != nil {
			diag("Parsing anonymous target is not supported. Identifiers of " +
				"anonymous targets should be obtained as FIELD value of anonymous fields")
		}
		return EntityName{}, false
	case kFileLocationMarker, kTreeLocationMarker, kGlobMarker, kSymlinkLocationMarker:
		return parseEntityNameFSReference(s0, list, current, diag)
	default:
		return EntityName{}, false
	}
}

// parseEntityNameRelative handles `["./", submodule, name]`.
func parseEntityNameRelative(list []any, current EntityName, diag Diagnostic) (EntityName, bool) {
	if len(list) != 3 {
		return EntityName{}, false
	}
	relModule, ok1 := asString(list[1])
	name, ok2 := asString(list[2])
	if !ok1 || !ok2 {
		return EntityName{}, false
	}
	module := path.Join(current.Module, relModule)
	module = path.Clean(module)
	if strings.HasPrefix(module, "../") || module == ".." {
		if diag != nil {
			diag(fmt.Sprintf("Relative module name %s is outside of workspace", relModule))
		}
		return EntityName{}, false
	}
	return EntityName{Repository: current.Repository, Module: module, Name: name, Reference: NamedTarget}, true
}

// parseEntityNameLocation handles `["@", local_repo, module, name]`.
func parseEntityNameLocation(list []any, current EntityName, resolver NameResolver, diag Diagnostic) (EntityName, bool) {
	if len(list) != 4 {
		return EntityName{}, false
	}
	localRepo, ok1 := asString(list[1])
	module, ok2 := asString(list[2])
	name, ok3 := asString(list[3])
	if !ok1 || !ok2 || !ok3 {
		return EntityName{}, false
	}
	repoName, ok := resolver.GlobalName(current.Repository, localRepo)
	if !ok {
		if diag != nil {
			diag(fmt.Sprintf("Cannot resolve repository name %s", localRepo))
		}
		return EntityName{}, false
	}
	return EntityName{Repository: repoName, Module: module, Name: name, Reference: NamedTarget}, true
}

// parseEntityNameFSReference handles `["FILE"|"TREE"|"GLOB"|"SYMLINK",
// null|".", name]`.
func parseEntityNameFSReference(s0 string, list []any, current EntityName, diag Diagnostic) (EntityName, bool) {
	if len(list) != 3 {
		return EntityName{}, false
	}
	name, ok := asString(list[2])
	if !ok {
		return EntityName{}, false
	}
	refType := refTypeForMarker(s0)
	if list[1] == nil {
		return EntityName{Repository: current.Repository, Module: current.Module, Name: name, Reference: refType}, true
	}
	middle, ok := asString(list[1])
	if ok && (middle == "." || middle == current.Module) {
		return EntityName{Repository: current.Repository, Module: current.Module, Name: name, Reference: refType}, true
	}
	if diag != nil {
		diag(fmt.Sprintf("Invalid module name %v for file reference", list[1]))
	}
	return EntityName{}, false
}

func refTypeForMarker(s string) ReferenceType {
	switch s {
	case kFileLocationMarker:
		return FileRef
	case kGlobMarker:
		return GlobRef
	case kSymlinkLocationMarker:
		return SymlinkRef
	default:
		return TreeRef
	}
}
