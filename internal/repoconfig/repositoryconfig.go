// Package repoconfig implements the repository configuration abstraction
// (C9) and the base maps layered on top of it: RepositoryConfig,
// RepositoryInfo, RepositoryKey derivation, and the
// DirectoryEntries/JSON-file map family, grounded on original_source's
// common/repository_config.hpp and build_engine/base_maps/*.hpp.
package repoconfig

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/buildforge/justb/internal/fileroot"
	"github.com/buildforge/justb/internal/hashinfo"
)

// RepositoryInfo holds one repository's roots, file-name conventions, and
// local->global repository-name bindings, per spec.md §3 Repository Config.
type RepositoryInfo struct {
	WorkspaceRoot  fileroot.Root
	TargetRoot     fileroot.Root
	RuleRoot       fileroot.Root
	ExpressionRoot fileroot.Root
	NameMapping    map[string]string

	TargetFileName     string
	RuleFileName       string
	ExpressionFileName string
}

// defaultedInfo fills TargetRoot/RuleRoot/ExpressionRoot from WorkspaceRoot
// and the *FileName fields with their conventional defaults when left zero,
// matching RepositoryInfo's C++ member-initializer chain
// (target_root{workspace_root}, rule_root{target_root}, ...).
func defaultedInfo(info RepositoryInfo) RepositoryInfo {
	if info.TargetRoot == nil {
		info.TargetRoot = info.WorkspaceRoot
	}
	if info.RuleRoot == nil {
		info.RuleRoot = info.TargetRoot
	}
	if info.ExpressionRoot == nil {
		info.ExpressionRoot = info.RuleRoot
	}
	if info.NameMapping == nil {
		info.NameMapping = map[string]string{}
	}
	if info.TargetFileName == "" {
		info.TargetFileName = "TARGETS"
	}
	if info.RuleFileName == "" {
		info.RuleFileName = "RULES"
	}
	if info.ExpressionFileName == "" {
		info.ExpressionFileName = "EXPRESSIONS"
	}
	return info
}

type repositoryData struct {
	info RepositoryInfo

	keyOnce sync.Once
	key     string
	hasKey  bool
}

// RepositoryConfig is the process-wide mapping repo-name -> RepositoryInfo,
// per spec.md §3/§4.9. Unlike the original's function-local Meyers
// singleton, callers construct and own an instance explicitly (idiomatic Go
// favors explicit dependency injection over hidden global state); the
// per-repo atomic cache-key cell is still computed at most once.
type RepositoryConfig struct {
	mu    sync.RWMutex
	repos map[string]*repositoryData
}

func New() *RepositoryConfig {
	return &RepositoryConfig{repos: make(map[string]*repositoryData)}
}

// SetInfo registers (or replaces) repo's info, resetting its cached key.
func (c *RepositoryConfig) SetInfo(repo string, info RepositoryInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repos[repo] = &repositoryData{info: defaultedInfo(info)}
}

func (c *RepositoryConfig) data(repo string) (*repositoryData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.repos[repo]
	return d, ok
}

// Info returns repo's RepositoryInfo, or false if repo is unknown.
func (c *RepositoryConfig) Info(repo string) (RepositoryInfo, bool) {
	d, ok := c.data(repo)
	if !ok {
		return RepositoryInfo{}, false
	}
	return d.info, true
}

func (c *RepositoryConfig) WorkspaceRoot(repo string) (fileroot.Root, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return nil, false
	}
	return info.WorkspaceRoot, true
}

func (c *RepositoryConfig) TargetRoot(repo string) (fileroot.Root, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return nil, false
	}
	return info.TargetRoot, true
}

func (c *RepositoryConfig) RuleRoot(repo string) (fileroot.Root, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return nil, false
	}
	return info.RuleRoot, true
}

func (c *RepositoryConfig) ExpressionRoot(repo string) (fileroot.Root, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return nil, false
	}
	return info.ExpressionRoot, true
}

// GlobalName resolves localName as seen from repo through its name_mapping,
// implementing the NameResolver interface consumed by ParseEntityName's "@"
// form.
func (c *RepositoryConfig) GlobalName(repo, localName string) (string, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return "", false
	}
	name, ok := info.NameMapping[localName]
	return name, ok
}

func (c *RepositoryConfig) TargetFileName(repo string) (string, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return "", false
	}
	return info.TargetFileName, true
}

func (c *RepositoryConfig) RuleFileName(repo string) (string, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return "", false
	}
	return info.RuleFileName, true
}

func (c *RepositoryConfig) ExpressionFileName(repo string) (string, bool) {
	info, ok := c.Info(repo)
	if !ok {
		return "", false
	}
	return info.ExpressionFileName, true
}

// Reset clears all registered repositories, for test isolation.
func (c *RepositoryConfig) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repos = make(map[string]*repositoryData)
}

// rootTreeHash returns the fixed git tree hash backing root if root is
// content-fixed (a GitRoot or an AbsentGitRoot), or false for a mutable
// FSRoot, mirroring RepositoryInfo::BaseContentDescription's per-root check.
func rootTreeHash(root fileroot.Root) (string, bool) {
	switch r := root.(type) {
	case *fileroot.GitRoot:
		return r.TreeHash(), true
	case *fileroot.AbsentGitRoot:
		return r.AbsentTreeID()
	default:
		return "", false
	}
}

// repoKeyDescriptor is the canonical per-repository object emitted into the
// bindings-closure graph by RepositoryKey, per spec.md §4.9 step 3.
type repoKeyDescriptor struct {
	Workspace          string            `json:"workspace"`
	Target             string            `json:"target"`
	Rule               string            `json:"rule"`
	Expression         string            `json:"expression"`
	TargetFileName     string            `json:"target_file_name"`
	RuleFileName       string            `json:"rule_file_name"`
	ExpressionFileName string            `json:"expression_file_name"`
	Bindings           map[string]string `json:"bindings"`
}

// RepositoryKey derives repo's content-based cache key per spec.md §4.9: if
// every root reachable from repo through its transitive name_mapping
// closure is content-fixed, the key is the hash of a canonical JSON form of
// that closure graph; otherwise the key is undefined.
func (c *RepositoryConfig) RepositoryKey(repo string) (string, bool) {
	d, ok := c.data(repo)
	if !ok {
		return "", false
	}
	d.keyOnce.Do(func() {
		d.key, d.hasKey = c.computeRepositoryKey(repo)
	})
	return d.key, d.hasKey
}

func (c *RepositoryConfig) computeRepositoryKey(repo string) (string, bool) {
	// DFS assigning stable indices in first-encountered order, per step 2.
	order := []string{}
	index := map[string]int{}
	var visit func(r string) bool
	visit = func(r string) bool {
		if _, seen := index[r]; seen {
			return true
		}
		info, ok := c.Info(r)
		if !ok {
			return false
		}
		index[r] = len(order)
		order = append(order, r)
		names := make([]string, 0, len(info.NameMapping))
		for local := range info.NameMapping {
			names = append(names, local)
		}
		sort.Strings(names)
		for _, local := range names {
			if !visit(info.NameMapping[local]) {
				return false
			}
		}
		return true
	}
	if !visit(repo) {
		return "", false
	}

	graph := make(map[string]repoKeyDescriptor, len(order))
	for _, r := range order {
		info, _ := c.Info(r)
		ws, ok1 := rootTreeHash(info.WorkspaceRoot)
		tg, ok2 := rootTreeHash(info.TargetRoot)
		rl, ok3 := rootTreeHash(info.RuleRoot)
		ex, ok4 := rootTreeHash(info.ExpressionRoot)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return "", false
		}
		bindings := make(map[string]string, len(info.NameMapping))
		for local, target := range info.NameMapping {
			bindings[local] = fmt.Sprintf("%d", index[target])
		}
		graph[fmt.Sprintf("%d", index[r])] = repoKeyDescriptor{
			Workspace:          ws,
			Target:             tg,
			Rule:               rl,
			Expression:         ex,
			TargetFileName:     info.TargetFileName,
			RuleFileName:       info.RuleFileName,
			ExpressionFileName: info.ExpressionFileName,
			Bindings:           bindings,
		}
	}

	canonical, err := json.Marshal(graph)
	if err != nil {
		return "", false
	}
	hi := hashinfo.HashData(hashinfo.GitSHA1, canonical, false)
	return hi.Hash(), true
}
