package targetmap

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/hashinfo"
)

// LevelCache is the supplemented target-level cache: a persisted
// (repository key, target, effective configuration) -> analysed-target
// mapping, grounded on original_source's
// serve_api/serve_service/target_level_cache_server.cpp. Unlike the
// in-process memoisation TargetMap's asyncmap.Map already provides for
// free within one run, a LevelCache survives process restarts and can be
// shared by a farm of workers, so it is keyed additionally by a
// dependency fingerprint: a hit is only trusted when every dependency the
// invocation read resolved to byte-identical content this time too.
type LevelCache interface {
	Get(repoKey string, key TargetKey, fingerprint string) (*CachedAnalysis, bool, error)
	Put(repoKey string, key TargetKey, fingerprint string, analysis *CachedAnalysis) error
}

// CachedAnalysis is the persisted projection of an *AnalysedTarget: its
// three result maps (already plain expression.Value of Map kind, so they
// round-trip through the same jsonValue encoding used for all three) plus
// the actions it produced, in the form needed to re-register them into a
// fresh depgraph.Graph.
type CachedAnalysis struct {
	Artifacts expression.Value
	Runfiles  expression.Value
	Provides  expression.Value
	Actions   []cachedAction
}

// cachedAction is a depgraph.ActionSpec with its inputs named by
// artifact.Description rather than *depgraph.ArtifactNode, so it survives
// a JSON round trip.
type cachedAction struct {
	ID                  string                          `json:"id"`
	Command             []string                        `json:"command,omitempty"`
	Env                 map[string]string                `json:"env,omitempty"`
	Inputs              map[string]json.RawMessage      `json:"inputs,omitempty"`
	OutputFiles         []string                        `json:"output_files,omitempty"`
	OutputDirs          []string                        `json:"output_dirs,omitempty"`
	MayFail             string                          `json:"may_fail,omitempty"`
	NoCache             bool                            `json:"no_cache,omitempty"`
	TimeoutScale        float64                         `json:"timeout_scale,omitempty"`
	ExecutionProperties map[string]string               `json:"execution_properties,omitempty"`
	IsTreeAction        bool                            `json:"is_tree_action,omitempty"`
}

func describeNode(n *depgraph.ArtifactNode) artifact.Description {
	if producer, outputPath, ok := n.Producer(); ok {
		return artifact.NewActionDescription(producer.ID(), outputPath)
	}
	return n.Description()
}

func encodeAction(a *depgraph.ActionNode) (cachedAction, error) {
	inputs := make(map[string]json.RawMessage, len(a.Inputs()))
	for path, n := range a.Inputs() {
		raw, err := describeNode(n).ToJSON()
		if err != nil {
			return cachedAction{}, fmt.Errorf("targetmap: encode action %q input %q: %w", a.ID(), path, err)
		}
		inputs[path] = raw
	}
	mayFail, _ := a.MayFail()
	return cachedAction{
		ID:                  a.ID(),
		Command:             a.Command(),
		Env:                 a.Env(),
		Inputs:              inputs,
		OutputFiles:         a.OutputFilePaths(),
		OutputDirs:          a.OutputDirPaths(),
		MayFail:             mayFail,
		NoCache:             a.NoCache(),
		TimeoutScale:        a.TimeoutScale(),
		ExecutionProperties: a.ExecutionProperties(),
		IsTreeAction:        a.IsTreeAction(),
	}, nil
}

// register re-creates a.'s ActionNode in graph, resolving each input
// description against graph the same way evalContext.resolveNode does:
// source descriptions become (or reuse) source artifact nodes, and Action
// descriptions must already be registered, which a caller guarantees by
// restoring cachedAction records in dependency order (restoreActions does
// this by retrying failed entries pass after pass, since the set per target
// is small).
func (a cachedAction) register(graph *depgraph.Graph) (*depgraph.ActionNode, error) {
	nodes := make(map[string]*depgraph.ArtifactNode, len(a.Inputs))
	for path, raw := range a.Inputs {
		d, err := artifact.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("targetmap: decode action %q input %q: %w", a.ID, path, err)
		}
		if d.IsAction() {
			actionID, outputPath := d.Action()
			an, ok := graph.Action(actionID)
			if !ok {
				return nil, fmt.Errorf("targetmap: action %q referenced before it was restored", actionID)
			}
			if n, ok := an.OutputFiles()[outputPath]; ok {
				nodes[path] = n
			} else if n, ok := an.OutputDirs()[outputPath]; ok {
				nodes[path] = n
			} else {
				return nil, fmt.Errorf("targetmap: action %q has no output %q", actionID, outputPath)
			}
			continue
		}
		nodes[path] = graph.AddSourceArtifact(descriptorFor(d), d)
	}
	return graph.AddAction(depgraph.ActionSpec{
		ID:                  a.ID,
		Command:             a.Command,
		Env:                 a.Env,
		Inputs:              nodes,
		OutputFiles:         a.OutputFiles,
		OutputDirs:          a.OutputDirs,
		MayFail:             a.MayFail,
		NoCache:             a.NoCache,
		TimeoutScale:        a.TimeoutScale,
		ExecutionProperties: a.ExecutionProperties,
		IsTreeAction:        a.IsTreeAction,
	}), nil
}

// restoreActions registers every cached action into graph, retrying
// entries that depend on another cached action not yet registered until a
// full pass makes no progress (a single target's own action set is
// small and only nests through TREE-then-ACTION patterns a few levels
// deep, so this terminates quickly; a true cycle is a pre-existing
// analysis bug, not something restoring from cache can introduce).
func restoreActions(graph *depgraph.Graph, actions []cachedAction) ([]*depgraph.ActionNode, error) {
	pending := actions
	var out []*depgraph.ActionNode
	for len(pending) > 0 {
		var next []cachedAction
		progressed := false
		for _, a := range pending {
			n, err := a.register(graph)
			if err != nil {
				next = append(next, a)
				continue
			}
			out = append(out, n)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("targetmap: %d cached action(s) could not be restored (missing dependency or cycle)", len(next))
		}
		pending = next
	}
	return out, nil
}

// fingerprint hashes the invocation's field values and its resolved
// dependencies' own result digests, so a LevelCache hit is only trusted
// when both the rule invocation and everything it depends on are
// byte-identical to when the entry was written.
func fingerprint(family hashinfo.Family, fields map[string]expression.Value, deps map[string][]*AnalysedTarget) (string, error) {
	fieldNames := make([]string, 0, len(fields))
	for name := range fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	encodedFields := map[string]json.RawMessage{}
	for _, name := range fieldNames {
		jv, err := encodeValue(fields[name])
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(jv)
		if err != nil {
			return "", err
		}
		encodedFields[name] = raw
	}

	depNames := make([]string, 0, len(deps))
	for name := range deps {
		depNames = append(depNames, name)
	}
	sort.Strings(depNames)

	depDigests := map[string][]string{}
	for _, name := range depNames {
		for _, d := range deps[name] {
			digest, err := analysedTargetDigest(d)
			if err != nil {
				return "", err
			}
			depDigests[name] = append(depDigests[name], digest)
		}
	}

	encoded, err := json.Marshal(struct {
		Fields map[string]json.RawMessage `json:"fields"`
		Deps   map[string][]string        `json:"deps"`
	}{encodedFields, depDigests})
	if err != nil {
		return "", err
	}
	return hashinfo.HashData(family, encoded, false).Hash(), nil
}

// analysedTargetDigest hashes a dependency's own artifacts/runfiles/
// provides maps and the ids of the actions it produced, giving a stable
// content identity for use inside fingerprint.
func analysedTargetDigest(at *AnalysedTarget) (string, error) {
	if at == nil {
		return "nil", nil
	}
	actionIDs := make([]string, 0, len(at.Actions))
	for _, a := range at.Actions {
		actionIDs = append(actionIDs, a.ID())
	}
	sort.Strings(actionIDs)

	artifacts, err := encodeValue(at.Artifacts)
	if err != nil {
		return "", err
	}
	runfiles, err := encodeValue(at.Runfiles)
	if err != nil {
		return "", err
	}
	provides, err := encodeValue(at.Provides)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(struct {
		Artifacts jsonValue `json:"artifacts"`
		Runfiles  jsonValue `json:"runfiles"`
		Provides  jsonValue `json:"provides"`
		Actions   []string  `json:"actions"`
	}{artifacts, runfiles, provides, actionIDs})
	if err != nil {
		return "", err
	}
	return hashinfo.HashData(hashinfo.GitSHA1, encoded, false).Hash(), nil
}

// jsonValue is expression.Value's persisted projection: every kind the
// rule-evaluation builtins can place into an Artifacts/Runfiles/Provides
// map round-trips except Name and Result, which a RESULT{...} constructor
// never nests inside those three maps in practice (they are the two
// variants a user rule consumes on the way to producing artifacts, never
// the output itself) — encodeValue reports an error for them rather than
// silently dropping data, and callers treat that as "this entry cannot be
// cached" rather than a hard failure.
type jsonValue struct {
	Kind   string               `json:"kind"`
	Bool   bool                 `json:"bool,omitempty"`
	Number float64              `json:"number,omitempty"`
	Str    string               `json:"str,omitempty"`
	List   []jsonValue          `json:"list,omitempty"`
	Map    map[string]jsonValue `json:"map,omitempty"`
	Artifact json.RawMessage    `json:"artifact,omitempty"`
}

func encodeValue(v expression.Value) (jsonValue, error) {
	switch v.Kind() {
	case expression.KindNone:
		return jsonValue{Kind: "none"}, nil
	case expression.KindBool:
		return jsonValue{Kind: "bool", Bool: v.Bool()}, nil
	case expression.KindNumber:
		return jsonValue{Kind: "number", Number: v.Number()}, nil
	case expression.KindString:
		return jsonValue{Kind: "string", Str: v.String()}, nil
	case expression.KindList:
		items := make([]jsonValue, 0, len(v.List()))
		for _, e := range v.List() {
			je, err := encodeValue(e)
			if err != nil {
				return jsonValue{}, err
			}
			items = append(items, je)
		}
		return jsonValue{Kind: "list", List: items}, nil
	case expression.KindMap:
		m := make(map[string]jsonValue, len(v.Map()))
		for k, e := range v.Map() {
			je, err := encodeValue(e)
			if err != nil {
				return jsonValue{}, err
			}
			m[k] = je
		}
		return jsonValue{Kind: "map", Map: m}, nil
	case expression.KindArtifact:
		raw, err := v.Artifact().ToJSON()
		if err != nil {
			return jsonValue{}, err
		}
		return jsonValue{Kind: "artifact", Artifact: raw}, nil
	default:
		return jsonValue{}, fmt.Errorf("targetmap: level cache cannot persist a %s value", v.Kind())
	}
}

func decodeValue(jv jsonValue) (expression.Value, error) {
	switch jv.Kind {
	case "none", "":
		return expression.None(), nil
	case "bool":
		return expression.Bool(jv.Bool), nil
	case "number":
		return expression.Number(jv.Number), nil
	case "string":
		return expression.String(jv.Str), nil
	case "list":
		items := make([]expression.Value, 0, len(jv.List))
		for _, je := range jv.List {
			v, err := decodeValue(je)
			if err != nil {
				return expression.Value{}, err
			}
			items = append(items, v)
		}
		return expression.List(items), nil
	case "map":
		m := make(map[string]expression.Value, len(jv.Map))
		for k, je := range jv.Map {
			v, err := decodeValue(je)
			if err != nil {
				return expression.Value{}, err
			}
			m[k] = v
		}
		return expression.Map(m), nil
	case "artifact":
		d, err := artifact.FromJSON(jv.Artifact)
		if err != nil {
			return expression.Value{}, err
		}
		return expression.ArtifactOf(d), nil
	default:
		return expression.Value{}, fmt.Errorf("targetmap: level cache found an unknown value kind %q", jv.Kind)
	}
}

// cacheKey is the triple (repoKey, TargetKey, fingerprint) serialized for
// use as a map/SQL key.
func cacheKey(repoKey string, key TargetKey, fp string) string {
	return repoKey + "\x00" + key.Name.String() + "\x00" + key.ConfigKey + "\x00" + fp
}

// MemoryLevelCache is the in-process LevelCache: it does not survive a
// restart, but offers the same Get/Put interface as SQLiteLevelCache.
type MemoryLevelCache struct {
	mu      sync.Mutex
	entries map[string]*CachedAnalysis
}

func NewMemoryLevelCache() *MemoryLevelCache {
	return &MemoryLevelCache{entries: map[string]*CachedAnalysis{}}
}

func (c *MemoryLevelCache) Get(repoKey string, key TargetKey, fp string) (*CachedAnalysis, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[cacheKey(repoKey, key, fp)]
	return a, ok, nil
}

func (c *MemoryLevelCache) Put(repoKey string, key TargetKey, fp string, analysis *CachedAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(repoKey, key, fp)] = analysis
	return nil
}

const levelCacheSchema = `
CREATE TABLE IF NOT EXISTS target_analyses (
	cache_key TEXT PRIMARY KEY,
	analysis  TEXT NOT NULL
);
`

// SQLiteLevelCache is the persisted LevelCache backend, an SQLite database
// opened with the same storage idiom as internal/cas's index. No
// configuration section opens one; cmd/justb builds its target map without
// a level cache.
type SQLiteLevelCache struct {
	db *sql.DB
}

func OpenSQLiteLevelCache(dbPath string) (*SQLiteLevelCache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("targetmap: open level cache: %w", err)
	}
	if _, err := db.Exec(levelCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("targetmap: create level cache schema: %w", err)
	}
	return &SQLiteLevelCache{db: db}, nil
}

func (c *SQLiteLevelCache) Close() error {
	return c.db.Close()
}

type persistedAnalysis struct {
	Artifacts jsonValue      `json:"artifacts"`
	Runfiles  jsonValue      `json:"runfiles"`
	Provides  jsonValue      `json:"provides"`
	Actions   []cachedAction `json:"actions"`
}

func (c *SQLiteLevelCache) Get(repoKey string, key TargetKey, fp string) (*CachedAnalysis, bool, error) {
	var raw string
	err := c.db.QueryRow(`SELECT analysis FROM target_analyses WHERE cache_key = ?`, cacheKey(repoKey, key, fp)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("targetmap: query level cache: %w", err)
	}
	var p persistedAnalysis
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false, fmt.Errorf("targetmap: decode level cache entry: %w", err)
	}
	artifacts, err := decodeValue(p.Artifacts)
	if err != nil {
		return nil, false, err
	}
	runfiles, err := decodeValue(p.Runfiles)
	if err != nil {
		return nil, false, err
	}
	provides, err := decodeValue(p.Provides)
	if err != nil {
		return nil, false, err
	}
	return &CachedAnalysis{Artifacts: artifacts, Runfiles: runfiles, Provides: provides, Actions: p.Actions}, true, nil
}

func (c *SQLiteLevelCache) Put(repoKey string, key TargetKey, fp string, analysis *CachedAnalysis) error {
	artifacts, err := encodeValue(analysis.Artifacts)
	if err != nil {
		return err
	}
	runfiles, err := encodeValue(analysis.Runfiles)
	if err != nil {
		return err
	}
	provides, err := encodeValue(analysis.Provides)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(persistedAnalysis{artifacts, runfiles, provides, analysis.Actions})
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`INSERT OR REPLACE INTO target_analyses (cache_key, analysis) VALUES (?, ?)`,
		cacheKey(repoKey, key, fp), string(encoded))
	if err != nil {
		return fmt.Errorf("targetmap: write level cache: %w", err)
	}
	return nil
}
