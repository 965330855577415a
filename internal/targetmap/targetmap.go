package targetmap

import (
	"encoding/json"
	"fmt"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/hashinfo"
	"github.com/buildforge/justb/internal/repoconfig"
	"github.com/buildforge/justb/internal/tasksystem"
)

// TargetKey is the target map's key, key=(EntityName, Configuration) of
// spec.md §4.6. Configuration is not itself comparable (it wraps a map),
// so it is carried as its canonical JSON encoding, which doubles as the
// value needed to reconstruct the Configuration inside the ValueCreator.
type TargetKey struct {
	Name      entityname.EntityName
	ConfigKey string
}

// NewTargetKey builds a TargetKey for name under config.
func NewTargetKey(name entityname.EntityName, config expression.Configuration) TargetKey {
	encoded, err := json.Marshal(config.AsValue().Raw())
	if err != nil {
		panic(fmt.Sprintf("targetmap: configuration is not JSON-representable: %v", err))
	}
	return TargetKey{Name: name, ConfigKey: string(encoded)}
}

func (k TargetKey) configuration() (expression.Configuration, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(k.ConfigKey), &raw); err != nil {
		return expression.Configuration{}, err
	}
	vars := make(map[string]expression.Value, len(raw))
	for key, val := range raw {
		vars[key] = expression.FromJSON(val)
	}
	return expression.NewConfiguration(vars), nil
}

// pendingDep names a single TargetMap key this analysis depends on, and
// which of the rule invocation's fields it was declared under.
type pendingDep struct {
	field string
	key   TargetKey
}

// NewTargetMap builds the target map (C10) of spec.md §4.6: key=TargetKey
// -> value=*AnalysedTarget. ruleOf resolves a rule-invocation's "type"
// value to a *repoconfig.UserRule, checking the built-in rule set
// (generic/install/file_gen/symlink/configure) before falling back to
// ruleMap for a project-defined rule.
// levelCache may be nil, in which case TargetMap relies purely on the
// asyncmap's own in-process memoisation (spec.md §4.3), exactly as if no
// persisted target-level cache were configured; repoKey partitions the
// cache by repository (its RepositoryConfig.RepositoryKey, spec.md §4.9) so targets
// of the same name/configuration in different repositories never collide.
func NewTargetMap(
	config *repoconfig.RepositoryConfig,
	targetsFileMap *asyncmap.Map[repoconfig.ModuleName, map[string]any],
	ruleMap *asyncmap.Map[entityname.EntityName, *repoconfig.UserRule],
	sourceTargetMap *asyncmap.Map[entityname.EntityName, *AnalysedTarget],
	graph *depgraph.Graph,
	family hashinfo.Family,
	cas CASWriter,
	levelCache LevelCache,
	repoKey string,
	jobs int,
) *asyncmap.Map[TargetKey, *AnalysedTarget] {
	creator := func(
		ts *tasksystem.TaskSystem,
		setter func(*AnalysedTarget),
		logger asyncmap.Logger,
		subCaller asyncmap.SubCaller[TargetKey, *AnalysedTarget],
		key TargetKey,
	) {
		config0, err := key.configuration()
		if err != nil {
			logger(fmt.Sprintf("Malformed configuration for target %s: %v", key.Name, err), true)
			return
		}

		targetsFileMap.ConsumeAfterKeysReady(ts, []repoconfig.ModuleName{key.Name.ModuleName()}, func(vals []map[string]any) {
			fileObj := vals[0]
			raw, ok := fileObj[key.Name.Name]
			if !ok {
				// No rule invocation for this name: fall back to the
				// source-target map (spec.md §4.6 step 1).
				sourceTargetMap.ConsumeAfterKeysReady(ts, []entityname.EntityName{key.Name}, func(vs []*AnalysedTarget) {
					setter(vs[0])
				}, logger, func() {
					logger(fmt.Sprintf("Failed to resolve %s as a source target", key.Name), true)
				})
				return
			}
			invocation, ok := raw.(map[string]any)
			if !ok {
				logger(fmt.Sprintf("Target %s is not a rule-invocation object", key.Name), true)
				return
			}
			typeRaw, ok := invocation["type"]
			if !ok {
				logger(fmt.Sprintf("Target %s is missing \"type\"", key.Name), true)
				return
			}

			resolveRule(ts, config, ruleMap, key.Name, typeRaw, logger, func(rule *repoconfig.UserRule) {
				analyseInvocation(ts, config, graph, family, cas, levelCache, repoKey, key, config0, rule, invocation, subCaller, logger, setter)
			})
		}, logger, func() {
			logger(fmt.Sprintf("Failed to load targets file for module %q of repository %q", key.Name.Module, key.Name.Repository), true)
		})
	}
	return asyncmap.New(creator, jobs)
}

// resolveRule resolves a rule-invocation's "type" value to a UserRule,
// checking the fixed built-in rule set before falling back to ruleMap for
// a project-defined rule named by the usual entity-name grammar.
func resolveRule(
	ts *tasksystem.TaskSystem,
	config *repoconfig.RepositoryConfig,
	ruleMap *asyncmap.Map[entityname.EntityName, *repoconfig.UserRule],
	current entityname.EntityName,
	typeRaw any,
	logger asyncmap.Logger,
	done func(*repoconfig.UserRule),
) {
	if name, ok := typeRaw.(string); ok {
		if rule, ok := BuiltinRule(name); ok {
			done(rule)
			return
		}
	}
	ruleName, ok := entityname.ParseEntityName(typeRaw, current, config, func(msg string) { logger(msg, false) })
	if !ok {
		logger(fmt.Sprintf("Invalid rule reference %v for target %s", typeRaw, current), true)
		return
	}
	ruleMap.ConsumeAfterKeysReady(ts, []entityname.EntityName{ruleName}, func(vs []*repoconfig.UserRule) {
		done(vs[0])
	}, logger, func() {
		logger(fmt.Sprintf("Failed to resolve rule %s for target %s", ruleName, current), true)
	})
}
