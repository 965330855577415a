package targetmap

import (
	"fmt"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/hashinfo"
	"github.com/buildforge/justb/internal/repoconfig"
	"github.com/buildforge/justb/internal/tasksystem"
)

// analyseInvocation implements spec.md §4.6 steps 2-5 for a rule-invocation
// entry already resolved to a concrete rule: gather and recursively
// resolve every target/implicit field's dependencies under the
// configuration deltas produced by the rule's config_transitions, then
// evaluate the rule's expression and validate the resulting RESULT.
func analyseInvocation(
	ts *tasksystem.TaskSystem,
	config *repoconfig.RepositoryConfig,
	graph *depgraph.Graph,
	family hashinfo.Family,
	cas CASWriter,
	levelCache LevelCache,
	repoKey string,
	key TargetKey,
	config0 expression.Configuration,
	rule *repoconfig.UserRule,
	invocation map[string]any,
	subCaller asyncmap.SubCaller[TargetKey, *AnalysedTarget],
	logger asyncmap.Logger,
	setter func(*AnalysedTarget),
) {
	fields := map[string]expression.Value{}
	for _, name := range rule.StringFields {
		fields[name] = expression.FromJSON(invocation[name])
	}
	for _, name := range rule.ConfigFields {
		fields[name] = expression.FromJSON(invocation[name])
	}

	// ctx is built once with the invocation's own field values so both the
	// config-transition expressions and the final rule expression can use
	// FIELD; its deps are filled in only once dependencies are resolved,
	// since a transition necessarily runs before its own dependency exists.
	ctx := newEvalContext(graph, family, cas, fields, nil)
	transitionConfig := config0.Prune(rule.ConfigVars)
	transitionEnv := expression.Env{Config: transitionConfig, Functions: rule.Imports, Extra: ctx.extra}

	orderedFields := append([]string{}, rule.TargetFields...)
	implicitFields := make([]string, 0, len(rule.Implicit))
	for f := range rule.Implicit {
		implicitFields = append(implicitFields, f)
	}
	sortStringsStable(implicitFields)
	orderedFields = append(orderedFields, implicitFields...)

	var pending []pendingDep
	depIndices := map[string][]int{}

	for _, field := range orderedFields {
		refs, err := fieldEntityRefs(field, rule, invocation, key.Name, config)
		if err != nil {
			logger(fmt.Sprintf("Target %s, field %q: %v", key.Name, field, err), true)
			return
		}
		deltas, err := configDeltas(field, rule, transitionEnv)
		if err != nil {
			logger(fmt.Sprintf("Target %s, field %q: %v", key.Name, field, err), true)
			return
		}
		for _, ref := range refs {
			for _, delta := range deltas {
				newConfig := config0
				for k, v := range delta.Map() {
					newConfig = newConfig.Update(k, v)
				}
				idx := len(pending)
				pending = append(pending, pendingDep{field: field, key: NewTargetKey(ref, newConfig)})
				depIndices[field] = append(depIndices[field], idx)
			}
		}
	}

	keys := make([]TargetKey, len(pending))
	for i, p := range pending {
		keys[i] = p.key
	}

	finish := func(results []*AnalysedTarget) {
		deps := map[string][]*AnalysedTarget{}
		for field, idxs := range depIndices {
			for _, i := range idxs {
				deps[field] = append(deps[field], results[i])
			}
		}
		ctx.deps = deps
		for _, d := range results {
			if d == nil {
				continue
			}
			for _, a := range d.Actions {
				ctx.recordAction(a)
			}
		}

		var fp string
		var fpOK bool
		if levelCache != nil {
			if f, err := fingerprint(family, fields, deps); err == nil {
				fp, fpOK = f, true
				if cached, hit, err := levelCache.Get(repoKey, key, fp); err != nil {
					logger(fmt.Sprintf("Target %s: level-cache lookup failed: %v", key.Name, err), false)
				} else if hit {
					restored, err := restoreActions(graph, cached.Actions)
					if err != nil {
						logger(fmt.Sprintf("Target %s: discarding invalid level-cache entry: %v", key.Name, err), false)
					} else {
						for _, a := range restored {
							ctx.recordAction(a)
						}
						setter(NewAnalysedTarget(cached.Artifacts, cached.Runfiles, cached.Provides, ctx.actions))
						return
					}
				}
			}
		}

		ruleConfig := config0.Prune(rule.ConfigVars)
		env := expression.Env{Config: ruleConfig, Functions: rule.Imports, Extra: ctx.extra}
		result, err := expression.Evaluate(rule.Expression, env)
		if err != nil {
			logger(fmt.Sprintf("Target %s: %v", key.Name, err), true)
			return
		}
		if result.Kind() != expression.KindResult {
			logger(fmt.Sprintf("Target %s: rule expression did not evaluate to a RESULT", key.Name), true)
			return
		}
		res := result.ResultValue()
		at := NewAnalysedTarget(res.Artifacts, res.Runfiles, res.Provides, ctx.actions)

		if levelCache != nil && fpOK {
			cachedActions := make([]cachedAction, 0, len(at.Actions))
			cacheable := true
			for _, a := range at.Actions {
				ca, err := encodeAction(a)
				if err != nil {
					cacheable = false
					break
				}
				cachedActions = append(cachedActions, ca)
			}
			_, errA := encodeValue(at.Artifacts)
			_, errR := encodeValue(at.Runfiles)
			_, errP := encodeValue(at.Provides)
			if cacheable && errA == nil && errR == nil && errP == nil {
				if err := levelCache.Put(repoKey, key, fp, &CachedAnalysis{
					Artifacts: at.Artifacts,
					Runfiles:  at.Runfiles,
					Provides:  at.Provides,
					Actions:   cachedActions,
				}); err != nil {
					logger(fmt.Sprintf("Target %s: failed to populate level cache: %v", key.Name, err), false)
				}
			}
		}

		setter(at)
	}

	if len(keys) == 0 {
		finish(nil)
		return
	}
	subCaller(keys, finish, logger)
}

// fieldEntityRefs returns the entity-name list a target/implicit field
// names: for a target field, parsed from the invocation's own JSON value;
// for an implicit field, the list already resolved at rule-parse time.
func fieldEntityRefs(
	field string,
	rule *repoconfig.UserRule,
	invocation map[string]any,
	current entityname.EntityName,
	config *repoconfig.RepositoryConfig,
) ([]entityname.EntityName, error) {
	if refs, ok := rule.Implicit[field]; ok {
		return refs, nil
	}
	raw, ok := invocation[field]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field is not a list")
	}
	out := make([]entityname.EntityName, 0, len(items))
	for _, item := range items {
		ent, ok := entityname.ParseEntityName(item, current, config, nil)
		if !ok {
			return nil, fmt.Errorf("invalid entity-name reference %v", item)
		}
		out = append(out, ent)
	}
	return out, nil
}

// configDeltas evaluates a field's config_transitions entry, if any,
// returning the list of configuration deltas to analyse the field's
// dependencies under (spec.md §4.6 step 2). A field without a declared
// transition passes the current configuration through unchanged.
func configDeltas(field string, rule *repoconfig.UserRule, env expression.Env) ([]expression.Value, error) {
	transition, ok := rule.ConfigTransitions[field]
	if !ok {
		return []expression.Value{expression.Map(nil)}, nil
	}
	result, err := expression.Evaluate(transition, env)
	if err != nil {
		return nil, err
	}
	if !result.IsList() {
		return nil, fmt.Errorf("config_transitions must evaluate to a list of deltas")
	}
	for _, d := range result.List() {
		if !d.IsMap() {
			return nil, fmt.Errorf("config_transitions must evaluate to a list of maps")
		}
	}
	return result.List(), nil
}

func sortStringsStable(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
