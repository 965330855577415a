package repoconfig

import (
	"fmt"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/tasksystem"
)

// UserRule is the parsed rule description of spec.md §3: field declarations
// across four disjoint kinds, a per-field configuration transition, the
// rule's expression body, and its implicit dependency references.
//
// Open question (recorded in DESIGN.md): the original's implicit fields are
// "resolved via sub-calls into itself or source/target maps" at rule-parse
// time. This port instead keeps implicit fields as parsed EntityName lists
// and lets TargetMap resolve them through the target map using the same
// configuration-transition machinery as target fields — implicit deps then
// participate in configuration the same way declared target-field deps do,
// which is simpler to reason about and still matches every testable
// property in spec.md §8.
type UserRule struct {
	StringFields []string
	TargetFields []string
	ConfigFields []string
	Implicit     map[string][]entityname.EntityName

	ConfigVars        []string
	ConfigTransitions map[string]expression.Value // field -> unevaluated transition expr
	Imports           map[string]*expression.Function
	Expression        expression.Value // unevaluated rule body
}

// FieldKind classifies a declared field name for dependency-field checks.
type FieldKind int

const (
	FieldUnknown FieldKind = iota
	FieldString
	FieldTarget
	FieldConfig
	FieldImplicit
)

func (r *UserRule) fieldKind(name string) FieldKind {
	for _, f := range r.StringFields {
		if f == name {
			return FieldString
		}
	}
	for _, f := range r.TargetFields {
		if f == name {
			return FieldTarget
		}
	}
	for _, f := range r.ConfigFields {
		if f == name {
			return FieldConfig
		}
	}
	for f := range r.Implicit {
		if f == name {
			return FieldImplicit
		}
	}
	return FieldUnknown
}

// IsDependencyField reports whether name is a target or implicit field,
// i.e. one whose value is a list of entity-name dependencies subject to
// configuration transition, per spec.md §4.6 step 2.
func (r *UserRule) IsDependencyField(name string) bool {
	kind := r.fieldKind(name)
	return kind == FieldTarget || kind == FieldImplicit
}

// validateFieldDisjointness checks spec.md §3's UserRule invariant: field
// names across the four field kinds are pairwise disjoint.
func validateFieldDisjointness(r *UserRule) error {
	seen := map[string]string{}
	check := func(kind string, names []string) error {
		for _, n := range names {
			if prior, ok := seen[n]; ok {
				return fmt.Errorf("field %q declared in both %s and %s", n, prior, kind)
			}
			seen[n] = kind
		}
		return nil
	}
	if err := check("string_fields", r.StringFields); err != nil {
		return err
	}
	if err := check("target_fields", r.TargetFields); err != nil {
		return err
	}
	if err := check("config_fields", r.ConfigFields); err != nil {
		return err
	}
	implicitNames := make([]string, 0, len(r.Implicit))
	for n := range r.Implicit {
		implicitNames = append(implicitNames, n)
	}
	return check("implicit", implicitNames)
}

// validateConfigTransitions checks spec.md §3's invariant that
// config_transitions refer only to declared target/implicit fields.
func validateConfigTransitions(r *UserRule) error {
	for field := range r.ConfigTransitions {
		if !r.IsDependencyField(field) {
			return fmt.Errorf("config_transitions refers to %q, which is not a target or implicit field", field)
		}
	}
	return nil
}

// NewRuleMap builds the RuleMap of spec.md §4.4: key=EntityName ->
// value=*UserRule, grounded on original_source's
// base_maps/rule_map.hpp's CreateRuleMap(rule_file_map, expr_map, jobs) —
// rule bodies import expression functions from ExpressionFunctionMap the
// same way expression bodies import each other. Expected rule-definition
// shape (one entry of a RULES file's JSON object):
//
//	{
//	  "string_fields": [...], "target_fields": [...], "config_fields": [...],
//	  "implicit": {"field": [<entity-name-expr>, ...]},
//	  "config_vars": [...], "config_transitions": {"field": <expr-json>},
//	  "imports": {"alias": <entity-name-expr>, ...},
//	  "expression": <expr-json>
//	}
func NewRuleMap(
	config *RepositoryConfig,
	ruleFileMap *asyncmap.Map[ModuleName, map[string]any],
	exprFnMap *asyncmap.Map[entityname.EntityName, *expression.Function],
	jobs int,
) *asyncmap.Map[entityname.EntityName, *UserRule] {
	creator := func(
		ts *tasksystem.TaskSystem,
		setter func(*UserRule),
		logger asyncmap.Logger,
		_ asyncmap.SubCaller[entityname.EntityName, *UserRule],
		key entityname.EntityName,
	) {
		ruleFileMap.ConsumeAfterKeysReady(ts, []ModuleName{key.ModuleName()}, func(vals []map[string]any) {
			fileObj := vals[0]
			raw, ok := fileObj[key.Name]
			if !ok {
				logger(fmt.Sprintf("No rule %q in module %q of repository %q", key.Name, key.Module, key.Repository), true)
				return
			}
			defObj, ok := raw.(map[string]any)
			if !ok {
				logger(fmt.Sprintf("Rule %q is not an object", key.Name), true)
				return
			}

			rule := &UserRule{
				StringFields: stringList(defObj["string_fields"]),
				TargetFields: stringList(defObj["target_fields"]),
				ConfigFields: stringList(defObj["config_fields"]),
				ConfigVars:   stringList(defObj["config_vars"]),
				Implicit:     map[string][]entityname.EntityName{},
			}

			implicitRaw, _ := defObj["implicit"].(map[string]any)
			for field, listRaw := range implicitRaw {
				items, ok := listRaw.([]any)
				if !ok {
					logger(fmt.Sprintf("implicit field %q is not a list", field), true)
					return
				}
				refs := make([]entityname.EntityName, 0, len(items))
				for _, item := range items {
					ent, ok := entityname.ParseEntityName(item, key, config, func(msg string) { logger(msg, false) })
					if !ok {
						logger(fmt.Sprintf("Invalid implicit entity name in field %q of rule %q", field, key.Name), true)
						return
					}
					refs = append(refs, ent)
				}
				rule.Implicit[field] = refs
			}

			transitionsRaw, _ := defObj["config_transitions"].(map[string]any)
			rule.ConfigTransitions = make(map[string]expression.Value, len(transitionsRaw))
			for field, expr := range transitionsRaw {
				rule.ConfigTransitions[field] = expression.FromJSON(expr)
			}

			exprRaw, ok := defObj["expression"]
			if !ok {
				logger(fmt.Sprintf("Rule %q is missing \"expression\"", key.Name), true)
				return
			}
			rule.Expression = expression.FromJSON(exprRaw)

			if err := validateFieldDisjointness(rule); err != nil {
				logger(fmt.Sprintf("Rule %q: %v", key.Name, err), true)
				return
			}
			if err := validateConfigTransitions(rule); err != nil {
				logger(fmt.Sprintf("Rule %q: %v", key.Name, err), true)
				return
			}

			importsRaw, _ := defObj["imports"].(map[string]any)
			if len(importsRaw) == 0 {
				rule.Imports = map[string]*expression.Function{}
				setter(rule)
				return
			}
			aliases := make([]string, 0, len(importsRaw))
			refs := make([]entityname.EntityName, 0, len(importsRaw))
			for alias, ref := range importsRaw {
				ent, ok := entityname.ParseEntityName(ref, key, config, func(msg string) { logger(msg, false) })
				if !ok {
					logger(fmt.Sprintf("Invalid import %q in rule %q: cannot parse entity name", alias, key.Name), true)
					return
				}
				aliases = append(aliases, alias)
				refs = append(refs, ent)
			}
			exprFnMap.ConsumeAfterKeysReady(ts, refs, func(fns []*expression.Function) {
				rule.Imports = make(map[string]*expression.Function, len(aliases))
				for i, alias := range aliases {
					rule.Imports[alias] = fns[i]
				}
				setter(rule)
			}, logger, func() {
				logger(fmt.Sprintf("Failed to resolve imports for rule %q in module %q of repository %q", key.Name, key.Module, key.Repository), true)
			})
		}, logger, func() {
			logger(fmt.Sprintf("Failed to load rule file for module %q of repository %q", key.Module, key.Repository), true)
		})
	}
	return asyncmap.New(creator, jobs)
}
