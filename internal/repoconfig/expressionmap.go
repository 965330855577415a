package repoconfig

import (
	"fmt"

	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/entityname"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/tasksystem"
)

// NewExpressionFunctionMap builds the ExpressionFunctionMap of spec.md
// §4.4: key=EntityName -> value=*expression.Function. The ValueCreator
// reads the expression file for the key's module (through exprFileMap),
// looks up the function definition named by key.Name, and composes its
// "imports" by sub-calling the same map recursively — mutual recursion
// across EXPRESSIONS files is resolved through the sub-caller, exactly as
// spec.md describes.
//
// Expected expression-definition shape (one entry of an EXPRESSIONS file's
// JSON object):
//
//	{"vars": ["X", ...], "imports": {"alias": <entity-name-expr>, ...}, "expression": <expr-json>}
func NewExpressionFunctionMap(
	config *RepositoryConfig,
	exprFileMap *asyncmap.Map[ModuleName, map[string]any],
	jobs int,
) *asyncmap.Map[entityname.EntityName, *expression.Function] {
	creator := func(
		ts *tasksystem.TaskSystem,
		setter func(*expression.Function),
		logger asyncmap.Logger,
		subCaller asyncmap.SubCaller[entityname.EntityName, *expression.Function],
		key entityname.EntityName,
	) {
		exprFileMap.ConsumeAfterKeysReady(ts, []ModuleName{key.ModuleName()}, func(vals []map[string]any) {
			fileObj := vals[0]
			raw, ok := fileObj[key.Name]
			if !ok {
				logger(fmt.Sprintf("No expression %q in module %q of repository %q", key.Name, key.Module, key.Repository), true)
				return
			}
			defObj, ok := raw.(map[string]any)
			if !ok {
				logger(fmt.Sprintf("Expression %q is not an object", key.Name), true)
				return
			}

			vars := stringList(defObj["vars"])

			exprRaw, ok := defObj["expression"]
			if !ok {
				logger(fmt.Sprintf("Expression %q is missing \"expression\"", key.Name), true)
				return
			}
			body := expression.FromJSON(exprRaw)

			importsRaw, _ := defObj["imports"].(map[string]any)
			if len(importsRaw) == 0 {
				setter(expression.NewFunction(vars, nil, body))
				return
			}

			aliases := make([]string, 0, len(importsRaw))
			refs := make([]entityname.EntityName, 0, len(importsRaw))
			for alias, ref := range importsRaw {
				ent, ok := entityname.ParseEntityName(ref, key, config, func(msg string) { logger(msg, false) })
				if !ok {
					logger(fmt.Sprintf("Invalid import %q in expression %q: cannot parse entity name", alias, key.Name), true)
					return
				}
				aliases = append(aliases, alias)
				refs = append(refs, ent)
			}
			subCaller(refs, func(fns []*expression.Function) {
				imports := make(map[string]*expression.Function, len(aliases))
				for i, alias := range aliases {
					imports[alias] = fns[i]
				}
				setter(expression.NewFunction(vars, imports, body))
			}, logger)
		}, logger, func() {
			logger(fmt.Sprintf("Failed to load expression file for module %q of repository %q", key.Module, key.Repository), true)
		})
	}
	return asyncmap.New(creator, jobs)
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
