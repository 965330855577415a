package targetmap

import (
	"fmt"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/hashinfo"
)

// CASWriter is the subset of internal/cas.Storage's API that targetmap
// needs to materialise content produced purely from analysis (FILE_GEN
// literal data, inline SYMLINK targets) rather than by running an action.
type CASWriter interface {
	Put(blob artifact.Blob, objType artifact.ObjectType) error
}

// evalContext carries everything the rule-evaluation builtins (spec.md
// §4.6 step 3) need beyond the pure expression evaluator: the shared
// dependency graph actions are registered into, the active hash family,
// an optional CAS to materialise analysis-time content into, the current
// rule invocation's own fields, and its resolved dependencies per field.
type evalContext struct {
	graph      *depgraph.Graph
	family     hashinfo.Family
	cas        CASWriter
	fields     map[string]expression.Value
	deps       map[string][]*AnalysedTarget
	actions    []*depgraph.ActionNode
	seenAction map[string]bool
}

func newEvalContext(graph *depgraph.Graph, family hashinfo.Family, cas CASWriter, fields map[string]expression.Value, deps map[string][]*AnalysedTarget) *evalContext {
	return &evalContext{graph: graph, family: family, cas: cas, fields: fields, deps: deps, seenAction: map[string]bool{}}
}

func (c *evalContext) recordAction(a *depgraph.ActionNode) {
	if c.seenAction[a.ID()] {
		return
	}
	c.seenAction[a.ID()] = true
	c.actions = append(c.actions, a)
}

// resolveNode maps an artifact.Description to its depgraph.ArtifactNode:
// source descriptions are registered (or reused, by content id) as source
// artifacts; Action descriptions are looked up against an action already
// present in the shared graph (either one this same evaluation just
// registered, or one a dependency's own analysis registered earlier).
func (c *evalContext) resolveNode(d artifact.Description) (*depgraph.ArtifactNode, error) {
	if d.IsAction() {
		actionID, outputPath := d.Action()
		an, ok := c.graph.Action(actionID)
		if !ok {
			return nil, fmt.Errorf("targetmap: action %q referenced before it was registered", actionID)
		}
		if n, ok := an.OutputFiles()[outputPath]; ok {
			return n, nil
		}
		if n, ok := an.OutputDirs()[outputPath]; ok {
			return n, nil
		}
		return nil, fmt.Errorf("targetmap: action %q has no output %q", actionID, outputPath)
	}
	return c.graph.AddSourceArtifact(descriptorFor(d), d), nil
}

// extra implements expression.Env.Extra: the FIELD/DEP_*/staging/RESULT
// operator set of spec.md §4.6, layered on top of internal/expression's
// pure functional core.
func (c *evalContext) extra(op string, v expression.Value, env expression.Env) (expression.Value, bool, error) {
	switch op {
	case "FIELD":
		r, err := c.evalField(v, env)
		return r, true, err
	case "DEP_ARTIFACTS":
		r, err := c.evalDepMerge(v, func(t *AnalysedTarget) expression.Value { return t.Artifacts })
		return r, true, err
	case "DEP_RUNFILES":
		r, err := c.evalDepMerge(v, func(t *AnalysedTarget) expression.Value { return t.Runfiles })
		return r, true, err
	case "DEP_PROVIDES":
		r, err := c.evalDepList(v, func(t *AnalysedTarget) expression.Value { return t.Provides })
		return r, true, err
	case "DEP_ARTIFACT_NAMES":
		r, err := c.evalDepNames(v, (*AnalysedTarget).ArtifactNames)
		return r, true, err
	case "DEP_RUNFILE_NAMES":
		r, err := c.evalDepNames(v, (*AnalysedTarget).RunfileNames)
		return r, true, err
	case "ACTION", "GENERIC":
		r, err := c.evalAction(v, env, false)
		return r, true, err
	case "TREE":
		r, err := c.evalAction(v, env, true)
		return r, true, err
	case "INSTALL":
		r, err := c.evalInstall(v, env)
		return r, true, err
	case "FILE_GEN":
		r, err := c.evalFileGen(v, env)
		return r, true, err
	case "SYMLINK":
		r, err := c.evalSymlink(v, env)
		return r, true, err
	case "RESULT":
		r, err := c.evalResult(v, env)
		return r, true, err
	default:
		return expression.Value{}, false, nil
	}
}

func fieldName(v expression.Value, key string) (string, error) {
	raw, ok := v.Get(key)
	if !ok || raw.Kind() != expression.KindString {
		return "", fmt.Errorf("expression: %s requires a string %q", v.Raw(), key)
	}
	return raw.String(), nil
}

func (c *evalContext) evalField(v expression.Value, env expression.Env) (expression.Value, error) {
	name, err := fieldName(v, "name")
	if err != nil {
		return expression.Value{}, err
	}
	raw, ok := c.fields[name]
	if !ok {
		return expression.None(), nil
	}
	return expression.Evaluate(raw, env)
}

func (c *evalContext) evalDepMerge(v expression.Value, project func(*AnalysedTarget) expression.Value) (expression.Value, error) {
	field, err := fieldName(v, "field")
	if err != nil {
		return expression.Value{}, err
	}
	out := map[string]expression.Value{}
	for _, dep := range c.deps[field] {
		m := project(dep)
		if !m.IsMap() {
			continue
		}
		for k, val := range m.Map() {
			out[k] = val
		}
	}
	return expression.Map(out), nil
}

func (c *evalContext) evalDepList(v expression.Value, project func(*AnalysedTarget) expression.Value) (expression.Value, error) {
	field, err := fieldName(v, "field")
	if err != nil {
		return expression.Value{}, err
	}
	var out []expression.Value
	for _, dep := range c.deps[field] {
		out = append(out, project(dep))
	}
	return expression.List(out), nil
}

func (c *evalContext) evalDepNames(v expression.Value, names func(*AnalysedTarget) []string) (expression.Value, error) {
	field, err := fieldName(v, "field")
	if err != nil {
		return expression.Value{}, err
	}
	var out []expression.Value
	for _, dep := range c.deps[field] {
		for _, n := range names(dep) {
			out = append(out, expression.String(n))
		}
	}
	return expression.List(out), nil
}

func evalStringArg(v expression.Value, key string, env expression.Env) (string, error) {
	raw, ok := v.Get(key)
	if !ok {
		return "", fmt.Errorf("expression: missing %q", key)
	}
	r, err := expression.Evaluate(raw, env)
	if err != nil {
		return "", err
	}
	if r.Kind() != expression.KindString {
		return "", fmt.Errorf("expression: %q must evaluate to a string", key)
	}
	return r.String(), nil
}

func evalMapArg(v expression.Value, key string, env expression.Env) (map[string]expression.Value, error) {
	raw, ok := v.Get(key)
	if !ok {
		return nil, nil
	}
	r, err := expression.Evaluate(raw, env)
	if err != nil {
		return nil, err
	}
	if r.IsNone() {
		return nil, nil
	}
	if !r.IsMap() {
		return nil, fmt.Errorf("expression: %q must evaluate to a map", key)
	}
	return r.Map(), nil
}

func evalStringListArg(v expression.Value, key string, env expression.Env) ([]string, error) {
	raw, ok := v.Get(key)
	if !ok {
		return nil, nil
	}
	r, err := expression.Evaluate(raw, env)
	if err != nil {
		return nil, err
	}
	if r.IsNone() {
		return nil, nil
	}
	if !r.IsList() {
		return nil, fmt.Errorf("expression: %q must evaluate to a list", key)
	}
	out := make([]string, 0, len(r.List()))
	for _, e := range r.List() {
		if e.Kind() != expression.KindString {
			return nil, fmt.Errorf("expression: %q must be a list of strings", key)
		}
		out = append(out, e.String())
	}
	return out, nil
}

func evalStringMapArg(v expression.Value, key string, env expression.Env) (map[string]string, error) {
	m, err := evalMapArg(v, key, env)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if val.Kind() != expression.KindString {
			return nil, fmt.Errorf("expression: %q values must be strings", key)
		}
		out[k] = val.String()
	}
	return out, nil
}

func artifactsFromMap(m map[string]expression.Value) (map[string]artifact.Description, error) {
	out := make(map[string]artifact.Description, len(m))
	for path, val := range m {
		if val.Kind() != expression.KindArtifact {
			return nil, fmt.Errorf("expression: staged path %q is not an artifact", path)
		}
		out[path] = val.Artifact()
	}
	return out, nil
}

// evalAction implements the ACTION/GENERIC operator (isTree=false) and the
// TREE operator (isTree=true): both stage a map of inputs and register one
// depgraph action, differing only in whether the action runs a command
// (ACTION/GENERIC) or merely assembles its inputs into a tree (TREE).
func (c *evalContext) evalAction(v expression.Value, env expression.Env, isTree bool) (expression.Value, error) {
	inputsRaw, err := evalMapArg(v, "inputs", env)
	if err != nil {
		return expression.Value{}, err
	}
	inputs, err := artifactsFromMap(inputsRaw)
	if err != nil {
		return expression.Value{}, err
	}
	if err := detectStageConflicts(c.graph, inputs); err != nil {
		return expression.Value{}, err
	}
	nodes := make(map[string]*depgraph.ArtifactNode, len(inputs))
	for path, d := range inputs {
		n, err := c.resolveNode(d)
		if err != nil {
			return expression.Value{}, err
		}
		nodes[path] = n
	}

	if isTree {
		desc := actionDescriptor{
			Inputs:       inputDescriptors(inputs),
			OutputDirs:   []string{"."},
			IsTreeAction: true,
		}
		id := computeActionID(c.family, desc)
		action := c.graph.AddAction(depgraph.ActionSpec{
			ID:           id,
			Inputs:       nodes,
			OutputDirs:   []string{"."},
			IsTreeAction: true,
		})
		c.recordAction(action)
		return expression.ArtifactOf(artifact.NewActionDescription(id, ".")), nil
	}

	cmd, err := evalStringListArg(v, "cmd", env)
	if err != nil {
		return expression.Value{}, err
	}
	outs, err := evalStringListArg(v, "outs", env)
	if err != nil {
		return expression.Value{}, err
	}
	outDirs, err := evalStringListArg(v, "out_dirs", env)
	if err != nil {
		return expression.Value{}, err
	}
	envVars, err := evalStringMapArg(v, "env", env)
	if err != nil {
		return expression.Value{}, err
	}
	execProps, err := evalStringMapArg(v, "execution_properties", env)
	if err != nil {
		return expression.Value{}, err
	}
	mayFail := ""
	if raw, ok := v.Get("may_fail"); ok {
		r, err := expression.Evaluate(raw, env)
		if err != nil {
			return expression.Value{}, err
		}
		if !r.IsNone() {
			mayFail = r.String()
		}
	}
	noCache := false
	if raw, ok := v.Get("no_cache"); ok {
		r, err := expression.Evaluate(raw, env)
		if err != nil {
			return expression.Value{}, err
		}
		noCache = r.Bool()
	}
	timeoutScale := 1.0
	if raw, ok := v.Get("timeout_scale"); ok {
		r, err := expression.Evaluate(raw, env)
		if err != nil {
			return expression.Value{}, err
		}
		if r.Kind() == expression.KindNumber {
			timeoutScale = r.Number()
		}
	}

	desc := actionDescriptor{
		Command:             cmd,
		Env:                 envVars,
		Inputs:              inputDescriptors(inputs),
		OutputFiles:         outs,
		OutputDirs:          outDirs,
		MayFail:             mayFail,
		NoCache:             noCache,
		TimeoutScale:        timeoutScale,
		ExecutionProperties: execProps,
	}
	id := computeActionID(c.family, desc)
	action := c.graph.AddAction(depgraph.ActionSpec{
		ID:                  id,
		Command:             cmd,
		Env:                 envVars,
		Inputs:              nodes,
		OutputFiles:         outs,
		OutputDirs:          outDirs,
		MayFail:             mayFail,
		NoCache:             noCache,
		TimeoutScale:        timeoutScale,
		ExecutionProperties: execProps,
	})
	c.recordAction(action)

	result := make(map[string]expression.Value, len(outs)+len(outDirs))
	for _, p := range outs {
		result[p] = expression.ArtifactOf(artifact.NewActionDescription(id, p))
	}
	for _, p := range outDirs {
		result[p] = expression.ArtifactOf(artifact.NewActionDescription(id, p))
	}
	return expression.Map(result), nil
}

// evalInstall re-stages a map of dependency artifacts under new paths
// without bundling them into a tree, only validating that the result has
// no stage conflicts.
func (c *evalContext) evalInstall(v expression.Value, env expression.Env) (expression.Value, error) {
	inputsRaw, err := evalMapArg(v, "inputs", env)
	if err != nil {
		return expression.Value{}, err
	}
	inputs, err := artifactsFromMap(inputsRaw)
	if err != nil {
		return expression.Value{}, err
	}
	if err := detectStageConflicts(c.graph, inputs); err != nil {
		return expression.Value{}, err
	}
	return expression.Map(inputsRaw), nil
}

func (c *evalContext) storeContent(content []byte, objType artifact.ObjectType) (artifact.Digest, error) {
	hi := hashinfo.HashData(c.family, content, false)
	digest := artifact.NewDigest(hi, int64(len(content)))
	if c.cas != nil {
		if err := c.cas.Put(artifact.NewMemoryBlob(digest, content, objType == artifact.Executable), objType); err != nil {
			return artifact.Digest{}, err
		}
	}
	return digest, nil
}

func (c *evalContext) evalFileGen(v expression.Value, env expression.Env) (expression.Value, error) {
	name, err := evalStringArg(v, "name", env)
	if err != nil {
		return expression.Value{}, err
	}
	dataRaw, ok := v.Get("data")
	if !ok {
		return expression.Value{}, fmt.Errorf("expression: FILE_GEN requires \"data\"")
	}
	data, err := expression.Evaluate(dataRaw, env)
	if err != nil {
		return expression.Value{}, err
	}
	objType := artifact.File
	if raw, ok := v.Get("executable"); ok {
		r, err := expression.Evaluate(raw, env)
		if err != nil {
			return expression.Value{}, err
		}
		if r.Bool() {
			objType = artifact.Executable
		}
	}
	digest, err := c.storeContent([]byte(data.String()), objType)
	if err != nil {
		return expression.Value{}, err
	}
	return expression.Map(map[string]expression.Value{
		name: expression.ArtifactOf(artifact.NewKnownDescription(digest, objType)),
	}), nil
}

func (c *evalContext) evalSymlink(v expression.Value, env expression.Env) (expression.Value, error) {
	name, err := evalStringArg(v, "name", env)
	if err != nil {
		return expression.Value{}, err
	}
	targetRaw, ok := v.Get("target")
	if !ok {
		return expression.Value{}, fmt.Errorf("expression: SYMLINK requires \"target\"")
	}
	targetVal, err := expression.Evaluate(targetRaw, env)
	if err != nil {
		return expression.Value{}, err
	}
	target := targetVal.String()
	if !validSymlinkTarget(target) {
		return expression.Value{}, fmt.Errorf("expression: invalid symlink target %q: must be relative and not climb above its staging point", target)
	}
	digest, err := c.storeContent([]byte(target), artifact.Symlink)
	if err != nil {
		return expression.Value{}, err
	}
	return expression.Map(map[string]expression.Value{
		name: expression.ArtifactOf(artifact.NewKnownDescription(digest, artifact.Symlink)),
	}), nil
}

// evalResult implements the RESULT{artifacts, runfiles, provides}
// constructor and its spec.md §4.6 step 4 validation.
func (c *evalContext) evalResult(v expression.Value, env expression.Env) (expression.Value, error) {
	artifactsRaw, ok := v.Get("artifacts")
	if !ok {
		artifactsRaw = expression.Map(nil)
	}
	artifactsVal, err := expression.Evaluate(artifactsRaw, env)
	if err != nil {
		return expression.Value{}, err
	}
	runfilesVal := expression.Map(nil)
	if raw, ok := v.Get("runfiles"); ok {
		runfilesVal, err = expression.Evaluate(raw, env)
		if err != nil {
			return expression.Value{}, err
		}
	}
	providesVal := expression.Map(nil)
	if raw, ok := v.Get("provides"); ok {
		providesVal, err = expression.Evaluate(raw, env)
		if err != nil {
			return expression.Value{}, err
		}
	}
	if !artifactsVal.IsMap() || !runfilesVal.IsMap() || !providesVal.IsMap() {
		return expression.Value{}, fmt.Errorf("expression: RESULT artifacts/runfiles/provides must all be maps")
	}
	merged := map[string]artifact.Description{}
	for path, val := range artifactsVal.Map() {
		if val.Kind() != expression.KindArtifact {
			return expression.Value{}, fmt.Errorf("expression: RESULT artifact %q is not an artifact", path)
		}
		merged[path] = val.Artifact()
	}
	for path, val := range runfilesVal.Map() {
		if val.Kind() != expression.KindArtifact {
			return expression.Value{}, fmt.Errorf("expression: RESULT runfile %q is not an artifact", path)
		}
		merged[path] = val.Artifact()
	}
	if err := detectStageConflicts(c.graph, merged); err != nil {
		return expression.Value{}, err
	}
	return expression.ResultOf(expression.Result{Artifacts: artifactsVal, Runfiles: runfilesVal, Provides: providesVal}), nil
}
