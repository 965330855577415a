package expression

// Function is a named, parameterised expression body, the ExpressionFunction
// of spec.md §4.4's ExpressionFunctionMap: key=EntityName -> value=Function.
// Vars restricts which configuration keys the body may observe (a function
// only ever sees its own declared config_vars, not the caller's full
// configuration); Imports resolves CALL nodes naming sibling functions,
// letting mutually recursive functions across EXPRESSIONS files compose
// through the Env passed to Evaluate.
type Function struct {
	Vars    []string
	Imports map[string]*Function
	Body    Value
}

// NewFunction builds a Function; imports may be nil.
func NewFunction(vars []string, imports map[string]*Function, body Value) *Function {
	if imports == nil {
		imports = map[string]*Function{}
	}
	return &Function{Vars: vars, Imports: imports, Body: body}
}

// Call evaluates f's body against config restricted to f's declared vars,
// with f's imports available to CALL nodes in the body.
func (f *Function) Call(config Configuration) (Value, error) {
	env := Env{Config: config.Prune(f.Vars), Functions: f.Imports}
	return Evaluate(f.Body, env)
}
