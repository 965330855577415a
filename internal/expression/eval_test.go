package expression

import "testing"

func TestEvaluateVarWithDefault(t *testing.T) {
	node := Map(map[string]Value{
		"type":    String("var"),
		"name":    String("X"),
		"default": String("fallback"),
	})
	env := Env{Config: NewConfiguration(nil)}
	got, err := Evaluate(node, env)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "fallback" {
		t.Fatalf("expected fallback, got %v", got.Raw())
	}

	env.Config = NewConfiguration(map[string]Value{"X": String("bound")})
	got, err = Evaluate(node, env)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "bound" {
		t.Fatalf("expected bound, got %v", got.Raw())
	}
}

func TestEvaluateIfBranches(t *testing.T) {
	node := Map(map[string]Value{
		"type": String("if"),
		"cond": Bool(true),
		"then": String("yes"),
		"else": String("no"),
	})
	got, err := Evaluate(node, Env{Config: NewConfiguration(nil)})
	if err != nil || got.String() != "yes" {
		t.Fatalf("got %v, err %v", got.Raw(), err)
	}
}

func TestEvaluateConcatAndNubRight(t *testing.T) {
	concatNode := Map(map[string]Value{
		"type": String("concat"),
		"$1": List([]Value{
			List([]Value{String("a"), String("b")}),
			List([]Value{String("b"), String("c")}),
		}),
	})
	env := Env{Config: NewConfiguration(nil)}
	got, err := Evaluate(concatNode, env)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.List()) != 4 {
		t.Fatalf("expected 4 elements, got %v", got.Raw())
	}

	nubNode := Map(map[string]Value{"type": String("nub_right"), "$1": got})
	nubbed, err := Evaluate(nubNode, env)
	if err != nil {
		t.Fatal(err)
	}
	if len(nubbed.List()) != 3 {
		t.Fatalf("expected 3 deduped elements, got %v", nubbed.Raw())
	}
}

func TestEvaluateCallResolvesImportedFunction(t *testing.T) {
	double := NewFunction([]string{"n"}, nil, Map(map[string]Value{
		"type": String("var"),
		"name": String("n"),
	}))
	callNode := Map(map[string]Value{
		"type": String("CALL"),
		"name": String("double"),
		"n":    String("hi"),
	})
	env := Env{Config: NewConfiguration(nil), Functions: map[string]*Function{"double": double}}
	got, err := Evaluate(callNode, env)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "hi" {
		t.Fatalf("expected hi, got %v", got.Raw())
	}
}

func TestEvaluateJoinAndLookup(t *testing.T) {
	env := Env{Config: NewConfiguration(nil)}
	joinNode := Map(map[string]Value{
		"type":      String("join"),
		"$1":        List([]Value{String("a"), String("b")}),
		"separator": String(","),
	})
	got, err := Evaluate(joinNode, env)
	if err != nil || got.String() != "a,b" {
		t.Fatalf("got %v, err %v", got.Raw(), err)
	}

	lookupNode := Map(map[string]Value{
		"type": String("lookup"),
		"map":  Map(map[string]Value{"k": String("v")}),
		"key":  String("k"),
	})
	got, err = Evaluate(lookupNode, env)
	if err != nil || got.String() != "v" {
		t.Fatalf("got %v, err %v", got.Raw(), err)
	}
}
