package entityname

import "testing"

type fakeResolver struct {
	mapping map[string]string
}

func (f fakeResolver) GlobalName(repo, local string) (string, bool) {
	name, ok := f.mapping[local]
	return name, ok
}

func TestParseEntityNameBareString(t *testing.T) {
	current := NewNamedTarget("main", "src/lib", "current")
	got, ok := ParseEntityName("foo", current, fakeResolver{}, nil)
	if !ok {
		t.Fatal("expected success")
	}
	want := NewNamedTarget("main", "src/lib", "foo")
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseEntityNameSiblingModule(t *testing.T) {
	current := NewNamedTarget("main", "src/lib", "current")
	got, ok := ParseEntityName([]any{"src/util", "foo"}, current, fakeResolver{}, nil)
	if !ok {
		t.Fatal("expected success")
	}
	if got.Module != "src/util" || got.Name != "foo" || got.Repository != "main" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseEntityNameRelativeRejectsEscape(t *testing.T) {
	current := NewNamedTarget("main", "src", "current")
	var diag string
	_, ok := ParseEntityName([]any{"./", "../../outside", "foo"}, current, fakeResolver{}, func(msg string) { diag = msg })
	if ok {
		t.Fatal("expected failure for module escaping workspace")
	}
	if diag == "" {
		t.Fatal("expected a diagnostic")
	}
}

func TestParseEntityNameRelativeWithinWorkspace(t *testing.T) {
	current := NewNamedTarget("main", "src", "current")
	got, ok := ParseEntityName([]any{"./", "sub", "foo"}, current, fakeResolver{}, nil)
	if !ok {
		t.Fatal("expected success")
	}
	if got.Module != "src/sub" {
		t.Fatalf("got module %q", got.Module)
	}
}

func TestParseEntityNameLocationResolvesBinding(t *testing.T) {
	current := NewNamedTarget("main", "src", "current")
	resolver := fakeResolver{mapping: map[string]string{"upstream": "upstream-global"}}
	got, ok := ParseEntityName([]any{"@", "upstream", "lib", "foo"}, current, resolver, nil)
	if !ok {
		t.Fatal("expected success")
	}
	if got.Repository != "upstream-global" || got.Module != "lib" || got.Name != "foo" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseEntityNameLocationUnknownBindingFails(t *testing.T) {
	current := NewNamedTarget("main", "src", "current")
	_, ok := ParseEntityName([]any{"@", "missing", "lib", "foo"}, current, fakeResolver{}, nil)
	if ok {
		t.Fatal("expected failure for unresolved binding")
	}
}

func TestParseEntityNameFileReference(t *testing.T) {
	current := NewNamedTarget("main", "src", "current")
	got, ok := ParseEntityName([]any{"FILE", nil, "foo.txt"}, current, fakeResolver{}, nil)
	if !ok {
		t.Fatal("expected success")
	}
	if got.Reference != FileRef || got.Name != "foo.txt" || got.Module != "src" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseEntityNameMalformedReturnsFalse(t *testing.T) {
	current := NewNamedTarget("main", "src", "current")
	if _, ok := ParseEntityName(42.0, current, fakeResolver{}, nil); ok {
		t.Fatal("expected failure for a bare number")
	}
	if _, ok := ParseEntityName([]any{1, 2, 3}, current, fakeResolver{}, nil); ok {
		t.Fatal("expected failure for non-string first element")
	}
}
