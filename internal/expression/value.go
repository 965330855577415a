// Package expression implements the purely functional Expression sum type
// of spec.md §3 (None, Bool, Number, String, List, Map, Name, Result,
// Artifact) and its evaluator, grounded on original_source's
// build_engine/base_maps/expression_map.hpp and the expression semantics
// described in spec.md §4.4/§4.6. The full justbuild expression-language
// operator set is large; this port implements the functional core (var
// lookup, conditionals, list/map combinators) needed to evaluate user-rule
// expressions against a Configuration, documented as a deliberate
// simplification in DESIGN.md.
package expression

import (
	"fmt"
	"sort"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/entityname"
)

type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
	KindName
	KindResult
	KindArtifact
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindName:
		return "name"
	case KindResult:
		return "result"
	case KindArtifact:
		return "artifact"
	default:
		return "none"
	}
}

// Result bundles the three expression-maps produced by a RESULT{...}
// constructor, per spec.md §3 Analysed Target / §4.6 step 3.
type Result struct {
	Artifacts Value
	Runfiles  Value
	Provides  Value
}

// Value is the immutable Expression sum type of spec.md §3. Exactly one
// field group is meaningful, gated by Kind. A Value doubles as both a fully
// evaluated result and, before evaluation, the raw AST node: a Map whose
// "type" key names a built-in operator is evaluated specially by Evaluate.
type Value struct {
	kind Kind

	boolean bool
	number  float64
	str     string
	list    []Value
	dict    map[string]Value

	name     entityname.EntityName
	result   *Result
	artifact artifact.Description
}

func None() Value                { return Value{kind: KindNone} }
func Bool(b bool) Value          { return Value{kind: KindBool, boolean: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, number: n} }
func String(s string) Value      { return Value{kind: KindString, str: s} }
func List(items []Value) Value   { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, dict: m}
}
func NameOf(n entityname.EntityName) Value  { return Value{kind: KindName, name: n} }
func ResultOf(r Result) Value               { return Value{kind: KindResult, result: &r} }
func ArtifactOf(d artifact.Description) Value { return Value{kind: KindArtifact, artifact: d} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNone() bool { return v.kind == KindNone }
func (v Value) IsList() bool { return v.kind == KindList }
func (v Value) IsMap() bool  { return v.kind == KindMap }
func (v Value) IsString() bool { return v.kind == KindString }

func (v Value) Bool() bool   { return v.boolean }
func (v Value) Number() float64 { return v.number }
func (v Value) String() string {
	if v.kind == KindString {
		return v.str
	}
	if v.kind == KindNone {
		return ""
	}
	return fmt.Sprintf("%v", v.Raw())
}
func (v Value) List() []Value            { return v.list }
func (v Value) Map() map[string]Value    { return v.dict }
func (v Value) Name() entityname.EntityName { return v.name }
func (v Value) ResultValue() Result {
	if v.result == nil {
		return Result{}
	}
	return *v.result
}
func (v Value) Artifact() artifact.Description { return v.artifact }

// SortedKeys returns dict's keys in sorted order, matching justbuild's
// canonical (sorted) map-key iteration order.
func (v Value) SortedKeys() []string {
	keys := make([]string, 0, len(v.dict))
	for k := range v.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get looks up key in a Map value.
func (v Value) Get(key string) (Value, bool) {
	val, ok := v.dict[key]
	return val, ok
}

// Raw renders v as a plain Go value (for diagnostics / ToString).
func (v Value) Raw() any {
	switch v.kind {
	case KindBool:
		return v.boolean
	case KindNumber:
		return v.number
	case KindString:
		return v.str
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Raw()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.dict))
		for k, e := range v.dict {
			out[k] = e.Raw()
		}
		return out
	case KindName:
		return v.name.String()
	default:
		return nil
	}
}

// Equal performs structural equality, used by map-dedup and tests.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.boolean == other.boolean
	case KindNumber:
		return v.number == other.number
	case KindString:
		return v.str == other.str
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.dict) != len(other.dict) {
			return false
		}
		for k, val := range v.dict {
			ov, ok := other.dict[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	case KindName:
		return v.name == other.name
	case KindArtifact:
		return v.artifact.Equal(other.artifact)
	default:
		return false
	}
}

// FromJSON decodes a Go value produced by encoding/json.Unmarshal into
// *any (map[string]any / []any / string / float64 / bool / nil) into a
// Value, preserving Map/List structure without interpreting "type"-tagged
// operator nodes — that happens lazily in Evaluate.
func FromJSON(v any) Value {
	switch x := v.(type) {
	case nil:
		return None()
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = FromJSON(e)
		}
		return List(items)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromJSON(e)
		}
		return Map(m)
	default:
		return None()
	}
}
