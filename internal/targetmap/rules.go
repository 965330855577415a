package targetmap

import (
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/repoconfig"
)

// op builds an operator-node Value: a Map whose "type" key names the
// operator, evaluated specially by expression.Evaluate (builtin operators)
// or by evalContext.extra (the rule-evaluation operators of spec.md §4.6).
func op(typ string, fields map[string]expression.Value) expression.Value {
	m := make(map[string]expression.Value, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m["type"] = expression.String(typ)
	return expression.Map(m)
}

func field(name string) expression.Value {
	return op("FIELD", map[string]expression.Value{"name": expression.String(name)})
}

func depArtifacts(fieldName string) expression.Value {
	return op("DEP_ARTIFACTS", map[string]expression.Value{"field": expression.String(fieldName)})
}

func depRunfiles(fieldName string) expression.Value {
	return op("DEP_RUNFILES", map[string]expression.Value{"field": expression.String(fieldName)})
}

// BuiltinRule resolves one of the five rule kinds spec.md §4.6 requires
// every repository to have available without a user definition. Each is
// expressed as an ordinary *repoconfig.UserRule whose Expression is built
// from the same ACTION/INSTALL/FILE_GEN/SYMLINK/RESULT operators a
// project-defined rule would use, grounded on original_source's
// target_map.{hpp,cpp} description of the built-in rule set.
func BuiltinRule(name string) (*repoconfig.UserRule, bool) {
	switch name {
	case "generic":
		return genericRule(), true
	case "install":
		return installRule(), true
	case "file_gen":
		return fileGenRule(), true
	case "symlink":
		return symlinkRule(), true
	case "configure":
		return configureRule(), true
	default:
		return nil, false
	}
}

// genericRule runs an arbitrary command over its dependencies' merged
// artifacts, exposing the declared outs/out_dirs as the result.
func genericRule() *repoconfig.UserRule {
	return &repoconfig.UserRule{
		StringFields: []string{"cmds", "outs", "out_dirs"},
		ConfigFields: []string{"env", "execution_properties", "may_fail", "no_cache", "timeout_scale"},
		TargetFields: []string{"deps"},
		Expression: op("RESULT", map[string]expression.Value{
			"artifacts": op("ACTION", map[string]expression.Value{
				"cmd":                  field("cmds"),
				"outs":                 field("outs"),
				"out_dirs":             field("out_dirs"),
				"env":                  field("env"),
				"execution_properties": field("execution_properties"),
				"may_fail":             field("may_fail"),
				"no_cache":             field("no_cache"),
				"timeout_scale":        field("timeout_scale"),
				"inputs":               depArtifacts("deps"),
			}),
			"runfiles": depRunfiles("deps"),
		}),
	}
}

// installRule re-stages its dependencies' merged artifacts unchanged,
// validating that the result has no stage conflicts.
func installRule() *repoconfig.UserRule {
	return &repoconfig.UserRule{
		TargetFields: []string{"deps"},
		Expression: op("RESULT", map[string]expression.Value{
			"artifacts": op("INSTALL", map[string]expression.Value{
				"inputs": depArtifacts("deps"),
			}),
			"runfiles": depRunfiles("deps"),
		}),
	}
}

// fileGenRule materialises literal string content as a single artifact.
func fileGenRule() *repoconfig.UserRule {
	return &repoconfig.UserRule{
		StringFields: []string{"name", "data"},
		ConfigFields: []string{"executable"},
		Expression: op("RESULT", map[string]expression.Value{
			"artifacts": op("FILE_GEN", map[string]expression.Value{
				"name":       field("name"),
				"data":       field("data"),
				"executable": field("executable"),
			}),
		}),
	}
}

// symlinkRule materialises a symbolic link pointing at a literal,
// validated relative target.
func symlinkRule() *repoconfig.UserRule {
	return &repoconfig.UserRule{
		StringFields: []string{"name", "target"},
		Expression: op("RESULT", map[string]expression.Value{
			"artifacts": op("SYMLINK", map[string]expression.Value{
				"name":   field("name"),
				"target": field("target"),
			}),
		}),
	}
}

// configureRule re-analyses its "target" field under the configuration
// deltas named by its "config" field (a list of variable-update maps),
// passing the re-analysed target's artifacts/runfiles through unchanged.
// This is the built-in's only use of config_transitions, and is why it is
// modelled as a rule rather than an expression operator: re-invoking a
// target under a different configuration needs the target map's own
// recursive dependency-resolution machinery, not a standalone pure
// expression builtin.
func configureRule() *repoconfig.UserRule {
	return &repoconfig.UserRule{
		TargetFields: []string{"target"},
		ConfigFields: []string{"config"},
		ConfigTransitions: map[string]expression.Value{
			"target": field("config"),
		},
		Expression: op("RESULT", map[string]expression.Value{
			"artifacts": depArtifacts("target"),
			"runfiles":  depRunfiles("target"),
		}),
	}
}
