package main

import (
	"fmt"
	"strings"

	"github.com/buildforge/justb/internal/entityname"
)

// parseTargetArg parses a CLI-convenience target string of the form
// "//module:name" or "module:name" (an optional leading "//" is accepted
// and ignored) into an EntityName of repo. "." names the workspace root
// module, matching spec.md §3's convention.
func parseTargetArg(repo, s string) (entityname.EntityName, error) {
	s = strings.TrimPrefix(s, "//")
	module, name, ok := strings.Cut(s, ":")
	if !ok {
		return entityname.EntityName{}, fmt.Errorf("target %q must be of the form module:name", s)
	}
	if module == "" {
		module = "."
	}
	if name == "" {
		return entityname.EntityName{}, fmt.Errorf("target %q has an empty name", s)
	}
	return entityname.NewNamedTarget(repo, module, name), nil
}
