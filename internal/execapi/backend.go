package execapi

import (
	"fmt"
	"sort"
	"strings"
)

// DispatchEndpoint routes actions matching a set of execution properties to
// a specific remote address, mirroring remote_common.hpp's DispatchEndpoint.
type DispatchEndpoint struct {
	Properties map[string]string
	Address    string
}

// BackendDescription stamps an execution backend's identity into the
// action-cache namespace, so results computed against one backend are never
// served to a build targeting a different one. Grounded on
// storage/backend_description.{hpp,cpp}.
type BackendDescription struct {
	Address    string
	Properties map[string]string
	Dispatch   []DispatchEndpoint
}

// Describe renders a canonical, deterministically-ordered string
// representation of the backend, suitable for hashing into a cache-key
// namespace component.
func Describe(d BackendDescription) (string, error) {
	var b strings.Builder
	if d.Address == "" {
		b.WriteString("local")
	} else {
		fmt.Fprintf(&b, "remote(%s)", d.Address)
	}

	for _, k := range sortedKeys(d.Properties) {
		fmt.Fprintf(&b, ";prop:%s=%s", k, d.Properties[k])
	}

	for _, ep := range d.Dispatch {
		fmt.Fprintf(&b, ";dispatch:%s->", ep.Address)
		for _, k := range sortedKeys(ep.Properties) {
			fmt.Fprintf(&b, "%s=%s,", k, ep.Properties[k])
		}
	}
	return b.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
