package expression

// Configuration is the immutable environment mapping string keys to
// Expression values described in spec.md §3: "The configuration is what
// distinguishes two analyses of the same entity." Update returns a new
// Configuration sharing the receiver's entries except for the given key.
type Configuration struct {
	vars map[string]Value
}

func NewConfiguration(vars map[string]Value) Configuration {
	cp := make(map[string]Value, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return Configuration{vars: cp}
}

func (c Configuration) Get(key string) (Value, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Update returns a new Configuration with key bound to value, leaving c
// unmodified.
func (c Configuration) Update(key string, value Value) Configuration {
	cp := make(map[string]Value, len(c.vars)+1)
	for k, v := range c.vars {
		cp[k] = v
	}
	cp[key] = value
	return Configuration{vars: cp}
}

// Prune returns a new Configuration containing only the given keys,
// matching how a rule's expression sees just its declared config_vars.
func (c Configuration) Prune(keys []string) Configuration {
	cp := make(map[string]Value, len(keys))
	for _, k := range keys {
		if v, ok := c.vars[k]; ok {
			cp[k] = v
		}
	}
	return Configuration{vars: cp}
}

// SortedKeys returns the configuration's keys in sorted order, for
// deterministic cache-key derivation over a Configuration.
func (c Configuration) SortedKeys() []string {
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// AsValue projects the configuration as a Map expression value, sorted by
// key, for hashing/serialization.
func (c Configuration) AsValue() Value {
	m := make(map[string]Value, len(c.vars))
	for k, v := range c.vars {
		m[k] = v
	}
	return Map(m)
}
