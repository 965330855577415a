package bazel

import (
	"encoding/json"
	"fmt"

	"github.com/buildforge/justb/internal/hashinfo"
)

func jsonMarshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bazel: marshal %T: %w", v, err)
	}
	return data, nil
}

func jsonUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bazel: unmarshal into %T: %w", v, err)
	}
	return nil
}

// hashInfoFromWire builds a HashInfo for a hash reported by the remote
// server. Remote outputs are always the engine's Git-SHA1 family in this
// backend: PlainSHA256 instances never dispatch to a REv2-shaped backend,
// since remote action caches in this corpus are keyed on Git object ids.
func hashInfoFromWire(hash string, isTree bool) (hashinfo.HashInfo, error) {
	return hashinfo.Create(hashinfo.GitSHA1, hash, isTree)
}
