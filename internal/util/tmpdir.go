package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempDir creates a fresh scratch directory under root/tmp, used for
// assembling action input trees and staging downloaded blobs before they are
// committed into the CAS. Callers are responsible for removing it once done.
func TempDir(root, prefix string) (string, error) {
	base := filepath.Join(root, "tmp")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create tmp root %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, prefix+"-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir under %s: %w", base, err)
	}
	return dir, nil
}
