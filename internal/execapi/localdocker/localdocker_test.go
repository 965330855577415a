package localdocker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buildforge/justb/internal/artifact"
)

func TestReadOutputFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.bin"), []byte("result"), 0o755); err != nil {
		t.Fatal(err)
	}
	info, err := readOutput(dir, "out.bin")
	if err != nil {
		t.Fatal(err)
	}
	if info.Type != artifact.Executable {
		t.Fatalf("expected executable output, got %v", info.Type)
	}
	if info.Digest.Size() != int64(len("result")) {
		t.Fatalf("size = %d, want %d", info.Digest.Size(), len("result"))
	}
}

func TestReadOutputDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "outdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	info, err := readOutput(dir, "outdir")
	if err != nil {
		t.Fatal(err)
	}
	if info.Type != artifact.Tree {
		t.Fatalf("expected tree output, got %v", info.Type)
	}
}

func TestReadOutputMissing(t *testing.T) {
	if _, err := readOutput(t.TempDir(), "missing"); err == nil {
		t.Fatal("expected error for missing output")
	}
}
