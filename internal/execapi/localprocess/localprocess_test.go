package localprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/execapi"
	"github.com/buildforge/justb/internal/hashinfo"
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

func noResolve(d artifact.Digest) ([]byte, error) {
	return nil, os.ErrNotExist
}

func TestExecuteRunsCommandAndCollectsOutput(t *testing.T) {
	b := New(noResolve)
	result, err := b.Execute(context.Background(), execapi.Action{
		ID:          "a1",
		Command:     []string{"sh", "-c", "echo hi > out.txt"},
		OutputFiles: []string{"out.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	info, ok := result.Outputs["out.txt"]
	if !ok {
		t.Fatal("expected out.txt in outputs")
	}
	if info.Digest.Size() != int64(len("hi\n")) {
		t.Fatalf("size = %d, want %d", info.Digest.Size(), len("hi\n"))
	}
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	b := New(noResolve)
	result, err := b.Execute(context.Background(), execapi.Action{
		ID:      "a2",
		Command: []string{"sh", "-c", "exit 7"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", result.ExitCode)
	}
}

func TestExecuteMissingMandatoryOutputFails(t *testing.T) {
	b := New(noResolve)
	_, err := b.Execute(context.Background(), execapi.Action{
		ID:          "a3",
		Command:     []string{"sh", "-c", "true"},
		OutputFiles: []string{"missing.txt"},
	})
	if err == nil {
		t.Fatal("expected error for missing declared output")
	}
}

func TestExecuteStagesInputContent(t *testing.T) {
	const content = "source content"
	digest := artifact.NewDigest(hashinfo.HashData(hashinfo.GitSHA1, []byte(content), false), int64(len(content)))
	resolve := func(d artifact.Digest) ([]byte, error) {
		if d.Equal(digest) {
			return []byte(content), nil
		}
		return nil, os.ErrNotExist
	}

	b := New(resolve)
	result, err := b.Execute(context.Background(), execapi.Action{
		ID:      "a4",
		Command: []string{"sh", "-c", "cp in.txt out.txt"},
		Inputs: map[string]artifact.ObjectInfo{
			"in.txt": {Digest: digest, Type: artifact.File},
		},
		OutputFiles: []string{"out.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	info, ok := result.Outputs["out.txt"]
	if !ok {
		t.Fatal("expected out.txt in outputs")
	}
	if info.Digest.Size() != int64(len(content)) {
		t.Fatalf("size = %d, want %d", info.Digest.Size(), len(content))
	}
}
