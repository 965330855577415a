package targetmap

import (
	"testing"

	"github.com/buildforge/justb/internal/hashinfo"
)

func TestComputeActionIDDeterministic(t *testing.T) {
	d := actionDescriptor{
		Command:     []string{"cc", "-c", "a.c"},
		Inputs:      map[string]string{"a.c": "K:file:abc"},
		OutputFiles: []string{"a.o"},
		OutputDirs:  []string{},
	}
	id1 := computeActionID(hashinfo.GitSHA1, d)
	id2 := computeActionID(hashinfo.GitSHA1, actionDescriptor{
		Command:     []string{"cc", "-c", "a.c"},
		Inputs:      map[string]string{"a.c": "K:file:abc"},
		OutputFiles: []string{"a.o"},
		OutputDirs:  []string{},
	})
	if id1 != id2 {
		t.Fatalf("expected identical descriptors to hash the same, got %q and %q", id1, id2)
	}
}

func TestComputeActionIDOutputOrderIndependent(t *testing.T) {
	base := actionDescriptor{Command: []string{"x"}, OutputFiles: []string{"a", "b"}}
	reordered := actionDescriptor{Command: []string{"x"}, OutputFiles: []string{"b", "a"}}
	if computeActionID(hashinfo.GitSHA1, base) != computeActionID(hashinfo.GitSHA1, reordered) {
		t.Fatal("expected output-file order not to affect the action id")
	}
}

func TestComputeActionIDChangesWithCommand(t *testing.T) {
	a := computeActionID(hashinfo.GitSHA1, actionDescriptor{Command: []string{"cc"}})
	b := computeActionID(hashinfo.GitSHA1, actionDescriptor{Command: []string{"clang"}})
	if a == b {
		t.Fatal("expected different commands to hash differently")
	}
}
