package hashinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateValidation(t *testing.T) {
	sha1hex := "0123456789abcdef0123456789abcdef01234567a" // 41 chars -> invalid
	if _, err := Create(GitSHA1, sha1hex, false); err == nil {
		t.Fatal("expected error for wrong-length sha1 hex")
	}

	validSha1 := "0123456789abcdef0123456789abcdef01234567"[:40]
	if _, err := Create(GitSHA1, validSha1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	validSha256 := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if len(validSha256) != 64 {
		t.Fatalf("test fixture bug: len=%d", len(validSha256))
	}
	if _, err := Create(PlainSHA256, validSha256, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Create(PlainSHA256, validSha256, true); err == nil {
		t.Fatal("expected error: is_tree is illegal under PlainSHA256")
	}

	if _, err := Create(GitSHA1, "not-hex-at-all-0000000000000000000000", false); err == nil {
		t.Fatal("expected error for non-hex characters")
	}
}

func TestHashDataGitBlobFraming(t *testing.T) {
	// Git's empty blob has a well-known SHA1.
	info := HashData(GitSHA1, nil, false)
	const wantEmptyBlob = "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"
	if info.Hash() != wantEmptyBlob {
		t.Fatalf("empty blob hash = %s, want %s", info.Hash(), wantEmptyBlob)
	}
	if info.IsTree() {
		t.Fatal("blob must not be marked as tree")
	}
}

func TestHashDataPlainSHA256ForcesNonTree(t *testing.T) {
	info := HashData(PlainSHA256, []byte("hello"), true)
	if info.IsTree() {
		t.Fatal("PlainSHA256 must never report is_tree=true")
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	content := []byte("hello world")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	info, size, err := HashFile(GitSHA1, path, false)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
	direct := HashData(GitSHA1, content, false)
	if info.Hash() != direct.Hash() {
		t.Fatalf("HashFile/HashData mismatch: %s vs %s", info.Hash(), direct.Hash())
	}
}
