package artifact

import (
	"testing"

	"github.com/buildforge/justb/internal/hashinfo"
)

func TestDescriptionRoundTrip(t *testing.T) {
	hi, err := hashinfo.Create(hashinfo.GitSHA1, "0123456789abcdef0123456789abcdef01234567", false)
	if err != nil {
		t.Fatal(err)
	}
	digest := NewDigest(hi, 42)

	cases := []Description{
		NewLocalDescription("", "src/main.go"),
		NewLocalDescription("other_repo", "lib/util.go"),
		NewKnownDescription(digest, File),
		NewKnownDescription(digest, Symlink),
		NewActionDescription("act-1", "out/bin"),
		NewTreeDescription("deadbeef"),
	}

	for _, want := range cases {
		data, err := want.ToJSON()
		if err != nil {
			t.Fatalf("ToJSON: %v", err)
		}
		got, err := FromJSON(data)
		if err != nil {
			t.Fatalf("FromJSON(%s): %v", data, err)
		}
		if !got.Equal(want) {
			t.Fatalf("round-trip mismatch: got %+v, want %+v (json=%s)", got, want, data)
		}
	}
}
