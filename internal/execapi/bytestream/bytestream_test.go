package bytestream

import (
	"testing"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/hashinfo"
)

// TestByteStreamPathRoundTrip implements scenario F from spec.md §8.
func TestByteStreamPathRoundTrip(t *testing.T) {
	const hash = "62183d7a696acf7e69e218efc82c93135f8c85f8"
	const size = int64(4424712)

	hi, err := hashinfo.Create(hashinfo.GitSHA1, hash, false)
	if err != nil {
		t.Fatal(err)
	}
	digest := artifact.NewDigest(hi, size)

	read := NewReadRequest("inst", digest)
	wantRead := "inst/blobs/" + hash + "/4424712"
	if got := read.String(); got != wantRead {
		t.Fatalf("ReadRequest.String() = %q, want %q", got, wantRead)
	}

	parsedRead, err := ParseReadRequest(wantRead)
	if err != nil {
		t.Fatal(err)
	}
	if parsedRead.InstanceName != "inst" || parsedRead.Hash != hash || parsedRead.Size != size {
		t.Fatalf("ParseReadRequest = %+v", parsedRead)
	}

	const uuidStr = "c4f03510-7d56-4490-8934-01bce1b1288e"
	write := WriteRequest{InstanceName: "inst", UUID: uuidStr, Hash: hash, Size: size}
	wantWrite := "inst/uploads/" + uuidStr + "/blobs/" + hash + "/4424712"
	if got := write.String(); got != wantWrite {
		t.Fatalf("WriteRequest.String() = %q, want %q", got, wantWrite)
	}

	parsedWrite, err := ParseWriteRequest(wantWrite)
	if err != nil {
		t.Fatal(err)
	}
	if parsedWrite != write {
		t.Fatalf("ParseWriteRequest = %+v, want %+v", parsedWrite, write)
	}
}

func TestParseReadRequestRejectsMalformed(t *testing.T) {
	cases := []string{
		"inst/blobs/abc",
		"inst/uploads/abc/123",
		"inst/blobs/abc/not-a-number",
		"",
	}
	for _, c := range cases {
		if _, err := ParseReadRequest(c); err == nil {
			t.Errorf("ParseReadRequest(%q) unexpectedly succeeded", c)
		}
	}
}
