package bazel

import "testing"

func TestJSONCodecRoundTrip(t *testing.T) {
	req := executeRequest{
		InstanceName: "main",
		Command:      []string{"/bin/sh", "-c", "echo hi"},
		Env:          map[string]string{"FOO": "bar"},
		OutputFiles:  []string{"out.txt"},
	}
	data, err := jsonMarshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var got executeRequest
	if err := jsonUnmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.InstanceName != req.InstanceName || len(got.Command) != len(req.Command) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
	if got.Env["FOO"] != "bar" {
		t.Fatalf("env not preserved: %+v", got.Env)
	}
}

func TestHashInfoFromWire(t *testing.T) {
	hi, err := hashInfoFromWire("62183d7a696acf7e69e218efc82c93135f8c85f8", true)
	if err != nil {
		t.Fatal(err)
	}
	if !hi.IsTree() {
		t.Fatal("expected tree hash info")
	}

	if _, err := hashInfoFromWire("not-hex", false); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
