package dochost

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"serde_json": "serde-json",
		"serde-json": "serde-json",
		"Serde_JSON": "serde-json",
		"tokio":      "tokio",
		"A_B_C_D":    "a-b-c-d",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	for _, in := range []string{"foo_bar", "Foo-Bar", "baz"} {
		once := NormalizeName(in)
		twice := NormalizeName(once)
		if once != twice {
			t.Errorf("NormalizeName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestReleaseDocumentsTarget(t *testing.T) {
	r := &Release{DocumentedTargets: []string{"x86_64-unknown-linux-gnu", "aarch64-apple-darwin"}}
	if !r.DocumentsTarget("x86_64-unknown-linux-gnu") {
		t.Error("expected default target to be documented")
	}
	if r.DocumentsTarget("i686-pc-windows-msvc") {
		t.Error("undocumented target reported as documented")
	}
}
