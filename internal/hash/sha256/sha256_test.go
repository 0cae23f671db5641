package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.Hash([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestHasherETag(t *testing.T) {
	t.Parallel()

	h := New()
	if got := h.ETag(nil); got != "" {
		t.Fatalf("expected no tag for empty input, got %q", got)
	}
	got := h.ETag([]byte("hello world"))
	if got != `"b94d27b9934d3e08a52e52d7da7dabfa"` {
		t.Fatalf("unexpected etag %s", got)
	}
}
