// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

const helloWorldDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != helloWorldDigest {
		t.Fatalf("expected %s, got %s", helloWorldDigest, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestHasherHashEmpty(t *testing.T) {
	t.Parallel()

	got, err := New().Hash(nil)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
