package sha256

import "testing"

func TestPageHasherKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestPageHasherIgnoresLayout(t *testing.T) {
	t.Parallel()

	h := New()
	flat, err := h.Hash([]byte("Wallet SDK Connect wallets in minutes."))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	wrapped, err := h.Hash([]byte("Wallet SDK\n\n  Connect wallets\tin minutes.\n"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if flat != wrapped {
		t.Fatalf("expected layout-only changes to share a digest, got %s vs %s", flat, wrapped)
	}
}

func TestPageHasherDistinguishesText(t *testing.T) {
	t.Parallel()

	h := New()
	first, err := h.Hash([]byte("Connect wallets in minutes."))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	second, err := h.Hash([]byte("Connect wallets in seconds."))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if first == second {
		t.Fatal("expected distinct texts to hash differently")
	}
}
