package cryptoutil

import "testing"

func TestSHA256Hex(t *testing.T) {
	// known vector for the empty string
	if got := SHA256Hex(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("SHA256Hex(nil) = %s", got)
	}
	if got := SHA256Hex([]byte("abc")); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("SHA256Hex(abc) = %s", got)
	}
}

func TestHashEqual(t *testing.T) {
	a := SHA256Hex([]byte("dataset"))
	if !HashEqual(a, a) {
		t.Fatal("identical hashes should compare equal")
	}
	if HashEqual(a, SHA256Hex([]byte("other"))) {
		t.Fatal("different hashes should not compare equal")
	}
	if HashEqual(a, a[:32]) {
		t.Fatal("different-length inputs should not compare equal")
	}
}
