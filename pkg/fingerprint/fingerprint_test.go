package fingerprint

import "testing"

func TestSumIsDeterministic(t *testing.T) {
	a := Sum([]byte("era"), []byte{5})
	b := Sum([]byte("era"), []byte{5})
	if a != b {
		t.Error("expected identical inputs to produce identical digests")
	}
}

func TestSumDistinguishesInputs(t *testing.T) {
	a := Sum([]byte("stash-1"))
	b := Sum([]byte("stash-2"))
	if a == b {
		t.Error("expected different inputs to produce different digests")
	}
}

func TestBytesReturnsFullDigest(t *testing.T) {
	d := Sum([]byte("x"))
	if len(d.Bytes()) != Size {
		t.Errorf("expected %d bytes, got %d", Size, len(d.Bytes()))
	}
}
