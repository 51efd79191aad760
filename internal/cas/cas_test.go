package cas

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/ed25519"
)

func TestChunksSplitsExactAndShortLast(t *testing.T) {
	data := bytes.Repeat([]byte("a"), ChunkBytes*2+5)
	chunks := Chunks(data)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2]) != 5 {
		t.Fatalf("expected short last chunk of 5 bytes, got %d", len(chunks[2]))
	}
}

func TestVerifyAcceptsValidSignedBundle(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data := bytes.Repeat([]byte("x"), ChunkBytes*3+1)
	m := BuildManifest(data)
	m.Signature = Sign(priv, data)

	if err := Verify(pub, Chunks(data), m); err != nil {
		t.Fatalf("expected valid bundle to verify: %v", err)
	}
}

func TestVerifyRejectsTamperedChunk(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	data := bytes.Repeat([]byte("x"), ChunkBytes*2)
	m := BuildManifest(data)
	m.Signature = Sign(priv, data)

	chunks := Chunks(data)
	chunks[0][0] ^= 0xff

	if err := Verify(pub, chunks, m); err == nil {
		t.Fatal("expected tampered chunk to fail verification")
	}
}

func TestVerifyRejectsLengthMismatch(t *testing.T) {
	data := bytes.Repeat([]byte("x"), ChunkBytes)
	m := BuildManifest(data)
	m.TotalLength = ChunkBytes * 2

	if err := Verify(nil, Chunks(data), m); err == nil {
		t.Fatal("expected length mismatch to fail verification")
	}
}
