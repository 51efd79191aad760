// Package cas verifies content-addressed update bundles staged under
// /updates/<epoch>/ (spec §6 "CAS update layout"): fixed-size chunks, a
// manifest declaring total length and chunk count, and an optional
// Ed25519 signature over the chunk set's Merkle root.
package cas

import (
	"crypto/sha256"

	"golang.org/x/crypto/ed25519"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// ChunkBytes is the fixed chunk size the manifest layout uses (spec §6:
// "128-byte chunks").
const ChunkBytes = 128

// Manifest describes one staged update bundle.
type Manifest struct {
	TotalLength int
	ChunkCount  int
	Signature   []byte // optional Ed25519 signature of the Merkle root
}

// Chunks splits data into fixed ChunkBytes-sized pieces, the last one
// short if data isn't an exact multiple.
func Chunks(data []byte) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := ChunkBytes
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// BuildManifest describes the chunk set for data, without signing it.
func BuildManifest(data []byte) Manifest {
	chunks := Chunks(data)
	return Manifest{TotalLength: len(data), ChunkCount: len(chunks)}
}

// MerkleRoot computes the root of a binary Merkle tree over chunks,
// each leaf hashed individually and each internal node the hash of its
// two children's concatenated digests (an odd node at any level is
// promoted unchanged, the conventional Merkle tree padding rule).
func MerkleRoot(chunks [][]byte) []byte {
	if len(chunks) == 0 {
		h := sha256.Sum256(nil)
		return h[:]
	}

	level := make([][]byte, len(chunks))
	for i, c := range chunks {
		h := sha256.Sum256(c)
		level[i] = h[:]
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			combined := append(append([]byte{}, level[i]...), level[i+1]...)
			h := sha256.Sum256(combined)
			next = append(next, h[:])
		}
		level = next
	}
	return level[0]
}

// Sign produces the Ed25519 signature of data's Merkle root under priv.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	root := MerkleRoot(Chunks(data))
	return ed25519.Sign(priv, root)
}

// Verify validates a reassembled update bundle against its manifest: the
// reassembled length and chunk count must match, and if the manifest
// carries a signature it must verify against the Merkle root under pub
// (spec §6: "manifest line with total length, chunk count, and optional
// Ed25519 signature of the Merkle root").
func Verify(pub ed25519.PublicKey, chunks [][]byte, m Manifest) error {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != m.TotalLength {
		return coherr.New(coherr.EINVAL, "reassembled length %d does not match manifest %d", total, m.TotalLength)
	}
	if len(chunks) != m.ChunkCount {
		return coherr.New(coherr.EINVAL, "chunk count %d does not match manifest %d", len(chunks), m.ChunkCount)
	}
	if len(m.Signature) == 0 {
		return nil
	}
	root := MerkleRoot(chunks)
	if !ed25519.Verify(pub, root, m.Signature) {
		return coherr.New(coherr.EPERM, "merkle root signature verification failed")
	}
	return nil
}
