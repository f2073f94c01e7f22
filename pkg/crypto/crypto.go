// Package crypto implements the chain's primitive types: 32-byte ed25519
// public keys, 64-byte signatures and 32-byte SHA-256 digests.
package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	sha256simd "github.com/minio/sha256-simd"
)

const (
	// PublicKeySize is the size in bytes of an ed25519 public key, used
	// for both ValidatorId and Address.
	PublicKeySize = ed25519.PublicKeySize
	// SignatureSize is the size in bytes of an ed25519 signature.
	SignatureSize = ed25519.SignatureSize
	// DigestSize is the size in bytes of a SHA-256 digest.
	DigestSize = sha256simd.Size
)

// PublicKey is a 32-byte ed25519 public key, used both as a ValidatorId
// and as an Address.
type PublicKey [PublicKeySize]byte

// Signature is a 64-byte ed25519 signature.
type Signature [SignatureSize]byte

// Digest is a 32-byte SHA-256 digest, used for BlockHash, TxHash,
// EvidenceHash and StateRoot.
type Digest [DigestSize]byte

// ZeroDigest is the Merkle root of an empty transaction sequence.
var ZeroDigest Digest

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }
func (s Signature) String() string { return hex.EncodeToString(s[:]) }
func (d Digest) String() string    { return hex.EncodeToString(d[:]) }

// Bytes returns the key's byte slice view.
func (k PublicKey) Bytes() []byte { return k[:] }

// Bytes returns the digest's byte slice view.
func (d Digest) Bytes() []byte { return d[:] }

// Less orders public keys lexicographically, used for active-set tie
// breaking.
func (k PublicKey) Less(other PublicKey) bool {
	for i := range k {
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return false
}

// ParsePublicKey decodes a hex-encoded 32-byte public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("crypto: decode public key: %w", err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("crypto: public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// ParseDigest decodes a hex-encoded 32-byte digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("crypto: decode digest: %w", err)
	}
	if len(b) != DigestSize {
		return d, fmt.Errorf("crypto: digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Sum256 returns the SHA-256 digest of the concatenation of parts.
func Sum256(parts ...[]byte) Digest {
	h := sha256simd.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// KeyPair is an ed25519 secret/public key pair used to sign transactions
// and votes.
type KeyPair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 key pair, as used by the
// `keygen` CLI command.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	kp := &KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeyPairFromSeed reconstructs a key pair from a 32-byte secret seed, the
// format emitted by `keygen --output FILE`.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &KeyPair{private: priv}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Seed returns the 32-byte secret seed backing this key pair.
func (kp *KeyPair) Seed() []byte {
	return append([]byte(nil), kp.private.Seed()...)
}

// Sign signs a digest, returning a 64-byte signature.
func (kp *KeyPair) Sign(digest Digest) Signature {
	raw := ed25519.Sign(kp.private, digest[:])
	var sig Signature
	copy(sig[:], raw)
	return sig
}

// Verify checks that sig is a valid ed25519 signature over digest under
// public key pk.
func Verify(pk PublicKey, digest Digest, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), digest[:], sig[:])
}

// MerkleRoot computes the Merkle root of an ordered sequence of leaf
// digests. An empty sequence yields the zero digest. Internal nodes are
// SHA-256(left || right); an odd node at a level is promoted unhashed to
// the next level (duplicate-free, Bitcoin-style odd carry is avoided by
// the direct promotion per spec §3/§8).
func MerkleRoot(leaves []Digest) Digest {
	if len(leaves) == 0 {
		return ZeroDigest
	}
	level := make([]Digest, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, Sum256(level[i][:], level[i+1][:]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
