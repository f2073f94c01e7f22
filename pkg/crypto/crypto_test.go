package crypto

import "testing"

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	digest := Sum256([]byte("hello"))
	sig := kp.Sign(digest)
	if !Verify(kp.Public, digest, sig) {
		t.Fatal("expected signature to verify")
	}
	other := Sum256([]byte("goodbye"))
	if Verify(kp.Public, other, sig) {
		t.Fatal("expected signature over a different digest to fail")
	}
}

func TestKeyPairFromSeedDeterministic(t *testing.T) {
	kp1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	kp2, err := KeyPairFromSeed(kp1.Seed())
	if err != nil {
		t.Fatalf("KeyPairFromSeed: %v", err)
	}
	if kp1.Public != kp2.Public {
		t.Fatal("expected reconstructed key pair to have the same public key")
	}
}

func TestKeyPairFromSeedRejectsWrongLength(t *testing.T) {
	if _, err := KeyPairFromSeed(make([]byte, 16)); err == nil {
		t.Fatal("expected error for undersized seed")
	}
}

func TestParsePublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	parsed, err := ParsePublicKey(kp.Public.String())
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if parsed != kp.Public {
		t.Fatal("round-tripped public key does not match")
	}
}

func TestParsePublicKeyRejectsBadLength(t *testing.T) {
	if _, err := ParsePublicKey("abcd"); err == nil {
		t.Fatal("expected error for short hex string")
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if root := MerkleRoot(nil); root != ZeroDigest {
		t.Fatalf("expected zero digest for empty leaf set, got %s", root)
	}
}

func TestMerkleRootSingleLeafIsItself(t *testing.T) {
	leaf := Sum256([]byte("only"))
	if root := MerkleRoot([]Digest{leaf}); root != leaf {
		t.Fatalf("expected single-leaf root to equal the leaf, got %s vs %s", root, leaf)
	}
}

func TestMerkleRootDeterministic(t *testing.T) {
	leaves := []Digest{Sum256([]byte("a")), Sum256([]byte("b")), Sum256([]byte("c"))}
	r1 := MerkleRoot(leaves)
	r2 := MerkleRoot(leaves)
	if r1 != r2 {
		t.Fatal("expected MerkleRoot to be deterministic over the same leaf set")
	}
	reordered := []Digest{leaves[1], leaves[0], leaves[2]}
	if MerkleRoot(reordered) == r1 {
		t.Fatal("expected a different leaf order to change the root")
	}
}

func TestPublicKeyLess(t *testing.T) {
	a := PublicKey{0x01}
	b := PublicKey{0x02}
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) == false && a.Less(b) == false {
		t.Fatal("Less must be a strict order")
	}
}
