// Package chain implements the canonical block and transaction types:
// their byte encodings, hashes and signing digests (spec §3).
package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// Height is a monotonic block counter; genesis is height 0.
type Height = uint64

// Round resets to 0 at the start of every height.
type Round = uint32

// Tx is a signed account-to-account transfer carrying an opaque data
// payload (spec §3). The VM is out of scope: data is stored and fee-
// accounted but never interpreted beyond the §4.7 deployer marker.
type Tx struct {
	From      crypto.PublicKey
	To        crypto.PublicKey
	Amount    uint64
	Nonce     uint64
	Signature crypto.Signature
	Data      []byte
}

// SigningDigest returns SHA-256(from || to || amount_le || nonce_le ||
// data), the digest the transaction's signature must verify.
func (t *Tx) SigningDigest() crypto.Digest {
	var amt, nonce [8]byte
	binary.LittleEndian.PutUint64(amt[:], t.Amount)
	binary.LittleEndian.PutUint64(nonce[:], t.Nonce)
	return crypto.Sum256(t.From[:], t.To[:], amt[:], nonce[:], t.Data)
}

// Sign signs the transaction's signing digest with kp, and sets From to
// kp's public key.
func (t *Tx) Sign(kp *crypto.KeyPair) {
	t.From = kp.Public
	t.Signature = kp.Sign(t.SigningDigest())
}

// VerifySignature reports whether Signature is a valid ed25519 signature
// over the signing digest, under From.
func (t *Tx) VerifySignature() bool {
	return crypto.Verify(t.From, t.SigningDigest(), t.Signature)
}

// MarshalCanonical encodes the transaction in its canonical byte layout.
func (t *Tx) MarshalCanonical() []byte {
	buf := make([]byte, 0, 32+32+8+8+64+4+len(t.Data))
	buf = append(buf, t.From[:]...)
	buf = append(buf, t.To[:]...)
	var amt, nonce, dlen [8]byte
	binary.LittleEndian.PutUint64(amt[:], t.Amount)
	binary.LittleEndian.PutUint64(nonce[:], t.Nonce)
	buf = append(buf, amt[:]...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, t.Signature[:]...)
	binary.LittleEndian.PutUint64(dlen[:], uint64(len(t.Data)))
	buf = append(buf, dlen[:]...)
	buf = append(buf, t.Data...)
	return buf
}

// UnmarshalCanonicalTx decodes a Tx from its canonical byte layout.
func UnmarshalCanonicalTx(b []byte) (*Tx, error) {
	const fixed = 32 + 32 + 8 + 8 + 64 + 8
	if len(b) < fixed {
		return nil, fmt.Errorf("chain: tx encoding too short: %d bytes", len(b))
	}
	t := &Tx{}
	off := 0
	copy(t.From[:], b[off:off+32])
	off += 32
	copy(t.To[:], b[off:off+32])
	off += 32
	t.Amount = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	t.Nonce = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	copy(t.Signature[:], b[off:off+64])
	off += 64
	dlen := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	if uint64(len(b)-off) < dlen {
		return nil, fmt.Errorf("chain: tx data length mismatch")
	}
	t.Data = append([]byte(nil), b[off:off+int(dlen)]...)
	return t, nil
}

// Hash returns tx_hash = SHA-256(canonical_encoding(tx)).
func (t *Tx) Hash() crypto.Digest {
	return crypto.Sum256(t.MarshalCanonical())
}

// GasUsed returns the default deterministic gas cost of the transaction:
// 21000 + 68*|data| (spec §4.2, genesis-configurable).
func GasUsed(t *Tx, perByteGas uint64, baseGas uint64) uint64 {
	return baseGas + perByteGas*uint64(len(t.Data))
}

// DeployMarker is the 2-byte prefix (spec §4.7) that flags a tx's Data
// payload as a contract deployment.
var DeployMarker = [2]byte{0xC0, 0xDE}

// IsContractDeployment reports whether tx carries the deployment marker.
func (t *Tx) IsContractDeployment() bool {
	return len(t.Data) >= 2 && t.Data[0] == DeployMarker[0] && t.Data[1] == DeployMarker[1]
}
