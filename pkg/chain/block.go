package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// Header is the fixed-layout block header (spec §3).
type Header struct {
	Height        Height
	TimestampUnix uint64
	ParentHash    crypto.Digest
	Proposer      crypto.PublicKey
	StateRoot     crypto.Digest
	TxMerkleRoot  crypto.Digest
}

// MarshalCanonical encodes the header in its canonical byte layout.
func (h *Header) MarshalCanonical() []byte {
	buf := make([]byte, 0, 8+8+32+32+32+32)
	var height, ts [8]byte
	binary.LittleEndian.PutUint64(height[:], h.Height)
	binary.LittleEndian.PutUint64(ts[:], h.TimestampUnix)
	buf = append(buf, height[:]...)
	buf = append(buf, ts[:]...)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, h.Proposer[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.TxMerkleRoot[:]...)
	return buf
}

// UnmarshalCanonicalHeader decodes a Header from its canonical byte
// layout.
func UnmarshalCanonicalHeader(b []byte) (*Header, error) {
	const size = 8 + 8 + 32 + 32 + 32 + 32
	if len(b) != size {
		return nil, fmt.Errorf("chain: header encoding must be %d bytes, got %d", size, len(b))
	}
	h := &Header{}
	off := 0
	h.Height = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	h.TimestampUnix = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	copy(h.ParentHash[:], b[off:off+32])
	off += 32
	copy(h.Proposer[:], b[off:off+32])
	off += 32
	copy(h.StateRoot[:], b[off:off+32])
	off += 32
	copy(h.TxMerkleRoot[:], b[off:off+32])
	return h, nil
}

// Hash returns block_hash = SHA-256(canonical_encoding(header)).
func (h *Header) Hash() crypto.Digest {
	return crypto.Sum256(h.MarshalCanonical())
}

// Block is a header plus its ordered transaction sequence.
type Block struct {
	Header Header
	Txs    []*Tx
}

// Hash returns the block's hash, which is its header's hash.
func (b *Block) Hash() crypto.Digest { return b.Header.Hash() }

// ComputeTxMerkleRoot recomputes the Merkle root over the block's
// transaction hashes in inclusion order and writes it into the header.
func (b *Block) ComputeTxMerkleRoot() crypto.Digest {
	leaves := make([]crypto.Digest, len(b.Txs))
	for i, t := range b.Txs {
		leaves[i] = t.Hash()
	}
	root := crypto.MerkleRoot(leaves)
	b.Header.TxMerkleRoot = root
	return root
}
