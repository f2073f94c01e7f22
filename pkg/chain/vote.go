package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// Step is a phase of the 3-phase commit round (spec §4.1).
type Step uint8

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Vote is a signed Prevote or Precommit message. A nil vote (HasBlock ==
// false) carries the zero digest.
type Vote struct {
	Height    Height
	Round     Round
	Step      Step
	HasBlock  bool
	BlockHash crypto.Digest
	Validator crypto.PublicKey
	Signature crypto.Signature
}

// SigningDigest returns the digest a vote's signature must verify.
func (v *Vote) SigningDigest() crypto.Digest {
	var height [8]byte
	var round [4]byte
	binary.LittleEndian.PutUint64(height[:], v.Height)
	binary.LittleEndian.PutUint32(round[:], v.Round)
	hasBlock := byte(0)
	if v.HasBlock {
		hasBlock = 1
	}
	return crypto.Sum256(height[:], round[:], []byte{byte(v.Step), hasBlock}, v.BlockHash[:])
}

// Sign signs the vote and sets Validator to kp's public key.
func (v *Vote) Sign(kp *crypto.KeyPair) {
	v.Validator = kp.Public
	v.Signature = kp.Sign(v.SigningDigest())
}

// VerifySignature reports whether Signature is valid under Validator.
func (v *Vote) VerifySignature() bool {
	return crypto.Verify(v.Validator, v.SigningDigest(), v.Signature)
}

// MarshalCanonical encodes the vote in its canonical byte layout.
func (v *Vote) MarshalCanonical() []byte {
	buf := make([]byte, 0, 8+4+1+1+32+32+64)
	var height [8]byte
	var round [4]byte
	binary.LittleEndian.PutUint64(height[:], v.Height)
	binary.LittleEndian.PutUint32(round[:], v.Round)
	buf = append(buf, height[:]...)
	buf = append(buf, round[:]...)
	buf = append(buf, byte(v.Step))
	hasBlock := byte(0)
	if v.HasBlock {
		hasBlock = 1
	}
	buf = append(buf, hasBlock)
	buf = append(buf, v.BlockHash[:]...)
	buf = append(buf, v.Validator[:]...)
	buf = append(buf, v.Signature[:]...)
	return buf
}

// UnmarshalCanonicalVote decodes a Vote from its canonical byte layout.
func UnmarshalCanonicalVote(b []byte) (*Vote, error) {
	const size = 8 + 4 + 1 + 1 + 32 + 32 + 64
	if len(b) != size {
		return nil, fmt.Errorf("chain: vote encoding must be %d bytes, got %d", size, len(b))
	}
	v := &Vote{}
	off := 0
	v.Height = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	v.Round = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	v.Step = Step(b[off])
	off++
	v.HasBlock = b[off] != 0
	off++
	copy(v.BlockHash[:], b[off:off+32])
	off += 32
	copy(v.Validator[:], b[off:off+32])
	off += 32
	copy(v.Signature[:], b[off:off+64])
	return v, nil
}

// Proposal is a signed block proposal for (Height, Round). ValidRound is
// -1 (encoded as ^uint64(0)) when the proposer is not re-proposing a
// previously valid block (spec §4.1 step 1).
type Proposal struct {
	Height     Height
	Round      Round
	Block      *Block
	ValidRound int64
	Proposer   crypto.PublicKey
	Signature  crypto.Signature
}

// NoValidRound marks a Proposal with no prior valid round.
const NoValidRound int64 = -1

// SigningDigest returns the digest a proposal's signature must verify.
func (p *Proposal) SigningDigest() crypto.Digest {
	var height [8]byte
	var round [4]byte
	var vround [8]byte
	binary.LittleEndian.PutUint64(height[:], p.Height)
	binary.LittleEndian.PutUint32(round[:], p.Round)
	binary.LittleEndian.PutUint64(vround[:], uint64(p.ValidRound))
	blockHash := p.Block.Hash()
	return crypto.Sum256(height[:], round[:], vround[:], blockHash[:])
}

// Sign signs the proposal and sets Proposer to kp's public key.
func (p *Proposal) Sign(kp *crypto.KeyPair) {
	p.Proposer = kp.Public
	p.Signature = kp.Sign(p.SigningDigest())
}

// VerifySignature reports whether Signature is valid under Proposer.
func (p *Proposal) VerifySignature() bool {
	return crypto.Verify(p.Proposer, p.SigningDigest(), p.Signature)
}

// MarshalCanonical encodes the proposal in its canonical byte layout.
func (p *Proposal) MarshalCanonical() []byte {
	var round [4]byte
	var vround [8]byte
	var ntx [4]byte
	binary.LittleEndian.PutUint32(round[:], p.Round)
	binary.LittleEndian.PutUint64(vround[:], uint64(p.ValidRound))
	binary.LittleEndian.PutUint32(ntx[:], uint32(len(p.Block.Txs)))

	buf := make([]byte, 0, 4+8+len(p.Block.Header.MarshalCanonical())+4+64+32)
	buf = append(buf, round[:]...)
	buf = append(buf, vround[:]...)
	buf = append(buf, p.Block.Header.MarshalCanonical()...)
	buf = append(buf, ntx[:]...)
	for _, tx := range p.Block.Txs {
		enc := tx.MarshalCanonical()
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(enc)))
		buf = append(buf, l[:]...)
		buf = append(buf, enc...)
	}
	buf = append(buf, p.Proposer[:]...)
	buf = append(buf, p.Signature[:]...)
	return buf
}

// UnmarshalCanonicalProposal decodes a Proposal from its canonical byte
// layout.
func UnmarshalCanonicalProposal(b []byte) (*Proposal, error) {
	const headerSize = 8 + 8 + 32 + 32 + 32 + 32
	if len(b) < 4+8+headerSize+4 {
		return nil, fmt.Errorf("chain: proposal encoding too short")
	}
	p := &Proposal{Block: &Block{}}
	off := 0
	p.Round = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	p.ValidRound = int64(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	header, err := UnmarshalCanonicalHeader(b[off : off+headerSize])
	if err != nil {
		return nil, err
	}
	p.Block.Header = *header
	p.Height = header.Height
	off += headerSize
	ntx := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	txs := make([]*Tx, 0, ntx)
	for i := uint32(0); i < ntx; i++ {
		if len(b)-off < 4 {
			return nil, fmt.Errorf("chain: proposal tx length truncated")
		}
		l := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		if uint64(len(b)-off) < uint64(l) {
			return nil, fmt.Errorf("chain: proposal tx body truncated")
		}
		tx, err := UnmarshalCanonicalTx(b[off : off+int(l)])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		off += int(l)
	}
	p.Block.Txs = txs
	if len(b)-off != 32+64 {
		return nil, fmt.Errorf("chain: proposal trailer size mismatch")
	}
	copy(p.Proposer[:], b[off:off+32])
	off += 32
	copy(p.Signature[:], b[off:off+64])
	return p, nil
}
