package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// EvidenceKind enumerates the slashable offenses of spec §4.6.
type EvidenceKind uint8

const (
	EvidenceDoubleSign EvidenceKind = iota
	EvidenceDowntime
	EvidenceInvalidBlock
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceDoubleSign:
		return "double_sign"
	case EvidenceDowntime:
		return "downtime"
	case EvidenceInvalidBlock:
		return "invalid_block"
	default:
		return "unknown"
	}
}

// Evidence is a verifiable record of a slashable offense (spec §3).
type Evidence struct {
	Kind            EvidenceKind
	Offender        crypto.PublicKey
	Height          Height
	Round           Round
	PayloadHash     crypto.Digest
	ObservedAtHeight Height
}

// MarshalCanonical encodes the evidence in its canonical byte layout.
func (e *Evidence) MarshalCanonical() []byte {
	buf := make([]byte, 0, 1+32+8+4+32+8)
	buf = append(buf, byte(e.Kind))
	buf = append(buf, e.Offender[:]...)
	var height, round, observed [8]byte
	binary.LittleEndian.PutUint64(height[:], e.Height)
	binary.LittleEndian.PutUint32(round[:4], e.Round)
	binary.LittleEndian.PutUint64(observed[:], e.ObservedAtHeight)
	buf = append(buf, height[:]...)
	buf = append(buf, round[:4]...)
	buf = append(buf, e.PayloadHash[:]...)
	buf = append(buf, observed[:]...)
	return buf
}

// UnmarshalCanonicalEvidence decodes Evidence from its canonical byte
// layout.
func UnmarshalCanonicalEvidence(b []byte) (*Evidence, error) {
	const size = 1 + 32 + 8 + 4 + 32 + 8
	if len(b) != size {
		return nil, fmt.Errorf("chain: evidence encoding must be %d bytes, got %d", size, len(b))
	}
	e := &Evidence{}
	off := 0
	e.Kind = EvidenceKind(b[off])
	off++
	copy(e.Offender[:], b[off:off+32])
	off += 32
	e.Height = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	e.Round = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	copy(e.PayloadHash[:], b[off:off+32])
	off += 32
	e.ObservedAtHeight = binary.LittleEndian.Uint64(b[off : off+8])
	return e, nil
}

// Hash returns evidence_hash = SHA-256(canonical_encoding(evidence)).
func (e *Evidence) Hash() crypto.Digest {
	return crypto.Sum256(e.MarshalCanonical())
}
