package node

import (
	"encoding/binary"
	"fmt"

	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/storage"
)

// blockStore persists committed blocks through the tiered storage
// policy of SPEC_FULL.md §4.10: every commit writes through the hot/warm
// tiers, keyed by big-endian height so range scans stay ordered.
type blockStore struct {
	tiers        *storage.Tiered
	latestHeight chain.Height
	hasLatest    bool
}

func newBlockStore(hotTierSize int) (*blockStore, error) {
	tiers, err := storage.NewTiered(hotTierSize)
	if err != nil {
		return nil, fmt.Errorf("node: block store: %w", err)
	}
	return &blockStore{tiers: tiers}, nil
}

func heightKey(height chain.Height) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], height)
	return k[:]
}

// Put writes block into the store and advances latestHeight.
func (s *blockStore) Put(block *chain.Block) {
	s.tiers.Put(heightKey(block.Header.Height), encodeBlock(block))
	if !s.hasLatest || block.Header.Height >= s.latestHeight {
		s.latestHeight = block.Header.Height
		s.hasLatest = true
	}
}

// Get returns the block committed at height, if any.
func (s *blockStore) Get(height chain.Height) (*chain.Block, bool) {
	raw, ok := s.tiers.Get(heightKey(height))
	if !ok {
		return nil, false
	}
	block, err := decodeBlock(raw)
	if err != nil {
		return nil, false
	}
	return block, true
}

// Latest returns the most recently committed block, if any.
func (s *blockStore) Latest() (*chain.Block, bool) {
	if !s.hasLatest {
		return nil, false
	}
	return s.Get(s.latestHeight)
}

// Archive demotes a height's block into the cold tier. The node applies
// no retention horizon and does not call Archive itself.
func (s *blockStore) Archive(height chain.Height) {
	s.tiers.Archive(heightKey(height))
}

// encodeBlock serializes a block (header + ordered transactions) in the
// same canonical-length-prefixed style as chain.Proposal's wire
// encoding, minus the proposal-only round/signature trailer.
func encodeBlock(b *chain.Block) []byte {
	buf := b.Header.MarshalCanonical()
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b.Txs)))
	buf = append(buf, n[:]...)
	for _, tx := range b.Txs {
		enc := tx.MarshalCanonical()
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(enc)))
		buf = append(buf, l[:]...)
		buf = append(buf, enc...)
	}
	return buf
}

func decodeBlock(raw []byte) (*chain.Block, error) {
	const headerSize = 8 + 8 + 32 + 32 + 32 + 32
	if len(raw) < headerSize+4 {
		return nil, fmt.Errorf("node: block encoding too short")
	}
	header, err := chain.UnmarshalCanonicalHeader(raw[:headerSize])
	if err != nil {
		return nil, err
	}
	off := headerSize
	ntx := binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	txs := make([]*chain.Tx, 0, ntx)
	for i := uint32(0); i < ntx; i++ {
		if len(raw)-off < 4 {
			return nil, fmt.Errorf("node: block tx length truncated")
		}
		l := binary.LittleEndian.Uint32(raw[off : off+4])
		off += 4
		if uint64(len(raw)-off) < uint64(l) {
			return nil, fmt.Errorf("node: block tx body truncated")
		}
		tx, err := chain.UnmarshalCanonicalTx(raw[off : off+int(l)])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		off += int(l)
	}
	return &chain.Block{Header: *header, Txs: txs}, nil
}
