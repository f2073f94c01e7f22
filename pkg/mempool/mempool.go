// Package mempool implements the pending-transaction pool: admission
// checks, dedup, and fee/nonce/hash ordering for block building (spec
// §4.8).
//
// Grounded on the teacher's pkg/mempool/mempool.go (pending/all maps,
// PriceList, sort-based ordering), trimmed of the parallel-execution
// dependency graph (non-goal: VM execution).
package mempool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// DefaultMinTxGas is the minimum gas a transaction can consume, used to
// bound how many transactions a proposer may reap per block.
const DefaultMinTxGas = 21000

type fromNonce struct {
	from  crypto.PublicKey
	nonce uint64
}

// entry wraps a pooled transaction with its admission-time fee rate.
type entry struct {
	tx        *chain.Tx
	hash      crypto.Digest
	feePerGas uint64
}

// Pool is the set of pending signed transactions, indexed by
// (from, nonce) and by tx_hash (spec §3, §4.8).
type Pool struct {
	mu        sync.RWMutex
	byHash    map[crypto.Digest]*entry
	byAccount map[fromNonce]*entry
}

// New constructs an empty mempool.
func New() *Pool {
	return &Pool{
		byHash:    make(map[crypto.Digest]*entry),
		byAccount: make(map[fromNonce]*entry),
	}
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// Admit validates and inserts tx (spec §4.8 admission checks): valid
// signature, nonce >= account nonce, balance >= amount+estimated fee,
// and not already present. gasUsed/baseFee determine the estimated fee.
func (p *Pool) Admit(tx *chain.Tx, accountNonce uint64, accountBalance *uint256.Int, gasUsed, baseFee uint64) error {
	if !tx.VerifySignature() {
		return fmt.Errorf("mempool: invalid signature")
	}
	if tx.Nonce < accountNonce {
		return fmt.Errorf("mempool: nonce %d below account nonce %d", tx.Nonce, accountNonce)
	}
	fee := gasUsed * baseFee
	need := new(uint256.Int).SetUint64(tx.Amount)
	need.Add(need, new(uint256.Int).SetUint64(fee))
	if accountBalance.Lt(need) {
		return fmt.Errorf("mempool: insufficient balance: have %s, need %s", accountBalance, need)
	}

	hash := tx.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byHash[hash]; exists {
		return fmt.Errorf("mempool: transaction already present")
	}
	var feePerGas uint64
	if gasUsed > 0 {
		feePerGas = fee / gasUsed
	}
	e := &entry{tx: tx, hash: hash, feePerGas: feePerGas}
	p.byHash[hash] = e
	p.byAccount[fromNonce{tx.From, tx.Nonce}] = e
	return nil
}

// Reap returns up to max_block_gas/min_tx_gas pending transactions,
// ordered by (fee_per_gas desc, nonce asc, tx_hash asc) (spec §4.8).
func (p *Pool) Reap(maxBlockGas, minTxGas uint64) []*chain.Tx {
	if minTxGas == 0 {
		minTxGas = DefaultMinTxGas
	}
	limit := maxBlockGas / minTxGas

	p.mu.RLock()
	entries := make([]*entry, 0, len(p.byHash))
	for _, e := range p.byHash {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.feePerGas != b.feePerGas {
			return a.feePerGas > b.feePerGas
		}
		if a.tx.Nonce != b.tx.Nonce {
			return a.tx.Nonce < b.tx.Nonce
		}
		return lessDigest(a.hash, b.hash)
	})

	if uint64(len(entries)) > limit {
		entries = entries[:limit]
	}
	out := make([]*chain.Tx, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

func lessDigest(a, b crypto.Digest) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// EvictCommitted removes every transaction in included, plus any
// transaction whose (from, nonce) is now stale relative to
// currentNonce (spec §4.8 "On block commit").
func (p *Pool) EvictCommitted(included []crypto.Digest, currentNonce func(crypto.PublicKey) uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, hash := range included {
		if e, ok := p.byHash[hash]; ok {
			delete(p.byHash, hash)
			delete(p.byAccount, fromNonce{e.tx.From, e.tx.Nonce})
		}
	}
	for key, e := range p.byAccount {
		if key.nonce < currentNonce(key.from) {
			delete(p.byAccount, key)
			delete(p.byHash, e.hash)
		}
	}
}
