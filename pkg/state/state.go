// Package state implements the account map (address -> balance, nonce)
// and deterministic state-root computation (spec §3, §4.2 step 11).
package state

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// Account holds a single address's balance and nonce. Balance never goes
// negative; Nonce is monotonically non-decreasing.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
}

// State is the mapping address -> Account, owned exclusively by the
// block executor (spec §5 "Shared resources").
type State struct {
	accounts map[crypto.PublicKey]*Account
}

// New returns an empty account state.
func New() *State {
	return &State{accounts: make(map[crypto.PublicKey]*Account)}
}

// Get returns the account for addr, creating a zero-value account (0
// balance, nonce 0) if it does not yet exist. The returned pointer
// aliases internal state; callers within the executor may mutate it.
func (s *State) Get(addr crypto.PublicKey) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &Account{Balance: uint256.NewInt(0)}
		s.accounts[addr] = acc
	}
	return acc
}

// SetBalance sets addr's balance, creating the account if needed.
func (s *State) SetBalance(addr crypto.PublicKey, bal *uint256.Int) {
	s.Get(addr).Balance = bal
}

// Credit adds amount to addr's balance.
func (s *State) Credit(addr crypto.PublicKey, amount *uint256.Int) {
	acc := s.Get(addr)
	acc.Balance = new(uint256.Int).Add(acc.Balance, amount)
}

// Debit subtracts amount from addr's balance. Returns an error if the
// balance would go negative (spec §3 invariant).
func (s *State) Debit(addr crypto.PublicKey, amount *uint256.Int) error {
	acc := s.Get(addr)
	if acc.Balance.Lt(amount) {
		return fmt.Errorf("state: insufficient balance for %s: have %s, need %s", addr, acc.Balance, amount)
	}
	acc.Balance = new(uint256.Int).Sub(acc.Balance, amount)
	return nil
}

// IncrementNonce increments addr's nonce by one.
func (s *State) IncrementNonce(addr crypto.PublicKey) {
	s.Get(addr).Nonce++
}

// Snapshot returns a deep, read-only copy of the account map, for RPC
// and proposal-building consumers (spec §5 "Shared resources").
func (s *State) Snapshot() map[crypto.PublicKey]Account {
	out := make(map[crypto.PublicKey]Account, len(s.accounts))
	for addr, acc := range s.accounts {
		out[addr] = Account{Balance: new(uint256.Int).Set(acc.Balance), Nonce: acc.Nonce}
	}
	return out
}

// Clone returns a deep copy usable as disposable scratch state: mutating
// it never touches s. Used by the executor's speculative proposal path.
func (s *State) Clone() *State {
	out := &State{accounts: make(map[crypto.PublicKey]*Account, len(s.accounts))}
	for addr, acc := range s.accounts {
		out.accounts[addr] = &Account{Balance: new(uint256.Int).Set(acc.Balance), Nonce: acc.Nonce}
	}
	return out
}

// Root computes the Merkle root of { (address, balance, nonce) } sorted
// by address (spec §4.2 step 11).
func (s *State) Root() crypto.Digest {
	addrs := make([]crypto.PublicKey, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	leaves := make([]crypto.Digest, len(addrs))
	for i, addr := range addrs {
		acc := s.accounts[addr]
		balBytes := acc.Balance.Bytes32()
		var nonceBytes [8]byte
		for b := 0; b < 8; b++ {
			nonceBytes[b] = byte(acc.Nonce >> (8 * b))
		}
		leaves[i] = crypto.Sum256(addr[:], balBytes[:], nonceBytes[:])
	}
	return crypto.MerkleRoot(leaves)
}
