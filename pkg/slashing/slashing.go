// Package slashing implements the evidence pool and slash computation
// (spec §4.6).
//
// New package; grounded on the teacher's
// pkg/staking/validator_staking.go SlashingRule/SlashingEvent shape, and
// on the other_examples nhbchain bft.go double-sign detection pattern
// (comparing two signed votes at the same height/round/step).
package slashing

import (
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// DefaultDowntimeThreshold is the consecutive missed-block count that
// triggers a Downtime offense (spec §4.6).
const DefaultDowntimeThreshold = 100

// SlashBps returns the slash fraction, in basis points of self_stake,
// for a given offense kind (spec §4.6).
func SlashBps(kind chain.EvidenceKind) uint64 {
	switch kind {
	case chain.EvidenceDoubleSign:
		return 500
	case chain.EvidenceDowntime:
		return 100
	case chain.EvidenceInvalidBlock:
		return 1000
	default:
		return 0
	}
}

// DefaultJailEpochs is the number of epochs a jailed validator must wait
// before becoming eligible to re-apply (spec §4.6).
const DefaultJailEpochs = 1

// Pool is the evidence pool: deduplicates offenses by evidence_hash and
// discards evidence older than evidence_window blocks (spec §4.6).
type Pool struct {
	Window uint64 // default: two epochs, set by the executor at genesis load

	seen    map[crypto.Digest]chain.Height // hash -> height observed, for dedup + retention
	pending []*chain.Evidence
}

// DefaultEvidenceWindowEpochs is the spec's default retention window, in
// epochs (two epochs); the executor converts this to a block-height
// window using the genesis epoch_length.
const DefaultEvidenceWindowEpochs = 2

// NewPool constructs an evidence pool retaining evidence for `window`
// blocks.
func NewPool(window uint64) *Pool {
	return &Pool{Window: window, seen: make(map[crypto.Digest]chain.Height)}
}

// Submit adds evidence observed at currentHeight to the pool. Duplicate
// submissions (same evidence_hash) are dropped; evidence older than
// Window blocks is discarded unprocessed. Returns true if the evidence
// was accepted into the pending queue.
func (p *Pool) Submit(ev *chain.Evidence, currentHeight chain.Height) bool {
	hash := ev.Hash()
	if observedAt, dup := p.seen[hash]; dup {
		_ = observedAt
		return false
	}
	if currentHeight > ev.ObservedAtHeight && currentHeight-ev.ObservedAtHeight > p.Window {
		p.seen[hash] = currentHeight
		return false
	}
	p.seen[hash] = currentHeight
	p.pending = append(p.pending, ev)
	return true
}

// DrainPending returns and clears the evidence queued for processing at
// the next block boundary (spec §3 "Lifecycle"). Hashes remain recorded
// in the dedup window after draining.
func (p *Pool) DrainPending() []*chain.Evidence {
	out := p.pending
	p.pending = nil
	return out
}

// Prune removes dedup records older than Window blocks relative to
// currentHeight, bounding pool memory while still rejecting in-window
// replays.
func (p *Pool) Prune(currentHeight chain.Height) {
	for hash, observedAt := range p.seen {
		if currentHeight > observedAt && currentHeight-observedAt > p.Window {
			delete(p.seen, hash)
		}
	}
}

// Clone returns a deep copy usable as disposable scratch state:
// draining or pruning it never touches p. Used by the executor's
// speculative proposal path.
func (p *Pool) Clone() *Pool {
	out := &Pool{Window: p.Window, seen: make(map[crypto.Digest]chain.Height, len(p.seen))}
	for hash, height := range p.seen {
		out.seen[hash] = height
	}
	out.pending = append([]*chain.Evidence(nil), p.pending...)
	return out
}

// Event is a deterministic slash event recorded when evidence is
// processed (spec §4.6).
type Event struct {
	Offender     crypto.PublicKey
	Kind         chain.EvidenceKind
	Amount       uint64
	Height       chain.Height
	EvidenceHash crypto.Digest
}

// Compute returns the slash amount: floor(selfStake * slash_bps / 10000)
// for the offense kind.
func Compute(kind chain.EvidenceKind, selfStake uint64) uint64 {
	return selfStake * SlashBps(kind) / 10000
}

// VoteKey identifies a vote's (height, round, step) position, used to
// detect double-signing: two votes at the same key from the same
// validator with different non-nil block hashes.
type VoteKey struct {
	Height chain.Height
	Round  chain.Round
	Step   chain.Step
}

// DoubleSignDetector tracks the first vote seen per (validator, key) and
// reports a double-sign the moment a conflicting second vote arrives
// (spec §4.1 "Double-sign detection").
type DoubleSignDetector struct {
	firstVote map[crypto.PublicKey]map[VoteKey]*chain.Vote
}

// NewDoubleSignDetector constructs an empty detector.
func NewDoubleSignDetector() *DoubleSignDetector {
	return &DoubleSignDetector{firstVote: make(map[crypto.PublicKey]map[VoteKey]*chain.Vote)}
}

// Observe records v and returns the conflicting prior vote if v
// constitutes a double-sign (same validator, height, round, step, both
// non-nil, different block hashes).
func (d *DoubleSignDetector) Observe(v *chain.Vote) *chain.Vote {
	key := VoteKey{Height: v.Height, Round: v.Round, Step: v.Step}
	byKey, ok := d.firstVote[v.Validator]
	if !ok {
		byKey = make(map[VoteKey]*chain.Vote)
		d.firstVote[v.Validator] = byKey
	}
	prior, seen := byKey[key]
	if !seen {
		byKey[key] = v
		return nil
	}
	if v.HasBlock && prior.HasBlock && v.BlockHash != prior.BlockHash {
		return prior
	}
	return nil
}
