// Package validatorset maintains the bounded active validator set: an
// arena of validator records keyed by pubkey, ranked by effective stake
// at epoch boundaries (spec §4.5).
//
// Grounded on the teacher's pkg/consensus/validator_set.go (arena map +
// sorted slice, AddValidator/GetSortedValidators), generalized from
// stake*performance scoring to the spec's effective-stake ranking with
// an explicit Active/Standby/Jailed status lifecycle.
package validatorset

import (
	"sort"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// Status is a validator's position in the set lifecycle (spec §3).
type Status int

const (
	StatusActive Status = iota
	StatusStandby
	StatusJailed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStandby:
		return "standby"
	case StatusJailed:
		return "jailed"
	default:
		return "unknown"
	}
}

// DefaultMaxValidators is the spec's default active-set cap.
const DefaultMaxValidators = 200

// DefaultMinStake is the spec's default minimum stake to be eligible for
// ranking.
const DefaultMinStake = 1_000_000

// Record is a validator record (spec §3).
type Record struct {
	Pubkey             crypto.PublicKey
	SelfStake          uint64
	DelegatedStake     uint64
	CommissionBps      uint64
	Status             Status
	MissedBlockCounter uint64
	LastActiveEpoch    uint64
	PerformanceScore   uint64 // 0..10000
	JailedAtEpoch      uint64
}

// RawStake returns self + delegated raw stake, used for the §4.5
// min_stake eligibility filter.
func (r *Record) RawStake() uint64 { return r.SelfStake + r.DelegatedStake }

// EventKind enumerates the deterministic rotation events emitted at
// epoch boundaries (spec §4.5).
type EventKind int

const (
	EventActivated EventKind = iota
	EventDeactivated
)

// Event is a validator transition emitted by Rotate.
type Event struct {
	Kind     EventKind
	Validator crypto.PublicKey
}

// Set owns the arena of validator records and the current ranked active
// slice (spec §5: owned exclusively by the block executor).
type Set struct {
	MaxValidators int
	MinStake      uint64

	records map[crypto.PublicKey]*Record
	index   []crypto.PublicKey // insertion-stable arena order
	active  []crypto.PublicKey // current ranked active set, cap MaxValidators
}

// New constructs an empty validator set with the given cap and minimum
// stake, defaulting to spec defaults when zero.
func New(maxValidators int, minStake uint64) *Set {
	if maxValidators == 0 {
		maxValidators = DefaultMaxValidators
	}
	if minStake == 0 {
		minStake = DefaultMinStake
	}
	return &Set{MaxValidators: maxValidators, MinStake: minStake, records: make(map[crypto.PublicKey]*Record)}
}

// Add registers a new validator record (e.g. from genesis or a bond
// transaction's first-time self-stake).
func (s *Set) Add(r *Record) {
	if _, exists := s.records[r.Pubkey]; !exists {
		s.index = append(s.index, r.Pubkey)
	}
	s.records[r.Pubkey] = r
}

// Get returns the record for pubkey, if any.
func (s *Set) Get(pubkey crypto.PublicKey) (*Record, bool) {
	r, ok := s.records[pubkey]
	return r, ok
}

// Active returns the current ranked active set (position = proposer
// round-robin index, spec §4.1).
func (s *Set) Active() []*Record {
	out := make([]*Record, 0, len(s.active))
	for _, pk := range s.active {
		out = append(out, s.records[pk])
	}
	return out
}

// EffectiveStakeFunc computes a validator's effective stake (self +
// delegated, tier-weighted) — supplied by the caller since it depends on
// the staking engine's tier table (spec §4.4).
type EffectiveStakeFunc func(pubkey crypto.PublicKey) uint64

// Rotate re-ranks the validator set at an epoch boundary (spec §4.5):
// non-jailed records with RawStake >= MinStake are sorted by effective
// stake descending (pubkey lex ascending tiebreak); the first
// MaxValidators become Active, the remainder Standby. Jailed validators
// are excluded until unjailed. Returns the transitions relative to the
// previous active set.
func (s *Set) Rotate(effectiveStake EffectiveStakeFunc) []Event {
	prevActive := make(map[crypto.PublicKey]bool, len(s.active))
	for _, pk := range s.active {
		prevActive[pk] = true
	}

	eligible := make([]*Record, 0, len(s.index))
	for _, pk := range s.index {
		r := s.records[pk]
		if r.Status == StatusJailed {
			continue
		}
		if r.RawStake() < s.MinStake {
			r.Status = StatusStandby
			continue
		}
		eligible = append(eligible, r)
	}

	sort.Slice(eligible, func(i, j int) bool {
		wi, wj := effectiveStake(eligible[i].Pubkey), effectiveStake(eligible[j].Pubkey)
		if wi != wj {
			return wi > wj
		}
		return eligible[i].Pubkey.Less(eligible[j].Pubkey)
	})

	cap := s.MaxValidators
	if cap > len(eligible) {
		cap = len(eligible)
	}

	newActive := make([]crypto.PublicKey, 0, cap)
	var events []Event
	for i, r := range eligible {
		if i < cap {
			r.Status = StatusActive
			newActive = append(newActive, r.Pubkey)
			if !prevActive[r.Pubkey] {
				events = append(events, Event{Kind: EventActivated, Validator: r.Pubkey})
			}
		} else {
			r.Status = StatusStandby
			if prevActive[r.Pubkey] {
				events = append(events, Event{Kind: EventDeactivated, Validator: r.Pubkey})
			}
		}
	}
	for pk := range prevActive {
		if r, ok := s.records[pk]; ok && r.Status == StatusJailed {
			events = append(events, Event{Kind: EventDeactivated, Validator: pk})
		}
	}

	s.active = newActive
	return events
}

// Jail transitions a validator to Jailed, recording the epoch at which
// it was jailed (used by §4.6's unjail eligibility check).
func (s *Set) Jail(pubkey crypto.PublicKey, epoch uint64) {
	r, ok := s.records[pubkey]
	if !ok {
		return
	}
	r.Status = StatusJailed
	r.JailedAtEpoch = epoch
}

// Unjail transitions a validator from Jailed back to Standby; it
// re-enters Active only at the next Rotate call (spec §4.6).
func (s *Set) Unjail(pubkey crypto.PublicKey) {
	r, ok := s.records[pubkey]
	if !ok || r.Status != StatusJailed {
		return
	}
	r.Status = StatusStandby
}

// Clone returns a deep copy usable as disposable scratch state: mutating
// it (Add, Jail, Unjail, Rotate, ...) never touches s. Used by the
// executor's speculative proposal path.
func (s *Set) Clone() *Set {
	out := &Set{
		MaxValidators: s.MaxValidators,
		MinStake:      s.MinStake,
		records:       make(map[crypto.PublicKey]*Record, len(s.records)),
		index:         append([]crypto.PublicKey(nil), s.index...),
		active:        append([]crypto.PublicKey(nil), s.active...),
	}
	for pk, r := range s.records {
		copied := *r
		out.records[pk] = &copied
	}
	return out
}

// ProposerAt returns the deterministic round-robin proposer for
// (height, round) over the current ranked active set (spec §4.1).
func ProposerAt(active []*Record, height uint64, round uint32) (crypto.PublicKey, bool) {
	if len(active) == 0 {
		return crypto.PublicKey{}, false
	}
	idx := (height + uint64(round)) % uint64(len(active))
	return active[idx].Pubkey, true
}
