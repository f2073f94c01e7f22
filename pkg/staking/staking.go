// Package staking implements tiered lock-bonus rewards, effective-stake
// computation and bond/unbond lifecycle (spec §4.4).
//
// Grounded on the teacher's pkg/staking/validator_staking.go
// (ValidatorInfo, Delegation, ValidatorStatus, SlashingRule), generalized
// to the spec's two tier schemas and reward-accrual formula.
package staking

import (
	"fmt"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

// Schema selects which tier table is authoritative for a chain, decided
// once at genesis (spec §4.4, §9 Open Question — this repo selects
// Schema A as the genesis default; both are fully implemented).
type Schema int

const (
	SchemaBonusAPY Schema = iota
	SchemaRatePercent
)

// Tier is a lock-tier name, meaningful only relative to the chain's
// selected Schema.
type Tier string

// Schema A ("bonus APY") tier names.
const (
	TierNoLock     Tier = "no_lock"
	TierThreeMonth Tier = "three_month"
	TierSixMonth   Tier = "six_month"
	TierOneYear    Tier = "one_year"
	TierPermanent  Tier = "permanent"
)

// Schema B ("rate-percent") tier names.
const (
	TierThirtyDay    Tier = "thirty_day"
	TierNinetyDay    Tier = "ninety_day"
	TierOneEightyDay Tier = "one_eighty_day"
	TierThreeSixtyDay Tier = "three_sixty_day"
	TierDelegator    Tier = "delegator"
)

// TierInfo holds a tier's lock duration, reward and vote-weight
// parameters.
type TierInfo struct {
	LockEpochs      uint64 // 0 = instant unbond
	Permanent       bool   // Permanent tiers never unbond
	APYBps          uint64
	VoteWeightX1000 uint64
}

const baseAPYBps = 500

var schemaATiers = map[Tier]TierInfo{
	TierNoLock:     {LockEpochs: 0, APYBps: baseAPYBps + 0, VoteWeightX1000: 1000},
	TierThreeMonth: {LockEpochs: 90, APYBps: baseAPYBps + 100, VoteWeightX1000: 1500},
	TierSixMonth:   {LockEpochs: 180, APYBps: baseAPYBps + 200, VoteWeightX1000: 2000},
	TierOneYear:    {LockEpochs: 365, APYBps: baseAPYBps + 300, VoteWeightX1000: 3000},
	TierPermanent:  {Permanent: true, APYBps: baseAPYBps + 500, VoteWeightX1000: 5000},
}

var schemaBTiers = map[Tier]TierInfo{
	TierNoLock:        {LockEpochs: 0, APYBps: 25, VoteWeightX1000: 0},
	TierThirtyDay:     {LockEpochs: 30, APYBps: 50, VoteWeightX1000: 100},
	TierNinetyDay:     {LockEpochs: 90, APYBps: 100, VoteWeightX1000: 200},
	TierOneEightyDay:  {LockEpochs: 180, APYBps: 150, VoteWeightX1000: 300},
	TierThreeSixtyDay: {LockEpochs: 360, APYBps: 250, VoteWeightX1000: 500},
	TierDelegator:     {LockEpochs: 0, APYBps: 500, VoteWeightX1000: 1000},
	TierPermanent:     {Permanent: true, APYBps: 600, VoteWeightX1000: 1500},
}

// secondsPerYear is used by the reward-accrual formula (spec §4.4).
const secondsPerYear = 365 * 24 * 3600

// TierTable returns the tier -> TierInfo table for s.
func TierTable(s Schema) map[Tier]TierInfo {
	if s == SchemaRatePercent {
		return schemaBTiers
	}
	return schemaATiers
}

// Lookup returns the TierInfo for tier under schema s.
func Lookup(s Schema, tier Tier) (TierInfo, error) {
	info, ok := TierTable(s)[tier]
	if !ok {
		return TierInfo{}, fmt.Errorf("staking: unknown tier %q for schema", tier)
	}
	return info, nil
}

// Entry is a stake entry (spec §3): a bond of amount by owner to
// validator, at a chosen tier.
type Entry struct {
	Owner         crypto.PublicKey
	Validator     crypto.PublicKey
	Amount        uint64
	Tier          Tier
	BondedAtEpoch uint64
}

// EffectiveStake returns effective = raw * vote_weight_x1000 / 1000.
func EffectiveStake(s Schema, tier Tier, raw uint64) (uint64, error) {
	info, err := Lookup(s, tier)
	if err != nil {
		return 0, err
	}
	return raw * info.VoteWeightX1000 / 1000, nil
}

type entryKey struct {
	owner     crypto.PublicKey
	validator crypto.PublicKey
}

// Engine owns the set of stake entries for one chain, under a single
// schema selected at genesis.
type Engine struct {
	Schema      Schema
	entries     map[entryKey]*Entry
	TotalMinted uint64 // monotonic counter, spec §4.4
}

// NewEngine constructs a staking engine for the given schema.
func NewEngine(schema Schema) *Engine {
	return &Engine{Schema: schema, entries: make(map[entryKey]*Entry)}
}

// Bond creates or tops up a stake entry. Topping up an existing entry at
// a different tier is rejected: unbond first.
func (e *Engine) Bond(owner, validator crypto.PublicKey, amount uint64, tier Tier, epoch uint64) (*Entry, error) {
	if _, err := Lookup(e.Schema, tier); err != nil {
		return nil, err
	}
	key := entryKey{owner, validator}
	if existing, ok := e.entries[key]; ok {
		if existing.Tier != tier {
			return nil, fmt.Errorf("staking: entry already bonded at tier %q", existing.Tier)
		}
		existing.Amount += amount
		return existing, nil
	}
	entry := &Entry{Owner: owner, Validator: validator, Amount: amount, Tier: tier, BondedAtEpoch: epoch}
	e.entries[key] = entry
	return entry, nil
}

// CanUnbond reports whether the entry may be fully unbonded at
// currentEpoch (spec §4.4: NoLock/Delegator instant, timed tiers at or
// after bonded_at_epoch+lock_epochs, Permanent never).
func (e *Engine) CanUnbond(owner, validator crypto.PublicKey, currentEpoch uint64) (bool, error) {
	entry, ok := e.entries[entryKey{owner, validator}]
	if !ok {
		return false, fmt.Errorf("staking: no stake entry for owner/validator pair")
	}
	info, err := Lookup(e.Schema, entry.Tier)
	if err != nil {
		return false, err
	}
	if info.Permanent {
		return false, nil
	}
	return currentEpoch >= entry.BondedAtEpoch+info.LockEpochs, nil
}

// Unbond removes a stake entry if CanUnbond holds, returning the
// withdrawn amount.
func (e *Engine) Unbond(owner, validator crypto.PublicKey, currentEpoch uint64) (uint64, error) {
	ok, err := e.CanUnbond(owner, validator, currentEpoch)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("staking: entry locked or permanent, cannot unbond")
	}
	key := entryKey{owner, validator}
	amount := e.entries[key].Amount
	delete(e.entries, key)
	return amount, nil
}

// Entry returns the stake entry for (owner, validator), if any.
func (e *Engine) Entry(owner, validator crypto.PublicKey) (*Entry, bool) {
	entry, ok := e.entries[entryKey{owner, validator}]
	return entry, ok
}

// Entries returns all stake entries delegated to validator.
func (e *Engine) Entries(validator crypto.PublicKey) []*Entry {
	var out []*Entry
	for _, entry := range e.entries {
		if entry.Validator == validator {
			out = append(out, entry)
		}
	}
	return out
}

// Clone returns a deep copy usable as disposable scratch state: mutating
// it (Bond, Unbond, AccrueEpochRewards, ...) never touches e. Used by the
// executor's speculative proposal path.
func (e *Engine) Clone() *Engine {
	out := &Engine{Schema: e.Schema, entries: make(map[entryKey]*Entry, len(e.entries)), TotalMinted: e.TotalMinted}
	for key, entry := range e.entries {
		copied := *entry
		out.entries[key] = &copied
	}
	return out
}

// RemoveSlashedAmount reduces the self-stake entry (owner == validator)
// by amount, used by the slashing engine (spec §4.6: delegators are
// never slashed).
func (e *Engine) RemoveSlashedAmount(validator crypto.PublicKey, amount uint64) error {
	key := entryKey{owner: validator, validator: validator}
	entry, ok := e.entries[key]
	if !ok {
		return fmt.Errorf("staking: no self-stake entry for validator")
	}
	if entry.Amount < amount {
		amount = entry.Amount
	}
	entry.Amount -= amount
	return nil
}

// RewardEvent is a single stake entry's accrued reward for one epoch,
// net of validator commission where applicable.
type RewardEvent struct {
	Owner     crypto.PublicKey
	Validator crypto.PublicKey
	Gross     uint64
	Commission uint64
	Net       uint64
}

// AccrueEpochRewards computes, for every stake entry, the epoch reward
// per spec §4.4:
//
//	reward = amount * apy_bps(tier) * epoch_length_seconds / (10000 * seconds_per_year)
//
// Validator commission (commissionBps per validator) is deducted from
// delegator (owner != validator) rewards only, and credited separately
// to the validator. TotalMinted is incremented by the sum of all gross
// rewards.
func (e *Engine) AccrueEpochRewards(epochLengthSeconds uint64, commissionBps func(validator crypto.PublicKey) uint64) ([]RewardEvent, error) {
	events := make([]RewardEvent, 0, len(e.entries))
	commissionByValidator := make(map[crypto.PublicKey]uint64)

	for _, entry := range e.entries {
		info, err := Lookup(e.Schema, entry.Tier)
		if err != nil {
			return nil, err
		}
		gross := entry.Amount * info.APYBps * epochLengthSeconds / (10000 * secondsPerYear)
		if gross == 0 {
			continue
		}
		var commission uint64
		if entry.Owner != entry.Validator {
			bps := commissionBps(entry.Validator)
			commission = gross * bps / 10000
		}
		net := gross - commission
		events = append(events, RewardEvent{Owner: entry.Owner, Validator: entry.Validator, Gross: gross, Commission: commission, Net: net})
		if commission > 0 {
			commissionByValidator[entry.Validator] += commission
		}
		e.TotalMinted += gross
	}
	for validator, amt := range commissionByValidator {
		events = append(events, RewardEvent{Owner: validator, Validator: validator, Net: amt})
	}
	return events, nil
}
