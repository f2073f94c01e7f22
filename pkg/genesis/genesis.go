// Package genesis parses and validates the chain's genesis file and
// bootstraps the initial account state, validator set and staking
// engine from it (spec §6, SPEC_FULL.md §4.9).
//
// Grounded on the teacher's pkg/genesis/l1_genesis.go (L1Genesis,
// ChainConfig, GenesisValidator, hash-over-canonical-JSON pattern).
package genesis

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/fees"
	"github.com/sjxcrypto/trv1-chain/pkg/staking"
	"github.com/sjxcrypto/trv1-chain/pkg/state"
	"github.com/sjxcrypto/trv1-chain/pkg/validatorset"
)

// ChainParams enumerates the genesis-configurable protocol parameters
// (spec §6). The slash_*_bps, staking_base_apy_bps and
// evidence_window_epochs fields are recorded in the genesis file (and
// its hash) but not read: slash fractions come from slashing.SlashBps,
// APYs from the staking tier tables, and the evidence window from
// slashing.DefaultEvidenceWindowEpochs.
type ChainParams struct {
	EpochLength          uint64 `json:"epoch_length"`
	BlockTimeMs          uint64 `json:"block_time_ms"`
	MaxValidators        int    `json:"max_validators"`
	MinStake             uint64 `json:"min_stake"`
	BaseFeeFloor         uint64 `json:"base_fee_floor"`
	TargetGasPerBlock    uint64 `json:"target_gas_per_block"`
	ElasticityMultiplier uint64 `json:"elasticity_multiplier"`

	FeeBurnBps      uint64 `json:"fee_burn_bps"`
	FeeValidatorBps uint64 `json:"fee_validator_bps"`
	FeeTreasuryBps  uint64 `json:"fee_treasury_bps"`
	FeeDeveloperBps uint64 `json:"fee_developer_bps"`

	SlashDoubleSignBps   uint64 `json:"slash_double_sign_bps"`
	SlashDowntimeBps     uint64 `json:"slash_downtime_bps"`
	SlashInvalidBlockBps uint64 `json:"slash_invalid_block_bps"`

	StakingSchema     string `json:"staking_schema"` // "bonus_apy" | "rate_percent"
	StakingBaseApyBps uint64 `json:"staking_base_apy_bps"`

	GasBasePerTx uint64 `json:"gas_base_per_tx"` // default 21000
	GasPerByte   uint64 `json:"gas_per_byte"`    // default 68

	EvidenceWindowEpochs uint64 `json:"evidence_window_epochs"` // default 2
	JailEpochs           uint64 `json:"jail_epochs"`            // default 1
}

// GenesisValidator is one genesis-bonded validator (spec §6).
type GenesisValidator struct {
	Pubkey     string `json:"pubkey"`
	Stake      uint64 `json:"stake"`
	Commission uint64 `json:"commission"`
}

// GenesisAccount is one pre-funded account (spec §6).
type GenesisAccount struct {
	Address string `json:"address"`
	Balance string `json:"balance"` // decimal string, parsed into uint256
}

// Genesis is the full genesis file (spec §6).
type Genesis struct {
	ChainID         string             `json:"chain_id"`
	GenesisTime     uint64             `json:"genesis_time"`
	TreasuryAddress string             `json:"treasury_address"`
	ChainParams     ChainParams        `json:"chain_params"`
	Validators      []GenesisValidator `json:"validators"`
	Accounts        []GenesisAccount   `json:"accounts"`
	GenesisHash     string             `json:"genesis_hash,omitempty"`
}

// Parse decodes a genesis file from JSON.
func Parse(data []byte) (*Genesis, error) {
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}
	return &g, nil
}

// Validate rejects the malformed genesis files enumerated in spec §6.
func (g *Genesis) Validate() error {
	if len(g.Validators) == 0 {
		return fmt.Errorf("genesis: validator list must not be empty")
	}
	seen := make(map[string]bool, len(g.Validators))
	for _, v := range g.Validators {
		if seen[v.Pubkey] {
			return fmt.Errorf("genesis: duplicate validator pubkey %s", v.Pubkey)
		}
		seen[v.Pubkey] = true
		if v.Stake == 0 {
			return fmt.Errorf("genesis: validator %s has zero stake", v.Pubkey)
		}
		if v.Commission > 10000 {
			return fmt.Errorf("genesis: validator %s commission %d exceeds 10000 bps", v.Pubkey, v.Commission)
		}
	}
	p := g.ChainParams
	if sum := p.FeeBurnBps + p.FeeValidatorBps + p.FeeTreasuryBps + p.FeeDeveloperBps; sum != 10000 {
		return fmt.Errorf("genesis: fee bps must sum to 10000, got %d", sum)
	}
	if p.EpochLength == 0 {
		return fmt.Errorf("genesis: epoch_length must be non-zero")
	}
	if p.BlockTimeMs == 0 {
		return fmt.Errorf("genesis: block_time_ms must be non-zero")
	}
	if p.MaxValidators == 0 {
		return fmt.Errorf("genesis: max_validators must be non-zero")
	}
	return nil
}

// canonicalBytes re-serializes g with GenesisHash cleared, the input to
// ComputeHash (spec §6: "genesis_hash = SHA-256(canonical_json(all
// fields except genesis_hash))").
func (g *Genesis) canonicalBytes() ([]byte, error) {
	clone := *g
	clone.GenesisHash = ""
	return json.Marshal(clone)
}

// ComputeHash returns the genesis_hash for g.
func (g *Genesis) ComputeHash() (crypto.Digest, error) {
	b, err := g.canonicalBytes()
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("genesis: canonicalize: %w", err)
	}
	return crypto.Sum256(b), nil
}

// VerifyHash reports whether g.GenesisHash matches a fresh
// ComputeHash (spec §8 round-trip law).
func (g *Genesis) VerifyHash() (bool, error) {
	want, err := crypto.ParseDigest(g.GenesisHash)
	if err != nil {
		return false, err
	}
	got, err := g.ComputeHash()
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// Schema resolves the genesis's selected staking tier schema (spec §4.4,
// §9 Open Question — "bonus_apy" is the default when unset).
func (g *Genesis) Schema() staking.Schema {
	if g.ChainParams.StakingSchema == "rate_percent" {
		return staking.SchemaRatePercent
	}
	return staking.SchemaBonusAPY
}

// Bootstrap constructs the initial account state, validator set,
// staking engine and fee market from a validated genesis file (spec
// §4.9).
type Bootstrap struct {
	State       *state.State
	Validators  *validatorset.Set
	Staking     *staking.Engine
	FeeMarket   *fees.Market
	FeeSchedule fees.Schedule
	Treasury    crypto.PublicKey
}

// Build validates g and constructs a Bootstrap. Returns an error if g
// fails Validate.
func Build(g *Genesis) (*Bootstrap, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var treasury crypto.PublicKey
	if g.TreasuryAddress != "" {
		pk, err := crypto.ParsePublicKey(g.TreasuryAddress)
		if err != nil {
			return nil, fmt.Errorf("genesis: treasury_address: %w", err)
		}
		treasury = pk
	}

	st := state.New()
	for _, acc := range g.Accounts {
		addr, err := crypto.ParsePublicKey(acc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: account address: %w", err)
		}
		bal, ok := new(uint256.Int).SetString(acc.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("genesis: account %s has invalid balance %q", acc.Address, acc.Balance)
		}
		st.SetBalance(addr, bal)
	}

	vset := validatorset.New(g.ChainParams.MaxValidators, g.ChainParams.MinStake)
	stakingEngine := staking.NewEngine(g.Schema())
	tier := staking.TierNoLock

	for _, v := range g.Validators {
		pk, err := crypto.ParsePublicKey(v.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("genesis: validator pubkey: %w", err)
		}
		vset.Add(&validatorset.Record{
			Pubkey:        pk,
			SelfStake:     v.Stake,
			CommissionBps: v.Commission,
			Status:        validatorset.StatusStandby,
		})
		if _, err := stakingEngine.Bond(pk, pk, v.Stake, tier, 0); err != nil {
			return nil, fmt.Errorf("genesis: bond validator %s: %w", v.Pubkey, err)
		}
	}

	effectiveStake := func(pk crypto.PublicKey) uint64 {
		var total uint64
		for _, e := range stakingEngine.Entries(pk) {
			w, _ := staking.EffectiveStake(stakingEngine.Schema, e.Tier, e.Amount)
			total += w
		}
		return total
	}
	vset.Rotate(effectiveStake)

	market, err := fees.NewMarket(g.ChainParams.BaseFeeFloor, g.ChainParams.BaseFeeFloor, g.ChainParams.TargetGasPerBlock, g.ChainParams.ElasticityMultiplier)
	if err != nil {
		return nil, err
	}

	schedule := fees.Schedule{
		Regime: fees.RegimeFixed,
		Fixed: fees.Split{
			BurnBps:      g.ChainParams.FeeBurnBps,
			ValidatorBps: g.ChainParams.FeeValidatorBps,
			TreasuryBps:  g.ChainParams.FeeTreasuryBps,
			DeveloperBps: g.ChainParams.FeeDeveloperBps,
		},
	}

	return &Bootstrap{State: st, Validators: vset, Staking: stakingEngine, FeeMarket: market, FeeSchedule: schedule, Treasury: treasury}, nil
}
