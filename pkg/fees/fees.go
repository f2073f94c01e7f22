// Package fees implements the EIP-1559-style base-fee update rule and
// the four-way fee split with exact integer conservation (spec §4.3).
//
// Grounded on the teacher's pkg/economics GasModel (baseGasPrice,
// gasTarget, burnRatio, treasuryRatio, validatorGasShare), generalized
// to the spec's precise rounding and epoch-interpolation rules.
package fees

import "fmt"

const bpsDenominator = 10000

// Split is a four-way fee-destination ratio in basis points, summing to
// 10000.
type Split struct {
	BurnBps      uint64
	ValidatorBps uint64
	TreasuryBps  uint64
	DeveloperBps uint64
}

// Sum returns the sum of all four bps fields.
func (s Split) Sum() uint64 {
	return s.BurnBps + s.ValidatorBps + s.TreasuryBps + s.DeveloperBps
}

// DefaultFixedSplit is the genesis-default fixed split (40/30/20/10).
var DefaultFixedSplit = Split{BurnBps: 4000, ValidatorBps: 3000, TreasuryBps: 2000, DeveloperBps: 1000}

// Amounts is the result of splitting a fee amount F across the four
// destinations; Burn + Validator + Treasury + Developer == F exactly.
type Amounts struct {
	Burn      uint64
	Validator uint64
	Treasury  uint64
	Developer uint64
}

// Apply splits fee F according to the ratios in s. Each non-burn bucket
// receives floor(F * bps / 10000); the burn bucket absorbs the
// remainder so the four buckets sum to F exactly, even when the burn
// bucket's own bps is zero (spec §4.3, invariant 1, scenario E6).
func (s Split) Apply(f uint64) Amounts {
	validator := f * s.ValidatorBps / bpsDenominator
	treasury := f * s.TreasuryBps / bpsDenominator
	developer := f * s.DeveloperBps / bpsDenominator
	burn := f - validator - treasury - developer
	return Amounts{Burn: burn, Validator: validator, Treasury: treasury, Developer: developer}
}

// Regime selects between the fixed and epoch-interpolated split
// schedules (spec §4.3).
type Regime int

const (
	RegimeFixed Regime = iota
	RegimeEpochInterpolated
)

// Schedule configures the fee-split regime selected at genesis.
type Schedule struct {
	Regime           Regime
	Fixed            Split
	LaunchRatios     Split
	MaturityRatios   Split
	TransitionEpochs uint64 // default 1825
}

// DefaultTransitionEpochs is the spec's default transition window.
const DefaultTransitionEpochs = 1825

// SplitAt returns the Split ratios effective at epoch e.
func (sch Schedule) SplitAt(epoch uint64) Split {
	if sch.Regime == RegimeFixed {
		return sch.Fixed
	}
	t := sch.TransitionEpochs
	if t == 0 {
		t = DefaultTransitionEpochs
	}
	clamped := epoch
	if clamped > t {
		clamped = t
	}
	interp := func(launch, maturity uint64) uint64 {
		if maturity < launch {
			return launch - (launch-maturity)*clamped/t
		}
		return launch + (maturity-launch)*clamped/t
	}
	return Split{
		BurnBps:      interp(sch.LaunchRatios.BurnBps, sch.MaturityRatios.BurnBps),
		ValidatorBps: interp(sch.LaunchRatios.ValidatorBps, sch.MaturityRatios.ValidatorBps),
		TreasuryBps:  interp(sch.LaunchRatios.TreasuryBps, sch.MaturityRatios.TreasuryBps),
		DeveloperBps: interp(sch.LaunchRatios.DeveloperBps, sch.MaturityRatios.DeveloperBps),
	}
}

// Market is the per-block base-fee state (spec §4.3).
type Market struct {
	BaseFee            uint64
	Floor              uint64
	TargetGasPerBlock  uint64
	ElasticityMultiplier uint64 // default 8
}

// DefaultElasticityMultiplier is the spec's default elasticity.
const DefaultElasticityMultiplier = 8

// NewMarket constructs a Market, defaulting ElasticityMultiplier to 8
// when zero.
func NewMarket(baseFee, floor, target, elasticity uint64) (*Market, error) {
	if target == 0 {
		return nil, fmt.Errorf("fees: target_gas_per_block must be non-zero")
	}
	if elasticity == 0 {
		elasticity = DefaultElasticityMultiplier
	}
	return &Market{BaseFee: baseFee, Floor: floor, TargetGasPerBlock: target, ElasticityMultiplier: elasticity}, nil
}

// UpdateBaseFee applies the committed block's actual gas usage to the
// base fee and returns the new value (spec §4.3; Open Question resolved
// in DESIGN.md: uses the just-executed block's actual gas).
//
//	delta = base_fee * (used - target) / target / elasticity
//	new_base_fee = max(floor, base_fee + delta)
//
// Integer division truncates toward zero; a minimum change of ±1 is
// applied when used != target and |delta| < 1, sign following
// used - target, to avoid stalls.
func (m *Market) UpdateBaseFee(used uint64) uint64 {
	if used == m.TargetGasPerBlock {
		return m.BaseFee
	}

	var delta int64
	if used > m.TargetGasPerBlock {
		gasDelta := int64(used - m.TargetGasPerBlock)
		delta = int64(m.BaseFee) * gasDelta / int64(m.TargetGasPerBlock) / int64(m.ElasticityMultiplier)
		if delta == 0 {
			delta = 1
		}
	} else {
		gasDelta := int64(m.TargetGasPerBlock - used)
		delta = -(int64(m.BaseFee) * gasDelta / int64(m.TargetGasPerBlock) / int64(m.ElasticityMultiplier))
		if delta == 0 {
			delta = -1
		}
	}

	next := int64(m.BaseFee) + delta
	if next < int64(m.Floor) {
		next = int64(m.Floor)
	}
	m.BaseFee = uint64(next)
	return m.BaseFee
}

// Clone returns a copy usable as disposable scratch state: calling
// UpdateBaseFee on it never touches m. Used by the executor's
// speculative proposal path.
func (m *Market) Clone() *Market {
	copied := *m
	return &copied
}
