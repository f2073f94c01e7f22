package fees

import "testing"

func TestApplyConservesTotal(t *testing.T) {
	split := Split{BurnBps: 4000, ValidatorBps: 3000, TreasuryBps: 2000, DeveloperBps: 1000}
	for _, f := range []uint64{0, 1, 7, 100, 999, 1_000_003} {
		amounts := split.Apply(f)
		if sum := amounts.Burn + amounts.Validator + amounts.Treasury + amounts.Developer; sum != f {
			t.Fatalf("Apply(%d) = %+v, sum %d != %d", f, amounts, sum, f)
		}
	}
}

func TestApplyBurnAbsorbsRoundingRemainder(t *testing.T) {
	split := Split{BurnBps: 0, ValidatorBps: 3333, TreasuryBps: 3333, DeveloperBps: 3334}
	amounts := split.Apply(10)
	if sum := amounts.Burn + amounts.Validator + amounts.Treasury + amounts.Developer; sum != 10 {
		t.Fatalf("expected exact conservation even with zero burn bps, got sum %d", sum)
	}
}

func TestScheduleSplitAtFixedRegime(t *testing.T) {
	sch := Schedule{Regime: RegimeFixed, Fixed: DefaultFixedSplit}
	if got := sch.SplitAt(0); got != DefaultFixedSplit {
		t.Fatalf("expected fixed regime to ignore epoch, got %+v", got)
	}
	if got := sch.SplitAt(10_000); got != DefaultFixedSplit {
		t.Fatalf("expected fixed regime to ignore epoch, got %+v", got)
	}
}

func TestScheduleSplitAtInterpolatedBoundaries(t *testing.T) {
	sch := Schedule{
		Regime:           RegimeEpochInterpolated,
		LaunchRatios:     Split{BurnBps: 6000, ValidatorBps: 2000, TreasuryBps: 1500, DeveloperBps: 500},
		MaturityRatios:   Split{BurnBps: 4000, ValidatorBps: 3000, TreasuryBps: 2000, DeveloperBps: 1000},
		TransitionEpochs: 100,
	}
	if got := sch.SplitAt(0); got != sch.LaunchRatios {
		t.Fatalf("expected epoch 0 to equal launch ratios, got %+v", got)
	}
	if got := sch.SplitAt(100); got != sch.MaturityRatios {
		t.Fatalf("expected epoch at transition boundary to equal maturity ratios, got %+v", got)
	}
	if got := sch.SplitAt(1000); got != sch.MaturityRatios {
		t.Fatalf("expected epoch past the transition window to clamp to maturity ratios, got %+v", got)
	}
}

func TestUpdateBaseFeeAtTargetIsUnchanged(t *testing.T) {
	m, err := NewMarket(1000, 1, 15_000_000, 8)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	if got := m.UpdateBaseFee(15_000_000); got != 1000 {
		t.Fatalf("expected base fee unchanged at target gas usage, got %d", got)
	}
}

func TestUpdateBaseFeeRisesAboveTarget(t *testing.T) {
	m, _ := NewMarket(1000, 1, 15_000_000, 8)
	next := m.UpdateBaseFee(30_000_000)
	if next <= 1000 {
		t.Fatalf("expected base fee to rise above target, got %d", next)
	}
}

func TestUpdateBaseFeeFallsBelowTargetButRespectsFloor(t *testing.T) {
	m, _ := NewMarket(2, 1, 15_000_000, 8)
	next := m.UpdateBaseFee(0)
	if next < m.Floor {
		t.Fatalf("base fee must never drop below the configured floor, got %d floor %d", next, m.Floor)
	}
}

func TestUpdateBaseFeeMinimumStepAvoidsStall(t *testing.T) {
	m, _ := NewMarket(1, 1, 15_000_000, 8)
	next := m.UpdateBaseFee(15_000_001)
	if next <= 1 {
		t.Fatal("expected a minimum +1 step when the computed delta rounds to zero")
	}
}

func TestNewMarketRejectsZeroTarget(t *testing.T) {
	if _, err := NewMarket(1, 1, 0, 8); err == nil {
		t.Fatal("expected error for zero target gas per block")
	}
}

func TestNewMarketDefaultsElasticity(t *testing.T) {
	m, err := NewMarket(1, 1, 100, 0)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	if m.ElasticityMultiplier != DefaultElasticityMultiplier {
		t.Fatalf("expected default elasticity %d, got %d", DefaultElasticityMultiplier, m.ElasticityMultiplier)
	}
}
