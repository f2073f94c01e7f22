package staking

import (
	"testing"

	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
)

func TestEffectiveStakeWeighting(t *testing.T) {
	got, err := EffectiveStake(SchemaBonusAPY, TierOneYear, 1000)
	if err != nil {
		t.Fatalf("EffectiveStake: %v", err)
	}
	if want := uint64(3000); got != want {
		t.Fatalf("expected one_year tier (3.0x) to weight 1000 -> %d, got %d", want, got)
	}
}

func TestEffectiveStakeUnknownTier(t *testing.T) {
	if _, err := EffectiveStake(SchemaBonusAPY, "nonexistent", 100); err == nil {
		t.Fatal("expected error for an unknown tier")
	}
}

func TestBondTopUpSameTier(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	owner, _ := crypto.GenerateKeyPair()
	validator, _ := crypto.GenerateKeyPair()

	if _, err := e.Bond(owner.Public, validator.Public, 100, TierNoLock, 0); err != nil {
		t.Fatalf("Bond: %v", err)
	}
	entry, err := e.Bond(owner.Public, validator.Public, 50, TierNoLock, 0)
	if err != nil {
		t.Fatalf("Bond top-up: %v", err)
	}
	if entry.Amount != 150 {
		t.Fatalf("expected topped-up amount 150, got %d", entry.Amount)
	}
}

func TestBondRejectsTierChangeWithoutUnbond(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	owner, _ := crypto.GenerateKeyPair()
	validator, _ := crypto.GenerateKeyPair()

	if _, err := e.Bond(owner.Public, validator.Public, 100, TierNoLock, 0); err != nil {
		t.Fatalf("Bond: %v", err)
	}
	if _, err := e.Bond(owner.Public, validator.Public, 100, TierOneYear, 0); err == nil {
		t.Fatal("expected error re-bonding at a different tier without unbonding first")
	}
}

func TestCanUnbondRespectsLockAndPermanent(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	owner, _ := crypto.GenerateKeyPair()
	validator, _ := crypto.GenerateKeyPair()

	e.Bond(owner.Public, validator.Public, 100, TierSixMonth, 10)
	if ok, _ := e.CanUnbond(owner.Public, validator.Public, 15); ok {
		t.Fatal("expected unbond to be locked before bonded_at_epoch + lock_epochs")
	}
	if ok, err := e.CanUnbond(owner.Public, validator.Public, 10+180); !ok || err != nil {
		t.Fatalf("expected unbond to unlock at bonded_at_epoch + lock_epochs, ok=%v err=%v", ok, err)
	}

	permOwner, _ := crypto.GenerateKeyPair()
	e.Bond(permOwner.Public, validator.Public, 100, TierPermanent, 0)
	if ok, _ := e.CanUnbond(permOwner.Public, validator.Public, 1_000_000); ok {
		t.Fatal("permanent tier must never be unbondable")
	}
}

func TestUnbondRemovesEntry(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	owner, _ := crypto.GenerateKeyPair()
	validator, _ := crypto.GenerateKeyPair()
	e.Bond(owner.Public, validator.Public, 100, TierNoLock, 0)

	amount, err := e.Unbond(owner.Public, validator.Public, 0)
	if err != nil {
		t.Fatalf("Unbond: %v", err)
	}
	if amount != 100 {
		t.Fatalf("expected withdrawn amount 100, got %d", amount)
	}
	if _, ok := e.Entry(owner.Public, validator.Public); ok {
		t.Fatal("expected entry to be removed after unbonding")
	}
}

func TestRemoveSlashedAmountClampsToAvailable(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	validator, _ := crypto.GenerateKeyPair()
	e.Bond(validator.Public, validator.Public, 50, TierNoLock, 0)

	if err := e.RemoveSlashedAmount(validator.Public, 1000); err != nil {
		t.Fatalf("RemoveSlashedAmount: %v", err)
	}
	entry, _ := e.Entry(validator.Public, validator.Public)
	if entry.Amount != 0 {
		t.Fatalf("expected self-stake clamped to zero, got %d", entry.Amount)
	}
}

func TestAccrueEpochRewardsAppliesCommissionToDelegatorsOnly(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	validator, _ := crypto.GenerateKeyPair()
	delegator, _ := crypto.GenerateKeyPair()

	e.Bond(validator.Public, validator.Public, 1_000_000, TierNoLock, 0)
	e.Bond(delegator.Public, validator.Public, 1_000_000, TierNoLock, 0)

	commission := func(crypto.PublicKey) uint64 { return 1000 } // 10%
	events, err := e.AccrueEpochRewards(secondsPerYear, commission)
	if err != nil {
		t.Fatalf("AccrueEpochRewards: %v", err)
	}

	var delegatorEvent, validatorSelfEvent *RewardEvent
	var commissionCredit uint64
	for i := range events {
		ev := events[i]
		if ev.Owner == delegator.Public {
			delegatorEvent = &ev
		}
		if ev.Owner == validator.Public && ev.Validator == validator.Public && ev.Gross == 0 && ev.Net > 0 {
			commissionCredit = ev.Net
		}
		if ev.Owner == validator.Public && ev.Gross > 0 {
			validatorSelfEvent = &ev
		}
	}
	if delegatorEvent == nil || validatorSelfEvent == nil {
		t.Fatalf("expected both a delegator reward event and a validator self-stake reward event, got %+v", events)
	}
	if delegatorEvent.Commission == 0 {
		t.Fatal("expected delegator reward to have commission deducted")
	}
	if validatorSelfEvent.Commission != 0 {
		t.Fatal("expected validator's own self-stake reward to bear no commission")
	}
	if commissionCredit == 0 {
		t.Fatal("expected a separate commission-credit event routed to the validator")
	}
}

func TestAccrueEpochRewardsSkipsZeroGross(t *testing.T) {
	e := NewEngine(SchemaBonusAPY)
	owner, _ := crypto.GenerateKeyPair()
	validator, _ := crypto.GenerateKeyPair()
	e.Bond(owner.Public, validator.Public, 1, TierNoLock, 0)

	events, err := e.AccrueEpochRewards(1, func(crypto.PublicKey) uint64 { return 0 })
	if err != nil {
		t.Fatalf("AccrueEpochRewards: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no reward events for a gross reward that floors to zero, got %+v", events)
	}
}
