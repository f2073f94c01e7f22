package executor

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/fees"
	"github.com/sjxcrypto/trv1-chain/pkg/slashing"
	"github.com/sjxcrypto/trv1-chain/pkg/staking"
	"github.com/sjxcrypto/trv1-chain/pkg/state"
	"github.com/sjxcrypto/trv1-chain/pkg/validatorset"
)

func newExecutor(t *testing.T) (*Executor, *crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()
	proposer, _ := crypto.GenerateKeyPair()
	treasury, _ := crypto.GenerateKeyPair()

	st := state.New()
	vset := validatorset.New(10, 1)
	vset.Add(&validatorset.Record{Pubkey: proposer.Public, SelfStake: 1000, Status: validatorset.StatusActive})

	stakingEngine := staking.NewEngine(staking.SchemaBonusAPY)
	market, err := fees.NewMarket(1, 1, 15_000_000, 8)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	schedule := fees.Schedule{Regime: fees.RegimeFixed, Fixed: fees.Split{BurnBps: 5000, ValidatorBps: 4000, TreasuryBps: 1000}}

	cfg := Config{GasBasePerTx: 21000, GasPerByte: 68, EpochLength: 10, BlockTimeMs: 2000, JailEpochs: 1, Treasury: treasury.Public}
	ex := New(cfg, st, vset, stakingEngine, market, schedule)
	return ex, proposer, treasury
}

func fundedTx(t *testing.T, ex *Executor, from *crypto.KeyPair, amount, nonce uint64) *chain.Tx {
	t.Helper()
	to, _ := crypto.GenerateKeyPair()
	ex.State.SetBalance(from.Public, new(uint256.Int).SetUint64(amount+1_000_000))
	tx := &chain.Tx{To: to.Public, Amount: amount, Nonce: nonce}
	tx.Sign(from)
	return tx
}

func blockWith(height chain.Height, proposer crypto.PublicKey, txs []*chain.Tx) *chain.Block {
	b := &chain.Block{Header: chain.Header{Height: height, TimestampUnix: 1, Proposer: proposer}, Txs: txs}
	return b
}

func TestProposeThenApplyBlockAgrees(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 0)

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	if _, err := ex.Propose(block); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Re-apply the identical block (with its now-set StateRoot) against a
	// fresh executor seeded identically, exercising ApplyBlock's root check.
	ex2, _, _ := newExecutor(t)
	ex2.State.SetBalance(sender.Public, new(uint256.Int).SetUint64(100+1_000_000))
	if _, err := ex2.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock on an identically-seeded executor should agree on state root: %v", err)
	}
}

func TestApplyBlockRejectsBadTxSignature(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 0)
	tx.Amount = 999 // invalidates signature

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	if _, err := ex.ApplyBlock(block); err == nil {
		t.Fatal("expected a block containing an invalid-signature tx to be rejected outright")
	}
}

func TestApplySkipsStaleNonceWithoutFailingBlock(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 5) // account nonce is 0, tx nonce is 5

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	result, err := ex.Propose(block)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Reason != "nonce mismatch" {
		t.Fatalf("expected the tx to be skipped as a nonce mismatch, got %+v", result.Rejected)
	}
}

func TestApplySkipsInsufficientBalanceWithoutFailingBlock(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	to, _ := crypto.GenerateKeyPair()
	ex.State.SetBalance(sender.Public, uint256.NewInt(10))
	tx := &chain.Tx{To: to.Public, Amount: 1_000_000, Nonce: 0}
	tx.Sign(sender)

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	result, err := ex.Propose(block)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Reason != "insufficient balance" {
		t.Fatalf("expected the tx to be skipped for insufficient balance, got %+v", result.Rejected)
	}
}

func TestApplyRoutesFeesToProposerAndTreasury(t *testing.T) {
	ex, proposer, treasury := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 0)

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	result, err := ex.Propose(block)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if result.FeeCollected == 0 {
		t.Fatal("expected a non-zero fee to be collected")
	}
	if _, err := ex.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	if ex.State.Get(proposer.Public).Balance.IsZero() {
		t.Fatal("expected the validator's fee share to be credited to the proposer")
	}
	if ex.State.Get(treasury.Public).Balance.IsZero() {
		t.Fatal("expected the treasury's fee share to be credited")
	}
	if ex.TotalBurned == 0 {
		t.Fatal("expected the burn share to be tracked in TotalBurned")
	}
}

func TestApplyUpdatesBaseFeeFromGasUsed(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 0)

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	result, err := ex.Propose(block)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := ex.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	if result.NewBaseFee != ex.FeeMarket.BaseFee {
		t.Fatal("expected the market's live base fee to reflect the just-applied block's gas usage")
	}
}

// TestProposeDoesNotMutateLiveExecutor guards against Propose's
// speculative run leaking into canonical state: a proposed block has not
// reached precommit quorum and may never commit.
func TestProposeDoesNotMutateLiveExecutor(t *testing.T) {
	ex, proposer, treasury := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 0)
	senderBefore := ex.State.Get(sender.Public).Balance.Clone()

	block := blockWith(0, proposer.Public, []*chain.Tx{tx})
	if _, err := ex.Propose(block); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	acc := ex.State.Get(sender.Public)
	if acc.Nonce != 0 || !acc.Balance.Eq(senderBefore) {
		t.Fatalf("expected Propose to leave the sender's live account untouched, got balance=%s nonce=%d", acc.Balance, acc.Nonce)
	}
	if !ex.State.Get(proposer.Public).Balance.IsZero() {
		t.Fatal("expected Propose to leave the proposer's live fee share uncredited")
	}
	if !ex.State.Get(treasury.Public).Balance.IsZero() {
		t.Fatal("expected Propose to leave the treasury's live fee share uncredited")
	}
	if ex.TotalBurned != 0 {
		t.Fatal("expected Propose to leave TotalBurned untouched")
	}
}

// TestAbandonedProposalNeverDoubleAppliesOnCommit exercises one executor
// through an abandoned proposal followed by a different block committing
// at the same height, the scenario a multi-validator round can produce
// when this node's own proposal misses quorum.
func TestAbandonedProposalNeverDoubleAppliesOnCommit(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	sender, _ := crypto.GenerateKeyPair()
	tx := fundedTx(t, ex, sender, 100, 0)

	abandoned := blockWith(0, proposer.Public, []*chain.Tx{tx})
	if _, err := ex.Propose(abandoned); err != nil {
		t.Fatalf("Propose abandoned block: %v", err)
	}

	other, _ := crypto.GenerateKeyPair()
	committed := blockWith(0, other.Public, nil)
	if _, err := ex.Propose(committed); err != nil {
		t.Fatalf("Propose committed block: %v", err)
	}
	if _, err := ex.ApplyBlock(committed); err != nil {
		t.Fatalf("ApplyBlock committed block: %v", err)
	}

	acc := ex.State.Get(sender.Public)
	if acc.Nonce != 0 {
		t.Fatalf("expected the abandoned proposal's transaction to never have executed against live state, got nonce %d", acc.Nonce)
	}
	if !ex.State.Get(other.Public).Balance.IsZero() {
		t.Fatal("expected only the actually-committed block's proposer to be credited")
	}
}

func TestApplyBlockDetectsStateRootMismatch(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	block := blockWith(0, proposer.Public, nil)
	block.Header.StateRoot = crypto.Sum256([]byte("wrong"))

	if _, err := ex.ApplyBlock(block); err == nil {
		t.Fatal("expected ApplyBlock to reject a block whose header state root does not match")
	}
}

func TestApplyEvidenceSlashesAndJailsOffender(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	offender, _ := crypto.GenerateKeyPair()
	ex.Validators.Add(&validatorset.Record{Pubkey: offender.Public, SelfStake: 1000, Status: validatorset.StatusActive})
	ex.Staking.Bond(offender.Public, offender.Public, 1000, staking.TierNoLock, 0)

	ev := &chain.Evidence{Kind: chain.EvidenceDoubleSign, Offender: offender.Public, Height: 0, ObservedAtHeight: 0}
	ex.Slashing.Submit(ev, 0)

	block := blockWith(0, proposer.Public, nil)
	result, err := ex.Propose(block)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(result.SlashEvents) != 1 {
		t.Fatalf("expected one slash event to be applied, got %d", len(result.SlashEvents))
	}
	if _, err := ex.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	r, _ := ex.Validators.Get(offender.Public)
	if r.SelfStake >= 1000 {
		t.Fatal("expected the offender's self-stake to be reduced")
	}
	if r.Status != validatorset.StatusJailed {
		t.Fatal("expected the offender to be jailed")
	}
}

func TestEpochBoundaryAccruesRewardsAndRotatesValidatorSet(t *testing.T) {
	ex, proposer, _ := newExecutor(t)
	// 100_000_000 at 500 bps APY over a 20-second epoch accrues a gross reward of 3.
	ex.Staking.Bond(proposer.Public, proposer.Public, 100_000_000, staking.TierNoLock, 0)

	// EpochLength is 10, so height 9 is the last block of epoch 0.
	block := blockWith(9, proposer.Public, nil)
	result, err := ex.Propose(block)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(result.RewardEvents) == 0 {
		t.Fatal("expected epoch rewards to accrue at the epoch boundary")
	}
	if len(result.RotationEvents) == 0 {
		t.Fatal("expected validator-set rotation to run at the epoch boundary")
	}
}

func TestObserveVoteQueuesEvidenceOnConflictingVotes(t *testing.T) {
	ex, _, _ := newExecutor(t)
	validator, _ := crypto.GenerateKeyPair()

	v1 := &chain.Vote{Height: 1, Round: 0, Step: chain.StepPrevote, HasBlock: true, BlockHash: crypto.Sum256([]byte("a"))}
	v1.Sign(validator)
	v2 := &chain.Vote{Height: 1, Round: 0, Step: chain.StepPrevote, HasBlock: true, BlockHash: crypto.Sum256([]byte("b"))}
	v2.Sign(validator)

	ex.ObserveVote(v1, 1)
	ex.ObserveVote(v2, 1)

	if pending := ex.Slashing.DrainPending(); len(pending) != 1 {
		t.Fatalf("expected exactly one queued evidence event, got %d", len(pending))
	}
}

func TestObserveMissedBlockSubmitsEvidenceAtThreshold(t *testing.T) {
	ex, _, _ := newExecutor(t)
	validator, _ := crypto.GenerateKeyPair()
	ex.Validators.Add(&validatorset.Record{Pubkey: validator.Public, SelfStake: 1000, Status: validatorset.StatusActive})

	for i := uint64(0); i < slashing.DefaultDowntimeThreshold; i++ {
		ex.ObserveMissedBlock(validator.Public, chain.Height(i))
	}
	if pending := ex.Slashing.DrainPending(); len(pending) != 1 {
		t.Fatalf("expected downtime evidence to be submitted once the miss threshold is reached, got len %d", len(pending))
	}
}
