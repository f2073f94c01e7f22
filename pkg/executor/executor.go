// Package executor applies committed blocks to account state
// deterministically: transaction execution, fee routing, staking reward
// accrual, slashing and epoch-boundary validator-set rotation (spec
// §4.2).
//
// Grounded on the teacher's pkg/l1chain/lightchain_l1.go, which wired
// consensus, economics and staking into one sequential per-block
// pipeline; generalized here to the spec's explicit eleven-step
// transaction and block pipeline and its exact per-tx fee-routing rule.
package executor

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/chainerrors"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/fees"
	"github.com/sjxcrypto/trv1-chain/pkg/rewards"
	"github.com/sjxcrypto/trv1-chain/pkg/slashing"
	"github.com/sjxcrypto/trv1-chain/pkg/staking"
	"github.com/sjxcrypto/trv1-chain/pkg/state"
	"github.com/sjxcrypto/trv1-chain/pkg/validatorset"
)

// Config carries the genesis-derived protocol parameters the executor
// needs beyond what the component engines already own.
type Config struct {
	GasBasePerTx uint64
	GasPerByte   uint64

	EpochLength uint64 // in blocks
	BlockTimeMs uint64
	JailEpochs  uint64

	Treasury crypto.PublicKey
}

// epochLengthSeconds converts the configured block cadence and epoch
// length into the wall-clock epoch length the staking reward formula
// requires (spec §4.4).
func (c Config) epochLengthSeconds() uint64 {
	return c.EpochLength * c.BlockTimeMs / 1000
}

// Executor owns the live chain state and the component engines it
// orchestrates per block (spec §5: "owned exclusively by the block
// executor").
type Executor struct {
	Config Config

	State       *state.State
	Validators  *validatorset.Set
	Staking     *staking.Engine
	Slashing    *slashing.Pool
	DoubleSign  *slashing.DoubleSignDetector
	Developers  *rewards.Registry
	FeeMarket   *fees.Market
	FeeSchedule fees.Schedule

	TotalBurned uint64

	// jailed is the append-only record of every pubkey ever jailed,
	// consulted by unjailEligible at each epoch boundary.
	jailed []crypto.PublicKey
}

// New constructs an Executor over a genesis bootstrap.
func New(cfg Config, state *state.State, validators *validatorset.Set, stakingEngine *staking.Engine, feeMarket *fees.Market, feeSchedule fees.Schedule) *Executor {
	return &Executor{
		Config:      cfg,
		State:       state,
		Validators:  validators,
		Staking:     stakingEngine,
		Slashing:    slashing.NewPool(cfg.EpochLength * slashing.DefaultEvidenceWindowEpochs),
		DoubleSign:  slashing.NewDoubleSignDetector(),
		Developers:  rewards.NewRegistry(),
		FeeMarket:   feeMarket,
		FeeSchedule: feeSchedule,
	}
}

// Epoch returns the epoch number containing height.
func (e *Executor) Epoch(height chain.Height) uint64 {
	if e.Config.EpochLength == 0 {
		return 0
	}
	return height / e.Config.EpochLength
}

// isEpochBoundary reports whether height is the last block of its
// epoch (spec §4.5: "At each epoch boundary").
func (e *Executor) isEpochBoundary(height chain.Height) bool {
	if e.Config.EpochLength == 0 {
		return false
	}
	return (height+1)%e.Config.EpochLength == 0
}

// TxRejection records a transaction that failed admission at execution
// time (stale nonce or insufficient balance) and was skipped without
// mutating state, rather than invalidating the whole block (spec §4.2
// step 2/4, §7).
type TxRejection struct {
	Hash   crypto.Digest
	Reason string
}

// Result summarizes everything that happened while applying a block.
type Result struct {
	Rejected      []TxRejection
	GasUsed       uint64
	FeeCollected  uint64
	NewBaseFee    uint64
	SlashEvents   []slashing.Event
	RotationEvents []validatorset.Event
	RewardEvents  []staking.RewardEvent
	StateRoot     crypto.Digest
}

// ApplyBlock executes block deterministically against the current
// state and returns the resulting side effects. A non-nil error means
// the block as a whole is invalid (bad signature found among its
// transactions, or a state-root mismatch) and must not be committed.
func (e *Executor) ApplyBlock(block *chain.Block) (*Result, error) {
	return e.apply(block, true)
}

// Propose runs block through the same pipeline ApplyBlock does, against
// a disposable clone of the executor's state, and writes the resulting
// root into block.Header.StateRoot instead of validating it against an
// already-set value. It is how this node's own proposer fills in the
// one header field that can only be known after running the pipeline.
//
// The clone matters: a proposed block has not reached precommit quorum
// yet, and may never — a different block can still commit at this
// height. Running the pipeline against the live executor here would let
// an abandoned proposal's speculative execution leak into canonical
// state, corrupting it before the block that actually commits is ever
// applied. Only ApplyBlock, called once a block is known to have
// committed, may mutate the live executor — including for this node's
// own proposals, which are re-applied through ApplyBlock like any other
// committed block.
func (e *Executor) Propose(block *chain.Block) (*Result, error) {
	result, err := e.clone().apply(block, false)
	if err != nil {
		return nil, err
	}
	block.Header.StateRoot = result.StateRoot
	return result, nil
}

// clone returns a disposable copy of the executor's mutable components.
// Config and FeeSchedule are plain values and copy naturally; DoubleSign
// is read-only with respect to apply (ObserveVote feeds it outside the
// block pipeline) and is safe to share.
func (e *Executor) clone() *Executor {
	return &Executor{
		Config:      e.Config,
		State:       e.State.Clone(),
		Validators:  e.Validators.Clone(),
		Staking:     e.Staking.Clone(),
		Slashing:    e.Slashing.Clone(),
		DoubleSign:  e.DoubleSign,
		Developers:  e.Developers.Clone(),
		FeeMarket:   e.FeeMarket.Clone(),
		FeeSchedule: e.FeeSchedule,
		TotalBurned: e.TotalBurned,
		jailed:      append([]crypto.PublicKey(nil), e.jailed...),
	}
}

func (e *Executor) apply(block *chain.Block, checkRoot bool) (*Result, error) {
	result := &Result{}

	var feeBurnTotal, feeValidatorTotal, feeTreasuryTotal uint64
	epoch := e.Epoch(block.Header.Height)
	split := e.FeeSchedule.SplitAt(epoch)

	for _, tx := range block.Txs {
		if !tx.VerifySignature() {
			return nil, chainerrors.Wrap(chainerrors.KindConsensusFault, fmt.Errorf("block %d contains transaction %s with invalid signature", block.Header.Height, tx.Hash()))
		}

		acc := e.State.Get(tx.From)
		if tx.Nonce != acc.Nonce {
			result.Rejected = append(result.Rejected, TxRejection{Hash: tx.Hash(), Reason: "nonce mismatch"})
			continue
		}

		gasUsed := chain.GasUsed(tx, e.Config.GasPerByte, e.Config.GasBasePerTx)
		fee := gasUsed * e.FeeMarket.BaseFee

		need := new(uint256.Int).SetUint64(tx.Amount)
		need.Add(need, new(uint256.Int).SetUint64(fee))
		if acc.Balance.Lt(need) {
			result.Rejected = append(result.Rejected, TxRejection{Hash: tx.Hash(), Reason: "insufficient balance"})
			continue
		}

		if err := e.State.Debit(tx.From, need); err != nil {
			return nil, chainerrors.Wrap(chainerrors.KindStateError, err)
		}
		e.State.Credit(tx.To, new(uint256.Int).SetUint64(tx.Amount))
		e.State.IncrementNonce(tx.From)

		if tx.IsContractDeployment() {
			e.Developers.RecordDeployment(tx.From, tx.To)
		}

		amounts := split.Apply(fee)
		feeBurnTotal += amounts.Burn
		feeValidatorTotal += amounts.Validator
		recipient := e.Developers.Recipient(tx.To, e.Config.Treasury)
		if recipient == e.Config.Treasury {
			feeTreasuryTotal += amounts.Treasury + amounts.Developer
		} else {
			feeTreasuryTotal += amounts.Treasury
			e.State.Credit(recipient, new(uint256.Int).SetUint64(amounts.Developer))
		}

		result.GasUsed += gasUsed
		result.FeeCollected += fee
	}

	// A produced block ends its proposer's run of missed blocks.
	if r, ok := e.Validators.Get(block.Header.Proposer); ok {
		r.MissedBlockCounter = 0
	}

	e.TotalBurned += feeBurnTotal
	e.State.Credit(block.Header.Proposer, new(uint256.Int).SetUint64(feeValidatorTotal))
	e.State.Credit(e.Config.Treasury, new(uint256.Int).SetUint64(feeTreasuryTotal))

	for _, ev := range e.Slashing.DrainPending() {
		se, err := e.applyEvidence(ev, epoch)
		if err != nil {
			return nil, fmt.Errorf("executor: %w", err)
		}
		result.SlashEvents = append(result.SlashEvents, se)
	}
	e.Slashing.Prune(block.Header.Height)

	if e.isEpochBoundary(block.Header.Height) {
		commissionOf := func(validator crypto.PublicKey) uint64 {
			if r, ok := e.Validators.Get(validator); ok {
				return r.CommissionBps
			}
			return 0
		}
		events, err := e.Staking.AccrueEpochRewards(e.Config.epochLengthSeconds(), commissionOf)
		if err != nil {
			return nil, fmt.Errorf("executor: %w", err)
		}
		for _, ev := range events {
			e.State.Credit(ev.Owner, new(uint256.Int).SetUint64(ev.Net))
		}
		result.RewardEvents = events

		e.unjailEligible(epoch + 1)

		effectiveStake := func(pk crypto.PublicKey) uint64 {
			var total uint64
			for _, entry := range e.Staking.Entries(pk) {
				w, err := staking.EffectiveStake(e.Staking.Schema, entry.Tier, entry.Amount)
				if err == nil {
					total += w
				}
			}
			return total
		}
		result.RotationEvents = e.Validators.Rotate(effectiveStake)
	}

	result.NewBaseFee = e.FeeMarket.UpdateBaseFee(result.GasUsed)

	root := e.State.Root()
	if checkRoot && root != block.Header.StateRoot {
		return nil, chainerrors.Wrap(chainerrors.KindIntegrityError, fmt.Errorf("state root mismatch at height %d: computed %s, header %s", block.Header.Height, root, block.Header.StateRoot))
	}
	result.StateRoot = root
	return result, nil
}

// applyEvidence slashes the offender's self-stake, jails it and records
// the deterministic slash event (spec §4.6).
func (e *Executor) applyEvidence(ev *chain.Evidence, epoch uint64) (slashing.Event, error) {
	r, ok := e.Validators.Get(ev.Offender)
	if !ok {
		return slashing.Event{}, fmt.Errorf("unknown offender %s in evidence", ev.Offender)
	}
	amount := slashing.Compute(ev.Kind, r.SelfStake)
	if amount > r.SelfStake {
		amount = r.SelfStake
	}
	r.SelfStake -= amount
	if err := e.Staking.RemoveSlashedAmount(ev.Offender, amount); err != nil {
		return slashing.Event{}, err
	}
	e.TotalBurned += amount
	e.Validators.Jail(ev.Offender, epoch)
	e.trackJailed(ev.Offender)
	return slashing.Event{Offender: ev.Offender, Kind: ev.Kind, Amount: amount, Height: ev.ObservedAtHeight, EvidenceHash: ev.Hash()}, nil
}

// unjailEligible releases validators jailed at least JailEpochs epochs
// ago back to Standby, where the next Rotate call may re-admit them
// (spec §4.6).
func (e *Executor) unjailEligible(currentEpoch uint64) {
	for _, pk := range e.jailed {
		r, ok := e.Validators.Get(pk)
		if !ok {
			continue
		}
		if currentEpoch >= r.JailedAtEpoch+e.Config.JailEpochs {
			e.Validators.Unjail(pk)
		}
	}
}

// ObserveMissedBlock records that validator failed to produce its
// scheduled block, submitting Downtime evidence once the consecutive
// miss count reaches the spec's threshold (spec §4.6).
func (e *Executor) ObserveMissedBlock(validator crypto.PublicKey, height chain.Height) {
	r, ok := e.Validators.Get(validator)
	if !ok {
		return
	}
	r.MissedBlockCounter++
	if r.MissedBlockCounter < slashing.DefaultDowntimeThreshold {
		return
	}
	r.MissedBlockCounter = 0
	ev := &chain.Evidence{
		Kind:             chain.EvidenceDowntime,
		Offender:         validator,
		Height:           height,
		PayloadHash:      crypto.Sum256(validator[:]),
		ObservedAtHeight: height,
	}
	if e.Slashing.Submit(ev, height) {
		e.trackJailed(validator)
	}
}

// ObserveVote feeds a vote through the double-sign detector, queuing
// evidence the moment a conflicting signed vote is found (spec §4.1).
func (e *Executor) ObserveVote(v *chain.Vote, height chain.Height) {
	prior := e.DoubleSign.Observe(v)
	if prior == nil {
		return
	}
	ev := &chain.Evidence{
		Kind:             chain.EvidenceDoubleSign,
		Offender:         v.Validator,
		Height:           v.Height,
		Round:            v.Round,
		PayloadHash:      crypto.Sum256(prior.Signature[:], v.Signature[:]),
		ObservedAtHeight: height,
	}
	if e.Slashing.Submit(ev, height) {
		e.trackJailed(v.Validator)
	}
}

func (e *Executor) trackJailed(pk crypto.PublicKey) {
	for _, existing := range e.jailed {
		if existing == pk {
			return
		}
	}
	e.jailed = append(e.jailed, pk)
}

