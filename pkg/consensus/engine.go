// Package consensus implements the pure, I/O-free 3-phase BFT commit
// engine (Propose -> Prevote -> Precommit -> Commit) with locking,
// valid-round re-proposal, timeout backoff and evidence generation
// (spec §4.1).
//
// Grounded on the teacher's pkg/consensus/l1_consensus.go Proposal/Vote/
// Commit/VoteType shapes and round/height/epoch state, rewritten as a
// pure message-in/action-out function — dropping the teacher's
// goroutines, tickers and weighted-random proposer selection in favor
// of the spec's deterministic round-robin and locking rule — in the
// manner of the other_examples nhbchain bft.go engine (State{Height,
// Round}, big-integer vote-power tallying).
package consensus

import (
	"time"

	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/slashing"
)

// ValidatorPower is one active validator's identity and effective
// voting power, as supplied by the validator-set snapshot at the start
// of a height (spec §5 "Shared resources": read-only snapshot).
type ValidatorPower struct {
	ID    crypto.PublicKey
	Power uint64
}

// ActionKind enumerates the engine's pure output actions (spec §4.1
// "Purity").
type ActionKind int

const (
	ActionProposeBlock ActionKind = iota
	ActionCastVote
	ActionCommitBlock
	ActionScheduleTimeout
	ActionEmitEvidence
)

// Action is one instruction emitted by the engine for the caller (node
// driver) to execute; the engine itself never performs I/O.
type Action struct {
	Kind ActionKind

	Height chain.Height
	Round  chain.Round
	Step   chain.Step

	// ActionProposeBlock: if ReproposeBlock is non-nil the proposer MUST
	// re-broadcast it (at ValidRound); otherwise it must build a fresh
	// block from the mempool.
	ReproposeBlock *chain.Block
	ValidRound     int64

	// ActionCastVote: the vote the caller should sign (as Validator) and
	// broadcast.
	Vote *chain.Vote

	// ActionCommitBlock: the block that reached precommit quorum.
	Block *chain.Block

	// ActionScheduleTimeout: fire a TimeoutMsg for (Height, Round, Step)
	// after Deadline elapses; canceled the moment Step advances (spec §5
	// "Cancellation").
	Deadline time.Duration

	// ActionEmitEvidence: a double-sign detected from observed votes.
	Evidence *chain.Evidence
}

// NoValidRound mirrors chain.NoValidRound for locked_round/valid_round.
const NoValidRound = chain.NoValidRound

// roundVotes tallies one step's votes at one round, per block hash.
type roundVotes struct {
	votedBy     map[crypto.PublicKey]*chain.Vote
	powerByHash map[crypto.Digest]uint64
	nilPower    uint64
}

func newRoundVotes() *roundVotes {
	return &roundVotes{votedBy: make(map[crypto.PublicKey]*chain.Vote), powerByHash: make(map[crypto.Digest]uint64)}
}

// Engine is one participant's BFT state machine instance (spec §4.1
// "State"). It is not goroutine-safe; the caller serializes Handle
// calls (spec §5: the BFT step driver is a single cooperative task).
type Engine struct {
	Self crypto.PublicKey

	active     []ValidatorPower
	totalPower uint64

	height chain.Height
	round  chain.Round
	step   chain.Step

	lockedBlock *chain.Block
	lockedRound int64
	validBlock  *chain.Block
	validRound  int64

	prevotes   map[chain.Round]*roundVotes
	precommits map[chain.Round]*roundVotes

	decided  map[chain.Height]bool
	doubleSign *slashing.DoubleSignDetector
}

// NewEngine constructs an Engine for self, starting at height 0, round
// 0, step Propose (spec §4.1 "Initial").
func NewEngine(self crypto.PublicKey) *Engine {
	return &Engine{
		Self:        self,
		lockedRound: NoValidRound,
		validRound:  NoValidRound,
		prevotes:    make(map[chain.Round]*roundVotes),
		precommits:  make(map[chain.Round]*roundVotes),
		decided:     make(map[chain.Height]bool),
		doubleSign:  slashing.NewDoubleSignDetector(),
	}
}

// Height returns the engine's current height.
func (e *Engine) Height() chain.Height { return e.height }

// Round returns the engine's current round.
func (e *Engine) Round() chain.Round { return e.round }

// Step returns the engine's current step.
func (e *Engine) Step() chain.Step { return e.step }

// quorumThreshold returns floor(2*total/3); a matching vote power must
// be strictly greater than this (spec §4.1 "Quorum").
func (e *Engine) quorumThreshold() uint64 {
	return (2 * e.totalPower) / 3
}

func timeoutPropose(round chain.Round) time.Duration {
	return 3000*time.Millisecond + time.Duration(round)*500*time.Millisecond
}
func timeoutPrevote(round chain.Round) time.Duration {
	return 1000*time.Millisecond + time.Duration(round)*500*time.Millisecond
}
func timeoutPrecommit(round chain.Round) time.Duration {
	return 1000*time.Millisecond + time.Duration(round)*500*time.Millisecond
}

// Proposer returns the deterministic round-robin proposer for (height,
// round) over the active set (spec §4.1 "Proposer selection"). The
// active slice must already be sorted by effective stake descending,
// pubkey lex ascending (the validatorset package's Rotate guarantees
// this ordering).
func Proposer(active []ValidatorPower, height chain.Height, round chain.Round) (crypto.PublicKey, bool) {
	if len(active) == 0 {
		return crypto.PublicKey{}, false
	}
	idx := (height + uint64(round)) % uint64(len(active))
	return active[idx].ID, true
}

func (e *Engine) powerOf(id crypto.PublicKey) uint64 {
	for _, v := range e.active {
		if v.ID == id {
			return v.Power
		}
	}
	return 0
}

// EnterHeight resets the engine to (height, 0, Propose) with a fresh
// active-set snapshot (spec §4.1 "Initial" re-applied at every height,
// spec §5 "commit events are strictly monotonic in height").
func (e *Engine) EnterHeight(height chain.Height, active []ValidatorPower) []Action {
	e.height = height
	e.round = 0
	e.step = chain.StepPropose
	e.lockedBlock = nil
	e.lockedRound = NoValidRound
	e.validBlock = nil
	e.validRound = NoValidRound
	e.prevotes = make(map[chain.Round]*roundVotes)
	e.precommits = make(map[chain.Round]*roundVotes)
	e.active = active
	var total uint64
	for _, v := range active {
		total += v.Power
	}
	e.totalPower = total
	return e.enterPropose()
}

func (e *Engine) enterPropose() []Action {
	e.step = chain.StepPropose
	actions := []Action{{Kind: ActionScheduleTimeout, Height: e.height, Round: e.round, Step: chain.StepPropose, Deadline: timeoutPropose(e.round)}}
	proposer, ok := Proposer(e.active, e.height, e.round)
	if ok && proposer == e.Self {
		actions = append(actions, Action{
			Kind:           ActionProposeBlock,
			Height:         e.height,
			Round:          e.round,
			ReproposeBlock: e.validBlock,
			ValidRound:     e.validRound,
		})
	}
	return actions
}

// enterRound advances to round+1 at the current height (spec §4.1 step
// 3 "On timeout_precommit... advance to round+1").
func (e *Engine) enterRound(round chain.Round) []Action {
	e.round = round
	return e.enterPropose()
}

// Message is the sealed interface for engine inputs: signed proposals,
// signed votes, and fired timeouts (spec §4.1 "given a feed of signed
// proposal/vote messages").
type Message interface{ isMessage() }

// ProposalMsg wraps an incoming (possibly self-authored) signed
// proposal.
type ProposalMsg struct{ Proposal *chain.Proposal }

// VoteMsg wraps an incoming signed vote.
type VoteMsg struct{ Vote *chain.Vote }

// TimeoutMsg is delivered by the caller's timer wheel when a previously
// scheduled ActionScheduleTimeout deadline elapses and the step has not
// since advanced (spec §5 "Cancellation").
type TimeoutMsg struct {
	Height chain.Height
	Round  chain.Round
	Step   chain.Step
}

func (ProposalMsg) isMessage() {}
func (VoteMsg) isMessage()     {}
func (TimeoutMsg) isMessage()  {}

// Handle consumes one Message and returns the Actions it produces. It
// never performs I/O (spec §4.1 "Purity").
func (e *Engine) Handle(msg Message) []Action {
	switch m := msg.(type) {
	case ProposalMsg:
		return e.handleProposal(m.Proposal)
	case VoteMsg:
		return e.handleVote(m.Vote)
	case TimeoutMsg:
		return e.handleTimeout(m)
	default:
		return nil
	}
}

// handleProposal implements spec §4.1 step 1/2: on a valid proposal
// consistent with locked_block (or no lock), prevote for it; otherwise
// prevote nil.
func (e *Engine) handleProposal(p *chain.Proposal) []Action {
	if p.Height != e.height || p.Round != e.round || e.step != chain.StepPropose {
		return nil
	}
	if !p.VerifySignature() {
		return nil
	}
	proposer, ok := Proposer(e.active, e.height, e.round)
	if !ok || p.Proposer != proposer {
		return nil
	}

	canVote := e.lockedBlock == nil
	if !canVote && e.lockedBlock.Hash() == p.Block.Hash() {
		canVote = true
	}
	if !canVote && p.ValidRound != NoValidRound && p.ValidRound >= e.lockedRound {
		// Proposer supplied proof of quorum prevotes for B' at a valid
		// round >= our locked round: the locking rule permits voting for
		// the new block (spec §4.1 "Locking rule").
		canVote = true
	}

	e.step = chain.StepPrevote
	vote := &chain.Vote{Height: e.height, Round: e.round, Step: chain.StepPrevote, Validator: e.Self}
	if canVote {
		vote.HasBlock = true
		vote.BlockHash = p.Block.Hash()
	}
	actions := []Action{
		{Kind: ActionScheduleTimeout, Height: e.height, Round: e.round, Step: chain.StepPrevote, Deadline: timeoutPrevote(e.round)},
		{Kind: ActionCastVote, Height: e.height, Round: e.round, Step: chain.StepPrevote, Vote: vote},
	}
	return append(actions, e.ingestVote(vote, p.Block)...)
}

func (e *Engine) poolFor(step chain.Step, round chain.Round) *roundVotes {
	var m map[chain.Round]*roundVotes
	if step == chain.StepPrevote {
		m = e.prevotes
	} else {
		m = e.precommits
	}
	rv, ok := m[round]
	if !ok {
		rv = newRoundVotes()
		m[round] = rv
	}
	return rv
}

// handleVote ingests an externally-received vote and evaluates quorum
// transitions (spec §4.1 steps 2-4).
func (e *Engine) handleVote(v *chain.Vote) []Action {
	if v.Height != e.height {
		return nil
	}
	if !v.VerifySignature() {
		return nil
	}
	return e.ingestVote(v, nil)
}

// ingestVote records v in the relevant round pool, checks for a
// double-sign, and evaluates whether the resulting tally crosses quorum
// (spec §4.1 "Quorum", "Double-sign detection"). proposedBlock is the
// block this node currently believes matches v.BlockHash, if known (used
// to advance valid_block/locked_block on prevote quorum and to resolve
// the block to commit on precommit quorum).
func (e *Engine) ingestVote(v *chain.Vote, proposedBlock *chain.Block) []Action {
	var actions []Action

	if prior := e.doubleSign.Observe(v); prior != nil {
		ev := &chain.Evidence{
			Kind:             chain.EvidenceDoubleSign,
			Offender:         v.Validator,
			Height:           v.Height,
			Round:            v.Round,
			PayloadHash:      crypto.Sum256(prior.Signature[:], v.Signature[:]),
			ObservedAtHeight: e.height,
		}
		actions = append(actions, Action{Kind: ActionEmitEvidence, Height: e.height, Round: v.Round, Evidence: ev})
	}

	pool := e.poolFor(v.Step, v.Round)
	power := e.powerOf(v.Validator)
	if _, already := pool.votedBy[v.Validator]; !already {
		pool.votedBy[v.Validator] = v
		if v.HasBlock {
			pool.powerByHash[v.BlockHash] += power
		} else {
			pool.nilPower += power
		}
	}

	if v.Round != e.round {
		return actions
	}

	switch v.Step {
	case chain.StepPrevote:
		if e.step != chain.StepPrevote {
			return actions
		}
		for hash, power := range pool.powerByHash {
			if power > e.quorumThreshold() {
				actions = append(actions, e.onPrevoteQuorum(hash, proposedBlock)...)
				return actions
			}
		}
	case chain.StepPrecommit:
		if e.step != chain.StepPrecommit {
			return actions
		}
		for hash, power := range pool.powerByHash {
			if power > e.quorumThreshold() {
				if block := e.resolveBlock(hash, proposedBlock); block != nil {
					actions = append(actions, e.onPrecommitQuorum(block)...)
				}
				return actions
			}
		}
	}
	return actions
}

// resolveBlock returns the full block matching hash: validBlock,
// lockedBlock, the just-proposed block, or nil if this node never saw
// the winning proposal.
func (e *Engine) resolveBlock(hash crypto.Digest, proposed *chain.Block) *chain.Block {
	if e.validBlock != nil && e.validBlock.Hash() == hash {
		return e.validBlock
	}
	if e.lockedBlock != nil && e.lockedBlock.Hash() == hash {
		return e.lockedBlock
	}
	if proposed != nil && proposed.Hash() == hash {
		return proposed
	}
	return nil
}

// onPrevoteQuorum implements spec §4.1 step 3: Prevote(h) quorum sets
// valid_block/valid_round and locked_block/locked_round, and broadcasts
// Precommit(h).
func (e *Engine) onPrevoteQuorum(hash crypto.Digest, proposed *chain.Block) []Action {
	block := e.resolveBlock(hash, proposed)
	if block == nil {
		return nil
	}
	e.validBlock = block
	e.validRound = int64(e.round)
	e.lockedBlock = block
	e.lockedRound = int64(e.round)

	e.step = chain.StepPrecommit
	vote := &chain.Vote{Height: e.height, Round: e.round, Step: chain.StepPrecommit, Validator: e.Self, HasBlock: true, BlockHash: hash}
	actions := []Action{
		{Kind: ActionScheduleTimeout, Height: e.height, Round: e.round, Step: chain.StepPrecommit, Deadline: timeoutPrecommit(e.round)},
		{Kind: ActionCastVote, Height: e.height, Round: e.round, Step: chain.StepPrecommit, Vote: vote},
	}
	return append(actions, e.ingestVote(vote, block)...)
}

// onPrecommitQuorum implements spec §4.1 step 4: commit the block and
// advance to (height+1, 0, Propose).
func (e *Engine) onPrecommitQuorum(block *chain.Block) []Action {
	if e.decided[e.height] {
		return nil
	}
	e.decided[e.height] = true
	e.step = chain.StepCommit
	return []Action{{Kind: ActionCommitBlock, Height: e.height, Round: e.round, Block: block}}
}

// handleTimeout implements spec §4.1 "Timeouts": a timeout at step S
// casts a nil vote at S and advances to S+1, or to the next round if
// S = Precommit.
func (e *Engine) handleTimeout(t TimeoutMsg) []Action {
	if t.Height != e.height || t.Round != e.round || t.Step != e.step {
		return nil // stale: step already advanced, timer was canceled
	}
	switch t.Step {
	case chain.StepPropose:
		e.step = chain.StepPrevote
		vote := &chain.Vote{Height: e.height, Round: e.round, Step: chain.StepPrevote, Validator: e.Self}
		actions := []Action{
			{Kind: ActionScheduleTimeout, Height: e.height, Round: e.round, Step: chain.StepPrevote, Deadline: timeoutPrevote(e.round)},
			{Kind: ActionCastVote, Height: e.height, Round: e.round, Step: chain.StepPrevote, Vote: vote},
		}
		return append(actions, e.ingestVote(vote, nil)...)
	case chain.StepPrevote:
		e.step = chain.StepPrecommit
		vote := &chain.Vote{Height: e.height, Round: e.round, Step: chain.StepPrecommit, Validator: e.Self}
		actions := []Action{
			{Kind: ActionScheduleTimeout, Height: e.height, Round: e.round, Step: chain.StepPrecommit, Deadline: timeoutPrecommit(e.round)},
			{Kind: ActionCastVote, Height: e.height, Round: e.round, Step: chain.StepPrecommit, Vote: vote},
		}
		return append(actions, e.ingestVote(vote, nil)...)
	case chain.StepPrecommit:
		return e.enterRound(e.round + 1)
	default:
		return nil
	}
}
