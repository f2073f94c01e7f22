// Package node wires the protocol packages (pkg/executor, pkg/consensus,
// pkg/mempool, pkg/rpc, pkg/network) into one running validator process
// (SPEC_FULL.md §5).
//
// Grounded on the teacher's internal/node/node.go lifecycle shape
// (Config/Node split, log.Logger, Start(ctx)/Stop(), per-component start
// helpers) generalized from the teacher's validator/sequencer/archive
// NodeType switch — out of scope here, spec §1 names one node kind — to
// a golang.org/x/sync/errgroup-supervised task set: networking, the BFT
// step driver, and the RPC server each run as one errgroup goroutine,
// communicating over the bounded `inbox` channel. pkg/consensus's Engine
// itself stays a synchronous function; only this package ever calls
// Handle, on a single goroutine.
package node

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/sjxcrypto/trv1-chain/internal/config"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/consensus"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/executor"
	"github.com/sjxcrypto/trv1-chain/pkg/fees"
	"github.com/sjxcrypto/trv1-chain/pkg/genesis"
	"github.com/sjxcrypto/trv1-chain/pkg/mempool"
	"github.com/sjxcrypto/trv1-chain/pkg/network"
	"github.com/sjxcrypto/trv1-chain/pkg/rpc"
	"github.com/sjxcrypto/trv1-chain/pkg/staking"
	"github.com/sjxcrypto/trv1-chain/pkg/state"
	"github.com/sjxcrypto/trv1-chain/pkg/validatorset"
)

// Node runs one validator: it owns the executor and the BFT engine, and
// drives them from a channel of consensus messages fed by the network
// hub and by its own timeout timers.
type Node struct {
	cfg     *config.Config
	logger  *log.Logger
	keyPair *crypto.KeyPair

	executor *executor.Executor
	mempool  *mempool.Pool
	engine   *consensus.Engine
	hub      *network.Hub
	listener *network.Listener
	rpcSrv   *rpc.Server
	store    *blockStore

	inbox chan consensus.Message

	mu        sync.RWMutex
	activeSet []consensus.ValidatorPower
}

// New constructs a Node from a loaded config, a parsed-and-validated
// genesis file, its bootstrap, and this validator's key pair.
func New(cfg *config.Config, gen *genesis.Genesis, boot *genesis.Bootstrap, keyPair *crypto.KeyPair, logger *log.Logger) (*Node, error) {
	execCfg := executor.Config{
		GasBasePerTx: gen.ChainParams.GasBasePerTx,
		GasPerByte:   gen.ChainParams.GasPerByte,
		EpochLength:  gen.ChainParams.EpochLength,
		BlockTimeMs:  gen.ChainParams.BlockTimeMs,
		JailEpochs:   gen.ChainParams.JailEpochs,
		Treasury:     boot.Treasury,
	}
	exec := executor.New(execCfg, boot.State, boot.Validators, boot.Staking, boot.FeeMarket, boot.FeeSchedule)

	store, err := newBlockStore(cfg.Storage.HotTierSize)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		keyPair:  keyPair,
		executor: exec,
		mempool:  mempool.New(),
		engine:   consensus.NewEngine(keyPair.Public),
		hub:      network.NewHub(),
		store:    store,
		inbox:    make(chan consensus.Message, 256),
	}
	n.listener = network.NewListener(n.hub, logger)
	n.rpcSrv = rpc.NewServer(n, logger)
	return n, nil
}

// Run starts every component task and blocks until ctx is canceled or a
// task returns an error.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if n.cfg.RPC.Enabled {
		g.Go(func() error { return n.runRPCServer(ctx) })
	}
	g.Go(func() error { return n.runNetworkListener(ctx) })
	g.Go(func() error { return n.runSubscriber(ctx, network.TopicProposal) })
	g.Go(func() error { return n.runSubscriber(ctx, network.TopicVote) })
	g.Go(func() error { return n.runStepDriver(ctx) })

	return g.Wait()
}

func (n *Node) runRPCServer(ctx context.Context) error {
	addr := n.cfg.RPC.ListenAddr
	if addr == "" {
		addr = rpc.DefaultListenAddr
	}
	srv := &http.Server{Addr: addr, Handler: n.rpcSrv}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), n.cfg.RPC.GetTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("node: rpc server: %w", err)
	}
}

func (n *Node) runNetworkListener(ctx context.Context) error {
	addr := n.cfg.Network.ListenAddr
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: n.listener}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("node: p2p listener: %w", err)
	}
}

// runSubscriber forwards every payload the hub delivers for topic into
// the consensus inbox, decoded into the matching Message type. It is
// also how this node's own broadcasts loop back to itself: Run never
// special-cases self-authored proposals or votes.
func (n *Node) runSubscriber(ctx context.Context, topic network.Topic) error {
	ch := n.hub.Subscribe(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			msg, err := decodeTopicPayload(topic, payload)
			if err != nil {
				n.logger.Printf("node: dropping malformed %s payload: %v", topic, err)
				continue
			}
			select {
			case n.inbox <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodeTopicPayload(topic network.Topic, payload []byte) (consensus.Message, error) {
	switch topic {
	case network.TopicProposal:
		p, err := chain.UnmarshalCanonicalProposal(payload)
		if err != nil {
			return nil, err
		}
		return consensus.ProposalMsg{Proposal: p}, nil
	case network.TopicVote:
		v, err := chain.UnmarshalCanonicalVote(payload)
		if err != nil {
			return nil, err
		}
		return consensus.VoteMsg{Vote: v}, nil
	default:
		return nil, fmt.Errorf("node: unexpected topic %s", topic)
	}
}

// runStepDriver is the single goroutine that ever calls engine.Handle:
// the BFT engine is not goroutine-safe (spec §5), so every message and
// every action side effect is serialized here.
func (n *Node) runStepDriver(ctx context.Context) error {
	n.mu.Lock()
	n.activeSet = n.validatorPowers()
	n.mu.Unlock()
	n.dispatch(ctx, n.engine.EnterHeight(0, n.activeSet))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.inbox:
			if t, ok := msg.(consensus.TimeoutMsg); ok && t.Step == chain.StepPropose {
				n.observeProposeTimeout(t)
			}
			n.dispatch(ctx, n.engine.Handle(msg))
		}
	}
}

// observeProposeTimeout records a missed block against the height's
// scheduled proposer the moment its propose timeout fires (spec §4.6);
// harmless no-op once this node is the sole validator and always
// proposes successfully.
func (n *Node) observeProposeTimeout(t consensus.TimeoutMsg) {
	n.mu.RLock()
	active := n.activeSet
	n.mu.RUnlock()
	proposer, ok := consensus.Proposer(active, t.Height, t.Round)
	if !ok || proposer == n.keyPair.Public {
		return
	}
	n.executor.ObserveMissedBlock(proposer, t.Height)
}

// dispatch executes every action the engine emitted, in order.
func (n *Node) dispatch(ctx context.Context, actions []consensus.Action) {
	for _, a := range actions {
		switch a.Kind {
		case consensus.ActionScheduleTimeout:
			n.scheduleTimeout(ctx, a)
		case consensus.ActionProposeBlock:
			n.proposeBlock(a)
		case consensus.ActionCastVote:
			n.castVote(a)
		case consensus.ActionCommitBlock:
			n.commitBlock(ctx, a)
		case consensus.ActionEmitEvidence:
			n.logger.Printf("node: consensus-level evidence observed: offender=%s kind=%s height=%d", a.Evidence.Offender, a.Evidence.Kind, a.Evidence.Height)
		}
	}
}

func (n *Node) scheduleTimeout(ctx context.Context, a consensus.Action) {
	time.AfterFunc(a.Deadline, func() {
		select {
		case n.inbox <- consensus.TimeoutMsg{Height: a.Height, Round: a.Round, Step: a.Step}:
		case <-ctx.Done():
		}
	})
}

func (n *Node) proposeBlock(a consensus.Action) {
	block := a.ReproposeBlock
	if block == nil {
		var err error
		block, err = n.buildBlock(a.Height)
		if err != nil {
			n.logger.Printf("node: build block at height %d: %v", a.Height, err)
			return
		}
	}

	proposal := &chain.Proposal{Height: a.Height, Round: a.Round, Block: block, ValidRound: a.ValidRound}
	proposal.Sign(n.keyPair)
	if err := n.hub.Publish(network.TopicProposal, network.EncodeProposal(proposal)); err != nil {
		n.logger.Printf("node: publish proposal: %v", err)
	}
}

// buildBlock reaps the mempool and runs the proposed block through a
// disposable clone of the executor so the header's state_root is known
// before it is ever broadcast (executor.Propose, spec §4.2 step 11).
// Propose never touches live state: this block has not reached
// precommit quorum yet, and commitBlock re-executes it through
// ApplyBlock like any other committed block once it actually commits.
func (n *Node) buildBlock(height chain.Height) (*chain.Block, error) {
	parentHash := crypto.Digest{}
	if parent, ok := n.store.Latest(); ok {
		parentHash = parent.Hash()
	}

	txs := n.mempool.Reap(n.cfg.Mempool.MaxBlockGas, n.cfg.Mempool.MinTxGas)
	block := &chain.Block{
		Header: chain.Header{
			Height:        height,
			TimestampUnix: uint64(time.Now().Unix()),
			ParentHash:    parentHash,
			Proposer:      n.keyPair.Public,
		},
		Txs: txs,
	}
	block.ComputeTxMerkleRoot()

	if _, err := n.executor.Propose(block); err != nil {
		return nil, err
	}
	return block, nil
}

func (n *Node) castVote(a consensus.Action) {
	a.Vote.Sign(n.keyPair)
	n.executor.ObserveVote(a.Vote, n.engine.Height())
	if err := n.hub.Publish(network.TopicVote, network.EncodeVote(a.Vote)); err != nil {
		n.logger.Printf("node: publish vote: %v", err)
	}
}

// commitBlock finalizes a.Block: applying it to the live executor
// (executor.ApplyBlock, validating the proposer's claimed state_root),
// storing it, evicting its transactions from the mempool, and advancing
// the engine to the next height. ApplyBlock runs uniformly here for
// every committed block, including ones this node itself proposed:
// proposal-time execution (executor.Propose) only ever touches a
// disposable clone, so this is the one place a block's effects ever
// reach canonical state.
func (n *Node) commitBlock(ctx context.Context, a consensus.Action) {
	if _, err := n.executor.ApplyBlock(a.Block); err != nil {
		n.logger.Printf("node: reject block at height %d: %v", a.Height, err)
		return
	}

	n.store.Put(a.Block)

	hashes := make([]crypto.Digest, len(a.Block.Txs))
	for i, tx := range a.Block.Txs {
		hashes[i] = tx.Hash()
	}
	n.mempool.EvictCommitted(hashes, func(pk crypto.PublicKey) uint64 { return n.executor.State.Get(pk).Nonce })

	n.logger.Printf("node: committed block height=%d txs=%d state_root=%s", a.Height, len(a.Block.Txs), a.Block.Header.StateRoot)

	n.mu.Lock()
	n.activeSet = n.validatorPowers()
	n.mu.Unlock()
	n.dispatch(ctx, n.engine.EnterHeight(a.Height+1, n.activeSet))
}

// validatorPowers snapshots the executor's ranked active set into the
// consensus engine's voting-power view (spec §5 "Shared resources": a
// read-only snapshot taken once per height).
func (n *Node) validatorPowers() []consensus.ValidatorPower {
	active := n.executor.Validators.Active()
	out := make([]consensus.ValidatorPower, 0, len(active))
	for _, r := range active {
		out = append(out, consensus.ValidatorPower{ID: r.Pubkey, Power: n.effectiveStake(r.Pubkey)})
	}
	return out
}

func (n *Node) effectiveStake(pk crypto.PublicKey) uint64 {
	var total uint64
	for _, e := range n.executor.Staking.Entries(pk) {
		w, err := staking.EffectiveStake(n.executor.Staking.Schema, e.Tier, e.Amount)
		if err == nil {
			total += w
		}
	}
	return total
}

// The methods below implement rpc.Backend. They run on the RPC server's
// own goroutine, concurrently with the step driver; the executor's
// component engines are otherwise only ever mutated synchronously
// between commits, so these reads are safe without extra locking beyond
// what State.Snapshot already does.

// LatestBlock implements rpc.Backend.
func (n *Node) LatestBlock() *chain.Block {
	block, ok := n.store.Latest()
	if !ok {
		return nil
	}
	return block
}

// BlockAtHeight implements rpc.Backend.
func (n *Node) BlockAtHeight(height chain.Height) (*chain.Block, bool) {
	return n.store.Get(height)
}

// Validators implements rpc.Backend.
func (n *Node) Validators() []*validatorset.Record {
	return n.executor.Validators.Active()
}

// StakingEntries implements rpc.Backend.
func (n *Node) StakingEntries(pubkey crypto.PublicKey) []*staking.Entry {
	return n.executor.Staking.Entries(pubkey)
}

// FeeInfo implements rpc.Backend.
func (n *Node) FeeInfo() (fees.Split, *fees.Market) {
	epoch := n.executor.Epoch(n.engine.Height())
	return n.executor.FeeSchedule.SplitAt(epoch), n.executor.FeeMarket
}

// Account implements rpc.Backend.
func (n *Node) Account(pubkey crypto.PublicKey) state.Account {
	snapshot := n.executor.State.Snapshot()
	if acc, ok := snapshot[pubkey]; ok {
		return acc
	}
	return state.Account{Balance: uint256.NewInt(0)}
}

// SubmitTransaction implements rpc.Backend: admits tx into the mempool
// after validating it against the current account state and fee market
// (spec §4.8).
func (n *Node) SubmitTransaction(tx *chain.Tx) error {
	acc := n.executor.State.Get(tx.From)
	gasUsed := chain.GasUsed(tx, n.executor.Config.GasPerByte, n.executor.Config.GasBasePerTx)
	return n.mempool.Admit(tx, acc.Nonce, acc.Balance, gasUsed, n.executor.FeeMarket.BaseFee)
}
