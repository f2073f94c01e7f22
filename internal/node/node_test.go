package node

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/internal/config"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/consensus"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/genesis"
)

func testNode(t *testing.T) (*Node, *crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	g := &genesis.Genesis{
		ChainID:     "test-1",
		GenesisTime: 1,
		ChainParams: genesis.ChainParams{
			EpochLength:          100,
			BlockTimeMs:          2000,
			MaxValidators:        10,
			MinStake:             1,
			BaseFeeFloor:         1,
			TargetGasPerBlock:    15_000_000,
			ElasticityMultiplier: 8,
			FeeBurnBps:           5000,
			FeeValidatorBps:      4000,
			FeeTreasuryBps:       1000,
			GasBasePerTx:         21000,
			GasPerByte:           68,
		},
		Validators: []genesis.GenesisValidator{{Pubkey: kp.Public.String(), Stake: 1000}},
	}
	boot, err := genesis.Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cfg := &config.Config{
		DataDir:     t.TempDir(),
		GenesisPath: "genesis.json",
		KeyPath:     "key.hex",
		RPC:         config.RPCConfig{Enabled: false},
		Mempool:     config.MempoolConfig{MaxBlockGas: 21000 * 100, MinTxGas: 21000},
		Storage:     config.StorageConfig{HotTierSize: 16},
	}

	logger := log.New(io.Discard, "", 0)
	n, err := New(cfg, g, boot, kp, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n, kp
}

func TestNewConstructsRunnableNode(t *testing.T) {
	n, kp := testNode(t)
	if n.engine.Self != kp.Public {
		t.Fatal("expected the engine to be keyed to this node's own public key")
	}
}

func TestAccountReturnsZeroValueForUnknownAddress(t *testing.T) {
	n, _ := testNode(t)
	other, _ := crypto.GenerateKeyPair()
	acc := n.Account(other.Public)
	if acc.Nonce != 0 || !acc.Balance.IsZero() {
		t.Fatalf("expected a zero-value account for an unrecorded address, got %+v", acc)
	}
}

func TestAccountDoesNotMutateStateOnRead(t *testing.T) {
	n, _ := testNode(t)
	other, _ := crypto.GenerateKeyPair()
	n.Account(other.Public)

	snapshot := n.executor.State.Snapshot()
	if _, ok := snapshot[other.Public]; ok {
		t.Fatal("expected an RPC account read to never materialize a zero-value account into live state")
	}
}

func TestFeeInfoReflectsGenesisSplit(t *testing.T) {
	n, _ := testNode(t)
	split, market := n.FeeInfo()
	if split.BurnBps != 5000 || split.ValidatorBps != 4000 || split.TreasuryBps != 1000 {
		t.Fatalf("unexpected fee split: %+v", split)
	}
	if market.BaseFee == 0 {
		t.Fatal("expected a non-zero base fee from the genesis fee market")
	}
}

func TestValidatorsListsGenesisValidator(t *testing.T) {
	n, kp := testNode(t)
	vs := n.Validators()
	if len(vs) != 1 || vs[0].Pubkey != kp.Public {
		t.Fatalf("expected the sole genesis validator to be active, got %+v", vs)
	}
}

func TestSubmitTransactionAdmitsValidTx(t *testing.T) {
	n, kp := testNode(t)
	n.executor.State.SetBalance(kp.Public, uint256.NewInt(1_000_000))
	to, _ := crypto.GenerateKeyPair()
	tx := &chain.Tx{To: to.Public, Amount: 100, Nonce: 0}
	tx.Sign(kp)

	if err := n.SubmitTransaction(tx); err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if n.mempool.Len() != 1 {
		t.Fatalf("expected the tx to land in the mempool, got len %d", n.mempool.Len())
	}
}

func TestSubmitTransactionRejectsInsufficientBalance(t *testing.T) {
	n, kp := testNode(t)
	to, _ := crypto.GenerateKeyPair()
	tx := &chain.Tx{To: to.Public, Amount: 1_000_000, Nonce: 0}
	tx.Sign(kp)

	if err := n.SubmitTransaction(tx); err == nil {
		t.Fatal("expected submission to fail for an account with no balance")
	}
}

func TestLatestBlockNilBeforeAnyCommit(t *testing.T) {
	n, _ := testNode(t)
	if n.LatestBlock() != nil {
		t.Fatal("expected LatestBlock to be nil before any block has been committed")
	}
}

// TestBuildAndCommitSingleValidatorBlock exercises the propose/commit
// pipeline directly (bypassing Run's goroutines and timers), mirroring
// what a single-validator step driver does in one height.
func TestBuildAndCommitSingleValidatorBlock(t *testing.T) {
	n, kp := testNode(t)
	n.activeSet = n.validatorPowers()

	block, err := n.buildBlock(0)
	if err != nil {
		t.Fatalf("buildBlock: %v", err)
	}
	if block.Header.StateRoot == (crypto.Digest{}) {
		t.Fatal("expected Propose to have written a non-zero state root before broadcast")
	}

	n.commitBlock(context.Background(), consensus.Action{Kind: consensus.ActionCommitBlock, Height: 0, Block: block})

	latest := n.LatestBlock()
	if latest == nil || latest.Header.Height != 0 {
		t.Fatal("expected the committed block to be retrievable as the latest block")
	}
	if n.engine.Height() != 1 {
		t.Fatalf("expected commitBlock to advance the engine to height 1, got %d", n.engine.Height())
	}
}
