// Command lightchain runs a single validator process: it loads a node
// configuration and genesis file, reconstructs the validator's signing
// key, and drives consensus, execution, RPC and P2P until terminated.
//
// Grounded on the teacher's cmd/lightchain/main.go flag-parsing and
// signal-handling shape, stripped of its L1Config/agglayer/mock-identity
// scaffolding in favor of the real internal/config, pkg/genesis and
// internal/node wiring (SPEC_FULL.md §4.9, §5).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sjxcrypto/trv1-chain/internal/config"
	"github.com/sjxcrypto/trv1-chain/internal/node"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/genesis"
)

func main() {
	configPath := flag.String("config", "", "path to node configuration YAML file (required)")
	flag.Parse()

	logger := log.New(os.Stdout, "trv1  ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("main: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}

	gen, boot, err := loadGenesis(cfg.GenesisPath)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}

	keyPair, err := loadKeyPair(cfg.KeyPath)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}

	n, err := node.New(cfg, gen, boot, keyPair, logger)
	if err != nil {
		logger.Fatalf("main: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Printf("main: starting node chain_id=%s validator=%s", gen.ChainID, keyPair.Public)
	if err := n.Run(ctx); err != nil {
		logger.Fatalf("main: node exited: %v", err)
	}
	logger.Printf("main: shutdown complete")
}

func loadGenesis(path string) (*genesis.Genesis, *genesis.Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read genesis %s: %w", path, err)
	}
	gen, err := genesis.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if err := gen.Validate(); err != nil {
		return nil, nil, err
	}
	if gen.GenesisHash != "" {
		ok, err := gen.VerifyHash()
		if err != nil {
			return nil, nil, fmt.Errorf("genesis hash: %w", err)
		}
		if !ok {
			return nil, nil, fmt.Errorf("genesis: genesis_hash does not match file contents")
		}
	}
	boot, err := genesis.Build(gen)
	if err != nil {
		return nil, nil, err
	}
	return gen, boot, nil
}

// loadKeyPair reads the hex-encoded 32-byte ed25519 seed produced by
// `lightchain-cli keygen`.
func loadKeyPair(path string) (*crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return crypto.KeyPairFromSeed(seed)
}
