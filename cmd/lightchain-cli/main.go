// Command lightchain-cli is the operator and developer tool for the
// chain: it generates validator keys, authors and hashes genesis files,
// and talks to a running node's JSON-RPC surface to submit transactions
// and query chain state.
//
// Grounded on the teacher's cmd/lightchain-cli/main.go cobra command
// tree (rootCmd + persistent flags + command groups), stripped of its
// simulated perf/dev/bridge command groups — there is no EVM or bridge
// here to drive — in favor of commands that exercise the real
// pkg/crypto, pkg/genesis and pkg/rpc wire formats (SPEC_FULL.md §6).
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/genesis"
)

const cliName = "lightchain-cli"

var rpcURL string

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "Operator and developer tool for a trv1 chain validator",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "http://127.0.0.1:9944", "node JSON-RPC endpoint")

	keygenCmd.Flags().String("output", "", "path to write the hex-encoded signing seed (required)")
	keygenCmd.MarkFlagRequired("output")

	genesisInitCmd.Flags().String("chain-id", "", "chain identifier (required)")
	genesisInitCmd.Flags().String("output", "", "path to write the genesis file (required)")
	genesisInitCmd.MarkFlagRequired("chain-id")
	genesisInitCmd.MarkFlagRequired("output")

	addValidatorCmd.Flags().String("genesis", "", "path to the genesis file to update (required)")
	addValidatorCmd.Flags().String("pubkey", "", "hex-encoded validator public key (required)")
	addValidatorCmd.Flags().Uint64("stake", 0, "self-bonded stake amount (required)")
	addValidatorCmd.Flags().Uint64("commission", 0, "commission in basis points")
	addValidatorCmd.MarkFlagRequired("genesis")
	addValidatorCmd.MarkFlagRequired("pubkey")
	addValidatorCmd.MarkFlagRequired("stake")

	genesisHashCmd.Flags().String("genesis", "", "path to the genesis file to hash (required)")
	genesisHashCmd.MarkFlagRequired("genesis")

	genesisCmd.AddCommand(genesisInitCmd, addValidatorCmd, genesisHashCmd)

	sendCmd.Flags().String("key", "", "path to the sender's hex-encoded seed file (required)")
	sendCmd.Flags().String("to", "", "hex-encoded recipient public key (required)")
	sendCmd.Flags().Uint64("amount", 0, "amount to transfer")
	sendCmd.Flags().Uint64("nonce", 0, "sender account nonce")
	sendCmd.Flags().String("data", "", "hex-encoded opaque data payload")
	sendCmd.MarkFlagRequired("key")
	sendCmd.MarkFlagRequired("to")

	queryBlockCmd.Flags().Uint64("height", 0, "block height")
	accountCmd.Flags().String("pubkey", "", "hex-encoded account public key (required)")
	accountCmd.MarkFlagRequired("pubkey")
	stakingInfoCmd.Flags().String("pubkey", "", "hex-encoded validator public key (required)")
	stakingInfoCmd.MarkFlagRequired("pubkey")

	queryCmd.AddCommand(queryBlockCmd, latestCmd, validatorsCmd, accountCmd, feesCmd, stakingInfoCmd)

	rootCmd.AddCommand(keygenCmd, genesisCmd, sendCmd, queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// keygen

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new ed25519 validator signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		seedHex := hex.EncodeToString(kp.Seed())
		if err := os.WriteFile(out, []byte(seedHex+"\n"), 0600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		fmt.Printf("public key: %s\n", kp.Public)
		fmt.Printf("seed written to %s\n", out)
		return nil
	},
}

// genesis

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Author and inspect genesis files",
}

var genesisInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a fresh genesis file with default chain parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		chainID, _ := cmd.Flags().GetString("chain-id")
		out, _ := cmd.Flags().GetString("output")

		g := &genesis.Genesis{
			ChainID:     chainID,
			GenesisTime: uint64(time.Now().Unix()),
			ChainParams: genesis.ChainParams{
				EpochLength:          100,
				BlockTimeMs:          2000,
				MaxValidators:        100,
				MinStake:             1000,
				BaseFeeFloor:         1,
				TargetGasPerBlock:    15_000_000,
				ElasticityMultiplier: 2,
				FeeBurnBps:           5000,
				FeeValidatorBps:      4000,
				FeeTreasuryBps:       1000,
				FeeDeveloperBps:      0,
				SlashDoubleSignBps:   500,
				SlashDowntimeBps:     100,
				SlashInvalidBlockBps: 1000,
				StakingSchema:        "bonus_apy",
				StakingBaseApyBps:    500,
				GasBasePerTx:         21000,
				GasPerByte:           68,
				EvidenceWindowEpochs: 2,
				JailEpochs:           1,
			},
		}
		return writeGenesis(out, g)
	},
}

var addValidatorCmd = &cobra.Command{
	Use:   "add-validator",
	Short: "Append a genesis-bonded validator to a genesis file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("genesis")
		pubkey, _ := cmd.Flags().GetString("pubkey")
		stake, _ := cmd.Flags().GetUint64("stake")
		commission, _ := cmd.Flags().GetUint64("commission")

		g, err := readGenesis(path)
		if err != nil {
			return err
		}
		if _, err := crypto.ParsePublicKey(pubkey); err != nil {
			return fmt.Errorf("pubkey: %w", err)
		}
		g.Validators = append(g.Validators, genesis.GenesisValidator{
			Pubkey:     pubkey,
			Stake:      stake,
			Commission: commission,
		})
		g.GenesisHash = ""
		return writeGenesis(path, g)
	},
}

var genesisHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Validate a genesis file and stamp its genesis_hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("genesis")
		g, err := readGenesis(path)
		if err != nil {
			return err
		}
		if err := g.Validate(); err != nil {
			return err
		}
		hash, err := g.ComputeHash()
		if err != nil {
			return err
		}
		g.GenesisHash = hash.String()
		if err := writeGenesis(path, g); err != nil {
			return err
		}
		fmt.Printf("genesis_hash: %s\n", g.GenesisHash)
		return nil
	},
}

func readGenesis(path string) (*genesis.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return genesis.Parse(data)
}

func writeGenesis(path string, g *genesis.Genesis) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal genesis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// tx send

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a transfer transaction to a node's RPC endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		toHex, _ := cmd.Flags().GetString("to")
		amount, _ := cmd.Flags().GetUint64("amount")
		nonce, _ := cmd.Flags().GetUint64("nonce")
		dataHex, _ := cmd.Flags().GetString("data")

		kp, err := loadKeyPair(keyPath)
		if err != nil {
			return err
		}
		to, err := crypto.ParsePublicKey(toHex)
		if err != nil {
			return fmt.Errorf("to: %w", err)
		}
		var data []byte
		if dataHex != "" {
			data, err = hex.DecodeString(dataHex)
			if err != nil {
				return fmt.Errorf("data: %w", err)
			}
		}

		tx := &chain.Tx{To: to, Amount: amount, Nonce: nonce, Data: data}
		tx.Sign(kp)

		result, err := rpcCall("trv1_submitTransaction", map[string]interface{}{
			"from":      tx.From.String(),
			"to":        tx.To.String(),
			"amount":    tx.Amount,
			"nonce":     tx.Nonce,
			"signature": hex.EncodeToString(tx.Signature[:]),
			"data":      hex.EncodeToString(tx.Data),
		})
		if err != nil {
			return err
		}
		fmt.Println(string(result))
		return nil
	},
}

func loadKeyPair(path string) (*crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	return crypto.KeyPairFromSeed(seed)
}

// query

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a running node's JSON-RPC surface",
}

var queryBlockCmd = &cobra.Command{
	Use:   "block",
	Short: "Fetch the block at a given height",
	RunE: func(cmd *cobra.Command, args []string) error {
		height, _ := cmd.Flags().GetUint64("height")
		return printRPCCall("trv1_getBlock", map[string]interface{}{"height": height})
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Fetch the latest committed block",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRPCCall("trv1_getLatestBlock", map[string]interface{}{})
	},
}

var validatorsCmd = &cobra.Command{
	Use:   "validators",
	Short: "List the active validator set",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRPCCall("trv1_getValidators", map[string]interface{}{})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Fetch an account's balance and nonce",
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey, _ := cmd.Flags().GetString("pubkey")
		return printRPCCall("trv1_getAccount", map[string]interface{}{"pubkey_hex": pubkey})
	},
}

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Fetch the current fee split and base fee",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRPCCall("trv1_getFeeInfo", map[string]interface{}{})
	},
}

var stakingInfoCmd = &cobra.Command{
	Use:   "staking",
	Short: "Fetch a validator's staking entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		pubkey, _ := cmd.Flags().GetString("pubkey")
		return printRPCCall("trv1_getStakingInfo", map[string]interface{}{"pubkey_hex": pubkey})
	},
}

func printRPCCall(method string, params interface{}) error {
	result, err := rpcCall(method, params)
	if err != nil {
		return err
	}
	fmt.Println(string(result))
	return nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func rpcCall(method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(rpcURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, rpcResp.Result, "", "  "); err != nil {
		return rpcResp.Result, nil
	}
	return pretty.Bytes(), nil
}
