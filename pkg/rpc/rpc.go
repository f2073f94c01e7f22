// Package rpc implements the JSON-RPC 2.0 server surface (spec §6):
// read-only chain queries plus transaction submission, served over
// HTTP and backed by read-only snapshots of chain state (spec §5
// "Shared resources").
//
// Grounded on the teacher's pkg/rpc/eth_api.go (HTTP-exposed API
// struct wrapping a Backend interface), generalized from an
// Ethereum-compatible `eth_*` surface to the spec's `trv1_*` method
// set, since there is no EVM here for `eth_call`/`eth_estimateGas` to
// address.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/fees"
	"github.com/sjxcrypto/trv1-chain/pkg/staking"
	"github.com/sjxcrypto/trv1-chain/pkg/state"
	"github.com/sjxcrypto/trv1-chain/pkg/validatorset"
)

// DefaultListenAddr is the spec's default RPC port.
const DefaultListenAddr = ":9944"

// Error codes (spec §6).
const (
	CodeParseError          = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeTransactionRejected  = -32000
	CodeBlockNotCommitted    = -32001
)

// Backend is the read/write chain surface the RPC server queries. The
// node wires its live executor, mempool and chain store behind this
// interface; the server itself never touches them directly.
type Backend interface {
	LatestBlock() *chain.Block
	BlockAtHeight(height chain.Height) (*chain.Block, bool)
	Validators() []*validatorset.Record
	StakingEntries(pubkey crypto.PublicKey) []*staking.Entry
	FeeInfo() (fees.Split, *fees.Market)
	Account(pubkey crypto.PublicKey) state.Account
	SubmitTransaction(tx *chain.Tx) error
}

// Server serves the JSON-RPC 2.0 methods of spec §6 over HTTP.
type Server struct {
	backend Backend
	logger  *log.Logger
}

// NewServer constructs an RPC server over backend.
func NewServer(backend Backend, logger *log.Logger) *Server {
	return &Server{backend: backend, logger: logger}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ServeHTTP implements http.Handler, dispatching one JSON-RPC 2.0
// request per POST body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.New().String()
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, nil, CodeInvalidRequest, "rpc requires POST")
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Printf("rpc[%s]: parse error: %v", correlationID, err)
		s.writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	s.logger.Printf("rpc[%s]: method=%s id=%s", correlationID, req.Method, req.ID)

	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "trv1_health":
		return map[string]string{"status": "ok"}, nil
	case "trv1_getBlock":
		return s.getBlock(params)
	case "trv1_getLatestBlock":
		return s.getLatestBlock()
	case "trv1_getValidators":
		return s.getValidators()
	case "trv1_getStakingInfo":
		return s.getStakingInfo(params)
	case "trv1_getFeeInfo":
		return s.getFeeInfo()
	case "trv1_submitTransaction":
		return s.submitTransaction(params)
	case "trv1_getAccount":
		return s.getAccount(params)
	default:
		return nil, &rpcError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

type heightParams struct {
	Height uint64 `json:"height"`
}

func (s *Server) getBlock(params json.RawMessage) (interface{}, *rpcError) {
	var p heightParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	block, ok := s.backend.BlockAtHeight(p.Height)
	if !ok {
		return nil, &rpcError{Code: CodeBlockNotCommitted, Message: "block not yet committed"}
	}
	return blockToDTO(block), nil
}

func (s *Server) getLatestBlock() (interface{}, *rpcError) {
	block := s.backend.LatestBlock()
	if block == nil {
		return nil, &rpcError{Code: CodeBlockNotCommitted, Message: "no blocks committed yet"}
	}
	return blockToDTO(block), nil
}

func (s *Server) getValidators() (interface{}, *rpcError) {
	records := s.backend.Validators()
	out := make([]validatorDTO, len(records))
	for i, r := range records {
		out[i] = validatorDTO{
			Pubkey:         r.Pubkey.String(),
			SelfStake:      r.SelfStake,
			DelegatedStake: r.DelegatedStake,
			CommissionBps:  r.CommissionBps,
			Status:         r.Status.String(),
		}
	}
	return out, nil
}

type pubkeyParams struct {
	PubkeyHex string `json:"pubkey_hex"`
}

func (s *Server) getStakingInfo(params json.RawMessage) (interface{}, *rpcError) {
	var p pubkeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	pk, err := crypto.ParsePublicKey(p.PubkeyHex)
	if err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	entries := s.backend.StakingEntries(pk)
	out := make([]stakeEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = stakeEntryDTO{
			Owner:         e.Owner.String(),
			Validator:     e.Validator.String(),
			Amount:        e.Amount,
			Tier:          string(e.Tier),
			BondedAtEpoch: e.BondedAtEpoch,
		}
	}
	return out, nil
}

func (s *Server) getFeeInfo() (interface{}, *rpcError) {
	split, market := s.backend.FeeInfo()
	return feeInfoDTO{
		BaseFee:           market.BaseFee,
		Floor:             market.Floor,
		TargetGasPerBlock: market.TargetGasPerBlock,
		Split: splitDTO{
			BurnBps:      split.BurnBps,
			ValidatorBps: split.ValidatorBps,
			TreasuryBps:  split.TreasuryBps,
			DeveloperBps: split.DeveloperBps,
		},
	}, nil
}

func (s *Server) submitTransaction(params json.RawMessage) (interface{}, *rpcError) {
	var dto txDTO
	if err := json.Unmarshal(params, &dto); err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	tx, err := dto.toTx()
	if err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if err := s.backend.SubmitTransaction(tx); err != nil {
		return nil, &rpcError{Code: CodeTransactionRejected, Message: err.Error()}
	}
	return map[string]string{"tx_hash": tx.Hash().String()}, nil
}

func (s *Server) getAccount(params json.RawMessage) (interface{}, *rpcError) {
	var p pubkeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	pk, err := crypto.ParsePublicKey(p.PubkeyHex)
	if err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	acc := s.backend.Account(pk)
	return accountDTO{Balance: acc.Balance.String(), Nonce: acc.Nonce}, nil
}

type validatorDTO struct {
	Pubkey         string `json:"pubkey"`
	SelfStake      uint64 `json:"self_stake"`
	DelegatedStake uint64 `json:"delegated_stake"`
	CommissionBps  uint64 `json:"commission_bps"`
	Status         string `json:"status"`
}

type stakeEntryDTO struct {
	Owner         string `json:"owner"`
	Validator     string `json:"validator"`
	Amount        uint64 `json:"amount"`
	Tier          string `json:"tier"`
	BondedAtEpoch uint64 `json:"bonded_at_epoch"`
}

type splitDTO struct {
	BurnBps      uint64 `json:"burn_bps"`
	ValidatorBps uint64 `json:"validator_bps"`
	TreasuryBps  uint64 `json:"treasury_bps"`
	DeveloperBps uint64 `json:"developer_bps"`
}

type feeInfoDTO struct {
	BaseFee           uint64   `json:"base_fee"`
	Floor             uint64   `json:"floor"`
	TargetGasPerBlock uint64   `json:"target_gas_per_block"`
	Split             splitDTO `json:"split"`
}

type accountDTO struct {
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type txDTO struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
	Data      string `json:"data"`
}

func (d txDTO) toTx() (*chain.Tx, error) {
	from, err := crypto.ParsePublicKey(d.From)
	if err != nil {
		return nil, err
	}
	to, err := crypto.ParsePublicKey(d.To)
	if err != nil {
		return nil, err
	}
	var sig crypto.Signature
	if d.Signature != "" {
		b, decErr := hex.DecodeString(d.Signature)
		if decErr != nil {
			return nil, decErr
		}
		if len(b) != len(sig) {
			return nil, fmt.Errorf("rpc: signature must be %d bytes, got %d", len(sig), len(b))
		}
		copy(sig[:], b)
	}
	var data []byte
	if d.Data != "" {
		decoded, decErr := hex.DecodeString(d.Data)
		if decErr != nil {
			return nil, decErr
		}
		data = decoded
	}
	return &chain.Tx{From: from, To: to, Amount: d.Amount, Nonce: d.Nonce, Signature: sig, Data: data}, nil
}

func blockToDTO(b *chain.Block) blockDTO {
	txs := make([]txDTO, len(b.Txs))
	for i, t := range b.Txs {
		txs[i] = txDTO{
			From:      t.From.String(),
			To:        t.To.String(),
			Amount:    t.Amount,
			Nonce:     t.Nonce,
			Signature: hex.EncodeToString(t.Signature[:]),
			Data:      hex.EncodeToString(t.Data),
		}
	}
	return blockDTO{
		Height:        b.Header.Height,
		TimestampUnix: b.Header.TimestampUnix,
		ParentHash:    b.Header.ParentHash.String(),
		Proposer:      b.Header.Proposer.String(),
		StateRoot:     b.Header.StateRoot.String(),
		TxMerkleRoot:  b.Header.TxMerkleRoot.String(),
		Txs:           txs,
	}
}

type blockDTO struct {
	Height        uint64  `json:"height"`
	TimestampUnix uint64  `json:"timestamp_unix"`
	ParentHash    string  `json:"parent_hash"`
	Proposer      string  `json:"proposer"`
	StateRoot     string  `json:"state_root"`
	TxMerkleRoot  string  `json:"tx_merkle_root"`
	Txs           []txDTO `json:"transactions"`
}
