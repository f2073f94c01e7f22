package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/sjxcrypto/trv1-chain/pkg/chain"
	"github.com/sjxcrypto/trv1-chain/pkg/crypto"
	"github.com/sjxcrypto/trv1-chain/pkg/fees"
	"github.com/sjxcrypto/trv1-chain/pkg/staking"
	"github.com/sjxcrypto/trv1-chain/pkg/state"
	"github.com/sjxcrypto/trv1-chain/pkg/validatorset"
)

type stubBackend struct {
	blocks     map[chain.Height]*chain.Block
	latest     *chain.Block
	validators []*validatorset.Record
	entries    []*staking.Entry
	split      fees.Split
	market     *fees.Market
	account    state.Account
	submitErr  error
	submitted  *chain.Tx
}

func (s *stubBackend) LatestBlock() *chain.Block { return s.latest }
func (s *stubBackend) BlockAtHeight(h chain.Height) (*chain.Block, bool) {
	b, ok := s.blocks[h]
	return b, ok
}
func (s *stubBackend) Validators() []*validatorset.Record                     { return s.validators }
func (s *stubBackend) StakingEntries(pubkey crypto.PublicKey) []*staking.Entry { return s.entries }
func (s *stubBackend) FeeInfo() (fees.Split, *fees.Market)                    { return s.split, s.market }
func (s *stubBackend) Account(pubkey crypto.PublicKey) state.Account          { return s.account }
func (s *stubBackend) SubmitTransaction(tx *chain.Tx) error {
	s.submitted = tx
	return s.submitErr
}

func newTestServer() (*Server, *stubBackend) {
	market, _ := fees.NewMarket(1, 1, 15_000_000, 8)
	backend := &stubBackend{blocks: make(map[chain.Height]*chain.Block), market: market}
	logger := log.New(io.Discard, "", 0)
	return NewServer(backend, logger), backend
}

func rpcRequest(t *testing.T, s *Server, method string, params interface{}) response {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: paramsJSON})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestHealthReturnsOK(t *testing.T) {
	s, _ := newTestServer()
	resp := rpcRequest(t, s, "trv1_health", map[string]string{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestGetBlockNotFoundReturnsBlockNotCommitted(t *testing.T) {
	s, _ := newTestServer()
	resp := rpcRequest(t, s, "trv1_getBlock", heightParams{Height: 5})
	if resp.Error == nil || resp.Error.Code != CodeBlockNotCommitted {
		t.Fatalf("expected CodeBlockNotCommitted, got %+v", resp.Error)
	}
}

func TestGetLatestBlockReturnsDTO(t *testing.T) {
	s, backend := newTestServer()
	backend.latest = &chain.Block{Header: chain.Header{Height: 3}}
	resp := rpcRequest(t, s, "trv1_getLatestBlock", map[string]string{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok || uint64(m["height"].(float64)) != 3 {
		t.Fatalf("expected height 3 in result, got %+v", resp.Result)
	}
}

func TestMethodNotFoundReturnsCorrectCode(t *testing.T) {
	s, _ := newTestServer()
	resp := rpcRequest(t, s, "trv1_doesNotExist", map[string]string{})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestSubmitTransactionDecodesAndForwardsToBackend(t *testing.T) {
	s, backend := newTestServer()
	kp, _ := crypto.GenerateKeyPair()
	to, _ := crypto.GenerateKeyPair()
	tx := &chain.Tx{To: to.Public, Amount: 100, Nonce: 0}
	tx.Sign(kp)

	dto := txDTO{
		From:      kp.Public.String(),
		To:        to.Public.String(),
		Amount:    100,
		Nonce:     0,
		Signature: fmt.Sprintf("%x", tx.Signature[:]),
	}
	resp := rpcRequest(t, s, "trv1_submitTransaction", dto)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if backend.submitted == nil || backend.submitted.From != kp.Public {
		t.Fatal("expected the decoded transaction to be forwarded to the backend")
	}
}

func TestSubmitTransactionRejectedByBackendReturnsTransactionRejected(t *testing.T) {
	s, backend := newTestServer()
	backend.submitErr = fmt.Errorf("nonce too low")
	kp, _ := crypto.GenerateKeyPair()
	to, _ := crypto.GenerateKeyPair()
	dto := txDTO{From: kp.Public.String(), To: to.Public.String(), Amount: 1, Nonce: 0}

	resp := rpcRequest(t, s, "trv1_submitTransaction", dto)
	if resp.Error == nil || resp.Error.Code != CodeTransactionRejected {
		t.Fatalf("expected CodeTransactionRejected, got %+v", resp.Error)
	}
}

func TestSubmitTransactionInvalidParamsReturnsInvalidParams(t *testing.T) {
	s, _ := newTestServer()
	dto := txDTO{From: "not-hex", To: "not-hex"}
	resp := rpcRequest(t, s, "trv1_submitTransaction", dto)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams, got %+v", resp.Error)
	}
}

func TestGetAccountReturnsBalanceAndNonce(t *testing.T) {
	s, backend := newTestServer()
	acc := state.Account{Balance: uint256.NewInt(0), Nonce: 7}
	backend.account = acc
	kp, _ := crypto.GenerateKeyPair()

	resp := rpcRequest(t, s, "trv1_getAccount", pubkeyParams{PubkeyHex: kp.Public.String()})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m := resp.Result.(map[string]interface{})
	if uint64(m["nonce"].(float64)) != 7 {
		t.Fatalf("expected nonce 7, got %+v", resp.Result)
	}
}

func TestNonPostRequestRejected(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected CodeInvalidRequest for a non-POST request, got %+v", resp.Error)
	}
}
