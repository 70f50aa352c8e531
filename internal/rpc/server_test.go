package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/miner"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// testEnv holds all components for an RPC test.
type testEnv struct {
	server    *Server
	chain     *chain.Chain
	utxoStore *utxo.Store
	pool      *mempool.Pool
	genesis   *config.Genesis
	key       *crypto.PrivateKey
	addr      types.Address
	addrHex   string
	url       string
	db        storage.DB
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	addrHex := addr.String()

	gen := config.RegtestGenesis()
	gen.ChainID = "klingnet-test-rpc"
	gen.Timestamp = uint64(time.Now().Unix())
	gen.Alloc = map[string]uint64{addrHex: 100_000 * config.Coin}

	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)

	ch, err := chain.New(db, gen.Protocol.Consensus)
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}
	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	pool := mempool.New(utxoStore, ch.Height)
	pool.SetMinFeeRate(gen.Protocol.Consensus.MinFeeRate)

	pow := consensus.NewPoW(1)

	srv := New("127.0.0.1:0", ch, utxoStore, pool, nil, gen, pow)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:    srv,
		chain:     ch,
		utxoStore: utxoStore,
		pool:      pool,
		genesis:   gen,
		key:       key,
		addr:      addr,
		addrHex:   addrHex,
		url:       fmt.Sprintf("http://%s/", srv.Addr()),
		db:        db,
	}
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

func decodeResult(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

// maturityBlocks mines regtest blocks directly onto the chain (bypassing
// the RPC surface) until the genesis allocation's coinbase output has
// matured, so tests can spend it.
func maturityBlocks(t *testing.T, env *testEnv) {
	t.Helper()
	if env.chain.Height() >= uint32(config.CoinbaseMaturity) {
		return
	}

	burner, _ := crypto.GenerateKey()
	burnerAddr := crypto.AddressFromPubKey(burner.PublicKey())
	pow := consensus.NewPoW(1)
	m := miner.New(env.chain, pow, env.pool, env.genesis.Protocol.Consensus, burnerAddr)

	for env.chain.Height() < uint32(config.CoinbaseMaturity) {
		tmpl, err := m.BuildTemplate(uint64(time.Now().Unix()))
		if err != nil {
			t.Fatalf("build template: %v", err)
		}
		if err := m.Mine(context.Background(), tmpl, 0); err != nil {
			t.Fatalf("mine: %v", err)
		}
		if err := env.chain.AcceptBlock(tmpl.Block); err != nil {
			t.Fatalf("accept block: %v", err)
		}
	}
}

// spendGenesisAlloc builds a signed transaction spending the allocation
// UTXO created for env.addr in the genesis block, paying to toAddr. It
// matures the genesis coinbase first by mining past CoinbaseMaturity.
func spendGenesisAlloc(t *testing.T, env *testEnv, toAddr types.Address, amount, fee uint64) *tx.Transaction {
	t.Helper()
	maturityBlocks(t, env)

	blk, err := env.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis block: %v", err)
	}
	coinbase := blk.Transactions[0]

	var prevOut types.Outpoint
	found := false
	for i, out := range coinbase.Outputs {
		if bytes.Equal(out.Script.Data, env.addr[:]) {
			prevOut = types.Outpoint{TxID: coinbase.Hash(), Index: uint32(i)}
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no genesis output pays env.addr")
	}

	b := tx.NewBuilder().
		AddInput(prevOut).
		AddOutput(amount, types.Script{Type: types.ScriptTypeP2PKH, Data: toAddr[:]})

	change := 100_000*config.Coin - amount - fee
	if change > 0 {
		b.AddOutput(change, types.Script{Type: types.ScriptTypeP2PKH, Data: env.addr[:]})
	}
	if err := b.Sign(env.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return b.Build()
}

// ── Chain endpoints ─────────────────────────────────────────────────────

func TestRPC_ChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result ChainInfoResult
	decodeResult(t, resp, &result)

	if result.ChainID != "klingnet-test-rpc" {
		t.Errorf("chain_id = %q, want %q", result.ChainID, "klingnet-test-rpc")
	}
	if result.Height != 0 {
		t.Errorf("height = %d, want 0", result.Height)
	}
	if result.TipHash == "" {
		t.Error("tip_hash is empty")
	}
}

func TestRPC_ChainGetStats(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getStats", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result ChainStatsResult
	decodeResult(t, resp, &result)

	if result.Height != 0 {
		t.Errorf("height = %d, want 0", result.Height)
	}
	if result.Supply != 100_000*config.Coin {
		t.Errorf("supply = %d, want %d", result.Supply, 100_000*config.Coin)
	}
	if result.UTXOCommitment == "" {
		t.Error("utxo_commitment is empty")
	}
	if result.UTXOCount != 1 {
		t.Errorf("utxo_count = %d, want 1", result.UTXOCount)
	}
}

func TestRPC_ChainGetBlockByHeight(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getBlockByHeight", HeightParam{Height: 0})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result BlockResult
	decodeResult(t, resp, &result)

	if result.Hash == "" {
		t.Error("block hash is empty")
	}
	if result.Header == nil {
		t.Error("block header is nil")
	}
	if len(result.Transactions) == 0 {
		t.Error("block has no transactions")
	}
}

func TestRPC_ChainGetBlockByHash(t *testing.T) {
	env := setupTestEnv(t)

	tipHash := env.chain.TipHash().String()
	resp := rpcCall(t, env.url, "chain_getBlockByHash", HashParam{Hash: tipHash})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result BlockResult
	decodeResult(t, resp, &result)

	if result.Hash != tipHash {
		t.Errorf("block hash = %q, want %q", result.Hash, tipHash)
	}
}

func TestRPC_ChainGetBlockByHash_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	fakeHash := hex.EncodeToString(make([]byte, 32))
	resp := rpcCall(t, env.url, "chain_getBlockByHash", HashParam{Hash: fakeHash})
	if resp.Error == nil {
		t.Fatal("expected error for non-existent block")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeNotFound)
	}
}

func TestRPC_ChainGetTransaction(t *testing.T) {
	env := setupTestEnv(t)

	blk, err := env.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}
	txHash := blk.Transactions[0].Hash().String()

	resp := rpcCall(t, env.url, "chain_getTransaction", HashParam{Hash: txHash})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result TxResult
	decodeResult(t, resp, &result)

	if result.Hash != txHash {
		t.Errorf("tx hash = %q, want %q", result.Hash, txHash)
	}
}

func TestRPC_ChainGetTransaction_FromMempool(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())
	transaction := spendGenesisAlloc(t, env, toAddr, 1000*config.Coin, 100)

	if _, err := env.pool.Add(transaction); err != nil {
		t.Fatalf("add to mempool: %v", err)
	}

	resp := rpcCall(t, env.url, "chain_getTransaction", HashParam{Hash: transaction.Hash().String()})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result TxResult
	decodeResult(t, resp, &result)
	if result.Hash != transaction.Hash().String() {
		t.Errorf("tx hash mismatch")
	}
}

func TestRPC_ChainGetTransaction_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	fakeHash := hex.EncodeToString(make([]byte, 32))
	resp := rpcCall(t, env.url, "chain_getTransaction", HashParam{Hash: fakeHash})
	if resp.Error == nil {
		t.Fatal("expected error for non-existent tx")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeNotFound)
	}
}

// ── UTXO endpoints ──────────────────────────────────────────────────────

func TestRPC_UTXOGetByAddress(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "utxo_getByAddress", AddressParam{Address: env.addrHex})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result UTXOListResult
	decodeResult(t, resp, &result)

	if len(result.UTXOs) != 1 {
		t.Fatalf("utxo count = %d, want 1", len(result.UTXOs))
	}
}

func TestRPC_UTXOGetBalance(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "utxo_getBalance", AddressParam{Address: env.addrHex})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result BalanceResult
	decodeResult(t, resp, &result)

	expected := uint64(100_000) * config.Coin
	if result.Balance != expected {
		t.Errorf("balance = %d, want %d", result.Balance, expected)
	}
	// The genesis allocation is paid out through the genesis coinbase
	// transaction, so at height 0 it's still within its maturity window.
	if result.Immature != expected {
		t.Errorf("immature = %d, want %d", result.Immature, expected)
	}
	if result.Spendable != 0 {
		t.Errorf("spendable = %d, want 0", result.Spendable)
	}
}

func TestRPC_UTXOGet(t *testing.T) {
	env := setupTestEnv(t)

	blk, _ := env.chain.GetBlockByHeight(0)
	coinbase := blk.Transactions[0]

	var index uint32
	for i, out := range coinbase.Outputs {
		if bytes.Equal(out.Script.Data, env.addr[:]) {
			index = uint32(i)
			break
		}
	}

	resp := rpcCall(t, env.url, "utxo_get", OutpointParam{
		TxID:  coinbase.Hash().String(),
		Index: index,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result utxo.UTXO
	decodeResult(t, resp, &result)
	if result.Value != 100_000*config.Coin {
		t.Errorf("value = %d, want %d", result.Value, 100_000*config.Coin)
	}
}

func TestRPC_UTXOGet_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "utxo_get", OutpointParam{
		TxID:  hex.EncodeToString(make([]byte, 32)),
		Index: 0,
	})
	if resp.Error == nil {
		t.Fatal("expected error for non-existent utxo")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeNotFound)
	}
}

// ── Transaction endpoints ───────────────────────────────────────────────

func TestRPC_TxSubmit(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())
	transaction := spendGenesisAlloc(t, env, toAddr, 1000*config.Coin, 100)

	resp := rpcCall(t, env.url, "tx_submit", TxSubmitParam{Transaction: transaction})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result TxSubmitResult
	decodeResult(t, resp, &result)
	if result.TxHash != transaction.Hash().String() {
		t.Errorf("tx_hash = %q, want %q", result.TxHash, transaction.Hash().String())
	}

	if env.pool.Get(transaction.Hash()) == nil {
		t.Error("transaction was not admitted to mempool")
	}
}

func TestRPC_TxSubmit_Rejected(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())
	// Spend more than the allocation holds.
	transaction := spendGenesisAlloc(t, env, toAddr, 1000*config.Coin, 100)
	transaction.Outputs[0].Value = 1_000_000 * config.Coin

	resp := rpcCall(t, env.url, "tx_submit", TxSubmitParam{Transaction: transaction})
	if resp.Error == nil {
		t.Fatal("expected rejection for overspend")
	}
}

func TestRPC_TxValidate(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())
	transaction := spendGenesisAlloc(t, env, toAddr, 1000*config.Coin, 100)

	resp := rpcCall(t, env.url, "tx_validate", TxSubmitParam{Transaction: transaction})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result TxValidateResult
	decodeResult(t, resp, &result)
	if !result.Valid {
		t.Errorf("expected valid, got error: %s", result.Error)
	}
	if result.Fee != 100 {
		t.Errorf("fee = %d, want 100", result.Fee)
	}
}

// ── Mempool endpoints ───────────────────────────────────────────────────

func TestRPC_MempoolGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())
	transaction := spendGenesisAlloc(t, env, toAddr, 1000*config.Coin, 100)
	if _, err := env.pool.Add(transaction); err != nil {
		t.Fatalf("add: %v", err)
	}

	resp := rpcCall(t, env.url, "mempool_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result MempoolInfoResult
	decodeResult(t, resp, &result)
	if result.Count != 1 {
		t.Errorf("count = %d, want 1", result.Count)
	}
	if result.Bytes == 0 {
		t.Error("bytes should be non-zero")
	}
}

func TestRPC_MempoolGetContent(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())
	transaction := spendGenesisAlloc(t, env, toAddr, 1000*config.Coin, 100)
	if _, err := env.pool.Add(transaction); err != nil {
		t.Fatalf("add: %v", err)
	}

	resp := rpcCall(t, env.url, "mempool_getContent", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result MempoolContentResult
	decodeResult(t, resp, &result)
	if len(result.Hashes) != 1 || result.Hashes[0] != transaction.Hash().String() {
		t.Errorf("hashes = %v, want [%s]", result.Hashes, transaction.Hash().String())
	}
}

// ── Network endpoints ───────────────────────────────────────────────────

func TestRPC_NetGetNodeInfo_NoP2P(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "net_getNodeInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result NodeInfoResult
	decodeResult(t, resp, &result)
	if result.ID != "" {
		t.Errorf("id = %q, want empty (no p2p node)", result.ID)
	}
}

func TestRPC_NetGetPeerInfo_NoP2P(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "net_getPeerInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result PeerInfoResult
	decodeResult(t, resp, &result)
	if result.Count != 0 {
		t.Errorf("count = %d, want 0", result.Count)
	}
}

func TestRPC_NetGetBanList_Disabled(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "net_getBanList", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result BanListResult
	decodeResult(t, resp, &result)
	if result.Count != 0 {
		t.Errorf("count = %d, want 0", result.Count)
	}
}

// ── Mining endpoints ─────────────────────────────────────────────────

func TestRPC_MiningGetBlockTemplate(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())

	resp := rpcCall(t, env.url, "mining_getBlockTemplate", MiningGetBlockTemplateParam{
		CoinbaseAddress: toAddr.String(),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result MiningBlockTemplateResult
	decodeResult(t, resp, &result)
	if result.Block == nil {
		t.Fatal("block is nil")
	}
	if result.Height != 1 {
		t.Errorf("height = %d, want 1", result.Height)
	}
	if result.Target == "" {
		t.Error("target is empty")
	}
	if result.PrevHash != env.chain.TipHash().String() {
		t.Errorf("prev_hash = %q, want %q", result.PrevHash, env.chain.TipHash().String())
	}
}

func TestRPC_MiningSubmitBlock(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())

	tmplResp := rpcCall(t, env.url, "mining_getBlockTemplate", MiningGetBlockTemplateParam{
		CoinbaseAddress: toAddr.String(),
	})
	if tmplResp.Error != nil {
		t.Fatalf("get template: %v", tmplResp.Error.Message)
	}
	var tmpl MiningBlockTemplateResult
	decodeResult(t, tmplResp, &tmpl)

	pow := consensus.NewPoW(1)
	if err := pow.Seal(tmpl.Block); err != nil {
		t.Fatalf("seal: %v", err)
	}

	submitResp := rpcCall(t, env.url, "mining_submitBlock", MiningSubmitBlockParam{Block: tmpl.Block})
	if submitResp.Error != nil {
		t.Fatalf("submit: %v", submitResp.Error.Message)
	}

	var result MiningSubmitBlockResult
	decodeResult(t, submitResp, &result)
	if result.Height != 1 {
		t.Errorf("height = %d, want 1", result.Height)
	}
	if env.chain.Height() != 1 {
		t.Errorf("chain height = %d, want 1", env.chain.Height())
	}
}

func TestRPC_MiningSubmitBlock_BadNonce(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())

	tmplResp := rpcCall(t, env.url, "mining_getBlockTemplate", MiningGetBlockTemplateParam{
		CoinbaseAddress: toAddr.String(),
	})
	var tmpl MiningBlockTemplateResult
	decodeResult(t, tmplResp, &tmpl)

	// Never sealed: nonce 0 will not meet target.
	resp := rpcCall(t, env.url, "mining_submitBlock", MiningSubmitBlockParam{Block: tmpl.Block})
	if resp.Error == nil {
		t.Fatal("expected rejection for unsealed block")
	}
}

func TestRPC_GenerateTo(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())

	resp := rpcCall(t, env.url, "generate_to", GenerateToParam{
		Address: toAddr.String(),
		Blocks:  3,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var result GenerateToResult
	decodeResult(t, resp, &result)
	if len(result.Hashes) != 3 {
		t.Errorf("hashes = %d, want 3", len(result.Hashes))
	}
	if result.Height != 3 {
		t.Errorf("height = %d, want 3", result.Height)
	}
	if env.chain.Height() != 3 {
		t.Errorf("chain height = %d, want 3", env.chain.Height())
	}

	balResp := rpcCall(t, env.url, "utxo_getBalance", AddressParam{Address: toAddr.String()})
	var bal BalanceResult
	decodeResult(t, balResp, &bal)
	if bal.Balance == 0 {
		t.Error("expected mined rewards credited to address")
	}
}

func TestRPC_GenerateTo_InvalidBlocks(t *testing.T) {
	env := setupTestEnv(t)

	to, _ := crypto.GenerateKey()
	toAddr := crypto.AddressFromPubKey(to.PublicKey())

	resp := rpcCall(t, env.url, "generate_to", GenerateToParam{Address: toAddr.String(), Blocks: 0})
	if resp.Error == nil {
		t.Fatal("expected error for zero blocks")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

// ── Generic error / transport handling ───────────────────────────────────

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "nonexistent_method", nil)
	if resp.Error == nil {
		t.Fatal("expected method not found error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestRPC_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getBlockByHash", nil)
	if resp.Error == nil {
		t.Fatal("expected invalid params error")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

func TestRPC_InvalidAddress(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "utxo_getBalance", AddressParam{Address: "not-an-address"})
	if resp.Error == nil {
		t.Fatal("expected invalid address error")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil {
		t.Fatal("expected parse error")
	}
	if rpcResp.Error.Code != CodeParseError {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeParseError)
	}
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil {
		t.Fatal("expected invalid request error")
	}
	if rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeInvalidRequest)
	}
}

func TestRPC_BodySizeLimit(t *testing.T) {
	env := setupTestEnv(t)

	huge := make([]byte, maxBodySize+1024)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(huge))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil {
		t.Fatal("expected body too large error")
	}
	if rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeInvalidRequest)
	}
}

// ── IP filtering / CORS ──────────────────────────────────────────────────

func newFilteredEnv(t *testing.T, rpcCfg config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())
	addrHex := addr.String()

	gen := config.RegtestGenesis()
	gen.Alloc = map[string]uint64{addrHex: 100_000 * config.Coin}

	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)
	ch, _ := chain.New(db, gen.Protocol.Consensus)
	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	pool := mempool.New(utxoStore, ch.Height)
	pow := consensus.NewPoW(1)

	srv := New("127.0.0.1:0", ch, utxoStore, pool, nil, gen, pow, rpcCfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{server: srv, chain: ch, url: fmt.Sprintf("http://%s/", srv.Addr())}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := newFilteredEnv(t, config.RPCConfig{AllowedIPs: []string{"10.0.0.0/8"}})

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"chain_getInfo","id":1}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestRPC_IPFilter_Empty_AllowsAll(t *testing.T) {
	env := newFilteredEnv(t, config.RPCConfig{})

	resp := rpcCall(t, env.url, "chain_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
}

func TestRPC_CORS_WildcardOrigin(t *testing.T) {
	env := newFilteredEnv(t, config.RPCConfig{CORSOrigins: []string{"*"}})

	req, _ := http.NewRequest(http.MethodPost, env.url, bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"chain_getInfo","id":1}`)))
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want \"*\"", got)
	}
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := newFilteredEnv(t, config.RPCConfig{CORSOrigins: []string{"*"}})

	req, _ := http.NewRequest(http.MethodOptions, env.url, nil)
	req.Header.Set("Origin", "https://example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestRPC_CORS_Disabled(t *testing.T) {
	env := newFilteredEnv(t, config.RPCConfig{})

	req, _ := http.NewRequest(http.MethodPost, env.url, bytes.NewReader([]byte(`{"jsonrpc":"2.0","method":"chain_getInfo","id":1}`)))
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}
