package miner

import (
	"context"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// --- BuildCoinbase ---

func TestBuildCoinbase(t *testing.T) {
	addr := types.Address{0x01, 0x02, 0x03}
	cb := BuildCoinbase(addr, 50000, 42)

	if len(cb.Inputs) != 1 {
		t.Fatalf("inputs: got %d, want 1", len(cb.Inputs))
	}
	if cb.Inputs[0].PrevOut != tx.CoinbasePrevOut() {
		t.Error("coinbase input should carry the canonical coinbase marker")
	}
	if len(cb.Inputs[0].PubKey) != 0 {
		t.Error("coinbase should have no pubkey")
	}
	if len(cb.Outputs) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(cb.Outputs))
	}
	if cb.Outputs[0].Value != 50000 {
		t.Errorf("output value: got %d, want 50000", cb.Outputs[0].Value)
	}
	if cb.Outputs[0].Script.Type != types.ScriptTypeP2PKH {
		t.Error("output script should be P2PKH")
	}
	if !cb.IsCoinbase() {
		t.Error("BuildCoinbase output should be recognized as coinbase")
	}

	cb2 := BuildCoinbase(addr, 50000, 43)
	if cb.Hash() == cb2.Hash() {
		t.Error("coinbase txs at different heights must have different hashes")
	}
}

func TestEncodeHeight_Minimal(t *testing.T) {
	enc := encodeHeight(42)
	if enc[0] != byte(len(enc)-1) {
		t.Errorf("length prefix %d does not match payload length %d", enc[0], len(enc)-1)
	}
	if len(enc) > 5 {
		t.Errorf("encoded height should never exceed 5 bytes, got %d", len(enc))
	}
}

// --- mockChainState ---

type mockChainState struct {
	height  uint32
	tipHash types.Hash
	bits    uint32
	mtp     uint64
	supply  uint64
}

func (m *mockChainState) Height() uint32         { return m.height }
func (m *mockChainState) TipHash() types.Hash    { return m.tipHash }
func (m *mockChainState) ExpectedBits() uint32   { return m.bits }
func (m *mockChainState) MedianTimePast() uint64 { return m.mtp }
func (m *mockChainState) Supply() uint64         { return m.supply }

// --- mockMempool ---

type mockMempool struct {
	txs  []*tx.Transaction
	fees map[types.Hash]uint64
}

func newMockMempool(txs []*tx.Transaction, fees map[types.Hash]uint64) *mockMempool {
	return &mockMempool{txs: txs, fees: fees}
}

func (m *mockMempool) SelectForBlock(maxBytes int) []*tx.Transaction {
	var selected []*tx.Transaction
	used := 0
	for _, t := range m.txs {
		size := len(t.SigningBytes())
		if used+size > maxBytes {
			continue
		}
		selected = append(selected, t)
		used += size
	}
	return selected
}

func (m *mockMempool) GetFee(txHash types.Hash) uint64 {
	if m.fees == nil {
		return 0
	}
	return m.fees[txHash]
}

// --- BuildTemplate ---

func easyRules() config.ConsensusRules {
	return config.ConsensusRules{
		Type:            config.ConsensusPoW,
		BlockReward:     50000,
		HalvingInterval: 210_000,
	}
}

func easyBits() uint32 {
	// Trivially satisfiable target so tests mine in a handful of nonces.
	return 0x207fffff
}

func testMiner(t *testing.T) (*Miner, *mockChainState, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	chain := &mockChainState{height: 0, tipHash: types.Hash{0xaa, 0xbb}, bits: easyBits()}
	pow := consensus.NewPoW(0)
	m := New(chain, pow, nil, easyRules(), addr)
	return m, chain, addr
}

func TestMiner_BuildTemplate(t *testing.T) {
	m, chain, _ := testMiner(t)

	tmpl, err := m.BuildTemplate(1000)
	if err != nil {
		t.Fatalf("BuildTemplate: %v", err)
	}
	if tmpl.Height != 1 {
		t.Errorf("height: got %d, want 1", tmpl.Height)
	}
	if tmpl.Block.Header.PrevHash != chain.tipHash {
		t.Error("PrevHash should match chain tip")
	}
	if tmpl.Block.Header.Bits != chain.bits {
		t.Error("header bits should match chain.ExpectedBits()")
	}
	if len(tmpl.Block.Transactions) != 1 {
		t.Fatalf("expected 1 tx (coinbase only), got %d", len(tmpl.Block.Transactions))
	}
	coinbaseValue := tmpl.Block.Transactions[0].Outputs[0].Value
	if coinbaseValue != 50000 {
		t.Errorf("coinbase value: got %d, want 50000", coinbaseValue)
	}
}

func TestMiner_BuildTemplate_TimestampRespectsMedianTimePast(t *testing.T) {
	m, chain, _ := testMiner(t)
	chain.mtp = 5000

	tmpl, err := m.BuildTemplate(1000)
	if err != nil {
		t.Fatalf("BuildTemplate: %v", err)
	}
	if tmpl.Block.Header.Timestamp <= chain.mtp {
		t.Errorf("timestamp %d should exceed median time past %d", tmpl.Block.Header.Timestamp, chain.mtp)
	}
}

func TestMiner_BuildTemplate_WithMempool(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())
	chain := &mockChainState{height: 0, tipHash: types.Hash{0x01}, bits: easyBits()}

	mempoolTx := &tx.Transaction{
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: types.Hash{0xff}, Index: 0}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []tx.Output{{Value: 500, Script: types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)}}},
	}
	fees := map[types.Hash]uint64{mempoolTx.Hash(): 100}
	pool := newMockMempool([]*tx.Transaction{mempoolTx}, fees)

	pow := consensus.NewPoW(0)
	m := New(chain, pow, pool, easyRules(), addr)

	tmpl, err := m.BuildTemplate(1000)
	if err != nil {
		t.Fatalf("BuildTemplate: %v", err)
	}
	if len(tmpl.Block.Transactions) != 2 {
		t.Fatalf("expected coinbase + 1 mempool tx, got %d", len(tmpl.Block.Transactions))
	}
	expectedValue := uint64(50000 + 100)
	if tmpl.Block.Transactions[0].Outputs[0].Value != expectedValue {
		t.Errorf("coinbase value: got %d, want %d (subsidy + fees)", tmpl.Block.Transactions[0].Outputs[0].Value, expectedValue)
	}
	if tmpl.Fees != 100 {
		t.Errorf("template fees: got %d, want 100", tmpl.Fees)
	}
}

func TestMiner_BuildTemplate_HalvedSubsidy(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())
	chain := &mockChainState{height: 210_000, tipHash: types.Hash{0x01}, bits: easyBits()}
	pow := consensus.NewPoW(0)
	m := New(chain, pow, nil, easyRules(), addr)

	tmpl, err := m.BuildTemplate(1000)
	if err != nil {
		t.Fatalf("BuildTemplate: %v", err)
	}
	coinbaseValue := tmpl.Block.Transactions[0].Outputs[0].Value
	if coinbaseValue != 25000 {
		t.Errorf("coinbase value: got %d, want 25000 (one halving)", coinbaseValue)
	}
}

// --- Mine ---

func TestMiner_Mine_MeetsTarget(t *testing.T) {
	m, _, _ := testMiner(t)

	tmpl, err := m.BuildTemplate(1000)
	if err != nil {
		t.Fatalf("BuildTemplate: %v", err)
	}
	if err := m.Mine(context.Background(), tmpl, 0); err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if !consensus.MeetsTarget(tmpl.Block.Hash(), tmpl.Block.Header.Bits) {
		t.Error("sealed block should meet its target")
	}
}

func TestMiner_Mine_CancelledContext(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())
	// Effectively unsatisfiable target so mining never finishes on its own.
	chain := &mockChainState{height: 0, tipHash: types.Hash{0x01}, bits: 0x03000000}
	pow := consensus.NewPoW(0)
	m := New(chain, pow, nil, easyRules(), addr)

	tmpl, err := m.BuildTemplate(1000)
	if err != nil {
		t.Fatalf("BuildTemplate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Mine(ctx, tmpl, 0); err == nil {
		t.Error("Mine should return an error for an already-cancelled context")
	}
}

// --- UTXOAdapter ---

func TestUTXOAdapter_ResolveOutpoint(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)

	op := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	u := &utxo.UTXO{
		Outpoint: op,
		Value:    1000,
		Script:   types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, 20)},
		Height:   7,
		Coinbase: true,
	}
	if err := store.Put(u); err != nil {
		t.Fatalf("Put: %v", err)
	}

	adapter := NewUTXOAdapter(store)

	resolved, err := adapter.ResolveOutpoint(op)
	if err != nil {
		t.Fatalf("ResolveOutpoint: %v", err)
	}
	if resolved.Value != 1000 {
		t.Errorf("value: got %d, want 1000", resolved.Value)
	}
	if resolved.Script.Type != types.ScriptTypeP2PKH {
		t.Error("script type mismatch")
	}
	if resolved.Height != 7 || !resolved.IsCoinbase {
		t.Error("height/coinbase flag should be carried through")
	}
}

func TestUTXOAdapter_ResolveOutpoint_NotFound(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	adapter := NewUTXOAdapter(store)

	_, err := adapter.ResolveOutpoint(types.Outpoint{TxID: types.Hash{0xff}})
	if err == nil {
		t.Error("ResolveOutpoint should fail for a missing outpoint")
	}
}
