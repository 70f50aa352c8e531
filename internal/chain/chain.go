// Package chain implements the blockchain state machine: block
// acceptance, fork choice, and reorganization.
package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// RevertedTxHandler is called after a reorg with transactions from
// reverted blocks that do not also appear in the new branch, so the
// caller (the mempool) can re-admit the ones that are still valid
//.
type RevertedTxHandler func(txs []*tx.Transaction)

// Chain is the blockchain state machine: it owns the in-memory block
// index, the persistent UTXO set, and block storage, and exposes
// AcceptBlock as the single entry point for extending or
// reorganizing the active chain.
type Chain struct {
	mu sync.Mutex

	blocks *BlockStore
	utxos  *utxo.Store
	index  *index
	rules  config.ConsensusRules
	clock  func() uint64

	tip         *ChainEntry
	supply      uint64
	genesisHash types.Hash

	revertedTxHandler RevertedTxHandler
}

// New creates a chain backed by db, recovering any persisted tip and
// rebuilding the in-memory index from stored blocks. Call
// InitFromGenesis afterward on a fresh database.
func New(db storage.DB, rules config.ConsensusRules) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}

	c := &Chain{
		blocks: NewBlockStore(db),
		utxos:  utxo.NewStore(db),
		index:  newIndex(),
		rules:  rules,
		clock:  func() uint64 { return uint64(time.Now().Unix()) },
	}

	_, _, supply, ok, err := c.blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	if !ok {
		return c, nil // Fresh database; wait for InitFromGenesis.
	}
	c.supply = supply

	if err := c.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	if _, found := c.blocks.GetReorgCheckpoint(); found {
		if err := c.RebuildFromGenesis(); err != nil {
			return nil, fmt.Errorf("recover from interrupted reorg: %w", err)
		}
	}

	return c, nil
}

// SetClock overrides the chain's source of "now" for timestamp checks
// and header construction. Tests use this to avoid racing real time.
func (c *Chain) SetClock(fn func() uint64) {
	c.clock = fn
}

// SetRevertedTxHandler registers the callback fired with transactions
// dropped from the chain by a reorg.
func (c *Chain) SetRevertedTxHandler(fn RevertedTxHandler) {
	c.revertedTxHandler = fn
}

// rebuildIndex loads every stored block (active chain and any indexed
// side chains) and replays them into a fresh in-memory arena, in
// height order so each entry's parent is already present when needed.
func (c *Chain) rebuildIndex() error {
	type loaded struct {
		hash   types.Hash
		header *block.Header
		height uint32
	}
	var all []loaded

	err := c.blocks.db.ForEach(prefixBlock, func(key, value []byte) error {
		var blk block.Block
		if err := json.Unmarshal(value, &blk); err != nil {
			return err
		}
		hash := blk.Hash()
		height, err := c.blocks.GetHeight(hash)
		if err != nil {
			return fmt.Errorf("missing height for block %s: %w", hash, err)
		}
		all = append(all, loaded{hash: hash, header: blk.Header, height: height})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].height < all[j].height })

	for _, l := range all {
		parentWork := big.NewInt(0)
		if p, ok := c.index.get(l.header.PrevHash); ok {
			parentWork = p.CumWork
		}
		c.index.add(l.hash, l.header, l.height, parentWork)
	}

	if len(all) > 0 && all[0].height == 0 {
		c.genesisHash = all[0].hash
	}

	tipHash, tipHeight, _, ok, err := c.blocks.GetTip()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for h := uint32(0); h <= tipHeight; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load active block at height %d: %w", h, err)
		}
		e, ok := c.index.get(blk.Hash())
		if !ok {
			return fmt.Errorf("active block at height %d not indexed", h)
		}
		c.index.markConnected(e)
	}
	for _, l := range all {
		if e, ok := c.index.get(l.hash); ok && e.Status == statusIndexed {
			c.index.markSideChain(e)
		}
	}

	tip, ok := c.index.get(tipHash)
	if !ok {
		return fmt.Errorf("tip %s not found in rebuilt index", tipHash)
	}
	c.tip = tip

	return nil
}

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip != nil {
		return fmt.Errorf("chain already initialized at height %d", c.tip.Height)
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	undo, err := utxo.ApplyBlock(c.utxos, blk.Transactions, 0)
	if err != nil {
		return fmt.Errorf("apply genesis utxos: %w", err)
	}
	_ = undo // Genesis has no undo path: it can never be reorganized away.

	hash := blk.Hash()
	if err := c.blocks.PutBlock(blk, 0); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	entry := c.index.add(hash, blk.Header, 0, big.NewInt(0))
	c.index.markConnected(entry)
	c.tip = entry
	c.genesisHash = hash

	var supply uint64
	for _, v := range gen.Alloc {
		supply += v
	}
	c.supply = supply

	if err := c.blocks.SetTip(hash, 0, supply); err != nil {
		return fmt.Errorf("set genesis tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(entry.CumWork); err != nil {
		return fmt.Errorf("set genesis cumulative work: %w", err)
	}

	return nil
}

// State returns a snapshot of the current chain tip.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Chain) stateLocked() State {
	if c.tip == nil {
		return State{CumWork: big.NewInt(0)}
	}
	return State{
		Height:       c.tip.Height,
		TipHash:      c.tip.Hash,
		Supply:       c.supply,
		CumWork:      new(big.Int).Set(c.tip.CumWork),
		TipTimestamp: c.tip.Header.Timestamp,
		TipBits:      c.tip.Header.Bits,
	}
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves the active-chain block at the given height.
func (c *Chain) GetBlockByHeight(height uint32) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// Height returns the current chain height.
func (c *Chain) Height() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip == nil {
		return 0
	}
	return c.tip.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip == nil {
		return types.Hash{}
	}
	return c.tip.Hash
}

// Supply returns the total coins in circulation.
func (c *Chain) Supply() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supply
}

// GetTransaction looks up a confirmed transaction by hash via the tx index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}

// ExpectedBits returns the difficulty target required of a block built on
// top of the current tip, per the active retargeting schedule.
func (c *Chain) ExpectedBits() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip == nil {
		return c.rules.InitialDifficulty
	}
	return c.expectedBits(c.tip)
}

// MedianTimePast returns the median timestamp of the last MTPWindow
// blocks on the active chain ending at the current tip. A block's
// timestamp must exceed this value.
func (c *Chain) MedianTimePast() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip == nil {
		return 0
	}
	return c.index.medianTimePast(c.tip, config.MTPWindow)
}

// chainUTXOProvider adapts utxo.Set to pkg/tx.UTXOProvider so
// transaction validation can resolve prevouts without either package
// depending on the other's concrete types.
type chainUTXOProvider struct {
	set utxo.Set
}

func (p chainUTXOProvider) ResolveOutpoint(outpoint types.Outpoint) (*tx.ResolvedOutput, error) {
	u, err := p.set.Get(outpoint)
	if err != nil {
		return nil, err
	}
	return &tx.ResolvedOutput{
		Value:      u.Value,
		Script:     u.Script,
		Height:     u.Height,
		IsCoinbase: u.Coinbase,
	}, nil
}
