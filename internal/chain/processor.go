package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/retarget"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/verrors"
)

// ErrBlockKnown is returned when AcceptBlock is given a block whose
// hash is already indexed, on either the active chain or a side chain.
var ErrBlockKnown = errors.New("chain: block already known")

// AcceptBlock validates and indexes a candidate block. A block extending the current tip is validated and
// applied directly; a block rooting or extending a side branch is
// indexed without contextual validation, which is deferred to
// reorganizeTo if and when that branch becomes the heaviest.
func (c *Chain) AcceptBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip == nil {
		return fmt.Errorf("chain not initialized: call InitFromGenesis first")
	}

	hash := blk.Hash()
	if _, known := c.index.get(hash); known {
		return ErrBlockKnown
	}

	if err := consensus.StatelessCheck(blk); err != nil {
		return err
	}

	parent, ok := c.index.get(blk.Header.PrevHash)
	if !ok {
		return verrors.New(verrors.UnknownParent, "parent %s not indexed", blk.Header.PrevHash)
	}

	height := parent.Height + 1
	parentCtx := consensus.ParentContext{
		Height:             parent.Height,
		ExpectedBits:       c.expectedBits(parent),
		MedianTimePast:     c.index.medianTimePast(parent, config.MTPWindow),
		NetworkAdjustedNow: c.clock(),
	}

	if parent.Hash == c.tip.Hash {
		subsidy, err := consensus.ContextualCheck(blk, parentCtx, chainUTXOProvider{c.utxos}, c.rules)
		if err != nil {
			return err
		}
		return c.connectBlock(blk, parent, subsidy)
	}

	entry := c.index.add(hash, blk.Header, height, parent.CumWork)
	if err := c.blocks.StoreBlock(blk, height); err != nil {
		return fmt.Errorf("store side-chain block: %w", err)
	}

	if entry.CumWork.Cmp(c.tip.CumWork) > 0 {
		return c.reorganizeTo(entry)
	}
	c.index.markSideChain(entry)
	return nil
}

// expectedBits computes the bits field required of the block built on
// top of parent, per the active retargeting schedule.
func (c *Chain) expectedBits(parent *ChainEntry) uint32 {
	height := parent.Height + 1
	if height < config.RetargetInterval || height%config.RetargetInterval != 0 {
		return parent.Header.Bits
	}
	startEntry, ok := c.index.ancestorAt(parent, height-config.RetargetInterval)
	if !ok {
		return parent.Header.Bits
	}
	return retarget.NextBits(height, parent.Header.Bits, startEntry.Header.Timestamp, parent.Header.Timestamp)
}

// connectBlock applies blk directly to the active UTXO set and
// advances the tip. Only valid when blk's parent is the current tip.
func (c *Chain) connectBlock(blk *block.Block, parent *ChainEntry, subsidy uint64) error {
	hash := blk.Hash()
	height := parent.Height + 1

	undo, err := utxo.ApplyBlock(c.utxos, blk.Transactions, height)
	if err != nil {
		return fmt.Errorf("apply block %s: %w", hash, err)
	}

	undoData, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("marshal undo for %s: %w", hash, err)
	}
	if err := c.blocks.PutUndo(hash, undoData); err != nil {
		return fmt.Errorf("store undo for %s: %w", hash, err)
	}
	if err := c.blocks.PutBlock(blk, height); err != nil {
		return fmt.Errorf("store block %s: %w", hash, err)
	}

	entry := c.index.add(hash, blk.Header, height, parent.CumWork)
	c.index.markConnected(entry)
	c.tip = entry
	c.supply += subsidy

	if err := c.blocks.SetTip(hash, height, c.supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(entry.CumWork); err != nil {
		return fmt.Errorf("set cumulative work: %w", err)
	}

	klog.Chain().Info().
		Uint32("height", height).
		Str("hash", hash.String()[:16]+"...").
		Int("txs", len(blk.Transactions)).
		Uint64("subsidy", subsidy).
		Msg("block connected")

	return nil
}

// disconnectTip reverts the current tip block: undoes its UTXO
// changes, demotes it to a side-chain entry, and moves the tip back to
// its parent. Returns the reverted block's non-coinbase transactions
// so the caller can decide what to re-admit to the mempool.
func (c *Chain) disconnectTip() ([]*tx.Transaction, error) {
	tip := c.tip
	blk, err := c.blocks.GetBlock(tip.Hash)
	if err != nil {
		return nil, fmt.Errorf("load tip block %s: %w", tip.Hash, err)
	}

	undoData, err := c.blocks.GetUndo(tip.Hash)
	if err != nil {
		return nil, fmt.Errorf("load undo for %s: %w", tip.Hash, err)
	}
	var undo utxo.BlockUndo
	if err := json.Unmarshal(undoData, &undo); err != nil {
		return nil, fmt.Errorf("unmarshal undo for %s: %w", tip.Hash, err)
	}
	if err := utxo.UndoBlock(c.utxos, blk.Transactions, &undo); err != nil {
		return nil, fmt.Errorf("undo block %s: %w", tip.Hash, err)
	}

	parent, ok := c.index.parent(tip)
	if !ok {
		return nil, fmt.Errorf("disconnect tip: parent of %s not indexed", tip.Hash)
	}

	subsidy := consensus.Subsidy(tip.Height, c.rules)
	if c.supply >= subsidy {
		c.supply -= subsidy
	}

	if err := c.blocks.UnpublishHeight(tip.Height); err != nil {
		return nil, fmt.Errorf("unpublish height %d: %w", tip.Height, err)
	}
	for _, t := range blk.Transactions {
		c.blocks.DeleteTxIndex(t.Hash())
	}
	c.index.markSideChain(tip)
	c.tip = parent

	if err := c.blocks.SetTip(parent.Hash, parent.Height, c.supply); err != nil {
		return nil, fmt.Errorf("set tip after disconnect: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(parent.CumWork); err != nil {
		return nil, fmt.Errorf("set cumulative work after disconnect: %w", err)
	}

	reverted := make([]*tx.Transaction, 0, len(blk.Transactions)-1)
	for _, t := range blk.Transactions {
		if !t.IsCoinbase() {
			reverted = append(reverted, t)
		}
	}

	klog.Chain().Warn().
		Uint32("height", tip.Height).
		Str("hash", tip.Hash.String()[:16]+"...").
		Int("reverted_txs", len(reverted)).
		Msg("block disconnected")

	return reverted, nil
}
