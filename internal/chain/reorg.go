package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/verrors"
)

// ErrReorgTooDeep guards against a side branch claiming to fork so far
// back that reorganizing to it would mean undoing essentially the
// whole chain — almost always a sign of a forged cumulative-work
// value rather than a legitimate fork.
var ErrReorgTooDeep = errors.New("chain: reorg would disconnect too many blocks")

// MaxReorgDepth bounds how many active-chain blocks a single reorg may
// disconnect.
const MaxReorgDepth = 1000

// forkPoint finds the common ancestor of a and b by walking both back
// in lockstep: first the deeper branch catches up in height, then both
// walk up together until their hashes match.
func (c *Chain) forkPoint(a, b *ChainEntry) (*ChainEntry, error) {
	for a.Height > b.Height {
		p, ok := c.index.parent(a)
		if !ok {
			return nil, fmt.Errorf("forkPoint: %s has no indexed parent", a.Hash)
		}
		a = p
	}
	for b.Height > a.Height {
		p, ok := c.index.parent(b)
		if !ok {
			return nil, fmt.Errorf("forkPoint: %s has no indexed parent", b.Hash)
		}
		b = p
	}
	for a.Hash != b.Hash {
		pa, ok := c.index.parent(a)
		if !ok {
			return nil, fmt.Errorf("forkPoint: branches never converge (reached %s with no parent)", a.Hash)
		}
		pb, ok := c.index.parent(b)
		if !ok {
			return nil, fmt.Errorf("forkPoint: branches never converge (reached %s with no parent)", b.Hash)
		}
		a, b = pa, pb
	}
	return a, nil
}

// reorganizeTo switches the active chain to end at newTip, which the
// caller has already determined carries more cumulative work than the
// current tip. The new branch is
// contextually validated against a staged UTXOCache; any failure
// aborts with the real chain state untouched.
func (c *Chain) reorganizeTo(newTip *ChainEntry) error {
	fork, err := c.forkPoint(c.tip, newTip)
	if err != nil {
		return fmt.Errorf("reorganizeTo: %w", err)
	}

	depth := c.tip.Height - fork.Height
	if depth > MaxReorgDepth {
		return ErrReorgTooDeep
	}

	klog.Chain().Warn().
		Uint32("depth", depth).
		Uint32("fork_height", fork.Height).
		Str("new_tip", newTip.Hash.String()[:16]+"...").
		Msg("reorganizing to heavier branch")

	connectList, err := c.branchFrom(fork, newTip)
	if err != nil {
		return fmt.Errorf("reorganizeTo: %w", err)
	}

	staged, err := c.validateStaged(fork, connectList)
	if err != nil {
		c.index.markSideChain(newTip)
		return verrors.Wrap(verrors.ReorgAborted, err, "reorg to %s aborted", newTip.Hash)
	}

	if err := c.commitReorg(fork, connectList, staged); err != nil {
		return fmt.Errorf("reorganizeTo: commit: %w", err)
	}
	return nil
}

// branchFrom returns the chain of entries from fork (exclusive) to tip
// (inclusive), in ascending height order, by walking tip's parent
// pointers back to fork and reversing.
func (c *Chain) branchFrom(fork, tip *ChainEntry) ([]*ChainEntry, error) {
	var reversed []*ChainEntry
	cur := tip
	for cur.Hash != fork.Hash {
		reversed = append(reversed, cur)
		p, ok := c.index.parent(cur)
		if !ok {
			return nil, fmt.Errorf("branch from %s to %s is not connected", fork.Hash, tip.Hash)
		}
		cur = p
	}
	branch := make([]*ChainEntry, len(reversed))
	for i, e := range reversed {
		branch[len(reversed)-1-i] = e
	}
	return branch, nil
}

// stagedBranch carries the per-block undo data produced while
// validating a candidate branch against a staged cache, so commitReorg
// can persist it without recomputing anything.
type stagedBranch struct {
	cache *utxo.Cache
	undos map[int]*utxo.BlockUndo // indexed by position in the connectList
}

// validateStaged replays a candidate branch's blocks against a
// UTXOCache layered over the real UTXO set, running full contextual
// validation on each. Nothing in the real chain state is touched: a
// failure at any point just discards the cache.
func (c *Chain) validateStaged(fork *ChainEntry, connectList []*ChainEntry) (*stagedBranch, error) {
	cache := utxo.NewCache(c.utxos)
	prev := fork
	undos := make(map[int]*utxo.BlockUndo, len(connectList))

	for i, entry := range connectList {
		blk, err := c.blocks.GetBlock(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("load candidate block %s: %w", entry.Hash, err)
		}

		parentCtx := consensus.ParentContext{
			Height:             prev.Height,
			ExpectedBits:       c.expectedBits(prev),
			MedianTimePast:     c.index.medianTimePast(prev, config.MTPWindow),
			NetworkAdjustedNow: c.clock(),
		}
		if _, err := consensus.ContextualCheck(blk, parentCtx, chainUTXOProvider{cache}, c.rules); err != nil {
			return nil, fmt.Errorf("block %s at height %d: %w", entry.Hash, entry.Height, err)
		}

		undo, err := utxo.ApplyBlock(cache, blk.Transactions, entry.Height)
		if err != nil {
			return nil, fmt.Errorf("stage block %s: %w", entry.Hash, err)
		}
		undos[i] = undo
		prev = entry
	}

	return &stagedBranch{cache: cache, undos: undos}, nil
}

// commitReorg makes a validated branch real: it disconnects every
// active-chain block down to fork, flushes the staged cache so the
// UTXO set matches the new tip in one step, then republishes the new
// branch's block/height/tx indexes and tip metadata. A reorg
// checkpoint brackets the block-index mutation so a crash mid-commit
// is detected and repaired by a full rebuild on restart.
func (c *Chain) commitReorg(fork *ChainEntry, connectList []*ChainEntry, staged *stagedBranch) error {
	if err := c.blocks.PutReorgCheckpoint(fork.Height); err != nil {
		return fmt.Errorf("write reorg checkpoint: %w", err)
	}

	var disconnectedTxs []*tx.Transaction
	for c.tip.Hash != fork.Hash {
		txs, err := c.disconnectTip()
		if err != nil {
			return fmt.Errorf("disconnect %s: %w", c.tip.Hash, err)
		}
		disconnectedTxs = append(disconnectedTxs, txs...)
	}

	if err := staged.cache.Flush(); err != nil {
		return fmt.Errorf("flush staged utxo cache: %w", err)
	}

	newTxHashes := make(map[string]bool)
	for i, entry := range connectList {
		blk, err := c.blocks.GetBlock(entry.Hash)
		if err != nil {
			return fmt.Errorf("reload connect block %s: %w", entry.Hash, err)
		}
		for _, t := range blk.Transactions {
			newTxHashes[t.Hash().String()] = true
		}

		undoData, err := json.Marshal(staged.undos[i])
		if err != nil {
			return fmt.Errorf("marshal undo for %s: %w", entry.Hash, err)
		}
		if err := c.blocks.PutUndo(entry.Hash, undoData); err != nil {
			return fmt.Errorf("store undo for %s: %w", entry.Hash, err)
		}
		if err := c.blocks.PutBlock(blk, entry.Height); err != nil {
			return fmt.Errorf("publish block %s: %w", entry.Hash, err)
		}
		c.index.markConnected(entry)
		c.supply += consensus.Subsidy(entry.Height, c.rules)
	}

	newTip := connectList[len(connectList)-1]
	c.tip = newTip

	if err := c.blocks.SetTip(newTip.Hash, newTip.Height, c.supply); err != nil {
		return fmt.Errorf("set tip after reorg: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(newTip.CumWork); err != nil {
		return fmt.Errorf("set cumulative work after reorg: %w", err)
	}
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("clear reorg checkpoint: %w", err)
	}

	if c.revertedTxHandler != nil {
		var stillMissing []*tx.Transaction
		for _, t := range disconnectedTxs {
			if !newTxHashes[t.Hash().String()] {
				stillMissing = append(stillMissing, t)
			}
		}
		if len(stillMissing) > 0 {
			c.revertedTxHandler(stillMissing)
		}
	}

	return nil
}

// RebuildFromGenesis clears the UTXO set and replays every active-chain
// block from genesis to the current tip. Used on startup when a reorg
// checkpoint marker indicates the node crashed mid-commit, since at
// that point the UTXO set's relationship to the block index is
// undefined.
func (c *Chain) RebuildFromGenesis() error {
	if c.tip == nil {
		return nil
	}
	if err := c.utxos.ClearAll(); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}

	var supply uint64
	var cumWork = big.NewInt(0)
	for h := uint32(0); h <= c.tip.Height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		if _, err := utxo.ApplyBlock(c.utxos, blk.Transactions, h); err != nil {
			return fmt.Errorf("replay block at height %d: %w", h, err)
		}
		if h == 0 {
			// Genesis mints the allocation, not a subsidy.
			v, err := blk.Transactions[0].TotalOutputValue()
			if err != nil {
				return fmt.Errorf("genesis output value: %w", err)
			}
			supply += v
		} else {
			supply += consensus.Subsidy(h, c.rules)
		}
		cumWork.Add(cumWork, consensus.Work(blk.Header.Bits))
	}

	c.supply = supply
	if err := c.blocks.SetTip(c.tip.Hash, c.tip.Height, supply); err != nil {
		return fmt.Errorf("set tip after rebuild: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(cumWork); err != nil {
		return fmt.Errorf("set cumulative work after rebuild: %w", err)
	}
	return c.blocks.DeleteReorgCheckpoint()
}
