package consensus

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/verrors"
)

// StatelessCheck runs every context-free check on a candidate block:
// block.Block.StatelessCheck's structural checks, plus proof-of-work,
// which lives here rather than in pkg/block because it needs the
// 256-bit target math of BitsToTarget/MeetsTarget.
func StatelessCheck(blk *block.Block) error {
	if err := blk.StatelessCheck(); err != nil {
		return err
	}
	if blk.Header.Bits == 0 {
		return verrors.New(verrors.InvalidBlockDifficulty, "bits is zero")
	}
	if !MeetsTarget(blk.Hash(), blk.Header.Bits) {
		return verrors.New(verrors.InvalidBlockPow, "block hash does not meet target encoded by bits")
	}
	return nil
}

// ParentContext carries everything ContextualCheck needs to know about
// a candidate block's position in the chain, supplied by the caller
// (internal/chain) so this package stays independent of the chain
// index's representation.
type ParentContext struct {
	Height             uint32 // Parent's height; the candidate would sit at Height+1.
	ExpectedBits       uint32 // Bits the retargeting schedule requires at Height+1.
	MedianTimePast     uint64 // Median timestamp of the last MTPWindow ancestors ending at parent.
	NetworkAdjustedNow uint64 // Caller's view of current time, for the future-drift check.
}

// ContextualCheck runs every chain-dependent check: retarget bits match,
// MTP and future-drift timestamp bounds, per-transaction input
// resolution/maturity/signature verification, in-block double spend,
// and the coinbase reward cap against subsidy+fees.
// Returns the subsidy due at this height so the caller can credit
// total supply without recomputing the halving schedule twice.
func ContextualCheck(blk *block.Block, parent ParentContext, utxos tx.UTXOProvider, rules config.ConsensusRules) (uint64, error) {
	height := parent.Height + 1

	if blk.Header.Bits != parent.ExpectedBits {
		return 0, verrors.New(verrors.InvalidBlockDifficulty,
			"bits %08x does not match expected %08x", blk.Header.Bits, parent.ExpectedBits).WithHeight(height)
	}
	if height%config.RetargetInterval == 0 {
		klog.Consensus().Debug().
			Uint32("height", height).
			Str("bits", fmt.Sprintf("%08x", blk.Header.Bits)).
			Msg("difficulty retargeted")
	}

	if blk.Header.Timestamp <= parent.MedianTimePast {
		return 0, verrors.New(verrors.InvalidBlockTimestamp,
			"timestamp %d not after median time past %d", blk.Header.Timestamp, parent.MedianTimePast).WithHeight(height)
	}
	if blk.Header.Timestamp > parent.NetworkAdjustedNow+config.MaxTimestampDrift {
		return 0, verrors.New(verrors.InvalidBlockTimestamp,
			"timestamp %d exceeds network-adjusted now %d by more than %ds",
			blk.Header.Timestamp, parent.NetworkAdjustedNow, config.MaxTimestampDrift).WithHeight(height)
	}

	seen := make(map[types.Outpoint]bool)
	for _, t := range blk.Transactions {
		if t.IsCoinbase() {
			continue
		}
		for _, in := range t.Inputs {
			if seen[in.PrevOut] {
				return 0, verrors.New(verrors.DoubleSpend, "outpoint spent twice within block").
					WithOutpoint(in.PrevOut).WithHeight(height)
			}
			seen[in.PrevOut] = true
		}
	}

	var totalFees uint64
	for i, t := range blk.Transactions {
		if i == 0 {
			continue // Coinbase validated structurally only; it spends nothing.
		}
		fee, err := t.ValidateWithUTXOs(utxos, height)
		if err != nil {
			return 0, err
		}
		if totalFees+fee < totalFees {
			return 0, verrors.New(verrors.InvalidBlockReward, "total fees overflow").WithHeight(height)
		}
		totalFees += fee
	}

	subsidy := Subsidy(height, rules)
	coinbaseOut, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return 0, verrors.Wrap(verrors.InvalidBlockCoinbase, err, "coinbase output overflow").WithHeight(height)
	}
	if coinbaseOut > subsidy+totalFees {
		return 0, verrors.New(verrors.InvalidBlockReward,
			"coinbase pays %d, max allowed is subsidy %d + fees %d", coinbaseOut, subsidy, totalFees).WithHeight(height)
	}

	return subsidy, nil
}

// Subsidy computes the block reward at height under the halving
// schedule: rules.BlockReward >> (height / rules.HalvingInterval),
// floored to zero once 64 halvings have elapsed (beyond that point the
// shift amount would exceed a uint64's width).
func Subsidy(height uint32, rules config.ConsensusRules) uint64 {
	halvings := uint64(height) / rules.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return rules.BlockReward >> halvings
}
