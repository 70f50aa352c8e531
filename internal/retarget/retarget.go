// Package retarget computes the next block's difficulty bits from
// chain history. Every algorithm here is a pure
// function of its inputs: the same window of timestamps and bits
// always produces the same next_bits, regardless of when or how often
// it is called, so a node re-deriving history after a reorg gets the
// identical answer a peer already converged on.
package retarget

import (
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
)

// Algorithm identifies a retargeting strategy.
type Algorithm int

const (
	Basic Algorithm = iota
	Linear
	EMA
)

// Active is the algorithm wired into block production and validation.
// Bitcoin's own clamped-ratio retarget, generalized from the original
// 32-bit difficulty to a 256-bit target, is the only one reachable
// from chain/miner code; Linear and EMA exist for experimentation and
// are exercised only by this package's own tests.
const Active = Basic

// NextBits returns the bits field for the block at height, given the
// bits of the block at height-1. Outside a retarget boundary
// (height % RetargetInterval != 0) it returns prevBits unchanged.
// windowStartTime and windowEndTime are the timestamps of the first
// and last blocks of the window that just closed — the block at
// height-RetargetInterval and the block at height-1 respectively —
// and are ignored when height is not a boundary.
func NextBits(height uint32, prevBits uint32, windowStartTime, windowEndTime uint64) uint32 {
	if height == 0 || height%config.RetargetInterval != 0 {
		return prevBits
	}

	actual := int64(windowEndTime) - int64(windowStartTime)
	expected := int64(config.TargetBlockTime) * int64(config.RetargetInterval-1)

	switch Active {
	case Linear:
		return linearNextBits(prevBits, actual, expected)
	case EMA:
		return emaNextBits(prevBits, actual, expected)
	default:
		return basicNextBits(prevBits, actual, expected)
	}
}

// clampSpan bounds actual to [expected/4, expected*4], the per-window
// adjustment limit shared by every algorithm below.
func clampSpan(actual, expected int64) int64 {
	if expected <= 0 {
		expected = 1
	}
	min := expected / 4
	if min == 0 {
		min = 1
	}
	max := expected * 4
	switch {
	case actual < min:
		return min
	case actual > max:
		return max
	default:
		return actual
	}
}

// basicNextBits implements the BASIC algorithm: new_target =
// prev_target * clamped_actual / expected, saturated at MaxTarget.
func basicNextBits(prevBits uint32, actual, expected int64) uint32 {
	clamped := clampSpan(actual, expected)

	prevTarget := consensus.BitsToTarget(prevBits)
	newTarget := new(big.Int).Mul(prevTarget, big.NewInt(clamped))
	newTarget.Div(newTarget, big.NewInt(expected))

	if max := consensus.MaxTarget(); newTarget.Cmp(max) > 0 {
		newTarget = max
	}
	return consensus.TargetToBits(newTarget)
}

// linearNextBits nudges the target by a fixed fraction of the clamped
// error instead of the full ratio BASIC applies, producing smaller
// swings per window at the cost of slower convergence.
func linearNextBits(prevBits uint32, actual, expected int64) uint32 {
	clamped := clampSpan(actual, expected)
	delta := clamped - expected // positive: blocks came slow, ease off.

	prevTarget := consensus.BitsToTarget(prevBits)
	adjustment := new(big.Int).Mul(prevTarget, big.NewInt(delta))
	adjustment.Div(adjustment, big.NewInt(expected*4))

	newTarget := new(big.Int).Add(prevTarget, adjustment)
	if newTarget.Sign() < 0 {
		newTarget = big.NewInt(1)
	}
	if max := consensus.MaxTarget(); newTarget.Cmp(max) > 0 {
		newTarget = max
	}
	return consensus.TargetToBits(newTarget)
}

// emaWeight is the smoothing factor (in sixteenths) EMA gives to the
// freshly observed window versus the previous target.
const emaWeight = 4 // 4/16 = 25% weight on the new window.

// emaNextBits exponentially smooths the BASIC ratio adjustment across
// windows instead of applying it outright, damping oscillation on
// chains with bursty hashrate.
func emaNextBits(prevBits uint32, actual, expected int64) uint32 {
	clamped := clampSpan(actual, expected)

	prevTarget := consensus.BitsToTarget(prevBits)
	ratioTarget := new(big.Int).Mul(prevTarget, big.NewInt(clamped))
	ratioTarget.Div(ratioTarget, big.NewInt(expected))

	// newTarget = prevTarget + (ratioTarget - prevTarget) * weight/16
	diff := new(big.Int).Sub(ratioTarget, prevTarget)
	diff.Mul(diff, big.NewInt(emaWeight))
	diff.Div(diff, big.NewInt(16))
	newTarget := new(big.Int).Add(prevTarget, diff)

	if newTarget.Sign() < 0 {
		newTarget = big.NewInt(1)
	}
	if max := consensus.MaxTarget(); newTarget.Cmp(max) > 0 {
		newTarget = max
	}
	return consensus.TargetToBits(newTarget)
}
