package chain

import (
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// State is a snapshot of the active chain's tip, returned by Chain.State
// so callers (RPC, miner, mempool) don't need to hold the chain lock
// while reading multiple fields.
type State struct {
	Height       uint32
	TipHash      types.Hash
	Supply       uint64   // Total coins in circulation (genesis alloc + cumulative rewards).
	CumWork      *big.Int // Sum of every block's Work from genesis to tip (PoW fork choice).
	TipTimestamp uint64
	TipBits      uint32
}

// IsGenesis reports whether no blocks have been accepted yet.
func (s *State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero() && s.CumWork.Sign() == 0
}
