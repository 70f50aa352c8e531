package chain

import (
	"math/big"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// entryStatus tracks where a ChainEntry sits relative to the active
// chain.
type entryStatus int

const (
	// statusIndexed means the block is known and linked to a parent but
	// has not been evaluated for chain-tip promotion yet.
	statusIndexed entryStatus = iota
	// statusConnected means the block is on the currently active chain.
	statusConnected
	// statusSideChain means the block is valid and linked but not on
	// the active chain (a shorter or lower-work branch).
	statusSideChain
)

// ChainEntry is one node of the block index: a header plus the
// chain-relative bookkeeping (height, cumulative work, status) a
// header alone doesn't carry.
type ChainEntry struct {
	Hash    types.Hash
	Header  *block.Header
	Height  uint32
	Work    *big.Int // This block's own proof-of-work contribution.
	CumWork *big.Int // Sum of Work from genesis through this block.
	Status  entryStatus
}

// index is an in-memory arena of every known ChainEntry, indexed by
// hash for O(1) ancestor-link lookups and by height for the active
// chain's height→entry mapping.
type index struct {
	entries  []*ChainEntry
	byHash   map[types.Hash]int
	byHeight map[uint32]int // only valid for statusConnected entries
}

func newIndex() *index {
	return &index{
		byHash:   make(map[types.Hash]int),
		byHeight: make(map[uint32]int),
	}
}

// add inserts a new entry into the arena. Returns the entry.
func (ix *index) add(hash types.Hash, header *block.Header, height uint32, parentCumWork *big.Int) *ChainEntry {
	work := consensus.Work(header.Bits)
	cumWork := new(big.Int).Add(parentCumWork, work)

	e := &ChainEntry{
		Hash:    hash,
		Header:  header,
		Height:  height,
		Work:    work,
		CumWork: cumWork,
		Status:  statusIndexed,
	}
	ix.entries = append(ix.entries, e)
	ix.byHash[hash] = len(ix.entries) - 1
	return e
}

func (ix *index) get(hash types.Hash) (*ChainEntry, bool) {
	i, ok := ix.byHash[hash]
	if !ok {
		return nil, false
	}
	return ix.entries[i], true
}

func (ix *index) getByHeight(height uint32) (*ChainEntry, bool) {
	i, ok := ix.byHeight[height]
	if !ok {
		return nil, false
	}
	return ix.entries[i], true
}

// parent returns e's parent entry, if indexed.
func (ix *index) parent(e *ChainEntry) (*ChainEntry, bool) {
	return ix.get(e.Header.PrevHash)
}

// ancestorAt walks e's parent chain back to the given height.
func (ix *index) ancestorAt(e *ChainEntry, height uint32) (*ChainEntry, bool) {
	if height > e.Height {
		return nil, false
	}
	cur := e
	for cur.Height > height {
		p, ok := ix.parent(cur)
		if !ok {
			return nil, false
		}
		cur = p
	}
	return cur, true
}

// medianTimePast returns the median timestamp of the windowSize
// ancestors ending at and including e.
func (ix *index) medianTimePast(e *ChainEntry, windowSize int) uint64 {
	timestamps := make([]uint64, 0, windowSize)
	cur := e
	for i := 0; i < windowSize; i++ {
		timestamps = append(timestamps, cur.Header.Timestamp)
		p, ok := ix.parent(cur)
		if !ok {
			break
		}
		cur = p
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// markConnected flips e's status to connected and publishes it into
// the height index. Used when e joins the active chain.
func (ix *index) markConnected(e *ChainEntry) {
	e.Status = statusConnected
	ix.byHeight[e.Height] = ix.byHash[e.Hash]
}

// markSideChain flips e's status to side-chain and removes it from the
// height index, if it was ever there.
func (ix *index) markSideChain(e *ChainEntry) {
	e.Status = statusSideChain
	if i, ok := ix.byHeight[e.Height]; ok && ix.entries[i].Hash == e.Hash {
		delete(ix.byHeight, e.Height)
	}
}
