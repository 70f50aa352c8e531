package chain

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// extendChain mines n empty blocks on top of the current tip and
// accepts each one in turn, crediting coinbases to addr.
func extendChain(t *testing.T, c *Chain, addr types.Address, n int) *block.Block {
	t.Helper()
	var last *block.Block
	for i := 0; i < n; i++ {
		parent := tipEntry(t, c)
		blk := mineBlock(t, c, parent, nil, addr, c.clock())
		if err := c.AcceptBlock(blk); err != nil {
			t.Fatalf("AcceptBlock at height %d: %v", parent.Height+1, err)
		}
		last = blk
	}
	return last
}

func TestReorg_SwitchesToHeavierSideBranch(t *testing.T) {
	c, _, addr := newTestChain(t)

	// Build a 2-block main branch.
	p0 := tipEntry(t, c)
	blkA1 := mineBlock(t, c, p0, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA1); err != nil {
		t.Fatalf("accept A1: %v", err)
	}
	a1 := tipEntry(t, c)
	blkA2 := mineBlock(t, c, a1, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA2); err != nil {
		t.Fatalf("accept A2: %v", err)
	}

	if c.Height() != 2 {
		t.Fatalf("height = %d, want 2", c.Height())
	}

	// Build a competing 3-block side branch off genesis, each block's
	// parent the previously accepted side block. Only once the third
	// block pushes its cumulative work past the main branch's does
	// AcceptBlock reorg the tip onto it.
	cur := p0
	var lastSideHash types.Hash
	for i := 0; i < 3; i++ {
		blk := mineBlock(t, c, cur, nil, addr, c.clock()+100+uint64(i))
		if err := c.AcceptBlock(blk); err != nil {
			t.Fatalf("accept side block %d: %v", i, err)
		}
		entry, ok := c.index.get(blk.Hash())
		if !ok {
			t.Fatalf("side block %d not indexed", i)
		}
		cur = entry
		lastSideHash = blk.Hash()
	}

	if c.TipHash() != lastSideHash {
		t.Fatalf("tip did not reorg to the heavier branch: got %s, want %s", c.TipHash(), lastSideHash)
	}
	if c.Height() != 3 {
		t.Fatalf("height after reorg = %d, want 3", c.Height())
	}
}

func TestReorg_ShorterBranchStaysSideChain(t *testing.T) {
	c, _, addr := newTestChain(t)

	p0 := tipEntry(t, c)
	blkA1 := mineBlock(t, c, p0, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA1); err != nil {
		t.Fatalf("accept A1: %v", err)
	}
	a1 := tipEntry(t, c)
	blkA2 := mineBlock(t, c, a1, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA2); err != nil {
		t.Fatalf("accept A2: %v", err)
	}
	mainTip := c.TipHash()

	blkB1 := mineBlock(t, c, p0, nil, addr, c.clock()+50)
	if err := c.AcceptBlock(blkB1); err != nil {
		t.Fatalf("accept B1: %v", err)
	}

	if c.TipHash() != mainTip {
		t.Fatalf("tip moved to a lighter branch: got %s, want %s", c.TipHash(), mainTip)
	}
	entry, ok := c.index.get(blkB1.Hash())
	if !ok {
		t.Fatalf("side block not indexed")
	}
	if entry.Status != statusSideChain {
		t.Fatalf("side block status = %d, want statusSideChain", entry.Status)
	}
}

func TestForkPoint_FindsCommonAncestor(t *testing.T) {
	c, _, addr := newTestChain(t)
	p0 := tipEntry(t, c)

	blkA1 := mineBlock(t, c, p0, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA1); err != nil {
		t.Fatalf("accept A1: %v", err)
	}
	a1 := tipEntry(t, c)
	blkA2 := mineBlock(t, c, a1, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA2); err != nil {
		t.Fatalf("accept A2: %v", err)
	}
	a2 := tipEntry(t, c)

	blkB1 := mineBlock(t, c, p0, nil, addr, c.clock()+50)
	if err := c.AcceptBlock(blkB1); err != nil {
		t.Fatalf("accept B1: %v", err)
	}
	b1, ok := c.index.get(blkB1.Hash())
	if !ok {
		t.Fatalf("B1 not indexed")
	}

	fork, err := c.forkPoint(a2, b1)
	if err != nil {
		t.Fatalf("forkPoint: %v", err)
	}
	if fork.Hash != p0.Hash {
		t.Fatalf("fork point = %s, want genesis %s", fork.Hash, p0.Hash)
	}
}

func TestRebuildFromGenesis_RecomputesSupplyAndWork(t *testing.T) {
	c, _, addr := newTestChain(t)
	extendChain(t, c, addr, 3)

	wantHeight := c.Height()
	wantTip := c.TipHash()
	wantSupply := c.Supply()
	wantWork := c.blocks.GetCumulativeWork()

	if err := c.RebuildFromGenesis(); err != nil {
		t.Fatalf("RebuildFromGenesis: %v", err)
	}

	if c.Height() != wantHeight {
		t.Fatalf("height after rebuild = %d, want %d", c.Height(), wantHeight)
	}
	if c.TipHash() != wantTip {
		t.Fatalf("tip after rebuild = %s, want %s", c.TipHash(), wantTip)
	}
	if c.Supply() != wantSupply {
		t.Fatalf("supply after rebuild = %d, want %d", c.Supply(), wantSupply)
	}
	if got := c.blocks.GetCumulativeWork(); got.Cmp(wantWork) != 0 {
		t.Fatalf("cumulative work after rebuild = %s, want %s", got, wantWork)
	}

	// addr holds the genesis allocation plus the three coinbases.
	wantBal := uint64(5000)
	for h := uint32(1); h <= 3; h++ {
		wantBal += consensus.Subsidy(h, c.rules)
	}
	bal, err := c.utxos.BalanceOf(addr)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal != wantBal {
		t.Fatalf("balance after rebuild = %d, want %d", bal, wantBal)
	}
}

func TestReorganizeTo_AbortsOnInvalidBranchLeavesTipUntouched(t *testing.T) {
	c, _, addr := newTestChain(t)
	p0 := tipEntry(t, c)

	blkA1 := mineBlock(t, c, p0, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA1); err != nil {
		t.Fatalf("accept A1: %v", err)
	}
	a1 := tipEntry(t, c)
	blkA2 := mineBlock(t, c, a1, nil, addr, c.clock())
	if err := c.AcceptBlock(blkA2); err != nil {
		t.Fatalf("accept A2: %v", err)
	}
	mainTip := c.TipHash()

	// A side branch that reaches the main branch's height with valid
	// blocks, then adds one more with a forged coinbase. Only the
	// third block gives the side branch more cumulative work than the
	// main tip, so that is the block whose acceptance triggers
	// reorganizeTo and must abort it.
	blkB1 := mineBlock(t, c, p0, nil, addr, c.clock()+50)
	if err := c.AcceptBlock(blkB1); err != nil {
		t.Fatalf("accept B1: %v", err)
	}
	b1, ok := c.index.get(blkB1.Hash())
	if !ok {
		t.Fatalf("B1 not indexed")
	}

	blkB2 := mineBlock(t, c, b1, nil, addr, c.clock()+51)
	if err := c.AcceptBlock(blkB2); err != nil {
		t.Fatalf("accept B2: %v", err)
	}
	b2, ok := c.index.get(blkB2.Hash())
	if !ok {
		t.Fatalf("B2 not indexed")
	}

	blkB3 := mineBlock(t, c, b2, nil, addr, c.clock()+52)
	blkB3.Transactions[0].Outputs[0].Value += 1
	blkB3.Header.MerkleRoot = block.ComputeMerkleRoot(blkB3.TxHashes())
	for nonce := uint32(0); !consensus.MeetsTarget(blkB3.Hash(), blkB3.Header.Bits); nonce++ {
		blkB3.Header.Nonce = nonce + 1
	}

	if err := c.AcceptBlock(blkB3); err == nil {
		t.Fatalf("expected reorg to be aborted by invalid coinbase")
	}

	if c.TipHash() != mainTip {
		t.Fatalf("tip moved despite aborted reorg: got %s, want %s", c.TipHash(), mainTip)
	}
	if _, found := c.blocks.GetReorgCheckpoint(); found {
		t.Fatalf("reorg checkpoint left behind after abort")
	}
}
