// Package mempool holds unconfirmed transactions awaiting block
// inclusion, ordered by fee rate for template building.
package mempool

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"

	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrIsCoinbase    = errors.New("coinbase transactions are not relayed")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
)

const (
	// DefaultMaxEntries bounds the pool by transaction count.
	DefaultMaxEntries = 5000
	// DefaultMaxBytes bounds the pool by total signing-byte size.
	DefaultMaxBytes = 64 * 1024 * 1024
	// DefaultTTL is how long an entry may sit unconfirmed before
	// pruning discards it.
	DefaultTTL = 72 * time.Hour
)

// entry wraps a pooled transaction with its fee accounting and its
// position in the dependency graph of other pooled transactions.
type entry struct {
	tx        *tx.Transaction
	txHash    types.Hash
	fee       uint64
	size      int
	feeRate   float64 // fee per byte of SigningBytes.
	entryTime uint64  // unix seconds, for TTL and heap tie-break.

	parents  map[types.Hash]struct{} // in-mempool ancestors this entry spends from
	children map[types.Hash]struct{} // in-mempool descendants that spend this entry's outputs

	heapIndex int
	removed   bool
}

// Pool holds unconfirmed transactions.
type Pool struct {
	mu sync.RWMutex

	txs    map[types.Hash]*entry
	spends map[types.Outpoint]types.Hash // outpoint -> spending txHash, conflict index
	pq     feeHeap

	maxEntries int
	maxBytes   int
	byteTotal  int
	minFeeRate uint64
	ttl        time.Duration

	utxos    utxo.Set
	heightFn func() uint32
	now      func() uint64
	policy   *Policy
}

// New creates a mempool backed by the confirmed UTXO set. heightFn
// reports the current chain tip height; coinbase-maturity checks treat a
// newly-admitted transaction as confirming at the height after it.
func New(utxos utxo.Set, heightFn func() uint32) *Pool {
	p := &Pool{
		txs:        make(map[types.Hash]*entry),
		spends:     make(map[types.Outpoint]types.Hash),
		maxEntries: DefaultMaxEntries,
		maxBytes:   DefaultMaxBytes,
		ttl:        DefaultTTL,
		utxos:      utxos,
		heightFn:   heightFn,
		now:        func() uint64 { return uint64(time.Now().Unix()) },
		policy:     DefaultPolicy(),
	}
	heap.Init(&p.pq)
	return p
}

// SetClock overrides the pool's time source. Exposed for tests.
func (p *Pool) SetClock(fn func() uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = fn
}

// SetLimits overrides the pool's entry-count and byte-size caps.
func (p *Pool) SetLimits(maxEntries, maxBytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxEntries > 0 {
		p.maxEntries = maxEntries
	}
	if maxBytes > 0 {
		p.maxBytes = maxBytes
	}
}

// SetMinFeeRate sets the minimum fee rate (base units per byte) for
// transaction acceptance.
func (p *Pool) SetMinFeeRate(rate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

// MinFeeRate returns the current minimum fee rate (base units per byte).
func (p *Pool) MinFeeRate() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minFeeRate
}

// SetTTL overrides how long an entry may sit unconfirmed before Prune
// discards it.
func (p *Pool) SetTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttl = ttl
}

// SetPolicy overrides the pool's acceptance policy.
func (p *Pool) SetPolicy(policy *Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if policy != nil {
		p.policy = policy
	}
}

// poolProvider resolves outpoints against in-mempool ancestor outputs
// first, falling back to the confirmed UTXO set. This lets a
// transaction spend an output still sitting unconfirmed in the
// mempool; callers must already hold p.mu.
type poolProvider struct{ p *Pool }

func (pp poolProvider) ResolveOutpoint(op types.Outpoint) (*tx.ResolvedOutput, error) {
	if parent, ok := pp.p.txs[op.TxID]; ok {
		if int(op.Index) >= len(parent.tx.Outputs) {
			return nil, fmt.Errorf("outpoint index %d out of range for mempool tx %s", op.Index, op.TxID)
		}
		out := parent.tx.Outputs[op.Index]
		return &tx.ResolvedOutput{Value: out.Value, Script: out.Script}, nil
	}

	u, err := pp.p.utxos.Get(op)
	if err != nil {
		return nil, err
	}
	return &tx.ResolvedOutput{Value: u.Value, Script: u.Script, Height: u.Height, IsCoinbase: u.Coinbase}, nil
}

// Add validates and admits a transaction to the mempool. Returns the computed fee.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(transaction)
}

func (p *Pool) addLocked(transaction *tx.Transaction) (uint64, error) {
	if transaction.IsCoinbase() {
		return 0, ErrIsCoinbase
	}

	txHash := transaction.Hash()
	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	if err := p.policy.Check(transaction); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	for _, in := range transaction.Inputs {
		if conflictHash, exists := p.spends[in.PrevOut]; exists {
			return 0, fmt.Errorf("%w: input %s already spent by %s", ErrConflict, in.PrevOut, conflictHash)
		}
	}

	currentHeight := p.heightFn()
	fee, err := transaction.ValidateWithUTXOs(poolProvider{p}, currentHeight+1)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	size := len(transaction.SigningBytes())
	var feeRate float64
	if size > 0 {
		feeRate = float64(fee) / float64(size)
	}
	if p.minFeeRate > 0 && feeRate < float64(p.minFeeRate) {
		return 0, fmt.Errorf("%w: rate %.4f, need %d", ErrFeeTooLow, feeRate, p.minFeeRate)
	}

	if err := p.makeRoom(size, feeRate); err != nil {
		return 0, err
	}

	e := &entry{
		tx:        transaction,
		txHash:    txHash,
		fee:       fee,
		size:      size,
		feeRate:   feeRate,
		entryTime: p.now(),
		parents:   make(map[types.Hash]struct{}),
		children:  make(map[types.Hash]struct{}),
	}
	for _, in := range transaction.Inputs {
		if parent, ok := p.txs[in.PrevOut.TxID]; ok {
			e.parents[parent.txHash] = struct{}{}
			parent.children[txHash] = struct{}{}
		}
	}

	p.txs[txHash] = e
	p.byteTotal += size
	for _, in := range transaction.Inputs {
		p.spends[in.PrevOut] = txHash
	}
	heap.Push(&p.pq, e)

	klog.Mempool().Debug().
		Str("txid", txHash.String()[:16]+"...").
		Uint64("fee", fee).
		Float64("fee_rate", feeRate).
		Int("pool_size", len(p.txs)).
		Msg("transaction accepted")

	return fee, nil
}

// makeRoom evicts lowest-fee-rate leaf entries until adding an entry of
// the given size and rate would fit, or reports ErrPoolFull if the
// candidate would only displace entries that already pay as much or
// more.
func (p *Pool) makeRoom(size int, feeRate float64) error {
	for len(p.txs) >= p.maxEntries || p.byteTotal+size > p.maxBytes {
		victim := p.lowestFeeRateLeaf()
		if victim == nil || victim.feeRate >= feeRate {
			return ErrPoolFull
		}
		klog.Mempool().Debug().
			Str("txid", victim.txHash.String()[:16]+"...").
			Float64("evicted_fee_rate", victim.feeRate).
			Float64("incoming_fee_rate", feeRate).
			Msg("evicting to make room")
		p.removeLocked(victim.txHash)
	}
	return nil
}

// lowestFeeRateLeaf returns the lowest fee-rate entry with no in-mempool
// children, or nil if the pool is empty. Only leaves are evicted so
// that dropping one entry never orphans a descendant still present.
func (p *Pool) lowestFeeRateLeaf() *entry {
	var lowest *entry
	for _, e := range p.txs {
		if len(e.children) > 0 {
			continue
		}
		if lowest == nil || e.feeRate < lowest.feeRate {
			lowest = e
		}
	}
	return lowest
}

// Remove removes a transaction from the mempool by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	for _, in := range e.tx.Inputs {
		delete(p.spends, in.PrevOut)
	}
	for parentHash := range e.parents {
		if parent, ok := p.txs[parentHash]; ok {
			delete(parent.children, txHash)
		}
	}
	for childHash := range e.children {
		if child, ok := p.txs[childHash]; ok {
			delete(child.parents, txHash)
		}
	}
	delete(p.txs, txHash)
	p.byteTotal -= e.size
	e.removed = true
}

// removeConflicting drops any pooled entry that spends an outpoint also
// spent by one of the given confirmed transactions, without touching
// the confirmed transactions themselves (they are removed by hash in
// ReconcileNewBlock).
func (p *Pool) removeConflicting(confirmed []*tx.Transaction) {
	for _, t := range confirmed {
		for _, in := range t.Inputs {
			if conflictHash, ok := p.spends[in.PrevOut]; ok {
				p.removeLocked(conflictHash)
			}
		}
	}
}

// ReconcileNewBlock updates the pool after a block changes the active
// chain: confirmed transactions and
// anything conflicting with them are dropped, and transactions knocked
// off the chain by a reorg are re-admitted where still valid.
func (p *Pool) ReconcileNewBlock(connected, disconnected []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range connected {
		p.removeLocked(t.Hash())
	}
	p.removeConflicting(connected)

	for _, t := range disconnected {
		if t.IsCoinbase() {
			continue
		}
		_, _ = p.addLocked(t)
	}

	p.pruneExpiredLocked()
}

// Prune discards entries older than the pool's TTL.
func (p *Pool) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pruneExpiredLocked()
}

func (p *Pool) pruneExpiredLocked() int {
	n := 0
	if p.ttl > 0 {
		cutoff := p.now() - uint64(p.ttl.Seconds())
		var expired []types.Hash
		for hash, e := range p.txs {
			if e.entryTime < cutoff {
				expired = append(expired, hash)
			}
		}
		for _, hash := range expired {
			p.removeLocked(hash)
		}
		n = len(expired)
	}
	p.compactHeap()
	return n
}

// compactHeap rebuilds the priority heap from live entries once stale,
// removed ones have piled up past the lazy-skip budget.
func (p *Pool) compactHeap() {
	if len(p.pq) < 2*len(p.txs)+16 {
		return
	}
	fresh := make(feeHeap, 0, len(p.txs))
	for _, e := range p.txs {
		fresh = append(fresh, e)
	}
	p.pq = fresh
	heap.Init(&p.pq)
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// GetFee returns the fee for a transaction in the mempool (0 if not found).
func (p *Pool) GetFee(txHash types.Hash) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return 0
	}
	return e.fee
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Bytes returns the total signing-byte size of all pooled transactions.
func (p *Pool) Bytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byteTotal
}

// Hashes returns the hashes of all transactions in the mempool.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// SelectForBlock greedily selects transactions by fee-rate priority for
// inclusion in a block template, honoring dependency order and a byte
// budget. The lazy max-heap is copied
// before draining so normal pool state is untouched.
func (p *Pool) SelectForBlock(maxBytes int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	scratch := make(feeHeap, len(p.pq))
	copy(scratch, p.pq)
	for i := range scratch {
		scratch[i].heapIndex = i
	}
	heap.Init(&scratch)

	included := make(map[types.Hash]bool, len(p.txs))
	var selected []*tx.Transaction
	used := 0

	for scratch.Len() > 0 {
		e := heap.Pop(&scratch).(*entry)
		if e.removed {
			continue
		}
		if !p.ancestorsSelected(e, included) {
			continue
		}
		if used+e.size > maxBytes {
			continue
		}
		selected = append(selected, e.tx)
		included[e.txHash] = true
		used += e.size
	}

	return selected
}

// ancestorsSelected reports whether every in-mempool ancestor of e has
// already been placed in the selection, so the result stays
// topologically ordered by construction.
func (p *Pool) ancestorsSelected(e *entry, included map[types.Hash]bool) bool {
	for parentHash := range e.parents {
		if parent, ok := p.txs[parentHash]; ok && !parent.removed {
			if !included[parentHash] {
				return false
			}
		}
	}
	return true
}
