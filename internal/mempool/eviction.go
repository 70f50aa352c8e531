package mempool

// Evict trims the pool down to its configured entry and byte caps,
// discarding lowest fee-rate leaf entries first so no transaction is ever evicted out from under a
// descendant still present in the pool. Returns the number removed.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for len(p.txs) > p.maxEntries || p.byteTotal > p.maxBytes {
		victim := p.lowestFeeRateLeaf()
		if victim == nil {
			break
		}
		p.removeLocked(victim.txHash)
		evicted++
	}
	return evicted
}
