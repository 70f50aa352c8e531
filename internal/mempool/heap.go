package mempool

// feeHeap is a max-heap of pooled entries ordered by fee rate, with
// ties broken by earliest entry time. Removed entries are left in
// place and skipped lazily wherever they surface,
// rather than repaired eagerly on every Remove.
type feeHeap []*entry

func (h feeHeap) Len() int { return len(h) }

func (h feeHeap) Less(i, j int) bool {
	if h[i].feeRate != h[j].feeRate {
		return h[i].feeRate > h[j].feeRate
	}
	return h[i].entryTime < h[j].entryTime
}

func (h feeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *feeHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *feeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
