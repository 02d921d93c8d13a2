package mempool

// priceHeap is the by_price index: a binary max-heap ordered by (gas
// price desc, added_at asc, hash asc), holding only Pending entries.
// Each item tracks its own heap index so arbitrary entries can be
// removed in O(log n) when a transaction transitions out of Pending.
type priceHeap struct {
	items []*Transaction
}

func (h *priceHeap) Len() int { return len(h.items) }

func (h *priceHeap) Less(i, j int) bool {
	return h.items[i].less(h.items[j])
}

func (h *priceHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *priceHeap) Push(x any) {
	tx := x.(*Transaction)
	tx.index = len(h.items)
	h.items = append(h.items, tx)
}

func (h *priceHeap) Pop() any {
	old := h.items
	n := len(old)
	tx := old[n-1]
	old[n-1] = nil
	tx.index = -1
	h.items = old[:n-1]
	return tx
}
