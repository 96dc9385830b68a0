package stream

// reorderBuffer restores delivery order over chunks that complete out of
// order. Chunks are stashed keyed by index; Pop releases them only in
// strictly increasing index order with no gaps.
type reorderBuffer struct {
	next    int
	pending map[int][]byte
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int][]byte)}
}

func (b *reorderBuffer) Put(idx int, data []byte) {
	b.pending[idx] = data
}

// Pop returns the next in-order chunk if it has arrived. The returned index
// is always the previous index + 1.
func (b *reorderBuffer) Pop() (idx int, data []byte, ok bool) {
	data, ok = b.pending[b.next]
	if !ok {
		return 0, nil, false
	}
	idx = b.next
	delete(b.pending, idx)
	b.next++
	return idx, data, true
}

// Buffered is the count of completed chunks waiting for their turn.
func (b *reorderBuffer) Buffered() int { return len(b.pending) }
