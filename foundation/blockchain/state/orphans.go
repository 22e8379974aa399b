package state

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultMaxOrphans is the number of orphans kept when the configuration
// does not set one.
const DefaultMaxOrphans = 100

// orphanPool tracks the orphans stored during this run in arrival order so
// the oldest can be dropped once the pool is full. Orphans found in storage
// at startup are not tracked.
type orphanPool struct {
	limit   int
	order   []chainhash.Hash
	pending map[chainhash.Hash]struct{}
}

func newOrphanPool(limit int) orphanPool {
	return orphanPool{
		limit:   limit,
		pending: make(map[chainhash.Hash]struct{}),
	}
}

func (op *orphanPool) add(hash chainhash.Hash) {
	op.order = append(op.order, hash)
	op.pending[hash] = struct{}{}
}

// drop forgets an orphan that was connected or removed.
func (op *orphanPool) drop(hash chainhash.Hash) {
	delete(op.pending, hash)

	// Compact once connected orphans make up most of the queue.
	if len(op.order) > 2*(len(op.pending)+op.limit) {
		order := make([]chainhash.Hash, 0, len(op.pending))
		for _, h := range op.order {
			if _, exists := op.pending[h]; exists {
				order = append(order, h)
			}
		}
		op.order = order
	}
}

// full reports whether another orphan would exceed the limit.
func (op *orphanPool) full() bool {
	return len(op.pending) >= op.limit
}

// oldest removes and returns the orphan that arrived first.
func (op *orphanPool) oldest() (chainhash.Hash, bool) {
	for len(op.order) > 0 {
		hash := op.order[0]
		op.order = op.order[1:]

		if _, exists := op.pending[hash]; exists {
			return hash, true
		}
	}

	return chainhash.Hash{}, false
}

func (op *orphanPool) len() int {
	return len(op.pending)
}
