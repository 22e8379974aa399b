// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool/selector"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrConflict is returned when a transaction claims an output another
// pooled transaction already claims.
var ErrConflict = errors.New("transaction conflicts with the mempool")

// Entry is a pooled transaction with the fee it pays.
type Entry = selector.Entry

// Mempool represents a cache of transactions waiting for a block, keyed by
// hash with a second index on the outputs they claim.
type Mempool struct {
	pool     map[chainhash.Hash]Entry
	claims   map[database.OutPoint]chainhash.Hash
	mu       sync.RWMutex
	selectFn selector.Func
}

// New constructs a new mempool using the default sort strategy.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyTip)
}

// NewWithStrategy constructs a new mempool with specified sort strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[chainhash.Hash]Entry),
		claims:   make(map[database.OutPoint]chainhash.Hash),
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Get returns the pooled entry for the transaction hash.
func (mp *Mempool) Get(hash chainhash.Hash) (Entry, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entry, exists := mp.pool[hash]
	return entry, exists
}

// Upsert adds or replaces a transaction in the mempool. A transaction that
// claims an output claimed by a different pooled transaction is refused.
func (mp *Mempool) Upsert(entry Entry) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	hash := entry.Hash()

	for _, in := range entry.Tx.Inputs() {
		if other, exists := mp.claims[in.PreviousOutPoint]; exists && other != hash {
			return 0, fmt.Errorf("%w: %s claimed by %s", ErrConflict, in.PreviousOutPoint, other)
		}
	}

	mp.pool[hash] = entry
	for _, in := range entry.Tx.Inputs() {
		mp.claims[in.PreviousOutPoint] = hash
	}

	return len(mp.pool), nil
}

// Delete removes a transaction and every pooled transaction built on it
// from the mempool.
func (mp *Mempool) Delete(hash chainhash.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.delete(hash)
}

// RemoveBlock drops the transactions a block carries. Pooled transactions
// that claim an output the block already claims are dropped too, along
// with their descendants.
func (mp *Mempool) RemoveBlock(block database.Block) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	before := len(mp.pool)

	for _, tx := range block.Transactions() {
		mp.delete(tx.Hash())

		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs() {
			if other, exists := mp.claims[in.PreviousOutPoint]; exists {
				mp.delete(other)
			}
		}
	}

	return before - len(mp.pool)
}

// Ancestors returns the pooled transactions tx depends on, parents first.
func (mp *Mempool) Ancestors(tx *database.Tx) []Entry {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var chain []Entry
	seen := make(map[chainhash.Hash]bool)

	var walk func(tx *database.Tx)
	walk = func(tx *database.Tx) {
		for _, in := range tx.Inputs() {
			parent, exists := mp.pool[in.PreviousOutPoint.Hash]
			if !exists || seen[parent.Hash()] {
				continue
			}
			seen[parent.Hash()] = true

			walk(parent.Tx)
			chain = append(chain, parent)
		}
	}
	walk(tx)

	return chain
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[chainhash.Hash]Entry)
	mp.claims = make(map[database.OutPoint]chainhash.Hash)
}

// PickBest uses the configured sort strategy to return the next set
// of transactions for the next block.
func (mp *Mempool) PickBest(howMany int) []Entry {
	m := make(map[chainhash.Hash]Entry)
	mp.mu.RLock()
	{
		for hash, entry := range mp.pool {
			m[hash] = entry
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}

// =============================================================================

// delete removes the transaction and its pooled descendants. The caller
// must hold the write lock.
func (mp *Mempool) delete(hash chainhash.Hash) {
	entry, exists := mp.pool[hash]
	if !exists {
		return
	}

	delete(mp.pool, hash)
	for _, in := range entry.Tx.Inputs() {
		if mp.claims[in.PreviousOutPoint] == hash {
			delete(mp.claims, in.PreviousOutPoint)
		}
	}

	for i := range entry.Tx.Outputs() {
		op := database.NewOutPoint(hash, uint32(i))
		if child, exists := mp.claims[op]; exists {
			mp.delete(child)
		}
	}
}
