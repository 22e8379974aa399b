// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"sort"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// List of different select strategies.
const (
	StrategyTip  = "tip"
	StrategyFIFO = "fifo"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyTip:  tipSelect,
	StrategyFIFO: fifoSelect,
}

// Entry is a pooled transaction with the fee it pays.
type Entry struct {
	Tx    *database.Tx
	Fee   int64
	Size  int
	Added time.Time
}

// Hash returns the hash of the pooled transaction.
func (e Entry) Hash() chainhash.Hash {
	return e.Tx.Hash()
}

// Func defines a function that takes a pool of transactions keyed by hash
// and selects howMany of them in an order based on the functions strategy.
// All selector functions MUST place a transaction after every pooled
// transaction it claims outputs from. Receiving -1 for howMany must return
// all the transactions in the strategies ordering.
type Func func(entries map[chainhash.Hash]Entry, howMany int) []Entry

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// pick walks the sorted entries and takes each one together with the pooled
// parents it still needs, parents first. A transaction whose parents do not
// fit in what is left is skipped.
func pick(entries map[chainhash.Hash]Entry, sorted []Entry, howMany int) []Entry {
	if howMany < 0 {
		howMany = len(entries)
	}

	final := []Entry{}
	taken := make(map[chainhash.Hash]bool)

	for _, entry := range sorted {
		if len(final) == howMany {
			break
		}

		if taken[entry.Hash()] {
			continue
		}

		var chain []Entry
		visiting := make(map[chainhash.Hash]bool)
		collect(entries, entry, taken, visiting, &chain)

		if len(chain) > howMany-len(final) {
			continue
		}

		for _, e := range chain {
			taken[e.Hash()] = true
		}
		final = append(final, chain...)
	}

	return final
}

// collect appends the entry after the parents it claims from the pool that
// are not taken yet.
func collect(entries map[chainhash.Hash]Entry, entry Entry, taken map[chainhash.Hash]bool, visiting map[chainhash.Hash]bool, chain *[]Entry) {
	hash := entry.Hash()
	if taken[hash] || visiting[hash] {
		return
	}
	visiting[hash] = true

	for _, in := range entry.Tx.Inputs() {
		if parent, exists := entries[in.PreviousOutPoint.Hash]; exists {
			collect(entries, parent, taken, visiting, chain)
		}
	}

	*chain = append(*chain, entry)
}

// sorted returns the entries ordered by less with the hash breaking ties so
// the result does not depend on map order.
func sorted(entries map[chainhash.Hash]Entry, less func(a, b Entry) bool) []Entry {
	list := make([]Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case less(a, b):
			return true
		case less(b, a):
			return false
		}

		ha, hb := a.Hash(), b.Hash()
		return string(ha[:]) < string(hb[:])
	})

	return list
}
