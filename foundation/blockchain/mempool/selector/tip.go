package selector

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// tipSelect returns transactions with the best fee per byte while keeping
// parents ahead of the transactions that claim their outputs.
var tipSelect = func(m map[chainhash.Hash]Entry, howMany int) []Entry {

	/*
		a: {Fee: 500, Size: 250}           2 sat/byte
		b: {Fee: 100, Size: 200}           0.5 sat/byte
		c: {Fee: 1000, Size: 200, Claims: b} 5 sat/byte
		d: {Fee: 300, Size: 100}           3 sat/byte
	*/

	// Order the pool by fee rate. Comparing cross products keeps the math
	// in integers.
	list := sorted(m, func(a, b Entry) bool {
		return a.Fee*int64(b.Size) > b.Fee*int64(a.Size)
	})

	/*
		c, d, a, b
	*/

	// Take each transaction with the parents it needs. Picking c pulls b in
	// ahead of it.

	/*
		b, c, d, a
	*/

	return pick(m, list, howMany)
}

// fifoSelect returns transactions in the order they entered the pool.
var fifoSelect = func(m map[chainhash.Hash]Entry, howMany int) []Entry {
	list := sorted(m, func(a, b Entry) bool {
		return a.Added.Before(b.Added)
	})

	return pick(m, list, howMany)
}
