// Package database handles all the lower level support for representing
// transactions, blocks and chain links, along with their wire encoding and
// the structural rules they must satisfy.
package database

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultSequence is the sequence number used by inputs that do not
// participate in replacement.
const DefaultSequence uint32 = 0xffffffff

// NewCoinbaseTx constructs a coinbase transaction paying value to pkScript.
// The height is pushed first in the signature script so coinbases at
// different heights never share a hash.
func NewCoinbaseTx(height uint64, value int64, pkScript []byte, extra []byte) *Tx {
	sigScript := coinbaseHeightPush(height)
	sigScript = append(sigScript, extra...)

	in := NewTxIn(NewOutPoint(chainhash.Hash{}, CoinbaseIndex), sigScript, DefaultSequence)
	out := NewTxOut(value, pkScript)

	return NewTx(1, []TxIn{in}, []TxOut{out}, 0)
}

// coinbaseHeightPush encodes the height as a minimal little endian push of
// at least two bytes so the coinbase script length rule is always met.
func coinbaseHeightPush(height uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], height)

	n := 8
	for n > 1 && buf[n-1] == 0 {
		n--
	}

	// Keep the push positive when read as a script number.
	data := buf[:n:n]
	if data[n-1]&0x80 != 0 {
		data = append(data, 0)
	}

	return append([]byte{byte(len(data))}, data...)
}
