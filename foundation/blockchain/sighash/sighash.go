// Package sighash computes the digest a transaction signature commits to.
// The digest is the double sha256 of a modified copy of the transaction
// followed by the four byte hash type.
package sighash

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Type selects which parts of a transaction a signature commits to.
type Type uint32

// Set of hash types. AnyOneCanPay is a flag combined with one of the others.
const (
	All          Type = 0x01
	None         Type = 0x02
	Single       Type = 0x03
	AnyOneCanPay Type = 0x80

	baseMask = 0x1f
)

// Base returns the hash type without the AnyOneCanPay flag.
func (t Type) Base() Type {
	return t & baseMask
}

// AnyOneCanPay reports whether the flag is set.
func (t Type) AnyOneCanPay() bool {
	return t&AnyOneCanPay != 0
}

// String implements the fmt.Stringer interface.
func (t Type) String() string {
	var s string
	switch t.Base() {
	case All:
		s = "ALL"
	case None:
		s = "NONE"
	case Single:
		s = "SINGLE"
	default:
		s = fmt.Sprintf("UNKNOWN(%#x)", uint32(t.Base()))
	}

	if t.AnyOneCanPay() {
		s += "|ANYONECANPAY"
	}

	return s
}

// =============================================================================

// Calculate returns the digest for the input at idx signed over subscript.
//
// Every other input keeps its outpoint and loses its script. For None and
// Single the other inputs also lose their sequence number. AnyOneCanPay
// keeps only the signed input. None drops every output, Single keeps the
// output at idx and blanks the ones before it. Unknown base types commit to
// every output like All.
func Calculate(tx *database.Tx, idx int, subscript []byte, hashType Type) (chainhash.Hash, error) {
	inputs := tx.Inputs()
	if idx < 0 || idx >= len(inputs) {
		return chainhash.Hash{}, fmt.Errorf("input index %d out of range for %d inputs", idx, len(inputs))
	}

	base := hashType.Base()

	var outs []*database.TxOut
	switch base {
	case None:
		// Commit to no outputs.

	case Single:
		outputs := tx.Outputs()
		if idx >= len(outputs) {
			return chainhash.Hash{}, database.NewInputError(database.ErrSigHashSingle, tx.Hash(), idx, nil, "%d outputs", len(outputs))
		}

		outs = make([]*database.TxOut, idx+1)
		for i := 0; i < idx; i++ {
			blank := database.NewTxOut(-1, nil)
			outs[i] = &blank
		}
		outs[idx] = outputs[idx]

	default:
		outs = tx.Outputs()
	}

	var ins []*database.TxIn
	switch {
	case hashType.AnyOneCanPay():
		in := database.NewTxIn(inputs[idx].PreviousOutPoint, subscript, inputs[idx].Sequence)
		ins = []*database.TxIn{&in}

	default:
		ins = make([]*database.TxIn, len(inputs))
		for i, orig := range inputs {
			in := database.NewTxIn(orig.PreviousOutPoint, nil, orig.Sequence)

			switch {
			case i == idx:
				in.SignatureScript = subscript
			case base == None || base == Single:
				in.Sequence = 0
			}

			ins[i] = &in
		}
	}

	var buf bytes.Buffer
	if err := database.WriteTx(&buf, tx.Version(), ins, outs, tx.LockTime()); err != nil {
		return chainhash.Hash{}, fmt.Errorf("serialize: %w", err)
	}

	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(hashType)))

	return chainhash.DoubleHashH(buf.Bytes()), nil
}
