package database

import (
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Coinbase signature scripts must fall inside this range.
const (
	MinCoinbaseScriptLen = 2
	MaxCoinbaseScriptLen = 100
)

// minBytesPerSigOp is the script size that buys one signature operation
// beyond the first when applying the complexity heuristic.
const minBytesPerSigOp = 34

// Validate performs the context free checks on a transaction. It does not
// look at any other transaction.
func (tx *Tx) Validate() error {
	hash := tx.hash

	if len(tx.inputs) == 0 {
		return NewVerificationError(ErrNoInputs, hash, "")
	}

	if len(tx.outputs) == 0 {
		return NewVerificationError(ErrNoOutputs, hash, "")
	}

	if size := tx.SerializeSize(); size > MaxBlockSize {
		return NewVerificationError(ErrTxTooBig, hash, "size %d, max %d", size, MaxBlockSize)
	}

	var total int64
	for i, out := range tx.outputs {
		if out.Value < 0 || out.Value > btcutil.MaxSatoshi {
			return NewVerificationError(ErrBadTxOutValue, hash, "output[%d] value %d", i, out.Value)
		}

		total += out.Value
		if total > btcutil.MaxSatoshi {
			return NewVerificationError(ErrBadTxOutValue, hash, "total output value %d exceeds %d", total, int64(btcutil.MaxSatoshi))
		}
	}

	seen := make(map[OutPoint]struct{}, len(tx.inputs))
	for i, in := range tx.inputs {
		if _, exists := seen[in.PreviousOutPoint]; exists {
			return NewInputError(ErrDuplicateTxInputs, hash, i, nil, "outpoint %s", in.PreviousOutPoint)
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}

	if tx.IsCoinbase() {
		n := len(tx.inputs[0].SignatureScript)
		if n < MinCoinbaseScriptLen || n > MaxCoinbaseScriptLen {
			return NewVerificationError(ErrBadCoinbaseScriptLen, hash, "length %d, range [%d, %d]", n, MinCoinbaseScriptLen, MaxCoinbaseScriptLen)
		}
	} else {
		for i, in := range tx.inputs {
			if in.PreviousOutPoint.Hash == (chainhash.Hash{}) {
				return NewInputError(ErrBadTxInput, hash, i, nil, "outpoint %s", in.PreviousOutPoint)
			}
		}
	}

	if !IsComplexityException(hash) {
		for i, in := range tx.inputs {
			if tooComplex(in.SignatureScript) {
				return NewInputError(ErrTooComplex, hash, i, nil, "signature script")
			}
		}

		for i, out := range tx.outputs {
			if tooComplex(out.PkScript) {
				return NewVerificationError(ErrTooComplex, hash, "output[%d] public key script", i)
			}
		}
	}

	return nil
}

// tooComplex reports whether a script asks for more signature checks than
// its size allows.
func tooComplex(pkScript []byte) bool {
	return script.CountSigOps(pkScript) > 1+len(pkScript)/minBytesPerSigOp
}
