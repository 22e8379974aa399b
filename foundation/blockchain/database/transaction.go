package database

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CoinbaseIndex is the output index a coinbase input claims. It marks the
// input as not claiming any real output.
const CoinbaseIndex uint32 = math.MaxUint32

// Protocol bounds used when decoding untrusted transactions.
const (
	MaxBlockSize     = 1_000_000
	minTxInSize      = 41
	minTxOutSize     = 9
	maxTxInPerBlock  = MaxBlockSize/minTxInSize + 1
	maxTxOutPerBlock = MaxBlockSize/minTxOutSize + 1
)

// =============================================================================

// OutPoint identifies a single output of a previous transaction.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint constructs an OutPoint.
func NewOutPoint(hash chainhash.Hash, index uint32) OutPoint {
	return OutPoint{
		Hash:  hash,
		Index: index,
	}
}

// IsNull reports whether the outpoint is the one a coinbase input claims.
func (op OutPoint) IsNull() bool {
	return op.Index == CoinbaseIndex && op.Hash == chainhash.Hash{}
}

// String returns the outpoint as hash:index.
func (op OutPoint) String() string {
	return fmt.Sprintf("%s:%d", op.Hash, op.Index)
}

// =============================================================================

// TxIn claims an output of a previous transaction and carries the script
// that satisfies it.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32

	index int
	tx    *Tx
}

// NewTxIn constructs an input that is not yet part of a transaction.
func NewTxIn(prev OutPoint, sigScript []byte, sequence uint32) TxIn {
	return TxIn{
		PreviousOutPoint: prev,
		SignatureScript:  sigScript,
		Sequence:         sequence,
		index:            -1,
	}
}

// Index returns the position of the input inside its transaction.
func (in *TxIn) Index() int {
	return in.index
}

// Tx returns the transaction that owns the input.
func (in *TxIn) Tx() *Tx {
	return in.tx
}

func (in *TxIn) serializeSize() int {
	return 32 + 4 + wire.VarIntSerializeSize(uint64(len(in.SignatureScript))) + len(in.SignatureScript) + 4
}

// =============================================================================

// TxOut carries a value and the locking script that must be satisfied to
// claim it.
type TxOut struct {
	Value    int64
	PkScript []byte

	index int
	tx    *Tx
}

// NewTxOut constructs an output that is not yet part of a transaction.
func NewTxOut(value int64, pkScript []byte) TxOut {
	return TxOut{
		Value:    value,
		PkScript: pkScript,
		index:    -1,
	}
}

// Index returns the position of the output inside its transaction.
func (out *TxOut) Index() int {
	return out.index
}

// Tx returns the transaction that owns the output.
func (out *TxOut) Tx() *Tx {
	return out.tx
}

func (out *TxOut) serializeSize() int {
	return 8 + wire.VarIntSerializeSize(uint64(len(out.PkScript))) + len(out.PkScript)
}

// =============================================================================

// Tx is a finalized transaction. It is built once by NewTx and its inputs
// and outputs are owned by it. Values returned by the accessors must be
// treated as read only.
type Tx struct {
	version  uint32
	inputs   []*TxIn
	outputs  []*TxOut
	lockTime uint32
	hash     chainhash.Hash
}

// NewTx finalizes a transaction from copies of the provided inputs and
// outputs and computes its hash from the serialized form.
func NewTx(version uint32, ins []TxIn, outs []TxOut, lockTime uint32) *Tx {
	tx := build(version, ins, outs, lockTime)
	tx.hash = chainhash.DoubleHashH(tx.Bytes())

	return tx
}

// NewTxWithHash finalizes a transaction using a hash supplied by a trusted
// source such as storage. The hash is not recomputed.
func NewTxWithHash(version uint32, ins []TxIn, outs []TxOut, lockTime uint32, hash chainhash.Hash) *Tx {
	tx := build(version, ins, outs, lockTime)
	tx.hash = hash

	return tx
}

func build(version uint32, ins []TxIn, outs []TxOut, lockTime uint32) *Tx {
	tx := Tx{
		version:  version,
		inputs:   make([]*TxIn, len(ins)),
		outputs:  make([]*TxOut, len(outs)),
		lockTime: lockTime,
	}

	for i, in := range ins {
		in := in
		in.SignatureScript = bytes.Clone(in.SignatureScript)
		in.index = i
		in.tx = &tx
		tx.inputs[i] = &in
	}

	for i, out := range outs {
		out := out
		out.PkScript = bytes.Clone(out.PkScript)
		out.index = i
		out.tx = &tx
		tx.outputs[i] = &out
	}

	return &tx
}

// Version returns the transaction version.
func (tx *Tx) Version() uint32 {
	return tx.version
}

// Inputs returns the transaction inputs in order.
func (tx *Tx) Inputs() []*TxIn {
	return tx.inputs
}

// Outputs returns the transaction outputs in order.
func (tx *Tx) Outputs() []*TxOut {
	return tx.outputs
}

// LockTime returns the transaction lock time.
func (tx *Tx) LockTime() uint32 {
	return tx.lockTime
}

// Hash returns the transaction hash in internal byte order. Hash.String
// produces the conventional reversed display form.
func (tx *Tx) Hash() chainhash.Hash {
	return tx.hash
}

// Equals implements the merkle Hashable interface.
func (tx *Tx) Equals(other *Tx) bool {
	return other != nil && tx.hash == other.hash
}

// IsCoinbase reports whether the transaction has exactly one input and that
// input claims the null outpoint.
func (tx *Tx) IsCoinbase() bool {
	return len(tx.inputs) == 1 && tx.inputs[0].PreviousOutPoint.IsNull()
}

// TotalOut returns the sum of all output values. The boolean is false when
// the sum leaves the int64 range.
func (tx *Tx) TotalOut() (int64, bool) {
	var total int64
	for _, out := range tx.outputs {
		if out.Value > 0 && total > math.MaxInt64-out.Value {
			return 0, false
		}
		total += out.Value
	}
	return total, true
}

// SerializeSize returns the number of bytes Serialize writes.
func (tx *Tx) SerializeSize() int {
	n := 8 + wire.VarIntSerializeSize(uint64(len(tx.inputs))) + wire.VarIntSerializeSize(uint64(len(tx.outputs)))

	for _, in := range tx.inputs {
		n += in.serializeSize()
	}

	for _, out := range tx.outputs {
		n += out.serializeSize()
	}

	return n
}

// Serialize writes the wire form of the transaction.
func (tx *Tx) Serialize(w io.Writer) error {
	return WriteTx(w, tx.version, tx.inputs, tx.outputs, tx.lockTime)
}

// Bytes returns the wire form of the transaction.
func (tx *Tx) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, tx.SerializeSize()))

	// Writes to a bytes.Buffer do not fail.
	tx.Serialize(buf)

	return buf.Bytes()
}

// String returns the display hash of the transaction.
func (tx *Tx) String() string {
	return tx.hash.String()
}

// =============================================================================

// WriteTx writes the wire form of a transaction assembled from the provided
// parts. It is used to serialize modified copies of a transaction without
// finalizing them.
func WriteTx(w io.Writer, version uint32, ins []*TxIn, outs []*TxOut, lockTime uint32) error {
	if err := writeUint32(w, version); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(ins))); err != nil {
		return err
	}

	for _, in := range ins {
		if err := writeHash(w, in.PreviousOutPoint.Hash); err != nil {
			return err
		}
		if err := writeUint32(w, in.PreviousOutPoint.Index); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, pver, in.SignatureScript); err != nil {
			return err
		}
		if err := writeUint32(w, in.Sequence); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(outs))); err != nil {
		return err
	}

	for _, out := range outs {
		if err := writeInt64(w, out.Value); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, pver, out.PkScript); err != nil {
			return err
		}
	}

	return writeUint32(w, lockTime)
}

// DecodeTx reads one transaction from r.
func DecodeTx(r io.Reader) (*Tx, error) {
	version, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}

	inCount, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, fmt.Errorf("input count: %w", err)
	}
	if inCount > maxTxInPerBlock {
		return nil, fmt.Errorf("too many inputs, got %d, max %d", inCount, maxTxInPerBlock)
	}

	ins := make([]TxIn, inCount)
	for i := range ins {
		hash, err := readHash(r)
		if err != nil {
			return nil, fmt.Errorf("input[%d]: outpoint hash: %w", i, err)
		}

		index, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("input[%d]: outpoint index: %w", i, err)
		}

		sigScript, err := wire.ReadVarBytes(r, pver, MaxBlockSize, "signature script")
		if err != nil {
			return nil, fmt.Errorf("input[%d]: %w", i, err)
		}

		sequence, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("input[%d]: sequence: %w", i, err)
		}

		ins[i] = NewTxIn(NewOutPoint(hash, index), sigScript, sequence)
	}

	outCount, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, fmt.Errorf("output count: %w", err)
	}
	if outCount > maxTxOutPerBlock {
		return nil, fmt.Errorf("too many outputs, got %d, max %d", outCount, maxTxOutPerBlock)
	}

	outs := make([]TxOut, outCount)
	for i := range outs {
		value, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("output[%d]: value: %w", i, err)
		}

		pkScript, err := wire.ReadVarBytes(r, pver, MaxBlockSize, "public key script")
		if err != nil {
			return nil, fmt.Errorf("output[%d]: %w", i, err)
		}

		outs[i] = NewTxOut(value, pkScript)
	}

	lockTime, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("lock time: %w", err)
	}

	return NewTx(version, ins, outs, lockTime), nil
}

// ParseTx decodes a transaction that must occupy all of b.
func ParseTx(b []byte) (*Tx, error) {
	r := bytes.NewReader(b)

	tx, err := DecodeTx(r)
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}

	return tx, nil
}
