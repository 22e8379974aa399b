package script

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Builder assembles scripts using the smallest push encoding for data.
type Builder struct {
	script []byte
	err    error
}

// NewBuilder returns an empty script builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddOp appends an opcode.
func (b *Builder) AddOp(opcode byte) *Builder {
	b.script = append(b.script, opcode)
	return b
}

// AddInt64 appends the shortest push of a number.
func (b *Builder) AddInt64(val int64) *Builder {
	switch {
	case val == 0:
		return b.AddOp(OP_0)
	case val == -1 || (val >= 1 && val <= 16):
		return b.AddOp(byte(OP_1 - 1 + val))
	}

	return b.AddData(scriptNum(val).Bytes())
}

// AddData appends a push of data.
func (b *Builder) AddData(data []byte) *Builder {
	if len(data) > MaxScriptElementSize {
		b.err = fmt.Errorf("data push of %d bytes exceeds max allowed %d", len(data), MaxScriptElementSize)
		return b
	}

	n := len(data)
	switch {
	case n == 0:
		b.script = append(b.script, OP_0)
		return b

	case n == 1 && data[0] >= 1 && data[0] <= 16:
		b.script = append(b.script, OP_1-1+data[0])
		return b

	case n == 1 && data[0] == 0x81:
		b.script = append(b.script, OP_1NEGATE)
		return b

	case n <= OP_DATA_75:
		b.script = append(b.script, byte(n))

	case n <= 0xff:
		b.script = append(b.script, OP_PUSHDATA1, byte(n))

	default:
		b.script = append(b.script, OP_PUSHDATA2)
		b.script = binary.LittleEndian.AppendUint16(b.script, uint16(n))
	}

	b.script = append(b.script, data...)
	return b
}

// Script returns the assembled script.
func (b *Builder) Script() ([]byte, error) {
	return b.script, b.err
}

// PayToPubKeyHash returns the standard locking script for a 20 byte
// public key hash.
//
//	OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG
func PayToPubKeyHash(pubKeyHash []byte) ([]byte, error) {
	return NewBuilder().
		AddOp(OP_DUP).
		AddOp(OP_HASH160).
		AddData(pubKeyHash).
		AddOp(OP_EQUALVERIFY).
		AddOp(OP_CHECKSIG).
		Script()
}

// =============================================================================

// Assemble builds a script from a space separated list of opcode names,
// numbers and 0x prefixed hex pushes, the inverse of Disassemble.
func Assemble(text string) ([]byte, error) {
	b := NewBuilder()

	for _, tok := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(tok, "0x"):
			data, err := hexutil.Decode(tok)
			if err != nil {
				return nil, fmt.Errorf("token %q: %w", tok, err)
			}
			b.script = append(b.script, pushOf(data)...)

		case strings.HasPrefix(tok, "OP_"):
			v, exists := OpcodeByName(tok)
			if !exists {
				return nil, fmt.Errorf("unknown opcode %q", tok)
			}
			b.AddOp(v)

		default:
			var n int64
			if _, err := fmt.Sscan(tok, &n); err != nil {
				return nil, fmt.Errorf("token %q: %w", tok, err)
			}
			b.AddInt64(n)
		}
	}

	return b.Script()
}

// pushOf encodes data with a direct push or a PUSHDATA prefix, never as a
// small integer opcode, so disassembled hex round trips.
func pushOf(data []byte) []byte {
	n := len(data)
	switch {
	case n <= OP_DATA_75:
		return append([]byte{byte(n)}, data...)
	case n <= 0xff:
		return append([]byte{OP_PUSHDATA1, byte(n)}, data...)
	case n <= 0xffff:
		return append(binary.LittleEndian.AppendUint16([]byte{OP_PUSHDATA2}, uint16(n)), data...)
	}
	return append(binary.LittleEndian.AppendUint32([]byte{OP_PUSHDATA4}, uint32(n)), data...)
}
