package script

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// tokenizer decodes a script one instruction at a time. Decoding stops at
// the first malformed instruction.
type tokenizer struct {
	script []byte
	offset int
	op     *opcode
	data   []byte
	start  int
	err    error
}

func newTokenizer(script []byte) tokenizer {
	return tokenizer{script: script}
}

// Next decodes the next instruction. It returns false when the script is
// exhausted or an instruction is malformed, in which case Err is set.
func (t *tokenizer) Next() bool {
	if t.Done() {
		return false
	}

	t.start = t.offset
	op := &opcodeArray[t.script[t.offset]]

	switch {
	case op.length == 1:
		t.offset++
		t.op = op
		t.data = nil
		return true

	case op.length > 1:
		script := t.script[t.offset:]
		if len(script) < op.length {
			t.err = scriptError(ErrMalformedPush, "opcode %s requires %d bytes, but script only has %d remaining", op.name, op.length, len(script))
			return false
		}

		t.offset += op.length
		t.op = op
		t.data = script[1:op.length]
		return true

	case op.length < 0:
		script := t.script[t.offset+1:]
		if len(script) < -op.length {
			t.err = scriptError(ErrMalformedPush, "opcode %s requires %d bytes, but script only has %d remaining", op.name, -op.length, len(script))
			return false
		}

		var dataLen uint32
		switch op.length {
		case -1:
			dataLen = uint32(script[0])
		case -2:
			dataLen = uint32(binary.LittleEndian.Uint16(script[:2]))
		case -4:
			dataLen = binary.LittleEndian.Uint32(script[:4])
		}

		script = script[-op.length:]
		if uint64(len(script)) < uint64(dataLen) {
			t.err = scriptError(ErrMalformedPush, "opcode %s pushes %d bytes, but script only has %d remaining", op.name, dataLen, len(script))
			return false
		}

		t.offset += 1 - op.length + int(dataLen)
		t.op = op
		t.data = script[:dataLen]
		return true
	}

	t.err = fmt.Errorf("invalid opcode length %d", op.length)
	return false
}

// Done reports whether decoding finished or failed.
func (t *tokenizer) Done() bool {
	return t.err != nil || t.offset >= len(t.script)
}

// Err returns the decoding failure, if any.
func (t *tokenizer) Err() error {
	return t.err
}

// Raw returns the exact bytes of the current instruction.
func (t *tokenizer) Raw() []byte {
	return t.script[t.start:t.offset]
}

// =============================================================================

// CheckParse reports whether every instruction in the script decodes.
func CheckParse(script []byte) error {
	t := newTokenizer(script)
	for t.Next() {
	}
	return t.Err()
}

// CountSigOps counts the signature operations in a script. A multisig
// check preceded by a small integer counts as that many operations,
// otherwise as the max number of public keys. Counting stops at the first
// malformed instruction.
func CountSigOps(script []byte) int {
	var count int
	var prev byte = OP_INVALIDOPCODE

	t := newTokenizer(script)
	for t.Next() {
		switch t.op.value {
		case OP_CHECKSIG, OP_CHECKSIGVERIFY:
			count++

		case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
			if prev >= OP_1 && prev <= OP_16 {
				count += int(prev-OP_1) + 1
				break
			}
			count += MaxPubKeysPerMultiSig
		}
		prev = t.op.value
	}

	return count
}

// Disassemble returns a one line human readable form of the script. Data
// pushes are shown as hex. If the script is malformed the text decoded so
// far is returned along with the error.
func Disassemble(script []byte) (string, error) {
	var parts []string

	t := newTokenizer(script)
	for t.Next() {
		switch {
		case t.op.value == OP_0:
			parts = append(parts, "0")
		case t.data != nil || (t.op.value > OP_0 && t.op.value <= OP_PUSHDATA4):
			parts = append(parts, hexutil.Encode(t.data))
		default:
			parts = append(parts, t.op.name)
		}
	}

	if err := t.Err(); err != nil {
		parts = append(parts, "[error]")
		return strings.Join(parts, " "), err
	}

	return strings.Join(parts, " "), nil
}
