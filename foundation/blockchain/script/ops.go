package script

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"

	"github.com/ardanlabs/btcnode/foundation/blockchain/signature"
	"golang.org/x/crypto/ripemd160"
)

// =============================================================================
// Constants and pushes.

func opcodeDisabled(op *opcode, data []byte, vm *Engine) error {
	return scriptError(ErrDisabledOpcode, "attempt to execute disabled opcode %s", op.name)
}

func opcodeReserved(op *opcode, data []byte, vm *Engine) error {
	return scriptError(ErrReservedOpcode, "attempt to execute reserved opcode %s", op.name)
}

func opcodeInvalid(op *opcode, data []byte, vm *Engine) error {
	return scriptError(ErrReservedOpcode, "attempt to execute invalid opcode %s", op.name)
}

func opcodeFalse(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushByteArray(nil)
	return nil
}

func opcodePushData(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushByteArray(data)
	return nil
}

func opcode1Negate(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(-1))
	return nil
}

func opcodeN(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(op.value - (OP_1 - 1)))
	return nil
}

func opcodeNop(op *opcode, data []byte, vm *Engine) error {
	return nil
}

// =============================================================================
// Flow control.

func opcodeIf(op *opcode, data []byte, vm *Engine) error {
	return pushCondition(vm, false)
}

func opcodeNotIf(op *opcode, data []byte, vm *Engine) error {
	return pushCondition(vm, true)
}

func pushCondition(vm *Engine, invert bool) error {
	condVal := condSkip

	if vm.isBranchExecuting() {
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}

		condVal = condFalse
		if ok != invert {
			condVal = condTrue
		}
	}

	vm.condStack = append(vm.condStack, condVal)
	return nil
}

func opcodeElse(op *opcode, data []byte, vm *Engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "encountered opcode %s with no matching opcode to begin conditional execution", op.name)
	}

	idx := len(vm.condStack) - 1
	switch vm.condStack[idx] {
	case condTrue:
		vm.condStack[idx] = condFalse
	case condFalse:
		vm.condStack[idx] = condTrue
	}

	return nil
}

func opcodeEndif(op *opcode, data []byte, vm *Engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "encountered opcode %s with no matching opcode to begin conditional execution", op.name)
	}

	vm.condStack = vm.condStack[:len(vm.condStack)-1]
	return nil
}

func abstractVerify(op *opcode, vm *Engine, code ErrorCode) error {
	verified, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}

	if !verified {
		return scriptError(code, "%s failed", op.name)
	}

	return nil
}

func opcodeVerify(op *opcode, data []byte, vm *Engine) error {
	return abstractVerify(op, vm, ErrVerify)
}

func opcodeReturn(op *opcode, data []byte, vm *Engine) error {
	return scriptError(ErrEarlyReturn, "script returned early")
}

// =============================================================================
// Stack manipulation.

func opcodeToAltStack(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.astack.PushByteArray(so)
	return nil
}

func opcodeFromAltStack(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.astack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushByteArray(so)
	return nil
}

func opcode2Drop(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DropN(2)
}

func opcode2Dup(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DupN(2)
}

func opcode3Dup(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DupN(3)
}

func opcode2Over(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.OverN(2)
}

func opcode2Rot(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.RotN(2)
}

func opcode2Swap(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.SwapN(2)
}

func opcodeIfDup(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	if asBool(so) {
		vm.dstack.PushByteArray(so)
	}

	return nil
}

func opcodeDepth(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(vm.dstack.Depth()))
	return nil
}

func opcodeDrop(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DropN(1)
}

func opcodeDup(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DupN(1)
}

func opcodeNip(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.NipN(1)
}

func opcodeOver(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.OverN(1)
}

func opcodePick(op *opcode, data []byte, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	if val < 0 || int64(val) >= int64(vm.dstack.Depth()) {
		return scriptError(ErrInvalidIndex, "%s index %d is invalid for stack size %d", op.name, val, vm.dstack.Depth())
	}

	return vm.dstack.PickN(int(val))
}

func opcodeRoll(op *opcode, data []byte, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	if val < 0 || int64(val) >= int64(vm.dstack.Depth()) {
		return scriptError(ErrInvalidIndex, "%s index %d is invalid for stack size %d", op.name, val, vm.dstack.Depth())
	}

	return vm.dstack.RollN(int(val))
}

func opcodeRot(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.RotN(1)
}

func opcodeSwap(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.SwapN(1)
}

func opcodeTuck(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.Tuck()
}

func opcodeSize(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	vm.dstack.PushInt(scriptNum(len(so)))
	return nil
}

// =============================================================================
// Equality and arithmetic.

func opcodeEqual(op *opcode, data []byte, vm *Engine) error {
	a, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	b, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushBool(bytes.Equal(a, b))
	return nil
}

func opcodeEqualVerify(op *opcode, data []byte, vm *Engine) error {
	if err := opcodeEqual(op, data, vm); err != nil {
		return err
	}

	return abstractVerify(op, vm, ErrVerify)
}

func unaryNum(vm *Engine, fn func(m scriptNum) scriptNum) error {
	m, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushInt(fn(m))
	return nil
}

func binaryNum(vm *Engine, fn func(v0, v1 scriptNum) scriptNum) error {
	v0, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	v1, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushInt(fn(v0, v1))
	return nil
}

func boolNum(v bool) scriptNum {
	if v {
		return 1
	}
	return 0
}

func opcode1Add(op *opcode, data []byte, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return m + 1 })
}

func opcode1Sub(op *opcode, data []byte, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return m - 1 })
}

func opcodeNegate(op *opcode, data []byte, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return -m })
}

func opcodeAbs(op *opcode, data []byte, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum {
		if m < 0 {
			return -m
		}
		return m
	})
}

func opcodeNot(op *opcode, data []byte, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return boolNum(m == 0) })
}

func opcode0NotEqual(op *opcode, data []byte, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return boolNum(m != 0) })
}

// The binary operations pop the second operand first, so v1 is the deeper
// element and v0 the top.

func opcodeAdd(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return v1 + v0 })
}

func opcodeSub(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return v1 - v0 })
}

func opcodeBoolAnd(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v0 != 0 && v1 != 0) })
}

func opcodeBoolOr(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v0 != 0 || v1 != 0) })
}

func opcodeNumEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v0 == v1) })
}

func opcodeNumEqualVerify(op *opcode, data []byte, vm *Engine) error {
	if err := opcodeNumEqual(op, data, vm); err != nil {
		return err
	}

	return abstractVerify(op, vm, ErrVerify)
}

func opcodeNumNotEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v0 != v1) })
}

func opcodeLessThan(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v1 < v0) })
}

func opcodeGreaterThan(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v1 > v0) })
}

func opcodeLessThanOrEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v1 <= v0) })
}

func opcodeGreaterThanOrEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return boolNum(v1 >= v0) })
}

func opcodeMin(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return min(v0, v1) })
}

func opcodeMax(op *opcode, data []byte, vm *Engine) error {
	return binaryNum(vm, func(v0, v1 scriptNum) scriptNum { return max(v0, v1) })
}

// opcodeWithin pushes whether x is in [min, max).
//
//	[... x min max] -> [... bool]
func opcodeWithin(op *opcode, data []byte, vm *Engine) error {
	maxVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	minVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	x, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushBool(x >= minVal && x < maxVal)
	return nil
}

// =============================================================================
// Crypto.

func hashTop(vm *Engine, fn func([]byte) []byte) error {
	buf, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushByteArray(fn(buf))
	return nil
}

func opcodeRipemd160(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		h := ripemd160.New()
		h.Write(b)
		return h.Sum(nil)
	})
}

func opcodeSha1(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		h := sha1.Sum(b)
		return h[:]
	})
}

func opcodeSha256(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		h := sha256.Sum256(b)
		return h[:]
	})
}

func opcodeHash160(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, signature.Hash160)
}

func opcodeHash256(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, signature.DoubleSHA256)
}

func opcodeCodeSeparator(op *opcode, data []byte, vm *Engine) error {
	vm.lastCodeSep = vm.tokenizer.offset
	return nil
}

// =============================================================================
// Signature checks.

func opcodeCheckSig(op *opcode, data []byte, vm *Engine) error {
	pubKey, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	sig, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	subscript, err := Subscript(vm.subscript(), [][]byte{sig})
	if err != nil {
		return err
	}

	valid, err := vm.checkSig(sig, pubKey, subscript)
	if err != nil {
		return err
	}

	vm.dstack.PushBool(valid)
	return nil
}

func opcodeCheckSigVerify(op *opcode, data []byte, vm *Engine) error {
	if err := opcodeCheckSig(op, data, vm); err != nil {
		return err
	}

	return abstractVerify(op, vm, ErrVerify)
}

// opcodeCheckMultiSig checks M signatures against N public keys.
//
//	[... dummy sig1 ... sigM M pubkey1 ... pubkeyN N] -> [... bool]
//
// Signatures must appear in the same relative order as the public keys they
// match. The dummy element is consumed only by this form and not by the
// verify form.
func opcodeCheckMultiSig(op *opcode, data []byte, vm *Engine) error {
	valid, err := checkMultiSig(op, vm)
	if err != nil {
		return err
	}

	if _, err := vm.dstack.PopByteArray(); err != nil {
		return err
	}

	vm.dstack.PushBool(valid)
	return nil
}

func opcodeCheckMultiSigVerify(op *opcode, data []byte, vm *Engine) error {
	valid, err := checkMultiSig(op, vm)
	if err != nil {
		return err
	}

	if !valid {
		return scriptError(ErrVerify, "%s failed", op.name)
	}

	return nil
}

func checkMultiSig(op *opcode, vm *Engine) (bool, error) {
	numKeys, err := vm.dstack.PopInt()
	if err != nil {
		return false, err
	}

	numPubKeys := int(numKeys.Int32())
	if numPubKeys < 0 || numPubKeys > MaxPubKeysPerMultiSig {
		return false, scriptError(ErrInvalidPubKeyCount, "number of pubkeys %d is out of range [0, %d]", numPubKeys, MaxPubKeysPerMultiSig)
	}

	vm.numOps += numPubKeys
	if vm.numOps > MaxOpsPerScript {
		return false, scriptError(ErrTooManyOperations, "exceeded max operation limit of %d", MaxOpsPerScript)
	}

	pubKeys, err := popN(vm, numPubKeys)
	if err != nil {
		return false, err
	}

	numSigs, err := vm.dstack.PopInt()
	if err != nil {
		return false, err
	}

	numSignatures := int(numSigs.Int32())
	if numSignatures < 0 || numSignatures > numPubKeys {
		return false, scriptError(ErrInvalidSignatureCount, "number of signatures %d is out of range [0, %d]", numSignatures, numPubKeys)
	}

	sigs, err := popN(vm, numSignatures)
	if err != nil {
		return false, err
	}

	subscript, err := Subscript(vm.subscript(), sigs)
	if err != nil {
		return false, err
	}

	var sigIdx, keyIdx int
	for sigIdx < numSignatures {
		if numSignatures-sigIdx > numPubKeys-keyIdx {
			return false, nil
		}

		valid, err := vm.checkSig(sigs[sigIdx], pubKeys[keyIdx], subscript)
		if err != nil {
			return false, err
		}

		if valid {
			sigIdx++
		}
		keyIdx++
	}

	return true, nil
}

// popN removes n elements and returns them in the order they were pushed.
func popN(vm *Engine, n int) ([][]byte, error) {
	items := make([][]byte, n)
	for i := n - 1; i >= 0; i-- {
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return nil, err
		}
		items[i] = so
	}

	return items, nil
}

func (vm *Engine) checkSig(sig []byte, pubKey []byte, subscript []byte) (bool, error) {
	if len(sig) == 0 || vm.checker == nil {
		return false, nil
	}

	valid, err := vm.checker.CheckSig(sig, pubKey, subscript)
	if err != nil {
		return false, &Error{Code: ErrSigCheck, Desc: "signature check failed", Err: err}
	}

	return valid, nil
}
