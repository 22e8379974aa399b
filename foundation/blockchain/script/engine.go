// Package script implements the stack based script language that locks and
// unlocks transaction outputs.
package script

// Limits enforced while executing a script.
const (
	MaxScriptSize         = 10_000
	MaxScriptElementSize  = 520
	MaxOpsPerScript       = 201
	MaxStackSize          = 1_000
	MaxPubKeysPerMultiSig = 20
)

// Values of the condition stack.
const (
	condFalse = iota
	condTrue
	condSkip
)

// SigChecker verifies a signature taken from the stack. The signature still
// carries its trailing hash type byte and subscript is the part of the
// program the signature commits to. A false result is a failed check, an
// error aborts the script.
type SigChecker interface {
	CheckSig(sig []byte, pubKey []byte, subscript []byte) (bool, error)
}

// =============================================================================

// Engine executes a signature script followed by a locking script as one
// program. The signature script is decoded on its own first so a push at
// its end cannot swallow bytes of the locking script.
type Engine struct {
	program     []byte
	tokenizer   tokenizer
	lastCodeSep int
	dstack      stack
	astack      stack
	condStack   []int
	numOps      int
	checker     SigChecker
}

// NewEngine prepares the program made of sigScript and pkScript.
func NewEngine(sigScript []byte, pkScript []byte, checker SigChecker) (*Engine, error) {
	if len(sigScript) > MaxScriptSize {
		return nil, scriptError(ErrScriptTooBig, "signature script size %d is larger than max allowed size %d", len(sigScript), MaxScriptSize)
	}

	if len(pkScript) > MaxScriptSize {
		return nil, scriptError(ErrScriptTooBig, "public key script size %d is larger than max allowed size %d", len(pkScript), MaxScriptSize)
	}

	if err := CheckParse(sigScript); err != nil {
		return nil, err
	}

	program := make([]byte, 0, len(sigScript)+len(pkScript))
	program = append(program, sigScript...)
	program = append(program, pkScript...)

	vm := Engine{
		program:     program,
		tokenizer:   newTokenizer(program),
		lastCodeSep: len(sigScript),
		checker:     checker,
	}

	return &vm, nil
}

// Execute runs the program to completion. It returns nil when the program
// leaves a true value on top of the stack, ErrScriptFalse when it leaves a
// false value or nothing, and an *Error when execution fails.
func (vm *Engine) Execute() error {
	for {
		done, err := vm.Step()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	return vm.result()
}

// Step executes the next instruction and reports whether the program is
// finished.
func (vm *Engine) Step() (bool, error) {
	if !vm.tokenizer.Next() {
		if err := vm.tokenizer.Err(); err != nil {
			return true, err
		}

		if len(vm.condStack) != 0 {
			return true, scriptError(ErrUnbalancedConditional, "end of script reached in conditional execution")
		}

		return true, nil
	}

	op := vm.tokenizer.op
	data := vm.tokenizer.data

	if err := vm.executeOpcode(op, data); err != nil {
		return true, err
	}

	if combined := vm.dstack.Depth() + vm.astack.Depth(); combined > MaxStackSize {
		return true, scriptError(ErrStackOverflow, "combined stack size %d > max allowed %d", combined, MaxStackSize)
	}

	return false, nil
}

// Stack returns a copy of the data stack, bottom first.
func (vm *Engine) Stack() [][]byte {
	stk := make([][]byte, len(vm.dstack.stk))
	copy(stk, vm.dstack.stk)
	return stk
}

func (vm *Engine) result() error {
	if vm.dstack.Depth() == 0 {
		return ErrScriptFalse
	}

	v, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}

	if !v {
		return ErrScriptFalse
	}

	return nil
}

// isBranchExecuting reports whether the current conditional branch is
// being executed.
func (vm *Engine) isBranchExecuting() bool {
	if len(vm.condStack) == 0 {
		return true
	}
	return vm.condStack[len(vm.condStack)-1] == condTrue
}

func (vm *Engine) executeOpcode(op *opcode, data []byte) error {
	if op.isDisabled() {
		return scriptError(ErrDisabledOpcode, "attempt to execute disabled opcode %s", op.name)
	}

	if op.alwaysIllegal() {
		return scriptError(ErrReservedOpcode, "attempt to execute reserved opcode %s", op.name)
	}

	if len(data) > MaxScriptElementSize {
		return scriptError(ErrElementTooBig, "element size %d exceeds max allowed size %d", len(data), MaxScriptElementSize)
	}

	if op.value > OP_16 {
		vm.numOps++
		if vm.numOps > MaxOpsPerScript {
			return scriptError(ErrTooManyOperations, "exceeded max operation limit of %d", MaxOpsPerScript)
		}
	}

	if !vm.isBranchExecuting() && !op.isConditional() {
		return nil
	}

	return op.opfunc(op, data, vm)
}

// subscript returns the part of the program after the last executed code
// separator.
func (vm *Engine) subscript() []byte {
	return vm.program[vm.lastCodeSep:]
}

// =============================================================================

// Verify runs the signature script against the locking script.
func Verify(sigScript []byte, pkScript []byte, checker SigChecker) error {
	vm, err := NewEngine(sigScript, pkScript, checker)
	if err != nil {
		return err
	}

	return vm.Execute()
}
