package script_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// fakeChecker approves the signature and key pairs it was given and records
// the subscripts it was asked to check.
type fakeChecker struct {
	valid      map[string]bool
	subscripts [][]byte
}

func newFakeChecker(pairs ...[2][]byte) *fakeChecker {
	fc := fakeChecker{valid: make(map[string]bool)}
	for _, p := range pairs {
		fc.valid[string(p[0])+"|"+string(p[1])] = true
	}
	return &fc
}

func (fc *fakeChecker) CheckSig(sig []byte, pubKey []byte, subscript []byte) (bool, error) {
	fc.subscripts = append(fc.subscripts, subscript)
	return fc.valid[string(sig)+"|"+string(pubKey)], nil
}

func mustAssemble(t *testing.T, text string) []byte {
	b, err := script.Assemble(text)
	if err != nil {
		t.Fatalf("Should be able to assemble %q: %s", text, err)
	}
	return b
}

// =============================================================================

func Test_Execute(t *testing.T) {
	type table struct {
		name      string
		sigScript string
		pkScript  string
		code      script.ErrorCode
		isFalse   bool
		ok        bool
	}

	tt := []table{
		{name: "add", pkScript: "2 3 OP_ADD 5 OP_EQUAL", ok: true},
		{name: "sub", pkScript: "2 3 OP_SUB -1 OP_NUMEQUAL", ok: true},
		{name: "abs", pkScript: "-5 OP_ABS 5 OP_EQUAL", ok: true},
		{name: "within", pkScript: "3 2 5 OP_WITHIN", ok: true},
		{name: "within upper bound", pkScript: "5 2 5 OP_WITHIN", isFalse: true},
		{name: "min max", pkScript: "3 7 OP_MIN 3 OP_EQUALVERIFY 3 7 OP_MAX 7 OP_EQUAL", ok: true},
		{name: "boolean ops", pkScript: "1 0 OP_BOOLOR 1 0 OP_BOOLAND OP_NOT OP_BOOLAND", ok: true},
		{name: "empty stack", pkScript: "", isFalse: true},
		{name: "false on top", pkScript: "OP_1 OP_0", isFalse: true},
		{name: "negative zero is false", pkScript: "0x80", isFalse: true},
		{name: "if else", pkScript: "OP_1 OP_IF 2 OP_ELSE 3 OP_ENDIF 2 OP_EQUAL", ok: true},
		{name: "notif", pkScript: "OP_0 OP_NOTIF 2 OP_ELSE 3 OP_ENDIF 2 OP_EQUAL", ok: true},
		{name: "nested skip", pkScript: "OP_0 OP_IF OP_1 OP_IF OP_RETURN OP_ENDIF OP_ENDIF OP_1", ok: true},
		{name: "unbalanced if", pkScript: "OP_1 OP_IF OP_1", code: script.ErrUnbalancedConditional},
		{name: "else without if", pkScript: "OP_ELSE", code: script.ErrUnbalancedConditional},
		{name: "disabled in skipped branch", pkScript: "OP_0 OP_IF OP_CAT OP_ENDIF OP_1", code: script.ErrDisabledOpcode},
		{name: "reserved in skipped branch", pkScript: "OP_0 OP_IF OP_RESERVED OP_ENDIF OP_1", ok: true},
		{name: "reserved executed", pkScript: "OP_RESERVED OP_1", code: script.ErrReservedOpcode},
		{name: "verif in skipped branch", pkScript: "OP_0 OP_IF OP_VERIF OP_ENDIF OP_1", code: script.ErrReservedOpcode},
		{name: "pseudo opcode", pkScript: "OP_PUBKEYHASH", code: script.ErrReservedOpcode},
		{name: "nops", pkScript: "OP_NOP OP_NOP1 OP_NOP10 OP_1", ok: true},
		{name: "verify false", pkScript: "OP_0 OP_VERIFY OP_1", code: script.ErrVerify},
		{name: "verify leaves nothing", pkScript: "OP_1 OP_VERIFY", isFalse: true},
		{name: "return", pkScript: "OP_RETURN", code: script.ErrEarlyReturn},
		{name: "pick", pkScript: "7 8 9 2 OP_PICK 7 OP_EQUAL", ok: true},
		{name: "pick out of range", pkScript: "OP_1 5 OP_PICK", code: script.ErrInvalidIndex},
		{name: "pick negative", pkScript: "OP_1 -1 OP_PICK", code: script.ErrInvalidIndex},
		{name: "roll", pkScript: "7 8 9 2 OP_ROLL 7 OP_EQUALVERIFY OP_DEPTH 2 OP_EQUAL", ok: true},
		{name: "roll out of range", pkScript: "OP_1 1 OP_ROLL", code: script.ErrInvalidIndex},
		{name: "rot", pkScript: "1 2 3 OP_ROT 1 OP_EQUAL", ok: true},
		{name: "2swap", pkScript: "1 2 3 4 OP_2SWAP 2 OP_EQUAL", ok: true},
		{name: "2rot", pkScript: "1 2 3 4 5 6 OP_2ROT 2 OP_EQUAL", ok: true},
		{name: "tuck", pkScript: "1 2 OP_TUCK OP_DEPTH 3 OP_EQUALVERIFY 2 OP_EQUAL", ok: true},
		{name: "altstack", pkScript: "5 OP_TOALTSTACK OP_FROMALTSTACK 5 OP_EQUAL", ok: true},
		{name: "size", pkScript: "0x0102 OP_SIZE 2 OP_EQUAL", ok: true},
		{name: "underflow", pkScript: "OP_DROP", code: script.ErrInvalidStackOperation},
		{name: "number too big", pkScript: "0x0100000000 OP_1ADD", code: script.ErrNumberTooBig},
		{name: "four byte number", pkScript: "0xffffff7f OP_1ADD 0x0000008000 OP_EQUAL", ok: true},
		{name: "hash160", pkScript: "0x OP_HASH160 0xb472a266d0bd89c13706a4132ccfb16f7c3b9fcb OP_EQUAL", ok: true},
		{name: "sig script pushes", sigScript: "2", pkScript: "3 OP_ADD 5 OP_EQUAL", ok: true},
	}

	t.Log("Given the need to execute scripts.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen running %s.", testID, tst.name)
			{
				err := script.Verify(mustAssemble(t, tst.sigScript), mustAssemble(t, tst.pkScript), nil)

				switch {
				case tst.ok:
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould evaluate to true: %s", failed, testID, err)
					}
				case tst.isFalse:
					if !errors.Is(err, script.ErrScriptFalse) {
						t.Fatalf("\t%s\tTest %d:\tShould evaluate to false, got %v", failed, testID, err)
					}
				default:
					if !script.IsErrorCode(err, tst.code) {
						t.Fatalf("\t%s\tTest %d:\tShould fail with %s, got %v", failed, testID, tst.code, err)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould get the expected result.", success, testID)
			}
		}
	}
}

func Test_Limits(t *testing.T) {
	t.Log("Given the need to bound script execution.")
	{
		t.Logf("\tTest 0:\tWhen a script has too many operations.")
		{
			pk := mustAssemble(t, "OP_1"+strings.Repeat(" OP_NOP", script.MaxOpsPerScript+1))
			err := script.Verify(nil, pk, nil)
			if !script.IsErrorCode(err, script.ErrTooManyOperations) {
				t.Fatalf("\t%s\tTest 0:\tShould fail the operation limit, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould fail the operation limit.", success)
		}

		t.Logf("\tTest 1:\tWhen the stack grows too large.")
		{
			pk := mustAssemble(t, strings.Repeat("OP_1 ", script.MaxStackSize+1))
			err := script.Verify(nil, pk, nil)
			if !script.IsErrorCode(err, script.ErrStackOverflow) {
				t.Fatalf("\t%s\tTest 1:\tShould fail the stack limit, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould fail the stack limit.", success)
		}

		t.Logf("\tTest 2:\tWhen a push is too large.")
		{
			data := bytes.Repeat([]byte{1}, script.MaxScriptElementSize+1)
			pk := append([]byte{script.OP_PUSHDATA2, byte(len(data)), byte(len(data) >> 8)}, data...)
			err := script.Verify(nil, pk, nil)
			if !script.IsErrorCode(err, script.ErrElementTooBig) {
				t.Fatalf("\t%s\tTest 2:\tShould fail the element limit, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould fail the element limit.", success)
		}

		t.Logf("\tTest 3:\tWhen a push runs past the end of the script.")
		{
			err := script.Verify(nil, []byte{script.OP_1, script.OP_PUSHDATA1, 0x05, 0x01}, nil)
			if !script.IsErrorCode(err, script.ErrMalformedPush) {
				t.Fatalf("\t%s\tTest 3:\tShould fail the malformed push, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 3:\tShould fail the malformed push.", success)
		}

		t.Logf("\tTest 4:\tWhen a signature script ends inside a push.")
		{
			err := script.Verify([]byte{script.OP_PUSHDATA1, 0x02}, []byte{script.OP_1, script.OP_1}, nil)
			if !script.IsErrorCode(err, script.ErrMalformedPush) {
				t.Fatalf("\t%s\tTest 4:\tShould not let the push consume the locking script, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 4:\tShould not let the push consume the locking script.", success)
		}

		t.Logf("\tTest 5:\tWhen a script is too big.")
		{
			err := script.Verify(nil, make([]byte, script.MaxScriptSize+1), nil)
			if !script.IsErrorCode(err, script.ErrScriptTooBig) {
				t.Fatalf("\t%s\tTest 5:\tShould fail the size limit, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 5:\tShould fail the size limit.", success)
		}
	}
}

// =============================================================================

func Test_CheckSig(t *testing.T) {
	sig := []byte("signature-a\x01")
	pub := []byte("public-key-a")

	sigScript, _ := script.NewBuilder().AddData(sig).Script()
	pkScript, _ := script.NewBuilder().AddData(pub).AddOp(script.OP_CHECKSIG).Script()

	checker := newFakeChecker([2][]byte{sig, pub})
	if err := script.Verify(sigScript, pkScript, checker); err != nil {
		t.Fatalf("Should verify the signature: %s", err)
	}

	if len(checker.subscripts) != 1 || !bytes.Equal(checker.subscripts[0], pkScript) {
		t.Fatalf("Should commit to the locking script, got %x", checker.subscripts)
	}

	if err := script.Verify(sigScript, pkScript, newFakeChecker()); !errors.Is(err, script.ErrScriptFalse) {
		t.Fatalf("Should evaluate to false for a bad signature, got %v", err)
	}

	pkVerify, _ := script.NewBuilder().AddData(pub).AddOp(script.OP_CHECKSIGVERIFY).AddOp(script.OP_1).Script()
	if err := script.Verify(sigScript, pkVerify, newFakeChecker()); !script.IsErrorCode(err, script.ErrVerify) {
		t.Fatalf("Should fail the verify form for a bad signature, got %v", err)
	}

	empty, _ := script.NewBuilder().AddOp(script.OP_0).Script()
	if err := script.Verify(empty, pkScript, checker); !errors.Is(err, script.ErrScriptFalse) {
		t.Fatalf("Should treat an empty signature as invalid, got %v", err)
	}
}

func Test_CodeSeparator(t *testing.T) {
	sig := []byte("signature-a\x01")
	pub := []byte("public-key-a")

	sigScript, _ := script.NewBuilder().AddData(sig).Script()
	pkScript, _ := script.NewBuilder().AddOp(script.OP_NOP).AddOp(script.OP_CODESEPARATOR).AddData(pub).AddOp(script.OP_CHECKSIG).Script()
	exp, _ := script.NewBuilder().AddData(pub).AddOp(script.OP_CHECKSIG).Script()

	checker := newFakeChecker([2][]byte{sig, pub})
	if err := script.Verify(sigScript, pkScript, checker); err != nil {
		t.Fatalf("Should verify the signature: %s", err)
	}

	if !bytes.Equal(checker.subscripts[0], exp) {
		t.Fatalf("Should commit to the script after the separator, got %x, exp %x", checker.subscripts[0], exp)
	}
}

func Test_CheckMultiSig(t *testing.T) {
	sigA, sigB := []byte("sig-a\x01"), []byte("sig-b\x01")
	pkA, pkB, pkC := []byte("pk-a"), []byte("pk-b"), []byte("pk-c")

	newChecker := func() *fakeChecker {
		return newFakeChecker([2][]byte{sigA, pkA}, [2][]byte{sigB, pkC})
	}

	pkScript, _ := script.NewBuilder().AddInt64(2).AddData(pkA).AddData(pkB).AddData(pkC).AddInt64(3).AddOp(script.OP_CHECKMULTISIG).Script()
	pkVerify, _ := script.NewBuilder().AddInt64(2).AddData(pkA).AddData(pkB).AddData(pkC).AddInt64(3).AddOp(script.OP_CHECKMULTISIGVERIFY).AddOp(script.OP_1).Script()

	withDummy, _ := script.NewBuilder().AddOp(script.OP_0).AddData(sigA).AddData(sigB).Script()
	noDummy, _ := script.NewBuilder().AddData(sigA).AddData(sigB).Script()
	wrongOrder, _ := script.NewBuilder().AddOp(script.OP_0).AddData(sigB).AddData(sigA).Script()

	t.Log("Given the need to check multiple signatures.")
	{
		t.Logf("\tTest 0:\tWhen signatures match keys in order.")
		{
			if err := script.Verify(withDummy, pkScript, newChecker()); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould verify: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould verify.", success)
		}

		t.Logf("\tTest 1:\tWhen the extra element is missing.")
		{
			err := script.Verify(noDummy, pkScript, newChecker())
			if !script.IsErrorCode(err, script.ErrInvalidStackOperation) {
				t.Fatalf("\t%s\tTest 1:\tShould fail popping the extra element, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould fail popping the extra element.", success)
		}

		t.Logf("\tTest 2:\tWhen the verify form has no extra element.")
		{
			if err := script.Verify(noDummy, pkVerify, newChecker()); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould verify without the extra element: %s", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould verify without the extra element.", success)
		}

		t.Logf("\tTest 3:\tWhen signatures are out of order.")
		{
			if err := script.Verify(wrongOrder, pkScript, newChecker()); !errors.Is(err, script.ErrScriptFalse) {
				t.Fatalf("\t%s\tTest 3:\tShould evaluate to false, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 3:\tShould evaluate to false.", success)
		}

		t.Logf("\tTest 4:\tWhen the key count is out of range.")
		{
			pk, _ := script.NewBuilder().AddOp(script.OP_0).AddInt64(21).AddOp(script.OP_CHECKMULTISIG).Script()
			if err := script.Verify(nil, pk, newChecker()); !script.IsErrorCode(err, script.ErrInvalidPubKeyCount) {
				t.Fatalf("\t%s\tTest 4:\tShould fail the key count, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 4:\tShould fail the key count.", success)
		}

		t.Logf("\tTest 5:\tWhen more signatures than keys are claimed.")
		{
			pk, _ := script.NewBuilder().AddOp(script.OP_0).AddInt64(2).AddData(pkA).AddInt64(1).AddOp(script.OP_CHECKMULTISIG).Script()
			if err := script.Verify(nil, pk, newChecker()); !script.IsErrorCode(err, script.ErrInvalidSignatureCount) {
				t.Fatalf("\t%s\tTest 5:\tShould fail the signature count, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 5:\tShould fail the signature count.", success)
		}

		t.Logf("\tTest 6:\tWhen the subscript is computed.")
		{
			checker := newChecker()
			script.Verify(withDummy, pkScript, checker)
			for _, sub := range checker.subscripts {
				if !bytes.Equal(sub, pkScript) {
					t.Fatalf("\t%s\tTest 6:\tShould commit to the locking script, got %x", failed, sub)
				}
			}
			t.Logf("\t%s\tTest 6:\tShould commit to the locking script.", success)
		}
	}
}

// =============================================================================

func Test_Subscript(t *testing.T) {
	sig := []byte{0x30, 0x01, 0x02}
	in, _ := script.NewBuilder().AddData(sig).AddOp(script.OP_CODESEPARATOR).AddOp(script.OP_DUP).AddData(sig).AddOp(script.OP_0).AddOp(script.OP_CHECKSIG).Script()
	exp, _ := script.NewBuilder().AddOp(script.OP_DUP).AddOp(script.OP_0).AddOp(script.OP_CHECKSIG).Script()

	got, err := script.Subscript(in, [][]byte{sig, nil})
	if err != nil {
		t.Fatalf("Should be able to filter the script: %s", err)
	}

	if !bytes.Equal(got, exp) {
		t.Fatalf("Should remove separators and signature pushes, got %x, exp %x", got, exp)
	}
}

func Test_CountSigOps(t *testing.T) {
	tt := map[string]int{
		"OP_CHECKSIG OP_CHECKSIGVERIFY":                       2,
		"OP_2 0x01 0x02 0x03 OP_3 OP_CHECKMULTISIG":           3,
		"OP_CHECKMULTISIG":                                    20,
		"OP_DUP OP_HASH160 0x0102 OP_EQUALVERIFY OP_CHECKSIG": 1,
	}

	for text, exp := range tt {
		if got := script.CountSigOps(mustAssemble(t, text)); got != exp {
			t.Fatalf("Should count %d sigops in %q, got %d", exp, text, got)
		}
	}
}

func Test_Disassemble(t *testing.T) {
	const text = "OP_DUP OP_HASH160 0xb472a266d0bd89c13706a4132ccfb16f7c3b9fcb OP_EQUALVERIFY OP_CHECKSIG"

	b := mustAssemble(t, text)
	got, err := script.Disassemble(b)
	if err != nil {
		t.Fatalf("Should be able to disassemble: %s", err)
	}

	if got != text {
		t.Fatalf("Should round trip the script text, got %q", got)
	}

	if _, err := script.Disassemble([]byte{script.OP_PUSHDATA1}); err == nil {
		t.Fatalf("Should report a malformed script.")
	}
}
