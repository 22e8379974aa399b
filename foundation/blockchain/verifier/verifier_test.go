package verifier_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/ardanlabs/btcnode/foundation/blockchain/sighash"
	"github.com/ardanlabs/btcnode/foundation/blockchain/signature"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage/storagetest"
	"github.com/ardanlabs/btcnode/foundation/blockchain/verifier"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var privKeyBytes = []byte{
	0x3c, 0x18, 0x7e, 0x52, 0x09, 0x44, 0x61, 0x2b, 0x5d, 0x70, 0x13, 0x2e, 0x48, 0x66, 0x0a, 0x39,
	0x21, 0x57, 0x6f, 0x04, 0x1b, 0x3a, 0x7c, 0x45, 0x12, 0x68, 0x30, 0x5e, 0x27, 0x0d, 0x73, 0x19,
}

type fixture struct {
	storage *memory.Memory
	chain   storagetest.Chain
	genesis database.Link
	tag     byte
}

func newFixture(t *testing.T) *fixture {
	f := fixture{storage: memory.New()}
	f.genesis = f.chain.Genesis(t, f.storage)
	return &f
}

// verifiers returns both strategies bound to the fixture storage.
func (f *fixture) verifiers(maturity uint64) map[string]verifier.Verifier {
	cfg := verifier.Config{
		Storage:          f.storage,
		SigVerifier:      signature.Secp256k1{},
		CoinbaseMaturity: maturity,
	}

	return map[string]verifier.Verifier{
		"serial":   verifier.NewSerial(cfg),
		"parallel": verifier.NewParallel(cfg, 4),
	}
}

// spend claims the outpoints with a script that satisfies an OP_TRUE lock
// and pays value to another OP_TRUE lock.
func (f *fixture) spend(value int64, ops ...database.OutPoint) *database.Tx {
	f.tag++

	ins := make([]database.TxIn, len(ops))
	for i, op := range ops {
		ins[i] = database.NewTxIn(op, []byte{0x01, f.tag}, database.DefaultSequence)
	}

	return database.NewTx(1, ins, []database.TxOut{database.NewTxOut(value, []byte{script.OP_TRUE})}, 0)
}

// block builds an unstored block on top of branch.
func (f *fixture) block(t *testing.T, branch database.Link, txs ...*database.Tx) database.Block {
	return f.chain.Block(t, branch.Hash(), storagetest.EasyBits, branch.Height+1, txs...)
}

func coinbaseOf(link database.Link) database.OutPoint {
	return database.NewOutPoint(link.Block.Transactions()[0].Hash(), 0)
}

// =============================================================================

func Test_CoinbaseMaturity(t *testing.T) {
	const maturity = 3

	f := newFixture(t)
	op := coinbaseOf(f.genesis)

	h2 := f.chain.Extend(t, f.storage, f.genesis, storagetest.EasyBits)
	h3 := f.chain.Extend(t, f.storage, h2, storagetest.EasyBits)

	t.Log("Given the need to hold coinbase outputs until they mature.")
	{
		for name, v := range f.verifiers(maturity) {
			t.Logf("\tWhen using the %s verifier.", name)
			{
				_, err := v.Verify(context.Background(), h2, f.block(t, h2, f.spend(40, op)))
				if !errors.Is(err, database.ErrImmatureCoinbase) {
					t.Fatalf("\t%s\tShould reject the spend at height %d: %v", failed, h2.Height+1, err)
				}
				t.Logf("\t%s\tShould reject the spend at height %d.", success, h2.Height+1)

				totals, err := v.Verify(context.Background(), h3, f.block(t, h3, f.spend(40, op)))
				if err != nil {
					t.Fatalf("\t%s\tShould accept the spend at height %d: %v", failed, h3.Height+1, err)
				}
				t.Logf("\t%s\tShould accept the spend at height %d.", success, h3.Height+1)

				if totals.Inputs != 50 || totals.Outputs != 40 || totals.Fees() != 10 {
					t.Fatalf("\t%s\tShould report the totals, got %+v", failed, totals)
				}
				t.Logf("\t%s\tShould report the totals.", success)
			}
		}
	}
}

func Test_DoubleSpend(t *testing.T) {
	f := newFixture(t)
	op := coinbaseOf(f.genesis)

	spendA := f.spend(40, op)
	a1 := f.chain.Extend(t, f.storage, f.genesis, storagetest.EasyBits, spendA)

	t.Log("Given the need to reject outputs claimed twice on a branch.")
	{
		for name, v := range f.verifiers(0) {
			t.Logf("\tWhen using the %s verifier.", name)
			{
				_, err := v.Verify(context.Background(), a1, f.block(t, a1, f.spend(30, op)))
				if !errors.Is(err, database.ErrDoubleSpend) {
					t.Fatalf("\t%s\tShould reject a second claim on the same branch: %v", failed, err)
				}
				t.Logf("\t%s\tShould reject a second claim on the same branch.", success)

				if _, err := v.Verify(context.Background(), f.genesis, f.block(t, f.genesis, f.spend(30, op))); err != nil {
					t.Fatalf("\t%s\tShould accept the claim on a sibling branch: %v", failed, err)
				}
				t.Logf("\t%s\tShould accept the claim on a sibling branch.", success)

				next := f.spend(35, database.NewOutPoint(spendA.Hash(), 0))
				if _, err := v.Verify(context.Background(), a1, f.block(t, a1, next)); err != nil {
					t.Fatalf("\t%s\tShould accept a claim of the earlier spend: %v", failed, err)
				}
				t.Logf("\t%s\tShould accept a claim of the earlier spend.", success)
			}
		}
	}

	// Both branches can hold their own claim of the output.
	b1 := f.chain.Extend(t, f.storage, f.genesis, storagetest.EasyBits, f.spend(20, op))

	for _, v := range f.verifiers(0) {
		_, err := v.Verify(context.Background(), b1, f.block(t, b1, f.spend(10, op)))
		require.ErrorIs(t, err, database.ErrDoubleSpend)
	}
}

func Test_ContextualRules(t *testing.T) {
	f := newFixture(t)
	op := coinbaseOf(f.genesis)

	// Lock one output behind a script that always fails.
	locked := database.NewTx(1,
		[]database.TxIn{database.NewTxIn(op, []byte{0x01, 0xaa}, database.DefaultSequence)},
		[]database.TxOut{
			database.NewTxOut(20, []byte{script.OP_FALSE}),
			database.NewTxOut(30, []byte{script.OP_TRUE}),
		}, 0)
	a1 := f.chain.Extend(t, f.storage, f.genesis, storagetest.EasyBits, locked)

	// A transaction only the sibling branch can see.
	sibling := f.spend(45, op)
	f.chain.Extend(t, f.storage, f.genesis, storagetest.EasyBits, sibling)

	first := f.spend(40, database.NewOutPoint(chainhash.Hash{0xab}, 0))
	later := f.spend(30, database.NewOutPoint(first.Hash(), 0))

	tt := []struct {
		name string
		txs  []*database.Tx
		rule error
	}{
		{"unknown transaction", []*database.Tx{f.spend(1, database.NewOutPoint(chainhash.Hash{0xab}, 0))}, database.ErrMissingTx},
		{"sibling branch transaction", []*database.Tx{f.spend(1, database.NewOutPoint(sibling.Hash(), 0))}, database.ErrMissingTx},
		{"output index out of range", []*database.Tx{f.spend(1, database.NewOutPoint(locked.Hash(), 2))}, database.ErrBadOutputIndex},
		{"failing script", []*database.Tx{f.spend(1, database.NewOutPoint(locked.Hash(), 0))}, database.ErrScriptValidation},
		{"outputs above inputs", []*database.Tx{f.spend(31, database.NewOutPoint(locked.Hash(), 1))}, database.ErrInsufficientFunds},
		{"claim already spent on branch", []*database.Tx{f.spend(1, op)}, database.ErrDoubleSpend},
		{"forward reference with missing source", []*database.Tx{later, first}, database.ErrMissingTx},
	}

	t.Log("Given the need to check transactions against their branch.")
	{
		for name, v := range f.verifiers(0) {
			t.Logf("\tWhen using the %s verifier.", name)
			{
				for testID, tst := range tt {
					_, err := v.Verify(context.Background(), a1, f.block(t, a1, tst.txs...))
					if !errors.Is(err, tst.rule) {
						t.Fatalf("\t%s\tTest %d:\tShould reject %s with %q: %v", failed, testID, tst.name, tst.rule, err)
					}

					var ve *database.VerificationError
					if !errors.As(err, &ve) {
						t.Fatalf("\t%s\tTest %d:\tShould return a verification error: %T", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould reject %s.", success, testID, tst.name)
				}
			}
		}
	}

	// The failing script keeps its cause.
	_, err := verifier.NewSerial(verifier.Config{Storage: f.storage}).Verify(context.Background(), a1, f.block(t, a1, f.spend(1, database.NewOutPoint(locked.Hash(), 0))))
	require.ErrorIs(t, err, script.ErrScriptFalse)
}

func Test_ScriptException(t *testing.T) {
	f := newFixture(t)
	op := coinbaseOf(f.genesis)

	locked := database.NewTx(1,
		[]database.TxIn{database.NewTxIn(op, []byte{0x01, 0xaa}, database.DefaultSequence)},
		[]database.TxOut{database.NewTxOut(20, []byte{script.OP_FALSE})}, 0)
	a1 := f.chain.Extend(t, f.storage, f.genesis, storagetest.EasyBits, locked)

	claim := f.spend(5, database.NewOutPoint(locked.Hash(), 0))

	var ignored []string
	cfg := verifier.Config{
		Storage: f.storage,
		EvHandler: func(v string, args ...any) {
			if strings.Contains(v, "script failure ignored") {
				ignored = append(ignored, v)
			}
		},
		ScriptExceptions: func(hash chainhash.Hash) bool {
			return hash == claim.Hash()
		},
	}

	t.Log("Given the need to accept historical transactions whose scripts fail.")
	{
		t.Logf("\tTest 0:\tWhen the claiming transaction is listed.")
		{
			totals, err := verifier.NewSerial(cfg).Verify(context.Background(), a1, f.block(t, a1, claim))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the block: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the block.", success)

			if totals != (verifier.Totals{Inputs: 20, Outputs: 5}) {
				t.Fatalf("\t%s\tTest 0:\tShould still count the claimed value, got %+v", failed, totals)
			}
			t.Logf("\t%s\tTest 0:\tShould still count the claimed value.", success)

			if len(ignored) != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould report the ignored failure once, got %d", failed, len(ignored))
			}
			t.Logf("\t%s\tTest 0:\tShould report the ignored failure.", success)
		}

		t.Logf("\tTest 1:\tWhen another transaction fails the same script.")
		{
			other := f.spend(6, database.NewOutPoint(locked.Hash(), 0))

			_, err := verifier.NewParallel(cfg, 2).Verify(context.Background(), a1, f.block(t, a1, other))
			if !errors.Is(err, database.ErrScriptValidation) {
				t.Fatalf("\t%s\tTest 1:\tShould reject the block, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject the block.", success)
		}
	}
}

func Test_SameBlockReference(t *testing.T) {
	f := newFixture(t)
	op := coinbaseOf(f.genesis)

	parent := f.spend(40, op)
	child := f.spend(25, database.NewOutPoint(parent.Hash(), 0))

	for name, v := range f.verifiers(0) {
		for _, order := range [][]*database.Tx{{parent, child}, {child, parent}} {
			totals, err := v.Verify(context.Background(), f.genesis, f.block(t, f.genesis, order...))
			require.NoError(t, err, name)
			require.Equal(t, verifier.Totals{Inputs: 90, Outputs: 65}, totals, name)
		}
	}
}

func Test_PayToPubKeyHash(t *testing.T) {
	_, pubKey := signature.PrivKeyFromBytes(privKeyBytes)

	pkScript, err := script.PayToPubKeyHash(signature.Hash160(pubKey))
	require.NoError(t, err)

	// Build a genesis whose coinbase pays the key.
	coinbase := database.NewCoinbaseTx(database.GenesisHeight, 50, pkScript, nil)
	block, err := database.NewBlock(database.BlockHeader{Version: 1, Bits: storagetest.EasyBits}, []*database.Tx{coinbase})
	require.NoError(t, err)

	storage := memory.New()
	genesis := database.NewGenesisLink(block, storagetest.MaxTarget)
	require.NoError(t, storage.AddLink(genesis))

	op := database.NewOutPoint(coinbase.Hash(), 0)
	outs := []database.TxOut{database.NewTxOut(49, []byte{script.OP_TRUE})}

	unsigned := database.NewTx(1, []database.TxIn{database.NewTxIn(op, nil, database.DefaultSequence)}, outs, 0)

	sign := func(key []byte) *database.Tx {
		pk, _ := signature.PrivKeyFromBytes(key)

		sigScript, err := sighash.SignatureScript(unsigned, 0, pkScript, sighash.All, pk)
		require.NoError(t, err)

		return database.NewTx(1, []database.TxIn{database.NewTxIn(op, sigScript, database.DefaultSequence)}, outs, 0)
	}

	var c storagetest.Chain
	v := verifier.NewParallel(verifier.Config{Storage: storage, SigVerifier: signature.Secp256k1{}}, 0)

	totals, err := v.Verify(context.Background(), genesis, c.Block(t, genesis.Hash(), storagetest.EasyBits, 2, sign(privKeyBytes)))
	require.NoError(t, err)
	require.Equal(t, int64(1), totals.Fees())

	otherKey := append([]byte{}, privKeyBytes...)
	otherKey[0] ^= 0xff

	_, err = v.Verify(context.Background(), genesis, c.Block(t, genesis.Hash(), storagetest.EasyBits, 2, sign(otherKey)))
	require.ErrorIs(t, err, database.ErrScriptValidation)
}

func Test_Interrupted(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := f.block(t, f.genesis, f.spend(40, coinbaseOf(f.genesis)))

	for name, v := range f.verifiers(0) {
		_, err := v.Verify(ctx, f.genesis, block)
		require.ErrorIs(t, err, database.ErrInterrupted, name)
		require.ErrorIs(t, err, context.Canceled, name)
		require.True(t, database.IsVerificationError(err), name)
	}
}

// =============================================================================

func Test_SerialParallelEquivalence(t *testing.T) {
	const links = 12

	f := newFixture(t)

	// Every link adds a coinbase the final block can claim.
	tip := f.genesis
	ops := []database.OutPoint{coinbaseOf(f.genesis)}
	for i := 0; i < links-1; i++ {
		tip = f.chain.Extend(t, f.storage, tip, storagetest.EasyBits)
		ops = append(ops, coinbaseOf(tip))
	}

	vs := f.verifiers(0)
	serial := vs["serial"]
	parallel := vs["parallel"]

	rapid.Check(t, func(rt *rapid.T) {
		idx := rapid.SliceOfNDistinct(rapid.IntRange(0, links-1), 1, links, rapid.ID[int]).Draw(rt, "claims")

		txs := []*database.Tx{database.NewCoinbaseTx(tip.Height+1, 50, []byte{script.OP_TRUE}, nil)}
		for _, i := range idx {
			value := rapid.Int64Range(0, 55).Draw(rt, "value")
			txs = append(txs, f.spend(value, ops[i]))
		}

		block, err := database.NewBlock(database.BlockHeader{Version: 1, PrevBlockHash: tip.Hash(), Bits: storagetest.EasyBits}, txs)
		require.NoError(rt, err)

		sTotals, sErr := serial.Verify(context.Background(), tip, block)
		pTotals, pErr := parallel.Verify(context.Background(), tip, block)

		if (sErr == nil) != (pErr == nil) {
			rt.Fatalf("serial returned %v, parallel returned %v", sErr, pErr)
		}

		if sErr != nil {
			require.ErrorIs(rt, sErr, database.ErrInsufficientFunds)
			require.ErrorIs(rt, pErr, database.ErrInsufficientFunds)
			return
		}

		require.Equal(rt, sTotals, pTotals)
		require.Equal(rt, int64(50*len(idx)), sTotals.Inputs)
	})
}
