// Package verifier checks the transactions of a block against the branch it
// extends. Two strategies are provided: Serial checks one transaction at a
// time and Parallel checks them concurrently. Both return the same outcome
// and totals for the same block.
package verifier

import (
	"context"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/ardanlabs/btcnode/foundation/blockchain/sighash"
	"github.com/ardanlabs/btcnode/foundation/blockchain/signature"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultCoinbaseMaturity is the number of blocks that must be built on a
// coinbase before its outputs can be claimed.
const DefaultCoinbaseMaturity = 100

// EventHandler defines a function that is called when events occur during
// verification.
type EventHandler func(v string, args ...any)

// Verifier checks every non-coinbase transaction of block as the child of
// the connected link branch.
type Verifier interface {
	Verify(ctx context.Context, branch database.Link, block database.Block) (Totals, error)
}

// =============================================================================

// Totals are the value sums of the non-coinbase transactions of a block.
type Totals struct {
	Inputs  int64
	Outputs int64
}

// Fees returns the value left for the coinbase to collect.
func (t Totals) Fees() int64 {
	return t.Inputs - t.Outputs
}

func (t Totals) add(other Totals) Totals {
	return Totals{
		Inputs:  t.Inputs + other.Inputs,
		Outputs: t.Outputs + other.Outputs,
	}
}

// =============================================================================

// Config represents the collaborators every strategy needs.
type Config struct {
	Storage          database.Storage
	SigVerifier      signature.Verifier
	CoinbaseMaturity uint64
	EvHandler        EventHandler

	// ScriptExceptions reports transactions whose script failures are
	// ignored. The compiled in table is used when nil.
	ScriptExceptions func(hash chainhash.Hash) bool
}

// checker holds the per transaction rules shared by the strategies.
type checker struct {
	storage     database.Storage
	sigVerifier signature.Verifier
	maturity    uint64
	evHandler   EventHandler
	exempt      func(hash chainhash.Hash) bool
}

func newChecker(cfg Config) checker {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	sigVerifier := cfg.SigVerifier
	if sigVerifier == nil {
		sigVerifier = signature.Secp256k1{}
	}

	exempt := cfg.ScriptExceptions
	if exempt == nil {
		exempt = database.IsScriptException
	}

	return checker{
		storage:     cfg.Storage,
		sigVerifier: sigVerifier,
		maturity:    cfg.CoinbaseMaturity,
		evHandler:   ev,
		exempt:      exempt,
	}
}

// claimed is a transaction found for an input along with the height of the
// block holding it.
type claimed struct {
	tx     *database.Tx
	height uint64
}

// verifyTx checks every input of tx. The block is the one being verified
// and branch is its parent.
func (c checker) verifyTx(branch database.Link, block database.Block, tx *database.Tx) (Totals, error) {
	spendHeight := branch.Height + 1
	txHash := tx.Hash()

	var totals Totals
	for i, in := range tx.Inputs() {
		src, err := c.findClaimed(branch, block, tx, in, spendHeight)
		if err != nil {
			return Totals{}, err
		}

		if src.tx == nil {
			return Totals{}, database.NewInputError(database.ErrMissingTx, txHash, i, nil, "claims %s", in.PreviousOutPoint)
		}

		outputs := src.tx.Outputs()
		if int(in.PreviousOutPoint.Index) >= len(outputs) {
			return Totals{}, database.NewInputError(database.ErrBadOutputIndex, txHash, i, nil, "claims %s, tx has %d outputs", in.PreviousOutPoint, len(outputs))
		}
		out := outputs[in.PreviousOutPoint.Index]

		if src.tx.IsCoinbase() && spendHeight < src.height+c.maturity {
			return Totals{}, database.NewInputError(database.ErrImmatureCoinbase, txHash, i, nil, "coinbase at height %d spent at height %d", src.height, spendHeight)
		}

		chk := sighash.Checker{
			Tx:         tx,
			InputIndex: i,
			Verifier:   c.sigVerifier,
		}

		if err := script.Verify(in.SignatureScript, out.PkScript, chk); err != nil {
			if !c.exempt(txHash) {
				return Totals{}, database.NewInputError(database.ErrScriptValidation, txHash, i, err, "")
			}
			c.evHandler("verifier: verifyTx: tx[%s]: input[%d]: script failure ignored: %s", txHash, i, err)
		}

		claimer, exists, err := c.storage.GetClaimerLink(branch, in)
		if err != nil {
			return Totals{}, err
		}

		if exists {
			return Totals{}, database.NewInputError(database.ErrDoubleSpend, txHash, i, nil, "%s already claimed in block %s", in.PreviousOutPoint, claimer.Hash())
		}

		totals.Inputs += out.Value
		if totals.Inputs > btcutil.MaxSatoshi {
			return Totals{}, database.NewInputError(database.ErrBadTxOutValue, txHash, i, nil, "input total %d exceeds %d", totals.Inputs, int64(btcutil.MaxSatoshi))
		}
	}

	outputs, ok := tx.TotalOut()
	if !ok {
		return Totals{}, database.NewVerificationError(database.ErrBadTxOutValue, txHash, "output total out of range")
	}
	totals.Outputs = outputs

	if totals.Inputs < totals.Outputs {
		return Totals{}, database.NewVerificationError(database.ErrInsufficientFunds, txHash, "inputs %s, outputs %s", btcutil.Amount(totals.Inputs), btcutil.Amount(totals.Outputs))
	}

	return totals, nil
}

// findClaimed locates the transaction an input claims. Ancestors of the
// block are searched first, then the block itself. A transaction never
// satisfies its own inputs.
func (c checker) findClaimed(branch database.Link, block database.Block, tx *database.Tx, in *database.TxIn, spendHeight uint64) (claimed, error) {
	hash := in.PreviousOutPoint.Hash

	link, exists, err := c.storage.GetClaimedLink(branch, in)
	if err != nil {
		return claimed{}, err
	}

	if exists {
		src, found := link.Block.FindTx(hash)
		if !found {
			return claimed{}, database.NewIntegrityError("tx %s indexed in block %s but not found in it", hash, link.Hash())
		}
		return claimed{tx: src, height: link.Height}, nil
	}

	if src, found := block.FindTx(hash); found && src != tx {
		return claimed{tx: src, height: spendHeight}, nil
	}

	return claimed{}, nil
}

// interrupted converts a cancelled context into a verification failure for
// the block.
func interrupted(ctx context.Context, block database.Block) error {
	return &database.VerificationError{
		Rule:  database.ErrInterrupted,
		Hash:  block.Hash(),
		Input: -1,
		Err:   context.Cause(ctx),
	}
}
