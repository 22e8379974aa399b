package database

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Set of rules a transaction or block can violate. Callers match on these
// with errors.Is.
var (
	ErrNoInputs             = errors.New("transaction has no inputs")
	ErrNoOutputs            = errors.New("transaction has no outputs")
	ErrTxTooBig             = errors.New("transaction is too big")
	ErrBadTxOutValue        = errors.New("transaction output value is out of range")
	ErrDuplicateTxInputs    = errors.New("transaction claims the same output twice")
	ErrBadCoinbaseScriptLen = errors.New("coinbase signature script length is out of range")
	ErrBadTxInput           = errors.New("transaction input claims a null output")
	ErrTooComplex           = errors.New("transaction script is too complex for its size")

	ErrNoTransactions       = errors.New("block has no transactions")
	ErrBlockTooBig          = errors.New("block is too big")
	ErrTimeTooNew           = errors.New("block timestamp is too far in the future")
	ErrFirstTxNotCoinbase   = errors.New("first transaction in block is not a coinbase")
	ErrMultipleCoinbases    = errors.New("block contains more than one coinbase")
	ErrBadMerkleRoot        = errors.New("block merkle root does not match its transactions")
	ErrDuplicateTx          = errors.New("block contains duplicate transactions")
	ErrDuplicateBlockClaims = errors.New("block claims the same output twice")
	ErrUnexpectedDifficulty = errors.New("block target is not valid")
	ErrHighHash             = errors.New("block hash is higher than its target")
	ErrBadDifficulty        = errors.New("block target does not match the expected target")
	ErrBadCoinbaseValue     = errors.New("coinbase pays more than subsidy plus fees")

	ErrMissingTx          = errors.New("claimed transaction not found")
	ErrBadOutputIndex     = errors.New("claimed output index is out of range")
	ErrImmatureCoinbase   = errors.New("coinbase output claimed before maturity")
	ErrScriptValidation   = errors.New("script validation failed")
	ErrDoubleSpend        = errors.New("output is already claimed on this branch")
	ErrInsufficientFunds  = errors.New("inputs are worth less than outputs")
	ErrInterrupted        = errors.New("verification interrupted")
	ErrStorageIntegrity   = errors.New("storage integrity failure")
	ErrSigHashSingle      = errors.New("signature hash single without matching output")
)

// =============================================================================

// VerificationError reports a rule violation for a block or one of its
// transactions.
type VerificationError struct {
	Rule  error
	Hash  chainhash.Hash
	Input int
	Msg   string
	Err   error
}

// Error implements the error interface.
func (ve *VerificationError) Error() string {
	s := fmt.Sprintf("%s: %s", ve.Hash, ve.Rule)
	if ve.Input >= 0 {
		s = fmt.Sprintf("%s: input[%d]: %s", ve.Hash, ve.Input, ve.Rule)
	}

	if ve.Msg != "" {
		s += ": " + ve.Msg
	}

	if ve.Err != nil {
		s += ": " + ve.Err.Error()
	}

	return s
}

// Unwrap exposes both the violated rule and the underlying cause.
func (ve *VerificationError) Unwrap() []error {
	if ve.Err == nil {
		return []error{ve.Rule}
	}
	return []error{ve.Rule, ve.Err}
}

// NewVerificationError constructs a VerificationError that is not tied to
// a specific transaction input.
func NewVerificationError(rule error, hash chainhash.Hash, format string, args ...any) error {
	return &VerificationError{
		Rule:  rule,
		Hash:  hash,
		Input: -1,
		Msg:   fmt.Sprintf(format, args...),
	}
}

// NewInputError constructs a VerificationError for the input at index of
// the transaction identified by hash.
func NewInputError(rule error, hash chainhash.Hash, index int, cause error, format string, args ...any) error {
	return &VerificationError{
		Rule:  rule,
		Hash:  hash,
		Input: index,
		Msg:   fmt.Sprintf(format, args...),
		Err:   cause,
	}
}

// IsVerificationError reports whether an error is a rule violation as
// opposed to an operational failure.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// =============================================================================

// IntegrityError reports that storage returned data that contradicts its
// own indexes. This is never a rule violation by the block being checked.
type IntegrityError struct {
	Msg string
}

// NewIntegrityError constructs an IntegrityError.
func NewIntegrityError(format string, args ...any) error {
	return &IntegrityError{Msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (ie *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStorageIntegrity, ie.Msg)
}

// Unwrap allows errors.Is(err, ErrStorageIntegrity).
func (ie *IntegrityError) Unwrap() error {
	return ErrStorageIntegrity
}
