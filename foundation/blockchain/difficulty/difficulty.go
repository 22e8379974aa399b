// Package difficulty provides support for proof of work targets, their
// compact encoding and the difficulty values used for fork choice.
package difficulty

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Set of errors returned by CheckProofOfWork.
var (
	ErrTargetRange     = errors.New("target out of range")
	ErrHashAboveTarget = errors.New("hash above target")
)

// Difficulty is the amount of work a target represents relative to the
// network's max target. The zero value is a difficulty of zero. Values are
// never modified once constructed.
type Difficulty struct {
	value *big.Int
}

// Zero returns a difficulty of zero.
func Zero() Difficulty {
	return Difficulty{}
}

// New computes floor(maxTarget / target). A target that is zero or negative
// produces a difficulty of zero.
func New(target *big.Int, maxTarget *big.Int) Difficulty {
	if target == nil || target.Sign() <= 0 {
		return Difficulty{}
	}

	return Difficulty{value: new(big.Int).Quo(maxTarget, target)}
}

// FromCompact computes the difficulty of a compact encoded target.
func FromCompact(bits uint32, maxTarget *big.Int) Difficulty {
	return New(blockchain.CompactToBig(bits), maxTarget)
}

// FromBytes restores a difficulty written by Bytes.
func FromBytes(b []byte) Difficulty {
	if len(b) == 0 {
		return Difficulty{}
	}

	return Difficulty{value: new(big.Int).SetBytes(b)}
}

// FromString parses a base 10 difficulty.
func FromString(s string) (Difficulty, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Difficulty{}, fmt.Errorf("invalid difficulty %q", s)
	}

	return Difficulty{value: v}, nil
}

func (d Difficulty) int() *big.Int {
	if d.value == nil {
		return new(big.Int)
	}
	return d.value
}

// Add returns the exact sum of two difficulties.
func (d Difficulty) Add(other Difficulty) Difficulty {
	return Difficulty{value: new(big.Int).Add(d.int(), other.int())}
}

// Cmp compares two difficulties and returns -1, 0 or +1.
func (d Difficulty) Cmp(other Difficulty) int {
	return d.int().Cmp(other.int())
}

// IsZero reports whether the difficulty is zero.
func (d Difficulty) IsZero() bool {
	return d.int().Sign() == 0
}

// Big returns a copy of the difficulty as a big integer.
func (d Difficulty) Big() *big.Int {
	return new(big.Int).Set(d.int())
}

// Bytes returns the big endian magnitude of the difficulty.
func (d Difficulty) Bytes() []byte {
	return d.int().Bytes()
}

// String returns the difficulty in base 10.
func (d Difficulty) String() string {
	return d.int().String()
}

// MarshalText implements the encoding.TextMarshaler interface.
func (d Difficulty) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (d *Difficulty) UnmarshalText(text []byte) error {
	v, err := FromString(string(text))
	if err != nil {
		return err
	}

	*d = v
	return nil
}

// =============================================================================

// CheckProofOfWork validates that the compact target is positive, no easier
// than maxTarget and that hash does not exceed it.
func CheckProofOfWork(hash chainhash.Hash, bits uint32, maxTarget *big.Int) error {
	target := blockchain.CompactToBig(bits)

	if target.Sign() <= 0 {
		return fmt.Errorf("%w: target %064x is not positive", ErrTargetRange, target)
	}

	if target.Cmp(maxTarget) > 0 {
		return fmt.Errorf("%w: target %064x is higher than max %064x", ErrTargetRange, target, maxTarget)
	}

	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return fmt.Errorf("%w: hash %s, target %064x", ErrHashAboveTarget, hash, target)
	}

	return nil
}

// =============================================================================

// RetargetParams are the chain parameters that control how the target
// changes over time.
type RetargetParams struct {
	MaxTarget      *big.Int
	TargetTimespan time.Duration
}

// NextTarget computes the compact target for the first block of a new
// retarget interval. The observed timespan is clamped to a quarter and four
// times the expected one and the result is capped at the max target.
func NextTarget(prevBits uint32, actualTimespan time.Duration, params RetargetParams) uint32 {
	minTimespan := params.TargetTimespan / 4
	maxTimespan := params.TargetTimespan * 4

	switch {
	case actualTimespan < minTimespan:
		actualTimespan = minTimespan
	case actualTimespan > maxTimespan:
		actualTimespan = maxTimespan
	}

	next := blockchain.CompactToBig(prevBits)
	next.Mul(next, big.NewInt(int64(actualTimespan/time.Second)))
	next.Quo(next, big.NewInt(int64(params.TargetTimespan/time.Second)))

	if next.Cmp(params.MaxTarget) > 0 {
		next.Set(params.MaxTarget)
	}

	return blockchain.BigToCompact(next)
}

// CalcSubsidy returns the block reward for a block at height, where the
// genesis block has height 1. The reward halves every halvingInterval
// blocks.
func CalcSubsidy(height uint64, baseSubsidy int64, halvingInterval uint64) int64 {
	if height == 0 || halvingInterval == 0 {
		return baseSubsidy
	}

	halvings := (height - 1) / halvingInterval
	if halvings >= 64 {
		return 0
	}

	return baseSubsidy >> halvings
}
