package sighash

import (
	"fmt"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/ardanlabs/btcnode/foundation/blockchain/signature"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Checker verifies the signatures of one transaction input. It implements
// the script.SigChecker interface.
type Checker struct {
	Tx         *database.Tx
	InputIndex int
	Verifier   signature.Verifier
}

// CheckSig implements the script.SigChecker interface. The last byte of sig
// is the hash type.
func (c Checker) CheckSig(sig []byte, pubKey []byte, subscript []byte) (bool, error) {
	if len(sig) == 0 {
		return false, nil
	}

	hashType := Type(sig[len(sig)-1])

	digest, err := Calculate(c.Tx, c.InputIndex, subscript, hashType)
	if err != nil {
		return false, err
	}

	return c.Verifier.Verify(sig[:len(sig)-1], pubKey, digest), nil
}

// =============================================================================

// Sign produces a signature for the input at idx with the hash type byte
// appended, ready to be pushed by a signature script.
func Sign(tx *database.Tx, idx int, subscript []byte, hashType Type, privKey *btcec.PrivateKey) ([]byte, error) {
	digest, err := Calculate(tx, idx, subscript, hashType)
	if err != nil {
		return nil, err
	}

	sig := signature.Sign(privKey, digest)

	return append(sig, byte(hashType)), nil
}

// SignatureScript builds the signature script that spends a pay to public
// key hash output locked by pkScript.
func SignatureScript(tx *database.Tx, idx int, pkScript []byte, hashType Type, privKey *btcec.PrivateKey) ([]byte, error) {
	sig, err := Sign(tx, idx, pkScript, hashType, privKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	pubKey := privKey.PubKey().SerializeCompressed()

	return script.NewBuilder().AddData(sig).AddData(pubKey).Script()
}
