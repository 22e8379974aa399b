// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ZeroHash represents a hash code of zeros.
var ZeroHash chainhash.Hash

// Verifier is the capability of checking a signature over a digest for a
// public key. Parse failures of either input are reported as false.
type Verifier interface {
	Verify(sig []byte, pubKey []byte, digest chainhash.Hash) bool
}

// =============================================================================

// Secp256k1 verifies ECDSA signatures over the secp256k1 curve.
type Secp256k1 struct{}

// Verify implements the Verifier interface. Signatures are parsed as BER,
// so excess zero padding and negative looking integers that strict DER
// refuses are accepted.
func (Secp256k1) Verify(sig []byte, pubKey []byte, digest chainhash.Hash) bool {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	s, err := ecdsa.ParseSignature(sig)
	if err != nil {
		return false
	}

	return s.Verify(digest[:], pk)
}

// =============================================================================

// Sign produces a DER encoded signature of the digest with the private key.
func Sign(privKey *btcec.PrivateKey, digest chainhash.Hash) []byte {
	return ecdsa.Sign(privKey, digest[:]).Serialize()
}

// PrivKeyFromBytes returns the private key and its compressed public key for
// the raw 32 byte scalar.
func PrivKeyFromBytes(b []byte) (*btcec.PrivateKey, []byte) {
	privKey, pubKey := btcec.PrivKeyFromBytes(b)
	return privKey, pubKey.SerializeCompressed()
}

// =============================================================================

// DoubleSHA256 returns sha256(sha256(b)).
func DoubleSHA256(b []byte) []byte {
	return chainhash.DoubleHashB(b)
}

// SHA256 returns sha256(b).
func SHA256(b []byte) []byte {
	return chainhash.HashB(b)
}

// Hash160 returns ripemd160(sha256(b)).
func Hash160(b []byte) []byte {
	return btcutil.Hash160(b)
}
