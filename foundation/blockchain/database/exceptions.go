package database

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// exceptionTable is a frozen set of transaction hashes that historical
// consensus accepted even though they violate one of the current checks.
// A table is replaced as a whole when its version changes.
type exceptionTable struct {
	version int
	hashes  map[chainhash.Hash]struct{}
}

func (et exceptionTable) contains(hash chainhash.Hash) bool {
	_, exists := et.hashes[hash]
	return exists
}

// complexityExceptions lists transactions exempt from the script
// complexity heuristic.
var complexityExceptions = exceptionTable{
	version: 1,
	hashes:  map[chainhash.Hash]struct{}{},
}

// scriptExceptions lists transactions whose input scripts are not executed
// during verification.
var scriptExceptions = exceptionTable{
	version: 1,
	hashes:  map[chainhash.Hash]struct{}{},
}

// IsComplexityException reports whether the transaction is exempt from the
// script complexity heuristic.
func IsComplexityException(hash chainhash.Hash) bool {
	return complexityExceptions.contains(hash)
}

// IsScriptException reports whether script failures for the transaction
// are ignored.
func IsScriptException(hash chainhash.Hash) bool {
	return scriptExceptions.contains(hash)
}

// ExceptionTableVersions returns the versions of the complexity and script
// exception tables compiled into the binary.
func ExceptionTableVersions() (complexity int, script int) {
	return complexityExceptions.version, scriptExceptions.version
}
