package database

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and querying chain links. Reads may
// run concurrently with each other. Writes are issued by a single caller.
//
// A lookup that finds nothing returns false with a nil error. Errors are
// reserved for I/O failures and for integrity failures, which wrap
// ErrStorageIntegrity.
type Storage interface {

	// GetGenesisLink returns the connected link at height one.
	GetGenesisLink() (Link, bool, error)

	// GetLastLink returns the connected link with the greatest total
	// difficulty. When two links tie the one stored first wins.
	GetLastLink() (Link, bool, error)

	// GetLink returns the link for the block hash.
	GetLink(hash chainhash.Hash) (Link, bool, error)

	// GetNextLinks returns the links whose parent is the block hash, in the
	// order they were stored.
	GetNextLinks(hash chainhash.Hash) ([]Link, error)

	// GetClaimedLink returns the link on the branch ending at branch whose
	// block contains the transaction the input claims.
	GetClaimedLink(branch Link, in *TxIn) (Link, bool, error)

	// GetClaimerLink returns the link on the branch ending at branch whose
	// block contains an input claiming the same output as in.
	GetClaimerLink(branch Link, in *TxIn) (Link, bool, error)

	// AddLink stores a new link. A connected link must build on a stored
	// connected parent unless it is the first link stored.
	AddLink(link Link) error

	// UpdateLink replaces a stored orphan with its connected form. No other
	// change to a stored link is accepted.
	UpdateLink(link Link) error

	// RemoveLink drops a stored orphan.
	RemoveLink(hash chainhash.Hash) error

	// Close releases the resources held by the storage.
	Close() error
}
