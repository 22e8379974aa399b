package state

import (
	"fmt"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/genesis"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxLocatorHashes bounds the size of a block locator.
const maxLocatorHashes = 64

// =============================================================================

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveGenesisLink returns the first link of the chain.
func (s *State) RetrieveGenesisLink() (database.Link, error) {
	link, exists, err := s.storage.GetGenesisLink()
	if err != nil {
		return database.Link{}, err
	}

	if !exists {
		return database.Link{}, database.NewIntegrityError("genesis link is not stored")
	}

	return link, nil
}

// RetrieveHead returns the tip of the branch with the most total
// difficulty.
func (s *State) RetrieveHead() (database.Link, error) {
	link, exists, err := s.storage.GetLastLink()
	if err != nil {
		return database.Link{}, err
	}

	if !exists {
		return database.Link{}, database.NewIntegrityError("head link is not stored")
	}

	return link, nil
}

// QueryLink returns the link for the block hash.
func (s *State) QueryLink(hash chainhash.Hash) (database.Link, error) {
	link, exists, err := s.storage.GetLink(hash)
	if err != nil {
		return database.Link{}, err
	}

	if !exists {
		return database.Link{}, fmt.Errorf("link %s: %w", hash, ErrNotFound)
	}

	return link, nil
}

// QueryNextLinks returns the stored children of the block hash, including
// orphans waiting on it.
func (s *State) QueryNextLinks(hash chainhash.Hash) ([]database.Link, error) {
	return s.storage.GetNextLinks(hash)
}

// QueryLocator returns block hashes walking back from the head, dense near
// the tip and doubling the step after the first ten. The genesis hash is
// always last.
func (s *State) QueryLocator() ([]chainhash.Hash, error) {
	link, err := s.RetrieveHead()
	if err != nil {
		return nil, err
	}

	var hashes []chainhash.Hash
	step := uint64(1)

	for {
		hashes = append(hashes, link.Hash())

		if link.Height == database.GenesisHeight || len(hashes) == maxLocatorHashes-1 {
			break
		}

		if len(hashes) >= 10 {
			step *= 2
		}

		// Never step past genesis.
		target := uint64(database.GenesisHeight)
		if link.Height-database.GenesisHeight > step {
			target = link.Height - step
		}

		for link.Height > target {
			prev, exists, err := s.storage.GetLink(link.PrevHash())
			if err != nil {
				return nil, err
			}

			if !exists {
				return nil, database.NewIntegrityError("ancestor %s of %s is not stored", link.PrevHash(), link.Hash())
			}

			link = prev
		}
	}

	genesis, err := s.RetrieveGenesisLink()
	if err != nil {
		return nil, err
	}

	if hashes[len(hashes)-1] != genesis.Hash() {
		hashes = append(hashes, genesis.Hash())
	}

	return hashes, nil
}
