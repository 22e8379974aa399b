// Package state is the core API for the blockchain and implements all the
// business rules for choosing the chain with the most work.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/btcnode/foundation/blockchain/signature"
	"github.com/ardanlabs/btcnode/foundation/blockchain/verifier"
)

// ErrNotFound is returned when a requested link is not stored.
var ErrNotFound = errors.New("not found")

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
}

// nopWorker is used until a worker registers itself.
type nopWorker struct{}

func (nopWorker) Shutdown()           {}
func (nopWorker) SignalStartMining()  {}
func (nopWorker) SignalCancelMining() {}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Storage        database.Storage
	Genesis        genesis.Genesis
	GenesisBlock   *database.Block // Replaces the block built from Genesis when set.
	Verifier       verifier.Verifier
	SigVerifier    signature.Verifier
	SelectStrategy string
	Now            func() time.Time
	EvHandler      EventHandler
	HeadHandler    func(head database.Link) // Called with the new head whenever it moves.
	MaxOrphans     int                      // Defaults to DefaultMaxOrphans.
}

// State manages the block tree and decides which branch is the chain.
type State struct {
	evHandler EventHandler
	now       func() time.Time
	genesis   genesis.Genesis
	maxTarget *big.Int
	storage   database.Storage
	verifier  verifier.Verifier
	mempool   *mempool.Mempool
	onHead    func(head database.Link)
	orphans   orphanPool
	mu        sync.Mutex

	Worker Worker
}

// New constructs a new blockchain for data management. Empty storage is
// seeded with the genesis block. Storage that already holds a chain must
// start from the same genesis.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	// Transactions are checked in parallel unless the caller picked a
	// strategy.
	vrf := cfg.Verifier
	if vrf == nil {
		vrf = verifier.NewParallel(verifier.Config{
			Storage:          cfg.Storage,
			SigVerifier:      cfg.SigVerifier,
			CoinbaseMaturity: cfg.Genesis.CoinbaseMaturity,
			EvHandler:        verifier.EventHandler(ev),
		}, 0)
	}

	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyTip
	}

	mp, err := mempool.NewWithStrategy(strategy)
	if err != nil {
		return nil, err
	}

	onHead := cfg.HeadHandler
	if onHead == nil {
		onHead = func(database.Link) {}
	}

	maxOrphans := cfg.MaxOrphans
	if maxOrphans <= 0 {
		maxOrphans = DefaultMaxOrphans
	}

	state := State{
		evHandler: ev,
		now:       now,
		genesis:   cfg.Genesis,
		maxTarget: cfg.Genesis.MaxTarget(),
		storage:   cfg.Storage,
		verifier:  vrf,
		mempool:   mp,
		onHead:    onHead,
		orphans:   newOrphanPool(maxOrphans),
		Worker:    nopWorker{},
	}

	if err := state.ensureGenesis(cfg.GenesisBlock); err != nil {
		return nil, err
	}

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop the mining operation before the storage goes away.
	s.Worker.Shutdown()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.storage.Close()
}

// =============================================================================

// ensureGenesis stores the genesis link on empty storage and otherwise
// checks the stored chain starts from it.
func (s *State) ensureGenesis(override *database.Block) error {
	var block database.Block
	switch {
	case override != nil:
		block = *override

	default:
		var err error
		if block, err = s.genesis.Block(); err != nil {
			return fmt.Errorf("genesis block: %w", err)
		}
	}

	stored, exists, err := s.storage.GetGenesisLink()
	if err != nil {
		return err
	}

	if exists {
		if stored.Hash() != block.Hash() {
			return fmt.Errorf("storage holds chain %s, expected genesis %s", stored.Hash(), block.Hash())
		}

		s.evHandler("state: ensureGenesis: found: blk[%s]", stored.Hash())
		return nil
	}

	link := database.NewGenesisLink(block, s.maxTarget)
	if err := s.storage.AddLink(link); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	s.evHandler("state: ensureGenesis: stored: blk[%s]: difficulty[%s]", link.Hash(), link.TotalDifficulty)

	return nil
}
