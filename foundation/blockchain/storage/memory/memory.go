// Package memory implements the ability to store and query chain links in
// memory using maps indexed by block, transaction and claimed output.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type record struct {
	link database.Link
	pos  storage.Position
}

// Memory represents the storage implementation for keeping chain links in
// memory. This implements the database.Storage interface.
type Memory struct {
	mu        sync.RWMutex
	links     map[chainhash.Hash]record
	children  map[chainhash.Hash][]chainhash.Hash
	connected map[chainhash.Hash]uint32
	txs       map[chainhash.Hash][]chainhash.Hash
	claims    map[database.OutPoint][]chainhash.Hash
	genesis   *chainhash.Hash
	head      *chainhash.Hash
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		links:     make(map[chainhash.Hash]record),
		children:  make(map[chainhash.Hash][]chainhash.Hash),
		connected: make(map[chainhash.Hash]uint32),
		txs:       make(map[chainhash.Hash][]chainhash.Hash),
		claims:    make(map[database.OutPoint][]chainhash.Hash),
	}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// GetGenesisLink returns the first connected link.
func (m *Memory) GetGenesisLink() (database.Link, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.genesis == nil {
		return database.Link{}, false, nil
	}

	return m.links[*m.genesis].link, true, nil
}

// GetLastLink returns the connected link with the most total difficulty.
func (m *Memory) GetLastLink() (database.Link, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.head == nil {
		return database.Link{}, false, nil
	}

	return m.links[*m.head].link, true, nil
}

// GetLink returns the link for the block hash.
func (m *Memory) GetLink(hash chainhash.Hash) (database.Link, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.links[hash]
	return rec.link, exists, nil
}

// GetNextLinks returns the stored children of the block hash.
func (m *Memory) GetNextLinks(hash chainhash.Hash) ([]database.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	children := m.children[hash]

	links := make([]database.Link, 0, len(children))
	for _, child := range children {
		rec, exists := m.links[child]
		if !exists {
			return nil, database.NewIntegrityError("child %s of %s is not stored", child, hash)
		}
		links = append(links, rec.link)
	}

	return links, nil
}

// GetClaimedLink returns the link on the branch that holds the claimed
// transaction.
func (m *Memory) GetClaimedLink(branch database.Link, in *database.TxIn) (database.Link, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findOnBranch(branch, m.txs[in.PreviousOutPoint.Hash])
}

// GetClaimerLink returns the link on the branch that holds another claim
// of the same output.
func (m *Memory) GetClaimerLink(branch database.Link, in *database.TxIn) (database.Link, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findOnBranch(branch, m.claims[in.PreviousOutPoint])
}

// AddLink stores a new link.
func (m *Memory) AddLink(link database.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := link.Hash()
	if _, exists := m.links[hash]; exists {
		return fmt.Errorf("add %s: %w", hash, storage.ErrLinkExists)
	}

	rec := record{link: link}

	if !link.IsOrphan() {
		pos, err := m.position(link)
		if err != nil {
			return err
		}
		rec.pos = pos
	}

	m.links[hash] = rec
	m.children[link.PrevHash()] = append(m.children[link.PrevHash()], hash)

	if !link.IsOrphan() {
		m.connect(rec)
	}

	return nil
}

// UpdateLink replaces a stored orphan with its connected form.
func (m *Memory) UpdateLink(link database.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := link.Hash()

	stored, exists := m.links[hash]
	if !exists {
		return fmt.Errorf("update %s: %w", hash, storage.ErrLinkNotFound)
	}

	if err := storage.CheckUpdate(stored.link, link); err != nil {
		return err
	}

	pos, err := m.position(link)
	if err != nil {
		return err
	}

	rec := record{link: link, pos: pos}
	m.links[hash] = rec
	m.connect(rec)

	return nil
}

// RemoveLink drops a stored orphan.
func (m *Memory) RemoveLink(hash chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.links[hash]
	if !exists {
		return fmt.Errorf("remove %s: %w", hash, storage.ErrLinkNotFound)
	}

	if !rec.link.IsOrphan() {
		return fmt.Errorf("remove %s: %w", hash, storage.ErrNotOrphan)
	}

	delete(m.links, hash)

	prev := rec.link.PrevHash()
	m.children[prev] = slices.DeleteFunc(m.children[prev], func(h chainhash.Hash) bool {
		return h == hash
	})
	if len(m.children[prev]) == 0 {
		delete(m.children, prev)
	}

	return nil
}

// =============================================================================

// position computes where a connected link sits. It must be called with
// the write lock held.
func (m *Memory) position(link database.Link) (storage.Position, error) {
	if m.genesis == nil {
		if err := storage.CheckGenesis(link); err != nil {
			return storage.Position{}, err
		}
		return storage.GenesisPosition, nil
	}

	parent, exists := m.links[link.PrevHash()]
	if err := storage.CheckConnect(link, parent.link, exists); err != nil {
		return storage.Position{}, err
	}

	return parent.pos.Child(m.connected[link.PrevHash()]), nil
}

// connect indexes a connected link and moves the head when the link has
// strictly more total difficulty. It must be called with the write lock
// held.
func (m *Memory) connect(rec record) {
	link := rec.link
	hash := link.Hash()

	if m.genesis == nil {
		m.genesis = &hash
	} else {
		m.connected[link.PrevHash()]++
	}

	for _, tx := range link.Block.Transactions() {
		m.txs[tx.Hash()] = append(m.txs[tx.Hash()], hash)

		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs() {
			m.claims[in.PreviousOutPoint] = append(m.claims[in.PreviousOutPoint], hash)
		}
	}

	if m.head == nil || link.TotalDifficulty.Cmp(m.links[*m.head].link.TotalDifficulty) > 0 {
		m.head = &hash
	}
}

// findOnBranch returns the highest candidate that is the branch link or one
// of its ancestors. It must be called with a lock held.
func (m *Memory) findOnBranch(branch database.Link, candidates []chainhash.Hash) (database.Link, bool, error) {
	tip, exists := m.links[branch.Hash()]
	if !exists || tip.link.IsOrphan() {
		return database.Link{}, false, database.NewIntegrityError("branch %s is not a stored connected link", branch.Hash())
	}

	var found record
	var ok bool
	for _, hash := range candidates {
		rec, exists := m.links[hash]
		if !exists {
			return database.Link{}, false, database.NewIntegrityError("indexed link %s is not stored", hash)
		}

		if !rec.pos.IsAncestorOf(tip.pos) {
			continue
		}

		if !ok || rec.pos.Height > found.pos.Height {
			found, ok = rec, true
		}
	}

	return found.link, ok, nil
}
