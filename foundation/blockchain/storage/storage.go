// Package storage provides the support shared by the chain link storage
// implementations. Each connected link is given a position in the block
// tree so ancestor checks do not need to walk the chain.
package storage

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
)

// Set of errors returned by the storage implementations.
var (
	ErrLinkExists   = errors.New("link already stored")
	ErrLinkNotFound = errors.New("link not found")
	ErrNotOrphan    = errors.New("link is not an orphan")
)

// =============================================================================

// Junction marks the height where a path leaves the first child of a
// parent and the ordinal of the child it takes instead.
type Junction struct {
	Height uint64
	Branch uint32
}

// Path lists the junctions taken from genesis to reach a link. The first
// connected child of every link continues its parent's path.
type Path []Junction

// Child returns the path of the child at height that is the n'th connected
// child of a link with this path.
func (p Path) Child(height uint64, n uint32) Path {
	if n == 0 {
		return p
	}

	child := make(Path, len(p), len(p)+1)
	copy(child, p)

	return append(child, Junction{Height: height, Branch: n})
}

// =============================================================================

// Position is where a connected link sits in the block tree.
type Position struct {
	Height uint64
	Path   Path
}

// GenesisPosition is the position of the genesis link.
var GenesisPosition = Position{Height: database.GenesisHeight}

// Child returns the position of the n'th connected child.
func (p Position) Child(n uint32) Position {
	return Position{
		Height: p.Height + 1,
		Path:   p.Path.Child(p.Height+1, n),
	}
}

// IsAncestorOf reports whether the link at p is the link at other or one
// of its ancestors.
func (p Position) IsAncestorOf(other Position) bool {
	if p.Height > other.Height || len(p.Path) > len(other.Path) {
		return false
	}

	for i, j := range p.Path {
		if other.Path[i] != j {
			return false
		}
	}

	// Past the shared junctions other must branch off above p.
	if len(p.Path) < len(other.Path) {
		return p.Height < other.Path[len(p.Path)].Height
	}

	return true
}

// String implements the fmt.Stringer interface.
func (p Position) String() string {
	return fmt.Sprintf("%d%v", p.Height, p.Path)
}

// =============================================================================

// CheckConnect verifies a link can be connected on top of parent.
func CheckConnect(link database.Link, parent database.Link, parentFound bool) error {
	if link.IsOrphan() {
		return nil
	}

	if !parentFound {
		return database.NewIntegrityError("parent %s of connected link %s is not stored", link.PrevHash(), link.Hash())
	}

	if parent.IsOrphan() {
		return database.NewIntegrityError("parent %s of connected link %s is an orphan", parent.Hash(), link.Hash())
	}

	if link.Height != parent.Height+1 {
		return database.NewIntegrityError("connected link %s has height %d, parent %s has height %d", link.Hash(), link.Height, parent.Hash(), parent.Height)
	}

	return nil
}

// CheckGenesis verifies a link can start a chain.
func CheckGenesis(link database.Link) error {
	if link.IsOrphan() || link.Height != database.GenesisHeight {
		return database.NewIntegrityError("first link %s must be connected at height %d", link.Hash(), database.GenesisHeight)
	}
	return nil
}

// CheckUpdate verifies that updated may replace stored.
func CheckUpdate(stored database.Link, updated database.Link) error {
	if !stored.IsOrphan() {
		return fmt.Errorf("update %s: %w", stored.Hash(), ErrNotOrphan)
	}

	if updated.IsOrphan() {
		return fmt.Errorf("update %s: link must be connected", stored.Hash())
	}

	if updated.Hash() != stored.Hash() || updated.Block.Header != stored.Block.Header {
		return fmt.Errorf("update %s: only the state of a link may change", stored.Hash())
	}

	return nil
}
