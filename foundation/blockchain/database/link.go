package database

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/btcnode/foundation/blockchain/difficulty"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// GenesisHeight is the height of the first block in a chain.
const GenesisHeight = 1

// LinkState represents whether the parent chain of a link is known.
type LinkState uint8

// Set of link states.
const (
	Orphan LinkState = iota
	Connected
)

// String implements the fmt.Stringer interface.
func (ls LinkState) String() string {
	switch ls {
	case Orphan:
		return "orphan"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("LinkState(%d)", uint8(ls))
}

// =============================================================================

// Link is a block positioned in the chain. A link is a value: moving an
// orphan into the chain produces a new link that replaces the old one in
// storage.
type Link struct {
	Block           Block
	TotalDifficulty difficulty.Difficulty // Cumulative from genesis, or the block's own for an orphan.
	Height          uint64                // Zero while orphaned.
	State           LinkState
}

// NewGenesisLink constructs the connected link at the start of a chain.
func NewGenesisLink(block Block, maxTarget *big.Int) Link {
	return Link{
		Block:           block,
		TotalDifficulty: BlockDifficulty(block, maxTarget),
		Height:          GenesisHeight,
		State:           Connected,
	}
}

// NewOrphanLink constructs a link for a block whose parent is unknown.
func NewOrphanLink(block Block, maxTarget *big.Int) Link {
	return Link{
		Block:           block,
		TotalDifficulty: BlockDifficulty(block, maxTarget),
		State:           Orphan,
	}
}

// NewLink constructs a connected link on top of its parent.
func NewLink(parent Link, block Block, maxTarget *big.Int) (Link, error) {
	return NewOrphanLink(block, maxTarget).Connect(parent)
}

// Connect returns the connected form of an orphan link given its parent.
func (l Link) Connect(parent Link) (Link, error) {
	if l.State != Orphan {
		return Link{}, fmt.Errorf("link %s is already %s", l.Hash(), l.State)
	}

	if parent.State != Connected {
		return Link{}, fmt.Errorf("parent %s is %s", parent.Hash(), parent.State)
	}

	if l.Block.Header.PrevBlockHash != parent.Hash() {
		return Link{}, fmt.Errorf("link %s does not build on %s", l.Hash(), parent.Hash())
	}

	return Link{
		Block:           l.Block,
		TotalDifficulty: parent.TotalDifficulty.Add(l.TotalDifficulty),
		Height:          parent.Height + 1,
		State:           Connected,
	}, nil
}

// Hash returns the hash of the link's block.
func (l Link) Hash() chainhash.Hash {
	return l.Block.Hash()
}

// PrevHash returns the hash of the parent block.
func (l Link) PrevHash() chainhash.Hash {
	return l.Block.Header.PrevBlockHash
}

// IsOrphan reports whether the parent chain is still unknown.
func (l Link) IsOrphan() bool {
	return l.State == Orphan
}

// IsZero reports whether the link carries no block.
func (l Link) IsZero() bool {
	return l.Block.Hash() == chainhash.Hash{}
}

// String implements the fmt.Stringer interface.
func (l Link) String() string {
	return fmt.Sprintf("%s height[%d] difficulty[%s] %s", l.Hash(), l.Height, l.TotalDifficulty, l.State)
}

// BlockDifficulty returns the work represented by a single block's
// compact target.
func BlockDifficulty(block Block, maxTarget *big.Int) difficulty.Difficulty {
	return difficulty.FromCompact(block.Header.Bits, maxTarget)
}
