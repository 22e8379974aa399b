// Package storagetest provides the behavior every database.Storage
// implementation must show, runnable against any of them.
package storagetest

import (
	"errors"
	"testing"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// Compact targets used by the tests. Easy has a difficulty of one against
// MaxTarget and hard a difficulty of 256.
const (
	EasyBits = 0x207fffff
	HardBits = 0x1f7fffff
)

// MaxTarget is the target every test difficulty is measured against.
var MaxTarget = blockchain.CompactToBig(EasyBits)

// Factory constructs an empty storage for one test.
type Factory func(t *testing.T) database.Storage

// Run executes the conformance tests against storage built by newStorage.
func Run(t *testing.T, newStorage Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s database.Storage)
	}{
		{"Empty", testEmpty},
		{"GenesisScenario", testGenesisScenario},
		{"ForkChoice", testForkChoice},
		{"TieBreak", testTieBreak},
		{"BranchClaims", testBranchClaims},
		{"Orphans", testOrphans},
		{"Integrity", testIntegrity},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() { s.Close() })

			tst.fn(t, s)
		})
	}
}

// =============================================================================

// Chain builds unmined blocks for storage tests. Storage does not check
// proof of work so any header is acceptable.
type Chain struct {
	nonce uint32
}

// Block constructs a block on top of prev with a coinbase at height and the
// extra transactions.
func (c *Chain) Block(t *testing.T, prev chainhash.Hash, bits uint32, height uint64, txs ...*database.Tx) database.Block {
	c.nonce++

	all := append([]*database.Tx{database.NewCoinbaseTx(height, 50, []byte{0x51}, []byte{byte(c.nonce)})}, txs...)

	header := database.BlockHeader{
		Version:       1,
		PrevBlockHash: prev,
		Timestamp:     1_700_000_000 + c.nonce,
		Bits:          bits,
		Nonce:         c.nonce,
	}

	block, err := database.NewBlock(header, all)
	require.NoError(t, err)

	block.Header.MerkleRoot = block.CalculatedMerkleRoot()
	block, err = database.NewBlock(block.Header, all)
	require.NoError(t, err)

	return block
}

// Spend constructs a transaction claiming the outpoint.
func Spend(op database.OutPoint, tag byte) *database.Tx {
	in := database.NewTxIn(op, []byte{tag}, database.DefaultSequence)
	out := database.NewTxOut(1, []byte{0x51})
	return database.NewTx(1, []database.TxIn{in}, []database.TxOut{out}, 0)
}

// Genesis stores and returns a genesis link.
func (c *Chain) Genesis(t *testing.T, s database.Storage) database.Link {
	link := database.NewGenesisLink(c.Block(t, chainhash.Hash{}, EasyBits, 1), MaxTarget)
	require.NoError(t, s.AddLink(link))
	return link
}

// Extend stores and returns a connected link on top of parent.
func (c *Chain) Extend(t *testing.T, s database.Storage, parent database.Link, bits uint32, txs ...*database.Tx) database.Link {
	link, err := database.NewLink(parent, c.Block(t, parent.Hash(), bits, parent.Height+1, txs...), MaxTarget)
	require.NoError(t, err)
	require.NoError(t, s.AddLink(link))
	return link
}

// =============================================================================

func testEmpty(t *testing.T, s database.Storage) {
	_, exists, err := s.GetGenesisLink()
	require.NoError(t, err)
	require.False(t, exists)

	_, exists, err = s.GetLastLink()
	require.NoError(t, err)
	require.False(t, exists)

	_, exists, err = s.GetLink(chainhash.Hash{1})
	require.NoError(t, err)
	require.False(t, exists)

	links, err := s.GetNextLinks(chainhash.Hash{1})
	require.NoError(t, err)
	require.Empty(t, links)
}

func testGenesisScenario(t *testing.T, s database.Storage) {
	header := database.BlockHeader{
		PrevBlockHash: chainhash.Hash{0x00},
		MerkleRoot:    chainhash.Hash{0x01, 0x02, 0x03},
		Timestamp:     1234567,
		Bits:          0x1b0404cb,
		Nonce:         1,
	}

	block, err := database.NewBlockWithHash(header, nil, chainhash.Hash{0x01})
	require.NoError(t, err)

	maxTarget := blockchain.CompactToBig(0x1d00ffff)
	require.NoError(t, s.AddLink(database.NewGenesisLink(block, maxTarget)))

	link, exists, err := s.GetGenesisLink()
	require.NoError(t, err)
	require.True(t, exists)

	require.Equal(t, chainhash.Hash{0x01}, link.Hash())
	require.Equal(t, uint64(database.GenesisHeight), link.Height)
	require.False(t, link.IsOrphan())
	require.Equal(t, header, link.Block.Header)
	require.Empty(t, link.Block.Transactions())
	require.Equal(t, "16307", link.TotalDifficulty.String())

	last, exists, err := s.GetLastLink()
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, link.Hash(), last.Hash())

	children, err := s.GetNextLinks(chainhash.Hash{})
	require.NoError(t, err)
	require.Len(t, children, 1)
}

func testForkChoice(t *testing.T, s database.Storage) {
	var c Chain
	genesis := c.Genesis(t, s)

	// The long branch has less work than the short hard branch.
	a1 := c.Extend(t, s, genesis, EasyBits)
	b1 := c.Extend(t, s, genesis, HardBits)
	a2 := c.Extend(t, s, a1, EasyBits)
	a3 := c.Extend(t, s, a2, EasyBits)

	last, exists, err := s.GetLastLink()
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, b1.Hash(), last.Hash())
	require.Equal(t, uint64(2), last.Height)

	require.Equal(t, "257", b1.TotalDifficulty.String())
	require.Equal(t, "4", a3.TotalDifficulty.String())

	children, err := s.GetNextLinks(genesis.Hash())
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, a1.Hash(), children[0].Hash())
	require.Equal(t, b1.Hash(), children[1].Hash())
}

func testTieBreak(t *testing.T, s database.Storage) {
	var c Chain
	genesis := c.Genesis(t, s)

	first := c.Extend(t, s, genesis, EasyBits)
	c.Extend(t, s, genesis, EasyBits)

	last, _, err := s.GetLastLink()
	require.NoError(t, err)
	require.Equal(t, first.Hash(), last.Hash())
}

func testBranchClaims(t *testing.T, s database.Storage) {
	var c Chain
	genesis := c.Genesis(t, s)

	coinbase := genesis.Block.Transactions()[0]
	op := database.NewOutPoint(coinbase.Hash(), 0)

	spendA := Spend(op, 1)
	spendB := Spend(op, 2)

	a1 := c.Extend(t, s, genesis, EasyBits, spendA)
	b1 := c.Extend(t, s, genesis, EasyBits, spendB)
	a2 := c.Extend(t, s, a1, EasyBits)
	b2 := c.Extend(t, s, b1, EasyBits)

	probe := Spend(op, 3).Inputs()[0]

	// The claimed transaction is visible from both branches.
	for _, branch := range []database.Link{genesis, a2, b2} {
		claimed, exists, err := s.GetClaimedLink(branch, probe)
		require.NoError(t, err)
		require.True(t, exists)
		require.Equal(t, genesis.Hash(), claimed.Hash())
	}

	// Each branch only sees its own claim.
	claimer, exists, err := s.GetClaimerLink(a2, probe)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, a1.Hash(), claimer.Hash())

	claimer, exists, err = s.GetClaimerLink(b2, probe)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, b1.Hash(), claimer.Hash())

	_, exists, err = s.GetClaimerLink(genesis, probe)
	require.NoError(t, err)
	require.False(t, exists)

	// A transaction on one branch is invisible from the other.
	other := database.NewTxIn(database.NewOutPoint(spendA.Hash(), 0), nil, 0)

	_, exists, err = s.GetClaimedLink(b2, &other)
	require.NoError(t, err)
	require.False(t, exists)

	claimed, exists, err := s.GetClaimedLink(a2, &other)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, a1.Hash(), claimed.Hash())
}

func testOrphans(t *testing.T, s database.Storage) {
	var c Chain
	genesis := c.Genesis(t, s)

	parentBlock := c.Block(t, genesis.Hash(), EasyBits, 2)
	childBlock := c.Block(t, parentBlock.Hash(), HardBits, 3)

	orphan := database.NewOrphanLink(childBlock, MaxTarget)
	require.NoError(t, s.AddLink(orphan))

	stored, exists, err := s.GetLink(orphan.Hash())
	require.NoError(t, err)
	require.True(t, exists)
	require.True(t, stored.IsOrphan())

	waiting, err := s.GetNextLinks(parentBlock.Hash())
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, orphan.Hash(), waiting[0].Hash())

	// Orphans never become the head.
	last, _, err := s.GetLastLink()
	require.NoError(t, err)
	require.Equal(t, genesis.Hash(), last.Hash())

	parent, err := database.NewLink(genesis, parentBlock, MaxTarget)
	require.NoError(t, err)
	require.NoError(t, s.AddLink(parent))

	connected, err := orphan.Connect(parent)
	require.NoError(t, err)
	require.NoError(t, s.UpdateLink(connected))

	stored, _, err = s.GetLink(orphan.Hash())
	require.NoError(t, err)
	require.False(t, stored.IsOrphan())
	require.Equal(t, uint64(3), stored.Height)

	last, _, err = s.GetLastLink()
	require.NoError(t, err)
	require.Equal(t, connected.Hash(), last.Hash())

	err = s.UpdateLink(connected)
	require.ErrorIs(t, err, storage.ErrNotOrphan)

	// Removing only applies to orphans.
	require.ErrorIs(t, s.RemoveLink(connected.Hash()), storage.ErrNotOrphan)

	stray := database.NewOrphanLink(c.Block(t, chainhash.Hash{0xee}, EasyBits, 9), MaxTarget)
	require.NoError(t, s.AddLink(stray))
	require.NoError(t, s.RemoveLink(stray.Hash()))

	_, exists, err = s.GetLink(stray.Hash())
	require.NoError(t, err)
	require.False(t, exists)

	waiting, err = s.GetNextLinks(chainhash.Hash{0xee})
	require.NoError(t, err)
	require.Empty(t, waiting)

	require.ErrorIs(t, s.RemoveLink(stray.Hash()), storage.ErrLinkNotFound)
}

func testIntegrity(t *testing.T, s database.Storage) {
	var c Chain

	notGenesis := database.Link{Block: c.Block(t, chainhash.Hash{}, EasyBits, 2), Height: 2, State: database.Connected}
	err := s.AddLink(notGenesis)
	require.True(t, errors.Is(err, database.ErrStorageIntegrity), "got %v", err)

	genesis := c.Genesis(t, s)
	require.ErrorIs(t, s.AddLink(genesis), storage.ErrLinkExists)

	// A connected link whose parent was never stored.
	missing := c.Block(t, chainhash.Hash{0xaa}, EasyBits, 2)
	err = s.AddLink(database.Link{Block: missing, Height: 2, State: database.Connected})
	require.ErrorIs(t, err, database.ErrStorageIntegrity)

	// A connected link with the wrong height.
	wrong := c.Block(t, genesis.Hash(), EasyBits, 5)
	err = s.AddLink(database.Link{Block: wrong, Height: 5, State: database.Connected})
	require.ErrorIs(t, err, database.ErrStorageIntegrity)

	// Branch lookups from an unknown link.
	probe := Spend(database.NewOutPoint(chainhash.Hash{1}, 0), 1).Inputs()[0]
	unknown := database.NewOrphanLink(c.Block(t, chainhash.Hash{0xbb}, EasyBits, 2), MaxTarget)

	_, _, err = s.GetClaimedLink(unknown, probe)
	require.ErrorIs(t, err, database.ErrStorageIntegrity)

	_, _, err = s.GetClaimerLink(unknown, probe)
	require.ErrorIs(t, err, database.ErrStorageIntegrity)
}
