package state_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/btcnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/ardanlabs/btcnode/foundation/blockchain/state"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage/memory"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// Compact targets used by the tests. Easy has a difficulty of one against
// the regtest max target and hard a difficulty of 256.
const (
	easyBits = 0x207fffff
	hardBits = 0x1f7fffff
)

var now = time.Unix(1_700_000_000, 0)

type harness struct {
	t       *testing.T
	state   *state.State
	storage *memory.Memory
	params  genesis.Genesis
	extra   byte

	mu     sync.Mutex
	events []string
	heads  []uint64
}

func newHarness(t *testing.T, params genesis.Genesis, options ...func(cfg *state.Config)) *harness {
	h := harness{
		t:       t,
		storage: memory.New(),
		params:  params,
	}

	ev := func(v string, args ...any) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, fmt.Sprintf(v, args...))
	}

	onHead := func(head database.Link) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.heads = append(h.heads, head.Height)
	}

	cfg := state.Config{
		Storage:     h.storage,
		Genesis:     params,
		Now:         func() time.Time { return now },
		EvHandler:   ev,
		HeadHandler: onHead,
	}

	for _, option := range options {
		option(&cfg)
	}

	st, err := state.New(cfg)
	require.NoError(t, err)

	h.state = st
	return &h
}

func regTest(maturity uint64) genesis.Genesis {
	params := genesis.RegTest()
	params.CoinbaseMaturity = maturity
	return params
}

func (h *harness) genesis() database.Link {
	link, err := h.state.RetrieveGenesisLink()
	require.NoError(h.t, err)
	return link
}

// mine solves a block at height on top of prev with a coinbase paying
// value to an OP_TRUE lock.
func (h *harness) mine(prev database.Block, height uint64, bits uint32, value int64, txs ...*database.Tx) database.Block {
	h.extra++

	coinbase := database.NewCoinbaseTx(height, value, []byte{script.OP_TRUE}, []byte{h.extra})

	header := database.BlockHeader{
		Version:       1,
		PrevBlockHash: prev.Hash(),
		Timestamp:     prev.Header.Timestamp + 600,
		Bits:          bits,
	}

	block, err := database.POW(context.Background(), header, append([]*database.Tx{coinbase}, txs...), func(string, ...any) {})
	require.NoError(h.t, err)

	return block
}

// extend mines a block on parent paying the full subsidy.
func (h *harness) extend(parent database.Block, height uint64, bits uint32, txs ...*database.Tx) database.Block {
	return h.mine(parent, height, bits, h.params.BlockSubsidy(height), txs...)
}

func (h *harness) add(block database.Block) state.Result {
	result, err := h.state.AddBlock(context.Background(), block)
	require.NoError(h.t, err)
	return result
}

func (h *harness) head() database.Link {
	head, err := h.state.RetrieveHead()
	require.NoError(h.t, err)
	return head
}

func (h *harness) sawEvent(prefix string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.events {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// =============================================================================

func Test_Genesis(t *testing.T) {
	h := newHarness(t, regTest(100))

	gen := h.genesis()
	require.Equal(t, genesis.RegTest().Hash, gen.Hash())
	require.Equal(t, uint64(database.GenesisHeight), gen.Height)
	require.Equal(t, gen.Hash(), h.head().Hash())

	// Reopening the same storage keeps the chain.
	_, err := state.New(state.Config{Storage: h.storage, Genesis: regTest(100)})
	require.NoError(t, err)

	// A different network can not take over the storage.
	_, err = state.New(state.Config{Storage: h.storage, Genesis: genesis.MainNet()})
	require.Error(t, err)
}

func Test_GenesisScenario(t *testing.T) {
	header := database.BlockHeader{
		PrevBlockHash: chainhash.Hash{0x00},
		MerkleRoot:    chainhash.Hash{0x01, 0x02, 0x03},
		Timestamp:     1234567,
		Bits:          0x1b0404cb,
		Nonce:         1,
	}

	block, err := database.NewBlockWithHash(header, nil, chainhash.Hash{0x01})
	require.NoError(t, err)

	storage := memory.New()
	st, err := state.New(state.Config{
		Storage:      storage,
		Genesis:      genesis.MainNet(),
		GenesisBlock: &block,
	})
	require.NoError(t, err)

	link, err := st.RetrieveGenesisLink()
	require.NoError(t, err)

	require.Equal(t, chainhash.Hash{0x01}, link.Hash())
	require.Equal(t, uint64(1), link.Height)
	require.False(t, link.IsOrphan())
	require.Equal(t, header, link.Block.Header)

	head, err := st.RetrieveHead()
	require.NoError(t, err)
	require.Equal(t, link.Hash(), head.Hash())

	stored, err := st.QueryNextLinks(chainhash.Hash{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func Test_ForkChoice(t *testing.T) {
	h := newHarness(t, regTest(100))
	gen := h.genesis()

	a1 := h.extend(gen.Block, 2, easyBits)
	a2 := h.extend(a1, 3, easyBits)
	a3 := h.extend(a2, 4, easyBits)
	b1 := h.extend(gen.Block, 2, hardBits)

	t.Log("Given the need to follow the branch with the most work.")
	{
		for _, block := range []database.Block{a1, a2, a3} {
			result := h.add(block)
			if result.Status != state.Accepted || !result.HeadChanged || result.Head.Hash() != block.Hash() {
				t.Fatalf("\t%s\tShould move the head to %s: %+v", failed, block.Hash(), result.Status)
			}
		}
		t.Logf("\t%s\tShould extend the head with the longer branch.", success)

		result := h.add(b1)
		if !result.HeadChanged || result.Head.Hash() != b1.Hash() {
			t.Fatalf("\t%s\tShould switch to the shorter branch with more work, head %s", failed, result.Head.Hash())
		}
		t.Logf("\t%s\tShould switch to the shorter branch with more work.", success)

		if got := result.Head.TotalDifficulty.String(); got != "257" {
			t.Fatalf("\t%s\tShould sum the difficulties of the branch, got %s", failed, got)
		}
		t.Logf("\t%s\tShould sum the difficulties of the branch.", success)

		a4 := h.extend(a3, 5, easyBits)
		result = h.add(a4)
		if result.Status != state.Accepted || result.HeadChanged {
			t.Fatalf("\t%s\tShould keep the head when the other branch grows but has less work.", failed)
		}
		t.Logf("\t%s\tShould keep the head when the other branch grows but has less work.", success)
	}

	require.True(t, h.sawEvent("viewer: head:"))
	require.True(t, h.sawEvent("viewer: block:"))
}

func Test_FalseDifficulty(t *testing.T) {
	h := newHarness(t, regTest(100))
	gen := h.genesis()

	solved := h.extend(gen.Block, 2, easyBits)

	// Step the nonce until the hash no longer meets the target.
	header := solved.Header
	for {
		header.Nonce++
		if difficulty.CheckProofOfWork(header.Hash(), header.Bits, h.params.MaxTarget()) != nil {
			break
		}
	}

	block, err := database.NewBlock(header, solved.Transactions())
	require.NoError(t, err)

	_, err = h.state.AddBlock(context.Background(), block)
	require.ErrorIs(t, err, database.ErrHighHash)

	_, err = h.state.QueryLink(block.Hash())
	require.ErrorIs(t, err, state.ErrNotFound)
}

func Test_Duplicate(t *testing.T) {
	h := newHarness(t, regTest(100))

	block := h.extend(h.genesis().Block, 2, easyBits)
	h.add(block)

	result := h.add(block)
	require.Equal(t, state.Duplicate, result.Status)
	require.False(t, result.HeadChanged)
}

func Test_OrphanConnection(t *testing.T) {
	h := newHarness(t, regTest(100))
	gen := h.genesis()

	b1 := h.extend(gen.Block, 2, easyBits)
	b2 := h.extend(b1, 3, easyBits)
	b3 := h.extend(b2, 4, easyBits)

	t.Log("Given the need to hold blocks that arrive before their parent.")
	{
		for _, block := range []database.Block{b3, b2} {
			result := h.add(block)
			if result.Status != state.Orphaned || result.HeadChanged {
				t.Fatalf("\t%s\tShould keep %s as an orphan, got %s", failed, block.Hash(), result.Status)
			}
		}
		t.Logf("\t%s\tShould keep blocks without a parent as orphans.", success)

		if h.head().Hash() != gen.Hash() {
			t.Fatalf("\t%s\tShould not move the head for orphans.", failed)
		}
		t.Logf("\t%s\tShould not move the head for orphans.", success)

		result := h.add(b1)
		if len(result.Connected) != 3 {
			t.Fatalf("\t%s\tShould connect the waiting orphans, got %d links", failed, len(result.Connected))
		}

		for i, block := range []database.Block{b1, b2, b3} {
			link := result.Connected[i]
			if link.Hash() != block.Hash() || link.IsOrphan() || link.Height != uint64(i+2) {
				t.Fatalf("\t%s\tShould connect %s at height %d, got %s", failed, block.Hash(), i+2, link)
			}
		}
		t.Logf("\t%s\tShould connect the waiting orphans parents first.", success)

		if result.Head.Hash() != b3.Hash() || !result.HeadChanged {
			t.Fatalf("\t%s\tShould move the head to the last connected orphan.", failed)
		}
		t.Logf("\t%s\tShould move the head to the last connected orphan.", success)
	}
}

func Test_OrphanRejected(t *testing.T) {
	h := newHarness(t, regTest(100))
	gen := h.genesis()

	b1 := h.extend(gen.Block, 2, easyBits)
	greedy := h.mine(b1, 3, easyBits, h.params.BlockSubsidy(3)+1)
	child := h.extend(greedy, 4, easyBits)

	require.Equal(t, state.Orphaned, h.add(greedy).Status)
	require.Equal(t, state.Orphaned, h.add(child).Status)

	result := h.add(b1)
	require.Len(t, result.Connected, 1)
	require.Equal(t, []chainhash.Hash{child.Hash(), greedy.Hash()}, result.Removed)
	require.Equal(t, b1.Hash(), h.head().Hash())

	for _, hash := range result.Removed {
		_, err := h.state.QueryLink(hash)
		require.ErrorIs(t, err, state.ErrNotFound)
	}
}

func Test_OrphanLimit(t *testing.T) {
	h := newHarness(t, regTest(100), func(cfg *state.Config) {
		cfg.MaxOrphans = 2
	})
	gen := h.genesis()

	b1 := h.extend(gen.Block, 2, easyBits)
	c2 := h.extend(b1, 3, easyBits)
	c3 := h.extend(c2, 4, easyBits)

	a1 := h.extend(gen.Block, 2, easyBits)
	a2 := h.extend(a1, 3, easyBits)

	t.Log("Given the need to bound the blocks held without a parent.")
	{
		require.Equal(t, state.Orphaned, h.add(c2).Status)
		require.Equal(t, state.Orphaned, h.add(c3).Status)

		result := h.add(a2)
		if result.Status != state.Orphaned || result.Link.Hash() != a2.Hash() {
			t.Fatalf("\t%s\tShould keep the newest orphan, got %s", failed, result.Status)
		}
		t.Logf("\t%s\tShould keep the newest orphan.", success)

		if len(result.Removed) != 2 || result.Removed[0] != c3.Hash() || result.Removed[1] != c2.Hash() {
			t.Fatalf("\t%s\tShould evict the oldest orphan and the orphans built on it, got %v", failed, result.Removed)
		}
		t.Logf("\t%s\tShould evict the oldest orphan and the orphans built on it.", success)

		for _, hash := range result.Removed {
			if _, err := h.state.QueryLink(hash); !errors.Is(err, state.ErrNotFound) {
				t.Fatalf("\t%s\tShould drop %s from storage, got %v", failed, hash, err)
			}
		}
		t.Logf("\t%s\tShould drop the evicted orphans from storage.", success)

		result = h.add(a1)
		if len(result.Connected) != 2 || result.Head.Hash() != a2.Hash() {
			t.Fatalf("\t%s\tShould still connect the kept orphan, got %d links", failed, len(result.Connected))
		}
		t.Logf("\t%s\tShould still connect the kept orphan.", success)

		result = h.add(b1)
		if len(result.Connected) != 1 {
			t.Fatalf("\t%s\tShould find no orphans waiting on the evicted branch, got %d links", failed, len(result.Connected))
		}
		t.Logf("\t%s\tShould find no orphans waiting on the evicted branch.", success)
	}
}

func Test_HeadHandler(t *testing.T) {
	h := newHarness(t, regTest(1))
	gen := h.genesis()

	for i := 0; i < 2; i++ {
		_, err := h.state.MineNewBlock(context.Background(), []byte{script.OP_TRUE}, nil)
		require.NoError(t, err)
	}

	// An orphan and a lighter sibling leave the head alone.
	require.Equal(t, state.Orphaned, h.add(h.extend(h.extend(gen.Block, 2, easyBits), 3, easyBits)).Status)
	require.False(t, h.add(h.extend(gen.Block, 2, easyBits)).HeadChanged)

	h.mu.Lock()
	defer h.mu.Unlock()

	require.Equal(t, []uint64{2, 3}, h.heads)
}

func Test_CoinbaseValue(t *testing.T) {
	h := newHarness(t, regTest(1))
	gen := h.genesis()

	greedy := h.mine(gen.Block, 2, easyBits, h.params.BlockSubsidy(2)+1)

	_, err := h.state.AddBlock(context.Background(), greedy)
	require.ErrorIs(t, err, database.ErrBadCoinbaseValue)

	// Fees raise the limit.
	b1 := h.extend(gen.Block, 2, easyBits)
	h.add(b1)

	const fee = 1_000
	spend := database.NewTx(1,
		[]database.TxIn{database.NewTxIn(database.NewOutPoint(b1.Transactions()[0].Hash(), 0), nil, database.DefaultSequence)},
		[]database.TxOut{database.NewTxOut(h.params.BlockSubsidy(2)-fee, []byte{script.OP_TRUE})}, 0)

	b2 := h.mine(b1, 3, easyBits, h.params.BlockSubsidy(3)+fee, spend)
	result := h.add(b2)
	require.Equal(t, state.Accepted, result.Status)

	// The output is gone on this branch.
	again := database.NewTx(1,
		[]database.TxIn{database.NewTxIn(database.NewOutPoint(b1.Transactions()[0].Hash(), 0), []byte{script.OP_TRUE}, database.DefaultSequence)},
		[]database.TxOut{database.NewTxOut(1, []byte{script.OP_TRUE})}, 0)

	_, err = h.state.AddBlock(context.Background(), h.extend(b2, 4, easyBits, again))
	require.ErrorIs(t, err, database.ErrDoubleSpend)
}

func Test_Retarget(t *testing.T) {
	params := regTest(100)
	params.NoRetargeting = false
	params.RetargetInterval = 4
	params.TargetTimespan = 4 * 600

	h := newHarness(t, params)
	gen := h.genesis()

	// Outside a retarget height the target must not change.
	_, err := h.state.AddBlock(context.Background(), h.extend(gen.Block, 2, hardBits))
	require.ErrorIs(t, err, database.ErrBadDifficulty)

	prev := gen.Block
	for height := uint64(2); height <= 4; height++ {
		prev = h.extend(prev, height, easyBits)
		h.add(prev)
	}

	// Three blocks 600 seconds apart closed the interval early.
	expected := difficulty.NextTarget(easyBits, 3*600*time.Second, params.RetargetParams())
	require.NotEqual(t, uint32(easyBits), expected)

	_, err = h.state.AddBlock(context.Background(), h.extend(prev, 5, easyBits))
	require.True(t, errors.Is(err, database.ErrBadDifficulty), "got %v", err)

	result := h.add(h.extend(prev, 5, expected))
	require.Equal(t, uint64(5), result.Head.Height)
}

func Test_MineNewBlock(t *testing.T) {
	h := newHarness(t, regTest(1))

	for i := 0; i < 2; i++ {
		result, err := h.state.MineNewBlock(context.Background(), []byte{script.OP_TRUE}, nil)
		require.NoError(t, err)
		require.True(t, result.HeadChanged)
	}

	head := h.head()
	require.Equal(t, uint64(3), head.Height)

	const fee = 5_000
	source := head.Block.Transactions()[0]
	spend := database.NewTx(1,
		[]database.TxIn{database.NewTxIn(database.NewOutPoint(source.Hash(), 0), nil, database.DefaultSequence)},
		[]database.TxOut{database.NewTxOut(source.Outputs()[0].Value-fee, []byte{script.OP_TRUE})}, 0)

	result, err := h.state.MineNewBlock(context.Background(), []byte{script.OP_TRUE}, []*database.Tx{spend})
	require.NoError(t, err)
	require.Equal(t, uint64(4), result.Head.Height)

	paid, _ := result.Link.Block.Transactions()[0].TotalOut()
	require.Equal(t, h.params.BlockSubsidy(4)+fee, paid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.state.MineNewBlock(ctx, []byte{script.OP_TRUE}, nil)
	require.Error(t, err)
}

func Test_Locator(t *testing.T) {
	h := newHarness(t, regTest(100))
	gen := h.genesis()

	prev := gen.Block
	for height := uint64(2); height <= 16; height++ {
		prev = h.extend(prev, height, easyBits)
		h.add(prev)
	}

	hashes, err := h.state.QueryLocator()
	require.NoError(t, err)

	require.Len(t, hashes, 12)
	require.Equal(t, prev.Hash(), hashes[0])
	require.Equal(t, gen.Hash(), hashes[len(hashes)-1])

	link, err := h.state.QueryLink(hashes[10])
	require.NoError(t, err)
	require.Equal(t, uint64(5), link.Height)
}

func Test_SubmitTransaction(t *testing.T) {
	t.Log("Given the need to mine transactions submitted to the mempool.")
	{
		h := newHarness(t, regTest(1))
		ctx := context.Background()
		pk := []byte{script.OP_TRUE}

		for i := 0; i < 2; i++ {
			_, err := h.state.MineNewBlock(ctx, pk, nil)
			require.NoError(t, err)
		}

		source := h.head().Block.Transactions()[0]
		value := source.Outputs()[0].Value

		spend := func(op database.OutPoint, value int64) *database.Tx {
			return database.NewTx(1, []database.TxIn{database.NewTxIn(op, nil, database.DefaultSequence)}, []database.TxOut{database.NewTxOut(value, pk)}, 0)
		}

		tx1 := spend(database.NewOutPoint(source.Hash(), 0), value-1_000)
		tx2 := spend(database.NewOutPoint(tx1.Hash(), 0), value-3_000)

		fee, err := h.state.SubmitTransaction(ctx, tx1)
		require.NoError(t, err)
		require.Equal(t, int64(1_000), fee)
		t.Logf("\t%s\tShould be able to submit a transaction spending a block output.", success)

		fee, err = h.state.SubmitTransaction(ctx, tx1)
		require.NoError(t, err)
		require.Equal(t, int64(1_000), fee)
		require.Equal(t, 1, h.state.QueryMempoolLength())
		t.Logf("\t%s\tShould accept a resubmitted transaction once.", success)

		fee, err = h.state.SubmitTransaction(ctx, tx2)
		require.NoError(t, err)
		require.Equal(t, int64(2_000), fee)
		t.Logf("\t%s\tShould be able to submit a transaction spending a pooled output.", success)

		_, err = h.state.SubmitTransaction(ctx, spend(database.NewOutPoint(source.Hash(), 0), 1))
		require.ErrorIs(t, err, mempool.ErrConflict)
		t.Logf("\t%s\tShould refuse a transaction claiming a pooled output.", success)

		_, err = h.state.SubmitTransaction(ctx, spend(database.NewOutPoint(tx1.Hash(), 1), 1))
		require.Error(t, err)
		require.True(t, database.IsVerificationError(err), "got %v", err)
		t.Logf("\t%s\tShould refuse a transaction spending an unknown output.", success)

		_, err = h.state.SubmitTransaction(ctx, database.NewCoinbaseTx(9, 1, pk, nil))
		require.ErrorIs(t, err, state.ErrCoinbaseTx)
		t.Logf("\t%s\tShould refuse a coinbase transaction.", success)

		entries := h.state.RetrieveMempool()
		require.Len(t, entries, 2)
		require.Equal(t, tx1.Hash(), entries[0].Hash())
		require.Equal(t, tx2.Hash(), entries[1].Hash())
		t.Logf("\t%s\tShould order a parent before its child.", success)

		result, err := h.state.MineNewBlock(ctx, pk, nil)
		require.NoError(t, err)
		require.Len(t, result.Link.Block.Transactions(), 3)

		paid, _ := result.Link.Block.Transactions()[0].TotalOut()
		require.Equal(t, h.params.BlockSubsidy(4)+3_000, paid)
		require.Equal(t, 0, h.state.QueryMempoolLength())
		t.Logf("\t%s\tShould mine the mempool and empty it.", success)
	}
}
