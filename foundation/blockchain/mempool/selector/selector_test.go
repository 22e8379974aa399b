package selector_test

import (
	"testing"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// tx builds a transaction claiming output 0 of each source.
func tx(tag byte, sources ...chainhash.Hash) *database.Tx {
	if len(sources) == 0 {
		sources = []chainhash.Hash{{tag}}
	}

	ins := make([]database.TxIn, len(sources))
	for i, src := range sources {
		ins[i] = database.NewTxIn(database.NewOutPoint(src, 0), []byte{tag}, database.DefaultSequence)
	}

	return database.NewTx(1, ins, []database.TxOut{database.NewTxOut(1_000, []byte{script.OP_TRUE})}, 0)
}

func pool(entries ...selector.Entry) map[chainhash.Hash]selector.Entry {
	m := make(map[chainhash.Hash]selector.Entry)
	for _, e := range entries {
		m[e.Hash()] = e
	}
	return m
}

func hashes(entries []selector.Entry) []chainhash.Hash {
	out := make([]chainhash.Hash, len(entries))
	for i, e := range entries {
		out[i] = e.Hash()
	}
	return out
}

func equal(got []selector.Entry, want ...selector.Entry) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].Hash() != want[i].Hash() {
			return false
		}
	}
	return true
}

// =============================================================================

func Test_TipSelect(t *testing.T) {
	now := time.Now()

	a := selector.Entry{Tx: tx(1), Fee: 500, Size: 250, Added: now}
	b := selector.Entry{Tx: tx(2), Fee: 100, Size: 200, Added: now}
	c := selector.Entry{Tx: tx(3, b.Hash()), Fee: 1000, Size: 200, Added: now}
	d := selector.Entry{Tx: tx(4), Fee: 300, Size: 100, Added: now}

	type test struct {
		name    string
		howMany int
		best    []selector.Entry
	}

	tt := []test{
		{name: "all", howMany: -1, best: []selector.Entry{b, c, d, a}},
		{name: "parent pulled in", howMany: 2, best: []selector.Entry{b, c}},
		{name: "parent does not fit", howMany: 1, best: []selector.Entry{d}},
		{name: "none", howMany: 0, best: []selector.Entry{}},
	}

	fn, err := selector.Retrieve(selector.StrategyTip)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to retrieve the strategy: %v", failed, err)
	}

	t.Log("Given the need to pick the best paying transactions.")
	{
		for testID, test := range tt {
			t.Logf("\tTest %d:\tWhen picking %s.", testID, test.name)
			{
				got := fn(pool(a, b, c, d), test.howMany)
				if !equal(got, test.best...) {
					t.Logf("\t\tTest %d:\tgot: %v", testID, hashes(got))
					t.Logf("\t\tTest %d:\texp: %v", testID, hashes(test.best))
					t.Fatalf("\t%s\tTest %d:\tShould get back the right transactions.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back the right transactions.", success, testID)
			}
		}
	}
}

func Test_FIFOSelect(t *testing.T) {
	now := time.Now()

	parent := selector.Entry{Tx: tx(1), Fee: 1, Size: 100, Added: now.Add(2 * time.Second)}
	child := selector.Entry{Tx: tx(2, parent.Hash()), Fee: 1, Size: 100, Added: now}
	other := selector.Entry{Tx: tx(3), Fee: 1, Size: 100, Added: now.Add(time.Second)}

	fn, err := selector.Retrieve(selector.StrategyFIFO)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to retrieve the strategy: %v", failed, err)
	}

	t.Log("Given the need to pick transactions in arrival order.")
	{
		got := fn(pool(parent, child, other), -1)
		if !equal(got, parent, child, other) {
			t.Fatalf("\t%s\tShould keep the parent ahead of a child that arrived first: %v", failed, hashes(got))
		}
		t.Logf("\t%s\tShould keep the parent ahead of a child that arrived first.", success)
	}
}

func Test_Retrieve(t *testing.T) {
	if _, err := selector.Retrieve("advanced"); err == nil {
		t.Fatalf("\t%s\tShould fail for an unknown strategy.", failed)
	}
	t.Logf("\t%s\tShould fail for an unknown strategy.", success)
}
