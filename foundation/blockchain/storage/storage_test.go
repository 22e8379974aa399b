package storage_test

import (
	"testing"

	"github.com/ardanlabs/btcnode/foundation/blockchain/storage"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_IsAncestorOf(t *testing.T) {
	// genesis(1) - m2 - m3 - m4
	//           \- s2 - s3
	//                \- t3
	genesis := storage.GenesisPosition
	m2 := genesis.Child(0)
	m3 := m2.Child(0)
	m4 := m3.Child(0)
	s2 := genesis.Child(1)
	s3 := s2.Child(0)
	t3 := s2.Child(1)

	tt := []struct {
		name string
		a    storage.Position
		b    storage.Position
		exp  bool
	}{
		{"self", m3, m3, true},
		{"genesis of main", genesis, m4, true},
		{"genesis of side", genesis, t3, true},
		{"main parent", m3, m4, true},
		{"child of parent", m4, m3, false},
		{"sibling", m2, s2, false},
		{"main below junction", m2, s3, false},
		{"side root", s2, s3, true},
		{"side root of nested", s2, t3, true},
		{"nested cousins", s3, t3, false},
		{"side to main", s3, m4, false},
	}

	t.Log("Given the need to answer ancestor questions from positions.")
	{
		for testID, tst := range tt {
			if got := tst.a.IsAncestorOf(tst.b); got != tst.exp {
				t.Fatalf("\t%s\tTest %d:\tShould report %s %s of %s as %t.", failed, testID, tst.name, tst.a, tst.b, tst.exp)
			}
			t.Logf("\t%s\tTest %d:\tShould report %s as %t.", success, testID, tst.name, tst.exp)
		}
	}
}

func Test_ChildDoesNotAlias(t *testing.T) {
	base := storage.GenesisPosition.Child(1)

	a := base.Child(1)
	b := base.Child(2)

	if a.Path[1].Branch != 1 || b.Path[1].Branch != 2 {
		t.Fatalf("Should give each child its own path, got %s and %s", a, b)
	}
}
