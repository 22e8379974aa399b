package verifier

import (
	"context"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
)

// Serial verifies the transactions of a block one at a time in block order.
// This implements the Verifier interface.
type Serial struct {
	checker
}

// NewSerial constructs a serial verifier.
func NewSerial(cfg Config) *Serial {
	return &Serial{
		checker: newChecker(cfg),
	}
}

// Verify implements the Verifier interface.
func (s *Serial) Verify(ctx context.Context, branch database.Link, block database.Block) (Totals, error) {
	s.evHandler("verifier: Serial: started: blk[%s]: branch[%s]", block.Hash(), branch.Hash())
	defer s.evHandler("verifier: Serial: completed: blk[%s]", block.Hash())

	var totals Totals
	for _, tx := range block.Transactions() {
		if ctx.Err() != nil {
			return Totals{}, interrupted(ctx, block)
		}

		if tx.IsCoinbase() {
			continue
		}

		txTotals, err := s.verifyTx(branch, block, tx)
		if err != nil {
			s.evHandler("verifier: Serial: tx[%s]: ERROR: %s", tx.Hash(), err)
			return Totals{}, err
		}

		totals = totals.add(txTotals)
	}

	return totals, nil
}
