package verifier

import (
	"context"
	"runtime"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"golang.org/x/sync/errgroup"
)

// Parallel verifies the transactions of a block concurrently with one task
// per transaction. This implements the Verifier interface.
type Parallel struct {
	checker
	limit int
}

// NewParallel constructs a parallel verifier running at most limit tasks
// at once. A limit below one uses GOMAXPROCS.
func NewParallel(cfg Config, limit int) *Parallel {
	if limit < 1 {
		limit = runtime.GOMAXPROCS(0)
	}

	return &Parallel{
		checker: newChecker(cfg),
		limit:   limit,
	}
}

// Verify implements the Verifier interface. The first failing task cancels
// the rest and its error is returned unchanged. A fresh group is used for
// every call so nothing from an interrupted run is reused.
func (p *Parallel) Verify(ctx context.Context, branch database.Link, block database.Block) (Totals, error) {
	p.evHandler("verifier: Parallel: started: blk[%s]: branch[%s]: limit[%d]", block.Hash(), branch.Hash(), p.limit)
	defer p.evHandler("verifier: Parallel: completed: blk[%s]", block.Hash())

	txs := block.Transactions()
	results := make([]Totals, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)

	for i, tx := range txs {
		i, tx := i, tx
		if gctx.Err() != nil {
			break
		}

		if tx.IsCoinbase() {
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			txTotals, err := p.verifyTx(branch, block, tx)
			if err != nil {
				p.evHandler("verifier: Parallel: tx[%s]: ERROR: %s", tx.Hash(), err)
				return err
			}

			results[i] = txTotals
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Totals{}, err
	}

	// Tasks skipped after cancellation leave their results empty.
	if ctx.Err() != nil {
		return Totals{}, interrupted(ctx, block)
	}

	var totals Totals
	for _, r := range results {
		totals = totals.add(r)
	}

	return totals, nil
}
