package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool"
	"github.com/btcsuite/btcd/wire"
)

// ErrCoinbaseTx is returned when a coinbase is submitted outside a block.
var ErrCoinbaseTx = errors.New("coinbase transactions are only valid in blocks")

// SubmitTransaction checks a transaction against the head as if it were the
// next block and adds it to the mempool. Outputs of pooled transactions can
// be claimed. The fee the transaction pays is returned.
func (s *State) SubmitTransaction(ctx context.Context, tx *database.Tx) (int64, error) {
	hash := tx.Hash()

	s.evHandler("state: SubmitTransaction: started: tx[%s]", hash)
	defer s.evHandler("state: SubmitTransaction: completed: tx[%s]", hash)

	if entry, exists := s.mempool.Get(hash); exists {
		return entry.Fee, nil
	}

	if tx.IsCoinbase() {
		return 0, ErrCoinbaseTx
	}

	if err := tx.Validate(); err != nil {
		return 0, err
	}

	fee, err := s.checkPooled(ctx, tx)
	if err != nil {
		return 0, err
	}

	entry := mempool.Entry{
		Tx:    tx,
		Fee:   fee,
		Size:  tx.SerializeSize(),
		Added: s.now(),
	}

	n, err := s.mempool.Upsert(entry)
	if err != nil {
		return 0, err
	}

	s.evHandler("state: SubmitTransaction: mempool: tx[%s]: fee[%d]: txs[%d]", hash, fee, n)

	s.Worker.SignalStartMining()

	return fee, nil
}

// RetrieveMempool returns a copy of the mempool in the order it would be
// mined.
func (s *State) RetrieveMempool() []mempool.Entry {
	return s.mempool.PickBest(-1)
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// =============================================================================

// checkPooled verifies tx on top of the head together with the pooled
// transactions it depends on and returns the fee tx alone pays.
func (s *State) checkPooled(ctx context.Context, tx *database.Tx) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, _, err := s.storage.GetLastLink()
	if err != nil {
		return 0, err
	}

	ancestors := s.mempool.Ancestors(tx)

	txs := make([]*database.Tx, 0, len(ancestors)+2)
	txs = append(txs, database.NewCoinbaseTx(head.Height+1, 0, nil, nil))

	var ancestorFees int64
	for _, e := range ancestors {
		txs = append(txs, e.Tx)
		ancestorFees += e.Fee
	}
	txs = append(txs, tx)

	candidate, err := database.NewBlock(database.BlockHeader{PrevBlockHash: head.Hash(), Timestamp: uint32(s.now().Unix())}, txs)
	if err != nil {
		return 0, err
	}

	totals, err := s.verifier.Verify(ctx, head, candidate)
	if err != nil {
		return 0, err
	}

	return totals.Fees() - ancestorFees, nil
}

// updateMempool drops the transactions the new head's branch carries from
// the point it forks from the old head. Transactions of blocks that left
// the chain are not returned to the pool.
func (s *State) updateMempool(before database.Link, after database.Link) error {
	start := time.Now()

	parent := func(l database.Link) (database.Link, error) {
		prev, exists, err := s.storage.GetLink(l.PrevHash())
		if err != nil {
			return database.Link{}, err
		}
		if !exists {
			return database.Link{}, database.NewIntegrityError("ancestor %s of %s is not stored", l.PrevHash(), l.Hash())
		}
		return prev, nil
	}

	var removed int
	var err error

	for after.Height > before.Height {
		removed += s.mempool.RemoveBlock(after.Block)
		if after, err = parent(after); err != nil {
			return err
		}
	}

	for before.Height > after.Height {
		if before, err = parent(before); err != nil {
			return err
		}
	}

	for after.Hash() != before.Hash() {
		removed += s.mempool.RemoveBlock(after.Block)
		if after, err = parent(after); err != nil {
			return err
		}
		if before, err = parent(before); err != nil {
			return err
		}
	}

	s.evHandler("state: updateMempool: removed[%d]: remaining[%d]: took[%s]", removed, s.mempool.Count(), time.Since(start))

	return nil
}

// selectPooled picks the best pooled transactions that fit in a block next
// to the coinbase and still verify on top of head. Transactions that fail
// are dropped from the pool with their descendants.
func (s *State) selectPooled(ctx context.Context, head database.Link, coinbase *database.Tx) ([]*database.Tx, error) {
	for {
		size := database.BlockHeaderSize + wire.VarIntSerializeSize(uint64(s.mempool.Count()+1)) + coinbase.SerializeSize()

		txs := []*database.Tx{coinbase}
		for _, e := range s.mempool.PickBest(-1) {
			if size+e.Size > database.MaxBlockSize {
				break
			}
			size += e.Size
			txs = append(txs, e.Tx)
		}

		candidate, err := database.NewBlock(database.BlockHeader{PrevBlockHash: head.Hash()}, txs)
		if err != nil {
			return nil, err
		}

		_, err = s.verifier.Verify(ctx, head, candidate)
		if err == nil {
			return txs[1:], nil
		}

		var ve *database.VerificationError
		if !errors.As(err, &ve) || errors.Is(err, database.ErrInterrupted) {
			return nil, err
		}

		if _, exists := s.mempool.Get(ve.Hash); !exists {
			return nil, fmt.Errorf("pooled transactions failed without a culprit: %w", err)
		}

		s.evHandler("state: selectPooled: drop tx[%s]: %s", ve.Hash, err)
		s.mempool.Delete(ve.Hash)
	}
}
