package state

import (
	"context"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
)

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain. The coinbase pays the subsidy and the
// fees of txs to pkScript. When txs is nil the best transactions from the
// mempool are used. Mining can be cancelled through ctx.
func (s *State) MineNewBlock(ctx context.Context, pkScript []byte, txs []*database.Tx) (Result, error) {
	head, err := s.RetrieveHead()
	if err != nil {
		return Result{}, err
	}

	height := head.Height + 1
	subsidy := s.genesis.BlockSubsidy(height)

	if txs == nil {
		s.evHandler("state: MineNewBlock: MINING: pick from mempool: txs[%d]", s.mempool.Count())

		if txs, err = s.selectPooled(ctx, head, database.NewCoinbaseTx(height, subsidy, pkScript, nil)); err != nil {
			return Result{}, err
		}
	}

	s.evHandler("state: MineNewBlock: MINING: check transactions: height[%d]: numTrans[%d]", height, len(txs))

	// Run the transactions against the head to learn the fees they pay.
	candidate, err := database.NewBlock(database.BlockHeader{PrevBlockHash: head.Hash()}, append([]*database.Tx{database.NewCoinbaseTx(height, subsidy, pkScript, nil)}, txs...))
	if err != nil {
		return Result{}, err
	}

	totals, err := s.verifier.Verify(ctx, head, candidate)
	if err != nil {
		return Result{}, err
	}

	bits, err := s.expectedBits(head)
	if err != nil {
		return Result{}, err
	}

	// Keep the timestamp moving forward even when the clock lags the head.
	timestamp := uint32(s.now().Unix())
	if headTime := head.Block.Header.Timestamp; timestamp <= headTime {
		timestamp = headTime + 1
	}

	header := database.BlockHeader{
		Version:       1,
		PrevBlockHash: head.Hash(),
		Timestamp:     timestamp,
		Bits:          bits,
	}

	coinbase := database.NewCoinbaseTx(height, subsidy+totals.Fees(), pkScript, nil)

	s.evHandler("state: MineNewBlock: MINING: perform POW: bits[%08x]", bits)

	start := time.Now()

	block, err := database.POW(ctx, header, append([]*database.Tx{coinbase}, txs...), s.evHandler)
	if err != nil {
		return Result{}, err
	}

	s.evHandler("state: MineNewBlock: MINING: solved: blk[%s]: took[%s]", block.Hash(), time.Since(start))

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: validate and update storage")

	return s.addBlock(ctx, block)
}
