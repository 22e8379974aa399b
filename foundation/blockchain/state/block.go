package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/difficulty"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Status describes what happened to a block handed to AddBlock.
type Status int

// Set of block outcomes.
const (
	Accepted Status = iota + 1
	Orphaned
	Duplicate
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Orphaned:
		return "orphaned"
	case Duplicate:
		return "duplicate"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result reports the changes a call to AddBlock made to the block tree.
type Result struct {
	Link        database.Link
	Status      Status
	Head        database.Link
	HeadChanged bool
	Connected   []database.Link  // Links connected by the call, parents first.
	Removed     []chainhash.Hash // Orphans that failed once their parent arrived or were evicted.
}

// =============================================================================

// AddBlock takes a block received from a peer or a client, validates it and
// adds it to the block tree. A block whose parent is unknown is kept as an
// orphan. Connecting a block also connects the orphans waiting on it.
// Blocks that break a rule are never stored and the returned error is a
// database.VerificationError.
func (s *State) AddBlock(ctx context.Context, block database.Block) (Result, error) {
	result, err := s.addBlock(ctx, block)
	if err != nil {
		return result, err
	}

	// Whatever is being mined no longer builds on the head.
	if result.HeadChanged {
		s.Worker.SignalCancelMining()
		s.Worker.SignalStartMining()
	}

	return result, nil
}

// addBlock performs the work of AddBlock without signaling the worker.
func (s *State) addBlock(ctx context.Context, block database.Block) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()

	s.evHandler("state: AddBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlockHash, hash, len(block.Transactions()))
	defer s.evHandler("state: AddBlock: completed: newBlk[%s]", hash)

	before, _, err := s.storage.GetLastLink()
	if err != nil {
		return Result{}, err
	}

	stored, exists, err := s.storage.GetLink(hash)
	if err != nil {
		return Result{}, err
	}

	if exists {
		s.evHandler("state: AddBlock: duplicate: newBlk[%s]", hash)
		return Result{Link: stored, Status: Duplicate, Head: before}, nil
	}

	s.evHandler("state: AddBlock: validate block")

	if err := block.ValidateBlock(s.maxTarget, s.now(), s.evHandler); err != nil {
		return Result{}, err
	}

	parent, exists, err := s.storage.GetLink(block.Header.PrevBlockHash)
	if err != nil {
		return Result{}, err
	}

	if !exists || parent.IsOrphan() {
		s.evHandler("state: AddBlock: orphan: parent unknown")

		result := Result{Status: Orphaned, Head: before}
		if err := s.evictOrphans(&result); err != nil {
			return Result{}, err
		}

		link := database.NewOrphanLink(block, s.maxTarget)
		if err := s.storage.AddLink(link); err != nil {
			return Result{}, err
		}
		s.orphans.add(hash)

		result.Link = link
		return result, nil
	}

	s.evHandler("state: AddBlock: connect block: parent height[%d]", parent.Height)

	if err := s.checkConnect(ctx, parent, block); err != nil {
		return Result{}, err
	}

	link, err := database.NewLink(parent, block, s.maxTarget)
	if err != nil {
		return Result{}, err
	}

	s.evHandler("state: AddBlock: write to storage")

	if err := s.storage.AddLink(link); err != nil {
		return Result{}, err
	}

	result := Result{
		Link:      link,
		Status:    Accepted,
		Connected: []database.Link{link},
	}

	if err := s.connectOrphans(ctx, link, &result); err != nil {
		return result, err
	}

	after, _, err := s.storage.GetLastLink()
	if err != nil {
		return result, err
	}

	result.Head = after
	result.HeadChanged = after.Hash() != before.Hash()

	for _, l := range result.Connected {
		s.blockEvent(l)
	}

	if result.HeadChanged {
		s.evHandler("state: AddBlock: head changed: blk[%s]: height[%d]: difficulty[%s]", after.Hash(), after.Height, after.TotalDifficulty)

		if err := s.updateMempool(before, after); err != nil {
			return result, err
		}

		s.headEvent(after)
	}

	return result, nil
}

// =============================================================================

// checkConnect applies the rules that need the parent of the block: the
// expected target, the transactions against the branch and the coinbase
// value.
func (s *State) checkConnect(ctx context.Context, parent database.Link, block database.Block) error {
	height := parent.Height + 1
	hash := block.Hash()

	if !s.genesis.NoRetargeting {
		expected, err := s.expectedBits(parent)
		if err != nil {
			return err
		}

		if block.Header.Bits != expected {
			return database.NewVerificationError(database.ErrBadDifficulty, hash, "bits %08x, expected %08x", block.Header.Bits, expected)
		}
	}

	s.evHandler("state: checkConnect: verify transactions: blk[%s]", hash)

	totals, err := s.verifier.Verify(ctx, parent, block)
	if err != nil {
		return err
	}

	coinbase := block.Transactions()[0]

	value, ok := coinbase.TotalOut()
	if !ok {
		return database.NewVerificationError(database.ErrBadTxOutValue, coinbase.Hash(), "coinbase output total out of range")
	}

	if limit := s.genesis.BlockSubsidy(height) + totals.Fees(); value > limit {
		return database.NewVerificationError(database.ErrBadCoinbaseValue, coinbase.Hash(), "pays %d, subsidy plus fees is %d", value, limit)
	}

	return nil
}

// expectedBits returns the compact target required of a child of parent.
func (s *State) expectedBits(parent database.Link) (uint32, error) {
	if !s.genesis.IsRetargetHeight(parent.Height + 1) {
		return parent.Block.Header.Bits, nil
	}

	// Walk back to the first block of the interval that is closing.
	first := parent
	for i, n := uint64(0), s.genesis.RetargetInterval-1; i < n; i++ {
		prev, exists, err := s.storage.GetLink(first.PrevHash())
		if err != nil {
			return 0, err
		}

		if !exists {
			return 0, database.NewIntegrityError("ancestor %s of %s is not stored", first.PrevHash(), parent.Hash())
		}

		first = prev
	}

	actual := parent.Block.Header.Time().Sub(first.Block.Header.Time())
	next := difficulty.NextTarget(parent.Block.Header.Bits, actual, s.genesis.RetargetParams())

	s.evHandler("state: expectedBits: retarget: height[%d]: timespan[%s]: bits[%08x]", parent.Height+1, actual.Round(time.Second), next)

	return next, nil
}

// connectOrphans connects every orphan waiting on parent and then the
// orphans waiting on those. An orphan that breaks a rule is removed along
// with every orphan built on it.
func (s *State) connectOrphans(ctx context.Context, parent database.Link, result *Result) error {
	children, err := s.storage.GetNextLinks(parent.Hash())
	if err != nil {
		return err
	}

	for _, child := range children {
		if !child.IsOrphan() {
			continue
		}

		s.evHandler("state: connectOrphans: orphan[%s]: parent[%s]", child.Hash(), parent.Hash())

		err := s.checkConnect(ctx, parent, child.Block)
		switch {
		case err == nil:

		case errors.Is(err, database.ErrInterrupted) || !database.IsVerificationError(err):
			return err

		default:
			s.evHandler("state: connectOrphans: orphan[%s]: ERROR: %s", child.Hash(), err)
			if err := s.removeOrphans(child.Hash(), result); err != nil {
				return err
			}
			continue
		}

		link, err := child.Connect(parent)
		if err != nil {
			return err
		}

		if err := s.storage.UpdateLink(link); err != nil {
			return err
		}
		s.orphans.drop(link.Hash())

		result.Connected = append(result.Connected, link)

		if err := s.connectOrphans(ctx, link, result); err != nil {
			return err
		}
	}

	return nil
}

// removeOrphans drops the orphan and every orphan built on it.
func (s *State) removeOrphans(hash chainhash.Hash, result *Result) error {
	children, err := s.storage.GetNextLinks(hash)
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := s.removeOrphans(child.Hash(), result); err != nil {
			return err
		}
	}

	if err := s.storage.RemoveLink(hash); err != nil {
		return err
	}
	s.orphans.drop(hash)

	result.Removed = append(result.Removed, hash)

	return nil
}

// evictOrphans drops the oldest orphans, with the orphans built on them,
// until there is room for one more.
func (s *State) evictOrphans(result *Result) error {
	for s.orphans.full() {
		hash, ok := s.orphans.oldest()
		if !ok {
			return nil
		}

		s.evHandler("state: evictOrphans: orphan[%s]: pool[%d]", hash, s.orphans.len())

		if err := s.removeOrphans(hash, result); err != nil {
			return err
		}
	}

	return nil
}

// =============================================================================

// blockEvent provides a specific event about a new link in the block tree
// for application specific support.
func (s *State) blockEvent(link database.Link) {
	blockHeaderJSON, err := json.Marshal(link.Block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"height":%d,"total_difficulty":%q,"header":%s}`, link.Hash(), link.Height, link.TotalDifficulty, string(blockHeaderJSON))
}

// headEvent provides a specific event about a new chain tip.
func (s *State) headEvent(link database.Link) {
	s.evHandler(`viewer: head: {"hash":%q,"height":%d,"total_difficulty":%q}`, link.Hash(), link.Height, link.TotalDifficulty)
	s.onHead(link)
}
