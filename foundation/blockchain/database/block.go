package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/btcnode/foundation/blockchain/merkle"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MaxTimeOffset is how far ahead of the local clock a block timestamp may
// be.
const MaxTimeOffset = 2 * time.Hour

// BlockHeaderSize is the size of a serialized header.
const BlockHeaderSize = 80

// maxTxPerBlock bounds the tx count read while decoding a block.
const maxTxPerBlock = MaxBlockSize/minTxInSize + 1

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Version       uint32         `json:"version"`
	PrevBlockHash chainhash.Hash `json:"prev_block_hash"` // Hash of the previous block in the chain.
	MerkleRoot    chainhash.Hash `json:"merkle_root"`     // Root of the merkle tree for the transactions in this block.
	Timestamp     uint32         `json:"timestamp"`       // Time the block was mined in unix seconds.
	Bits          uint32         `json:"bits"`            // Compact encoded target.
	Nonce         uint32         `json:"nonce"`           // Value identified to solve the hash solution.
}

// Serialize writes the 80 byte wire form of the header.
func (h BlockHeader) Serialize(w io.Writer) error {
	if err := writeUint32(w, h.Version); err != nil {
		return err
	}
	if err := writeHash(w, h.PrevBlockHash); err != nil {
		return err
	}
	if err := writeHash(w, h.MerkleRoot); err != nil {
		return err
	}
	if err := writeUint32(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return err
	}
	return writeUint32(w, h.Nonce)
}

// Bytes returns the 80 byte wire form of the header.
func (h BlockHeader) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, BlockHeaderSize))
	h.Serialize(buf)
	return buf.Bytes()
}

// Hash returns the double sha256 of the serialized header.
func (h BlockHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(h.Bytes())
}

// Time returns the header timestamp.
func (h BlockHeader) Time() time.Time {
	return time.Unix(int64(h.Timestamp), 0).UTC()
}

// DecodeBlockHeader reads an 80 byte header.
func DecodeBlockHeader(r io.Reader) (BlockHeader, error) {
	var h BlockHeader
	var err error

	if h.Version, err = readUint32(r); err != nil {
		return BlockHeader{}, err
	}
	if h.PrevBlockHash, err = readHash(r); err != nil {
		return BlockHeader{}, err
	}
	if h.MerkleRoot, err = readHash(r); err != nil {
		return BlockHeader{}, err
	}
	if h.Timestamp, err = readUint32(r); err != nil {
		return BlockHeader{}, err
	}
	if h.Bits, err = readUint32(r); err != nil {
		return BlockHeader{}, err
	}
	if h.Nonce, err = readUint32(r); err != nil {
		return BlockHeader{}, err
	}

	return h, nil
}

// =============================================================================

// Block represents a header and the transactions batched under it. The
// merkle tree computed from the transactions is kept alongside the header's
// claimed root so the two can be compared.
type Block struct {
	Header     BlockHeader
	MerkleTree *merkle.Tree[*Tx]
	hash       chainhash.Hash
}

// NewBlock constructs a block and computes its hash from the header.
func NewBlock(header BlockHeader, txs []*Tx) (Block, error) {
	return NewBlockWithHash(header, txs, header.Hash())
}

// NewBlockWithHash constructs a block using a hash supplied by a trusted
// source such as storage or the genesis parameters.
func NewBlockWithHash(header BlockHeader, txs []*Tx, hash chainhash.Hash) (Block, error) {
	b := Block{
		Header: header,
		hash:   hash,
	}

	if len(txs) > 0 {
		tree, err := merkle.NewTree(txs)
		if err != nil {
			return Block{}, err
		}
		b.MerkleTree = tree
	}

	return b, nil
}

// Hash returns the unique hash for the Block.
func (b Block) Hash() chainhash.Hash {
	return b.hash
}

// Transactions returns the transactions in block order.
func (b Block) Transactions() []*Tx {
	if b.MerkleTree == nil {
		return nil
	}
	return b.MerkleTree.Values()
}

// CalculatedMerkleRoot returns the root computed from the transactions. A
// block without transactions has a zero root.
func (b Block) CalculatedMerkleRoot() chainhash.Hash {
	if b.MerkleTree == nil {
		return chainhash.Hash{}
	}
	return b.MerkleTree.MerkleRoot
}

// FindTx returns the transaction with the given hash.
func (b Block) FindTx(hash chainhash.Hash) (*Tx, bool) {
	for _, tx := range b.Transactions() {
		if tx.Hash() == hash {
			return tx, true
		}
	}
	return nil, false
}

// SerializeSize returns the number of bytes Serialize writes.
func (b Block) SerializeSize() int {
	txs := b.Transactions()

	n := BlockHeaderSize + wire.VarIntSerializeSize(uint64(len(txs)))
	for _, tx := range txs {
		n += tx.SerializeSize()
	}

	return n
}

// Serialize writes the header followed by the transactions.
func (b Block) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}

	txs := b.Transactions()
	if err := wire.WriteVarInt(w, pver, uint64(len(txs))); err != nil {
		return err
	}

	for _, tx := range txs {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}

	return nil
}

// Bytes returns the wire form of the block.
func (b Block) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, b.SerializeSize()))
	b.Serialize(buf)
	return buf.Bytes()
}

// DecodeBlock reads a block and computes its hash from the header.
func DecodeBlock(r io.Reader) (Block, error) {
	header, txs, err := decodeBlock(r)
	if err != nil {
		return Block{}, err
	}

	return NewBlock(header, txs)
}

// DecodeBlockWithHash reads a block whose hash comes from a trusted source.
func DecodeBlockWithHash(r io.Reader, hash chainhash.Hash) (Block, error) {
	header, txs, err := decodeBlock(r)
	if err != nil {
		return Block{}, err
	}

	return NewBlockWithHash(header, txs, hash)
}

func decodeBlock(r io.Reader) (BlockHeader, []*Tx, error) {
	header, err := DecodeBlockHeader(r)
	if err != nil {
		return BlockHeader{}, nil, fmt.Errorf("header: %w", err)
	}

	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return BlockHeader{}, nil, fmt.Errorf("tx count: %w", err)
	}
	if count > maxTxPerBlock {
		return BlockHeader{}, nil, fmt.Errorf("too many transactions, got %d, max %d", count, maxTxPerBlock)
	}

	txs := make([]*Tx, count)
	for i := range txs {
		tx, err := DecodeTx(r)
		if err != nil {
			return BlockHeader{}, nil, fmt.Errorf("tx[%d]: %w", i, err)
		}
		txs[i] = tx
	}

	return header, txs, nil
}

// ParseBlock decodes a block that must occupy all of b.
func ParseBlock(b []byte) (Block, error) {
	r := bytes.NewReader(b)

	block, err := DecodeBlock(r)
	if err != nil {
		return Block{}, err
	}

	if r.Len() != 0 {
		return Block{}, fmt.Errorf("%d trailing bytes after block", r.Len())
	}

	return block, nil
}

// =============================================================================

// ValidateBlock performs the checks that need nothing but the block itself
// and the current time.
func (b Block) ValidateBlock(maxTarget *big.Int, now time.Time, evHandler func(v string, args ...any)) error {
	hash := b.hash

	evHandler("database: ValidateBlock: validate: blk[%s]: check: proof of work", hash)

	if err := difficulty.CheckProofOfWork(hash, b.Header.Bits, maxTarget); err != nil {
		rule := ErrHighHash
		if errors.Is(err, difficulty.ErrTargetRange) {
			rule = ErrUnexpectedDifficulty
		}
		return &VerificationError{Rule: rule, Hash: hash, Input: -1, Err: err}
	}

	evHandler("database: ValidateBlock: validate: blk[%s]: check: timestamp is not too far in the future", hash)

	if limit := now.Add(MaxTimeOffset); b.Header.Time().After(limit) {
		return NewVerificationError(ErrTimeTooNew, hash, "block time %s, limit %s", b.Header.Time(), limit.UTC())
	}

	evHandler("database: ValidateBlock: validate: blk[%s]: check: block has transactions", hash)

	txs := b.Transactions()
	if len(txs) == 0 {
		return NewVerificationError(ErrNoTransactions, hash, "")
	}

	evHandler("database: ValidateBlock: validate: blk[%s]: check: merkle root does match transactions", hash)

	if calculated := b.CalculatedMerkleRoot(); b.Header.MerkleRoot != calculated {
		return NewVerificationError(ErrBadMerkleRoot, hash, "got %s, exp %s", b.Header.MerkleRoot, calculated)
	}

	evHandler("database: ValidateBlock: validate: blk[%s]: check: block size", hash)

	if size := b.SerializeSize(); size > MaxBlockSize {
		return NewVerificationError(ErrBlockTooBig, hash, "size %d, max %d", size, MaxBlockSize)
	}

	evHandler("database: ValidateBlock: validate: blk[%s]: check: coinbase placement", hash)

	if !txs[0].IsCoinbase() {
		return NewVerificationError(ErrFirstTxNotCoinbase, hash, "")
	}

	for i, tx := range txs[1:] {
		if tx.IsCoinbase() {
			return NewVerificationError(ErrMultipleCoinbases, hash, "tx[%d] %s", i+1, tx.Hash())
		}
	}

	evHandler("database: ValidateBlock: validate: blk[%s]: check: transactions are well formed", hash)

	seenTx := make(map[chainhash.Hash]struct{}, len(txs))
	claims := make(map[OutPoint]chainhash.Hash)
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return err
		}

		if _, exists := seenTx[tx.Hash()]; exists {
			return NewVerificationError(ErrDuplicateTx, hash, "tx %s", tx.Hash())
		}
		seenTx[tx.Hash()] = struct{}{}

		if tx.IsCoinbase() {
			continue
		}

		for i, in := range tx.Inputs() {
			if other, exists := claims[in.PreviousOutPoint]; exists {
				return NewInputError(ErrDuplicateBlockClaims, tx.Hash(), i, nil, "outpoint %s also claimed by %s", in.PreviousOutPoint, other)
			}
			claims[in.PreviousOutPoint] = tx.Hash()
		}
	}

	return nil
}

// =============================================================================

// POW finds a nonce that solves the block's target, starting from the
// header's current nonce. The returned block carries the solved header.
func POW(ctx context.Context, header BlockHeader, txs []*Tx, evHandler func(v string, args ...any)) (Block, error) {
	evHandler("database: POW: MINING: started")
	defer evHandler("database: POW: MINING: completed")

	for _, tx := range txs {
		evHandler("database: POW: MINING: tx[%s]", tx)
	}

	nb, err := NewBlock(header, txs)
	if err != nil {
		return Block{}, err
	}
	nb.Header.MerkleRoot = nb.CalculatedMerkleRoot()

	target := blockchain.CompactToBig(nb.Header.Bits)
	if target.Sign() <= 0 {
		return Block{}, fmt.Errorf("target %#08x is not positive", nb.Header.Bits)
	}

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			evHandler("database: POW: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			evHandler("database: POW: MINING: CANCELLED")
			return Block{}, ctx.Err()
		}

		hash := nb.Header.Hash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			nb.hash = hash
			evHandler("database: POW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", nb.Header.PrevBlockHash, hash)
			evHandler("database: POW: MINING: attempts[%d]", attempts)
			return nb, nil
		}

		nb.Header.Nonce++
		if nb.Header.Nonce == 0 {
			nb.Header.Timestamp++
		}
	}
}
