package public

import (
	"fmt"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/btcnode/foundation/blockchain/state"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type header struct {
	Version    uint32         `json:"version"`
	PrevHash   chainhash.Hash `json:"prev_hash"`
	MerkleRoot chainhash.Hash `json:"merkle_root"`
	Timestamp  uint32         `json:"timestamp"`
	Bits       string         `json:"bits"`
	Nonce      uint32         `json:"nonce"`
}

type link struct {
	Hash            chainhash.Hash   `json:"hash"`
	Height          uint64           `json:"height"`
	State           string           `json:"state"`
	TotalDifficulty string           `json:"total_difficulty"`
	Header          header           `json:"header"`
	Transactions    []chainhash.Hash `json:"transactions"`
}

type result struct {
	Status      string           `json:"status"`
	Link        link             `json:"link"`
	Head        link             `json:"head"`
	HeadChanged bool             `json:"head_changed"`
	Connected   []chainhash.Hash `json:"connected,omitempty"`
	Removed     []chainhash.Hash `json:"removed,omitempty"`
}

type rawBlock struct {
	Hash  chainhash.Hash `json:"hash"`
	Block string         `json:"block"`
}

type submitBlock struct {
	Block string `json:"block" validate:"required,hexadecimal"`
}

type submitTx struct {
	Tx string `json:"tx" validate:"required,hexadecimal"`
}

type txAccepted struct {
	Hash chainhash.Hash `json:"hash"`
	Fee  int64          `json:"fee"`
}

type poolTx struct {
	Hash    chainhash.Hash `json:"hash"`
	Fee     int64          `json:"fee"`
	Size    int            `json:"size"`
	FeeRate float64        `json:"fee_rate"`
	Added   time.Time      `json:"added"`
	Tx      string         `json:"tx"`
}

type mineRequest struct {
	PkScript     string   `json:"pk_script" validate:"omitempty,hexadecimal"`
	Transactions []string `json:"transactions" validate:"dive,hexadecimal"`
}

// =============================================================================

func toLink(l database.Link) link {
	txs := l.Block.Transactions()

	hashes := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}

	return link{
		Hash:            l.Hash(),
		Height:          l.Height,
		State:           l.State.String(),
		TotalDifficulty: l.TotalDifficulty.String(),
		Header: header{
			Version:    l.Block.Header.Version,
			PrevHash:   l.Block.Header.PrevBlockHash,
			MerkleRoot: l.Block.Header.MerkleRoot,
			Timestamp:  l.Block.Header.Timestamp,
			Bits:       fmt.Sprintf("%08x", l.Block.Header.Bits),
			Nonce:      l.Block.Header.Nonce,
		},
		Transactions: hashes,
	}
}

func toPoolTx(e mempool.Entry) poolTx {
	var rate float64
	if e.Size > 0 {
		rate = float64(e.Fee) / float64(e.Size)
	}

	return poolTx{
		Hash:    e.Hash(),
		Fee:     e.Fee,
		Size:    e.Size,
		FeeRate: rate,
		Added:   e.Added,
		Tx:      hexutil.Encode(e.Tx.Bytes()),
	}
}

func toLinks(links []database.Link) []link {
	out := make([]link, len(links))
	for i, l := range links {
		out[i] = toLink(l)
	}
	return out
}

func toResult(r state.Result) result {
	connected := make([]chainhash.Hash, len(r.Connected))
	for i, l := range r.Connected {
		connected[i] = l.Hash()
	}

	return result{
		Status:      r.Status.String(),
		Link:        toLink(r.Link),
		Head:        toLink(r.Head),
		HeadChanged: r.HeadChanged,
		Connected:   connected,
		Removed:     r.Removed,
	}
}
