// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/btcnode/business/sys/metrics"
	"github.com/ardanlabs/btcnode/business/sys/validate"
	"github.com/ardanlabs/btcnode/business/web/errs"
	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/btcnode/foundation/blockchain/state"
	"github.com/ardanlabs/btcnode/foundation/events"
	"github.com/ardanlabs/btcnode/foundation/web"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of chain endpoints.
type Handlers struct {
	Log           *zap.SugaredLogger
	State         *state.State
	WS            websocket.Upgrader
	Evts          *events.Events
	MinerPkScript []byte
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the chain parameters the node runs with.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Head returns the tip of the chain with the most work.
func (h Handlers) Head(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	head, err := h.State.RetrieveHead()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toLink(head), http.StatusOK)
}

// Locator returns the block locator for the head.
func (h Handlers) Locator(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hashes, err := h.State.QueryLocator()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, hashes, http.StatusOK)
}

// Link returns the stored link for a block hash.
func (h Handlers) Link(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	l, err := h.queryLink(r)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toLink(l), http.StatusOK)
}

// NextLinks returns the stored children of a block hash.
func (h Handlers) NextLinks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := paramHash(r)
	if err != nil {
		return err
	}

	links, err := h.State.QueryNextLinks(hash)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toLinks(links), http.StatusOK)
}

// RawBlock returns the wire form of a stored block.
func (h Handlers) RawBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	l, err := h.queryLink(r)
	if err != nil {
		return err
	}

	raw := rawBlock{
		Hash:  l.Hash(),
		Block: hexutil.Encode(l.Block.Bytes()),
	}

	return web.Respond(ctx, w, raw, http.StatusOK)
}

// SubmitBlock hands a block in wire form to the node.
func (h Handlers) SubmitBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var sb submitBlock
	if err := web.Decode(r, &sb); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(sb); err != nil {
		return err
	}

	b, err := hexutil.Decode(sb.Block)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("block: %w", err), http.StatusBadRequest)
	}

	block, err := database.ParseBlock(b)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("block: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit block", "traceid", v.TraceID, "hash", block.Hash(), "prev", block.Header.PrevBlockHash, "numTrans", len(block.Transactions()))

	res, err := h.State.AddBlock(ctx, block)
	if err != nil {
		metrics.AddBlock("rejected")
		return err
	}

	record(res)

	return web.Respond(ctx, w, toResult(res), http.StatusOK)
}

// SubmitTx hands a transaction in wire form to the mempool.
func (h Handlers) SubmitTx(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var st submitTx
	if err := web.Decode(r, &st); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(st); err != nil {
		return err
	}

	b, err := hexutil.Decode(st.Tx)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("tx: %w", err), http.StatusBadRequest)
	}

	tx, err := database.ParseTx(b)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("tx: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit tx", "traceid", v.TraceID, "hash", tx.Hash(), "inputs", len(tx.Inputs()), "outputs", len(tx.Outputs()))

	fee, err := h.State.SubmitTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, mempool.ErrConflict) || errors.Is(err, state.ErrCoinbaseTx) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}

	resp := txAccepted{
		Hash: tx.Hash(),
		Fee:  fee,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of transactions in the mempool in the order they
// would be mined.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entries := h.State.RetrieveMempool()

	txs := make([]poolTx, len(entries))
	for i, e := range entries {
		txs[i] = toPoolTx(e)
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Mine solves a block on the head paying to the requested or configured
// lock script.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var mr mineRequest
	if err := web.Decode(r, &mr); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(mr); err != nil {
		return err
	}

	pkScript := h.MinerPkScript
	if mr.PkScript != "" {
		if pkScript, err = hexutil.Decode(mr.PkScript); err != nil {
			return errs.NewTrusted(fmt.Errorf("pk_script: %w", err), http.StatusBadRequest)
		}
	}

	// Without transactions in the request the block is filled from the
	// mempool.
	var txs []*database.Tx
	if len(mr.Transactions) > 0 {
		txs = make([]*database.Tx, len(mr.Transactions))
	}
	for i, s := range mr.Transactions {
		b, err := hexutil.Decode(s)
		if err != nil {
			return errs.NewTrusted(fmt.Errorf("transaction %d: %w", i, err), http.StatusBadRequest)
		}

		if txs[i], err = database.ParseTx(b); err != nil {
			return errs.NewTrusted(fmt.Errorf("transaction %d: %w", i, err), http.StatusBadRequest)
		}
	}

	h.Log.Infow("mine block", "traceid", v.TraceID, "numTrans", len(txs))

	res, err := h.State.MineNewBlock(ctx, pkScript, txs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		}
		return err
	}

	record(res)

	return web.Respond(ctx, w, toResult(res), http.StatusOK)
}

// =============================================================================

func (h Handlers) queryLink(r *http.Request) (database.Link, error) {
	hash, err := paramHash(r)
	if err != nil {
		return database.Link{}, err
	}

	l, err := h.State.QueryLink(hash)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return database.Link{}, errs.NewTrusted(err, http.StatusNotFound)
		}
		return database.Link{}, err
	}

	return l, nil
}

func paramHash(r *http.Request) (chainhash.Hash, error) {
	hash, err := chainhash.NewHashFromStr(web.Param(r, "hash"))
	if err != nil {
		return chainhash.Hash{}, errs.NewTrusted(fmt.Errorf("hash: %w", err), http.StatusBadRequest)
	}
	return *hash, nil
}

func record(res state.Result) {
	metrics.AddBlock(res.Status.String())
}
