// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/btcnode/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/btcnode/foundation/blockchain/state"
	"github.com/ardanlabs/btcnode/foundation/events"
	"github.com/ardanlabs/btcnode/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log           *zap.SugaredLogger
	State         *state.State
	Evts          *events.Events
	MinerPkScript []byte
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:           cfg.Log,
		State:         cfg.State,
		WS:            websocket.Upgrader{},
		Evts:          cfg.Evts,
		MinerPkScript: cfg.MinerPkScript,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/chain/head", pbl.Head)
	app.Handle(http.MethodGet, version, "/chain/locator", pbl.Locator)
	app.Handle(http.MethodGet, version, "/chain/links/:hash", pbl.Link)
	app.Handle(http.MethodGet, version, "/chain/links/:hash/next", pbl.NextLinks)
	app.Handle(http.MethodGet, version, "/chain/blocks/:hash", pbl.RawBlock)
	app.Handle(http.MethodPost, version, "/chain/blocks", pbl.SubmitBlock)
	app.Handle(http.MethodPost, version, "/chain/mine", pbl.Mine)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTx)
	app.Handle(http.MethodGet, version, "/tx/mempool", pbl.Mempool)
}
