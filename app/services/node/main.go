package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/btcnode/app/services/node/handlers"
	"github.com/ardanlabs/btcnode/business/sys/metrics"
	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/btcnode/foundation/blockchain/signature"
	"github.com/ardanlabs/btcnode/foundation/blockchain/state"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/btcnode/foundation/blockchain/verifier"
	"github.com/ardanlabs/btcnode/foundation/blockchain/worker"
	"github.com/ardanlabs/btcnode/foundation/events"
	"github.com/ardanlabs/btcnode/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			CORSOrigins     []string      `conf:"default:*"`
		}
		Chain struct {
			Network        string        `conf:"default:regtest"`
			GenesisFile    string        `conf:"help:genesis file that replaces the network parameters"`
			DBPath         string        `conf:"default:zblock/chain.db"`
			Verifier       string        `conf:"default:parallel,help:serial or parallel"`
			VerifyLimit    int           `conf:"default:0,help:parallel checks where 0 uses GOMAXPROCS"`
			SigCacheTTL    time.Duration `conf:"default:10m"`
			MinerPkScript  string        `conf:"default:0x51,help:lock script paid by mined coinbases"`
			Mining         bool          `conf:"default:false,help:mine the mempool in the background"`
			SelectStrategy string        `conf:"default:tip,help:mempool ordering tip or fifo"`
			MaxOrphans     int           `conf:"default:100,help:blocks held without a parent before the oldest is dropped"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "bitcoin full node core",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// The genesis file wins over the named network so a private chain can be
	// started without code changes.
	gen, err := genesis.Network(cfg.Chain.Network)
	if cfg.Chain.GenesisFile != "" {
		gen, err = genesis.Load(cfg.Chain.GenesisFile)
	}
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	minerPkScript, err := hexutil.Decode(cfg.Chain.MinerPkScript)
	if err != nil {
		return fmt.Errorf("miner pk script: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The disk storage keeps every link of the block tree in a bolt file.
	storage, err := disk.New(cfg.Chain.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// Signatures that verified once are remembered so a block seen again on
	// another branch does not pay for them twice.
	sigVerifier := signature.NewCachedVerifier(signature.Secp256k1{}, cfg.Chain.SigCacheTTL, 2*cfg.Chain.SigCacheTTL)

	vcfg := verifier.Config{
		Storage:          storage,
		SigVerifier:      sigVerifier,
		CoinbaseMaturity: gen.CoinbaseMaturity,
		EvHandler:        ev,
	}

	var vrf verifier.Verifier
	switch cfg.Chain.Verifier {
	case "serial":
		vrf = verifier.NewSerial(vcfg)
	case "parallel":
		vrf = verifier.NewParallel(vcfg, cfg.Chain.VerifyLimit)
	default:
		storage.Close()
		return fmt.Errorf("unknown verifier %q", cfg.Chain.Verifier)
	}

	// The state value represents the blockchain node and manages the block
	// tree and provides an API for application support.
	state, err := state.New(state.Config{
		Storage:        storage,
		Genesis:        gen,
		Verifier:       vrf,
		SelectStrategy: cfg.Chain.SelectStrategy,
		MaxOrphans:     cfg.Chain.MaxOrphans,
		EvHandler:      ev,
		HeadHandler: func(head database.Link) {
			metrics.SetHeadHeight(head.Height)
		},
	})
	if err != nil {
		storage.Close()
		return err
	}
	defer state.Shutdown()

	head, err := state.RetrieveHead()
	if err != nil {
		return err
	}
	metrics.SetHeadHeight(head.Height)

	// The worker package implements the different workflows such as mining.
	// This function registers the worker with the state package.
	if cfg.Chain.Mining {
		worker.Run(state, minerPkScript, ev)
		log.Infow("startup", "status", "mining started", "pkscript", cfg.Chain.MinerPkScript)
	}

	log.Infow("startup", "status", "chain loaded", "network", gen.Network, "head", head.Hash(), "height", head.Height, "difficulty", head.TotalDifficulty)

	complexityVer, scriptVer := database.ExceptionTableVersions()
	log.Infow("startup", "status", "exception tables", "complexity", complexityVer, "script", scriptVer)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, state)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    state,
		Evts:     evts,

		MinerPkScript: minerPkScript,
		CORSOrigins:   cfg.Web.CORSOrigins,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
