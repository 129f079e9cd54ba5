// Command ordindexer indexes ordinal and inscription data from a Bitcoin
// Core-compatible node into a local bbolt-backed index, optionally
// mirroring inscription locations into a SQLite sink for downstream
// consumers: flag parsing with config-file fallback, signal-driven
// graceful shutdown, and a periodic status ticker.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ordconfig "github.com/ordindexer/ordindexer/internal/config"
	"github.com/ordindexer/ordindexer/internal/mirror"
	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordinal/fetcher"
	"github.com/ordindexer/ordindexer/internal/ordinal/store"
	"github.com/ordindexer/ordindexer/internal/ordinal/updater"
	"github.com/ordindexer/ordindexer/internal/ordlog"
	"github.com/ordindexer/ordindexer/internal/rpcclient"
	"github.com/ordindexer/ordindexer/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir                = flag.String("data-dir", "~/.ordindexer", "Data directory")
		indexPath              = flag.String("index", "", "Index file path (default: <data-dir>/index.bolt)")
		configFile             = flag.String("config", "", "Config file path; only its directory is used, and config.yaml is read from there (default: <data-dir>/config.yaml)")
		indexSats              = flag.Bool("index-sats", false, "Index sat ranges (roughly triples index size)")
		firstInscriptionHeight = flag.Uint64("first-inscription-height", 0, "Height at which inscription detection begins")
		heightLimit            = flag.Uint64("height-limit", 0, "Stop indexing once this height is reached (0 = follow tip)")
		mainnet                = flag.Bool("mainnet", true, "Run on mainnet")
		testnet                = flag.Bool("testnet", false, "Run on testnet")
		regtest                = flag.Bool("regtest", false, "Run on regtest")
		signet                 = flag.Bool("signet", false, "Run on signet")
		rpcURL                 = flag.String("rpc-url", "", "Node RPC URL, overrides config")
		rpcUser                = flag.String("rpc-user", "", "Node RPC username, overrides config")
		rpcPass                = flag.String("rpc-pass", "", "Node RPC password, overrides config")
		logLevel               = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		commitInterval         = flag.Uint64("commit-interval", 0, "Blocks per commit window, overrides config")
		commitBlocks           = flag.Duration("commit-blocks", 0, "Wall-clock budget per commit window, overrides config")
		mirrorDSN              = flag.String("mirror", "", "SQLite mirror DSN, overrides config")
		showVersion            = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("ordindexer %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	var cfgDir string
	if *configFile != "" {
		cfgDir = filepath.Dir(*configFile)
	} else {
		cfgDir = *dataDir
	}
	cfg, err := ordconfig.LoadConfig(cfgDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	cfg.DataDir = *dataDir
	if *indexPath != "" {
		cfg.IndexPath = *indexPath
	}
	if *indexSats {
		cfg.IndexSats = true
	}
	if *firstInscriptionHeight != 0 {
		cfg.FirstInscriptionHeight = *firstInscriptionHeight
	}
	if *heightLimit != 0 {
		cfg.HeightLimit = *heightLimit
	}
	switch {
	case *signet:
		cfg.Network = ordconfig.Signet
	case *regtest:
		cfg.Network = ordconfig.Regtest
	case *testnet:
		cfg.Network = ordconfig.Testnet
	case *mainnet:
		cfg.Network = ordconfig.Mainnet
	}
	if *rpcURL != "" {
		cfg.RPC.URL = *rpcURL
	}
	if *rpcUser != "" {
		cfg.RPC.User = *rpcUser
	}
	if *rpcPass != "" {
		cfg.RPC.Pass = *rpcPass
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *commitInterval != 0 {
		cfg.Commit.Interval = *commitInterval
	}
	if *commitBlocks != 0 {
		cfg.Commit.Timeout = *commitBlocks
	}
	if *mirrorDSN != "" {
		cfg.Mirror = *mirrorDSN
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", ordconfig.ConfigPath(cfgDir), "network", cfg.Network, "testnet", cfg.IsTestnet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.ResolvedIndexPath()), 0700); err != nil {
		log.Fatal("failed to create data directory", "error", err)
	}

	idx, err := store.Open(store.Config{
		Path:      cfg.ResolvedIndexPath(),
		IndexSats: cfg.IndexSats,
	})
	if err != nil {
		log.Fatal("failed to open index", "error", err)
	}
	defer idx.Close()
	log.Info("index opened", "path", idx.Path(), "index_sats", idx.IndexSats())

	client := rpcclient.New(rpcclient.Config{
		URL:     cfg.RPC.URL,
		User:    cfg.RPC.User,
		Pass:    cfg.RPC.Pass,
		Timeout: cfg.RPC.Timeout,
	})

	f := fetcher.New(fetcher.Config{
		Client: client,
		Logger: ordlog.For(ordlog.Fetcher),
	})

	var mirrorSink *mirror.Sink
	if cfg.Mirror != "" {
		mirrorSink, err = mirror.Open(mirror.Config{Path: cfg.Mirror, Logger: ordlog.For(ordlog.Mirror)})
		if err != nil {
			log.Fatal("failed to open mirror sink", "error", err)
		}
		defer mirrorSink.Close()
		log.Info("mirror sink opened", "path", mirrorSink.Path())
	}

	up := updater.New(updater.Config{
		Store:                  idx,
		Fetcher:                f,
		FirstInscriptionHeight: entry.Height(cfg.FirstInscriptionHeight),
		CommitInterval:         entry.Height(cfg.Commit.Interval),
		CommitTimeout:          cfg.Commit.Timeout,
		Mirror:                 mirrorSink,
		ChainParams:            cfg.Network.Params(),
		Progress: func(height, tip entry.Height, bytesWritten uint64) {
			log.Info("indexing progress", "height", height, "tip", tip, "bytes_written", bytesWritten)
		},
		Logger: ordlog.For(ordlog.Updater),
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := idx.Info()
				if err != nil {
					log.Warn("status tick failed", "error", err)
					continue
				}
				log.Info("status", "height", count.TableCounts["HEIGHT_TO_BLOCK_HASH"], "file_size", count.FileSize)
			}
		}
	}()

	go runIndexLoop(ctx, log, up, client, cfg.HeightLimit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")
	cancel()
	log.Info("goodbye")
}

// runIndexLoop polls the node for its current tip and drives the updater
// to it, repeating once caught up, until ctx is cancelled or heightLimit
// (if nonzero) is reached.
func runIndexLoop(ctx context.Context, log *logging.Logger, up *updater.Updater, client *rpcclient.Client, heightLimit uint64) {
	for {
		if ctx.Err() != nil {
			return
		}

		count, err := client.BlockCount(ctx)
		if err != nil {
			log.Error("failed to query node tip", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
			continue
		}

		tip := entry.Height(count)
		if heightLimit != 0 && entry.Height(heightLimit) < tip {
			tip = entry.Height(heightLimit)
		}

		if err := up.IndexToTip(ctx, tip); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("indexing error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
			continue
		}

		if heightLimit != 0 && tip >= entry.Height(heightLimit) {
			log.Info("height limit reached", "height", tip)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}
