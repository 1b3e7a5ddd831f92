// heimdalld runs the rewriter standalone: it connects to the host
// database, initializes the orchestrator from configuration, and serves
// the admin endpoint. The in-process host integration uses the optimizer
// package directly instead.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/guileen/heimdall/admin"
	"github.com/guileen/heimdall/config"
	"github.com/guileen/heimdall/history"
	"github.com/guileen/heimdall/hostdb"
	"github.com/guileen/heimdall/logger"
	"github.com/guileen/heimdall/optimizer"
)

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Error("load configuration", logger.ErrorField(err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.HostDSN == "" {
		logger.Error("host DSN is required (HEIMDALL_HOST_DSN or host_dsn)")
		os.Exit(1)
	}

	ctx := context.Background()
	session, err := hostdb.Connect(ctx, cfg.HostDSN)
	if err != nil {
		logger.Error("connect host database", logger.ErrorField(err))
		os.Exit(1)
	}
	defer session.Close()

	var recorder optimizer.HistoryRecorder
	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			logger.Error("open history store", logger.ErrorField(err))
			os.Exit(1)
		}
		defer store.Close()
		recorder = store
	}

	orchestrator, err := optimizer.Init(cfg,
		hostdb.NewCostEstimator(session),
		hostdb.NewSchemaProvider(session),
		recorder)
	if err != nil {
		logger.Error("initialize orchestrator", logger.ErrorField(err))
		os.Exit(1)
	}

	addr := cfg.AdminAddr
	if addr == "" {
		addr = ":8080"
	}
	if err := admin.NewServer(orchestrator).ListenAndServe(addr); err != nil {
		logger.Error("admin server exited", logger.ErrorField(err))
		os.Exit(1)
	}
}
