package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/internal/setup"
	"github.com/mikhailv/syncslides/internal/stream"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
	"github.com/mikhailv/syncslides/syncslides/internal/db"
	"github.com/mikhailv/syncslides/syncslides/internal/discovery"
	"github.com/mikhailv/syncslides/syncslides/internal/projection"
	"github.com/mikhailv/syncslides/syncslides/internal/server"
	"github.com/mikhailv/syncslides/syncslides/internal/storage"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

const loopQueueSize = 1024

func main() {
	ctx := setup.ListenStopSignal(context.Background())

	configFile := flag.String("config", "", "config file path, built-in defaults when empty")
	pprofAddr := flag.String("pprof", "", "pprof handler address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v", err)
		os.Exit(1)
	}

	logger, logStream, closeLog, err := setupLogger(*debug, cfg.LogFile, cfg.History.LogSize)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to setup logger: %v", err)
		os.Exit(1)
	}
	defer closeLog()
	logger.Info("starting", "device_id", cfg.DeviceID, "storage", cfg.Storage.Driver, "discovery", cfg.Discovery.Driver)

	setup.Pprof(ctx, *pprofAddr, logger)

	store, err := storage.Open(cfg.Storage, log.WithPrefix(logger, "storage"))
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(1) //nolint:gocritic // closeLog only releases the file
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "err", err)
		}
	}()

	loop := projection.NewLoop(loopQueueSize)
	go loop.Run(ctx)

	database := db.New(store, loop, cfg.Timeouts.SessionRead, logger)

	network := newDiscovery(cfg.Discovery, log.WithPrefix(logger, "discovery"))
	dialer := discovery.NewMDNSDialer(cfg.Discovery.MDNSAddr, cfg.Discovery.FetchTimeout)
	defer func() { _ = dialer.Close() }()

	scanner := discovery.NewScanner(network, discovery.NewInfoClient(cfg.Discovery.FetchTimeout, dialer), cfg.Discovery, cfg.DeviceID, logger)
	presentations := projection.New[types.PresentationAd](loop, scanner,
		projection.WithName("presentations"),
		projection.WithLogger(log.WithPrefix(logger, "projection")),
		projection.WithArrivalOrder(),
	)
	advertiser := discovery.NewAdvertiser(network, cfg.Discovery, cfg.DeviceID, logger)

	presenter := types.Person{ID: cfg.Presenter.ID, Name: cfg.Presenter.Name}
	httpServer := server.NewHTTPServer(cfg.Addr, log.WithPrefix(logger, "http"), loop, database, presentations, advertiser, presenter, logStream)
	go httpServer.Serve(ctx)

	<-ctx.Done()
}

func loadConfig(file string) (*config.Config, error) {
	if file == "" {
		return config.DefaultConfig()
	}
	return config.LoadConfig(file)
}

func setupLogger(debug bool, file string, historySize int) (*slog.Logger, *stream.Buffered[log.Entry], func(), error) {
	var recorder log.Recorder
	logger, closeFn, err := setup.Logger(debug, file, func(handler slog.Handler) slog.Handler {
		recorder = log.NewRecorder(handler, historySize)
		return recorder
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return logger, recorder.Stream(), closeFn, nil
}

func newDiscovery(cfg config.Discovery, logger *slog.Logger) discovery.Discovery {
	if cfg.Driver == config.DiscoveryNone {
		logger.Warn("network discovery disabled, presentations are only visible on this node")
		return discovery.NewLocalNetwork()
	}
	return discovery.NewZeroconf(cfg, logger)
}
