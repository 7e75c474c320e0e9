package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	marketconfig "vaultledger/config"
	"vaultledger/gateway/middleware"
	ledger "vaultledger/native/lending"
	"vaultledger/observability/logging"
	telemetry "vaultledger/observability/otel"
	vaultdconfig "vaultledger/services/lending/config"
	"vaultledger/services/lending/server"
	statestore "vaultledger/state/lending"
	"vaultledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to vaultd YAML config (defaults apply when empty)")
	flag.Parse()

	cfg, err := vaultdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("vaultd: %v", err)
	}
}

func run(cfg vaultdconfig.Config) error {
	logger := logging.SetupWithOptions("vaultd", cfg.Environment, logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	logger.Info("configuration loaded", slog.Any("config", cfg.Sanitized()))

	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	market, err := loadMarket(cfg.MarketConfig)
	if err != nil {
		return err
	}
	feed, err := market.NewFeed()
	if err != nil {
		return fmt.Errorf("price feed: %w", err)
	}

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := statestore.NewStore(db)
	if err != nil {
		return fmt.Errorf("open ledger state: %w", err)
	}

	engine := ledger.NewEngine(market.Params)
	engine.SetState(store)
	engine.SetOracle(feed)
	engine.SetLogger(logger.With(slog.String("component", "engine")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Bootstrap(ctx, engine, market, logger); err != nil {
		return err
	}

	var cors *middleware.CORSConfig
	if len(cfg.CORS.AllowedOrigins) > 0 {
		cors = &cfg.CORS
	}
	srv, err := server.New(server.Options{
		Engine:  engine,
		Feed:    feed,
		Market:  market,
		Logger:  logger,
		Auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		Limiter: middleware.NewRateLimiter(cfg.RateLimits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Module:      "lending",
			LogRequests: cfg.LogRequests,
			Enabled:     true,
		}, logger),
		CORS:   cors,
		Faucet: cfg.FaucetEnabled,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Timeouts.ReadHeader.Duration,
		ReadTimeout:       cfg.Timeouts.Read.Duration,
		WriteTimeout:      cfg.Timeouts.Write.Duration,
		IdleTimeout:       cfg.Timeouts.Idle.Duration,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		listener = tls.NewListener(listener, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		})
	} else {
		logger.Warn("serving without TLS")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("vaultd listening",
			slog.String("addr", listener.Addr().String()),
			slog.Bool("tls", cfg.TLS.Enabled()),
			slog.String("storage", cfg.Storage.Backend),
		)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown.Duration)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func loadMarket(path string) (*marketconfig.Market, error) {
	cfg, err := marketconfig.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load market config %s: %w", path, err)
	}
	market, err := cfg.Market()
	if err != nil {
		return nil, fmt.Errorf("resolve market config %s: %w", path, err)
	}
	return market, nil
}

func openDatabase(cfg vaultdconfig.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case vaultdconfig.BackendMemory:
		return storage.NewMemDB(), nil
	case vaultdconfig.BackendLevelDB:
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	case vaultdconfig.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"), nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
