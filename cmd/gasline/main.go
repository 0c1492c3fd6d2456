package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gasline/gasline/internal/config"
	"github.com/gasline/gasline/internal/logger"
	"github.com/gasline/gasline/pkg/balance"
	"github.com/gasline/gasline/pkg/funding"
	"github.com/gasline/gasline/pkg/gas"
	"github.com/gasline/gasline/pkg/holdings"
	"github.com/gasline/gasline/pkg/price"
	"github.com/gasline/gasline/pkg/proxy"
	"github.com/gasline/gasline/pkg/upstream"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		host        = flag.String("host", "", "Proxy server host")
		port        = flag.Int("port", 0, "Proxy server port")
		endpoints   = flag.String("upstream", "", "Comma-separated upstream RPC endpoint URLs")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("gasline version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	// Flags override both file and environment, translated through env
	// vars so config.Load stays the single merge point.
	applyFlagEnv("GASLINE_HOST", *host)
	if *port != 0 {
		applyFlagEnv("GASLINE_PORT", fmt.Sprintf("%d", *port))
	}
	applyFlagEnv("GASLINE_UPSTREAM_ENDPOINTS", *endpoints)
	applyFlagEnv("GASLINE_LOG_LEVEL", *logLevel)
	applyFlagEnv("GASLINE_LOG_FORMAT", *logFormat)

	// Load configuration
	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting gasline proxy",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("chain", cfg.Chain.Name),
		zap.Strings("upstream_endpoints", cfg.Upstream.Endpoints),
		zap.String("funding_mode", string(cfg.Funding.Mode)),
		zap.Int("watched_approvals", len(cfg.Watched)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Upstream router with health-aware failover
	router, err := upstream.NewRouter(&cfg.Upstream, log)
	if err != nil {
		log.Fatal("Failed to create upstream router", zap.Error(err))
	}
	log.Info("Upstream router initialized",
		zap.Int("endpoints", len(cfg.Upstream.Endpoints)),
	)

	// Native-token price cache (optional; USD costs only)
	var priceCache *price.Cache
	var priceSource gas.PriceSource
	if cfg.Price.URL != "" {
		feed := price.NewHTTPFeed(cfg.Price.URL, log)
		priceCache = price.NewCache(feed, cfg.Price.RefreshInterval, log)
		priceCache.Start(ctx)
		defer priceCache.Stop()
		priceSource = priceCache
		log.Info("Price cache started",
			zap.Duration("refresh_interval", cfg.Price.RefreshInterval),
		)
	} else {
		log.Info("No price feed configured, USD costs disabled")
	}

	// Gas estimator and balance oracle share the router
	estimator := gas.NewEstimator(router, priceSource, log)
	oracle := balance.NewOracle(router, log)

	// Out-of-band funding dispatcher
	dispatcher := funding.NewDispatcher(&cfg.Funding, log)
	if cfg.Funding.APIURL == "" {
		log.Warn("No funding API configured, held transactions rely on external deposits")
	}

	// Held-transaction registry
	registry, err := holdings.NewRegistry(&cfg.Holdings, router, oracle, log)
	if err != nil {
		log.Fatal("Failed to create holdings registry", zap.Error(err))
	}
	registry.Start(ctx)
	defer registry.Stop()

	// HTTP server with the intercepting pipeline
	handler := proxy.NewHandler(router, estimator, oracle, dispatcher, registry, cfg.Watched, log)
	server, err := proxy.NewServer(&cfg.Server, log, handler, registry, router)
	if err != nil {
		log.Fatal("Failed to create proxy server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	log.Info("Proxy server started",
		zap.String("address", cfg.Server.Address()),
	)

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Error("Proxy server failed", zap.Error(err))
		}
	}

	log.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop proxy server gracefully", zap.Error(err))
	}

	// Give in-flight pollers a moment to settle before the deferred
	// registry stop force-cancels them.
	time.Sleep(time.Second)

	log.Info("Gasline stopped")
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func applyFlagEnv(key, value string) {
	if value != "" {
		os.Setenv(key, value)
	}
}
