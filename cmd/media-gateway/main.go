package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/common/config"
	"github.com/mediagate/gateway/internal/common/logger"
	"github.com/mediagate/gateway/internal/common/metricsserver"
	"github.com/mediagate/gateway/internal/common/tlsutil"
	"github.com/mediagate/gateway/internal/gateway/cache"
	"github.com/mediagate/gateway/internal/gateway/events"
	"github.com/mediagate/gateway/internal/gateway/metrics"
	"github.com/mediagate/gateway/internal/gateway/provider"
	"github.com/mediagate/gateway/internal/gateway/ratelimit"
	"github.com/mediagate/gateway/internal/gateway/server"
	"github.com/mediagate/gateway/internal/gateway/upstream"
	"github.com/mediagate/gateway/internal/gateway/validate"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "configs/media-gateway.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	// If test mode, run validation
	if *testMode {
		var testURL string
		if flag.NArg() > 0 {
			testURL = flag.Arg(0)
		}
		exitCode := runConfigTest(*configPath, testURL)
		os.Exit(exitCode)
	}

	// Create initial logger for startup
	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Media Gateway", zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Reconfigure logger based on config settings
	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	// Add gateway ID to all logs
	gwLogger := dynamicLogger.With(zap.String("gw", cfg.GatewayID))

	// Initialize core services
	urlValidator := validate.NewValidator(cfg.Validation)
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, gwLogger)

	providerClient := provider.NewClient(
		cfg.Upstream.BaseURL,
		time.Duration(cfg.Upstream.RequestTimeout),
		gwLogger,
	)
	extractor := upstream.New(
		providerClient,
		cfg.Upstream.MaxAttempts,
		time.Duration(cfg.Upstream.BaseDelay),
		time.Duration(cfg.Upstream.HealthProbeWindow),
		gwLogger,
	).WithRecorder(metricsCollector)

	// Metadata cache is optional; the gateway degrades to pass-through
	// extraction when it is absent or Redis is unreachable at runtime.
	var metadataCache server.MetadataCache
	var cacheCloser interface{ Close() error }
	if cfg.Cache != nil && cfg.Cache.Enabled {
		mc, err := cache.New(cfg.Cache, gwLogger)
		if err != nil {
			gwLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		metadataCache = mc
		cacheCloser = mc
		gwLogger.Info("Metadata cache initialized", zap.String("addr", cfg.Cache.Redis.Addr))
	}

	// Start metrics server if enabled
	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		gwLogger,
	)
	if err != nil {
		gwLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	// Initialize event emitter
	var eventEmitter events.EventEmitter
	if cfg.EventLogging != nil && cfg.EventLogging.File.Enabled {
		fileEmitter, err := events.NewFileEmitter(cfg.EventLogging.File, gwLogger)
		if err != nil {
			gwLogger.Fatal("failed to create file emitter", zap.Error(err))
		}
		eventEmitter = fileEmitter
		gwLogger.Info("Event logging initialized",
			zap.String("path", cfg.EventLogging.File.Path))
	}

	// Initialize rate-limit bucket sweeper
	sweepMetrics := ratelimit.NewSweepMetrics(cfg.Metrics.Namespace)
	sweepWorker := ratelimit.NewSweepWorker(
		limiter,
		time.Duration(cfg.RateLimit.SweepInterval),
		gwLogger,
		sweepMetrics,
	)
	sweepWorker.Start()

	// Create public server with pre-built services
	srv := server.NewServer(
		cfg,
		gwLogger,
		urlValidator,
		limiter,
		extractor,
		metadataCache,
		metricsCollector,
		eventEmitter,
	)

	// Create TLS listener before starting public servers to fail fast
	var tlsListener net.Listener
	if cfg.Server.TLS.Enabled {
		configDir := filepath.Dir(*configPath)
		certPath := cfg.Server.TLS.CertFile
		keyPath := cfg.Server.TLS.KeyFile
		if !filepath.IsAbs(certPath) {
			certPath = filepath.Join(configDir, certPath)
		}
		if !filepath.IsAbs(keyPath) {
			keyPath = filepath.Join(configDir, keyPath)
		}

		var err error
		tlsListener, err = tlsutil.NewListener(cfg.Server.TLS.Listen, certPath, keyPath)
		if err != nil {
			gwLogger.Fatal("Failed to create TLS listener", zap.Error(err))
		}
	}

	// Channel for server startup errors
	serverErrors := make(chan error, 2)

	// Create and start HTTP server
	httpLifecycle := &serverLifecycle{
		server:  newFastHTTPServer(srv.HandleRequest, time.Duration(cfg.Server.Timeout), cfg.Server.MaxBodySize),
		name:    "HTTP",
		address: cfg.Server.Listen,
		logger:  gwLogger,
	}
	httpLifecycle.StartWithErrorChan(serverErrors)

	// Create and start HTTPS server if TLS is enabled
	var httpsLifecycle *serverLifecycle
	if cfg.Server.TLS.Enabled {
		httpsLifecycle = &serverLifecycle{
			server:   newFastHTTPServer(srv.HandleRequest, time.Duration(cfg.Server.Timeout), cfg.Server.MaxBodySize),
			listener: tlsListener,
			name:     "HTTPS",
			address:  cfg.Server.TLS.Listen,
			logger:   gwLogger,
		}
		httpsLifecycle.StartWithErrorChan(serverErrors)
	}

	// Wait briefly for servers to start and check for immediate failures
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		gwLogger.Fatal("Server failed to start", zap.Error(err))
	default:
		// Servers started successfully
	}

	if cfg.Server.TLS.Enabled {
		gwLogger.Info("Media Gateway started",
			zap.String("http_addr", cfg.Server.Listen),
			zap.String("https_addr", cfg.Server.TLS.Listen))
	} else {
		gwLogger.Info("Media Gateway started", zap.String("http_addr", cfg.Server.Listen))
	}

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		gwLogger.Info("Shutting down Media Gateway...")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		gwLogger.Error("Server startup failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown rate-limit sweeper
	gwLogger.Info("Shutting down rate-limit sweeper")
	sweepWorker.Shutdown()

	// Shutdown metrics server
	if metricsServer != nil {
		gwLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			gwLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// Shutdown public servers in parallel
	var wg sync.WaitGroup
	wg.Add(1)
	if httpsLifecycle != nil {
		wg.Add(1)
	}
	go func() {
		defer wg.Done()
		httpLifecycle.Shutdown(shutdownCtx)
	}()
	if httpsLifecycle != nil {
		go func() {
			defer wg.Done()
			httpsLifecycle.Shutdown(shutdownCtx)
		}()
	}
	wg.Wait()
	gwLogger.Info("Public servers shutdown complete")

	// Flush the access log
	if err := srv.Shutdown(); err != nil {
		gwLogger.Error("Failed to close event emitter", zap.Error(err))
	}

	// Close the cache connection
	if cacheCloser != nil {
		if err := cacheCloser.Close(); err != nil {
			gwLogger.Error("Failed to close metadata cache", zap.Error(err))
		}
	}

	gwLogger.Info("Media Gateway stopped")
}

const serverName = "MediaGateway/1.0"

func newFastHTTPServer(handler fasthttp.RequestHandler, timeout time.Duration, maxBodySize int) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                      handler,
		Name:                         serverName,
		ReadTimeout:                  timeout,
		WriteTimeout:                 timeout,
		IdleTimeout:                  timeout,
		MaxRequestBodySize:           maxBodySize,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
	}
}

type serverLifecycle struct {
	server   *fasthttp.Server
	listener net.Listener // nil for HTTP (uses ListenAndServe), set for HTTPS
	name     string
	address  string
	logger   *zap.Logger
}

func (s *serverLifecycle) StartWithErrorChan(errChan chan<- error) {
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe(s.address)
		}
		if err != nil {
			s.logger.Error("Server error", zap.String("name", s.name), zap.Error(err))
			if errChan != nil {
				errChan <- fmt.Errorf("%s server failed: %w", s.name, err)
			}
		}
	}()
	s.logger.Info("Server started", zap.String("name", s.name), zap.String("address", s.address))
}

func (s *serverLifecycle) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server", zap.String("name", s.name))
	err := s.server.ShutdownWithContext(ctx)
	if err != nil {
		s.logger.Error("Server shutdown error", zap.String("name", s.name), zap.Error(err))
	}
	return err
}

// runConfigTest validates the configuration file and optionally runs a
// candidate URL through the validation pipeline.
func runConfigTest(configPath string, testURL string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		return 1
	}

	fmt.Printf("configuration file %s syntax is ok\n", configPath)
	fmt.Println("configuration test is successful")

	if testURL != "" {
		fmt.Println()
		v := validate.NewValidator(cfg.Validation)
		target, err := v.Validate(context.Background(), testURL)
		if err != nil {
			var ve *validate.Error
			if errors.As(err, &ve) {
				fmt.Printf("URL rejected (%s): %s\n", ve.Kind, ve.Message)
			} else {
				fmt.Printf("URL rejected: %v\n", err)
			}
			return 1
		}
		fmt.Printf("URL accepted\n")
		fmt.Printf("  sanitized: %s\n", target.SanitizedURL)
		fmt.Printf("  hostname:  %s\n", target.Hostname)
		if target.VideoID != "" {
			fmt.Printf("  video id:  %s\n", target.VideoID)
		}
	}

	return 0
}
