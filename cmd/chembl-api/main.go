package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/chembl-sql/internal/bootstrap"
	"github.com/malbeclabs/chembl-sql/pkg/logger"
	"github.com/malbeclabs/chembl-sql/pkg/metrics"
	"github.com/malbeclabs/chembl-sql/pkg/pipeline"
	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/malbeclabs/chembl-sql/pkg/server"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr        = ":8080"
	defaultMetricsAddr       = ":9090"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (or set METRICS_ADDR env var)")
	readHeaderTimeoutFlag := flag.Duration("read-header-timeout", defaultReadHeaderTimeout, "HTTP read header timeout")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", defaultShutdownTimeout, "Server shutdown timeout")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS allowed origins (default any)")

	sqlitePathFlag := flag.String("sqlite-path", sqlexec.DefaultPath, "Path to the ChEMBL SQLite file (or set CHEMBL_SQLITE_PATH env var)")
	indexPathFlag := flag.String("index-path", schema.DefaultIndexPath, "Path to the schema embedding index (or set CHEMBL_INDEX_PATH env var)")
	anthropicModelFlag := flag.String("anthropic-model", "", "Anthropic model (or set ANTHROPIC_MODEL env var)")
	ollamaURLFlag := flag.String("ollama-url", "", "Ollama base URL, used when no Anthropic key is set (or set OLLAMA_URL env var)")
	ollamaModelFlag := flag.String("ollama-model", "", "Ollama model (or set OLLAMA_MODEL env var)")
	embeddingModelFlag := flag.String("embedding-model", schema.DefaultEmbeddingModel, "Gemini embedding model (or set EMBEDDING_MODEL env var)")
	timeoutFlag := flag.Duration("timeout", 0, "Soft pipeline budget, 0 disables (or set CHEMBL_PIPELINE_TIMEOUT_S env var)")
	topKFlag := flag.Int("top-k", schema.DefaultTopK, "Number of schema tables retrieved per question")
	sessionTTLFlag := flag.Duration("session-ttl", 0, "Evict sessions idle for this long, 0 keeps them (or set SESSION_TTL env var)")

	flag.Parse()

	// Override flags with environment variables if set
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		*metricsAddrFlag = v
	}
	if v := os.Getenv(sqlexec.DefaultPathEnv); v != "" {
		*sqlitePathFlag = v
	}
	if v := os.Getenv(schema.DefaultIndexPathEnv); v != "" {
		*indexPathFlag = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		*anthropicModelFlag = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		*ollamaURLFlag = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		*ollamaModelFlag = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		*embeddingModelFlag = v
	}
	if d := pipeline.TimeoutFromEnv(); d > 0 {
		*timeoutFlag = d
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL %q: %w", v, err)
		}
		*sessionTTLFlag = d
	}

	log := logger.New(*verboseFlag)

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	app, err := bootstrap.New(ctx, log, bootstrap.Options{
		SQLitePath:      *sqlitePathFlag,
		IndexPath:       *indexPathFlag,
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  *anthropicModelFlag,
		OllamaURL:       *ollamaURLFlag,
		OllamaModel:     *ollamaModelFlag,
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		EmbeddingModel:  *embeddingModelFlag,
		Timeout:         *timeoutFlag,
		TopK:            *topKFlag,
		SessionTTL:      *sessionTTLFlag,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("failed to close components", "error", err)
		}
	}()

	listener, err := net.Listen("tcp", *listenAddrFlag)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	defer listener.Close()

	srv, err := server.New(server.Config{
		Logger:            log,
		Listener:          listener,
		Pipeline:          app.Pipeline,
		Credentials:       app.Registry,
		AllowedOrigins:    *allowedOriginsFlag,
		ReadHeaderTimeout: *readHeaderTimeoutFlag,
		ShutdownTimeout:   *shutdownTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return <-serverErrCh
	case err := <-serverErrCh:
		if err != nil {
			log.Error("server: server error causing shutdown", "error", err)
		}
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}
