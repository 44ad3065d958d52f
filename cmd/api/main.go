package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/docutag/brandscan"
	"github.com/docutag/brandscan/api"
	"github.com/docutag/brandscan/cache"
	"github.com/docutag/brandscan/db"
	"github.com/docutag/brandscan/firecrawl"
	"github.com/docutag/brandscan/llm"
	"github.com/docutag/brandscan/metrics"
	"github.com/docutag/brandscan/storage"
	"github.com/docutag/brandscan/tracing"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, falling back on bad input
func getEnvInt(logger *slog.Logger, key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logger.Warn("invalid integer value, using default", "key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(logger *slog.Logger, key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration value, using default", "key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return d
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	logger.Info("brandscan service initializing", "version", "1.0.0")

	ctx := context.Background()

	tp, err := tracing.InitTracer(ctx, "brandscan", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	switch {
	case errors.Is(err, tracing.ErrNoEndpoint):
		logger.Info("tracing disabled, no OTLP endpoint configured")
	case err != nil:
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	default:
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	// Command-line flags (override environment variables)
	port := flag.String("port", getEnv("PORT", "8080"), "Server port")
	llmProvider := flag.String("llm-provider", getEnv("LLM_PROVIDER", llm.ProviderOllama), "Language model backend (ollama, anthropic, openai)")
	llmModel := flag.String("llm-model", getEnv("LLM_MODEL", ""), "Model name (defaults per backend)")
	ollamaURL := flag.String("ollama-url", getEnv("OLLAMA_URL", llm.DefaultOllamaURL), "Ollama base URL")
	maxLLM := flag.Int("max-concurrent-llm", getEnvInt(logger, "MAX_CONCURRENT_LLM", 3), "Maximum concurrent language model calls")
	probeLogos := flag.Bool("probe-logos", getEnv("PROBE_LOGOS", "false") == "true", "Download logo candidates and reject tiny images")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	llmConfig := llm.Config{
		Provider: *llmProvider,
		Model:    *llmModel,
		BaseURL:  *ollamaURL,
		Timeout:  getEnvDuration(logger, "LLM_TIMEOUT", 60*time.Second),
	}
	switch *llmProvider {
	case "", llm.ProviderOllama:
		if llmConfig.Model == "" {
			llmConfig.Model = os.Getenv("OLLAMA_MODEL")
		}
	case llm.ProviderAnthropic:
		llmConfig.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		llmConfig.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
		if llmConfig.Model == "" {
			llmConfig.Model = os.Getenv("ANTHROPIC_MODEL")
		}
	case llm.ProviderOpenAI:
		llmConfig.APIKey = os.Getenv("OPENAI_API_KEY")
		llmConfig.BaseURL = os.Getenv("OPENAI_BASE_URL")
		if llmConfig.Model == "" {
			llmConfig.Model = os.Getenv("OPENAI_MODEL")
		}
	}
	model, err := llm.New(llmConfig)
	if err != nil {
		logger.Error("failed to create language model client", "error", err)
		os.Exit(1)
	}

	var provider *firecrawl.Client
	if key := os.Getenv("FIRECRAWL_API_KEY"); key != "" {
		provider = firecrawl.NewClient(getEnv("FIRECRAWL_URL", firecrawl.DefaultBaseURL), key, nil)
		logger.Info("scraping provider enabled")
	} else {
		logger.Info("FIRECRAWL_API_KEY not set, using direct fetch only")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("brandscan", registry)

	pipelineConfig := brandscan.DefaultConfig()
	pipelineConfig.MaxConcurrentLLM = *maxLLM
	pipelineConfig.ModelTimeout = llmConfig.Timeout
	pipelineConfig.ProbeLogos = *probeLogos
	pipelineConfig.OnlyMainContent = getEnv("ONLY_MAIN_CONTENT", "false") == "true"

	pipeline, err := brandscan.New(pipelineConfig, model, provider,
		brandscan.WithLogger(logger),
		brandscan.WithMetrics(m),
	)
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	deps := api.Deps{
		Extractor: pipeline,
		Assistant: pipeline.Assistant(),
		Metrics:   m,
		Gatherer:  registry,
		Logger:    logger,
	}

	// PostgreSQL history (optional)
	if dbHost := getEnv("DB_HOST", ""); dbHost != "" {
		dsn := db.DSN(
			dbHost,
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "brandscan"),
			getEnv("DB_PASSWORD", "brandscan_dev_pass"),
			getEnv("DB_NAME", "brandscan"),
		)
		database, err := db.New(ctx, db.Config{DSN: dsn}, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := m.RegisterDB(database.DB(), "brandscan"); err != nil {
			logger.Warn("failed to register database metrics", "error", err)
		}
		deps.Store = database
		logger.Info("using PostgreSQL database", "host", dbHost)
	} else {
		logger.Info("DB_HOST not set, extraction history disabled")
	}

	// Redis cache (optional)
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		c, err := cache.New(cache.Config{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt(logger, "REDIS_DB", 0),
			TTL:      getEnvDuration(logger, "CACHE_TTL", cache.DefaultTTL),
		})
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", "addr", addr, "error", err)
		} else {
			defer c.Close()
			deps.Cache = c
			logger.Info("redis cache enabled", "addr", addr)
		}
	}

	// Snapshot storage
	switch backend := getEnv("STORAGE_BACKEND", "fs"); backend {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          os.Getenv("S3_BUCKET"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "false") == "true",
		})
		if err != nil {
			logger.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
		deps.Blobs = s3Store
	case "fs":
		fileStore, err := storage.New(storage.Config{BasePath: getEnv("STORAGE_BASE_PATH", "./storage")})
		if err != nil {
			logger.Error("failed to create storage", "error", err)
			os.Exit(1)
		}
		deps.Blobs = fileStore
	case "none":
	default:
		logger.Error("unknown STORAGE_BACKEND", "backend", backend)
		os.Exit(1)
	}

	serverConfig := api.DefaultConfig()
	serverConfig.Addr = ":" + *port
	serverConfig.CORSEnabled = !*disableCORS
	serverConfig.RequestTimeout = getEnvDuration(logger, "REQUEST_TIMEOUT", serverConfig.RequestTimeout)

	server, err := api.NewServer(serverConfig, deps)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		logger.Info("brandscan service starting",
			"port", *port,
			"llm_provider", model.Name(),
			"llm_model", llmConfig.Model,
			"scraping_provider", provider.Enabled(),
			"probe_logos", *probeLogos,
		)

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
