package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/promptops/whetstone/internal/api"
	"github.com/promptops/whetstone/internal/database"
	"github.com/promptops/whetstone/internal/improve"
	"github.com/promptops/whetstone/internal/metrics"
	"github.com/promptops/whetstone/internal/notify"
	"github.com/promptops/whetstone/internal/provider"
	"github.com/promptops/whetstone/internal/ratelimit"
	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/internal/telemetry"
	"github.com/promptops/whetstone/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env if present; real environment wins over file values.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Whetstone v%s\n", version)
		return
	}

	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config from %s: %v", *configPath, err)
		}
		log.Printf("Config file %s not found, using defaults", *configPath)
		cfg = config.DefaultConfig()
	}

	// Override with environment variables if set
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.Type = "postgres"
		cfg.Database.DSN = dsn
		log.Printf("Using database DSN from environment")
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = apiKey
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.Events.NatsURL = natsURL
		log.Printf("Using NATS URL from environment: %s", natsURL)
	}

	// Version store
	var st store.Store
	switch cfg.Database.Type {
	case "postgres":
		db, err := database.NewPostgres(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("failed to open postgres store: %v", err)
		}
		st = db
		log.Printf("Using PostgreSQL version store")
	case "memory", "":
		st = store.NewMemoryStore()
		log.Printf("Using in-memory version store")
	default:
		log.Fatalf("unknown database type: %s", cfg.Database.Type)
	}
	defer st.Close()

	// Model provider
	prov, err := provider.New(cfg.Provider)
	if err != nil {
		log.Fatalf("failed to create model provider: %v", err)
	}
	log.Printf("Using %s model provider (model %s)", cfg.Provider.Type, cfg.Provider.Model)

	// Lifecycle event publisher
	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.Events.Enabled {
		natsPub, err := notify.NewNatsPublisher(notify.Config{
			URL:        cfg.Events.NatsURL,
			StreamName: cfg.Events.StreamName,
			Timeout:    cfg.Events.Timeout,
		})
		if err != nil {
			log.Printf("Warning: event publishing disabled: %v", err)
		} else {
			publisher = natsPub
		}
	}
	defer publisher.Close()

	// Telemetry
	if cfg.Telemetry.Enabled {
		otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if otelEndpoint == "" {
			otelEndpoint = cfg.Telemetry.OTLPEndpoint
		}
		shutdownTelemetry, err := telemetry.InitTelemetry(context.Background(), cfg.Telemetry.ServiceName, otelEndpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	m := metrics.NewMetrics()
	prov = provider.Instrument(prov, cfg.Provider.Type, cfg.Provider.Model, m)

	evaluator := improve.NewEvaluator(improve.Policy{
		MaxCycles: cfg.Improvement.MaxCycles,
		Cooldown:  cfg.Improvement.Cooldown,
	})
	generator := improve.NewGenerator(st, prov, improve.GeneratorOptions{
		MaxTokens:         cfg.Provider.MaxTokens,
		Timeout:           cfg.Provider.Timeout,
		FeedbackSampleCap: cfg.Improvement.FeedbackSampleCap,
		PreviewLength:     cfg.Improvement.PreviewLength,
	})
	orchestrator := improve.NewOrchestrator(st, evaluator, generator, publisher, m)

	// Rate limiter
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limitCfg := ratelimit.Config{
			MaxRequests:   cfg.RateLimit.MaxRequests,
			Window:        cfg.RateLimit.Window,
			CleanupPeriod: cfg.RateLimit.CleanupPeriod,
		}
		if cfg.RateLimit.Backend == "redis" {
			limiter, err = ratelimit.NewRedisLimiter(cfg.RateLimit.RedisURL, limitCfg)
			if err != nil {
				log.Printf("Warning: redis rate limiter unavailable, falling back to memory: %v", err)
				limiter = ratelimit.NewMemoryLimiter(limitCfg)
			}
		} else {
			limiter = ratelimit.NewMemoryLimiter(limitCfg)
		}
		defer limiter.Close()
	}

	apiServer := api.NewServer(orchestrator, st, limiter, m, cfg)
	handler := otelhttp.NewHandler(apiServer.SetupRoutes(), "whetstone-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Whetstone API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	log.Printf("Whetstone shut down")
}
