package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/devansh6012/code-collab/internal/v1/auth"
	"github.com/devansh6012/code-collab/internal/v1/cache"
	"github.com/devansh6012/code-collab/internal/v1/config"
	"github.com/devansh6012/code-collab/internal/v1/health"
	"github.com/devansh6012/code-collab/internal/v1/logging"
	"github.com/devansh6012/code-collab/internal/v1/middleware"
	"github.com/devansh6012/code-collab/internal/v1/ratelimit"
	"github.com/devansh6012/code-collab/internal/v1/store"
	"github.com/devansh6012/code-collab/internal/v1/tracing"
	"github.com/devansh6012/code-collab/internal/v1/transport"
	"github.com/devansh6012/code-collab/internal/v1/types"
)

const serviceName = "code-collab"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Authentication ---
	skipAuth := cfg.SkipAuth
	if !skipAuth {
		if cfg.DevelopmentMode && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
			slog.Warn("⚠️  Development Mode: Auth0 credentials missing. Auto-enabling SKIP_AUTH.")
			skipAuth = true
		} else if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			slog.Error("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set in environment when SKIP_AUTH=false")
			os.Exit(1)
		}
	}

	var validator types.TokenValidator
	if !skipAuth {
		authValidator, err := auth.NewValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Auth0 validator initialized", "domain", cfg.Auth0Domain, "audience", cfg.Auth0Audience)
		validator = authValidator
	} else {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	}

	// --- Durable store (required) ---
	pg, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	docs := store.WithRetry(pg, cfg.StoreRetryAttempts)
	slog.Info("✅ Postgres document store initialized")

	// --- Ephemeral store (optional) ---
	var cacheService *cache.Service
	if cfg.RedisEnabled {
		cacheService, err = cache.NewService(cfg.RedisAddr, cfg.RedisPassword, cache.Options{
			PresenceTTL: time.Duration(cfg.PresenceTTLSeconds) * time.Second,
			OpLogWindow: cfg.OpLogWindow,
			OpLogTTL:    time.Duration(cfg.OpLogTTLSeconds) * time.Second,
			ChatRing:    cfg.ChatRingSize,
			ChatTTL:     time.Duration(cfg.ChatTTLSeconds) * time.Second,
		})
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			cacheService = nil // Fallback: presence and op logs degrade gracefully
		} else {
			slog.Info("✅ Redis ephemeral store initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running without Redis (ephemeral state disabled)")
	}

	// --- Rate limiting ---
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, cacheService.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Hub ---
	hub := transport.NewHub(validator, docs, cacheService, rateLimiter, transport.HubOptions{
		DevMode:     cfg.DevelopmentMode,
		IdleTimeout: time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
	})

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	corsConfig := cors.DefaultConfig()
	allowedOrigins := auth.GetAllowedOriginsFromEnv("FRONTEND_ORIGIN", []string{"http://localhost:3000"})
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware(serviceName))

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/collab", hub.ServeWs)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(docs, healthCache(cacheService))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if err := pg.Close(); err != nil {
		slog.Error("Failed to close Postgres connection:", "error", err)
	}

	if cacheService != nil {
		if err := cacheService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

// healthCache avoids handing the health handler a non-nil interface wrapping
// a nil *cache.Service.
func healthCache(c *cache.Service) types.EphemeralStore {
	if c == nil {
		return nil
	}
	return c
}
