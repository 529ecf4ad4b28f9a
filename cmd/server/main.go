package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	chatkit "go.pilab.hu/chatkit"
	chatkitapi "go.pilab.hu/chatkit/api/echo"
	"go.pilab.hu/chatkit/cache"
	redisCache "go.pilab.hu/chatkit/cache/redis"
	"go.pilab.hu/chatkit/config"
	"go.pilab.hu/chatkit/domain"
	"go.pilab.hu/chatkit/internal/metrics"
	"go.pilab.hu/chatkit/internal/server"
	"go.pilab.hu/chatkit/log"
	"go.pilab.hu/chatkit/middleware"
	"go.pilab.hu/chatkit/mongodb"
	"go.pilab.hu/chatkit/tracing"
	"go.pilab.hu/chatkit/upstream"

	"github.com/labstack/echo/v4"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	level, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(level, cfg.LogPretty)
	if parseErr != nil {
		appLogger.Warn(ctx, "unknown log level, falling back to info", map[string]interface{}{
			"log_level": cfg.LogLevel,
		})
	}

	tracerProvider, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracer provider", err)
	}

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		appLogger.Fatal(ctx, "failed to connect to MongoDB", err, map[string]interface{}{
			"mongo_uri": cfg.MongoURI,
		})
	}

	sessionRepo, err := mongodb.NewSessionRepositoryMongo(ctx, mongodb.GetDB())
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize session repository", err)
	}

	identityCache := newIdentityCache(ctx, cfg, appLogger)
	defer func() {
		if err := identityCache.Close(); err != nil {
			appLogger.Warn(ctx, "failed to close identity cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	verifier := newTokenVerifier(ctx, cfg, identityCache, appLogger)

	upstreamClient := upstream.NewClient(cfg.ChatKitAPIBase, cfg.OpenAIAPIKey, nil)
	if !upstreamClient.Configured() {
		appLogger.Warn(ctx, "OPENAI_API_KEY is not set, session bootstrap will fail")
	}

	chatbots := domain.NewChatbotDirectory(cfg.Chatbots)
	sessionService := chatkit.NewSessionService(
		sessionRepo,
		upstreamClient,
		chatbots,
		cfg.DefaultWorkflowID,
		appLogger.With(map[string]interface{}{"component": "session_service"}),
	)

	metrics.Register(prometheus.DefaultRegisterer)

	api := chatkitapi.NewChatKitAPI(sessionService, func(c echo.Context) error {
		return mongodb.Ping(c.Request().Context())
	})
	authn := middleware.RequireAuth(verifier)

	httpServer := server.NewHTTPServer(cfg, appLogger, api, authn)

	go func() {
		appLogger.Info(ctx, "starting HTTP server", map[string]interface{}{
			"addr": httpServer.Addr,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(ctx, "HTTP server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "tracer provider shutdown failed", err)
	}
	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(ctx, "shutdown complete")
}

// newIdentityCache selects the identity cache backend from configuration.
func newIdentityCache(ctx context.Context, cfg *config.ServerConfig, appLogger log.Logger) cache.IdentityCache {
	ttl := time.Duration(cfg.IdentityCacheTTLMin) * time.Minute

	switch cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			appLogger.Fatal(ctx, "failed to connect to Redis", err, map[string]interface{}{
				"redis_addr": cfg.RedisAddr,
			})
		}
		appLogger.Info(ctx, "using Redis identity cache", map[string]interface{}{
			"redis_addr": cfg.RedisAddr,
		})
		return redisCache.NewIdentityCache(client, cfg.RedisKeyPrefix)
	case "memory":
		return cache.NewMemoryIdentityCache(ttl)
	default:
		appLogger.Warn(ctx, "unknown cache backend, using memory", map[string]interface{}{
			"cache_backend": cfg.CacheBackend,
		})
		return cache.NewMemoryIdentityCache(ttl)
	}
}

// newTokenVerifier builds the static bcrypt verifier from the provisioned
// credentials and wraps it with the identity cache.
func newTokenVerifier(ctx context.Context, cfg *config.ServerConfig, identityCache cache.IdentityCache, appLogger log.Logger) chatkit.TokenVerifier {
	tokens := make([]chatkit.StaticToken, 0, len(cfg.APITokens))
	for _, t := range cfg.APITokens {
		tokens = append(tokens, chatkit.StaticToken{
			TokenHash: t.TokenHash,
			Identity: domain.Identity{
				ID:    t.UserID,
				Email: t.Email,
				Name:  t.Name,
			},
		})
	}
	if len(tokens) == 0 {
		appLogger.Warn(ctx, "no API tokens configured, all requests will be rejected")
	}

	ttl := time.Duration(cfg.IdentityCacheTTLMin) * time.Minute
	return chatkit.NewCachingTokenVerifier(
		chatkit.NewStaticTokenVerifier(tokens),
		identityCache,
		ttl,
	)
}
