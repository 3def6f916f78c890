package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sealchat/internal/blob"
	"sealchat/internal/config"
	"sealchat/internal/conversation"
	"sealchat/internal/db"
	"sealchat/internal/fanout"
	"sealchat/internal/identity"
	"sealchat/internal/message"
	"sealchat/internal/middleware"
	"sealchat/internal/ratelimit"
	"sealchat/internal/receipt"
	"sealchat/internal/sweeper"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Platform layer: Postgres and Redis.
	database, err := db.NewDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer database.Close()
	logger.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("database schema initialized")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// Plain host:port is also accepted.
		redisOpts = &redis.Options{Addr: cfg.RedisURL}
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()
	logger.Info().Msg("connected to Redis")

	blobStore, err := blob.NewDiskStore(cfg.BlobDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("blob storage")
	}

	// Feature layer.
	verifier := identity.NewVerifier(cfg.JWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	convRepo := conversation.NewRepository(database.Pool)
	convService := conversation.NewService(convRepo)
	convHandler := conversation.NewHandler(convService)

	broker := fanout.NewRedisBroker(redisClient, logger)

	msgRepo := message.NewRepository(database.Pool)
	msgService := message.NewService(msgRepo, convService, broker, logger)
	limiter := ratelimit.NewLimiter(redisClient, cfg.SendLimit, cfg.SendWindow)
	msgHandler := message.NewHandler(msgService, limiter)

	receiptRepo := receipt.NewRepository(database.Pool)
	receiptService := receipt.NewService(receiptRepo, convService, broker, logger)
	receiptHandler := receipt.NewHandler(receiptService)

	hub := fanout.NewHub(broker, msgService, logger)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("hub stopped")
		}
	}()
	wsHandler := fanout.NewHandler(hub, convService, logger)

	sweep := sweeper.New(msgRepo, cfg.SweepInterval, logger)
	go sweep.Run(ctx)

	blobHandler := blob.NewHandler(blobStore)

	// Routes.
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", wsHandler.ServeWs)

		r.Post("/api/conversations", convHandler.Establish)
		r.Put("/api/conversations/{id}/ephemeral", convHandler.UpdateEphemeral)
		r.Delete("/api/conversations/{id}", convHandler.Delete)
		r.Post("/api/conversations/{id}/read", receiptHandler.MarkRead)

		r.Post("/api/messages", msgHandler.Send)
		r.Get("/api/messages", msgHandler.History)
		r.Post("/api/messages/{id}/viewed", receiptHandler.MarkViewed)

		r.Post("/api/attachments", blobHandler.Upload)
		r.Get("/api/attachments/{ref}", blobHandler.Download)
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("hub shutdown")
	}
	logger.Info().Msg("bye")
}
