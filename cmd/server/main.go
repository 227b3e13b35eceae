package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-chat-sync/internal/chat"
	"go-chat-sync/internal/config"
	"go-chat-sync/internal/db"
	"go-chat-sync/internal/logger"
	myMiddleware "go-chat-sync/internal/middleware"
	"go-chat-sync/internal/realtime"
	"go-chat-sync/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", "error", err)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Postgres (Platform Layer)
	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()
	log.Info("connected to postgres")

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database schema up to date")

	// 2. Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	// 3. Live feed: one hub per instance, fed by the redis pattern subscription
	hub := realtime.NewHub(redisClient, cfg.RedisChannelPrefix, log)
	go hub.Run(ctx)
	if err := hub.SubscribeToRedis(ctx); err != nil {
		return err
	}

	// 4. Features
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService)

	chatStore := chat.WithPublisher(
		chat.NewRepository(database.Conn),
		realtime.NewPublisher(redisClient, cfg.RedisChannelPrefix),
		log,
	)
	chatHandler := chat.NewHandler(chatStore, hub, userService, cfg.PresenceInterval, log)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/me", userHandler.Me)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Get("/api/conversations/{id}/messages", chatHandler.GetChatHistory)
		r.Post("/api/conversations/{id}/messages", chatHandler.PostMessage)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
