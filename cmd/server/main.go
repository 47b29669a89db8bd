package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/openlms/groupchat/internal/api"
	"github.com/openlms/groupchat/internal/chat"
	"github.com/openlms/groupchat/internal/config"
	"github.com/openlms/groupchat/internal/db"
	"github.com/openlms/groupchat/internal/middleware"
	"github.com/openlms/groupchat/internal/observ"
	pgrepo "github.com/openlms/groupchat/internal/repository/postgres"
	redisrepo "github.com/openlms/groupchat/internal/repository/redis"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Startup has no parent deadline; connect for as long as it takes.
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	redisClient, err := db.NewRedis(context.Background(), cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	pool := database.Pool()
	messageRepo := pgrepo.NewMessageStore(pool)
	membershipRepo := pgrepo.NewMembershipStore(pool)
	userRepo := pgrepo.NewUserStore(pool)
	moderationStore := redisrepo.NewModerationStore(redisClient)

	chatService := chat.NewService(
		messageRepo,
		membershipRepo,
		userRepo,
		moderationStore,
		cfg.TypingTimeout,
		logger,
	)
	chatHandler := chat.NewHandler(chatService, logger)

	wsHandler := api.NewWSHandler(chatService, chatHandler, cfg.JWTSecret, logger)
	messageHandler := api.NewMessageHandler(messageRepo, membershipRepo, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	adminHandler := api.NewAdminHandler(chatService, moderationStore, logger)

	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	// Health check is public; load balancers hit it without a token.
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// The WebSocket route authenticates at handshake time itself (token
	// query parameter), so it sits outside the middleware group.
	srv.GET("/v1/ws", wsHandler.Serve)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		v1.GET("/rooms/:hackathonId/:groupId/messages", messageHandler.List)
		v1.GET("/users/me", userHandler.GetMe)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminOnly())
	{
		admin.GET("/rooms", adminHandler.ListRooms)
		admin.GET("/rooms/:hackathonId/:groupId/muted", adminHandler.ListMuted)
		admin.POST("/rooms/:hackathonId/:groupId/mute", adminHandler.Mute)
		admin.POST("/rooms/:hackathonId/:groupId/unmute", adminHandler.Unmute)
		admin.POST("/rooms/:hackathonId/:groupId/remove", adminHandler.Remove)
		admin.POST("/rooms/:hackathonId/:groupId/readmit", adminHandler.Readmit)
	}

	logger.Info("starting groupchat server",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	return srv.Run(":" + cfg.Port)
}
