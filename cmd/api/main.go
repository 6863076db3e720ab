package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"messenger/internal/config"
	"messenger/internal/database"
	"messenger/internal/domain"
	"messenger/internal/middleware"
	"messenger/internal/modules/qrlogin"
	"messenger/internal/modules/token"
	"messenger/internal/pkg/cryptox"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	"messenger/internal/store"
)

const (
	configCacheTTL  = 30 * time.Second
	shutdownTimeout = 10 * time.Second

	// Deployment constant for deriving the storage key; changing it
	// invalidates every encrypted record.
	storageKeySalt = "messenger-security-store"
)

func main() {
	_ = godotenv.Load()

	defaults, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(defaults.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "messenger.db"
	}
	db, err := database.Connect(dsn)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}

	if err := db.AutoMigrate(&domain.User{}); err != nil {
		logger.Fatal("migrate users failed", zap.Error(err))
	}

	encryptionKey := cryptox.DeriveKey(defaults.StorageEncryptionSecret, storageKeySalt)
	secureStore := store.NewSecureStore(db, encryptionKey)
	if err := secureStore.Migrate(); err != nil {
		logger.Fatal("migrate security records failed", zap.Error(err))
	}

	settings := config.NewGormSettings(db)
	if err := settings.Migrate(); err != nil {
		logger.Fatal("migrate settings failed", zap.Error(err))
	}
	provider := config.NewProvider(settings, defaults, configCacheTTL, logger)

	userRepo := repository.NewUserRepository(db)
	tokenService := token.NewService(provider, userRepo, secureStore, logger)
	tokenHandler := token.NewHandler(tokenService)

	hub := realtime.NewHub()
	wsHandler := realtime.NewWSHandler(hub, logger)

	qrService := qrlogin.NewService(provider, tokenService, userRepo, secureStore, hub, logger)
	qrHandler := qrlogin.NewHandler(qrService)

	if defaults.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.CORS())

	limiter := middleware.NewRateLimiter(defaults.RateLimitPerMinute)

	v1 := r.Group("/api/v1")
	v1.Use(limiter.Handler())
	{
		tokenHandler.RegisterPublicRoutes(v1)
		qrHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("/")
		protected.Use(middleware.Auth(tokenService))
		{
			tokenHandler.RegisterProtectedRoutes(protected)
			qrHandler.RegisterProtectedRoutes(protected)
		}
	}
	wsHandler.RegisterRoutes(&r.RouterGroup)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		qrService.RunSweeper(ctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
