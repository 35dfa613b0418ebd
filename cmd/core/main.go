package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	grpc_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/in/http"
	memory_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/audit"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/config"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
	"github.com/JoeShih716/go-transfer-ledger/pkg/mysql"
	"github.com/JoeShih716/go-transfer-ledger/pkg/postgres"
	"github.com/JoeShih716/go-transfer-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

// run 組裝並啟動所有元件，直到收到訊號或任一 server 失敗
// 所有資源都以 defer 釋放，錯誤一律回傳給 main
func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()

	// 2. 初始化儲存層
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()
	log.WithField("driver", cfg.Store.Driver).Info("Ledger store ready")

	// 3. 初始化 UseCase
	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init token manager: %w", err)
	}
	engine := usecase.NewTransferEngine(store, log, usecase.WithOperationTimeout(cfg.Ledger.OperationTimeout))
	coreUseCase := usecase.NewCoreUseCase(store, engine, log)
	userUseCase := usecase.NewUserUseCase(store, auth.NewBcryptHasher(cfg.Auth.BcryptCost), tokens, log)

	// 4. Idempotency-Key (選用)
	var idempotency http_adapter.IdempotencyStore
	if cfg.Redis.Addr != "" {
		redisClient, err := redis_adapter.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		idempotency = redis_adapter.NewIdempotencyStore(redisClient, cfg.Redis.TTL)
		log.WithField("addr", cfg.Redis.Addr).Info("Idempotency keys backed by Redis")
	}

	// 5. 稽核排程
	auditor := audit.NewAuditor(store, log)
	if cfg.Audit.Enabled {
		if err := auditor.Start(cfg.Audit.Schedule); err != nil {
			return err
		}
		defer auditor.Stop()
	}

	// 6. 啟動 HTTP Server
	limiter := cfg.HTTP.NewRateLimiter()
	defer cfg.HTTP.StartRateLimitCleanup(limiter)()

	httpServer := http_adapter.NewServer(http_adapter.Options{
		Config:      cfg.HTTP,
		Core:        coreUseCase,
		Users:       userUseCase,
		Tokens:      tokens,
		Idempotency: idempotency,
		Limiter:     limiter,
		Log:         log,
	})

	// 7. 啟動 gRPC Server
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer := grpc_adapter.NewServer(grpc_adapter.NewGrpcServer(coreUseCase, userUseCase), log, tokens)

	// 任一 server 失敗都走與收到訊號相同的關閉流程
	serveErr := make(chan error, 2)
	go func() {
		log.Infof("Starting HTTP server on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Infof("Starting gRPC server on %s", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down server...")
	case runErr = <-serveErr:
		log.WithError(runErr).Error("Server failed, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	grpcServer.GracefulStop()
	log.Info("Server exited")
	return runErr
}

// openStore 依 store.driver 建立帳本儲存層
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (usecase.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		client, err := mysql.NewClient(cfg.MySQL, log)
		if err != nil {
			return nil, err
		}
		store := mysql_adapter.NewStore(client)
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return store, nil

	case config.DriverPostgres:
		if cfg.Postgres.AutoMigrate {
			if err := postgres_adapter.Migrate(cfg.Postgres.DSN, log); err != nil {
				return nil, err
			}
		}
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return postgres_adapter.NewStore(db, postgres_adapter.WithLockTimeout(cfg.Postgres.LockTimeout)), nil

	default:
		var w *wal.WAL
		if cfg.Store.WALPath != "" {
			var err error
			if w, err = wal.NewWAL(cfg.Store.WALPath); err != nil {
				return nil, err
			}
		}
		return memory_adapter.NewStore(w)
	}
}
