package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"walletrecharge/internal/auth"
	"walletrecharge/internal/config"
	"walletrecharge/internal/gateway"
	"walletrecharge/internal/handler"
	"walletrecharge/internal/infrastructure/cache"
	"walletrecharge/internal/infrastructure/database"
	"walletrecharge/internal/infrastructure/lock"
	"walletrecharge/internal/infrastructure/mq"
	"walletrecharge/internal/job"
	"walletrecharge/internal/repository"
	"walletrecharge/internal/service"
	"walletrecharge/pkg/idgen"
	"walletrecharge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log.Env)
	slog.SetDefault(log)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 MySQL
	db, err := database.NewMySQL(&cfg.MySQL, cfg.Server.Mode == gin.DebugMode, log)
	if err != nil {
		return err
	}
	log.Info("MySQL 连接成功")

	// 初始化 Redis，只用于后台任务锁
	redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("Redis 连接成功")

	// 初始化 Kafka
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	publisher := mq.NewPublisher(producer)
	defer publisher.Close()
	log.Info("Kafka 生产者创建成功")

	maxAmount, err := decimal.NewFromString(cfg.Business.MaxRechargeAmount)
	if err != nil {
		return fmt.Errorf("business.max_recharge_amount 格式错误: %w", err)
	}

	// 仓储
	rechargeRepo := repository.NewRechargeRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	gw := gateway.Instrumented(gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.Timeout))

	// 服务
	intentService := service.NewIntentService(rechargeRepo, gw, service.IntentConfig{
		Currency:          cfg.Gateway.Currency,
		GatewayKey:        cfg.Gateway.KeyID,
		GatewayTimeout:    cfg.Gateway.Timeout,
		MaxRechargeAmount: maxAmount,
	}, log)
	reconcileService := service.NewReconcileService(rechargeRepo, walletRepo, gw, service.ReconcileConfig{
		KeySecret:      cfg.Gateway.KeySecret,
		WebhookSecret:  cfg.Gateway.WebhookSecret,
		GatewayTimeout: cfg.Gateway.Timeout,
		LedgerTimeout:  cfg.Business.LedgerTimeout,
		EventTopic:     cfg.Kafka.Topic.RechargeCompleted,
	}, log)
	walletService := service.NewWalletService(walletRepo, log)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	// 启动后台任务
	processingTimeout := time.Duration(cfg.Business.ProcessingTimeoutMinutes) * time.Minute
	pendingTimeout := time.Duration(cfg.Business.PendingTimeoutMinutes) * time.Minute

	sweeper := job.NewRechargeSweeper(rechargeRepo, reconcileService,
		lock.NewJobLock(redisClient, "recharge-sweeper", 2*time.Minute), processingTimeout, log)
	timeoutJob := job.NewRechargeTimeoutJob(rechargeRepo,
		lock.NewJobLock(redisClient, "recharge-timeout", 2*time.Minute), pendingTimeout, log)
	outboxSender := job.NewOutboxSender(outboxRepo, publisher,
		lock.NewJobLock(redisClient, "outbox-sender", 30*time.Second), cfg.Business.MaxRetryCount, log)

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){sweeper.Start, timeoutJob.Start, outboxSender.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}

	// 设置路由
	h := handler.NewHandler(intentService, reconcileService, walletService, cfg.Gateway.SignatureHeader)
	router := handler.SetupRouter(h, authManager, log, cfg.Server.Mode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("服务启动", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("正在关闭服务...")
	case err := <-serverErr:
		log.Error("服务启动失败", "error", err)
		cancel()
		wg.Wait()
		return err
	}

	// 关闭 HTTP 服务（等待最多5秒），再停止后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", "error", err)
	}

	cancel()
	wg.Wait()

	log.Info("服务已关闭")
	return nil
}
