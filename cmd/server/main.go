package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/fleetgazer/internal/api/handlers"
	"github.com/langchou/fleetgazer/internal/api/upstream"
	"github.com/langchou/fleetgazer/internal/config"
	"github.com/langchou/fleetgazer/internal/repository"
	"github.com/langchou/fleetgazer/internal/service"
	"github.com/langchou/fleetgazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting FleetGazer",
		zap.String("port", cfg.ServerPort),
		zap.String("upstream", cfg.UpstreamBaseURL))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 历史轨迹落库（可选）
	var historyRepo *repository.HistoryRepository
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}

		historyRepo = repository.NewHistoryRepository(db)
	} else {
		logger.Info("DATABASE_URL not set, history sink disabled")
	}

	// 上游客户端
	client := upstream.NewClient(logger, cfg.UpstreamBaseURL)
	stream := upstream.NewStreamClient(logger, cfg.UpstreamStreamURL)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 创建对账引擎
	eng := service.New(cfg, logger, client, stream, wsHub, historyRepo)

	// 拉取批量快照
	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := eng.Bootstrap(bootCtx); err != nil {
		// 快照失败不阻止启动，事件流会逐步补齐状态
		logger.Warn("Snapshot bootstrap failed, starting with empty state", zap.Error(err))
	}
	bootCancel()

	// 启动事件循环和上游流
	eng.Start(ctx)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, eng, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止引擎（取消上游流，排空事件循环）
	eng.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
