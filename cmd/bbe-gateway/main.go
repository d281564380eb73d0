package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "github.com/mandrindraa/bbe-my-eyes/common/logger"
	"github.com/mandrindraa/bbe-my-eyes/internal/config"
	"github.com/mandrindraa/bbe-my-eyes/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env 可选
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "bbe-gateway")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting bbe-gateway service",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat_interval", cfg.Hub.HeartbeatInterval),
		zap.Duration("camera_throttle", cfg.Hub.CameraThrottle),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建服务
	gateway, err := service.NewGatewayService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create gateway service", zap.Error(err))
	}

	// 在 goroutine 中启动服务
	go func() {
		if err := gateway.Start(ctx); err != nil {
			logger.Fatal("Failed to start gateway service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := gateway.Stop(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
