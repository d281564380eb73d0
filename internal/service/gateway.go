package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/common/database"
	mqttcommon "github.com/mandrindraa/bbe-my-eyes/common/mqtt"
	rediscommon "github.com/mandrindraa/bbe-my-eyes/common/redis"
	"github.com/mandrindraa/bbe-my-eyes/internal/cache"
	"github.com/mandrindraa/bbe-my-eyes/internal/config"
	"github.com/mandrindraa/bbe-my-eyes/internal/consumer"
	httpapi "github.com/mandrindraa/bbe-my-eyes/internal/http"
	"github.com/mandrindraa/bbe-my-eyes/internal/hub"
	"github.com/mandrindraa/bbe-my-eyes/internal/poller"
	"github.com/mandrindraa/bbe-my-eyes/internal/reconciler"
	"github.com/mandrindraa/bbe-my-eyes/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// GatewayService bbe 网关服务：MQTT 入站、HTTP 接口、websocket 推送
type GatewayService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	hub         *hub.Hub
	consumer    *consumer.MQTTConsumer
	poller      *poller.UnreadPoller
	server      *http.Server

	wg sync.WaitGroup
}

// NewGatewayService 创建网关服务
func NewGatewayService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*GatewayService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := repository.NewStreamRepository(db, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		rediscommon.Close(redisClient)
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create MQTT client: %w", err)
	}

	h := hub.NewHub(hub.Options{
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		ThrottleWindow:    cfg.Hub.CameraThrottle,
		Policies:          cfg.Hub.Policies,
	}, logger)
	for channel, window := range cfg.Hub.Windows {
		h.SetThrottleWindow(channel, window)
	}

	rec := reconciler.NewReconciler(repo, logger)
	snapshots := cache.NewSnapshotCache(cache.NewRedisKVStore(redisClient), cfg.Cache.LatestTTL, logger)
	stream := cache.NewRecordStream(redisClient, cfg.Cache.Stream, cfg.Cache.StreamMaxLen, logger)

	metrics := consumer.NewMetrics()
	ingestor := consumer.NewIngestor(repo, rec, snapshots, stream, h, metrics, logger)
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, ingestor, h, metrics, logger)
	unread := poller.NewUnreadPoller(repo, h, cfg.Poller.Interval, logger)

	handler := httpapi.NewGatewayHandler(rec, snapshots, ingestor, repo, h, mqttClient.IsConnected, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterGatewayRoutes(handler)
	router.RegisterWebsocket("/ws", hub.NewWSHandler(h, cfg.Hub.SendQueue, cfg.Hub.WriteTimeout, logger))

	return &GatewayService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		hub:         h,
		consumer:    mqttConsumer,
		poller:      unread,
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start 启动服务组件；HTTP 服务器在后台运行
func (s *GatewayService) Start(ctx context.Context) error {
	s.logger.Info("Starting gateway service components")

	s.hub.StartLiveness(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.consumer.Start(ctx); err != nil {
			s.logger.Error("MQTT consumer exited", zap.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		s.poller.Start(ctx)
	}()

	tlsEnabled := s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != ""
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("Gateway service started",
		zap.String("addr", s.config.HTTP.Addr),
		zap.Bool("tls", tlsEnabled),
	)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Stop 停止服务：先停 HTTP，再停消费者与 Hub，最后关闭连接
func (s *GatewayService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway service")

	// ctx 通常已被取消，关闭超时单独计时
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
	}
	s.wg.Wait()

	s.hub.Close()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
	}

	// 关闭数据库
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Error closing database connection", zap.Error(err))
	}

	s.logger.Info("Gateway service stopped")
	return nil
}
