package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/common/config"

	"github.com/go-redis/redis/v8"
)

const (
	dialTimeout  = 5 * time.Second
	ioTimeout    = 3 * time.Second
	pingTimeout  = 5 * time.Second
	minIdleConns = 2
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端
// 读写超时固定，避免缓存与 stream 镜像拖慢入站处理
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		MinIdleConns: minIdleConns,
	})
}

// Ping 测试Redis连接（带超时）
func Ping(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis %s: %w", client.Options().Addr, err)
	}
	return nil
}

// Close 关闭Redis连接；client 为 nil 时忽略
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
