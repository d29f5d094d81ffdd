package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"WorkshopPlatform/pkg/config"
	"WorkshopPlatform/pkg/connection"
	"WorkshopPlatform/pkg/logger"
)

// Client представляет подключение к Redis
type Client struct {
	Client *redis.Client
}

// Config представляет конфигурацию Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	// Connection pool settings
	PoolSize    int
	MinIdleConn int
	// Health check
	HealthCheck time.Duration
	Retry       connection.RetryConfig
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		PoolSize:    10,
		MinIdleConn: 2,
		HealthCheck: 30 * time.Second,
		Retry:       connection.DefaultRetryConfig(),
	}
}

// FromAppConfig собирает конфигурацию клиента из секции redis
func FromAppConfig(c config.RedisConfig) *Config {
	cfg := NewConfig()
	cfg.Addr = c.Addr
	cfg.Password = c.Password
	cfg.DB = c.DB
	if c.PoolSize > 0 {
		cfg.PoolSize = c.PoolSize
	}
	if c.MinIdleConn > 0 {
		cfg.MinIdleConn = c.MinIdleConn
	}
	if c.MaxRetries > 0 {
		cfg.Retry.MaxAttempts = c.MaxRetries
	}
	cfg.Retry.InitialDelay = config.Duration(c.RetryInterval, cfg.Retry.InitialDelay)
	cfg.HealthCheck = config.Duration(c.HealthCheck, cfg.HealthCheck)
	return cfg
}

// Connect устанавливает подключение к Redis с retry логикой
func Connect(ctx context.Context, cfg *Config, log logger.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:               cfg.Addr,
		Password:           cfg.Password,
		DB:                 cfg.DB,
		PoolSize:           cfg.PoolSize,
		MinIdleConns:       cfg.MinIdleConn,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		PoolTimeout:        4 * time.Second,
		IdleCheckFrequency: cfg.HealthCheck,
	})

	err := connection.WithRetry(ctx, log, "redis", cfg.Retry, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Client{Client: client}, nil
}

// Close закрывает подключение к Redis
func (r *Client) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// HealthCheck проверяет состояние подключения к Redis
func (r *Client) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}
