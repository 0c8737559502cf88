/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned while the Redis sink is backing off.
var ErrCircuitOpen = errors.New("redis sink circuit open")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// Timeouts
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	RetryInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Channel:       "audioservice.control",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		RetryInterval: 30 * time.Second,
	}
}

// RedisSink publishes control messages to a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	cfg     RedisConfig
	nodeID  string
	logger  zerolog.Logger
	publish time.Duration

	// Circuit breaker state
	mu        sync.Mutex
	failCount int
	openUntil time.Time
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisSink, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisConfig().Channel
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultRedisConfig().MaxFailures
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRedisConfig().RetryInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	publish := cfg.WriteTimeout
	if publish <= 0 {
		publish = 2 * time.Second
	}

	logger = logger.With().Str("component", "redis-sink").Logger()
	logger.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("redis control sink connected")

	return &RedisSink{
		client:  client,
		cfg:     cfg,
		nodeID:  nodeID,
		logger:  logger,
		publish: publish,
	}, nil
}

// Deliver publishes msg. After MaxFailures consecutive failures the sink
// refuses messages for RetryInterval instead of stalling the control worker.
func (s *RedisSink) Deliver(ctx context.Context, msg control.Message) error {
	s.mu.Lock()
	open := time.Now().Before(s.openUntil)
	s.mu.Unlock()
	if open {
		return ErrCircuitOpen
	}

	data, err := marshalMessage(msg, s.nodeID)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publish)
	defer cancel()

	if err := s.client.Publish(pubCtx, s.cfg.Channel, data).Err(); err != nil {
		s.handleFailure()
		return fmt.Errorf("publish to redis: %w", err)
	}

	s.mu.Lock()
	s.failCount = 0
	s.mu.Unlock()
	return nil
}

func (s *RedisSink) handleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCount++
	if s.failCount >= s.cfg.MaxFailures {
		s.openUntil = time.Now().Add(s.cfg.RetryInterval)
		s.failCount = 0
		s.logger.Warn().
			Dur("retry_in", s.cfg.RetryInterval).
			Msg("redis failure threshold reached, pausing publishes")
	}
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
