/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package service sequences the process lifetime: sessions first, then the
// control channel, then the optional status server and script; teardown runs
// the other way round.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/engine"
	"github.com/friendsincode/audioservice/internal/events"
	"github.com/friendsincode/audioservice/internal/schedule"
	"github.com/friendsincode/audioservice/internal/server"
	"github.com/friendsincode/audioservice/internal/session"
)

// Config wires the service together.
type Config struct {
	Sessions   int
	SocketPath string
	Debug      bool

	// Status server; disabled when Port is 0.
	Address string
	Port    int

	// Bus receives control messages for /events; optional.
	Bus *events.Bus

	// Script is run once after startup; optional.
	Script *schedule.Script

	ShutdownTimeout time.Duration
}

// Service owns the session pool and the control channel.
type Service struct {
	cfg    Config
	logger zerolog.Logger

	queue   *control.Queue
	pool    *session.Pool
	channel *control.Channel
	server  *server.Server

	closeOnce sync.Once
	closeErr  error
}

// New creates the pool and the control channel. Any failure leaves nothing
// running behind.
func New(cfg Config, factory engine.Factory, sink control.Sink, logger zerolog.Logger) (*Service, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Service{
		cfg:    cfg,
		logger: logger.With().Str("component", "service").Logger(),
		queue:  control.NewQueue(),
	}

	pool, err := session.NewPool(cfg.Sessions, factory, s.queue, session.Options{Debug: cfg.Debug, Logger: logger})
	if err != nil {
		return nil, err
	}
	s.pool = pool

	channel, err := control.New(control.Config{SocketPath: cfg.SocketPath}, s.queue, pool, sink, logger)
	if err != nil {
		if terr := pool.Teardown(); terr != nil {
			s.logger.Warn().Err(terr).Msg("session teardown after control channel failure")
		}
		return nil, err
	}
	s.channel = channel

	if cfg.Port > 0 {
		srv := server.New(server.Config{
			Address:         cfg.Address,
			Port:            cfg.Port,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, pool, cfg.Bus, logger)
		if _, err := srv.Listen(); err != nil {
			return nil, errors.Join(err, s.Close())
		}
		s.server = srv
	}

	return s, nil
}

// Pool returns the session pool.
func (s *Service) Pool() *session.Pool { return s.pool }

// Channel returns the control channel.
func (s *Service) Channel() *control.Channel { return s.channel }

// Run serves until ctx is done or a background component fails, then shuts
// everything down.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.server != nil {
		g.Go(func() error { return s.server.Serve(gctx) })
	}
	if s.cfg.Script != nil {
		runner := schedule.NewRunner(s.cfg.Script, s.channel, s.logger)
		g.Go(func() error {
			if err := runner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	s.logger.Info().Int("sessions", s.pool.Len()).Str("socket", s.channel.SocketPath()).Msg("service running")
	<-gctx.Done()
	s.logger.Info().Msg("shutting down")

	err := g.Wait()
	return errors.Join(err, s.Close())
}

// Close tears sessions down in descending order, then shuts the control
// channel down. Only the first call does anything.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.pool.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("teardown sessions: %w", err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.channel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown control channel: %w", err))
		}

		s.closeErr = errors.Join(errs...)
		s.logger.Info().Msg("service stopped")
	})
	return s.closeErr
}
