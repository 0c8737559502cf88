/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package control implements the control channel: the single worker that
// serializes session notifications onto one outbound stream, and the unix
// datagram endpoint reserved for inbound commands.
package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/friendsincode/audioservice/internal/telemetry"
	"github.com/rs/zerolog"
)

// ErrSocketBindFailed is returned when the control socket cannot be bound.
var ErrSocketBindFailed = errors.New("control socket bind failed")

// DefaultSocketPath is used when no path is configured.
var DefaultSocketPath = filepath.Join(os.TempDir(), "audioservice.sock")

// Config configures a Channel.
type Config struct {
	SocketPath string
}

// Dispatcher is the command target, normally the session pool.
type Dispatcher interface {
	SetSource(index int, uri string) error
}

// Channel owns the control socket and the worker draining the queue.
type Channel struct {
	path   string
	conn   *net.UnixConn
	queue  *Queue
	target Dispatcher
	sink   Sink
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closed      atomic.Bool
	once        sync.Once
	shutdownErr error
}

// New binds the control socket and starts the worker on q. The queue
// should be the one handed to the sessions so their messages reach sink.
func New(cfg Config, q *Queue, target Dispatcher, sink Sink, logger zerolog.Logger) (*Channel, error) {
	path := cfg.SocketPath
	if path == "" {
		path = DefaultSocketPath
	}

	conn, err := bind(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		path:   path,
		conn:   conn,
		queue:  q,
		target: target,
		sink:   sink,
		logger: logger.With().Str("component", "control").Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.run()

	c.logger.Info().Str("socket", path).Msg("control channel started")
	return c, nil
}

// bind removes a stale socket file at path and binds a datagram socket there.
// Anything at path that is not a socket is left alone and the bind fails.
func bind(path string) (*net.UnixConn, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("%w: %s exists and is not a socket", ErrSocketBindFailed, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("%w: remove stale socket: %w", ErrSocketBindFailed, err)
		}
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocketBindFailed, err)
	}
	return conn, nil
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		msg, ok := c.queue.pop()
		if !ok || msg.Kind == kindShutdown {
			c.logger.Debug().Msg("control worker stopping")
			return
		}

		telemetry.ControlMessagesTotal.WithLabelValues(msg.Kind.String()).Inc()
		if err := c.sink.Deliver(c.ctx, msg); err != nil {
			c.logger.Warn().Err(err).Str("message", msg.String()).Msg("control sink delivery failed")
		}
	}
}

// Push enqueues msg for the worker.
func (c *Channel) Push(msg Message) error {
	return c.queue.Push(msg)
}

// Dispatch loads uri into the session at index.
func (c *Channel) Dispatch(index int, uri string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.target == nil {
		return errors.New("control channel has no dispatch target")
	}
	return c.target.SetSource(index, uri)
}

// SocketPath returns the bound socket path.
func (c *Channel) SocketPath() string {
	return c.path
}

// Shutdown queues the sentinel and waits for the worker to drain everything
// pushed before it, then releases the socket. Later calls return the result
// of the first.
func (c *Channel) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.queue.shutdown()

		select {
		case <-c.done:
		case <-ctx.Done():
			c.shutdownErr = fmt.Errorf("control worker did not stop: %w", ctx.Err())
		}
		c.cancel()

		if err := c.conn.Close(); err != nil {
			c.shutdownErr = errors.Join(c.shutdownErr, err)
		}
		if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.shutdownErr = errors.Join(c.shutdownErr, err)
		}

		c.logger.Info().Msg("control channel stopped")
	})
	return c.shutdownErr
}
