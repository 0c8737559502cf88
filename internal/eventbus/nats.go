/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Subject prefix; messages go to "<subject>.playing" and "<subject>.eos".
	Subject string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "audioservice.control",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSSink publishes control messages to NATS subjects.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewNATSSink connects to the NATS server at cfg.URL.
func NewNATSSink(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSSink, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSConfig().Subject
	}
	logger = logger.With().Str("component", "nats-sink").Logger()

	opts := []nats.Option{
		nats.Name("audioservice " + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("nats control sink connected")
	return &NATSSink{conn: conn, subject: cfg.Subject, nodeID: nodeID, logger: logger}, nil
}

// Deliver publishes msg to the subject for its kind. The client buffers
// while reconnecting, so Deliver does not block on the network.
func (s *NATSSink) Deliver(_ context.Context, msg control.Message) error {
	data, err := marshalMessage(msg, s.nodeID)
	if err != nil {
		return err
	}
	return s.conn.Publish(subjectFor(s.subject, msg.Kind), data)
}

func subjectFor(prefix string, kind control.Kind) string {
	return prefix + "." + strings.ToLower(kind.String())
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
