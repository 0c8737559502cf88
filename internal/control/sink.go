/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/friendsincode/audioservice/internal/events"
	"github.com/friendsincode/audioservice/internal/telemetry"
	"github.com/rs/zerolog"
)

// Sink receives every control message the worker drains, in queue order.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LineSink writes each message as one line.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineSink returns a sink writing to w.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

func (s *LineSink) Deliver(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, msg.String())
	return err
}

// LogSink logs each message at info level.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "control").Logger()}
}

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.logger.Info().
		Int("session", msg.Session).
		Str("kind", msg.Kind.String()).
		Msg(msg.String())
	return nil
}

// BusSink republishes messages on an in-process bus. All kinds share
// events.EventControlMessage so subscribers see them in delivery order.
type BusSink struct {
	bus *events.Bus
}

// NewBusSink returns a sink publishing to bus.
func NewBusSink(bus *events.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Deliver(_ context.Context, msg Message) error {
	s.bus.Publish(events.EventControlMessage, events.Payload{
		"event":   EventType(msg.Kind),
		"session": msg.Session,
		"line":    msg.String(),
	})
	return nil
}

// EventType maps a message kind onto the bus event type.
func EventType(k Kind) events.EventType {
	if k == KindEOS {
		return events.EventSessionEOS
	}
	return events.EventSessionPlaying
}

// Named labels a sink for logs and metrics.
type Named struct {
	Name string
	Sink Sink
}

// MultiSink delivers to every sink in order. A failing sink does not stop
// delivery to the rest; failures are joined.
type MultiSink []Named

func (m MultiSink) Deliver(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Sink.Deliver(ctx, msg); err != nil {
			telemetry.ControlSinkFailuresTotal.WithLabelValues(n.Name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
