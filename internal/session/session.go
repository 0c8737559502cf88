/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session manages the fixed pool of playback sessions and routes
// their engine events onto the control queue.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/engine"
	"github.com/friendsincode/audioservice/internal/telemetry"
	"github.com/rs/zerolog"
)

// Publisher accepts control messages; control.Queue satisfies it.
type Publisher interface {
	Push(control.Message) error
}

// Options tune session behavior.
type Options struct {
	// Debug dumps engine diagnostics when a session hits an error.
	Debug  bool
	Logger zerolog.Logger
}

// Session drives one playback engine.
type Session struct {
	index     int
	publisher Publisher
	debug     bool
	logger    zerolog.Logger

	mu     sync.Mutex
	engine engine.Engine // nil once destroyed
	source string
}

// Status is a point-in-time view of a session.
type Status struct {
	Index  int    `json:"index"`
	Source string `json:"source,omitempty"`
	State  string `json:"state"`
}

// New builds the engine for index, subscribes to its events and leaves it
// idle. Construction failures wrap engine.ErrEngineInitFailed.
func New(index int, factory engine.Factory, publisher Publisher, opts Options) (*Session, error) {
	eng, err := factory(index)
	if err != nil {
		if !errors.Is(err, engine.ErrEngineInitFailed) {
			err = fmt.Errorf("%w: %w", engine.ErrEngineInitFailed, err)
		}
		return nil, fmt.Errorf("session %d: %w", index, err)
	}

	s := &Session{
		index:     index,
		publisher: publisher,
		debug:     opts.Debug,
		logger:    opts.Logger.With().Str("component", "session").Int("session", index).Logger(),
		engine:    eng,
	}
	eng.Subscribe(s.handleEvent)

	if err := eng.SetState(engine.StateNull); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("session %d: %w: %w", index, engine.ErrEngineInitFailed, err)
	}

	s.logger.Debug().Msg("session created")
	return s, nil
}

// Index returns the session's position in its pool.
func (s *Session) Index() int {
	return s.index
}

// SetSource stops the session, loads uri and requests playback. Absolute
// paths are accepted as file URIs. A nil session, an empty uri or a locator
// without a scheme is ignored.
func (s *Session) SetSource(uri string) error {
	if s == nil {
		return nil
	}
	normalized, ok := normalizeURI(uri)
	if !ok {
		if uri != "" {
			s.logger.Warn().Str("uri", uri).Msg("ignoring invalid source")
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return nil
	}

	if err := s.engine.SetState(engine.StateNull); err != nil {
		return fmt.Errorf("session %d: stop: %w", s.index, err)
	}
	if err := s.engine.SetSource(normalized); err != nil {
		return fmt.Errorf("session %d: set source: %w", s.index, err)
	}
	s.source = normalized
	telemetry.SessionSourceLoadsTotal.WithLabelValues(strconv.Itoa(s.index)).Inc()

	if err := s.engine.SetState(engine.StatePlaying); err != nil {
		return fmt.Errorf("session %d: play: %w", s.index, err)
	}

	s.logger.Info().Str("uri", normalized).Msg("source loaded")
	return nil
}

func normalizeURI(uri string) (string, bool) {
	if uri == "" {
		return "", false
	}
	if filepath.IsAbs(uri) {
		return (&url.URL{Scheme: "file", Path: filepath.Clean(uri)}).String(), true
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	return uri, true
}

// SetTargetState requests a state transition.
func (s *Session) SetTargetState(state engine.State) error {
	if s == nil {
		return nil
	}
	eng := s.currentEngine()
	if eng == nil {
		return nil
	}
	if err := eng.SetState(state); err != nil {
		return fmt.Errorf("session %d: set state %s: %w", s.index, state, err)
	}
	return nil
}

// Destroy forces the engine idle and releases it. Destroying a session
// without a live engine does nothing.
func (s *Session) Destroy() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()

	if eng == nil {
		return nil
	}

	var errs []error
	if err := eng.SetState(engine.StateNull); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := eng.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	s.logger.Debug().Msg("session destroyed")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session %d: %w", s.index, err)
	}
	return nil
}

// Status reports the session's source and engine state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Index: s.index, Source: s.source, State: engine.StateNull.String()}
	if s.engine != nil {
		st.State = s.engine.State().String()
	}
	return st
}

func (s *Session) currentEngine() engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}
