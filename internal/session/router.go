/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"errors"
	"strconv"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/engine"
	"github.com/friendsincode/audioservice/internal/telemetry"
)

// handleEvent runs on the engine's callback goroutine.
func (s *Session) handleEvent(ev engine.Event) {
	eng := s.currentEngine()
	if eng == nil {
		return
	}

	switch ev.Type {
	case engine.EventStateChanged:
		if !ev.TopLevel {
			return
		}
		s.logger.Debug().
			Str("old", ev.OldState.String()).
			Str("new", ev.NewState.String()).
			Str("pending", ev.PendingState.String()).
			Msg("state changed")
		if ev.NewState == engine.StatePlaying {
			s.publish(control.Playing(s.index))
		}

	case engine.EventRequestState:
		s.logger.Debug().Str("source", ev.Source).Str("state", ev.Requested.String()).Msg("state change requested")
		if err := eng.SetState(ev.Requested); err != nil {
			s.logger.Warn().Err(err).Msg("requested state change failed")
		}

	case engine.EventLatency:
		if err := eng.RecalculateLatency(); err != nil {
			s.logger.Warn().Err(err).Msg("latency recalculation failed")
		}

	case engine.EventEOS:
		s.publish(control.EOS(s.index))

	case engine.EventInfo:
		s.logger.Info().Str("source", ev.Source).Str("debug", ev.Debug).Msg(ev.Message)

	case engine.EventWarning:
		s.countProblem(ev)
		s.logger.Warn().Str("source", ev.Source).Str("debug", ev.Debug).Msg(ev.Message)

	case engine.EventError:
		s.countProblem(ev)
		s.logger.Error().Str("source", ev.Source).Str("debug", ev.Debug).Msg(ev.Message)

		if s.debug {
			if err := eng.Dump("error"); err != nil {
				s.logger.Warn().Err(err).Msg("diagnostic dump failed")
			}
		}
		// Stay idle until the next SetSource.
		if err := eng.SetState(engine.StateNull); err != nil {
			s.logger.Warn().Err(err).Msg("stop after error failed")
		}
	}
}

func (s *Session) publish(msg control.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Push(msg); err != nil {
		if errors.Is(err, control.ErrClosed) {
			s.logger.Debug().Str("message", msg.String()).Msg("control channel closed, message dropped")
			return
		}
		s.logger.Error().Err(err).Str("message", msg.String()).Msg("push control message")
	}
}

func (s *Session) countProblem(ev engine.Event) {
	telemetry.SessionErrorsTotal.WithLabelValues(strconv.Itoa(s.index), string(ev.Type)).Inc()
}
