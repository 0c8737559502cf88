/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine defines the narrow surface a playback session needs from a
// media backend, and a GStreamer implementation of it.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEngineInitFailed is returned when a pipeline cannot be constructed.
	ErrEngineInitFailed = errors.New("engine init failed")

	// ErrNoSource is returned when playback is requested before a source was set.
	ErrNoSource = errors.New("no source set")

	// ErrClosed is returned by engines that have been released.
	ErrClosed = errors.New("engine closed")
)

// State mirrors the pipeline states of the backend.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

// String returns the backend name of the state.
func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState accepts "PLAYING", "playing" and "GST_STATE_PLAYING" forms.
func ParseState(s string) (State, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "GST_STATE_")
	switch name {
	case "NULL":
		return StateNull, nil
	case "READY":
		return StateReady, nil
	case "PAUSED":
		return StatePaused, nil
	case "PLAYING":
		return StatePlaying, nil
	}
	return StateNull, fmt.Errorf("unknown state %q", s)
}

// EventType enumerates the asynchronous notifications an engine delivers.
type EventType string

const (
	EventStateChanged EventType = "state-changed"
	EventRequestState EventType = "request-state"
	EventLatency      EventType = "latency"
	EventEOS          EventType = "eos"
	EventInfo         EventType = "info"
	EventWarning      EventType = "warning"
	EventError        EventType = "error"
)

// Event is one notification posted by an engine.
type Event struct {
	Type EventType

	// Source names the object that posted the event.
	Source string
	// TopLevel is set when Source is the pipeline itself rather than one of
	// its children.
	TopLevel bool

	// State fields are set for state-changed; Requested for request-state.
	OldState     State
	NewState     State
	PendingState State
	Requested    State

	// Message and Debug are set for info, warning and error.
	Message string
	Debug   string
}

// Handler receives engine events. An engine calls its handler from a single
// goroutine at a time, in posting order.
type Handler func(Event)

// Engine is one playback pipeline instance.
type Engine interface {
	// SetState requests a state transition. Completion is reported later
	// through state-changed events.
	SetState(State) error
	// SetSource assigns the URI played on the next transition to PLAYING.
	SetSource(uri string) error
	// Subscribe installs the event handler, replacing any previous one.
	Subscribe(Handler)
	// State returns the state the pipeline was last observed in.
	State() State
	// RecalculateLatency redistributes latency after a latency event.
	RecalculateLatency() error
	// Dump writes a diagnostic snapshot tagged with tag.
	Dump(tag string) error
	// Close forces the pipeline to NULL and releases it.
	Close() error
}

// Factory constructs the engine for the session with the given index.
type Factory func(index int) (Engine, error)
