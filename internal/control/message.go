/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import (
	"errors"
	"fmt"

	"github.com/friendsincode/audioservice/internal/queue"
	"github.com/friendsincode/audioservice/internal/telemetry"
)

var (
	// ErrClosed is returned for messages pushed after shutdown.
	ErrClosed = errors.New("control channel closed")

	// ErrInvalidMessage is returned for messages with an unknown kind.
	ErrInvalidMessage = errors.New("invalid control message")
)

// Kind tags a control message.
type Kind int

const (
	KindPlaying Kind = iota + 1
	KindEOS

	// kindShutdown is the sentinel that stops the worker. It cannot be pushed
	// from outside the package.
	kindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindPlaying:
		return "Playing"
	case KindEOS:
		return "EOS"
	case kindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is one notification from a session to the control sink.
type Message struct {
	Session int
	Kind    Kind
}

// Playing reports that session reached the playing state.
func Playing(session int) Message { return Message{Session: session, Kind: KindPlaying} }

// EOS reports that session reached the end of its stream.
func EOS(session int) Message { return Message{Session: session, Kind: KindEOS} }

// String renders the outbound line, e.g. "1: Playing".
func (m Message) String() string {
	return fmt.Sprintf("%d: %s", m.Session, m.Kind)
}

var shutdownSentinel = Message{Session: -1, Kind: kindShutdown}

// Queue is the shared many-producer, one-consumer message queue. Sessions
// push into it from their engine callbacks; a Channel drains it.
type Queue struct {
	items *queue.Queue[Message]
}

// NewQueue creates an open queue.
func NewQueue() *Queue {
	return &Queue{items: queue.New[Message]()}
}

// Push enqueues msg without blocking. It fails with ErrClosed once the
// queue has been shut down.
func (q *Queue) Push(msg Message) error {
	if msg.Kind != KindPlaying && msg.Kind != KindEOS {
		return fmt.Errorf("%w: kind %d", ErrInvalidMessage, int(msg.Kind))
	}
	if !q.items.Push(msg) {
		return ErrClosed
	}
	telemetry.ControlQueueDepth.Inc()
	return nil
}

func (q *Queue) pop() (Message, bool) {
	msg, ok := q.items.Pop()
	if ok && msg.Kind != kindShutdown {
		telemetry.ControlQueueDepth.Dec()
	}
	return msg, ok
}

// shutdown queues the sentinel behind everything already pushed and closes
// the queue to producers.
func (q *Queue) shutdown() bool {
	return q.items.CloseWith(shutdownSentinel)
}
