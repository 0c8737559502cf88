/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"fmt"
	"sync"

	"github.com/friendsincode/audioservice/internal/engine"
)

// Call records one command issued to a Fake.
type Call struct {
	Op    string // "set-state", "set-source", "recalculate-latency", "dump", "close"
	State engine.State
	Arg   string
}

// Fake implements engine.Engine. It never changes state on its own; tests
// drive it with Emit.
type Fake struct {
	Index int

	mu      sync.Mutex
	handler engine.Handler
	state   engine.State
	source  string
	closed  bool
	calls   []Call

	// emitMu serializes Emit the way a real engine serializes its callbacks.
	emitMu sync.Mutex
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) record(c Call) {
	f.calls = append(f.calls, c)
}

// SetState records the request and adopts the target state immediately.
func (f *Fake) SetState(s engine.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return engine.ErrClosed
	}
	f.record(Call{Op: "set-state", State: s})
	f.state = s
	return nil
}

func (f *Fake) SetSource(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return engine.ErrClosed
	}
	f.record(Call{Op: "set-source", Arg: uri})
	f.source = uri
	return nil
}

func (f *Fake) Subscribe(h engine.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *Fake) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) RecalculateLatency() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "recalculate-latency"})
	return nil
}

func (f *Fake) Dump(tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "dump", Arg: tag})
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "close"})
	f.closed = true
	f.state = engine.StateNull
	return nil
}

// Emit delivers ev to the subscribed handler on the calling goroutine.
func (f *Fake) Emit(ev engine.Event) {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()

	f.mu.Lock()
	h := f.handler
	if ev.Type == engine.EventStateChanged && ev.TopLevel {
		f.state = ev.NewState
	}
	f.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

// Reach emits a top-level state change from the current state to s.
func (f *Fake) Reach(s engine.State) {
	old := f.State()
	f.Emit(engine.Event{
		Type:         engine.EventStateChanged,
		Source:       fmt.Sprintf("session%d", f.Index),
		TopLevel:     true,
		OldState:     old,
		NewState:     s,
		PendingState: s,
	})
}

// Calls returns a copy of the recorded commands.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// ResetCalls forgets recorded commands.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Source returns the last source set.
func (f *Fake) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Factory builds Fakes and records creation and close order.
type Factory struct {
	// FailAt makes construction of that index fail; negative disables it.
	FailAt int

	mu      sync.Mutex
	engines []*Fake
	created []int
	closed  []int
}

// NewFactory returns a factory that never fails.
func NewFactory() *Factory {
	return &Factory{FailAt: -1}
}

// New satisfies engine.Factory.
func (fc *Factory) New(index int) (engine.Engine, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.created = append(fc.created, index)
	if index == fc.FailAt {
		return nil, fmt.Errorf("%w: fake failure at %d", engine.ErrEngineInitFailed, index)
	}

	f := &Fake{Index: index}
	fc.engines = append(fc.engines, f)
	return &closeRecorder{Fake: f, factory: fc}, nil
}

// Engine returns the fake built for index, or nil.
func (fc *Factory) Engine(index int) *Fake {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, f := range fc.engines {
		if f.Index == index {
			return f
		}
	}
	return nil
}

// Created returns the indices construction was attempted for, in order.
func (fc *Factory) Created() []int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]int(nil), fc.created...)
}

// ClosedOrder returns the indices of closed engines, in close order.
func (fc *Factory) ClosedOrder() []int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]int(nil), fc.closed...)
}

type closeRecorder struct {
	*Fake
	factory *Factory
}

func (c *closeRecorder) Close() error {
	c.factory.mu.Lock()
	c.factory.closed = append(c.factory.closed, c.Index)
	c.factory.mu.Unlock()
	return c.Fake.Close()
}
