/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/friendsincode/audioservice/internal/engine"
	"github.com/friendsincode/audioservice/internal/telemetry"
)

var (
	// ErrPoolInitFailed is returned when any session of a pool cannot be created.
	ErrPoolInitFailed = errors.New("session pool init failed")

	// ErrNoSuchSession is returned for an index outside the pool.
	ErrNoSuchSession = errors.New("no such session")
)

// Pool is a fixed, index-stable set of sessions.
type Pool struct {
	sessions []*Session

	teardownOnce sync.Once
	teardownErr  error
}

// NewPool creates sessions 0..n-1 in order. If any fails, the ones already
// created are destroyed in reverse order and no further session is created.
func NewPool(n int, factory engine.Factory, publisher Publisher, opts Options) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: pool size %d", ErrPoolInitFailed, n)
	}

	sessions := make([]*Session, 0, n)
	for i := 0; i < n; i++ {
		s, err := New(i, factory, publisher, opts)
		if err != nil {
			for j := len(sessions) - 1; j >= 0; j-- {
				if derr := sessions[j].Destroy(); derr != nil {
					opts.Logger.Warn().Err(derr).Int("session", j).Msg("teardown after failed init")
				}
			}
			return nil, fmt.Errorf("%w: %w", ErrPoolInitFailed, err)
		}
		sessions = append(sessions, s)
	}

	telemetry.SessionsConfigured.Set(float64(n))
	opts.Logger.Info().Int("sessions", n).Msg("session pool ready")
	return &Pool{sessions: sessions}, nil
}

// Len returns the pool size.
func (p *Pool) Len() int {
	return len(p.sessions)
}

// Get returns the session at index.
func (p *Pool) Get(index int) (*Session, error) {
	if index < 0 || index >= len(p.sessions) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSession, index)
	}
	return p.sessions[index], nil
}

// SetSource loads uri into the session at index.
func (p *Pool) SetSource(index int, uri string) error {
	s, err := p.Get(index)
	if err != nil {
		return err
	}
	return s.SetSource(uri)
}

// Statuses reports every session in index order.
func (p *Pool) Statuses() []Status {
	out := make([]Status, len(p.sessions))
	for i, s := range p.sessions {
		out[i] = s.Status()
	}
	return out
}

// Teardown destroys sessions from the highest index down. Only the first
// call has any effect.
func (p *Pool) Teardown() error {
	p.teardownOnce.Do(func() {
		var errs []error
		for i := len(p.sessions) - 1; i >= 0; i-- {
			if err := p.sessions[i].Destroy(); err != nil {
				errs = append(errs, err)
			}
		}
		p.teardownErr = errors.Join(errs...)
	})
	return p.teardownErr
}
