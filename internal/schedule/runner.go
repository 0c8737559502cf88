/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"time"

	"github.com/friendsincode/audioservice/internal/telemetry"
	"github.com/rs/zerolog"
)

// Dispatcher loads a source into a session.
type Dispatcher interface {
	Dispatch(index int, uri string) error
}

// Runner fires a script's tasks against a dispatcher.
type Runner struct {
	script *Script
	target Dispatcher
	logger zerolog.Logger
}

// NewRunner creates a runner for script.
func NewRunner(script *Script, target Dispatcher, logger zerolog.Logger) *Runner {
	return &Runner{
		script: script,
		target: target,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// Run fires tasks in order of their delay, measured from the call. Dispatch
// failures are logged and do not stop the run. Run returns nil once every
// task has fired, or ctx.Err() if cancelled first.
func (r *Runner) Run(ctx context.Context) error {
	tasks := r.script.ordered()
	start := time.Now()
	r.logger.Info().Int("tasks", len(tasks)).Msg("script started")

	for _, task := range tasks {
		if wait := time.Until(start.Add(task.After)); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.target.Dispatch(task.Session, task.URI); err != nil {
			telemetry.ScheduledTasksTotal.WithLabelValues("error").Inc()
			r.logger.Warn().Err(err).Int("session", task.Session).Str("uri", task.URI).Msg("scheduled load failed")
			continue
		}
		telemetry.ScheduledTasksTotal.WithLabelValues("ok").Inc()
		r.logger.Debug().Int("session", task.Session).Str("uri", task.URI).Msg("scheduled load fired")
	}

	r.logger.Info().Msg("script finished")
	return nil
}
