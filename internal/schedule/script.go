/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule loads and runs scripted source loads: a list of
// "play this URI on that session after this delay" tasks.
package schedule

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Task loads URI into Session once After has elapsed from the start of a run.
type Task struct {
	Session int           `yaml:"session"`
	URI     string        `yaml:"uri"`
	After   time.Duration `yaml:"after"`
}

// Script is an ordered task list.
type Script struct {
	Tasks []Task `yaml:"tasks"`
}

// Load reads and validates a YAML script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every task.
func (s *Script) Validate() error {
	var errs []error
	for i, t := range s.Tasks {
		if t.Session < 0 {
			errs = append(errs, fmt.Errorf("task %d: session must be >= 0", i))
		}
		if t.URI == "" {
			errs = append(errs, fmt.Errorf("task %d: uri is required", i))
		}
		if t.After < 0 {
			errs = append(errs, fmt.Errorf("task %d: after must be >= 0", i))
		}
	}
	return errors.Join(errs...)
}

// ordered returns the tasks by ascending delay, file order on ties.
func (s *Script) ordered() []Task {
	tasks := append([]Task(nil), s.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].After < tasks[j].After })
	return tasks
}
