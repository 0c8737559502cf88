/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/audioservice/internal/queue"
)

const (
	defaultStopTimeout = 5 * time.Second

	// Number of output lines kept for diagnostic dumps
	tailLines = 200
)

// GStreamerConfig contains configuration for one playbin pipeline.
type GStreamerConfig struct {
	Name        string // pipeline name; events from this object are top-level
	Bin         string // gst-launch binary, resolved through PATH
	VideoSink   string // e.g. "fakesink" for audio-only deployments
	DumpDir     string // diagnostic dumps; empty disables them
	StopTimeout time.Duration
}

// GStreamer drives a `gst-launch-1.0 -m playbin` child process and turns its
// bus message output into engine events.
type GStreamer struct {
	cfg    GStreamerConfig
	bin    string
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	uri     string
	proc    *gstProcess
	frozen  bool
	closed  bool
	handler Handler

	// Events are posted from reader goroutines and SetState callers and
	// delivered to the handler by a single dispatcher goroutine.
	bus     *queue.Queue[Event]
	busDone chan struct{}

	tailMu sync.Mutex
	tail   []string
}

// gstProcess is one run of gst-launch.
type gstProcess struct {
	cmd       *exec.Cmd
	startTime time.Time
	exited    chan struct{}
	readDone  chan struct{}
	waitErr   error
	stopping  atomic.Bool
}

// NewGStreamer creates an idle pipeline. It fails with ErrEngineInitFailed
// when the gst-launch binary cannot be found.
func NewGStreamer(cfg GStreamerConfig, logger zerolog.Logger) (*GStreamer, error) {
	if cfg.Bin == "" {
		cfg.Bin = "gst-launch-1.0"
	}
	if cfg.Name == "" {
		cfg.Name = "pipeline0"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	bin, err := exec.LookPath(cfg.Bin)
	if err != nil {
		return nil, fmt.Errorf("%w: gstreamer is not installed properly: %v", ErrEngineInitFailed, err)
	}

	g := &GStreamer{
		cfg:     cfg,
		bin:     bin,
		logger:  logger.With().Str("component", "gstreamer").Str("pipeline", cfg.Name).Logger(),
		state:   StateNull,
		bus:     queue.New[Event](),
		busDone: make(chan struct{}),
	}
	go g.dispatch()

	return g, nil
}

// NewGStreamerFactory returns a Factory naming each pipeline "session<index>".
func NewGStreamerFactory(cfg GStreamerConfig, logger zerolog.Logger) Factory {
	return func(index int) (Engine, error) {
		c := cfg
		c.Name = fmt.Sprintf("session%d", index)
		return NewGStreamer(c, logger)
	}
}

// Subscribe installs the event handler.
func (g *GStreamer) Subscribe(h Handler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

// State returns the last observed top-level state.
func (g *GStreamer) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetSource sets the playbin uri used by the next start.
func (g *GStreamer) SetSource(uri string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	g.uri = uri
	if g.proc != nil {
		g.logger.Warn().Str("uri", uri).Msg("source changed while running, applies on next start")
	}
	return nil
}

// SetState maps pipeline states onto the child process: NULL and READY stop
// it, PAUSED freezes its process group, PLAYING resumes or starts it.
func (g *GStreamer) SetState(target State) error {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}

	switch target {
	case StateNull, StateReady:
		proc := g.proc
		g.proc = nil
		g.frozen = false
		g.state = target
		g.mu.Unlock()

		if proc != nil {
			return g.stop(proc)
		}
		return nil

	case StatePaused:
		defer g.mu.Unlock()
		if g.proc == nil {
			return fmt.Errorf("cannot pause pipeline in state %s", g.state)
		}
		if g.frozen {
			return nil
		}
		if err := signalGroup(g.proc.cmd, syscall.SIGSTOP); err != nil {
			return fmt.Errorf("pause pipeline: %w", err)
		}
		g.frozen = true
		g.transitionLocked(StatePaused)
		return nil

	case StatePlaying:
		defer g.mu.Unlock()
		if g.proc != nil {
			if !g.frozen {
				return nil
			}
			if err := signalGroup(g.proc.cmd, syscall.SIGCONT); err != nil {
				return fmt.Errorf("resume pipeline: %w", err)
			}
			g.frozen = false
			g.transitionLocked(StatePlaying)
			return nil
		}
		if g.uri == "" {
			return ErrNoSource
		}
		return g.startLocked()
	}

	g.mu.Unlock()
	return fmt.Errorf("unsupported target state %s", target)
}

// RecalculateLatency is handled by gst-launch itself when it sees the
// latency message.
func (g *GStreamer) RecalculateLatency() error {
	g.logger.Trace().Msg("latency redistribution delegated to gst-launch")
	return nil
}

// Dump writes the most recent output lines to the dump directory.
func (g *GStreamer) Dump(tag string) error {
	if g.cfg.DumpDir == "" {
		return nil
	}

	g.tailMu.Lock()
	data := strings.Join(g.tail, "\n") + "\n"
	g.tailMu.Unlock()

	name := fmt.Sprintf("%s-%s-%s.log", time.Now().UTC().Format("20060102T150405.000"), g.cfg.Name, tag)
	path := filepath.Join(g.cfg.DumpDir, name)

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			g.logger.Debug().Err(err).Msg("cleanup pending dump file")
		}
	}()

	if _, err := pendingFile.WriteString(data); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace dump file: %w", err)
	}

	g.logger.Info().Str("path", path).Msg("wrote pipeline dump")
	return nil
}

// Close stops the pipeline and the dispatcher. It must not be called from
// the event handler.
func (g *GStreamer) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	proc := g.proc
	g.proc = nil
	g.frozen = false
	g.state = StateNull
	g.mu.Unlock()

	var err error
	if proc != nil {
		err = g.stop(proc)
	}

	g.bus.Close()
	<-g.busDone
	return err
}

// Internal methods

func (g *GStreamer) startLocked() error {
	args := []string{"-m", "playbin", "name=" + g.cfg.Name, "uri=" + g.uri}
	if g.cfg.VideoSink != "" {
		args = append(args, "video-sink="+g.cfg.VideoSink)
	}

	cmd := exec.Command(g.bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	if g.cfg.DumpDir != "" {
		cmd.Env = append(cmd.Env, "GST_DEBUG_DUMP_DOT_DIR="+g.cfg.DumpDir)
	}

	// stdout and stderr share one pipe so a single reader sees lines in
	// the order gst-launch wrote them.
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("start %s: %w", g.bin, err)
	}
	w.Close()

	proc := &gstProcess{
		cmd:       cmd,
		startTime: time.Now(),
		exited:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	g.proc = proc

	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.exited)
	}()
	go g.read(proc, r)

	g.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("uri", g.uri).
		Msg("GStreamer process started")

	return nil
}

func (g *GStreamer) stop(proc *gstProcess) error {
	proc.stopping.Store(true)

	// A frozen group would never handle the interrupt.
	if err := signalGroup(proc.cmd, syscall.SIGCONT); err != nil {
		g.logger.Debug().Err(err).Msg("failed to continue process group")
	}
	if err := signalGroup(proc.cmd, syscall.SIGINT); err != nil {
		g.logger.Warn().Err(err).Msg("failed to send interrupt signal")
	}

	var err error
	select {
	case <-proc.exited:
	case <-time.After(g.cfg.StopTimeout):
		g.logger.Warn().Msg("graceful shutdown timeout, force killing")
		if err = signalGroup(proc.cmd, syscall.SIGKILL); err != nil {
			g.logger.Error().Err(err).Msg("failed to kill process group")
		}
		<-proc.exited
	}
	<-proc.readDone

	g.logger.Info().
		Dur("uptime", time.Since(proc.startTime)).
		Msg("GStreamer process stopped")
	return err
}

func (g *GStreamer) read(proc *gstProcess, r *os.File) {
	defer close(proc.readDone)
	defer r.Close()

	parser := newLineParser(g.cfg.Name)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()
		g.record(line)

		g.logger.Trace().Str("line", line).Msg("gst output")

		for _, ev := range parser.feed(line) {
			g.observe(proc, ev)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		g.logger.Error().Err(err).Msg("error reading gst output")
	}
	for _, ev := range parser.flush() {
		g.observe(proc, ev)
	}

	<-proc.exited
	g.processExited(proc, parser.sawError)
}

// observe posts an event from proc unless proc has been superseded.
func (g *GStreamer) observe(proc *gstProcess, ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.proc != proc || proc.stopping.Load() {
		return
	}
	if ev.Type == EventStateChanged && ev.TopLevel {
		g.state = ev.NewState
	}
	g.bus.Push(ev)
}

func (g *GStreamer) processExited(proc *gstProcess, sawError bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.proc != proc || proc.stopping.Load() {
		return
	}
	g.proc = nil
	g.frozen = false

	if proc.waitErr != nil {
		g.logger.Error().Err(proc.waitErr).Msg("GStreamer process exited with error")
		if !sawError {
			g.bus.Push(Event{
				Type:     EventError,
				Source:   g.cfg.Name,
				TopLevel: true,
				Message:  fmt.Sprintf("gst-launch exited: %v", proc.waitErr),
			})
		}
	} else {
		g.logger.Info().Msg("GStreamer process exited normally")
	}

	g.transitionLocked(StateNull)
}

// transitionLocked records and posts a synthesized top-level state change.
func (g *GStreamer) transitionLocked(to State) {
	from := g.state
	if from == to {
		return
	}
	g.state = to
	g.bus.Push(Event{
		Type:         EventStateChanged,
		Source:       g.cfg.Name,
		TopLevel:     true,
		OldState:     from,
		NewState:     to,
		PendingState: to,
	})
}

func (g *GStreamer) dispatch() {
	defer close(g.busDone)

	for {
		ev, ok := g.bus.Pop()
		if !ok {
			return
		}

		g.mu.Lock()
		h := g.handler
		g.mu.Unlock()

		if h != nil {
			h(ev)
		}
	}
}

func (g *GStreamer) record(line string) {
	g.tailMu.Lock()
	defer g.tailMu.Unlock()

	if len(g.tail) == tailLines {
		copy(g.tail, g.tail[1:])
		g.tail = g.tail[:tailLines-1]
	}
	g.tail = append(g.tail, line)
}

// signalGroup signals the process group led by cmd. An exited process is
// not an error.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// Setpgid makes the child a group leader with PGID == PID.
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}
