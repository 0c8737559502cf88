/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"errors"
	"path"
	"regexp"
	"strings"
)

// Regular expressions for parsing `gst-launch-1.0 -m` output
var (
	// Got message #34 from element "session0" (state-changed): GstMessageStateChanged, ...
	busMessageRegex = regexp.MustCompile(`^Got message #\d+ from (?:element|pad|object) "([^"]+)" \(([a-z-]+)\)(?::\s*(.*))?$`)

	oldStateRegex     = regexp.MustCompile(`old-state=\(GstState\)(\w+)`)
	newStateRegex     = regexp.MustCompile(`new-state=\(GstState\)(\w+)`)
	pendingStateRegex = regexp.MustCompile(`pending-state=\(GstState\)(\w+)`)

	// ERROR: from element /GstPlayBin:session0/GstURIDecodeBin:uridecodebin0: Resource not found.
	problemRegex = regexp.MustCompile(`^(ERROR|WARNING|INFO): from element (\S+): (.*)$`)

	// ERROR: pipeline could not be constructed: no element "playbin".
	bareErrorRegex = regexp.MustCompile(`^ERROR: (.*)$`)
)

const debugInfoMarker = "Additional debug info:"

// lineParser turns gst-launch output lines into events. Problems are held
// back until their "Additional debug info" continuation has been read.
type lineParser struct {
	pipeline string

	pending     *Event
	expectDebug bool
	sawError    bool
}

func newLineParser(pipeline string) *lineParser {
	return &lineParser{pipeline: pipeline}
}

// feed consumes one line and returns the events it completes.
func (p *lineParser) feed(line string) []Event {
	line = strings.TrimRight(line, "\r")

	if p.expectDebug {
		p.pending.Debug = strings.TrimSpace(line)
		return p.flush()
	}
	if p.pending != nil && strings.TrimSpace(line) == debugInfoMarker {
		p.expectDebug = true
		return nil
	}

	out := p.flush()
	if ev, ok := p.parse(line); ok {
		if isProblem(ev.Type) {
			p.pending = &ev
			return out
		}
		out = append(out, ev)
	}
	return out
}

// flush releases a held-back problem event, if any.
func (p *lineParser) flush() []Event {
	if p.pending == nil {
		return nil
	}
	ev := *p.pending
	p.pending = nil
	p.expectDebug = false
	return []Event{ev}
}

func (p *lineParser) parse(line string) (Event, bool) {
	if m := busMessageRegex.FindStringSubmatch(line); m != nil {
		return p.parseBusMessage(m[1], m[2], m[3])
	}

	if m := problemRegex.FindStringSubmatch(line); m != nil {
		ev := Event{
			Source:  objectName(m[2]),
			Message: strings.TrimSpace(m[3]),
		}
		ev.TopLevel = ev.Source == p.pipeline
		switch m[1] {
		case "ERROR":
			ev.Type = EventError
			p.sawError = true
		case "WARNING":
			ev.Type = EventWarning
		default:
			ev.Type = EventInfo
		}
		return ev, true
	}

	// Follow-up lines such as "ERROR: pipeline doesn't want to preroll."
	// repeat an error already reported.
	if m := bareErrorRegex.FindStringSubmatch(line); m != nil && !p.sawError {
		p.sawError = true
		return Event{
			Type:     EventError,
			Source:   p.pipeline,
			TopLevel: true,
			Message:  strings.TrimSpace(m[1]),
		}, true
	}

	return Event{}, false
}

func (p *lineParser) parseBusMessage(source, kind, details string) (Event, bool) {
	ev := Event{Source: source, TopLevel: source == p.pipeline}

	switch kind {
	case "state-changed":
		oldState, err1 := stateField(oldStateRegex, details)
		newState, err2 := stateField(newStateRegex, details)
		if err1 != nil || err2 != nil {
			return Event{}, false
		}
		ev.Type = EventStateChanged
		ev.OldState = oldState
		ev.NewState = newState
		// VOID_PENDING has no State value; leave it at the new state.
		ev.PendingState = newState
		if pending, err := stateField(pendingStateRegex, details); err == nil {
			ev.PendingState = pending
		}
	case "request-state":
		requested, err := stateField(newStateRegex, details)
		if err != nil {
			return Event{}, false
		}
		ev.Type = EventRequestState
		ev.Requested = requested
	case "latency":
		ev.Type = EventLatency
	case "eos":
		ev.Type = EventEOS
	default:
		// error/warning/info bus messages are reported through their
		// human-readable ERROR:/WARNING:/INFO: lines instead.
		return Event{}, false
	}
	return ev, true
}

func stateField(re *regexp.Regexp, details string) (State, error) {
	m := re.FindStringSubmatch(details)
	if m == nil {
		return StateNull, errNoField
	}
	return ParseState(m[1])
}

var errNoField = errors.New("field not present")

// objectName extracts "source" from "/GstPlayBin:session0/GstFileSrc:source".
func objectName(objectPath string) string {
	last := path.Base(objectPath)
	if i := strings.LastIndexByte(last, ':'); i >= 0 {
		return last[i+1:]
	}
	return last
}

func isProblem(t EventType) bool {
	return t == EventError || t == EventWarning || t == EventInfo
}
