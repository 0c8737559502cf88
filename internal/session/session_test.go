package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/engine"
	"github.com/friendsincode/audioservice/internal/engine/enginetest"
	"github.com/friendsincode/audioservice/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type recorder struct {
	mu   sync.Mutex
	msgs []control.Message
	err  error
}

func (r *recorder) Push(msg control.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.String()
	}
	return out
}

func newTestSession(t *testing.T, debug bool) (*Session, *enginetest.Fake, *recorder) {
	t.Helper()

	factory := enginetest.NewFactory()
	rec := &recorder{}
	s, err := New(0, factory.New, rec, Options{Debug: debug, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	fake := factory.Engine(0)
	fake.ResetCalls()
	return s, fake, rec
}

func ops(calls []enginetest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		switch c.Op {
		case "set-state":
			out[i] = c.Op + " " + c.State.String()
		case "set-source", "dump":
			out[i] = c.Op + " " + c.Arg
		default:
			out[i] = c.Op
		}
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_EngineFailure(t *testing.T) {
	factory := enginetest.NewFactory()
	factory.FailAt = 0

	_, err := New(0, factory.New, &recorder{}, Options{Logger: zerolog.Nop()})
	if !errors.Is(err, engine.ErrEngineInitFailed) {
		t.Fatalf("error = %v, want ErrEngineInitFailed", err)
	}
}

func TestNew_WrapsPlainFactoryError(t *testing.T) {
	factory := func(int) (engine.Engine, error) { return nil, errors.New("no backend") }

	_, err := New(3, factory, &recorder{}, Options{Logger: zerolog.Nop()})
	if !errors.Is(err, engine.ErrEngineInitFailed) {
		t.Fatalf("error = %v, want ErrEngineInitFailed", err)
	}
}

func TestNew_StartsIdle(t *testing.T) {
	factory := enginetest.NewFactory()
	if _, err := New(0, factory.New, &recorder{}, Options{Logger: zerolog.Nop()}); err != nil {
		t.Fatalf("New() error: %v", err)
	}

	got := ops(factory.Engine(0).Calls())
	if !equal(got, []string{"set-state NULL"}) {
		t.Errorf("calls = %v, want [set-state NULL]", got)
	}
}

func TestSession_SetSourceStopsLoadsAndPlays(t *testing.T) {
	s, fake, _ := newTestSession(t, false)

	if err := s.SetSource("file:///a.mp3"); err != nil {
		t.Fatalf("SetSource() error: %v", err)
	}

	want := []string{"set-state NULL", "set-source file:///a.mp3", "set-state PLAYING"}
	if got := ops(fake.Calls()); !equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if st := s.Status(); st.Source != "file:///a.mp3" || st.State != "PLAYING" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestSession_SetSourceAbsolutePath(t *testing.T) {
	s, fake, _ := newTestSession(t, false)

	if err := s.SetSource("/music/My Song.mp3"); err != nil {
		t.Fatalf("SetSource() error: %v", err)
	}
	if got := fake.Source(); got != "file:///music/My%20Song.mp3" {
		t.Errorf("Source() = %q", got)
	}
}

func TestSession_SetSourceIgnoresMissingInput(t *testing.T) {
	s, fake, _ := newTestSession(t, false)

	for _, uri := range []string{"", "relative/song.mp3"} {
		if err := s.SetSource(uri); err != nil {
			t.Errorf("SetSource(%q) error: %v", uri, err)
		}
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", ops(calls))
	}

	var nilSession *Session
	if err := nilSession.SetSource("file:///a.mp3"); err != nil {
		t.Errorf("nil session SetSource error: %v", err)
	}
}

func TestSession_PlayingMessageOnlyFromPipeline(t *testing.T) {
	s, fake, rec := newTestSession(t, false)
	_ = s.SetSource("file:///a.mp3")

	fake.Emit(engine.Event{
		Type:     engine.EventStateChanged,
		Source:   "pulsesink0",
		NewState: engine.StatePlaying,
	})
	fake.Reach(engine.StatePaused)
	if got := rec.lines(); len(got) != 0 {
		t.Fatalf("messages before playing = %v", got)
	}

	fake.Reach(engine.StatePlaying)
	if got := rec.lines(); !equal(got, []string{"0: Playing"}) {
		t.Errorf("messages = %v, want [0: Playing]", got)
	}
}

func TestSession_EOSMessage(t *testing.T) {
	_, fake, rec := newTestSession(t, false)

	fake.Emit(engine.Event{Type: engine.EventEOS, Source: "session0", TopLevel: true})
	if got := rec.lines(); !equal(got, []string{"0: EOS"}) {
		t.Errorf("messages = %v, want [0: EOS]", got)
	}
}

func TestSession_RequestStateAndLatency(t *testing.T) {
	_, fake, rec := newTestSession(t, false)

	fake.Emit(engine.Event{Type: engine.EventRequestState, Source: "pulsesink0", Requested: engine.StatePaused})
	fake.Emit(engine.Event{Type: engine.EventLatency, Source: "session0", TopLevel: true})

	want := []string{"set-state PAUSED", "recalculate-latency"}
	if got := ops(fake.Calls()); !equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if got := rec.lines(); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
}

func TestSession_ErrorForcesIdle(t *testing.T) {
	s, fake, rec := newTestSession(t, false)
	_ = s.SetSource("file:///a.mp3")
	fake.ResetCalls()

	fake.Emit(engine.Event{Type: engine.EventError, Source: "source", Message: "Resource not found."})

	if got := ops(fake.Calls()); !equal(got, []string{"set-state NULL"}) {
		t.Errorf("calls = %v, want [set-state NULL]", got)
	}
	if fake.State() != engine.StateNull {
		t.Errorf("state = %s, want NULL", fake.State())
	}
	if got := rec.lines(); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
}

func TestSession_ErrorDumpsInDebug(t *testing.T) {
	_, fake, _ := newTestSession(t, true)

	fake.Emit(engine.Event{Type: engine.EventError, Source: "source", Message: "boom"})

	want := []string{"dump error", "set-state NULL"}
	if got := ops(fake.Calls()); !equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestSession_WarningDoesNotStop(t *testing.T) {
	_, fake, _ := newTestSession(t, false)

	fake.Emit(engine.Event{Type: engine.EventWarning, Source: "pulsesink0", Message: "underrun"})
	fake.Emit(engine.Event{Type: engine.EventInfo, Source: "session0", Message: "redirect"})

	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", ops(calls))
	}
}

func TestSession_ErrorMetricSkipsInfo(t *testing.T) {
	_, fake, _ := newTestSession(t, false)
	counter := func(severity engine.EventType) float64 {
		return testutil.ToFloat64(telemetry.SessionErrorsTotal.WithLabelValues("0", string(severity)))
	}
	info, warning, failure := counter(engine.EventInfo), counter(engine.EventWarning), counter(engine.EventError)

	fake.Emit(engine.Event{Type: engine.EventInfo, Source: "session0", Message: "redirect"})
	fake.Emit(engine.Event{Type: engine.EventWarning, Source: "pulsesink0", Message: "underrun"})
	fake.Emit(engine.Event{Type: engine.EventError, Source: "session0", Message: "decode failed"})

	if got := counter(engine.EventInfo) - info; got != 0 {
		t.Errorf("info counted %v times, want 0", got)
	}
	if got := counter(engine.EventWarning) - warning; got != 1 {
		t.Errorf("warning counted %v times, want 1", got)
	}
	if got := counter(engine.EventError) - failure; got != 1 {
		t.Errorf("error counted %v times, want 1", got)
	}
}

func TestSession_PushAfterCloseIsDropped(t *testing.T) {
	_, fake, rec := newTestSession(t, false)
	rec.err = control.ErrClosed

	fake.Reach(engine.StatePlaying)
	if got := rec.lines(); len(got) != 0 {
		t.Errorf("messages = %v", got)
	}
}

func TestSession_Destroy(t *testing.T) {
	s, fake, rec := newTestSession(t, false)

	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	want := []string{"set-state NULL", "close"}
	if got := ops(fake.Calls()); !equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}

	fake.ResetCalls()
	if err := s.Destroy(); err != nil {
		t.Errorf("second Destroy() error: %v", err)
	}
	if err := s.SetSource("file:///a.mp3"); err != nil {
		t.Errorf("SetSource after Destroy error: %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventEOS, TopLevel: true})

	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("calls after destroy = %v", ops(calls))
	}
	if got := rec.lines(); len(got) != 0 {
		t.Errorf("messages after destroy = %v", got)
	}
	if st := s.Status(); st.State != "NULL" {
		t.Errorf("Status().State = %q, want NULL", st.State)
	}
}
