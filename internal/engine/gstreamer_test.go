package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const stateLine = `echo 'Got message #%d from element "session0" (state-changed): GstMessageStateChanged, old-state=(GstState)GST_STATE_%s, new-state=(GstState)GST_STATE_%s, pending-state=(GstState)GST_STATE_VOID_PENDING;'`

// fakeLaunch writes a shell script standing in for gst-launch-1.0.
func fakeLaunch(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gst-launch-1.0")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake gst-launch: %v", err)
	}
	return path
}

func toPlaying() string {
	return strings.Join([]string{
		fmt.Sprintf(stateLine, 1, "NULL", "READY"),
		fmt.Sprintf(stateLine, 2, "READY", "PAUSED"),
		fmt.Sprintf(stateLine, 3, "PAUSED", "PLAYING"),
	}, "\n")
}

func newTestGStreamer(t *testing.T, bin string, cfg GStreamerConfig) (*GStreamer, chan Event) {
	t.Helper()

	cfg.Name = "session0"
	cfg.Bin = bin
	cfg.StopTimeout = 2 * time.Second

	g, err := NewGStreamer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGStreamer() error: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })

	events := make(chan Event, 64)
	g.Subscribe(func(ev Event) { events <- ev })
	return g, events
}

func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for engine event")
			return Event{}
		}
	}
}

func reached(s State) func(Event) bool {
	return func(ev Event) bool {
		return ev.Type == EventStateChanged && ev.TopLevel && ev.NewState == s
	}
}

func TestNewGStreamer_MissingBinary(t *testing.T) {
	_, err := NewGStreamer(GStreamerConfig{Bin: filepath.Join(t.TempDir(), "no-such-gst-launch")}, zerolog.Nop())
	if !errors.Is(err, ErrEngineInitFailed) {
		t.Fatalf("error = %v, want ErrEngineInitFailed", err)
	}
}

func TestGStreamer_PlayWithoutSource(t *testing.T) {
	g, _ := newTestGStreamer(t, fakeLaunch(t, "exec sleep 30"), GStreamerConfig{})

	if err := g.SetState(StatePlaying); !errors.Is(err, ErrNoSource) {
		t.Fatalf("SetState(PLAYING) error = %v, want ErrNoSource", err)
	}
	if g.State() != StateNull {
		t.Errorf("State() = %s, want NULL", g.State())
	}
}

func TestGStreamer_PlayThenStop(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := fakeLaunch(t, `printf '%s\n' "$@" > `+argsFile+"\n"+toPlaying()+"\nexec sleep 30")

	g, events := newTestGStreamer(t, bin, GStreamerConfig{VideoSink: "fakesink"})

	if err := g.SetSource("file:///music/a.mp3"); err != nil {
		t.Fatalf("SetSource() error: %v", err)
	}
	if err := g.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState(PLAYING) error: %v", err)
	}

	waitFor(t, events, reached(StatePlaying))
	if g.State() != StatePlaying {
		t.Errorf("State() = %s, want PLAYING", g.State())
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := strings.Fields(string(data))
	want := []string{"-m", "playbin", "name=session0", "uri=file:///music/a.mp3", "video-sink=fakesink"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("gst-launch args = %v, want %v", args, want)
	}

	if err := g.SetState(StateNull); err != nil {
		t.Fatalf("SetState(NULL) error: %v", err)
	}
	if g.State() != StateNull {
		t.Errorf("State() after stop = %s, want NULL", g.State())
	}
}

func TestGStreamer_PauseResume(t *testing.T) {
	g, events := newTestGStreamer(t, fakeLaunch(t, toPlaying()+"\nexec sleep 30"), GStreamerConfig{})

	_ = g.SetSource("file:///music/a.mp3")
	if err := g.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState(PLAYING) error: %v", err)
	}
	waitFor(t, events, reached(StatePlaying))

	if err := g.SetState(StatePaused); err != nil {
		t.Fatalf("SetState(PAUSED) error: %v", err)
	}
	ev := waitFor(t, events, reached(StatePaused))
	if ev.OldState != StatePlaying {
		t.Errorf("pause transition from %s, want PLAYING", ev.OldState)
	}

	if err := g.SetState(StatePlaying); err != nil {
		t.Fatalf("resume error: %v", err)
	}
	waitFor(t, events, reached(StatePlaying))
}

func TestGStreamer_ErrorExit(t *testing.T) {
	body := toPlaying() + `
echo 'ERROR: from element /GstPlayBin:session0/GstURIDecodeBin:uridecodebin0: Could not decode stream.'
echo 'Additional debug info:'
echo 'gsturidecodebin.c(1234): no suitable plugins found'
exit 1`
	g, events := newTestGStreamer(t, fakeLaunch(t, body), GStreamerConfig{})

	_ = g.SetSource("file:///music/broken.mp3")
	if err := g.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState(PLAYING) error: %v", err)
	}

	errEv := waitFor(t, events, func(ev Event) bool { return ev.Type == EventError })
	if errEv.Message != "Could not decode stream." {
		t.Errorf("error message = %q", errEv.Message)
	}
	if errEv.Debug == "" {
		t.Error("error debug info missing")
	}

	ev := waitFor(t, events, reached(StateNull))
	if ev.OldState != StatePlaying {
		t.Errorf("exit transition from %s, want PLAYING", ev.OldState)
	}
}

func TestGStreamer_CrashWithoutErrorLine(t *testing.T) {
	g, events := newTestGStreamer(t, fakeLaunch(t, "exit 3"), GStreamerConfig{})

	_ = g.SetSource("file:///music/a.mp3")
	if err := g.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState(PLAYING) error: %v", err)
	}

	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventError })
	if !strings.Contains(ev.Message, "exited") {
		t.Errorf("synthesized error message = %q", ev.Message)
	}
}

func TestGStreamer_Dump(t *testing.T) {
	dumpDir := t.TempDir()
	g, events := newTestGStreamer(t, fakeLaunch(t, toPlaying()+"\nexec sleep 30"), GStreamerConfig{DumpDir: dumpDir})

	_ = g.SetSource("file:///music/a.mp3")
	if err := g.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState(PLAYING) error: %v", err)
	}
	waitFor(t, events, reached(StatePlaying))

	if err := g.Dump("error"); err != nil {
		t.Fatalf("Dump() error: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dumpDir, "*-session0-error.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("dump files = %v (err %v), want 1", matches, err)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), "GST_STATE_PLAYING") {
		t.Errorf("dump does not contain recent output:\n%s", data)
	}
}

func TestGStreamer_ClosedRejectsCommands(t *testing.T) {
	g, _ := newTestGStreamer(t, fakeLaunch(t, "exec sleep 30"), GStreamerConfig{})

	if err := g.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := g.SetSource("file:///a.mp3"); !errors.Is(err, ErrClosed) {
		t.Errorf("SetSource after Close = %v, want ErrClosed", err)
	}
	if err := g.SetState(StatePlaying); !errors.Is(err, ErrClosed) {
		t.Errorf("SetState after Close = %v, want ErrClosed", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
