package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type call struct {
	index int
	uri   string
}

type recordDispatcher struct {
	mu    sync.Mutex
	calls []call
	fail  map[int]error
}

func (d *recordDispatcher) Dispatch(index int, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{index, uri})
	return d.fail[index]
}

func (d *recordDispatcher) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(`
tasks:
  - session: 1
    uri: file:///a.mp3
    after: 3s
  - session: 0
    uri: file:///b.mp3
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(s.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(s.Tasks))
	}
	if s.Tasks[0].After != 3*time.Second || s.Tasks[1].After != 0 {
		t.Errorf("delays = %v, %v", s.Tasks[0].After, s.Tasks[1].After)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`
tasks:
  - session: -1
    uri: ""
    after: -2s
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"session must be", "uri is required", "after must be"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(`tasks:
  - {session: 2, uri: "file:///c.mp3", after: 10ms}
`), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.Tasks[0].Session != 2 || s.Tasks[0].URI != "file:///c.mp3" {
		t.Errorf("task = %+v", s.Tasks[0])
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestRunner_FiresInDelayOrder(t *testing.T) {
	script := &Script{Tasks: []Task{
		{Session: 2, URI: "file:///late.mp3", After: 40 * time.Millisecond},
		{Session: 0, URI: "file:///first.mp3"},
		{Session: 1, URI: "file:///tie-a.mp3", After: 20 * time.Millisecond},
		{Session: 3, URI: "file:///tie-b.mp3", After: 20 * time.Millisecond},
	}}
	d := &recordDispatcher{fail: map[int]error{0: errors.New("boom")}}

	if err := NewRunner(script, d, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	got := d.Calls()
	want := []int{0, 1, 3, 2}
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i, idx := range want {
		if got[i].index != idx {
			t.Errorf("call %d went to session %d, want %d", i, got[i].index, idx)
		}
	}
}

func TestRunner_Cancelled(t *testing.T) {
	script := &Script{Tasks: []Task{{Session: 0, URI: "file:///a.mp3", After: time.Hour}}}
	d := &recordDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(script, d, zerolog.Nop()).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if len(d.Calls()) != 0 {
		t.Errorf("calls = %v, want none", d.Calls())
	}
}
