package session

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProcess is an in-memory stand-in for the claude CLI. Tests write to
// stdout/stderr and read what the dispatcher sent from received.
type fakeProcess struct {
	workDir string

	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter

	received chan string
	killed   atomic.Bool
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.stdoutW.Close()
	p.stderrW.Close()
	p.stdinR.Close()
	return nil
}

func (p *fakeProcess) Wait() error { return nil }

func (p *fakeProcess) emitStdout(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		_, err := io.WriteString(p.stdoutW, l+"\n")
		require.NoError(t, err)
	}
}

func (p *fakeProcess) emitStderr(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		_, err := io.WriteString(p.stderrW, l+"\n")
		require.NoError(t, err)
	}
}

func (p *fakeProcess) nextInput(t *testing.T) string {
	t.Helper()
	select {
	case line := <-p.received:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stdin line")
		return ""
	}
}

type fakeLauncher struct {
	mu    sync.Mutex
	procs []*fakeProcess
	err   error
}

func (l *fakeLauncher) Launch(workDir string) (*Spawned, error) {
	if l.err != nil {
		return nil, l.err
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	p := &fakeProcess{
		workDir:  workDir,
		stdinR:   stdinR,
		stdoutW:  stdoutW,
		stderrW:  stderrW,
		received: make(chan string, 64),
	}
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			p.received <- scanner.Text()
		}
	}()

	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()

	return &Spawned{Stdin: stdinW, Stdout: stdoutR, Stderr: stderrR, Process: p}, nil
}

func (l *fakeLauncher) launched() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProcess(nil), l.procs...)
}

// recorder collects emitted events.
type recorder struct {
	ch chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) Emit(ev Event) { r.ch <- ev }

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(wait):
	}
}

type harness struct {
	state      *State
	launcher   *fakeLauncher
	events     *recorder
	supervisor *Supervisor
	dispatcher *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:    NewState(),
		launcher: &fakeLauncher{},
		events:   newRecorder(),
	}
	h.supervisor = NewSupervisor(h.state, h.launcher, h.events, nil)
	h.dispatcher = NewDispatcher(h.state, h.supervisor)
	t.Cleanup(h.supervisor.Shutdown)
	return h
}

var errLaunch = errors.New("exec: \"claude\": executable file not found in $PATH")
