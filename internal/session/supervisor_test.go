package session

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_SpawnsOnceForSameWorkDir(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.supervisor.EnsureSession("/work"))
	require.NoError(t, h.supervisor.EnsureSession("/work"))

	procs := h.launcher.launched()
	require.Len(t, procs, 1)
	assert.Equal(t, "/work", procs[0].workDir)
	assert.False(t, procs[0].killed.Load())

	snap := h.state.Snapshot()
	assert.True(t, snap.Live)
	assert.Equal(t, "/work", snap.WorkDir)
}

func TestSupervisor_RestartsOnWorkDirChange(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.supervisor.EnsureSession("/a"))
	h.launcher.launched()[0].emitStdout(t, `{"type":"system","session_id":"old"}`)
	require.Equal(t, KindInit, h.events.next(t).Kind)

	require.NoError(t, h.supervisor.EnsureSession("/b"))

	procs := h.launcher.launched()
	require.Len(t, procs, 2)
	assert.True(t, procs[0].killed.Load())
	assert.False(t, procs[1].killed.Load())
	assert.Equal(t, "/b", procs[1].workDir)

	// The killed process still reports completion...
	assert.Equal(t, Event{Kind: KindComplete}, h.events.next(t))

	// ...but must not retire its replacement.
	time.Sleep(50 * time.Millisecond)
	snap := h.state.Snapshot()
	assert.True(t, snap.Live)
	assert.Equal(t, "/b", snap.WorkDir)
	assert.Empty(t, snap.SessionID)
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	h := newHarness(t)
	h.launcher.err = errLaunch

	err := h.supervisor.EnsureSession("/work")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.ErrorIs(t, err, errLaunch)

	assert.Equal(t, Snapshot{}, h.state.Snapshot())
	h.events.expectNone(t, 50*time.Millisecond)
}

func TestSupervisor_SpawnFailureClearsPreviousSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/a"))

	h.launcher.err = errLaunch
	require.ErrorIs(t, h.supervisor.EnsureSession("/b"), ErrSpawn)

	assert.True(t, h.launcher.launched()[0].killed.Load())
	assert.False(t, h.state.Snapshot().Live)
}

func TestSupervisor_Shutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))

	h.supervisor.Shutdown()

	assert.True(t, h.launcher.launched()[0].killed.Load())
	assert.Equal(t, Snapshot{}, h.state.Snapshot())
	assert.Equal(t, Event{Kind: KindComplete}, h.events.next(t))
}

// Scenario: system then result on the primary stream.
func TestOutputReader_InitThenComplete(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]

	p.emitStdout(t,
		`{"type":"system","session_id":"s1"}`,
		`{"type":"result","session_id":"s1"}`,
	)

	assert.Equal(t, Event{Kind: KindInit, SessionID: "s1"}, h.events.next(t))
	assert.Equal(t, Event{Kind: KindComplete, SessionID: "s1"}, h.events.next(t))
	assert.Equal(t, "s1", h.state.SessionID())
}

// Scenario: a single assistant text block.
func TestOutputReader_AssistantText(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))

	h.launcher.launched()[0].emitStdout(t,
		`{"type":"assistant","session_id":"s1","message":{"content":[{"type":"text","text":"Done."}]}}`,
	)

	assert.Equal(t, Event{Kind: KindText, SessionID: "s1", Text: "Done."}, h.events.next(t))
	h.events.expectNone(t, 50*time.Millisecond)
}

// Scenario: the primary stream closes with no further input.
func TestOutputReader_StreamCloseRetiresSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]
	p.emitStdout(t, `{"type":"system","session_id":"s1"}`)
	require.Equal(t, KindInit, h.events.next(t).Kind)

	require.NoError(t, p.stdoutW.Close())

	assert.Equal(t, Event{Kind: KindComplete}, h.events.next(t))
	require.Eventually(t, func() bool {
		return !h.state.Snapshot().Live
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Snapshot{}, h.state.Snapshot())

	// The next request starts a fresh process.
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	assert.Len(t, h.launcher.launched(), 2)
}

func TestOutputReader_SkipsNoiseAndKeepsOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))

	h.launcher.launched()[0].emitStdout(t,
		``,
		`   `,
		`npm WARN something`,
		`{"type":"assistant","session_id":"s1","message":{"content":[{"type":"text","text":"one"}]}}`,
		`{"type":"assistant","session_id":"s1","message":{"content":[`,
		`{"type":"assistant","session_id":"s1","message":{"content":[{"type":"text","text":"two"}]}}`,
		`{"type":"result","session_id":"s1"}`,
	)

	assert.Equal(t, "one", h.events.next(t).Text)
	assert.Equal(t, "two", h.events.next(t).Text)
	assert.Equal(t, KindComplete, h.events.next(t).Kind)
	h.events.expectNone(t, 50*time.Millisecond)
}

func TestOutputReader_ReadErrorEmitsErrorThenComplete(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))

	h.launcher.launched()[0].stdoutW.CloseWithError(errors.New("pipe broke"))

	assert.Equal(t, Event{Kind: KindError, Error: "Read error: pipe broke"}, h.events.next(t))
	assert.Equal(t, Event{Kind: KindComplete}, h.events.next(t))

	// The instance is retired and its process stopped, so the next send
	// starts a fresh one.
	require.Eventually(t, func() bool { return !h.state.Snapshot().Live }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.launcher.launched()[0].killed.Load, 2*time.Second, 10*time.Millisecond)

	_, err := h.dispatcher.Send(Request{Message: "again", WorkDir: "/work"})
	require.NoError(t, err)
	assert.Len(t, h.launcher.launched(), 2)
}

func TestOutputReader_SkipsOversizedLine(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]

	huge := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t","content":"` +
		strings.Repeat("x", maxLineSize) + `"}]}}`
	p.emitStdout(t, huge, `{"type":"system","session_id":"s1"}`)

	assert.Equal(t, Event{Kind: KindInit, SessionID: "s1"}, h.events.next(t))
	assert.Equal(t, "s1", h.state.SessionID())
	assert.True(t, h.state.Snapshot().Live)
	assert.False(t, p.killed.Load())

	sessionID, err := h.dispatcher.Send(Request{Message: "hi", WorkDir: "/work"})
	require.NoError(t, err)
	assert.Equal(t, "s1", sessionID)
	assert.Len(t, h.launcher.launched(), 1)
}

func TestState_IgnoresStaleGeneration(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	gen := h.state.gen

	h.state.setSessionID(gen-1, "stale")
	assert.Empty(t, h.state.SessionID())
	_, retired := h.state.retire(gen - 1)
	assert.False(t, retired)

	h.state.setSessionID(gen, "s1")
	assert.Equal(t, "s1", h.state.SessionID())
	proc, retired := h.state.retire(gen)
	assert.True(t, retired)
	assert.Same(t, h.launcher.launched()[0], proc)
	assert.False(t, h.state.Snapshot().Live)
}

// Scenario: three ordinary diagnostic lines, then close.
func TestDiagnosticReader_FlushesOnClose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]

	p.emitStderr(t, "starting up", "", "loading config", "warning: slow network")
	require.NoError(t, p.stderrW.Close())

	ev := h.events.next(t)
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "Claude stderr: starting up\nloading config\nwarning: slow network", ev.Error)
	h.events.expectNone(t, 50*time.Millisecond)
}

func TestDiagnosticReader_ErrorLineIsImmediate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]

	p.emitStderr(t, "Error: Invalid API key · Please run /login")
	assert.Equal(t, Event{Kind: KindError, Error: "Error: Invalid API key · Please run /login"}, h.events.next(t))

	p.emitStderr(t, "some trailing detail")
	require.NoError(t, p.stderrW.Close())
	h.events.expectNone(t, 50*time.Millisecond)
}

func TestDiagnosticReader_SkipsOversizedLine(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]

	p.emitStderr(t, strings.Repeat("Error: ", maxLineSize/7+1), "Error: rate limited")
	assert.Equal(t, Event{Kind: KindError, Error: "Error: rate limited"}, h.events.next(t))

	p.emitStderr(t, "still reading")
	require.NoError(t, p.stderrW.Close())
	h.events.expectNone(t, 50*time.Millisecond)
}

func TestDiagnosticReader_LowercaseErrorAlsoFlushes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	p := h.launcher.launched()[0]

	p.emitStderr(t, "fatal error: out of memory")
	assert.Equal(t, "fatal error: out of memory", h.events.next(t).Error)

	require.NoError(t, p.stderrW.Close())
	assert.Equal(t, "Claude stderr: fatal error: out of memory", h.events.next(t).Error)
}

func TestDispatcher_WritesEnvelope(t *testing.T) {
	h := newHarness(t)

	id, err := h.dispatcher.Send(Request{Message: "Fix the heading", WorkDir: "/work"})
	require.NoError(t, err)
	assert.Equal(t, PendingSessionID, id)

	p := h.launcher.launched()[0]
	assert.Equal(t, `{"type":"user","message":{"role":"user","content":"Fix the heading"}}`, p.nextInput(t))
}

func TestDispatcher_AppendsContext(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Send(Request{Message: "Shorten this", WorkDir: "/work", Context: "# Title\nbody"})
	require.NoError(t, err)

	var msg outboundMessage
	require.NoError(t, json.Unmarshal([]byte(h.launcher.launched()[0].nextInput(t)), &msg))
	assert.Equal(t, "user", msg.Type)
	assert.Equal(t, "user", msg.Message.Role)
	assert.Equal(t, "Shorten this\n\n---\nContext:\n# Title\nbody", msg.Message.Content)
}

func TestDispatcher_ReusesProcessAndReportsSessionID(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Send(Request{Message: "one", WorkDir: "/work"})
	require.NoError(t, err)
	p := h.launcher.launched()[0]
	p.nextInput(t)

	p.emitStdout(t, `{"type":"system","session_id":"s1"}`)
	require.Equal(t, KindInit, h.events.next(t).Kind)

	id, err := h.dispatcher.Send(Request{Message: "two", WorkDir: "/work"})
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.Contains(t, p.nextInput(t), `"content":"two"`)
	assert.Len(t, h.launcher.launched(), 1)
}

func TestDispatcher_NewWorkDirRestarts(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Send(Request{Message: "one", WorkDir: "/a"})
	require.NoError(t, err)
	_, err = h.dispatcher.Send(Request{Message: "two", WorkDir: "/b"})
	require.NoError(t, err)

	procs := h.launcher.launched()
	require.Len(t, procs, 2)
	assert.True(t, procs[0].killed.Load())
	assert.Contains(t, procs[1].nextInput(t), `"content":"two"`)
}

func TestDispatcher_PropagatesSpawnError(t *testing.T) {
	h := newHarness(t)
	h.launcher.err = errLaunch

	_, err := h.dispatcher.Send(Request{Message: "hi", WorkDir: "/work"})
	assert.ErrorIs(t, err, ErrSpawn)
}

type ensurerFunc func(string) error

func (f ensurerFunc) EnsureSession(dir string) error { return f(dir) }

func TestDispatcher_NoInput(t *testing.T) {
	d := NewDispatcher(NewState(), ensurerFunc(func(string) error { return nil }))

	_, err := d.Send(Request{Message: "hi", WorkDir: "/work"})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestDispatcher_BrokenInputStream(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.supervisor.EnsureSession("/work"))
	require.NoError(t, h.launcher.launched()[0].stdinR.Close())

	_, err := h.dispatcher.Send(Request{Message: "hi", WorkDir: "/work"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFlush)

	// Retiring the session is left to the output reader.
	assert.True(t, h.state.Snapshot().Live)
}
