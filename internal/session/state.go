package session

import (
	"bufio"
	"sync"
)

// State is the mutable record of the live assistant process. One State is
// created at startup and shared by the Supervisor, the Dispatcher and the
// stream readers; every field is guarded by mu.
type State struct {
	mu sync.Mutex

	// stdin and proc are both set or both nil.
	stdin     *bufio.Writer
	proc      Process
	sessionID string
	workDir   string

	// gen identifies the process instance currently recorded.
	gen uint64
}

// Snapshot is a point-in-time copy of the observable session state.
type Snapshot struct {
	Live      bool   `json:"live"`
	WorkDir   string `json:"workDir,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// NewState returns an empty State.
func NewState() *State {
	return &State{}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Live:      s.proc != nil,
		SessionID: s.sessionID,
	}
	if snap.Live {
		snap.WorkDir = s.workDir
	}
	return snap
}

// SessionID returns the external session identifier, or "" if none has been
// reported yet.
func (s *State) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// setSessionID records id for process instance gen. Updates from a replaced
// instance are ignored.
func (s *State) setSessionID(gen uint64, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.proc != nil {
		s.sessionID = id
	}
}

// retire clears the process handles and session identifier if gen is still
// the recorded instance. It returns the cleared process and whether anything
// was cleared.
func (s *State) retire(gen uint64) (Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.proc == nil {
		return nil, false
	}
	proc := s.proc
	s.clearLocked()
	return proc, true
}

// clearLocked empties the process fields. Callers must hold mu.
func (s *State) clearLocked() {
	s.stdin = nil
	s.proc = nil
	s.sessionID = ""
}
