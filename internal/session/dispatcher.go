package session

import (
	"encoding/json"
	"fmt"
)

// PendingSessionID is returned by Send before the process has reported its
// session identifier.
const PendingSessionID = "pending"

const contextSeparator = "\n\n---\nContext:\n"

// Request is one outbound user message.
type Request struct {
	Message string
	WorkDir string
	// Context is appended to Message under a fixed heading when non-empty.
	Context string
}

// Ensurer makes sure a live process exists for a working directory.
type Ensurer interface {
	EnsureSession(workDir string) error
}

// outboundMessage is the stream-json user envelope:
// {"type":"user","message":{"role":"user","content":"..."}}
type outboundMessage struct {
	Type    string          `json:"type"`
	Message outboundContent `json:"message"`
}

type outboundContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Dispatcher writes user messages to the live assistant process.
type Dispatcher struct {
	state    *State
	sessions Ensurer
}

// NewDispatcher returns a Dispatcher writing to the process recorded in state.
func NewDispatcher(state *State, sessions Ensurer) *Dispatcher {
	return &Dispatcher{state: state, sessions: sessions}
}

// Send delivers req to the assistant, starting or restarting the process as
// needed, and returns the current session identifier or PendingSessionID.
// Replies arrive asynchronously as events.
func (d *Dispatcher) Send(req Request) (string, error) {
	text := req.Message
	if req.Context != "" {
		text = req.Message + contextSeparator + req.Context
	}

	if err := d.sessions.EnsureSession(req.WorkDir); err != nil {
		return "", err
	}

	line, err := json.Marshal(outboundMessage{
		Type:    "user",
		Message: outboundContent{Role: "user", Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	line = append(line, '\n')

	if err := d.write(line); err != nil {
		return "", err
	}

	if id := d.state.SessionID(); id != "" {
		return id, nil
	}
	return PendingSessionID, nil
}

func (d *Dispatcher) write(line []byte) error {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()

	if d.state.stdin == nil {
		return ErrNoInput
	}
	if _, err := d.state.stdin.Write(line); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := d.state.stdin.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrFlush, err)
	}
	return nil
}
