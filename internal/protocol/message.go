package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewReply creates a server message answering the client request requestID.
func NewReply(requestID, msgType string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.RequestID = requestID
	return msg, nil
}

// Server → Client message types. TypeClaudeEvent and TypeFileChange are
// broadcast topics; the others answer a single client request.
const (
	TypeClaudeEvent     = "claude-event"
	TypeFileChange      = "file-change"
	TypeClaudeSent      = "claude.sent"
	TypeClaudeAvailable = "claude.available"
	TypeFilesEntries    = "files.entries"
	TypeFilesContent    = "files.content"
	TypeFilesWritten    = "files.written"
	TypeFilesWatching   = "files.watching"
	TypeError           = "error"
)

// Client → Server message types.
const (
	TypeClaudeSend  = "claude.send"
	TypeClaudeCheck = "claude.check"
	TypeFilesList   = "files.list"
	TypeFilesRead   = "files.read"
	TypeFilesWrite  = "files.write"
	TypeFilesWatch  = "files.watch"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrSpawnFailed    = "SPAWN_FAILED"
	ErrNoInput        = "NO_INPUT"
	ErrWriteFailed    = "WRITE_FAILED"
	ErrFileError      = "FILE_ERROR"
	ErrWatchFailed    = "WATCH_FAILED"
	ErrInternal       = "INTERNAL"
)

// Server → Client payloads.

type ClaudeSentPayload struct {
	SessionID string `json:"sessionId"`
}

type ClaudeAvailablePayload struct {
	Available bool `json:"available"`
}

type FilesEntriesPayload struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

type FileContentPayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileChangePayload is published on TypeFileChange. Kind is one of
// "create", "modify" or "remove".
type FileChangePayload struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type ClaudeSendPayload struct {
	Message string `json:"message"`
	WorkDir string `json:"workDir"`
	Context string `json:"context,omitempty"`
}

type PathPayload struct {
	Path string `json:"path"`
}

type FileWritePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileEntry is one directory listing entry.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
}
