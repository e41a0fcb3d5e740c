package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeClaudeSend:  true,
	TypeClaudeCheck: true,
	TypeFilesList:   true,
	TypeFilesRead:   true,
	TypeFilesWrite:  true,
	TypeFilesWatch:  true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error. The message is
// returned even on validation failure when the envelope itself decoded, so
// the caller can echo its request ID.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return &msg, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return &msg, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	// claude.check carries no payload.
	if msg.Type == TypeClaudeCheck {
		return &msg, nil
	}

	if msg.Payload == nil {
		return &msg, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeClaudeSend:
		var p ClaudeSendPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return &msg, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Message == "" {
			return &msg, fmt.Errorf("missing required field 'message' in %s payload", msg.Type)
		}
		if p.WorkDir == "" {
			return &msg, fmt.Errorf("missing required field 'workDir' in %s payload", msg.Type)
		}

	case TypeFilesList, TypeFilesRead, TypeFilesWatch:
		var p PathPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return &msg, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Path == "" {
			return &msg, fmt.Errorf("missing required field 'path' in %s payload", msg.Type)
		}

	case TypeFilesWrite:
		var p FileWritePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return &msg, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Path == "" {
			return &msg, fmt.Errorf("missing required field 'path' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
