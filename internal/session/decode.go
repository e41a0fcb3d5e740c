package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record types emitted by the CLI on its primary stream.
const (
	recordSystem    = "system"
	recordAssistant = "assistant"
	recordUser      = "user"
	recordResult    = "result"
)

// Content block types.
const (
	blockText       = "text"
	blockToolUse    = "tool_use"
	blockToolResult = "tool_result"
)

const toolResultCompleted = "Completed"

// lenient decodes a T when the JSON value has the expected shape and leaves
// it unset otherwise, so one odd field never rejects the whole record.
type lenient[T any] struct {
	V   T
	Set bool
}

func (l *lenient[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err == nil {
		l.V, l.Set = v, true
	}
	return nil
}

// record is one line of the primary output stream.
type record struct {
	Type          lenient[string]        `json:"type"`
	SessionID     lenient[string]        `json:"session_id"`
	Message       lenient[recordMessage] `json:"message"`
	ToolUseResult lenient[toolUseResult] `json:"tool_use_result"`
}

type recordMessage struct {
	Content lenient[[]lenient[contentBlock]] `json:"content"`
}

type contentBlock struct {
	Type      lenient[string] `json:"type"`
	Text      lenient[string] `json:"text"`
	ID        lenient[string] `json:"id"`
	Name      lenient[string] `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID lenient[string] `json:"tool_use_id"`
}

// toolUseResult is the out-of-band metadata attached to tool result records.
type toolUseResult struct {
	File lenient[toolFile] `json:"file"`
}

type toolFile struct {
	FilePath lenient[string] `json:"filePath"`
	NumLines lenient[int64]  `json:"numLines"`
}

// decodeLine parses one primary-stream line and translates it to events.
// It returns the line's session identifier ("" if absent). An error means
// the line is not a JSON object and should be dropped.
func decodeLine(line []byte) (string, []Event, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", nil, fmt.Errorf("decode record: %w", err)
	}
	return rec.SessionID.V, decodeRecord(rec), nil
}

// decodeRecord maps a record to the events it produces. It has no side
// effects.
func decodeRecord(rec record) []Event {
	sid := rec.SessionID.V

	switch rec.Type.V {
	case recordSystem:
		return []Event{{Kind: KindInit, SessionID: sid}}
	case recordAssistant:
		return assistantEvents(sid, rec.Message.V.Content.V)
	case recordUser:
		return toolResultEvents(sid, rec.Message.V.Content.V, rec.ToolUseResult.V)
	case recordResult:
		return []Event{{Kind: KindComplete, SessionID: sid}}
	default:
		return nil
	}
}

func assistantEvents(sid string, blocks []lenient[contentBlock]) []Event {
	var events []Event
	for _, b := range blocks {
		block := b.V
		switch block.Type.V {
		case blockText:
			if block.Text.V != "" {
				events = append(events, Event{
					Kind:      KindText,
					SessionID: sid,
					Text:      block.Text.V,
				})
			}
		case blockToolUse:
			events = append(events, Event{
				Kind:      KindToolUse,
				SessionID: sid,
				ToolID:    block.ID.V,
				ToolName:  block.Name.V,
				ToolInput: block.Input,
			})
		}
	}
	return events
}

func toolResultEvents(sid string, blocks []lenient[contentBlock], meta toolUseResult) []Event {
	name, summary := describeToolResult(meta)

	var events []Event
	for _, b := range blocks {
		if b.V.Type.V != blockToolResult {
			continue
		}
		events = append(events, Event{
			Kind:       KindToolResult,
			SessionID:  sid,
			ToolID:     b.V.ToolUseID.V,
			ToolName:   name,
			ToolResult: summary,
		})
	}
	return events
}

// describeToolResult derives the display name and summary of a tool result
// from its file metadata.
func describeToolResult(meta toolUseResult) (name, summary string) {
	file := meta.File.V

	if file.FilePath.Set {
		p := file.FilePath.V
		name = p[strings.LastIndex(p, "/")+1:]
	}

	summary = toolResultCompleted
	if file.NumLines.Set {
		summary = fmt.Sprintf("Read %d lines", file.NumLines.V)
	}
	return name, summary
}
