package session

import "errors"

var (
	// ErrSpawn is returned when the assistant process could not be started.
	ErrSpawn = errors.New("spawn claude")
	// ErrSerialize is returned when an outbound message cannot be encoded.
	ErrSerialize = errors.New("serialize message")
	// ErrNoInput is returned when no live input stream is available.
	ErrNoInput = errors.New("no stdin available")
	// ErrWrite is returned when writing to the process input stream fails.
	ErrWrite = errors.New("write to stdin")
	// ErrFlush is returned when flushing the process input stream fails.
	ErrFlush = errors.New("flush stdin")
)
