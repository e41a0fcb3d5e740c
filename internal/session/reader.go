package session

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	initialLineBufSize = 64 * 1024
	maxLineSize        = 16 * 1024 * 1024

	stderrLabel = "Claude stderr: "
)

// errLineTooLong reports a line that was discarded for exceeding the limit.
// The reader stays positioned at the start of the following line.
var errLineTooLong = errors.New("line exceeds maximum length")

// lineReader splits a stream into lines like bufio.ScanLines, but skips
// lines longer than max instead of failing the whole stream.
type lineReader struct {
	r   *bufio.Reader
	max int
	buf []byte
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{
		r:   bufio.NewReaderSize(r, initialLineBufSize),
		max: max,
	}
}

// next returns the next line without its terminator. The slice is valid
// until the following call. It returns errLineTooLong for a discarded line
// and io.EOF once the stream is exhausted.
func (lr *lineReader) next() ([]byte, error) {
	lr.buf = lr.buf[:0]
	tooLong := false

	for {
		frag, err := lr.r.ReadSlice('\n')
		if !tooLong {
			if len(lr.buf)+len(frag) > lr.max+2 { // room for "\r\n"
				tooLong = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, frag...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, err == io.EOF && (tooLong || len(lr.buf) > 0):
			if tooLong {
				return nil, errLineTooLong
			}
			line := dropEOL(lr.buf)
			if len(line) > lr.max {
				return nil, errLineTooLong
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

func dropEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}

// readOutput consumes the primary stream of process instance gen until it
// closes or fails, then retires that instance.
func (s *Supervisor) readOutput(gen uint64, stdout io.Reader) {
	lines := newLineReader(stdout, maxLineSize)

	var readErr error
	for {
		line, err := lines.next()
		if errors.Is(err, errLineTooLong) {
			s.logger.Warn("skipping oversized stdout line", "generation", gen, "max", maxLineSize)
			continue
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		sessionID, events, err := decodeLine(line)
		if err != nil {
			s.logger.Debug("failed to parse stream event", "error", err, "line", string(line))
			continue
		}

		if sessionID != "" {
			s.state.setSessionID(gen, sessionID)
		}
		for _, ev := range events {
			s.emitter.Emit(ev)
		}
	}

	if readErr != nil {
		s.logger.Warn("claude stdout read error", "generation", gen, "error", readErr)
		s.emitter.Emit(errorEvent("Read error: " + readErr.Error()))
	}

	// Lets the UI clear its in-progress indicator even without a result record.
	s.emitter.Emit(Event{Kind: KindComplete})

	proc, retired := s.state.retire(gen)
	if !retired {
		return
	}
	s.logger.Info("claude session ended", "generation", gen)

	// Nothing reads this instance's output any more.
	if readErr != nil {
		if err := proc.Kill(); err != nil {
			s.logger.Warn("failed to kill claude process", "generation", gen, "error", err)
		}
	}
}

// readDiagnostics consumes the diagnostic stream. Lines mentioning an error
// are published at once; otherwise the whole output is published when the
// stream closes.
func (s *Supervisor) readDiagnostics(stderr io.Reader) {
	lines := newLineReader(stderr, maxLineSize)

	var buf strings.Builder
	sawError := false

	for {
		raw, err := lines.next()
		if errors.Is(err, errLineTooLong) {
			s.logger.Debug("skipping oversized stderr line", "max", maxLineSize)
			continue
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("claude stderr read error", "error", err)
			}
			break
		}

		line := string(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)

		if strings.Contains(line, "Error:") {
			sawError = true
		}
		if strings.Contains(line, "Error:") || strings.Contains(line, "error:") {
			s.emitter.Emit(errorEvent(line))
		}
	}

	if buf.Len() > 0 && !sawError {
		s.emitter.Emit(errorEvent(stderrLabel + buf.String()))
	}
}
