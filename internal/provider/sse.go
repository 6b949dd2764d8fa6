package provider

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SSEReader iterates server-sent event payloads over a raw HTTP body.
// Multi-line data fields are joined with newlines per the SSE spec;
// comment lines and event/id fields are skipped. The terminal
// "[DONE]" sentinel used by OpenAI-style streams is swallowed.
type SSEReader struct {
	scanner *bufio.Scanner
	err     error
	done    bool
}

// maxSSELineSize bounds one SSE line at 10MB; large tool arguments can
// produce big single events.
const maxSSELineSize = 10 << 20

// NewSSEReader wraps an HTTP response body.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)
	return &SSEReader{scanner: scanner}
}

// Next returns the next event payload, or (nil, false) at end of stream.
// Check Err afterwards.
func (s *SSEReader) Next() ([]byte, bool) {
	if s.done {
		return nil, false
	}
	var data [][]byte
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			if len(data) == 0 {
				continue
			}
			payload := bytes.Join(data, []byte("\n"))
			if isDoneSentinel(payload) {
				s.done = true
				return nil, false
			}
			return payload, true
		case bytes.HasPrefix(line, []byte(":")):
			continue
		case bytes.HasPrefix(line, []byte("data:")):
			chunk := bytes.TrimPrefix(line, []byte("data:"))
			chunk = bytes.TrimPrefix(chunk, []byte(" "))
			// Copy: the scanner reuses its buffer.
			data = append(data, append([]byte(nil), chunk...))
		}
	}
	s.err = s.scanner.Err()
	s.done = true
	if len(data) > 0 {
		payload := bytes.Join(data, []byte("\n"))
		if !isDoneSentinel(payload) {
			return payload, true
		}
	}
	return nil, false
}

// Err returns the first read error, if any.
func (s *SSEReader) Err() error { return s.err }

func isDoneSentinel(payload []byte) bool {
	return strings.TrimSpace(string(payload)) == "[DONE]"
}
