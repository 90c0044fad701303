package transport

import (
	"bytes"
	"io"
	"strings"
)

// sseScanner incrementally extracts SSE data payloads from a byte stream.
// Framing: normalise CRLF to LF, split on blank lines, keep only "data:"
// lines within a block, join them with LF, trim. Empty and "[DONE]" payloads
// are skipped by the caller.
type sseScanner struct {
	buf bytes.Buffer
}

// Feed appends raw bytes and returns the payloads of every complete block
// now available.
func (s *sseScanner) Feed(p []byte) []string {
	s.buf.Write(p)
	normalized := bytes.ReplaceAll(s.buf.Bytes(), []byte("\r\n"), []byte("\n"))
	s.buf.Reset()
	s.buf.Write(normalized)

	var payloads []string
	for {
		data := s.buf.Bytes()
		idx := bytes.Index(data, []byte("\n\n"))
		if idx < 0 {
			break
		}
		block := string(data[:idx])
		s.buf.Next(idx + 2)
		if payload := extractData(block); payload != "" {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

// Flush returns the payload of a trailing block that was never terminated by
// a blank line. Called at end-of-stream.
func (s *sseScanner) Flush() string {
	block := strings.ReplaceAll(s.buf.String(), "\r\n", "\n")
	s.buf.Reset()
	return extractData(block)
}

// extractData keeps only the data lines of one block and joins them with LF.
func extractData(block string) string {
	var dataLines []string
	for _, line := range strings.Split(block, "\n") {
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(rest, " "))
		}
	}
	return strings.TrimSpace(strings.Join(dataLines, "\n"))
}

// isDonePayload reports whether the payload is the stream terminator.
func isDonePayload(payload string) bool {
	return payload == "[DONE]"
}

// readSSE drives the scanner over r, invoking emit for each data payload.
// onRead is called after every successful read so the caller can reset idle
// timers. A non-nil error from emit stops the read loop.
func readSSE(r io.Reader, onRead func(), emit func(payload string) error) error {
	scanner := &sseScanner{}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if onRead != nil {
				onRead()
			}
			for _, payload := range scanner.Feed(buf[:n]) {
				if isDonePayload(payload) {
					continue
				}
				if emitErr := emit(payload); emitErr != nil {
					return emitErr
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				if payload := scanner.Flush(); payload != "" && !isDonePayload(payload) {
					return emit(payload)
				}
				return nil
			}
			return err
		}
	}
}
