package supervisor

import (
	"bufio"
	"errors"
	"io"
)

// Framing constants for the worker's line-delimited output.
const (
	// maxLineBytes caps a single buffered line. The worker emits one JSON
	// delta per line, normally well under a kilobyte; a line that grows past
	// this cap is treated as malformed and discarded, so a misbehaving
	// worker cannot grow the partial-line buffer without bound.
	maxLineBytes = 1 << 20 // 1MB

	// readChunkSize is the bufio read buffer size for the output streams.
	readChunkSize = 16 * 1024
)

// scanLines splits r on newline boundaries and invokes emit for each
// complete line. Lines are stripped of the trailing newline and an optional
// preceding carriage return; empty lines are skipped. A partial line (no
// newline yet) is buffered across reads and never emitted.
//
// A line exceeding max bytes is discarded up to its terminating newline and
// reported via emit with truncated=true (and a nil line); processing then
// continues with the next line.
//
// Returns nil on EOF. A trailing partial line at EOF is dropped, matching
// the rule that incomplete lines are never emitted.
func scanLines(r io.Reader, max int, emit func(line []byte, truncated bool)) error {
	br := bufio.NewReaderSize(r, readChunkSize)

	var (
		buf      []byte
		dropping bool
	)

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			complete := chunk[len(chunk)-1] == '\n'

			if !dropping {
				buf = append(buf, chunk...)
				if len(buf) > max {
					dropping = true
					buf = buf[:0]
				}
			}

			if complete {
				if dropping {
					emit(nil, true)
				} else if line := trimLine(buf); len(line) > 0 {
					// Copy out: buf is reused, and consumers may hold the
					// line beyond the emit call (async publish, batching).
					out := make([]byte, len(line))
					copy(out, line)
					emit(out, false)
				}
				buf = buf[:0]
				dropping = false
			}
		}

		switch {
		case err == nil:
			// Complete line consumed, keep reading.
		case errors.Is(err, bufio.ErrBufferFull):
			// Partial line longer than the bufio buffer; loop to read the rest.
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}

// trimLine strips the trailing "\n" or "\r\n" from a completed line.
func trimLine(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}
