package machine

import (
	"bytes"
	"strings"
)

// LineBuffer splits a byte stream into lines, holding on to a trailing
// partial line until the rest arrives.
type LineBuffer struct {
	buf []byte
}

func (lb *LineBuffer) Reset() { lb.buf = lb.buf[:0] }

// Split appends data and returns every complete, non-empty line with its
// terminator and surrounding whitespace removed.
func (lb *LineBuffer) Split(data []byte) []string {
	lb.buf = append(lb.buf, data...)

	var lines []string
	for {
		i := bytes.IndexAny(lb.buf, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(lb.buf[:i]))
		lb.buf = lb.buf[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lb.buf) == 0 {
		lb.buf = nil
	}
	return lines
}
