package sshexec

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// MaxLineLength is the longest line, in characters, handed to a line
// handler. Longer lines are split into consecutive chunks of this size.
const MaxLineLength = 1000

// LineAssembler turns a raw byte stream into decoded lines.
// It is not safe for concurrent use; one assembler belongs to one stream.
type LineAssembler struct {
	buf []byte
}

// Feed consumes p and returns the lines completed by it, in order.
// Bytes after the last line feed stay buffered until the next Feed or Flush.
func (a *LineAssembler) Feed(p []byte) []string {
	var lines []string
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			a.buf = append(a.buf, p...)
			break
		}
		a.buf = append(a.buf, p[:i]...)
		lines = appendChunks(lines, a.take())
		p = p[i+1:]
	}
	return lines
}

// Flush returns the buffered partial line, if any. Call it at end of stream.
func (a *LineAssembler) Flush() []string {
	if len(a.buf) == 0 {
		return nil
	}
	return appendChunks(nil, a.take())
}

// Buffered returns the number of bytes waiting for a line feed.
func (a *LineAssembler) Buffered() int {
	return len(a.buf)
}

func (a *LineAssembler) take() string {
	b := a.buf
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	line := strings.ToValidUTF8(string(b), string(utf8.RuneError))
	a.buf = a.buf[:0]
	return line
}

func appendChunks(lines []string, line string) []string {
	if utf8.RuneCountInString(line) <= MaxLineLength {
		return append(lines, line)
	}
	start, count := 0, 0
	for i := range line {
		if count == MaxLineLength {
			lines = append(lines, line[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(lines, line[start:])
}
