package sshexec

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultPollInterval is how long ReadLines sleeps when its source is idle.
const DefaultPollInterval = 50 * time.Millisecond

const readChunkSize = 32 * 1024

// ByteSource is a non-blocking byte stream: Buffered reports how many bytes
// can be read right now without waiting.
type ByteSource interface {
	Buffered() int
	Read(p []byte) (int, error)
}

// LineHandler receives each completed line with its 1-based line number.
// Returning an error stops the read loop.
type LineHandler func(lineNum int, line string) error

// ReadLines polls src until isDone reports true, handing every completed
// line to onLine in order. Once isDone is observed the loop makes exactly one
// more read pass so bytes that arrived with the final state change are not
// lost, then flushes the trailing partial line and returns.
//
// check runs on every iteration; a non-nil result aborts the loop and is
// returned as is. idle is the sleep between polls of an empty source.
func ReadLines(src ByteSource, onLine LineHandler, isDone func() bool, check func() error, idle time.Duration) error {
	if idle <= 0 {
		idle = DefaultPollInterval
	}

	var assembler LineAssembler
	lineNum := 1
	emit := func(lines []string) error {
		for _, line := range lines {
			if err := onLine(lineNum, line); err != nil {
				return err
			}
			lineNum++
		}
		return nil
	}

	buf := make([]byte, readChunkSize)
	for end := false; !end; {
		end = isDone()

		if check != nil {
			if err := check(); err != nil {
				return err
			}
		}

		available := src.Buffered()
		if available == 0 {
			if !end {
				time.Sleep(idle)
			}
			continue
		}

		for available > 0 {
			n, err := src.Read(buf[:min(available, len(buf))])
			if n > 0 {
				if emitErr := emit(assembler.Feed(buf[:n])); emitErr != nil {
					return emitErr
				}
				available -= n
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return fmt.Errorf("failed to read command output: %w", err)
			}
			if n == 0 {
				break
			}
		}
	}

	return emit(assembler.Flush())
}
