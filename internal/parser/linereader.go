package parser

import (
	"bufio"
	"io"
)

// lineReader splits a log into lines while keeping count of the
// physical line number, so decode errors can point at the right
// place. Lines longer than maxLen are dropped and counted.
type lineReader struct {
	r       *bufio.Reader
	maxLen  int
	buf     []byte
	lineNo  int
	skipped int
	err     error
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	return &lineReader{
		r:      bufio.NewReaderSize(r, initialScanBufSize),
		maxLen: maxLen,
		buf:    make([]byte, 0, initialScanBufSize),
	}
}

// next returns the next non-blank line and its 1-based line
// number. ok is false at EOF or after a read error.
func (lr *lineReader) next() (line string, lineNo int, ok bool) {
	for {
		text, keep, err := lr.read()
		if err != nil {
			if err != io.EOF {
				lr.err = err
			}
			return "", lr.lineNo, false
		}
		if keep && text != "" {
			return text, lr.lineNo, true
		}
	}
}

// Err returns the first non-EOF read error.
func (lr *lineReader) Err() error {
	return lr.err
}

// Skipped returns how many oversized lines were dropped.
func (lr *lineReader) Skipped() int {
	return lr.skipped
}

// read consumes one physical line. keep is false when the line
// was longer than maxLen.
func (lr *lineReader) read() (string, bool, error) {
	lr.buf = lr.buf[:0]
	oversized := false
	started := false

	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err == io.EOF && started {
			break
		}
		if err != nil {
			return "", false, err
		}
		started = true
		if !oversized {
			lr.buf = append(lr.buf, chunk...)
			if len(lr.buf) > lr.maxLen {
				oversized = true
				lr.buf = lr.buf[:0]
			}
		}
		if !isPrefix {
			break
		}
	}

	lr.lineNo++
	if oversized {
		lr.skipped++
		return "", false, nil
	}
	return string(lr.buf), true, nil
}
