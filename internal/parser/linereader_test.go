package parser

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type numberedLine struct {
	No   int
	Text string
}

func readAll(lr *lineReader) []numberedLine {
	var got []numberedLine
	for {
		line, no, ok := lr.next()
		if !ok {
			return got
		}
		got = append(got, numberedLine{no, line})
	}
}

func TestLineReader(t *testing.T) {
	control := `{"type":"control","contents":{"action":"pause"}}`
	tests := []struct {
		name        string
		input       string
		maxLen      int
		want        []numberedLine
		wantSkipped int
	}{
		{
			name:   "json lines",
			input:  control + "\n" + control + "\n",
			maxLen: 100,
			want:   []numberedLine{{1, control}, {2, control}},
		},
		{
			name:        "skips oversized line",
			input:       "short\n" + strings.Repeat("x", 50) + "\nafter\n",
			maxLen:      30,
			want:        []numberedLine{{1, "short"}, {3, "after"}},
			wantSkipped: 1,
		},
		{
			name:   "empty input",
			input:  "",
			maxLen: 100,
		},
		{
			name:   "blank lines keep numbering",
			input:  "aaa\n\n\nbbb\n",
			maxLen: 100,
			want:   []numberedLine{{1, "aaa"}, {4, "bbb"}},
		},
		{
			name:   "partial last line",
			input:  "aaa\nbbb",
			maxLen: 100,
			want:   []numberedLine{{1, "aaa"}, {2, "bbb"}},
		},
		{
			name:   "exact limit kept",
			input:  strings.Repeat("x", 30) + "\n",
			maxLen: 30,
			want:   []numberedLine{{1, strings.Repeat("x", 30)}},
		},
		{
			name:        "one over limit skipped",
			input:       strings.Repeat("x", 31) + "\n",
			maxLen:      30,
			wantSkipped: 1,
		},
		{
			name:        "oversized line longer than read buffer",
			input:       strings.Repeat("y", 3*initialScanBufSize) + "\nok\n",
			maxLen:      initialScanBufSize,
			want:        []numberedLine{{2, "ok"}},
			wantSkipped: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lr := newLineReader(strings.NewReader(tt.input), tt.maxLen)
			assert.Equal(t, tt.want, readAll(lr))
			assert.Equal(t, tt.wantSkipped, lr.Skipped())
			assert.NoError(t, lr.Err())
		})
	}
}

func TestLineReaderIOError(t *testing.T) {
	ioErr := errors.New("disk read failed")
	r := io.MultiReader(
		strings.NewReader("aaa\nbbb\n"),
		iotest.ErrReader(ioErr),
	)

	lr := newLineReader(r, 100)
	got := readAll(lr)

	require.Len(t, got, 2)
	assert.ErrorIs(t, lr.Err(), ioErr)
}
