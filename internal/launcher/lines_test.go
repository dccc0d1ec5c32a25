package launcher

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func readAll(r io.Reader) []string {
	out := make(chan string, 1024)
	forwardLines("api-0-abc", r, out)
	close(out)
	var lines []string
	for line := range out {
		lines = append(lines, line)
	}
	return lines
}

func TestForwardLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "plain", input: "one\ntwo\n", want: []string{"one", "two"}},
		{name: "no trailing newline", input: "one\ntwo", want: []string{"one", "two"}},
		{name: "crlf", input: "one\r\ntwo\r\n", want: []string{"one", "two"}},
		{name: "empty", input: "", want: nil},
		{
			name:  "long line is chunked",
			input: strings.Repeat("a", MaxLineLength+10) + "\nafter\n",
			want:  []string{strings.Repeat("a", MaxLineLength), strings.Repeat("a", 10), "after"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(strings.NewReader(tt.input)))
		})
	}
}

// failingReader returns an error once, then serves the rest of its data.
type failingReader struct {
	failed bool
	rest   *strings.Reader
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.failed {
		f.failed = true
		return 0, errors.New("broken")
	}
	return f.rest.Read(p)
}

func TestForwardLines_DrainsAfterReadError(t *testing.T) {
	r := &failingReader{rest: strings.NewReader("pending output\n")}

	readAll(r)

	assert.Zero(t, r.rest.Len(), "reader should be drained after an error")
}
