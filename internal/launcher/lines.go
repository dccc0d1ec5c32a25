package launcher

import (
	"bufio"
	"errors"
	"io"

	"ensemble/pkg/logging"
)

// MaxLineLength bounds a single output line. Longer lines are split into
// chunks of this size.
const MaxLineLength = 64 * 1024

// forwardLines sends every line read from r to out until r is exhausted.
// Reading never stops early: a child process writing to a pipe nobody reads
// would block forever and never exit.
func forwardLines(replica string, r io.Reader, out chan<- string) {
	reader := bufio.NewReaderSize(r, MaxLineLength)
	for {
		line, _, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debug(launcherSubsystem, "Reading output of %s: %v", replica, err)
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
		out <- string(line)
	}
}
