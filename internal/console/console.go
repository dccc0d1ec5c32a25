// Package console echoes replica output to the terminal, one colored
// prefix per service.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"ensemble/internal/api"
	"ensemble/internal/broadcast"
)

const subscribeBuffer = 1024

var palette = []color.Attribute{
	color.FgCyan,
	color.FgMagenta,
	color.FgYellow,
	color.FgGreen,
	color.FgBlue,
	color.FgHiCyan,
	color.FgHiMagenta,
	color.FgHiYellow,
	color.FgHiGreen,
	color.FgHiBlue,
}

// Printer writes log lines as "<replica> | <text>".
type Printer struct {
	out     io.Writer
	colored bool

	mu      sync.Mutex
	colors  map[string]*color.Color
	width   int
	held    bool
	pending []api.LogLine
}

// NewPrinter returns a printer for out. Colors are used only when out is a
// terminal.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out:     out,
		colored: isTerminal(out),
		colors:  map[string]*color.Color{},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Print writes one line. The prefix column widens to the longest replica
// name seen so far.
func (p *Printer) Print(line api.LogLine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held {
		p.pending = append(p.pending, line)
		return
	}
	p.write(line)
}

// Hold queues lines instead of writing them, for as long as something else
// owns the terminal.
func (p *Printer) Hold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = true
}

// Release writes the queued lines and resumes direct output.
func (p *Printer) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range p.pending {
		p.write(line)
	}
	p.pending = nil
	p.held = false
}

func (p *Printer) write(line api.LogLine) {
	name := line.Replica
	if name == "" {
		name = line.Service
	}
	if len(name) > p.width {
		p.width = len(name)
	}
	prefix := fmt.Sprintf("%-*s |", p.width, name)
	text := strings.TrimRight(line.Text, "\r\n")

	fmt.Fprintf(p.out, "%s %s\n", p.colorFor(line.Service).Sprint(prefix), text)
}

func (p *Printer) colorFor(service string) *color.Color {
	c, ok := p.colors[service]
	if !ok {
		c = color.New(palette[len(p.colors)%len(palette)])
		if p.colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		p.colors[service] = c
	}
	return c
}

// Attach prints every line published on logs until the returned function is
// called or logs is closed. The returned function waits for buffered lines
// to be written.
func (p *Printer) Attach(logs *broadcast.Broadcaster[api.LogLine]) func() {
	ch, cancel := logs.Subscribe(subscribeBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range ch {
			p.Print(line)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
