package formatting

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"ensemble/internal/api"
)

const containerIDLength = 12

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// FormatStatus renders one row per replica. Services without replicas get a
// single row showing their bindings.
func (f *TableFormatter) FormatStatus(w io.Writer, status Status) error {
	if len(status.Services) == 0 {
		_, err := fmt.Fprintln(w, f.colorize(text.FgYellow, "No services found"))
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if !f.options.Quiet && status.Application.Name != "" {
		t.SetTitle(fmt.Sprintf("%s (run %s)", status.Application.Name, status.Application.RunID))
	}

	t.AppendHeader(table.Row{
		f.colorize(text.FgHiCyan, "SERVICE"),
		f.colorize(text.FgHiCyan, "KIND"),
		f.colorize(text.FgHiCyan, "REPLICA"),
		f.colorize(text.FgHiCyan, "STATE"),
		f.colorize(text.FgHiCyan, "PORTS"),
		f.colorize(text.FgHiCyan, "PID/CONTAINER"),
		f.colorize(text.FgHiCyan, "RESTARTS"),
	})

	ready, total := 0, 0
	for _, svc := range status.Services {
		if len(svc.Replicas) == 0 {
			t.AppendRow(table.Row{svc.Name, svc.Kind, "-", "-", bindingPorts(svc.Bindings), "-", svc.Restarts})
			continue
		}
		for _, r := range svc.Replicas {
			total++
			if r.State == api.StateReady {
				ready++
			}
			t.AppendRow(table.Row{
				svc.Name,
				svc.Kind,
				r.Name,
				f.colorize(stateColor(r.State), r.State.String()),
				replicaPorts(r),
				processRef(r),
				svc.Restarts,
			})
		}
	}

	if !f.options.Quiet {
		t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d/%d ready", ready, total)})
	}
	t.Render()
	return nil
}

func (f *TableFormatter) Options() Options {
	return f.options
}

func (f *TableFormatter) colorize(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

func stateColor(state api.ReplicaState) text.Color {
	switch state {
	case api.StateReady:
		return text.FgGreen
	case api.StateStarting, api.StateStarted, api.StateHealthy:
		return text.FgYellow
	case api.StateStopping:
		return text.FgHiBlack
	default:
		return text.FgRed
	}
}

func replicaPorts(r api.ReplicaInfo) string {
	if len(r.Ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(r.Ports))
	for _, p := range r.Ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

func bindingPorts(bindings []api.BindingInfo) string {
	if len(bindings) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, strconv.Itoa(b.Port))
	}
	return strings.Join(parts, ",")
}

func processRef(r api.ReplicaInfo) string {
	switch {
	case r.ContainerID != "":
		if len(r.ContainerID) > containerIDLength {
			return r.ContainerID[:containerIDLength]
		}
		return r.ContainerID
	case r.Pid > 0:
		return strconv.Itoa(r.Pid)
	default:
		return "-"
	}
}
