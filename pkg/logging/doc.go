// Package logging provides the structured logging used throughout ensemble.
//
// It wraps log/slog with a small, package-level API where every record is
// tagged with the subsystem that produced it:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Orchestrator", "Starting %d services", n)
//	logging.Debug("Probe", "Attempt %d against %s", attempt, addr)
//	logging.Warn("Supervisor", "Replica %s did not stop in time", name)
//	logging.Error("Launcher", err, "Failed to start %s", name)
//
// # Output modes
//
//   - CLI: colored output through tint when writing to a terminal, plain
//     slog text otherwise.
//   - JSON: one slog JSON object per line, for log collectors.
//   - Channel: entries are delivered on a buffered channel. Sends never block;
//     entries that do not fit are reported on stderr and dropped.
//
// Replica output (the stdout/stderr of launched processes and containers) is
// not routed through this package. It is kept in per-service log buffers and
// echoed by the console printer.
package logging
