package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mattn/go-isatty"

	"ensemble/internal/watch"
	"ensemble/pkg/logging"
)

// notify is a variable to allow mocking in tests
var notify = daemon.SdNotify

// signals is a variable to allow tests to deliver signals directly
var signals = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// runOrchestrator starts the dashboard and the application, then blocks
// until ctx is done, SIGINT or SIGTERM arrives, or the orchestrator reports
// a failure it cannot recover from. Everything is stopped before it returns.
//
// Behavior:
//   - Replica output is echoed to stdout unless --no-logs is set
//   - READY and STOPPING are sent to systemd when running as a notify unit
//   - With --watch, source changes restart the owning service
func runOrchestrator(ctx context.Context, cfg *Config, services *Services) error {
	orch := services.Orchestrator

	var serverErrs <-chan error
	if services.Server != nil {
		if err := services.Server.Start(); err != nil {
			return err
		}
		serverErrs = services.Server.Errors()
		defer func() {
			if err := services.Server.Stop(context.Background()); err != nil {
				logging.Warn("CLI", "%v", err)
			}
		}()
	}

	var detach func()
	if services.Printer != nil {
		detach = services.Printer.Attach(orch.Logs())
		defer detach()
	}

	sigChan, stopSignals := signals()
	defer stopSignals()

	s := startSpinner(cfg, services)
	interrupted, err := startUntilSignal(ctx, sigChan, orch.Start)
	stopSpinner(s, services)
	if err != nil {
		if interrupted != nil {
			logging.Info("CLI", "Received %s, startup aborted", interrupted)
		} else {
			logging.Error("CLI", err, "Failed to start application")
		}
		return err
	}

	if _, err := notify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("CLI", "sd_notify READY failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if services.Watcher != nil {
		changes := make(chan watch.Change, 16)
		if err := services.Watcher.Start(runCtx, changes); err != nil {
			logging.Warn("CLI", "Watch mode disabled: %v", err)
		} else {
			go restartOnChange(runCtx, services, changes)
		}
	}

	logging.Info("CLI", "%s is running. Press Ctrl+C to stop all services and exit.", orch.Application().Name)
	if services.Server != nil {
		logging.Info("CLI", "Dashboard API at http://%s/api/v1/services", services.Server.Addr())
	}

	var runErr error
	if interrupted != nil {
		logging.Info("CLI", "Received %s", interrupted)
	} else {
		runErr = waitForShutdown(ctx, sigChan, orch.Errors(), serverErrs)
	}

	logging.Info("CLI", "--- Shutting down services ---")
	if _, err := notify(false, daemon.SdNotifyStopping); err != nil {
		logging.Debug("CLI", "sd_notify STOPPING failed: %v", err)
	}
	cancel()
	if services.Watcher != nil {
		_ = services.Watcher.Stop()
	}

	stopErr := orch.Stop(context.Background())
	if stopErr != nil {
		logging.Error("CLI", stopErr, "Stop did not complete, run 'ensemble purge' to clean up")
	}
	return errors.Join(runErr, stopErr)
}

// startUntilSignal runs start with a context that the first signal cancels,
// so that a slow image pull can be aborted with Ctrl+C. The signal, if one
// arrived before start returned, is handed back to the caller.
func startUntilSignal(ctx context.Context, sigChan <-chan os.Signal, start func(context.Context) error) (os.Signal, error) {
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	received := make(chan os.Signal, 1)
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case sig := <-sigChan:
			received <- sig
			cancel()
		case <-startCtx.Done():
		}
	}()

	err := start(startCtx)
	cancel()
	<-watching

	select {
	case sig := <-received:
		return sig, err
	default:
		return nil, err
	}
}

// waitForShutdown blocks until the run has to end and returns the failure
// that ended it, if any.
func waitForShutdown(ctx context.Context, sigChan <-chan os.Signal, orchErrs, serverErrs <-chan error) error {
	select {
	case <-ctx.Done():
		logging.Info("CLI", "Context cancelled")
	case sig := <-sigChan:
		logging.Info("CLI", "Received %s", sig)
	case err := <-orchErrs:
		logging.Error("CLI", err, "Stopping after unrecoverable failure")
		return err
	case err := <-serverErrs:
		logging.Error("CLI", err, "Stopping after dashboard failure")
		return err
	}
	return nil
}

// restartOnChange restarts the service owning each changed path.
func restartOnChange(ctx context.Context, services *Services, changes <-chan watch.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-changes:
			logging.Info("Watch", "%s changed, restarting %s", change.Path, change.Service)
			if err := services.Orchestrator.RestartService(ctx, change.Service); err != nil {
				logging.Error("Watch", err, "Failed to restart %s", change.Service)
			}
		}
	}
}

// startSpinner shows progress on an interactive stderr. Replica output is
// held back while it spins.
func startSpinner(cfg *Config, services *Services) *spinner.Spinner {
	f, ok := cfg.Stderr.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return nil
	}
	if services.Printer != nil {
		services.Printer.Hold()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(f))
	s.Suffix = " Starting services..."
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner, services *Services) {
	if s == nil {
		return
	}
	s.Stop()
	if services.Printer != nil {
		services.Printer.Release()
	}
}
