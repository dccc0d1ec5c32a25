// Package app provides application bootstrap and lifecycle management for
// ensemble.
//
// # Architecture Overview
//
// The package wires the other packages together for one run:
//
//  1. Bootstrap (bootstrap.go): logging, tool configuration and the
//     application file
//  2. Configuration (config.go): command line settings for a run
//  3. Services (services.go): orchestrator, metrics, dashboard server,
//     console printer and file watcher
//  4. Modes (modes.go): the foreground run loop
//  5. Purge (purge.go): cleanup after a run that did not stop cleanly
//
// # Bootstrap Sequence
//
//  1. Logging goes to stderr, as text or JSON, so stdout carries replica
//     output only
//  2. config.yaml is read from the config directory (default
//     ~/.config/ensemble). A missing file means defaults
//  3. ensemble.yaml is located and validated, including every file it
//     includes
//  4. Components are built. The container runtime is probed only when a
//     container service exists
//
// # Run Loop
//
// Run starts the dashboard, then the application. Once every replica has
// launched it notifies systemd (READY=1) and waits for SIGINT, SIGTERM,
// context cancellation or an unrecoverable orchestrator error. Shutdown sends
// STOPPING=1 and stops every service. When stopping does not complete the
// run-state is kept so that 'ensemble purge' can finish the job.
//
// # Usage
//
//	cfg := app.NewConfig("./shop", "", false)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
