// Package orchestrator runs a whole application.
//
// The orchestrator is responsible for the lifecycle of every service of an
// application, including the services of included applications. It owns
// one supervisor per service and aggregates their events and output.
//
// # Startup
//
// Start performs these steps in order:
//
//  1. Expand include entries breadth first. Files reachable along several
//     paths are loaded once; an include cycle fails with a Cycle error.
//  2. Allocate free ports for bindings without a fixed port.
//  3. Compute each service's environment from its direct dependencies.
//  4. Open a TCP proxy on the public port of multi-replica services. The
//     replicas themselves listen on private ports and the proxy only routes
//     to Ready replicas.
//  5. Start every supervisor concurrently.
//
// Start returns once every replica passed its launch step. The first launch
// error stops everything started so far and is returned wrapped in a
// Command error.
//
// # Shutdown
//
// Stop asks every supervisor to stop at the same time and waits up to
// Options.StopTimeout. Proxies, ingress listeners and log subscriptions are
// closed afterwards and the run-state file is removed.
//
// # Observing a Run
//
//   - Events: every replica state transition, as api.ReplicaEvent
//   - Logs: the merged output of every replica
//   - Errors: failures that end the run, such as a relaunch that failed
//
// The Adapter type exposes a running orchestrator as an
// api.ApplicationHandler for the status API and MCP tools.
//
// # Example
//
//	desc, err := config.LoadApplication("ensemble.yaml")
//	if err != nil {
//		return err
//	}
//	orch := orchestrator.New(orchestrator.Config{
//		Application: desc,
//		Runtime:     runtime,
//		Options:     orchestrator.Options{StateDirectory: ".ensemble"},
//	})
//	if err := orch.Start(ctx); err != nil {
//		return err
//	}
//	defer orch.Stop(context.Background())
package orchestrator
