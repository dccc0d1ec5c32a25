// Package config loads the two kinds of configuration ensemble reads.
//
// # Tool Configuration
//
// The tool configuration tunes how applications are run: supervisor grace
// periods and restart backoff, the container runtime, the status dashboard
// and the file watcher. It is read from a single directory:
//
//   - Default location: ~/.config/ensemble/config.yaml
//   - Custom location: specified via the --config-path flag
//
// A missing config.yaml is not an error; GetDefaultConfig is used instead.
//
//	supervisor:
//	  stopGracePeriod: 10s
//	  restartBackoff:
//	    initial: 1s
//	    max: 1m
//	containers:
//	  runtime: podman
//	dashboard:
//	  port: 8100
//
// # Application Files
//
// An application is described by an ensemble.yaml (or ensemble.yml) file.
// Each service entry selects exactly one run kind:
//
//	name: shop
//	services:
//	  - name: api
//	    project: ./src/api
//	    replicas: 2
//	    bindings:
//	      - port: 8080
//	        protocol: http
//	    readiness:
//	      http:
//	        path: /healthz
//	  - name: db
//	    image: postgres:16
//	    bindings:
//	      - port: 5432
//	        containerPort: 5432
//	        connectionString: "postgres://postgres@${host}:${port}/shop"
//	  - name: billing
//	    include: ../billing
//
// LoadApplication parses a single file and resolves relative paths against
// the directory containing it. Expand follows include entries, loading each
// file once and rejecting include cycles.
//
// # Error Handling
//
// Problems in application files are gathered into a
// ConfigurationErrorCollection so that every mistake in a file is reported
// at once. The collection is wrapped in an api.Error of kind Config.
package config
