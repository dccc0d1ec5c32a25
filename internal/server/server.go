package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

// Options configures the dashboard server.
type Options struct {
	Host string
	// Port zero picks a free port; see Addr.
	Port    int
	Version string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server serves the status API, metrics and MCP endpoints of a running
// application.
type Server struct {
	Server *http.Server
	Router *mux.Router

	options  Options
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
	serveErr chan error
}

// New builds the router for app. Nothing listens until Start.
func New(app api.ApplicationHandler, options Options) *Server {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	s := &Server{
		Router:   mux.NewRouter(),
		options:  options,
		done:     make(chan struct{}),
		serveErr: make(chan error, 1),
	}

	RegisterRoutes(s.Router, app, s.done)
	if options.Metrics != nil {
		s.Router.Handle("/metrics", options.Metrics).Methods("GET")
	}
	s.Router.PathPrefix("/mcp").Handler(mcpserver.NewStreamableHTTPServer(NewMCPServer(app, options.Version)))

	s.Server = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listening socket and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.options.Host, fmt.Sprint(s.options.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.Server.Addr = listener.Addr().String()

	logging.Info("Server", "Dashboard API listening on http://%s", s.Server.Addr)
	go func() {
		if err := s.Server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Server", err, "Dashboard server failed")
			s.serveErr <- err
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a failure of the background serve loop.
func (s *Server) Errors() <-chan error {
	return s.serveErr
}

// Stop ends open streams and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err = s.Server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("failed to shut down dashboard server: %w", err)
		}
	})
	return err
}
