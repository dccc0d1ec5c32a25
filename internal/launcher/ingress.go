package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

// EndpointResolver returns the host:port addresses of the Ready replicas of
// a service.
type EndpointResolver interface {
	Endpoints(service string) []string
}

// EndpointResolverFunc adapts a function to EndpointResolver.
type EndpointResolverFunc func(service string) []string

func (f EndpointResolverFunc) Endpoints(service string) []string { return f(service) }

// IngressLauncher runs an in-process HTTP reverse proxy per replica.
type IngressLauncher struct {
	resolver EndpointResolver
}

// NewIngressLauncher creates an ingress launcher that routes to endpoints
// returned by resolver.
func NewIngressLauncher(resolver EndpointResolver) *IngressLauncher {
	return &IngressLauncher{resolver: resolver}
}

// Launch implements Launcher.
func (l *IngressLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	ri, ok := spec.RunInfo.(api.IngressRunInfo)
	if !ok {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, fmt.Errorf("ingress launcher cannot run %T", spec.RunInfo))
	}
	if len(spec.Bindings) == 0 {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, errors.New("ingress needs at least one binding"))
	}

	h := &ingressHandle{
		exitState: newExitState(),
		service:   spec.Service,
		replica:   spec.Replica,
		bindings:  append([]api.ReplicaBinding(nil), spec.Bindings...),
		output:    make(chan string, outputBuffer),
	}
	router := l.router(ri.Rules, h.logf)

	var listeners []net.Listener
	for _, b := range spec.Bindings {
		host := b.Host
		if host == "" || host == "localhost" {
			host = "127.0.0.1"
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(b.Port)))
		if err != nil {
			for _, open := range listeners {
				open.Close()
			}
			return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
		}
		listeners = append(listeners, ln)
	}

	var wg sync.WaitGroup
	for _, ln := range listeners {
		srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
		h.servers = append(h.servers, srv)
		wg.Add(1)
		go func(srv *http.Server, ln net.Listener) {
			defer wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.logf("ingress listener %s failed: %v", ln.Addr(), err)
			}
		}(srv, ln)
	}
	go func() {
		wg.Wait()
		h.outputMu.Lock()
		h.closed = true
		close(h.output)
		h.outputMu.Unlock()
		h.finish(0)
	}()

	logging.Info(launcherSubsystem, "Ingress %s listening on %d port(s)", spec.Replica, len(listeners))
	return h, nil
}

func (l *IngressLauncher) router(rules []api.IngressRule, logf func(string, ...interface{})) *mux.Router {
	r := mux.NewRouter()
	for _, rule := range rules {
		path := rule.Path
		if path == "" {
			path = "/"
		}
		route := r.NewRoute().MatcherFunc(pathSegmentPrefix(path))
		if rule.Host != "" {
			route = route.Host(rule.Host)
		}
		route.Handler(l.proxy(rule, path, logf))
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logf("%s %s%s -> no route", req.Method, req.Host, req.URL.Path)
		http.NotFound(w, req)
	})
	return r
}

// pathSegmentPrefix matches prefix as whole path segments, so "/api" matches
// "/api" and "/api/users" but not "/apiary".
func pathSegmentPrefix(prefix string) mux.MatcherFunc {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(req *http.Request, _ *mux.RouteMatch) bool {
		if prefix == "" {
			return true
		}
		p := req.URL.Path
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
}

// proxy forwards to the Ready replicas of the rule's service in turn.
func (l *IngressLauncher) proxy(rule api.IngressRule, prefix string, logf func(string, ...interface{})) http.Handler {
	var next atomic.Uint64
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target, _ := pr.In.Context().Value(targetKey{}).(*url.URL)
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
			if !rule.PreservePath && prefix != "/" {
				p := strings.TrimPrefix(pr.In.URL.Path, strings.TrimSuffix(prefix, "/"))
				if !strings.HasPrefix(p, "/") {
					p = "/" + p
				}
				pr.Out.URL.Path = p
				pr.Out.URL.RawPath = ""
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			logf("%s %s -> %s failed: %v", req.Method, req.URL.Path, rule.Service, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		endpoints := l.resolver.Endpoints(rule.Service)
		if len(endpoints) == 0 {
			logf("%s %s -> %s unavailable", req.Method, req.URL.Path, rule.Service)
			http.Error(w, fmt.Sprintf("service %s has no ready replicas", rule.Service), http.StatusServiceUnavailable)
			return
		}
		endpoint := endpoints[int(next.Add(1)-1)%len(endpoints)]
		target := &url.URL{Scheme: "http", Host: endpoint}
		logf("%s %s -> %s (%s)", req.Method, req.URL.Path, rule.Service, endpoint)
		rp.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), targetKey{}, target)))
	})
}

type targetKey struct{}

type ingressHandle struct {
	*exitState
	service  string
	replica  string
	bindings []api.ReplicaBinding
	servers  []*http.Server

	outputMu sync.Mutex
	closed   bool
	output   chan string
}

func (h *ingressHandle) Pid() int                       { return 0 }
func (h *ingressHandle) ContainerID() string            { return "" }
func (h *ingressHandle) Bindings() []api.ReplicaBinding { return h.bindings }
func (h *ingressHandle) Output() <-chan string          { return h.output }

// logf emits an access line without blocking request handling.
func (h *ingressHandle) logf(format string, args ...interface{}) {
	h.outputMu.Lock()
	defer h.outputMu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.output <- fmt.Sprintf(format, args...):
	default:
	}
}

// Stop shuts the listeners down, waiting up to grace for active requests.
func (h *ingressHandle) Stop(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var killed bool
	for _, srv := range h.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			killed = true
		}
	}
	<-h.Done()
	if killed {
		return api.NewStopTimeoutError(h.service, h.replica, ErrKilled)
	}
	return nil
}
