// Package proxy forwards TCP connections on a service port to the Ready
// replicas behind it.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ensemble/internal/launcher"
	"ensemble/pkg/logging"
)

const proxySubsystem = "Proxy"

// dialTimeout bounds the connection attempt to a single replica.
const dialTimeout = 2 * time.Second

// Proxy is a round-robin TCP proxy for one service binding.
type Proxy struct {
	service  string
	binding  string
	resolver launcher.EndpointResolver

	listener net.Listener
	next     atomic.Uint64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen opens the service port and starts accepting connections.
func Listen(service, binding, host string, port int, resolver launcher.EndpointResolver) (*Proxy, error) {
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("proxy for %s: %w", service, err)
	}
	p := &Proxy{
		service:  service,
		binding:  binding,
		resolver: resolver,
		listener: ln,
		conns:    map[net.Conn]struct{}{},
	}
	p.wg.Add(1)
	go p.serve()
	logging.Info(proxySubsystem, "Proxying %s on %s", service, ln.Addr())
	return p, nil
}

// Addr returns the listening address.
func (p *Proxy) Addr() net.Addr {
	return p.listener.Addr()
}

func (p *Proxy) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logging.Error(proxySubsystem, err, "Accept on %s failed", p.service)
			}
			return
		}
		if !p.track(conn) {
			conn.Close()
			return
		}
		p.wg.Add(1)
		go p.handle(conn)
	}
}

func (p *Proxy) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conns[conn] = struct{}{}
	return true
}

func (p *Proxy) untrack(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, conn)
}

// handle pipes one client connection to a replica. Replicas that refuse the
// connection are skipped until every endpoint was tried once.
func (p *Proxy) handle(client net.Conn) {
	defer p.wg.Done()
	defer p.untrack(client)
	defer client.Close()

	endpoints := p.resolver.Endpoints(p.service)
	if len(endpoints) == 0 {
		logging.Debug(proxySubsystem, "No ready replica of %s for %s", p.service, client.RemoteAddr())
		return
	}

	start := int(p.next.Add(1) - 1)
	var upstream net.Conn
	for i := range endpoints {
		addr := endpoints[(start+i)%len(endpoints)]
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			upstream = conn
			break
		}
		logging.Debug(proxySubsystem, "Dial %s for %s failed: %v", addr, p.service, err)
	}
	if upstream == nil {
		return
	}
	if !p.track(upstream) {
		upstream.Close()
		return
	}
	defer p.untrack(upstream)
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go pipe(upstream, client, done)
	go pipe(client, upstream, done)
	<-done
	<-done
}

func pipe(dst, src net.Conn, done chan<- struct{}) {
	_, _ = io.Copy(dst, src)
	if tcp, ok := dst.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	} else {
		dst.Close()
	}
	done <- struct{}{}
}

// Close stops accepting, drops open connections and waits for the handlers.
func (p *Proxy) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()

	err := p.listener.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
