package launcher

import (
	"fmt"
	"net"
	"strconv"

	"ensemble/internal/api"
)

// FreePort asks the kernel for an unused TCP port on the loopback interface.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// PortAvailable reports whether host:port can be bound right now.
func PortAvailable(host string, port int) bool {
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// AssignPorts returns a copy of bindings where zero ports are replaced by
// free ones. A fixed port that is already taken is an error.
func AssignPorts(bindings []api.ReplicaBinding) ([]api.ReplicaBinding, error) {
	out := make([]api.ReplicaBinding, len(bindings))
	copy(out, bindings)
	for i := range out {
		if out[i].Port == 0 {
			port, err := FreePort()
			if err != nil {
				return nil, err
			}
			out[i].Port = port
			continue
		}
		if !PortAvailable(out[i].Host, out[i].Port) {
			return nil, fmt.Errorf("port %d is already in use", out[i].Port)
		}
	}
	return out, nil
}
