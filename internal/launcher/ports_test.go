package launcher

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/api"
)

func TestAssignPorts(t *testing.T) {
	fixed, err := FreePort()
	require.NoError(t, err)

	in := []api.ReplicaBinding{{Name: "", Port: 0}, {Name: "grpc", Port: fixed}}
	out, err := AssignPorts(in)
	require.NoError(t, err)

	assert.NotZero(t, out[0].Port)
	assert.Equal(t, fixed, out[1].Port)
	assert.Zero(t, in[0].Port, "input must not be modified")
}

func TestAssignPorts_Conflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	assert.False(t, PortAvailable("localhost", taken))

	_, err = AssignPorts([]api.ReplicaBinding{{Port: taken}})
	assert.ErrorContains(t, err, "already in use")
}
