// Package testutil holds helpers shared by package tests.
package testutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// StartBroker runs an embedded MQTT broker on a free localhost port for the
// duration of the test and returns its tcp:// URL.
func StartBroker(t testing.TB) string {
	t.Helper()
	_, url := StartServer(t)
	return url
}

// StartServer is StartBroker that also hands back the server, for tests
// that drop client connections.
func StartServer(t testing.TB) (*mochi.Server, string) {
	t.Helper()

	addr := freeAddr(t)
	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test-tcp",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return server, fmt.Sprintf("tcp://%s", addr)
}

// KickClients closes the connection of every client whose ID starts with
// prefix and returns how many were dropped.
func KickClients(server *mochi.Server, prefix string) int {
	n := 0
	for id, cl := range server.Clients.GetAll() {
		if strings.HasPrefix(id, prefix) {
			cl.Stop(errors.New("kicked by test"))
			n++
		}
	}
	return n
}

func freeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
