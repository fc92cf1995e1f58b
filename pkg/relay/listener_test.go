package relay

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
)

func TestUppercaseRoundTripAndClientEOF(t *testing.T) {
	srv := newUpperServer(t)
	l := startListener(t, srv.mapping(0))

	client := dial(t, l.Addr().String())
	roundTrip(t, client, "hello", "HELLO")

	require.NoError(t, client.Close())
	srv.waitEOF(t)
	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, waitFor, 10*time.Millisecond)
}

func TestByteFidelityBothDirections(t *testing.T) {
	srv := newEchoServer(t)
	l := startListener(t, srv.mapping(0))
	client := dial(t, l.Addr().String())

	payload := make([]byte, 1<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	writeErr := make(chan error, 1)
	go func() {
		_, err := client.Write(payload)
		writeErr <- err
	}()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := make([]byte, len(payload))
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	require.NoError(t, <-writeErr)
	assert.True(t, bytes.Equal(payload, got), "relayed bytes differ")

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		sent, received := l.Traffic()
		return sent == int64(len(payload)) && received == int64(len(payload))
	}, waitFor, 10*time.Millisecond)
}

func TestRemoteCloseClosesClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		c.Write([]byte("bye"))
		c.Close()
	}()

	m := config.Mapping{RemoteHost: "127.0.0.1", RemotePort: ln.Addr().(*net.TCPAddr).Port}
	l := startListener(t, m)
	client := dial(t, l.Addr().String())

	assert.Equal(t, "bye", string(requireClosedByPeer(t, client)))
	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, waitFor, 10*time.Millisecond)
}

func TestRemoteUnreachableClosesClientAndLogs(t *testing.T) {
	var logs lockedBuffer
	logging.SetOutput(&logs)
	defer logging.SetOutput(os.Stderr)

	deadPort := freePort(t)
	l := startListener(t, config.Mapping{RemoteHost: "127.0.0.1", RemotePort: deadPort})
	client := dial(t, l.Addr().String())

	assert.Empty(t, requireClosedByPeer(t, client))
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "failed to connect to remote server 127.0.0.1:"+strconv.Itoa(deadPort))
	}, waitFor, 10*time.Millisecond)

	// The listener keeps accepting after a failed connection
	client2 := dial(t, l.Addr().String())
	requireClosedByPeer(t, client2)
}

func TestConcurrentConnectionsAreIsolated(t *testing.T) {
	srv := newUpperServer(t)
	l := startListener(t, srv.mapping(0))

	const n = 10
	clients := make([]net.Conn, n)
	for i := range clients {
		clients[i] = dial(t, l.Addr().String())
	}
	require.Eventually(t, func() bool { return l.ActiveConnections() == n }, waitFor, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i, c := range clients {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := fmt.Sprintf("client-%02d", i)
			_, err := c.Write([]byte(msg))
			assert.NoError(t, err)
			assert.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
			got := make([]byte, len(msg))
			_, err = io.ReadFull(c, got)
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("CLIENT-%02d", i), string(got))
		}()
	}
	wg.Wait()

	// Closing one connection leaves the others working
	require.NoError(t, clients[0].Close())
	srv.waitEOF(t)
	roundTrip(t, clients[1], "still here", "STILL HERE")
	require.Eventually(t, func() bool { return l.ActiveConnections() == n-1 }, waitFor, 10*time.Millisecond)
}

func TestCancelSingleConnection(t *testing.T) {
	srv := newUpperServer(t)
	l := startListener(t, srv.mapping(0))

	keep := dial(t, l.Addr().String())
	roundTrip(t, keep, "a", "A")
	victim := dial(t, l.Addr().String())
	roundTrip(t, victim, "b", "B")

	conns := l.Connections()
	require.Len(t, conns, 2)
	target := conns[1]
	assert.Equal(t, StateActive, target.State())
	target.Close()

	requireClosedByPeer(t, victim)
	srv.waitEOF(t)
	require.Eventually(t, func() bool { return target.State() == StateClosed }, waitFor, 10*time.Millisecond)
	roundTrip(t, keep, "c", "C")
}

func TestListenBindError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	_, err = Listen(config.Mapping{LocalPort: port, RemoteHost: "localhost", RemotePort: 9001}, Options{BindHost: "127.0.0.1"})
	require.ErrorIs(t, err, ErrBind)

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, port, bindErr.Port)
	assert.Contains(t, err.Error(), fmt.Sprintf("cannot listen on port %d", port))
}

func TestListenerCloseReleasesEverything(t *testing.T) {
	srv := newUpperServer(t)
	l, err := Listen(srv.mapping(0), Options{BindHost: "127.0.0.1"})
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- l.Serve() }()

	clients := make([]net.Conn, 3)
	for i := range clients {
		clients[i] = dial(t, l.Addr().String())
		roundTrip(t, clients[i], "x", "X")
	}

	require.NoError(t, l.Close())
	assert.Equal(t, 0, l.ActiveConnections())
	for _, c := range clients {
		requireClosedByPeer(t, c)
	}
	for range clients {
		srv.waitEOF(t)
	}

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after Close")
	}

	// Closing twice is harmless and the port is free again
	assert.NoError(t, l.Close())
	_, err = net.DialTimeout("tcp", l.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestOptionsDefaults(t *testing.T) {
	assert.Equal(t, DefaultBufferSize, Options{}.bufferSize())
	assert.Equal(t, 512, Options{BufferSize: 512}.bufferSize())
	assert.Equal(t, 3*time.Second, Options{DialTimeout: 3 * time.Second}.dialer().Timeout)
}
