package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlttj/prtrelay/pkg/config"
)

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}

func TestHandleRemoteUnreachable(t *testing.T) {
	m := config.Mapping{LocalPort: 9000, RemoteHost: "127.0.0.1", RemotePort: freePort(t)}
	client, peer := net.Pipe()
	defer peer.Close()

	c := newConnection(context.Background(), m, client)
	assert.Equal(t, StatePending, c.State())

	err := c.Handle(&net.Dialer{Timeout: waitFor}, 0)
	require.ErrorIs(t, err, ErrRemoteUnreachable)

	var unreachable *RemoteUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "127.0.0.1", unreachable.Host)
	assert.Equal(t, m.RemotePort, unreachable.Port)
	assert.Contains(t, err.Error(), "failed to connect to remote server")
	assert.Equal(t, StateClosed, c.State())

	// The client socket was released
	_, err = peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandleCancelledBeforeDial(t *testing.T) {
	srv := newEchoServer(t)
	client, peer := net.Pipe()
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newConnection(ctx, srv.mapping(9000), client)

	err := c.Handle(&net.Dialer{}, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRemoteUnreachable)
	assert.Equal(t, StateClosed, c.State())
}

func TestHandleRelaysAndTearsDownOnce(t *testing.T) {
	srv := newUpperServer(t)
	client, peer := net.Pipe()

	c := newConnection(context.Background(), srv.mapping(9000), client)
	done := make(chan error, 1)
	go func() { done <- c.Handle(&net.Dialer{}, 0) }()

	_, err := peer.Write([]byte("hello"))
	require.NoError(t, err)
	got := make([]byte, 5)
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(got))
	assert.Equal(t, StateActive, c.State())

	require.NoError(t, peer.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Handle did not return after the client closed")
	}
	srv.waitEOF(t)

	sent, received := c.Traffic()
	assert.Equal(t, int64(5), sent)
	assert.Equal(t, int64(5), received)
	assert.Equal(t, StateClosed, c.State())

	// Further teardown attempts are harmless
	assert.NotPanics(t, func() {
		c.shutdown()
		c.Close()
	})
}

func TestConnectionCloseUnblocksBothRelays(t *testing.T) {
	srv := newUpperServer(t)
	client, peer := net.Pipe()
	defer peer.Close()

	c := newConnection(context.Background(), srv.mapping(9000), client)
	done := make(chan error, 1)
	go func() { done <- c.Handle(&net.Dialer{}, 0) }()

	_, err := peer.Write([]byte("x"))
	require.NoError(t, err)
	_, err = io.ReadFull(peer, make([]byte, 1))
	require.NoError(t, err)

	// Both relays are now blocked reading idle sockets
	c.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Handle did not return after Close")
	}
	srv.waitEOF(t)
	assert.Equal(t, StateClosed, c.State())
}

func TestHandleRemoteResetIsRelayError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		// Reset once the first byte arrives
		io.ReadFull(c, make([]byte, 1))
		c.(*net.TCPConn).SetLinger(0)
		c.Close()
	}()

	m := config.Mapping{LocalPort: 9000, RemoteHost: "127.0.0.1", RemotePort: ln.Addr().(*net.TCPAddr).Port}
	client, peer := net.Pipe()
	defer peer.Close()

	c := newConnection(context.Background(), m, client)
	done := make(chan error, 1)
	go func() { done <- c.Handle(&net.Dialer{}, 0) }()

	_, err = peer.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrRelay)
		var relayErr *RelayError
		require.True(t, errors.As(err, &relayErr))
		assert.Equal(t, Downstream, relayErr.Direction)
		assert.Contains(t, err.Error(), "connection lost (remote->client)")
	case <-time.After(waitFor):
		t.Fatal("Handle did not return after the remote reset")
	}
	assert.Equal(t, StateClosed, c.State())
	requireClosedByPeer(t, peer)
}

func TestShutdownWaitsForRelease(t *testing.T) {
	client, clientPeer := net.Pipe()
	remote, remotePeer := net.Pipe()
	defer clientPeer.Close()
	defer remotePeer.Close()

	c := newConnection(context.Background(), config.Mapping{LocalPort: 9000}, client)
	require.True(t, c.attachRemote(remote))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.shutdown()
			// Whichever call returns, both sockets are already closed
			_, err := client.Write([]byte("x"))
			assert.ErrorIs(t, err, io.ErrClosedPipe)
			_, err = remote.Write([]byte("x"))
			assert.ErrorIs(t, err, io.ErrClosedPipe)
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosing, c.State())
}
