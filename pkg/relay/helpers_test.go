package relay

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xlttj/prtrelay/pkg/config"
)

const waitFor = 2 * time.Second

// testServer is a remote side that answers every chunk with transform(chunk)
// and reports each connection that observed EOF from its peer.
type testServer struct {
	ln  net.Listener
	eof chan struct{}
}

func newTestServer(t *testing.T, transform func([]byte) []byte) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{ln: ln, eof: make(chan struct{}, 64)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c, transform)
		}
	}()
	return s
}

func (s *testServer) serve(c net.Conn, transform func([]byte) []byte) {
	defer c.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if _, werr := c.Write(transform(buf[:n])); werr != nil {
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				s.eof <- struct{}{}
			}
			return
		}
	}
}

func newUpperServer(t *testing.T) *testServer {
	return newTestServer(t, bytes.ToUpper)
}

func newEchoServer(t *testing.T) *testServer {
	return newTestServer(t, func(b []byte) []byte { return b })
}

func (s *testServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *testServer) mapping(localPort int) config.Mapping {
	return config.Mapping{LocalPort: localPort, RemoteHost: "127.0.0.1", RemotePort: s.port()}
}

func (s *testServer) waitEOF(t *testing.T) {
	t.Helper()
	select {
	case <-s.eof:
	case <-time.After(waitFor):
		t.Fatal("remote side did not observe EOF")
	}
}

// freePort returns a port that nothing listens on right now.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func startListener(t *testing.T, m config.Mapping) *Listener {
	t.Helper()
	l, err := Listen(m, Options{BindHost: "127.0.0.1"})
	require.NoError(t, err)
	go l.Serve()
	t.Cleanup(func() { l.Close() })
	return l
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func roundTrip(t *testing.T, c net.Conn, send, want string) {
	t.Helper()
	_, err := c.Write([]byte(send))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	got := make([]byte, len(want))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
	require.NoError(t, c.SetReadDeadline(time.Time{}))
}

// requireClosedByPeer reads until the peer closes c and returns what was left.
// A reset counts as closed; hitting the deadline does not.
func requireClosedByPeer(t *testing.T, c net.Conn) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	rest, err := io.ReadAll(c)
	require.False(t, errors.Is(err, os.ErrDeadlineExceeded), "peer did not close the connection")
	return rest
}

// lockedBuffer is a log sink safe to read while handlers are still logging.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
