package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
)

// ConnState is the lifecycle stage of a forwarded connection.
type ConnState int32

const (
	StatePending ConnState = iota // client accepted, remote connect in progress
	StateActive                   // both relays running
	StateClosing                  // at least one relay stopped, sockets being released
	StateClosed                   // both sockets released
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is one accepted client socket paired with its remote socket.
// Both sockets belong to the Connection for its whole lifetime.
type Connection struct {
	ID      string
	Mapping config.Mapping
	Opened  time.Time

	client net.Conn

	mu       sync.Mutex
	remote   net.Conn
	torn     bool
	released chan struct{} // closed once both sockets are closed

	state    atomic.Int32
	sent     atomic.Int64 // client -> remote
	received atomic.Int64 // remote -> client

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(parent context.Context, m config.Mapping, client net.Conn) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		ID:       uuid.NewString(),
		Mapping:  m,
		Opened:   time.Now(),
		client:   client,
		released: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current lifecycle stage.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Traffic returns the bytes forwarded so far in each direction.
func (c *Connection) Traffic() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

// ClientAddr returns the address of the accepted peer.
func (c *Connection) ClientAddr() net.Addr {
	return c.client.RemoteAddr()
}

// Close cancels the connection; both sockets are released and Handle returns.
func (c *Connection) Close() {
	c.cancel()
}

// Handle dials the remote side, relays both directions until both have
// stopped, and releases both sockets exactly once on every exit path.
func (c *Connection) Handle(dialer *net.Dialer, bufSize int) error {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	stop := context.AfterFunc(c.ctx, c.shutdown)
	defer func() {
		stop()
		c.cancel()
		c.shutdown()
		c.state.Store(int32(StateClosed))
	}()

	remote, err := dialer.DialContext(c.ctx, "tcp", c.Mapping.RemoteAddr())
	if err != nil {
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		return &RemoteUnreachableError{Host: c.Mapping.RemoteHost, Port: c.Mapping.RemotePort, Err: err}
	}
	if !c.attachRemote(remote) {
		closeConn(remote)
		return c.ctx.Err()
	}
	logging.LogInfo("Connected to remote server: %s (conn %s from %s)", c.Mapping.Target(), c.ID, c.ClientAddr())

	errCh := make(chan error, 2)
	go func() { errCh <- c.relay(remote, c.client, Upstream, &c.sent, bufSize) }()
	go func() { errCh <- c.relay(c.client, remote, Downstream, &c.received, bufSize) }()

	// Wait for both directions before the deferred teardown
	var relayErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && relayErr == nil {
			relayErr = err
		}
	}
	return relayErr
}

// relay runs one direction. When it stops, for any reason, both sockets are
// closed so the opposite direction unblocks as well.
func (c *Connection) relay(dst, src net.Conn, dir Direction, counter *atomic.Int64, bufSize int) error {
	defer c.shutdown()

	buf := make([]byte, bufSize)
	err := pipe(dst, src, buf, counter)
	if err == nil || errors.Is(err, net.ErrClosed) || c.isTorn() {
		// The socket was closed by our own teardown
		return nil
	}
	return &RelayError{Direction: dir, Err: err}
}

func (c *Connection) attachRemote(remote net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return false
	}
	c.remote = remote
	c.state.Store(int32(StateActive))
	return true
}

func (c *Connection) isTorn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torn
}

// shutdown closes the remote socket, if any, then the client socket. Every
// caller returns only after both are closed.
func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		<-c.released
		return
	}
	c.torn = true
	c.state.Store(int32(StateClosing))
	remote := c.remote
	c.mu.Unlock()

	closeConn(remote)
	closeConn(c.client)
	close(c.released)
}
