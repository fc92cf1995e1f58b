package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
)

// Options tune listeners and outbound connections.
type Options struct {
	BindHost    string        // Empty listens on all interfaces
	DialTimeout time.Duration // Zero uses the platform connect timeout
	BufferSize  int           // Per-direction copy buffer, DefaultBufferSize when zero
}

func (o Options) dialer() *net.Dialer {
	return &net.Dialer{Timeout: o.DialTimeout}
}

func (o Options) bufferSize() int {
	if o.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return o.BufferSize
}

// Listener owns the listening socket of one mapping and every connection
// accepted on it.
type Listener struct {
	mapping config.Mapping
	opts    Options
	dialer  *net.Dialer
	ln      net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	// Bytes of connections that already finished
	doneSent     atomic.Int64
	doneReceived atomic.Int64
}

// Listen binds the local port of m. A failure is returned as *BindError.
func Listen(m config.Mapping, opts Options) (*Listener, error) {
	addr := net.JoinHostPort(opts.BindHost, strconv.Itoa(m.LocalPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Port: m.LocalPort, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		mapping: m,
		opts:    opts,
		dialer:  opts.dialer(),
		ln:      ln,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*Connection),
	}, nil
}

// Mapping returns the mapping this listener serves.
func (l *Listener) Mapping() config.Mapping {
	return l.mapping
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until Close is called, handing each one to its
// own goroutine. It returns nil after Close. Any other accept failure ends
// the listener and is returned; connections already accepted keep running.
func (l *Listener) Serve() error {
	logging.LogInfo("Proxying on %s to %s", l.ln.Addr(), l.mapping.Target())

	for {
		client, err := l.ln.Accept()
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("error on port %d: %w", l.mapping.LocalPort, err)
		}

		conn := newConnection(l.ctx, l.mapping, client)
		if !l.track(conn) {
			closeConn(client)
			return nil
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn *Connection) {
	defer l.wg.Done()
	defer l.untrack(conn)

	logging.LogDebug("Accepted %s on port %d (conn %s)", conn.ClientAddr(), l.mapping.LocalPort, conn.ID)
	err := conn.Handle(l.dialer, l.opts.bufferSize())
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logging.LogDebug("Connection %s on port %d cancelled", conn.ID, l.mapping.LocalPort)
	case errors.Is(err, ErrRemoteUnreachable):
		logging.LogError("Port %d: %v", l.mapping.LocalPort, err)
	default:
		logging.LogError("Port %d to %s: %v", l.mapping.LocalPort, l.mapping.Target(), err)
	}

	sent, received := conn.Traffic()
	logging.LogDebug("Connection %s on port %d closed after %v (sent %s, received %s)",
		conn.ID, l.mapping.LocalPort, time.Since(conn.Opened).Round(time.Millisecond),
		humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(received)))
}

func (l *Listener) track(conn *Connection) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn.ID] = conn
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(conn *Connection) {
	sent, received := conn.Traffic()
	l.mu.Lock()
	delete(l.conns, conn.ID)
	l.doneSent.Add(sent)
	l.doneReceived.Add(received)
	l.mu.Unlock()
}

// ActiveConnections returns the number of live connections.
func (l *Listener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Connections returns the live connections, oldest first.
func (l *Listener) Connections() []*Connection {
	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].Opened.Before(conns[j].Opened) })
	return conns
}

// Traffic returns the bytes forwarded by finished and live connections.
func (l *Listener) Traffic() (sent, received int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sent, received = l.doneSent.Load(), l.doneReceived.Load()
	for _, c := range l.conns {
		s, r := c.Traffic()
		sent += s
		received += r
	}
	return sent, received
}

// Close stops accepting, cancels every live connection and waits for their
// handlers to release both sockets. In-flight data is not drained.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		l.cancel()
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.closeErr = err
		}
		l.wg.Wait()
		logging.LogDebug("Listener on port %d closed", l.mapping.LocalPort)
	})
	return l.closeErr
}
