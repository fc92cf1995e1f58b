package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/xlttj/prtrelay/pkg/logging"
)

// DefaultBufferSize is the per-direction copy buffer size.
const DefaultBufferSize = 4096

// Direction names one half of a forwarded connection.
type Direction string

const (
	Upstream   Direction = "client->remote"
	Downstream Direction = "remote->client"
)

var errInvalidWrite = errors.New("invalid write result")

type flusher interface {
	Flush() error
}

// pipe copies src to dst through buf until src reports EOF or either side fails.
// Every chunk is flushed when dst buffers. A clean EOF returns nil.
func pipe(dst io.Writer, src io.Reader, buf []byte, written *atomic.Int64) error {
	f, buffered := dst.(flusher)
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if ew == nil {
					ew = errInvalidWrite
				}
			}
			written.Add(int64(nw))
			if ew == nil && buffered {
				ew = f.Flush()
			}
			if ew != nil {
				return fmt.Errorf("write: %w", ew)
			}
			if nr != nw {
				return fmt.Errorf("write: %w", io.ErrShortWrite)
			}
		}
		if er != nil {
			if er == io.EOF {
				return nil
			}
			return fmt.Errorf("read: %w", er)
		}
	}
}

// closeConn closes c. Nil and already-closed connections are a silent no-op.
func closeConn(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.LogDebug("Close: %v", err)
	}
}
