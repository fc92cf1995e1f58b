package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrBind matches every BindError.
	ErrBind = errors.New("local port unavailable")
	// ErrRemoteUnreachable matches every RemoteUnreachableError.
	ErrRemoteUnreachable = errors.New("remote unreachable")
	// ErrRelay matches every RelayError.
	ErrRelay = errors.New("relay failed")

	// Sentinel error for a port reserved internally by another listener
	ErrPortReserved = errors.New("local port is already reserved by another active listener")
	// ErrNoListeners is returned by Run when every mapping failed to bind.
	ErrNoListeners = errors.New("no listener could be started")
)

// BindError reports a local port that could not be listened on.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot listen on port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }

// RemoteUnreachableError reports a failed outbound connect.
type RemoteUnreachableError struct {
	Host string
	Port int
	Err  error
}

func (e *RemoteUnreachableError) Error() string {
	return fmt.Sprintf("failed to connect to remote server %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *RemoteUnreachableError) Unwrap() error { return e.Err }

func (e *RemoteUnreachableError) Is(target error) bool { return target == ErrRemoteUnreachable }

// RelayError reports a read or write failure in one direction of a connection.
type RelayError struct {
	Direction Direction
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("connection lost (%s): %v", e.Direction, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

func (e *RelayError) Is(target error) bool { return target == ErrRelay }
