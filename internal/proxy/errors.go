package proxy

import (
	"errors"
	"fmt"
)

// ErrNoListener is returned by Serve when called with a nil listener.
var ErrNoListener = errors.New("proxy: nil listener")

// Direction names one half of a relayed connection.
type Direction int

const (
	DownstreamToUpstream Direction = iota
	UpstreamToDownstream
)

func (d Direction) String() string {
	switch d {
	case DownstreamToUpstream:
		return "down->up"
	case UpstreamToDownstream:
		return "up->down"
	default:
		return "unknown"
	}
}

// BindError means the listen address could not be bound. It is fatal.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError ends the accept loop on a non-transient accept failure.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accept: %v", e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// UpstreamConnectError is local to a single downstream connection.
type UpstreamConnectError struct {
	Addr string
	Err  error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("connect upstream %s: %v", e.Addr, e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }

// RelayError is the first failure seen while copying one direction.
type RelayError struct {
	Direction Direction
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Direction, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }
