package event

import (
	"net/netip"
	"time"
)

const (
	EventConnOpened    = "conn.opened"
	EventConnClosed    = "conn.closed"
	EventConnectFailed = "conn.connect_failed"
)

type Kind int

const (
	KindOpened Kind = iota
	KindClosed
	KindConnectFailed
)

func (k Kind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindClosed:
		return "closed"
	case KindConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// Name maps a kind to the bus event name it is published under.
func (k Kind) Name() string {
	switch k {
	case KindOpened:
		return EventConnOpened
	case KindClosed:
		return EventConnClosed
	default:
		return EventConnectFailed
	}
}

// ConnEvent describes one step in the lifecycle of a relayed connection.
// BytesUp and BytesDown are only set on KindClosed.
type ConnEvent struct {
	Kind      Kind
	Peer      netip.AddrPort
	Upstream  string
	BytesUp   int64
	BytesDown int64
	Err       error
	At        time.Time
}
