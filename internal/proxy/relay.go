// Package proxy 负责 TCP 连接管理、双向 io.Copy
// 这是核心管道模块
package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/Versifine/tcprelay/internal/event"
	"github.com/Versifine/tcprelay/internal/state"
)

// forward dials the upstream and relays until both directions finish.
// State is only touched once the dial has succeeded.
func (s *Server) forward(ctx context.Context, clientConn net.Conn) (err error) {
	peer := peerAddr(clientConn.RemoteAddr())

	upstreamConn, err := s.dialer.DialContext(ctx, "tcp", s.upstreamAddr)
	if err != nil {
		err = &UpstreamConnectError{Addr: s.upstreamAddr, Err: err}
		s.publish(event.ConnEvent{Kind: event.KindConnectFailed, Peer: peer, Err: err})
		return err
	}
	defer upstreamConn.Close()

	// Disable Nagle's algorithm on both legs for lower latency
	setNoDelay(clientConn)
	setNoDelay(upstreamConn)

	s.state.Register(peer)
	s.publish(event.ConnEvent{Kind: event.KindOpened, Peer: peer})
	slog.Info("Proxying connection", "client", peer, "upstream", s.upstreamAddr)

	var up, down int64
	defer func() {
		s.state.Deregister(state.Result{BytesUp: up, BytesDown: down, Err: err})
		s.publish(event.ConnEvent{Kind: event.KindClosed, Peer: peer, BytesUp: up, BytesDown: down, Err: err})
		slog.Info("Connection closed", "client", peer, "bytesUp", up, "bytesDown", down)
	}()

	up, down, err = relay(clientConn, upstreamConn)
	return err
}

// relay copies both directions concurrently and waits for both. A failing
// direction does not cancel the other one.
func relay(downstream, upstream net.Conn) (up, down int64, err error) {
	var g errgroup.Group
	g.Go(func() error {
		n, err := pipe(upstream, downstream)
		up = n
		if err != nil {
			return &RelayError{Direction: DownstreamToUpstream, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		n, err := pipe(downstream, upstream)
		down = n
		if err != nil {
			return &RelayError{Direction: UpstreamToDownstream, Err: err}
		}
		return nil
	})
	err = g.Wait()
	return up, down, err
}

// pipe copies src into dst until EOF or error, then half-closes dst so the
// peer behind it sees end-of-stream.
func pipe(dst, src net.Conn) (int64, error) {
	n, err := io.Copy(dst, src)
	if cerr := closeWrite(dst); err == nil {
		err = cerr
	}
	return n, err
}

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) error {
	if cw, ok := c.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

func setNoDelay(c net.Conn) {
	if tcpConn, ok := c.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
}
