package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/Versifine/tcprelay/internal/event"
	"github.com/Versifine/tcprelay/internal/state"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

type Server struct {
	listenerAddr string
	upstreamAddr string
	state        *state.State
	bus          *event.Bus
	dialer       net.Dialer

	mu   sync.Mutex
	addr net.Addr
}

type Option func(*Server)

// WithBus publishes connection lifecycle events on b.
func WithBus(b *event.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithDialTimeout bounds the upstream connect. Zero leaves it to the OS.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Server) { s.dialer.Timeout = d }
}

func NewServer(listenerAddr, upstreamAddr string, st *state.State, opts ...Option) *Server {
	if st == nil {
		st = state.New()
	}
	s := &Server{listenerAddr: listenerAddr, upstreamAddr: upstreamAddr, state: st}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) State() *state.State {
	return s.state
}

// Addr returns the bound listener address, or nil before Serve runs.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("Starting proxy server", "listenerAddr", s.listenerAddr, "upstreamAddr", s.upstreamAddr)
	var lc net.ListenConfig
	netListener, err := lc.Listen(ctx, "tcp", s.listenerAddr)
	if err != nil {
		return &BindError{Addr: s.listenerAddr, Err: err}
	}
	return s.Serve(ctx, netListener)
}

// Serve accepts on ln until ctx is cancelled or ln is closed. Each accepted
// connection is relayed on its own goroutine; its errors are logged there and
// never reach the accept loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		return ErrNoListener
	}
	defer ln.Close()

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		slog.Info("Shutting down proxy server")
		_ = ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("Proxy server stopped")
				return nil
			}
			if isTransientAcceptErr(err) {
				backoff = nextBackoff(backoff)
				slog.Warn("Transient error accepting connection", "error", err, "retryIn", backoff)
				if !sleepCtx(ctx, backoff) {
					slog.Info("Proxy server stopped")
					return nil
				}
				continue
			}
			slog.Error("Error accepting connection", "error", err)
			return &AcceptError{Err: err}
		}
		backoff = 0
		slog.Debug("Accepted connection", "client", conn.RemoteAddr())
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()
	if err := s.forward(ctx, clientConn); err != nil {
		slog.Error("Failed to forward", "client", clientConn.RemoteAddr(), "error", err)
	}
}

func (s *Server) publish(evt event.ConnEvent) {
	if s.bus == nil {
		return
	}
	evt.Upstream = s.upstreamAddr
	evt.At = time.Now()
	s.bus.Publish(evt.Kind.Name(), evt)
}

func isTransientAcceptErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return isTransientErrno(err)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(2*d, maxAcceptBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func peerAddr(addr net.Addr) netip.AddrPort {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.AddrPort()
	}
	if addr == nil {
		return netip.AddrPort{}
	}
	ap, _ := netip.ParseAddrPort(addr.String())
	return ap
}
