// Package debug serves the read-only status page and JSON counters.
package debug

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Versifine/tcprelay/internal/event"
	"github.com/Versifine/tcprelay/internal/state"
)

const (
	defaultMaxEvents = 64
	shutdownTimeout  = 5 * time.Second
)

//go:embed static/index.html
var indexHTML string

type SnapshotProvider interface {
	Snapshot() state.Snapshot
}

type Stats struct {
	ActiveConnections    int      `json:"active_connections"`
	CompletedConnections uint64   `json:"completed_connections"`
	FailedConnections    uint64   `json:"failed_connections"`
	BytesUpstream        uint64   `json:"bytes_upstream"`
	BytesDownstream      uint64   `json:"bytes_downstream"`
	PeerAddresses        []string `json:"peer_addresses"`
	UptimeSeconds        float64  `json:"uptime_seconds"`
}

type Event struct {
	Kind      string    `json:"kind"`
	Peer      string    `json:"peer"`
	Upstream  string    `json:"upstream"`
	BytesUp   int64     `json:"bytes_up"`
	BytesDown int64     `json:"bytes_down"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type Server struct {
	addr     string
	listen   string
	upstream string
	state    SnapshotProvider
	engine   *gin.Engine

	mu        sync.Mutex
	events    []Event
	maxEvents int
}

// NewServer builds the debug HTTP server. listen and upstream are only shown
// on the status page. bus may be nil, in which case no events are recorded.
func NewServer(addr, listen, upstream string, st SnapshotProvider, bus *event.Bus) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:      addr,
		listen:    listen,
		upstream:  upstream,
		state:     st,
		maxEvents: defaultMaxEvents,
	}

	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())
	engine.SetHTMLTemplate(template.Must(template.New("index").Parse(indexHTML)))
	engine.GET("/stats", s.getStats)
	engine.GET("/events", s.getEvents)
	engine.NoRoute(s.getIndex)
	s.engine = engine

	if bus != nil {
		for _, name := range []string{event.EventConnOpened, event.EventConnClosed, event.EventConnectFailed} {
			bus.Subscribe(name, s.record)
		}
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("debug server listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Debug server shutdown", "error", err)
		}
	})
	defer stop()

	slog.Info("Starting debug server", "addr", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		slog.Info("Debug server stopped")
		return nil
	}
	return err
}

func (s *Server) stats() Stats {
	snap := s.state.Snapshot()
	peers := make([]string, len(snap.PeerAddresses))
	for i, p := range snap.PeerAddresses {
		peers[i] = p.String()
	}
	return Stats{
		ActiveConnections:    snap.ActiveConnections,
		CompletedConnections: snap.CompletedConnections,
		FailedConnections:    snap.FailedConnections,
		BytesUpstream:        snap.BytesUpstream,
		BytesDownstream:      snap.BytesDownstream,
		PeerAddresses:        peers,
		UptimeSeconds:        time.Since(snap.StartedAt).Seconds(),
	}
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats())
}

func (s *Server) getEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.recentEvents()})
}

func (s *Server) getIndex(c *gin.Context) {
	stats := s.stats()
	c.HTML(http.StatusOK, "index", gin.H{
		"Listen":   s.listen,
		"Upstream": s.upstream,
		"Uptime":   (time.Duration(stats.UptimeSeconds) * time.Second).String(),
		"Stats":    stats,
		"Events":   s.recentEvents(),
	})
}

func (s *Server) record(raw any) {
	evt, ok := raw.(event.ConnEvent)
	if !ok {
		return
	}
	e := Event{
		Kind:      evt.Kind.String(),
		Upstream:  evt.Upstream,
		BytesUp:   evt.BytesUp,
		BytesDown: evt.BytesDown,
		At:        evt.At,
	}
	if evt.Peer.IsValid() {
		e.Peer = evt.Peer.String()
	}
	if evt.Err != nil {
		e.Error = evt.Err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Bus handlers run concurrently, so keep the ring ordered by At rather
	// than by arrival.
	i := len(s.events)
	for i > 0 && s.events[i-1].At.After(e.At) {
		i--
	}
	s.events = slices.Insert(s.events, i, e)
	if over := len(s.events) - s.maxEvents; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
}

// recentEvents returns recorded events newest first.
func (s *Server) recentEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	for i, e := range s.events {
		out[len(s.events)-1-i] = e
	}
	return out
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("Debug request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
