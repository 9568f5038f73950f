// Package server implements the Listener (spec.md §4.H): binds the
// configured TCP port, enforces the per-process connection limit, spawns a
// Session per accepted connection, and drains sessions on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usbipd-go/usbipd/backend"
	"github.com/usbipd-go/usbipd/claim"
	"github.com/usbipd-go/usbipd/internal/log"
	"github.com/usbipd-go/usbipd/registry"
	"github.com/usbipd-go/usbipd/session"
)

// Server is the USB/IP Listener. One Server owns one Registry, one
// Arbiter, and the Backend they both dispatch through.
type Server struct {
	config    Config
	logger    *slog.Logger
	rawLogger log.RawLogger
	registry  *registry.Registry
	arbiter   *claim.Arbiter
	backend   backend.Backend

	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*session.Session
	cancels  map[string]context.CancelFunc
	active   atomic.Int64
	nextID   atomic.Uint64
}

// New constructs a Server. The Arbiter should already have Reconcile
// called against any persisted claim state before ListenAndServe is invoked.
func New(cfg Config, reg *registry.Registry, arb *claim.Arbiter, be backend.Backend, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	return &Server{
		config:    cfg,
		logger:    logger,
		rawLogger: rawLogger,
		registry:  reg,
		arbiter:   arb,
		backend:   be,
		ready:     make(chan struct{}),
		sessions:  make(map[string]*session.Session),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Ready returns a channel closed once the listener is bound and accepting.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or the configured address before
// ListenAndServe is called.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.config.Addr
}

// ListenAndServe binds the configured address and accepts connections until
// Close is called or ctx is done. It computes max(max_connections, 16) but
// does not apply it: the listen backlog is the operating system default.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	backlog := s.config.MaxConnections
	if backlog < 16 {
		backlog = 16
	}
	_ = backlog // net.Listen has no portable backlog knob; documented for parity with spec.md §4.H intent.

	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("usbip server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("usbip server stopped")
				s.drain()
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		if int(s.active.Load()) >= s.config.MaxConnections {
			// spec.md §4.H: excess connections are accepted then
			// immediately closed, no partial-open state.
			s.logger.Warn("max connections reached, rejecting", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		s.active.Add(1)
		id := strconv.FormatUint(s.nextID.Add(1), 10)
		sessCtx, cancel := context.WithCancel(ctx)
		sess := session.New(id, conn, session.Deps{
			Registry:          s.registry,
			Arbiter:           s.arbiter,
			Backend:           s.backend,
			Logger:            s.logger,
			RawLogger:         s.rawLogger,
			ConnectionTimeout: s.config.ConnectionTimeout,
			URBTimeoutMs:      s.config.URBTimeoutMs,
		})

		s.mu.Lock()
		s.sessions[id] = sess
		s.cancels[id] = cancel
		s.mu.Unlock()

		s.logger.Info("client connected", "session", id, "remote", conn.RemoteAddr())
		go func() {
			defer s.active.Add(-1)
			defer func() {
				s.mu.Lock()
				delete(s.sessions, id)
				delete(s.cancels, id)
				s.mu.Unlock()
			}()
			if err := sess.Serve(sessCtx); err != nil {
				if session.IsClientDisconnect(err) {
					s.logger.Info("client disconnected", "session", id, "error", err)
				} else {
					s.logger.Error("session error", "session", id, "error", err)
				}
			}
		}()
	}
}

// Close closes the listening socket so no new connections are accepted.
// Once the accept loop sees the closed listener it cancels every session's
// context at once: a session exits after the request it is handling (or,
// if it is waiting to read, after its next request), and transfers still
// in flight see the cancellation too.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Shutdown closes the listener and waits up to grace for the active
// session count to reach zero. At the deadline it cancels every session
// context again and returns nil; it does not close the connections of
// sessions that are still running.
func (s *Server) Shutdown(grace time.Duration) error {
	if err := s.Close(); err != nil {
		return err
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.active.Load() == 0 {
			return nil
		}
		select {
		case <-deadline.C:
			s.cancelAll()
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

func (s *Server) drain() {
	s.cancelAll()
}

// ActiveConnections reports the current in-flight session count.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}
