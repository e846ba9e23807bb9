// Package server streams enrolment status changes to WebSocket clients and
// serves job state as JSON. The Pulse daemon runs it when pulse.stream_addr
// is set.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/enrolment"
	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/sym"
)

// ShutdownTimeout bounds how long Stop waits for client goroutines.
const ShutdownTimeout = 10 * time.Second

// Server is the change stream and job API of one daemon.
type Server struct {
	changes *enrolment.ChannelListener
	jobs    *async.Store
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	clients    map[*Client]bool
	httpServer *http.Server
}

// New creates a server that relays changes announced to the listener.
func New(changes *enrolment.ChannelListener, jobs *async.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		changes: changes,
		jobs:    jobs,
		logger:  log.Named("server"),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]bool),
	}
}

// Handler routes /ws/changes, /api/jobs and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/changes", s.HandleChanges)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr asks for port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Change stream server failed", logger.FieldError, err)
		}
	}()

	s.logger.Infow("Change stream listening", logger.SymbolFields(sym.Enrol, "addr", listener.Addr().String())...)
	return listener.Addr(), nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	httpServer := s.httpServer
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	// Closing the connection unblocks readPump
	for _, c := range clients {
		c.conn.Close()
	}
	s.cancel()

	var shutdownErr error
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		shutdownErr = httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Client shutdown timed out", "timeout", ShutdownTimeout)
	}

	if shutdownErr != nil {
		return errors.Wrap(shutdownErr, "failed to shut down change stream server")
	}
	return nil
}

// Clients returns the number of connected stream clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = true
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}
