package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"chatrelay/internal/connection"
)

var (
	ErrServerClosed   = errors.New("server closed")
	ErrAlreadyServing = errors.New("server already serving")
)

// Config tunes the listener and its worker pool.
type Config struct {
	MaxWorkers   int
	MaxLineBytes int
	WriteTimeout time.Duration
	Connection   connection.Options
}

// Server accepts TCP clients and runs one connection handler per client
// inside a bounded pool.
// FUNCTIONAL DISCOVERY: A saturated pool does not reject. Accepted sockets
// wait for a free slot, so the pool size bounds concurrency, not admission.
type Server struct {
	config  Config
	handler connection.Handler
	logger  *zap.Logger
	pool    *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup

	active   atomic.Int64
	queued   atomic.Int64
	accepted atomic.Int64
}

// New creates a server that hands every connection to handler.
func New(config Config, handler connection.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 100
	}
	return &Server{
		config:  config,
		handler: handler,
		logger:  logger.Named("server"),
		pool:    semaphore.NewWeighted(int64(config.MaxWorkers)),
	}
}

// ListenAndServe binds addr and serves until Shutdown or ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until Shutdown or ctx ends. It returns
// ErrServerClosed after an orderly stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	if s.listener != nil {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Int("max_workers", s.config.MaxWorkers))

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// TECHNICAL DISCOVERY: Back off on transient accept errors
				// (EMFILE and friends) instead of spinning.
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		s.accepted.Add(1)

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer s.wg.Done()

	s.queued.Add(1)
	err := s.pool.Acquire(ctx, 1)
	s.queued.Add(-1)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer s.pool.Release(1)

	s.active.Add(1)
	defer s.active.Add(-1)

	transport := connection.NewLineTransport(nc, s.config.MaxLineBytes, s.config.WriteTimeout)
	conn, err := connection.New(transport, s.config.Connection, s.logger)
	if err != nil {
		_ = nc.Close()
		return
	}
	if err := conn.Run(ctx, s.handler); err != nil {
		conn.Logger().Debug("connection ended with error", zap.Error(err))
	}
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting. Serve then returns, and its context cancels
// every connection it started and every client still queued for a slot.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Shutdown stops accepting, cancels every connection and waits for the
// workers to drain or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.Close()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.Wait(ctx)
}

// Wait blocks until every worker has returned or ctx expires.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports pool occupancy for the admin API.
func (s *Server) Stats() map[string]int64 {
	return map[string]int64{
		"active_connections": s.active.Load(),
		"queued_connections": s.queued.Load(),
		"accepted_total":     s.accepted.Load(),
		"max_workers":        int64(s.config.MaxWorkers),
	}
}
