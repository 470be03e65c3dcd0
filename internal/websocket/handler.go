package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"chatrelay/internal/connection"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Config bounds the websocket surface.
type Config struct {
	MaxConnections  int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	Connection      connection.Options
}

// Handler upgrades HTTP requests and runs the same connection handler the
// TCP listener uses, so browser clients speak the identical envelope protocol.
// FUNCTIONAL DISCOVERY: Unlike the TCP pool, a saturated websocket surface
// answers 503 before upgrading since HTTP clients can retry cheaply.
type Handler struct {
	config  Config
	handler connection.Handler
	logger  *zap.Logger
	slots   *semaphore.Weighted

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closing  atomic.Bool
	active   atomic.Int64
	rejected atomic.Int64
}

// NewHandler creates a websocket handler bound to h.
func NewHandler(config Config, h connection.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		config:  config,
		handler: h,
		logger:  logger.Named("websocket"),
		slots:   semaphore.NewWeighted(int64(config.MaxConnections)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closing.Load() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	if !h.slots.TryAcquire(1) {
		h.rejected.Add(1)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// Upgrade to WebSocket
	// FUNCTIONAL DISCOVERY: The upgrader writes its own HTTP error response
	// on failure, so only the slot needs releasing here
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.slots.Release(1)
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	h.wg.Add(1)
	go h.serve(ws)
}

func (h *Handler) serve(ws *websocket.Conn) {
	defer h.wg.Done()
	defer h.slots.Release(1)

	transport, err := NewTransport(ws, h.config.MaxMessageBytes, h.config.WriteTimeout)
	if err != nil {
		h.logger.Warn("transport setup failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	conn, err := connection.New(transport, h.config.Connection, h.logger)
	if err != nil {
		_ = transport.Close()
		return
	}

	h.active.Add(1)
	defer h.active.Add(-1)
	if err := conn.Run(h.ctx, h.handler); err != nil {
		conn.Logger().Debug("connection ended", zap.Error(err))
	}
}

// Shutdown refuses new upgrades, closes live connections, and waits for
// their handlers to finish or ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.closing.Store(true)
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports live and rejected websocket connections.
func (h *Handler) Stats() map[string]int64 {
	return map[string]int64{
		"ws_active_connections": h.active.Load(),
		"ws_rejected_total":     h.rejected.Load(),
		"ws_max_connections":    int64(h.config.MaxConnections),
	}
}
