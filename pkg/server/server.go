package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/driftchat/driftchat/pkg/bus"
	"github.com/driftchat/driftchat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags|log.Lmicroseconds)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
)

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort         int
	MaxMessageLength int
	HistoryPageSize  int
	RequestTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         8080,
		MaxMessageLength: 4096, // bytes
		HistoryPageSize:  10,   // messages per page
		RequestTimeout:   10 * time.Second,
	}
}

// Server is the chat relay: it owns the WebSocket listener, the session
// registry, and the fan-out subscription, and calls the storage gateway
// and the broadcast bus through their interfaces.
type Server struct {
	store    MessageStore
	bus      bus.Bus
	registry *Registry
	config   ServerConfig
	metrics  *Metrics

	listener  net.Listener
	httpSrv   *http.Server
	sub       bus.Subscription
	startTime time.Time
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Clients identify by username only; origin carries no trust
		return true
	},
}

// NewServer creates a new server instance. The store and bus are
// process-wide singletons shared by all connection goroutines.
func NewServer(st MessageStore, b bus.Bus, config ServerConfig) *Server {
	return &Server{
		store:     st,
		bus:       b,
		registry:  NewRegistry(),
		config:    config,
		startTime: time.Now(),
		shutdown:  make(chan struct{}),
	}
}

// EnableDebugLogging switches debug output to stderr.
func (s *Server) EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
}

// SetMetrics attaches Prometheus metrics to the server.
func (s *Server) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Start subscribes the fan-out listener and starts accepting WebSocket
// connections.
func (s *Server) Start() error {
	if err := s.startFanout(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: mux}

	log.Printf("WebSocket server listening on %s", addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case <-s.shutdown:
			default:
				errorLog.Printf("HTTP server error: %v", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the server: no new connections, fan-out
// subscription closed, live connections closed, bus and store released.
// Calling Stop more than once is a no-op.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		if s.sub != nil {
			if serr := s.sub.Unsubscribe(); serr != nil {
				errorLog.Printf("Failed to unsubscribe fan-out listener: %v", serr)
			}
		}

		if s.httpSrv != nil {
			s.httpSrv.Close()
		}
		s.wg.Wait()

		s.registry.CloseAll()

		if berr := s.bus.Close(); berr != nil {
			errorLog.Printf("Failed to close bus: %v", berr)
		}
		err = s.store.Close()
	})
	return err
}

// HandleWebSocket upgrades an HTTP request and runs the connection's
// message loop in its own goroutine.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewClientConn(ws)
	debugLog.Printf("New connection from %s", conn.ID())

	if s.metrics != nil {
		s.metrics.RecordConnectionOpened()
	}

	go s.connectionLoop(conn)
}

// connectionLoop processes inbound frames sequentially for one connection.
// Whatever way the loop exits, the session and local handle are unbound
// and the directory entry removed.
func (s *Server) connectionLoop(conn *ClientConn) {
	connID := conn.ID()

	defer func() {
		s.cleanupConnection(connID)
		conn.Close()
	}()

	for {
		data, err := conn.ReadCommand()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debugLog.Printf("Connection %s disconnected", connID)
			} else {
				debugLog.Printf("Connection %s read error: %v", connID, err)
			}
			return
		}

		cmd, err := protocol.ParseCommand(data)
		if err != nil {
			s.sendError(conn, "Invalid message format")
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordFrameReceived(cmd.Command)
		}
		s.dispatch(conn, connID, cmd)
	}
}

// cleanupConnection tears down the session on transport close or error. No
// reply is sent; there is no transport to send on. Idempotent.
func (s *Server) cleanupConnection(connID string) {
	username, bound := s.registry.Unbind(connID)
	if bound {
		debugLog.Printf("Connection %s: unbound session for %s", connID, username)
	}

	ctx, cancel := s.commandContext()
	defer cancel()
	if err := s.store.DeleteUser(ctx, connID); err != nil {
		errorLog.Printf("Connection %s: failed to delete directory entry: %v", connID, err)
	}

	if s.metrics != nil {
		s.metrics.RecordConnectionClosed()
		s.metrics.RecordActiveSessions(s.registry.Len())
	}
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":          "healthy",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.registry.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		errorLog.Printf("Error encoding health JSON: %v", err)
	}
}
