// Package dashboard serves live sync status over WebSocket.
//
// Clients connected to /ws receive every status transition, every finished
// attempt and task statistics as JSON messages. New clients get the latest
// message of each type on connect. /metrics exposes the Prometheus registry
// and /health reports liveness.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/logging"
)

// MessageType tags each message sent to /ws clients.
type MessageType string

const (
	// MessageTypeStatus is a status callback transition.
	MessageTypeStatus MessageType = "sync_status"

	// MessageTypeReport is a finished or skipped attempt.
	MessageTypeReport MessageType = "sync_report"

	// MessageTypeStats is a task statistics refresh.
	MessageTypeStats MessageType = "stats"
)

// Message is one JSON frame sent to /ws clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusData mirrors the status callback.
type StatusData struct {
	Syncing bool   `json:"syncing"`
	Message string `json:"message"`
}

// ReportData summarizes one attempt.
type ReportData struct {
	AttemptID  string `json:"attempt_id,omitempty"`
	Outcome    string `json:"outcome"`
	Skip       string `json:"skip,omitempty"`
	Published  int    `json:"published"`
	Pulled     int    `json:"pulled"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

// StatsData counts the local tasks.
type StatsData struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
	DueSoon   int `json:"due_soon"`
	Pending   int `json:"pending"`
}

// Config configures a Server.
type Config struct {
	// Host defaults to 127.0.0.1.
	Host string
	// Port to listen on; 0 picks a free port.
	Port int

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer

	Logger logrus.FieldLogger
}

// DefaultConfig binds localhost on the usual dashboard port.
func DefaultConfig() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8080,
	}
}

// Server pushes sync status to WebSocket clients and serves /metrics and
// /health.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// latest holds the last message of each type for new clients.
	latest   map[MessageType]Message
	latestMu sync.Mutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logrus.FieldLogger
}

// NewServer returns a stopped Server. A nil config uses DefaultConfig.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	host := config.Host
	if host == "" {
		host = DefaultConfig().Host
	}
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(host, fmt.Sprint(config.Port)),
		gatherer:  gatherer,
		clients:   make(map[*websocket.Conn]bool),
		latest:    make(map[MessageType]Message),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.ForComponent(config.Logger, "dashboard"),
	}
}

// Start listens and serves in the background. Use Addr for the bound
// address when Port is 0.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.WithField("addr", ln.Addr().String()).Info("dashboard listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("dashboard server error")
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("dashboard stopped")
	return nil
}

// Broadcast queues msg for every client and remembers it as the latest of
// its type. Never blocks; a full queue drops msg.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.latestMu.Lock()
	s.latest[msg.Type] = msg
	s.latestMu.Unlock()

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.WithField("type", msg.Type).Warn("broadcast channel full, dropping message")
	}
}

// broadcastLoop fans queued messages out; a failed write drops the client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.WithError(err).Warn("failed to marshal message")
				continue
			}

			for _, conn := range s.connected() {
				if err := s.write(conn, data); err != nil {
					s.logger.WithError(err).Debug("failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) connected() []*websocket.Conn {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket accepts a client and replays the latest messages to it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.WithField("clients", clientCount).Debug("client connected")

	for _, msg := range s.snapshot() {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := s.write(conn, data); err != nil {
			s.removeClient(conn)
			return
		}
	}

	go s.readLoop(conn)
}

// snapshot returns the latest messages in a fixed type order.
func (s *Server) snapshot() []Message {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	var out []Message
	for _, typ := range []MessageType{MessageTypeStats, MessageTypeReport, MessageTypeStatus} {
		if msg, ok := s.latest[typ]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// readLoop discards client frames until the connection drops.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.WithField("clients", clientCount).Debug("client disconnected")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot links the endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>TaskFlow Sync</title>
</head>
<body>
    <h1>TaskFlow Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected /ws clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
