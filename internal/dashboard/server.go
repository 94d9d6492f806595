// Package dashboard serves a live view of a tenant session over WebSocket.
//
// Every sync status event (syncing, success, error, online, offline) is
// pushed to connected clients as it happens, followed by refreshed store
// statistics after each completed attempt. Plain HTTP endpoints expose a
// health check and the current state snapshot.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType tags each frame sent to clients.
type MessageType string

const (
	// MessageTypeStatus carries one sync status event.
	MessageTypeStatus MessageType = "status"

	// MessageTypeState carries a full state snapshot. It is the first
	// frame on every connection.
	MessageTypeState MessageType = "state"

	// MessageTypeStats carries refreshed store statistics.
	MessageTypeStats MessageType = "stats"
)

// Message is the JSON frame written to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StateFunc produces the current state snapshot for /state and new clients.
type StateFunc func(ctx context.Context) (interface{}, error)

// clientQueue is the number of frames buffered per client. A client that
// falls further behind is disconnected.
const clientQueue = 64

const writeTimeout = 5 * time.Second

// client is one WebSocket connection with its own outgoing queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server accepts dashboard clients and fans frames out to them.
type Server struct {
	addr   string
	state  StateFunc
	logger *log.Logger

	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on, e.g. "127.0.0.1:8080" (":0" picks a free port).
	Addr string

	// Logger for server activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8080",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. state may be nil.
func NewServer(config *Config, state StateFunc) *Server {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Addr == "" {
		config.Addr = def.Addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    config.Addr,
		state:   state,
		logger:  config.Logger,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the HTTP routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	s.cancel()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every connected client. Clients whose queue is
// full are disconnected; the others are not held up.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.logger.Println("Warning: client too slow, disconnecting")
			s.dropLocked(c)
		}
	}
}

// BroadcastData marshals data and broadcasts it as a message of type typ.
func (s *Server) BroadcastData(typ MessageType, at time.Time, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	s.Broadcast(Message{Type: typ, Timestamp: at, Data: raw})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	welcome := Message{Type: MessageTypeState, Timestamp: time.Now().UTC()}
	if snap, err := s.snapshot(r.Context()); err == nil {
		welcome.Data = snap
	} else {
		s.logger.Printf("State unavailable for new client: %v", err)
	}
	frame, _ := json.Marshal(welcome)

	// The welcome frame is queued before registration, so it precedes
	// every broadcast on this connection.
	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	c.send <- frame

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Printf("Client connected (total: %d)", n)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop drains the client's queue until it is closed.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()

	for frame := range c.send {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			s.remove(c)
			break
		}
	}
	_ = c.conn.Close(websocket.StatusGoingAway, "")
}

// readLoop discards client frames and notices disconnects.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.remove(c)

	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(c)
}

// dropLocked unregisters c and closes its queue, which ends writeLoop.
func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.logger.Printf("Client disconnected (total: %d)", len(s.clients))
}

func (s *Server) snapshot(ctx context.Context) (json.RawMessage, error) {
	if s.state == nil {
		return nil, fmt.Errorf("no state source")
	}
	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(snap)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>PharmaSync</title></head>
<body>
<h1>PharmaSync</h1>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://%s/ws");
ws.onmessage = (e) => {
  const m = JSON.parse(e.data);
  log.textContent = m.timestamp + " " + m.type + " " + JSON.stringify(m.data) + "\n" + log.textContent;
};
</script>
</body>
</html>`, r.Host)
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
