// Package mirror implements the remote side of synchronization: an HTTP
// server that stores records per user, assigns conflict-arbitration
// timestamps, and pushes live updates to WebSocket subscribers, plus a
// client that speaks the same protocol and satisfies sync.Mirror.
//
// The server is the only party that assigns updatedAt. Timestamps advance
// monotonically per record key, so two upserts for the same key can never
// carry equal timestamps and last-writer-wins comparison is total.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/recite/internal/state"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks an ephemeral port (useful in tests).
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8484,
		Logger: log.New(log.Writer(), "[mirror] ", log.LstdFlags),
	}
}

// update pairs an accepted record with the user feed it belongs to.
type update struct {
	user string
	rec  state.Record
}

// Server is the in-memory record mirror.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// records: user id -> record key -> latest record.
	records   map[string]map[string]state.Record
	recordsMu sync.RWMutex

	// subscribers: user id -> connected WebSocket clients.
	subscribers map[string]map[*websocket.Conn]bool
	subMu       sync.RWMutex

	broadcast chan update

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a mirror server. Call Start to begin serving.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:        fmt.Sprintf(":%d", config.Port),
		records:     make(map[string]map[string]state.Record),
		subscribers: make(map[string]map[*websocket.Conn]bool),
		broadcast:   make(chan update, 100),
		ctx:         ctx,
		cancel:      cancel,
		logger:      config.Logger,
	}
}

// Start begins listening and serving requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/records", s.handleRecords)
	mux.HandleFunc("/v1/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Mirror server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping mirror server")
	s.cancel()

	s.subMu.Lock()
	for _, conns := range s.subscribers {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
	s.subscribers = make(map[string]map[*websocket.Conn]bool)
	s.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Mirror server stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Upsert stores the record under the user's feed, assigning a monotonic
// per-key updatedAt, and queues it for broadcast. Returns the stored
// record with its assigned timestamp.
func (s *Server) Upsert(user string, rec state.Record) (state.Record, error) {
	if err := rec.Validate(); err != nil {
		return state.Record{}, fmt.Errorf("invalid record: %w", err)
	}

	s.recordsMu.Lock()
	feed, ok := s.records[user]
	if !ok {
		feed = make(map[string]state.Record)
		s.records[user] = feed
	}
	now := time.Now().UTC()
	if prev, ok := feed[rec.Key()]; ok && !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Nanosecond)
	}
	rec.UpdatedAt = now
	feed[rec.Key()] = rec
	s.recordsMu.Unlock()

	select {
	case s.broadcast <- update{user: user, rec: rec}:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping update")
	}

	return rec, nil
}

// FetchAll returns every record in the user's feed.
func (s *Server) FetchAll(user string) []state.Record {
	s.recordsMu.RLock()
	defer s.recordsMu.RUnlock()
	feed := s.records[user]
	out := make([]state.Record, 0, len(feed))
	for _, rec := range feed {
		out = append(out, rec)
	}
	return out
}

// handleRecords serves GET (fetch all) and POST (upsert).
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.FetchAll(user))

	case http.MethodPost:
		var rec state.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, fmt.Sprintf("invalid record body: %v", err), http.StatusBadRequest)
			return
		}
		stored, err := s.Upsert(user, rec)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stored)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebSocket upgrades the connection and registers it as a
// subscriber for the user's feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.subMu.Lock()
	conns, ok := s.subscribers[user]
	if !ok {
		conns = make(map[*websocket.Conn]bool)
		s.subscribers[user] = conns
	}
	conns[conn] = true
	count := len(conns)
	s.subMu.Unlock()

	s.logger.Printf("Subscriber connected for %s (total: %d)", user, count)

	go s.readLoop(user, conn)
}

// readLoop keeps the connection alive and cleans up on disconnect.
// Subscribers only receive; client messages are discarded.
func (s *Server) readLoop(user string, conn *websocket.Conn) {
	defer s.removeSubscriber(user, conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeSubscriber drops a connection from the user's subscriber set.
func (s *Server) removeSubscriber(user string, conn *websocket.Conn) {
	s.subMu.Lock()
	if conns, ok := s.subscribers[user]; ok {
		if _, exists := conns[conn]; exists {
			delete(conns, conn)
			s.subMu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "")
			s.logger.Printf("Subscriber disconnected for %s", user)
			return
		}
	}
	s.subMu.Unlock()
}

// broadcastLoop pushes accepted upserts to the owning user's subscribers.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case u := <-s.broadcast:
			data, err := json.Marshal(u.rec)
			if err != nil {
				s.logger.Printf("Failed to marshal record: %v", err)
				continue
			}

			s.subMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.subscribers[u.user]))
			for conn := range s.subscribers[u.user] {
				conns = append(conns, conn)
			}
			s.subMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to send to subscriber: %v", err)
					s.removeSubscriber(u.user, conn)
				}
			}
		}
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.recordsMu.RLock()
	users := len(s.records)
	s.recordsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"users":  users,
	})
}
