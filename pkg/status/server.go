// Machine status surface
//
// A small HTTP server exposing the machine state: a GET /status JSON
// snapshot for polling tools, and a /ws websocket that pushes the same
// snapshot at a fixed interval plus accepts a few commands. The
// snapshot provider and the command sink are interfaces so the server
// stays decoupled from the control loops it reports on.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"printipi-go-migration/pkg/log"
)

// Snapshot is one observation of the whole machine.
type Snapshot struct {
	State        string     `json:"state"`
	Reason       string     `json:"reason,omitempty"`
	HotendTemp   float64    `json:"hotend_temp"`
	HotendTarget float64    `json:"hotend_target"`
	HotendDuty   float64    `json:"hotend_duty"`
	FanDuty      float64    `json:"fan_duty"`
	Homed        bool       `json:"homed"`
	PositionMM   [3]float64 `json:"position_mm"`
	UptimeSec    float64    `json:"uptime_seconds"`
}

// Reporter produces the current snapshot.
type Reporter interface {
	Snapshot() Snapshot
}

// Controller receives commands from connected clients.
type Controller interface {
	EmergencyStop(msg string)
	SetHotendTarget(celsius float64) error
	SetFanDuty(duty float64) error
}

// Config holds server settings.
type Config struct {
	Addr         string
	PushInterval time.Duration
}

// Server serves the status surface.
type Server struct {
	reporter Reporter
	control  Controller
	logger   *log.Logger

	addr     string
	interval time.Duration

	httpServer *http.Server
	mux        *http.ServeMux
	upgrader   websocket.Upgrader

	clientMu sync.Mutex
	clients  map[int64]*client
	nextID   int64

	startTime time.Time
	running   atomic.Bool
}

// New creates a status server.
func New(cfg Config, rep Reporter, ctl Controller) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = time.Second
	}
	s := &Server{
		reporter: rep,
		control:  ctl,
		logger:   log.Default().Component("status"),
		addr:     cfg.Addr,
		interval: cfg.PushInterval,
		mux:      http.NewServeMux(),
		clients:  make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.mux,
		ReadTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.running.Store(true)
	s.startTime = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.pushLoop(ctx)

	s.logger.Infof("listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server and closes every client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	s.clientMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientMu.Unlock()
	for _, c := range clients {
		c.close()
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() Snapshot {
	snap := s.reporter.Snapshot()
	if !s.startTime.IsZero() {
		snap.UptimeSec = time.Since(s.startTime).Seconds()
	}
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Warnf("status encode: %v", err)
	}
}

// pushLoop broadcasts a snapshot to every client each interval.
func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(wsEvent{Event: "status", Status: s.snapshot()})
		}
	}
}

func (s *Server) broadcast(msg any) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for _, c := range s.clients {
		c.send(msg)
	}
}

// wsEvent is a server-to-client push.
type wsEvent struct {
	Event  string   `json:"event"`
	Status Snapshot `json:"status"`
}

// wsCommand is a client-to-server request.
type wsCommand struct {
	Method string  `json:"method"`
	Target float64 `json:"target,omitempty"`
}

// wsReply answers a command.
type wsReply struct {
	Event string `json:"event"`
	Error string `json:"error,omitempty"`
}

type client struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade: %v", err)
		return
	}

	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, 16),
		done:   make(chan struct{}),
	}
	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()

	// First snapshot goes out immediately so clients need not wait a
	// full push interval.
	c.send(wsEvent{Event: "status", Status: s.snapshot()})

	go c.writePump()
	go c.readPump()
}

func (s *Server) removeClient(c *client) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
}

func (c *client) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.logger.Warnf("dropping message to client %d", c.id)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warnf("websocket read: %v", err)
			}
			return
		}
		c.handleCommand(message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) handleCommand(data []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.send(wsReply{Event: "error", Error: "malformed command"})
		return
	}

	switch cmd.Method {
	case "status":
		c.send(wsEvent{Event: "status", Status: c.server.snapshot()})
	case "emergency_stop":
		c.server.control.EmergencyStop("websocket client request")
		c.send(wsReply{Event: "ok"})
	case "set_hotend_target":
		if err := c.server.control.SetHotendTarget(cmd.Target); err != nil {
			c.send(wsReply{Event: "error", Error: err.Error()})
			return
		}
		c.send(wsReply{Event: "ok"})
	case "set_fan_duty":
		if err := c.server.control.SetFanDuty(cmd.Target); err != nil {
			c.send(wsReply{Event: "error", Error: err.Error()})
			return
		}
		c.send(wsReply{Event: "ok"})
	default:
		c.send(wsReply{Event: "error", Error: "unknown method: " + cmd.Method})
	}
}
