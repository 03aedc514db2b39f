// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package status serves an operator-facing view of the control loop: a JSON
// snapshot of the profile's current counters and a gorilla/websocket stream
// of job-lifecycle events, so an operator can watch queue dynamics live
// while load-testing a scheduler.
package status

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Snapshot is the JSON body served from GET /snapshot, and the payload
// embedded in every "snapshot" event pushed to websocket subscribers.
type Snapshot struct {
	TotalSubmittedJobs int64     `json:"total_submitted_jobs"`
	TotalTaskCount     int64     `json:"total_task_count"`
	CompletedTaskCount int64     `json:"completed_task_count"`
	FailedTaskCount    int64     `json:"failed_task_count"`
	KilledTaskCount    int64     `json:"killed_task_count"`
	PendingTaskCount   int       `json:"pending_task_count"`
	RunningTaskCount   int       `json:"running_task_count"`
	QueueLength        int       `json:"queue_length"`
	ObservedAt         time.Time `json:"observed_at"`
}

// Event is one job-lifecycle transition broadcast to every connected
// websocket client.
type Event struct {
	Type       string    `json:"type"` // "submitted", "completed", "failed", "killed"
	JobID      int64     `json:"job_id"`
	ArrayIndex int       `json:"array_index"`
	ObservedAt time.Time `json:"observed_at"`
}

// Server exposes the current Snapshot and fans job-lifecycle events out to
// websocket subscribers. It wraps the control loop's per-tick publish calls
// the way the teacher's WebSocketServer wraps polling-based Watch.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	last    Snapshot
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan any
}

// NewServer constructs a Server with no connected clients and a zero-value
// Snapshot.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Router builds the gorilla/mux router: GET /snapshot and GET /stream.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

// PublishSnapshot records the latest Snapshot and broadcasts it to every
// connected client. The control loop calls this once per tick.
func (s *Server) PublishSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.last = snap
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.broadcast(clients, struct {
		Type string `json:"type"`
		Snapshot
	}{Type: "snapshot", Snapshot: snap})
}

// PublishEvent broadcasts a single job-lifecycle transition to every
// connected client. Nothing in the control loop or cmd/lavastorm calls it;
// they publish only the per-tick PublishSnapshot frames.
func (s *Server) PublishEvent(ev Event) {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.broadcast(clients, ev)
}

func (s *Server) broadcast(clients []*wsClient, payload any) {
	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			// slow consumer; drop rather than block the publisher.
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := s.last
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Printf("status: snapshot encode error: %v", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("status: websocket upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan any, 16)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	last := s.last
	s.mu.Unlock()

	// Prime the new subscriber with the latest known snapshot immediately,
	// rather than waiting for the next tick.
	client.send <- struct {
		Type string `json:"type"`
		Snapshot
	}{Type: "snapshot", Snapshot: last}

	go s.readLoop(client)
	s.writeLoop(client)
}

// readLoop drains and discards client frames so pong control messages are
// processed and the connection closes promptly once the client disconnects.
func (s *Server) readLoop(c *wsClient) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer s.drop(c)
	defer c.conn.Close()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
	}
}
