package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/exocortex-initiative/forcefield/internal/admin"
	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/session"
	"github.com/exocortex-initiative/forcefield/internal/sim"
	"github.com/exocortex-initiative/forcefield/internal/snapshot"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now - CORS middleware handles this
		return true
	},
}

// WebSocketMessage represents a message sent to clients
type WebSocketMessage struct {
	Type    string      `json:"type"` // "frame", "diff", "end", "fallback"
	Payload interface{} `json:"payload"`
}

// framePayload is a full position set, sent once on join and again on
// request. Diffs chain from the last frame or diff the client received.
type framePayload struct {
	Name      string         `json:"name,omitempty"`
	Backend   string         `json:"backend"`
	Version   uint64         `json:"version"`
	Tick      uint64         `json:"tick"`
	Alpha     float64        `json:"alpha"`
	Positions []sim.Position `json:"positions"`
}

// StreamHandler upgrades clients onto per-simulation position streams.
type StreamHandler struct {
	sessions *session.Manager
	store    *store.Store
	interval time.Duration
	epsilon  float64

	mu      sync.Mutex
	streams map[string]*stream
}

// NewStreamHandler creates the stream handler. The store is only consulted
// for the runtime enable flag and may be nil.
func NewStreamHandler(sessions *session.Manager, st *store.Store) *StreamHandler {
	cfg := config.Load()
	return &StreamHandler{
		sessions: sessions,
		store:    st,
		interval: cfg.WSFrameInterval,
		epsilon:  cfg.LayoutEpsilon,
		streams:  make(map[string]*stream),
	}
}

// streamFor returns the live stream for a session, starting one if needed.
func (h *StreamHandler) streamFor(s *session.Session) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.streams[s.ID]; ok {
		return st
	}
	st := &stream{
		id:         s.ID,
		engine:     s.Engine(),
		interval:   h.interval,
		epsilon:    h.epsilon,
		clients:    make(map[*streamClient]bool),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		refresh:    make(chan *streamClient, 8),
		events:     make(chan sim.Event, 16),
		stop:       make(chan struct{}),
	}
	h.streams[s.ID] = st
	go st.run(h)
	return st
}

// retire forgets a stream whose run loop is exiting and closes it so a
// racing join can detect the death and start over.
func (h *StreamHandler) retire(s *stream) {
	h.mu.Lock()
	if h.streams[s.id] == s {
		delete(h.streams, s.id)
	}
	h.mu.Unlock()
	s.close()
}

// Shutdown stops every stream. Connected clients are closed by their
// write pumps once the send channels close.
func (h *StreamHandler) Shutdown() {
	h.mu.Lock()
	streams := make([]*stream, 0, len(h.streams))
	for _, st := range h.streams {
		streams = append(streams, st)
	}
	h.streams = make(map[string]*stream)
	h.mu.Unlock()

	for _, st := range streams {
		st.close()
	}
}

// HandleStream upgrades the connection and attaches it to the simulation's
// stream.
// GET /api/simulations/{id}/stream
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store != nil {
		if enabled, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyStreamsEnabled, true); !enabled {
			apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Position streams are paused"))
			return
		}
	}

	id := mux.Vars(r)["id"]
	s, err := h.sessions.Get(id)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SimNotFound(id))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		logger.Error("Failed to upgrade to WebSocket", "simulation", id, "error", err)
		return
	}

	for {
		st := h.streamFor(s)
		client := &streamClient{
			stream: st,
			conn:   conn,
			send:   make(chan []byte, 256),
		}
		select {
		case st.register <- client:
			go client.writePump()
			go client.readPump()
			return
		case <-st.stop:
			// Raced with a dying stream, look up a fresh one.
		}
	}
}

// stream broadcasts one simulation's movement to its clients: a full frame
// on join, diffs afterwards.
type stream struct {
	id       string
	engine   *sim.Engine
	interval time.Duration
	epsilon  float64

	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	refresh    chan *streamClient
	events     chan sim.Event
	stop       chan struct{}

	closeOnce sync.Once

	// last is the state every connected client has seen, owned by run.
	last   *snapshot.Snapshot
	frames uint64
}

func (s *stream) close() {
	s.closeOnce.Do(func() { close(s.stop) })
}

func (s *stream) run(h *StreamHandler) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Listener callbacks run on the engine loop and must not block, so
	// they only hand the event over. The run loop owns the clients map.
	unsubscribe := s.engine.Subscribe(func(ev sim.Event) {
		if ev.Kind == sim.EventTick {
			return
		}
		select {
		case s.events <- ev:
		default:
		}
	})
	defer unsubscribe()
	defer h.retire(s)

	for {
		select {
		case <-s.stop:
			s.dropAll()
			return

		case client := <-s.register:
			s.clients[client] = true
			metrics.WebSocketConnections.Inc()
			logger.Info("Stream client connected", "simulation", s.id, "total_clients", len(s.clients))
			if s.last == nil {
				snap, err := s.capture()
				if err != nil {
					break
				}
				s.last = snap
			}
			client.trySend(s.frameMessage())

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				metrics.WebSocketConnections.Dec()
				logger.Info("Stream client disconnected", "simulation", s.id, "total_clients", len(s.clients))
			}
			if len(s.clients) == 0 {
				return
			}

		case client := <-s.refresh:
			if s.clients[client] && s.last != nil {
				client.trySend(s.frameMessage())
			}

		case ev := <-s.events:
			switch ev.Kind {
			case sim.EventEnd:
				s.broadcast(marshalMessage("end", map[string]any{
					"tick":  ev.Tick,
					"alpha": ev.Alpha,
				}))
			case sim.EventFallback:
				s.broadcast(marshalMessage("fallback", map[string]any{
					"backend": ev.Backend,
					"reason":  ev.Reason,
				}))
			}

		case <-ticker.C:
			if len(s.clients) == 0 {
				continue
			}
			cur, err := s.capture()
			if err != nil {
				if errors.Is(err, sim.ErrReleased) {
					s.broadcast(marshalMessage("end", map[string]any{"reason": "released"}))
					s.dropAll()
					return
				}
				logger.Warn("Stream position read failed", "simulation", s.id, "error", err)
				continue
			}
			if s.last == nil {
				s.last = cur
				continue
			}
			diff := snapshot.Compare(s.last, cur, s.epsilon)
			if diff.Empty() {
				continue
			}
			s.broadcast(marshalMessage("diff", diff))
			s.last = cur
		}
	}
}

// capture freezes current positions with a stream-local version number.
func (s *stream) capture() (*snapshot.Snapshot, error) {
	positions, err := s.engine.Positions()
	if err != nil {
		return nil, err
	}
	s.frames++
	snap := snapshot.New(positions, s.engine.Ticks(), s.engine.Alpha())
	snap.Version = s.frames
	return snap, nil
}

func (s *stream) frameMessage() []byte {
	return marshalMessage("frame", framePayload{
		Name:      s.engine.Name(),
		Backend:   s.engine.BackendName(),
		Version:   s.last.Version,
		Tick:      s.last.Tick,
		Alpha:     s.last.Alpha,
		Positions: s.last.Positions,
	})
}

// broadcast fans a message out to every client. Clients that cannot keep
// up are skipped, a later diff or refresh catches them up.
func (s *stream) broadcast(data []byte) {
	if data == nil {
		return
	}
	sent := 0
	for client := range s.clients {
		if client.trySend(data) {
			sent++
		}
	}
	if sent > 0 {
		metrics.WebSocketMessagesSent.Add(float64(sent))
	}
}

func (s *stream) dropAll() {
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
		metrics.WebSocketConnections.Dec()
	}
}

func marshalMessage(msgType string, payload interface{}) []byte {
	data, err := json.Marshal(WebSocketMessage{Type: msgType, Payload: payload})
	if err != nil {
		logger.Error("Failed to marshal WebSocket message", "type", msgType, "error", err)
		return nil
	}
	return data
}

// streamClient is one WebSocket connection on a stream.
type streamClient struct {
	stream *stream
	conn   *websocket.Conn
	send   chan []byte
}

// trySend enqueues without blocking the stream loop.
func (c *streamClient) trySend(data []byte) bool {
	if data == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		logger.Warn("Client send buffer full, skipping update")
		return false
	}
}

// readPump pumps messages from the WebSocket connection to the stream
func (c *streamClient) readPump() {
	defer func() {
		select {
		case c.stream.unregister <- c:
		case <-c.stream.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket unexpected close", "error", err)
			}
			break
		}

		// The only client message is a full-frame request.
		var clientMsg map[string]interface{}
		if err := json.Unmarshal(message, &clientMsg); err == nil {
			if msgType, ok := clientMsg["type"].(string); ok && msgType == "refresh" {
				select {
				case c.stream.refresh <- c:
				default:
				}
			}
		}
	}
}

// writePump pumps messages from the stream to the WebSocket connection
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Stream closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
