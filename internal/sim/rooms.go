package sim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
)

// LeaveEvent is the frame name used to leave a room.
const LeaveEvent = "leave"

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected desk.
type Client struct {
	ID    string
	Rooms []string
	Send  chan []byte
	conn  Conn
}

// Rooms is the server side of the realtime channel: it tracks which
// clients joined which room and fans frames out to them.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{} // room -> clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewRooms creates an empty room registry.
func NewRooms(logger zerolog.Logger) *Rooms {
	return &Rooms{
		members: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "sim_rooms").Logger(),
	}
}

// Register adds a client that has joined no rooms yet.
func (r *Rooms) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[client] = struct{}{}
}

// Unregister removes a client from every room and closes its Send channel.
func (r *Rooms) Unregister(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.all[client]; !ok {
		return
	}
	for _, room := range client.Rooms {
		r.removeLocked(room, client)
	}
	delete(r.all, client)
	close(client.Send)
}

// Join adds the client to room. Joining twice is harmless.
func (r *Rooms) Join(client *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[*Client]struct{})
	}
	if _, ok := r.members[room][client]; ok {
		return
	}
	r.members[room][client] = struct{}{}
	client.Rooms = append(client.Rooms, room)
}

// Leave removes the client from room.
func (r *Rooms) Leave(client *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(room, client)
	kept := client.Rooms[:0]
	for _, name := range client.Rooms {
		if name != room {
			kept = append(kept, name)
		}
	}
	client.Rooms = kept
}

func (r *Rooms) removeLocked(room string, client *Client) {
	if members, ok := r.members[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(r.members, room)
		}
	}
}

// ProcessFrame handles one inbound frame from a client.
func (r *Rooms) ProcessFrame(client *Client, frame realtime.Event) {
	switch frame.Name {
	case realtime.JoinEvent:
		r.Join(client, frame.Room)
		r.logger.Debug().Str("client_id", client.ID).Str("room", frame.Room).Msg("room joined")
	case LeaveEvent:
		r.Leave(client, frame.Room)
	}
}

// Broadcast sends a frame to every client in the frame's room. Clients
// with a full buffer miss the frame.
func (r *Rooms) Broadcast(frame realtime.Event) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error().Err(err).Str("event", frame.Name).Msg("marshal frame")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.members[frame.Room] {
		select {
		case client.Send <- data:
		default:
			r.logger.Warn().Str("client_id", client.ID).Str("event", frame.Name).Msg("client buffer full, frame dropped")
		}
	}
}

// Publish forwards a journaled camp event to its room.
func (r *Rooms) Publish(rec Record) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", rec.Event).Msg("marshal event data")
		return
	}
	r.Broadcast(realtime.Event{Name: rec.Event, Room: rec.Room, Data: data})
}

// Drop closes every live connection. Clients see a dropped stream and
// reconnect.
func (r *Rooms) Drop() {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.all))
	for c := range r.all {
		if c.conn != nil {
			conns = append(conns, c.conn)
		}
	}
	r.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// ClientCount returns the number of connected clients.
func (r *Rooms) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// MemberCount returns the number of clients in room.
func (r *Rooms) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}

// ---------------------------------------------------------------------------
// WebSocket handler
// ---------------------------------------------------------------------------

const writeWait = 10 * time.Second

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // desks connect from any host on the camp network
	},
}

// WebSocketHandler upgrades desk connections and routes their frames.
type WebSocketHandler struct {
	rooms *Rooms
}

// NewWebSocketHandler creates a handler bound to rooms.
func NewWebSocketHandler(rooms *Rooms) *WebSocketHandler {
	return &WebSocketHandler{rooms: rooms}
}

// HandleConnect upgrades the request, registers the client and starts its
// read and write pumps.
func (h *WebSocketHandler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, 256),
		conn: ws,
	}
	h.rooms.Register(client)
	h.rooms.logger.Debug().Str("client_id", client.ID).Str("remote_ip", c.RealIP()).Msg("desk connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.rooms.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame realtime.Event
		if err := json.Unmarshal(message, &frame); err != nil || frame.Name == "" {
			continue
		}
		h.rooms.ProcessFrame(client, frame)
	}
}

func (h *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
