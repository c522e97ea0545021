package sim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
)

func newClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 4)}
}

// ---------------------------------------------------------------------------
// Rooms tests
// ---------------------------------------------------------------------------

func TestRooms_JoinIsIdempotent(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	c := newClient("c1")
	rooms.Register(c)

	rooms.Join(c, realtime.RoomQueue)
	rooms.Join(c, realtime.RoomQueue)

	if rooms.MemberCount(realtime.RoomQueue) != 1 {
		t.Fatalf("expected 1 member, got %d", rooms.MemberCount(realtime.RoomQueue))
	}
	if len(c.Rooms) != 1 {
		t.Fatalf("expected the room recorded once, got %v", c.Rooms)
	}
}

func TestRooms_BroadcastOnlyToRoomMembers(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	queue, analytics := newClient("q"), newClient("a")
	rooms.Register(queue)
	rooms.Register(analytics)
	rooms.ProcessFrame(queue, realtime.Event{Name: realtime.JoinEvent, Room: realtime.RoomQueue})
	rooms.ProcessFrame(analytics, realtime.Event{Name: realtime.JoinEvent, Room: realtime.RoomAnalytics})

	rooms.Publish(Record{Event: realtime.EventQueueAdded, Room: realtime.RoomQueue, Data: map[string]any{"doctor_id": "d1"}})

	select {
	case data := <-queue.Send:
		var ev realtime.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Name != realtime.EventQueueAdded || ev.Room != realtime.RoomQueue {
			t.Fatalf("unexpected frame %+v", ev)
		}
		var p struct {
			DoctorID string `json:"doctor_id"`
		}
		if err := ev.Decode(&p); err != nil || p.DoctorID != "d1" {
			t.Fatalf("unexpected payload %s", ev.Data)
		}
	default:
		t.Fatal("queue member got nothing")
	}
	select {
	case <-analytics.Send:
		t.Fatal("analytics member must not get queue events")
	default:
	}
}

func TestRooms_LeaveStopsDelivery(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	c := newClient("c1")
	rooms.Register(c)
	rooms.Join(c, realtime.RoomQueue)
	rooms.ProcessFrame(c, realtime.Event{Name: LeaveEvent, Room: realtime.RoomQueue})

	rooms.Broadcast(realtime.Event{Name: realtime.EventQueueRemoved, Room: realtime.RoomQueue})
	if len(c.Send) != 0 {
		t.Fatal("left client must not receive frames")
	}
	if rooms.MemberCount(realtime.RoomQueue) != 0 || len(c.Rooms) != 0 {
		t.Fatal("expected the room to be empty")
	}
}

func TestRooms_FullBufferDropsFrame(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	c := &Client{ID: "slow", Send: make(chan []byte, 1)}
	rooms.Register(c)
	rooms.Join(c, realtime.RoomQueue)

	rooms.Broadcast(realtime.Event{Name: realtime.EventQueueAdded, Room: realtime.RoomQueue})
	rooms.Broadcast(realtime.Event{Name: realtime.EventQueueRemoved, Room: realtime.RoomQueue})

	if len(c.Send) != 1 {
		t.Fatalf("expected 1 buffered frame, got %d", len(c.Send))
	}
}

func TestRooms_UnregisterClosesSend(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	c := newClient("c1")
	rooms.Register(c)
	rooms.Join(c, realtime.RoomAnalytics)

	rooms.Unregister(c)
	rooms.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Fatal("expected Send to be closed")
	}
	if rooms.ClientCount() != 0 || rooms.MemberCount(realtime.RoomAnalytics) != 0 {
		t.Fatal("expected no clients left")
	}
}

func TestRooms_ConcurrentJoinAndBroadcast(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		c := &Client{ID: "c", Send: make(chan []byte, 64)}
		go func() {
			defer wg.Done()
			rooms.Register(c)
			rooms.Join(c, realtime.RoomQueue)
			rooms.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			rooms.Broadcast(realtime.Event{Name: realtime.EventQueueAdded, Room: realtime.RoomQueue})
		}()
	}
	wg.Wait()

	if rooms.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", rooms.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// WebSocketHandler tests
// ---------------------------------------------------------------------------

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewWebSocketHandler(NewRooms(zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestWebSocketHandler_JoinAndReceive(t *testing.T) {
	rooms := NewRooms(zerolog.Nop())
	e := echo.New()
	e.GET("/ws", NewWebSocketHandler(rooms).HandleConnect)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	if err := conn.WriteJSON(realtime.Event{Name: realtime.JoinEvent, Room: realtime.RoomQueue}); err != nil {
		t.Fatalf("failed to send join: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rooms.MemberCount(realtime.RoomQueue) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("join was never processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rooms.Broadcast(realtime.Event{Name: realtime.EventQueueCountUpdated, Room: realtime.RoomQueue, Data: json.RawMessage(`{"doctor_id":"d1","queue_count":2}`)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received realtime.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if received.Name != realtime.EventQueueCountUpdated {
		t.Fatalf("expected %s, got %s", realtime.EventQueueCountUpdated, received.Name)
	}

	rooms.Drop()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed by Drop")
	}
	deadline = time.Now().Add(2 * time.Second)
	for rooms.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dropped client was never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
