package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
)

// Transport names the mechanism currently carrying events.
type Transport string

const (
	TransportNone      Transport = ""
	TransportWebSocket Transport = "websocket"
	TransportPolling   Transport = "polling"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("realtime channel closed")

// Poller is the polling fallback transport.
type Poller interface {
	PollEvents(ctx context.Context, rooms []string, cursor int64) (*apiclient.PollResponse, error)
}

// Options configures a Channel.
type Options struct {
	URL string

	// Header is called before every dial so a refreshed token is picked up.
	Header func() http.Header

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// PollFallbackAfter is the number of consecutive failed stream dials
	// after which the polling transport is tried. Zero disables polling.
	PollFallbackAfter int
	PollInterval      time.Duration

	// UpgradeInterval is how often a polling session retries the stream.
	UpgradeInterval time.Duration

	Poller           Poller
	Dialer           *gorillawebsocket.Dialer
	Metrics          *metrics.Collector
	SubscriberBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.UpgradeInterval <= 0 {
		o.UpgradeInterval = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = &gorillawebsocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	return o
}

// Channel is the single long-lived push connection of a process.
type Channel struct {
	opts   Options
	logger zerolog.Logger
	hub    *Hub

	mu        sync.Mutex
	conn      *gorillawebsocket.Conn
	connected bool
	transport Transport
	epoch     uint64
	pending   []Event
	rooms     map[string]struct{}
	watchers  map[chan bool]struct{}
	closed    bool

	cursor int64
	gaveUp atomic.Bool
	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a Channel. It does not connect until Start.
func NewChannel(opts Options, logger zerolog.Logger) *Channel {
	return &Channel{
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "realtime").Logger(),
		hub:      NewHub(),
		rooms:    make(map[string]struct{}),
		watchers: make(map[chan bool]struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the connection loop. Calling Start more than once has no
// further effect.
func (c *Channel) Start(ctx context.Context) {
	c.start.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
	})
}

// Close stops the connection loop, drops the connection and ends every
// subscriber.
func (c *Channel) Close() {
	c.start.Do(func() { close(c.done) })
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	c.hub.CloseAll()

	c.mu.Lock()
	for w := range c.watchers {
		delete(c.watchers, w)
		close(w)
	}
	c.mu.Unlock()
}

// Done is closed when the connection loop has ended, either by Close or
// after the reconnect budget was exhausted.
func (c *Channel) Done() <-chan struct{} { return c.done }

// GaveUp reports whether the loop stopped because reconnects were exhausted.
func (c *Channel) GaveUp() bool { return c.gaveUp.Load() }

// Hub exposes the in-process fan-out.
func (c *Channel) Hub() *Hub { return c.hub }

// Subscribe registers a subscriber for the named events.
func (c *Channel) Subscribe(events ...string) *Subscriber {
	return c.hub.NewSubscriber(c.opts.SubscriberBuffer, events...)
}

// Connected reports whether events are currently flowing.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Transport reports the transport in use, or TransportNone.
func (c *Channel) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Epoch counts successful connections; it increases on every (re)connect.
func (c *Channel) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// WatchStatus returns a channel that receives the current connection state
// immediately and every change after it. Only the latest state is kept if
// the reader falls behind. The returned func stops the watch.
func (c *Channel) WatchStatus() (<-chan bool, func()) {
	w := make(chan bool, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(w)
		return w, func() {}
	}
	c.watchers[w] = struct{}{}
	w <- c.connected
	c.mu.Unlock()

	var once sync.Once
	return w, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.watchers[w]; ok {
				delete(c.watchers, w)
				close(w)
			}
		})
	}
}

// Emit sends a frame to the backend. Frames emitted while disconnected are
// buffered and flushed on the next connection.
func (c *Channel) Emit(event, room string, data any) error {
	_, err := c.enqueue(event, room, data)
	return err
}

// enqueue returns the connection epoch in which the frame is (or will be)
// delivered.
func (c *Channel) enqueue(event, room string, data any) (uint64, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = b
	}
	frame := Event{Name: event, Room: room, Data: raw}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if event == JoinEvent && room != "" {
		c.rooms[room] = struct{}{}
	}

	switch {
	case c.connected && c.transport == TransportWebSocket:
		if err := c.writeLocked(frame); err != nil {
			c.pending = append(c.pending, frame)
			return c.epoch + 1, nil
		}
		return c.epoch, nil
	case c.connected && c.transport == TransportPolling && event == JoinEvent:
		// Polling requests carry the joined rooms themselves.
		return c.epoch, nil
	default:
		c.pending = append(c.pending, frame)
		return c.epoch + 1, nil
	}
}

func (c *Channel) writeLocked(frame Event) error {
	if c.conn == nil {
		return errors.New("no connection")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// markConnected switches to connected on transport, bumps the epoch and
// flushes buffered frames.
func (c *Channel) markConnected(t Transport, conn *gorillawebsocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.transport = t
	c.epoch++

	pending := c.pending
	c.pending = nil
	for i, frame := range pending {
		if t == TransportPolling {
			if frame.Name != JoinEvent {
				c.pending = append(c.pending, frame)
			}
			continue
		}
		if err := c.writeLocked(frame); err != nil {
			c.logger.Warn().Err(err).Str("event", frame.Name).Msg("flush failed")
			c.pending = append(c.pending, pending[i:]...)
			break
		}
	}
	epoch := c.epoch
	c.notifyLocked(true)
	c.mu.Unlock()

	c.opts.Metrics.SetConnected(true)
	c.logger.Info().Str("transport", string(t)).Uint64("epoch", epoch).Msg("realtime connected")
}

func (c *Channel) markDisconnected() {
	c.mu.Lock()
	was := c.connected
	c.conn = nil
	c.connected = false
	c.transport = TransportNone
	if was {
		c.notifyLocked(false)
	}
	c.mu.Unlock()

	if was {
		c.opts.Metrics.SetConnected(false)
		c.logger.Warn().Msg("realtime disconnected")
	}
}

func (c *Channel) notifyLocked(state bool) {
	for w := range c.watchers {
		select {
		case <-w:
		default:
		}
		w <- state
	}
}

// requeueJoins queues a join for every known room ahead of other pending
// frames. Rooms joined while polling were never announced on a stream.
func (c *Channel) requeueJoins() {
	c.mu.Lock()
	defer c.mu.Unlock()
	joins := make([]Event, 0, len(c.rooms)+len(c.pending))
	for _, r := range sortedKeys(c.rooms) {
		joins = append(joins, Event{Name: JoinEvent, Room: r})
	}
	c.pending = append(joins, c.pending...)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Channel) roomList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.rooms)
}

func (c *Channel) dispatch(ev Event) {
	ev.ReceivedAt = time.Now()
	c.opts.Metrics.RecordPushEvent(ev.Name)
	c.hub.Broadcast(ev)
}

// ---------------------------------------------------------------------------
// Connection loop
// ---------------------------------------------------------------------------

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.markDisconnected()

	failures := 0
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err == nil {
			failures = 0
			c.serveStream(ctx, conn)
			if !sleepCtx(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		c.logger.Warn().Err(err).Int("attempt", failures).Msg("realtime dial failed")

		if c.opts.Poller != nil && c.opts.PollFallbackAfter > 0 && failures >= c.opts.PollFallbackAfter {
			upgraded, polled, perr := c.servePolling(ctx)
			if ctx.Err() != nil {
				return
			}
			if polled {
				failures = 0
			}
			if upgraded != nil {
				c.requeueJoins()
				c.serveStream(ctx, upgraded)
				if !sleepCtx(ctx, c.opts.ReconnectDelay) {
					return
				}
				continue
			}
			if perr != nil && !polled {
				c.logger.Warn().Err(perr).Msg("polling fallback failed")
			}
		}

		if failures > c.opts.ReconnectAttempts {
			c.gaveUp.Store(true)
			c.logger.Error().Int("attempts", failures).Msg("realtime reconnect attempts exhausted")
			return
		}
		if !sleepCtx(ctx, c.opts.ReconnectDelay) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*gorillawebsocket.Conn, error) {
	var header http.Header
	if c.opts.Header != nil {
		header = c.opts.Header()
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c.opts.Metrics.RecordConnect(string(TransportWebSocket), err == nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serveStream reads frames from conn until it fails or ctx ends.
func (c *Channel) serveStream(ctx context.Context, conn *gorillawebsocket.Conn) {
	c.markConnected(TransportWebSocket, conn)
	defer c.markDisconnected()
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(gorillawebsocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("realtime stream dropped")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			continue // Ignore malformed frames.
		}
		c.dispatch(ev)
	}
}

// servePolling runs the polling transport until a poll fails, ctx ends, or
// a periodic stream dial succeeds (returned for the caller to serve).
func (c *Channel) servePolling(ctx context.Context) (*gorillawebsocket.Conn, bool, error) {
	polled := false
	defer func() {
		if polled {
			c.markDisconnected()
		}
	}()

	upgrade := time.NewTicker(c.opts.UpgradeInterval)
	defer upgrade.Stop()
	tick := time.NewTicker(c.opts.PollInterval)
	defer tick.Stop()

	for {
		resp, err := c.opts.Poller.PollEvents(ctx, c.roomList(), c.cursor)
		c.opts.Metrics.RecordConnect(string(TransportPolling), err == nil)
		if err != nil {
			return nil, polled, err
		}
		if !polled {
			polled = true
			c.markConnected(TransportPolling, nil)
		}
		for _, pe := range resp.Events {
			data, _ := json.Marshal(pe.Data)
			c.dispatch(Event{Name: pe.Event, Room: pe.Room, Data: data})
		}
		if resp.Cursor > c.cursor {
			c.cursor = resp.Cursor
		}

		select {
		case <-ctx.Done():
			return nil, polled, nil
		case <-upgrade.C:
			if conn, err := c.dial(ctx); err == nil {
				c.markDisconnected()
				polled = false
				return conn, true, nil
			}
		case <-tick.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
