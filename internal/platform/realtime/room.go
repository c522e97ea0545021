package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// RoomOption configures a Room.
type RoomOption func(*Room)

// WithRejoinOnReconnect re-emits the join after every reconnect. Without it
// a Room joins exactly once per instance, which leaves it unsubscribed on
// the server after a drop until the owner builds a new Room.
func WithRejoinOnReconnect(enabled bool) RoomOption {
	return func(r *Room) { r.rejoin = enabled }
}

// Room is a per-owner handle on a room subscription. The join frame is
// emitted at most once per Room (or once per connection with
// WithRejoinOnReconnect), so several owners mounting concurrently never
// emit duplicate joins of their own.
type Room struct {
	ch     *Channel
	name   string
	rejoin bool
	logger zerolog.Logger

	mu        sync.Mutex
	joined    bool
	joinEpoch uint64
	joins     int
	stop      func()
	wg        sync.WaitGroup
}

// NewRoom creates a Room on ch. Nothing is emitted until Join.
func NewRoom(ch *Channel, name string, opts ...RoomOption) *Room {
	r := &Room{
		ch:     ch,
		name:   name,
		logger: ch.logger.With().Str("room", name).Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Join emits the join frame unless this Room already did.
func (r *Room) Join() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.joined {
		return nil
	}
	epoch, err := r.ch.enqueue(JoinEvent, r.name, nil)
	if err != nil {
		return err
	}
	r.joined = true
	r.joinEpoch = epoch
	r.joins++
	r.logger.Debug().Uint64("epoch", epoch).Msg("room join emitted")

	if r.rejoin {
		status, stop := r.ch.WatchStatus()
		r.stop = stop
		r.wg.Add(1)
		go r.watch(status)
	}
	return nil
}

func (r *Room) watch(status <-chan bool) {
	defer r.wg.Done()
	for up := range status {
		if !up {
			continue
		}
		r.mu.Lock()
		if r.joined && r.ch.Epoch() > r.joinEpoch {
			if epoch, err := r.ch.enqueue(JoinEvent, r.name, nil); err == nil {
				r.joinEpoch = epoch
				r.joins++
				r.logger.Info().Uint64("epoch", epoch).Msg("room re-joined after reconnect")
			}
		}
		r.mu.Unlock()
	}
}

// Joined reports whether Join has emitted.
func (r *Room) Joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// JoinCount returns how many join frames this Room has emitted.
func (r *Room) JoinCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joins
}

// Close releases the reconnect watcher. The server-side membership is left
// to the connection lifetime.
func (r *Room) Close() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	r.wg.Wait()
}
