// Package queue keeps the per-doctor queue state of the camp in step with
// push events from the realtime channel.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
)

// API is the subset of the backend client the view needs.
type API interface {
	Doctors(ctx context.Context) ([]apiclient.Doctor, error)
	DoctorQueue(ctx context.Context, doctorID string) (*apiclient.QueueHead, error)
	AssignNext(ctx context.Context, doctorID string) (*apiclient.AssignNextResult, error)
}

// Entry is the last known good state of one doctor's queue.
type Entry struct {
	DoctorID       string
	DoctorName     string
	Specialization string
	HeadBookNo     *string
	QueueCount     int
	LastError      string
	UpdatedAt      time.Time
}

// Options configures a View.
type Options struct {
	// Concurrency bounds the per-doctor fetches of Load.
	Concurrency       int
	RejoinOnReconnect bool
	Metrics           *metrics.Collector
	// OnChange is called with a fresh snapshot after every state change.
	OnChange func([]Entry)
}

// View reconciles doctor queues against push events. Events are refresh
// hints: head-of-queue values are always refetched, only counts are patched
// directly.
type View struct {
	api    API
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	dirty   map[string]bool

	flight singleflight.Group
}

// NewView creates an empty View.
func NewView(api API, opts Options, logger zerolog.Logger) *View {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &View{
		api:     api,
		opts:    opts,
		logger:  logger.With().Str("component", "queue_view").Logger(),
		entries: make(map[string]*Entry),
		dirty:   make(map[string]bool),
	}
}

// Load fetches the roster and every doctor's queue. A failed per-doctor
// fetch is recorded on that entry and does not stop the others; only a
// roster failure is returned.
func (v *View) Load(ctx context.Context) error {
	doctors, err := v.api.Doctors(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	v.mu.Lock()
	next := make(map[string]*Entry, len(doctors))
	for _, d := range doctors {
		e := &Entry{DoctorID: d.DoctorID, DoctorName: d.DoctorName, Specialization: d.Specialization}
		if old, ok := v.entries[d.DoctorID]; ok {
			e.HeadBookNo, e.QueueCount = old.HeadBookNo, old.QueueCount
		}
		next[d.DoctorID] = e
	}
	v.entries = next
	v.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for _, d := range doctors {
		id := d.DoctorID
		g.Go(func() error {
			head, err := v.api.DoctorQueue(gctx, id)
			v.apply(id, head, err)
			return nil
		})
	}
	_ = g.Wait()

	v.logger.Info().Int("doctors", len(doctors)).Msg("queue loaded")
	v.changed()
	return nil
}

func (v *View) apply(doctorID string, head *apiclient.QueueHead, err error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.entries[doctorID]
	if !ok {
		return false
	}
	if err != nil {
		e.LastError = err.Error()
		v.logger.Warn().Err(err).Str("doctor_id", doctorID).Msg("queue fetch failed")
		return true
	}
	e.HeadBookNo = head.HeadBookNo
	e.QueueCount = head.QueueCount
	e.LastError = ""
	e.UpdatedAt = time.Now()
	return true
}

type eventPayload struct {
	DoctorID    string `json:"doctor_id"`
	DoctorIDAlt string `json:"doctorId"`
	QueueCount  *int   `json:"queue_count"`
	Count       *int   `json:"count"`
}

func (p eventPayload) doctor() string {
	if p.DoctorID != "" {
		return p.DoctorID
	}
	return p.DoctorIDAlt
}

func (p eventPayload) count() (int, bool) {
	switch {
	case p.QueueCount != nil:
		return *p.QueueCount, true
	case p.Count != nil:
		return *p.Count, true
	}
	return 0, false
}

// HandleEvent applies one push event. count-updated patches only the named
// doctor's count. Membership events refetch the affected doctor's head and
// count, or every doctor when the payload names none. Unknown doctors are
// ignored.
func (v *View) HandleEvent(ctx context.Context, ev realtime.Event) {
	var p eventPayload
	if len(ev.Data) > 0 {
		if err := ev.Decode(&p); err != nil {
			v.logger.Warn().Err(err).Str("event", ev.Name).Msg("malformed event payload")
		}
	}
	doctorID := p.doctor()

	switch ev.Name {
	case realtime.EventQueueCountUpdated:
		count, ok := p.count()
		if doctorID == "" || !ok {
			return
		}
		v.mu.Lock()
		e, known := v.entries[doctorID]
		if known {
			e.QueueCount = count
			e.UpdatedAt = time.Now()
		}
		v.mu.Unlock()
		if known {
			v.changed()
		}

	case realtime.EventQueueAdded, realtime.EventQueueRemoved, realtime.EventDoctorAssigned,
		realtime.EventConsultationComplete, realtime.EventVitalsRecorded:
		if doctorID != "" {
			if v.has(doctorID) {
				_ = v.Refetch(ctx, doctorID, ev.Name)
			}
			return
		}
		for _, id := range v.doctorIDs() {
			_ = v.Refetch(ctx, id, ev.Name)
		}
	}
}

// Refetch reloads one doctor's head and count. Concurrent calls for the same
// doctor share a fetch; a call made while a fetch is in flight causes one
// more fetch after it, so the result is never older than the latest hint.
func (v *View) Refetch(ctx context.Context, doctorID, reason string) error {
	v.mu.Lock()
	v.dirty[doctorID] = true
	v.mu.Unlock()

	for {
		_, err, _ := v.flight.Do(doctorID, func() (any, error) {
			var last error
			for {
				v.mu.Lock()
				if !v.dirty[doctorID] {
					v.mu.Unlock()
					return nil, last
				}
				v.dirty[doctorID] = false
				v.mu.Unlock()

				head, err := v.api.DoctorQueue(ctx, doctorID)
				v.opts.Metrics.RecordRefetch(reason, err)
				if v.apply(doctorID, head, err) {
					v.changed()
				}
				last = err
			}
		})

		// A hint that joined the flight after its last dirty check is
		// still pending.
		v.mu.Lock()
		pending := v.dirty[doctorID]
		v.mu.Unlock()
		if !pending || ctx.Err() != nil {
			return err
		}
	}
}

// AssignNext runs the compound assign + dequeue action for a doctor. The
// local entry is updated optimistically from the response and then
// confirmed by a refetch.
func (v *View) AssignNext(ctx context.Context, doctorID string) (*apiclient.AssignNextResult, error) {
	res, err := v.api.AssignNext(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("assign next for %s: %w", doctorID, err)
	}

	v.mu.Lock()
	if e, ok := v.entries[doctorID]; ok {
		e.HeadBookNo = res.HeadBookNo
		if e.QueueCount > 0 {
			e.QueueCount--
		}
		e.UpdatedAt = time.Now()
	}
	v.mu.Unlock()
	v.changed()

	v.logger.Info().Str("doctor_id", doctorID).Str("book_no", res.AssignedBookNo).Msg("patient assigned")
	if err := v.Refetch(ctx, doctorID, "assign-next"); err != nil {
		v.logger.Warn().Err(err).Str("doctor_id", doctorID).Msg("confirming refetch failed")
	}
	return res, nil
}

// Run joins the queue room and applies events until ctx ends. Count
// patches are applied in arrival order; refetches run concurrently so bursts
// for one doctor coalesce.
func (v *View) Run(ctx context.Context, ch *realtime.Channel) error {
	sub := ch.Subscribe(realtime.QueueEvents...)
	defer sub.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	room := realtime.NewRoom(ch, realtime.RoomQueue, realtime.WithRejoinOnReconnect(v.opts.RejoinOnReconnect))
	defer room.Close()
	if err := room.Join(); err != nil {
		return fmt.Errorf("join queue room: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Send:
			if !ok {
				return realtime.ErrClosed
			}
			if ev.Name == realtime.EventQueueCountUpdated {
				v.HandleEvent(ctx, ev)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				v.HandleEvent(ctx, ev)
			}()
		}
	}
}

// Entry returns a copy of one doctor's entry.
func (v *View) Entry(doctorID string) (Entry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[doctorID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns copies of all entries sorted by doctor name.
func (v *View) Snapshot() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DoctorName != out[j].DoctorName {
			return out[i].DoctorName < out[j].DoctorName
		}
		return out[i].DoctorID < out[j].DoctorID
	})
	return out
}

func (v *View) has(doctorID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.entries[doctorID]
	return ok
}

func (v *View) doctorIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.entries))
	for id := range v.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *View) changed() {
	if v.opts.OnChange == nil {
		return
	}
	v.mu.Lock()
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.opts.OnChange(snap)
}
