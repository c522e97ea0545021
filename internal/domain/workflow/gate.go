package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
)

// State is the eligibility of the current identifier for a stage.
type State string

const (
	Empty    State = "EMPTY"
	Checking State = "CHECKING"
	Eligible State = "ELIGIBLE"
	Blocked  State = "BLOCKED"
	NotFound State = "NOT_FOUND"
	// Failed means the lookup itself failed; no eligibility is established.
	Failed State = "FAILED"
	// Invalid means the identifier failed local validation and was not looked up.
	Invalid State = "INVALID"
)

var (
	// ErrNotEligible is returned by Submit unless the gate is Eligible.
	ErrNotEligible = errors.New("stage is not eligible for submission")
	// ErrUngated is returned by NewGate for stages without a prerequisite.
	ErrUngated = errors.New("stage has no prerequisite to gate on")
)

// Handoff routes the operator to the prerequisite stage with the book number
// carried forward.
type Handoff struct {
	Stage  Stage
	BookNo string
}

// Snapshot is a consistent view of a Gate.
type Snapshot struct {
	Stage    Stage
	State    State
	BookNo   string
	Status   *apiclient.PatientStatus
	Handoff  *Handoff
	Err      error
	Message  string
	NextStep string
}

// GateOptions configures a Gate.
type GateOptions struct {
	Debounce          time.Duration
	MessageClearAfter time.Duration
	Metrics           *metrics.Collector
}

// Gate runs the debounced eligibility check for one stage.
type Gate struct {
	stage  Stage
	req    requirement
	api    API
	opts   GateOptions
	logger zerolog.Logger

	mu        sync.Mutex
	snap      Snapshot
	gen       uint64
	timer     *time.Timer
	inflight  context.CancelFunc
	msgTimer  *time.Timer
	msgSeq    uint64
	discarded int
	watchers  map[chan Snapshot]struct{}
	closed    bool
}

// NewGate creates a Gate for stage.
func NewGate(stage Stage, api API, opts GateOptions, logger zerolog.Logger) (*Gate, error) {
	req, ok := requirements[stage]
	if !ok {
		return nil, fmt.Errorf("%s: %w", stage, ErrUngated)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.MessageClearAfter <= 0 {
		opts.MessageClearAfter = 5 * time.Second
	}
	return &Gate{
		stage:    stage,
		req:      req,
		api:      api,
		opts:     opts,
		logger:   logger.With().Str("component", "gate").Str("stage", string(stage)).Logger(),
		snap:     Snapshot{Stage: stage, State: Empty},
		watchers: make(map[chan Snapshot]struct{}),
	}, nil
}

// Stage returns the gated stage.
func (g *Gate) Stage() Stage { return g.stage }

// Snapshot returns the current gate view.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

// Discarded returns how many lookup responses were dropped as stale.
func (g *Gate) Discarded() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.discarded
}

// Watch returns a channel receiving the current snapshot and every change.
// Only the latest snapshot is kept if the reader falls behind.
func (g *Gate) Watch() (<-chan Snapshot, func()) {
	w := make(chan Snapshot, 1)
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		close(w)
		return w, func() {}
	}
	g.watchers[w] = struct{}{}
	w <- g.snap
	g.mu.Unlock()

	var once sync.Once
	return w, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if _, ok := g.watchers[w]; ok {
				delete(g.watchers, w)
				close(w)
			}
		})
	}
}

// SetIdentifier records a new book number. Any pending check is cancelled
// and the debounce restarts; only the final value of a burst of edits is
// looked up.
func (g *Gate) SetIdentifier(bookNo string) {
	bookNo = strings.TrimSpace(bookNo)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.cancelPendingLocked()
	g.gen++
	gen := g.gen

	g.snap = Snapshot{Stage: g.stage, BookNo: bookNo}
	switch err := ValidateBookNo(bookNo); {
	case bookNo == "":
		g.snap.State = Empty
	case err != nil:
		g.snap.State = Invalid
		g.snap.Err = err
		g.snap.NextStep = apperr.NextStep(err)
	default:
		g.snap.State = Checking
		g.timer = time.AfterFunc(g.opts.Debounce, func() { g.check(gen, bookNo) })
	}
	g.notifyLocked()
}

// Refresh re-runs the lookup for the current identifier without waiting for
// the debounce. An Eligible or Blocked verdict stays in place while the
// lookup runs and survives a failed lookup.
func (g *Gate) Refresh() {
	g.mu.Lock()
	if g.closed || g.snap.BookNo == "" || g.snap.State == Invalid {
		g.mu.Unlock()
		return
	}
	g.cancelPendingLocked()
	g.gen++
	gen, bookNo := g.gen, g.snap.BookNo
	g.mu.Unlock()

	g.check(gen, bookNo)
}

func (g *Gate) cancelPendingLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.inflight != nil {
		g.inflight()
		g.inflight = nil
	}
}

func (g *Gate) check(gen uint64, bookNo string) {
	g.mu.Lock()
	if g.closed || gen != g.gen {
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.inflight = cancel
	settled := g.snap.State == Eligible || g.snap.State == Blocked
	if !settled {
		g.snap.State = Checking
		g.notifyLocked()
	}
	g.mu.Unlock()

	start := time.Now()
	status, err := g.api.PatientStatus(ctx, bookNo)
	cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || gen != g.gen || bookNo != g.snap.BookNo {
		g.discarded++
		g.logger.Debug().Str("book_no", bookNo).Msg("stale eligibility response discarded")
		return
	}
	g.inflight = nil

	if err != nil && settled && !apperr.Is(err, apperr.NotFound) {
		g.logger.Warn().Err(err).Str("book_no", bookNo).Msg("refresh failed, keeping eligibility")
		g.snap.Err = err
		g.opts.Metrics.RecordGateCheck(string(g.stage), string(Failed), time.Since(start))
		g.setMessageLocked(fmt.Sprintf("could not refresh %s: %v", g.stage, err))
		return
	}

	snap := Snapshot{Stage: g.stage, BookNo: bookNo, Message: g.snap.Message}
	switch {
	case err == nil:
		snap.Status = status
		if g.req.done(status) {
			snap.State = Eligible
		} else {
			snap.State = Blocked
			snap.Handoff = &Handoff{Stage: g.req.prerequisite, BookNo: bookNo}
			snap.NextStep = fmt.Sprintf("complete %s for book %s first", g.req.prerequisite, bookNo)
		}
	case apperr.Is(err, apperr.NotFound):
		snap.State = NotFound
		snap.Err = err
		snap.NextStep = apperr.NextStep(err)
	default:
		snap.State = Failed
		snap.Err = err
		snap.NextStep = apperr.NextStep(err)
	}
	g.snap = snap
	g.opts.Metrics.RecordGateCheck(string(g.stage), string(snap.State), time.Since(start))
	g.logger.Debug().Str("book_no", bookNo).Str("state", string(snap.State)).Msg("eligibility checked")
	g.notifyLocked()
}

// Submit performs sub for the current identifier. It is only permitted
// while Eligible. Validation failures never reach the network. A failed
// submission leaves the gate Eligible and sets a transient message.
func (g *Gate) Submit(ctx context.Context, sub Submission) error {
	if sub.Stage() != g.stage {
		return fmt.Errorf("submit %s through %s gate: %w", sub.Stage(), g.stage, ErrNotEligible)
	}

	g.mu.Lock()
	if g.snap.State != Eligible {
		state := g.snap.State
		g.mu.Unlock()
		return fmt.Errorf("%s is %s: %w", g.stage, state, ErrNotEligible)
	}
	gen, bookNo := g.gen, g.snap.BookNo
	g.mu.Unlock()

	if err := sub.Validate(); err != nil {
		g.setMessage(gen, err.Error())
		return err
	}

	err := sub.Submit(ctx, g.api, bookNo)
	if err != nil {
		g.logger.Warn().Err(err).Str("book_no", bookNo).Msg("submission failed")
		g.setMessage(gen, fmt.Sprintf("could not save %s: %v", g.stage, err))
		return fmt.Errorf("submit %s for %s: %w", g.stage, bookNo, err)
	}
	g.logger.Info().Str("book_no", bookNo).Msg("stage submitted")
	g.setMessage(gen, fmt.Sprintf("%s saved for book %s", g.stage, bookNo))
	return nil
}

// setMessage shows a transient message that clears itself after
// MessageClearAfter. The eligibility state is left unchanged.
func (g *Gate) setMessage(gen uint64, msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || gen != g.gen {
		return
	}
	g.setMessageLocked(msg)
}

func (g *Gate) setMessageLocked(msg string) {
	g.msgSeq++
	seq := g.msgSeq
	if g.msgTimer != nil {
		g.msgTimer.Stop()
	}
	g.msgTimer = time.AfterFunc(g.opts.MessageClearAfter, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed || seq != g.msgSeq {
			return
		}
		g.snap.Message = ""
		g.notifyLocked()
	})
	g.snap.Message = msg
	g.notifyLocked()
}

func (g *Gate) notifyLocked() {
	for w := range g.watchers {
		select {
		case <-w:
		default:
		}
		w <- g.snap
	}
}

// Close stops all timers and in-flight lookups and ends every watcher.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.cancelPendingLocked()
	if g.msgTimer != nil {
		g.msgTimer.Stop()
	}
	for w := range g.watchers {
		delete(g.watchers, w)
		close(w)
	}
}
