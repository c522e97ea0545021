// Package analytics keeps dashboard counters fresh from the analytics room.
package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
)

// SummarySource returns the dashboard counters.
type SummarySource interface {
	AnalyticsSummary(ctx context.Context) (*apiclient.AnalyticsSummary, error)
}

// Tracker holds the last fetched summary. Analytics events are hints: each
// one triggers a refetch rather than an increment.
type Tracker struct {
	src     SummarySource
	rejoin  bool
	metrics *metrics.Collector
	logger  zerolog.Logger

	mu        sync.Mutex
	summary   apiclient.AnalyticsSummary
	updatedAt time.Time
	lastErr   error
	onChange  func(apiclient.AnalyticsSummary)
}

// NewTracker creates a Tracker.
func NewTracker(src SummarySource, rejoinOnReconnect bool, m *metrics.Collector, logger zerolog.Logger) *Tracker {
	return &Tracker{
		src:     src,
		rejoin:  rejoinOnReconnect,
		metrics: m,
		logger:  logger.With().Str("component", "analytics").Logger(),
	}
}

// OnChange registers fn to receive every refreshed summary.
func (t *Tracker) OnChange(fn func(apiclient.AnalyticsSummary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Refresh fetches the summary. On failure the previous summary is kept.
func (t *Tracker) Refresh(ctx context.Context, reason string) error {
	s, err := t.src.AnalyticsSummary(ctx)
	t.metrics.RecordRefetch(reason, err)

	t.mu.Lock()
	t.lastErr = err
	if err != nil {
		t.mu.Unlock()
		t.logger.Warn().Err(err).Str("reason", reason).Msg("analytics refresh failed")
		return err
	}
	t.summary = *s
	t.updatedAt = time.Now()
	fn, summary := t.onChange, t.summary
	t.mu.Unlock()

	if fn != nil {
		fn(summary)
	}
	return nil
}

// Summary returns the last good summary and when it was fetched.
func (t *Tracker) Summary() (apiclient.AnalyticsSummary, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary, t.updatedAt
}

// LastError returns the error of the most recent refresh, if any.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Run loads the summary, joins the analytics room and refreshes on every
// analytics event until ctx ends.
func (t *Tracker) Run(ctx context.Context, ch *realtime.Channel) error {
	sub := ch.Subscribe(realtime.AnalyticsEvents...)
	defer sub.Close()

	room := realtime.NewRoom(ch, realtime.RoomAnalytics, realtime.WithRejoinOnReconnect(t.rejoin))
	defer room.Close()
	if err := room.Join(); err != nil {
		return fmt.Errorf("join analytics room: %w", err)
	}

	_ = t.Refresh(ctx, "load")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Send:
			if !ok {
				return realtime.ErrClosed
			}
			// Drain queued hints; one refresh covers them all.
			drained := 0
		drain:
			for {
				select {
				case _, ok := <-sub.Send:
					if !ok {
						break drain
					}
					drained++
				default:
					break drain
				}
			}
			t.logger.Debug().Str("event", ev.Name).Int("coalesced", drained).Msg("analytics hint")
			_ = t.Refresh(ctx, ev.Name)
		}
	}
}
