package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
)

// StockSource returns current medicine stock.
type StockSource interface {
	MedicineStock(ctx context.Context) ([]apiclient.StockItem, error)
}

// PickupForm is the in-progress pickup entry a stock check is compared to.
type PickupForm struct {
	BookNo string
	Lines  []apiclient.MedicineLine
}

// Shortage is a requested quantity the stock cannot cover.
type Shortage struct {
	MedicineID string
	Name       string
	Requested  int
	Available  int
}

// StockReport is the result of one stock poll.
type StockReport struct {
	CheckedAt time.Time
	Items     []apiclient.StockItem
	BookNo    string
	Shortages []Shortage
	Err       error
}

// Blocking reports whether the pickup cannot proceed as entered.
func (r StockReport) Blocking() bool { return len(r.Shortages) > 0 }

// NextStep returns the operator hint for a blocking report.
func (r StockReport) NextStep() string {
	if !r.Blocking() {
		return ""
	}
	s := r.Shortages[0]
	return fmt.Sprintf("reduce %s to at most %d or pick a substitute", s.Name, s.Available)
}

// StockWatcher polls stock on an interval. Every tick compares against the
// form as it is at that moment, read through the latest-form pointer.
type StockWatcher struct {
	src      StockSource
	interval time.Duration
	logger   zerolog.Logger

	form   atomic.Pointer[PickupForm]
	latest atomic.Pointer[StockReport]
}

// NewStockWatcher creates a watcher polling src every interval.
func NewStockWatcher(src StockSource, interval time.Duration, logger zerolog.Logger) *StockWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StockWatcher{
		src:      src,
		interval: interval,
		logger:   logger.With().Str("component", "stock_watcher").Logger(),
	}
}

// SetForm replaces the form the next tick compares against.
func (w *StockWatcher) SetForm(f PickupForm) {
	cp := f
	cp.Lines = append([]apiclient.MedicineLine(nil), f.Lines...)
	w.form.Store(&cp)
}

// Latest returns the most recent report, or nil before the first poll.
func (w *StockWatcher) Latest() *StockReport {
	return w.latest.Load()
}

// Check polls once against the current form.
func (w *StockWatcher) Check(ctx context.Context) StockReport {
	report := StockReport{CheckedAt: time.Now()}
	items, err := w.src.MedicineStock(ctx)
	if err != nil {
		report.Err = err
		if prev := w.latest.Load(); prev != nil {
			report.Items = prev.Items
		}
	} else {
		report.Items = items
	}

	if form := w.form.Load(); form != nil && err == nil {
		report.BookNo = form.BookNo
		report.Shortages = shortages(form.Lines, report.Items)
	}
	w.latest.Store(&report)
	return report
}

// Run polls immediately and then every interval until ctx ends, passing
// each report to onReport.
func (w *StockWatcher) Run(ctx context.Context, onReport func(StockReport)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		report := w.Check(ctx)
		if report.Err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(report.Err).Msg("stock poll failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if onReport != nil {
			onReport(report)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func shortages(lines []apiclient.MedicineLine, items []apiclient.StockItem) []Shortage {
	stock := make(map[string]apiclient.StockItem, len(items))
	for _, it := range items {
		stock[it.MedicineID] = it
	}

	requested := make(map[string]int)
	var order []string
	for _, l := range lines {
		if _, seen := requested[l.MedicineID]; !seen {
			order = append(order, l.MedicineID)
		}
		requested[l.MedicineID] += l.Quantity
	}

	var out []Shortage
	for _, id := range order {
		it, ok := stock[id]
		name := it.Name
		if !ok {
			name = id
		}
		if requested[id] > it.Quantity {
			out = append(out, Shortage{MedicineID: id, Name: name, Requested: requested[id], Available: it.Quantity})
		}
	}
	return out
}
