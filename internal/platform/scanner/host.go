package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrScannerBusy is returned by Request while another scan is open.
	ErrScannerBusy = errors.New("scanner already open")
	// ErrScanCancelled is returned by Request when the scanner closed
	// without a result.
	ErrScanCancelled = errors.New("scan cancelled")
)

// Host is the single shared scanner overlay. It owns the only Adapter and
// serves scan requests from every workflow stage, one at a time.
type Host struct {
	adapter *Adapter
	logger  zerolog.Logger

	mu        sync.Mutex
	open      bool
	finishing bool
	gen       uint64
	onResult  func(string)
	onClosed  func(error)
	unwatch   func()
}

// NewHost creates a Host around adapter. A Hidden or Unload event that
// stops the adapter closes the open scan as cancelled.
func NewHost(adapter *Adapter, logger zerolog.Logger) *Host {
	h := &Host{
		adapter: adapter,
		logger:  logger.With().Str("component", "scanner_host").Logger(),
	}
	h.unwatch = adapter.OnInterrupt(h.Cancel)
	return h
}

// IsOpen reports whether a scan is in progress.
func (h *Host) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// OpenScanner records onResult and starts scanning. It reports false, and
// does nothing, when the scanner is already open. The first decoded value
// is passed to onResult and the scanner closes; on an error the scanner
// closes without calling onResult.
func (h *Host) OpenScanner(ctx context.Context, onResult func(string)) bool {
	_, ok := h.openWith(ctx, onResult, nil)
	return ok
}

func (h *Host) openWith(ctx context.Context, onResult func(string), onClosed func(error)) (uint64, bool) {
	h.mu.Lock()
	if h.open {
		h.mu.Unlock()
		h.logger.Debug().Msg("open ignored, scanner busy")
		return 0, false
	}
	h.open = true
	h.gen++
	gen := h.gen
	h.onResult = onResult
	h.onClosed = onClosed
	h.mu.Unlock()

	err := h.adapter.Start(ctx,
		func(v string) { h.finish(gen, v, true, nil) },
		func(err error) { h.finish(gen, "", false, err) },
	)
	if err != nil {
		h.finish(gen, "", false, err)
	}
	return gen, true
}

// Cancel closes the scanner without delivering a result.
func (h *Host) Cancel() {
	h.mu.Lock()
	gen := h.gen
	h.mu.Unlock()
	h.finish(gen, "", false, nil)
}

// Request opens the scanner and waits for one result. It returns
// ErrScannerBusy if a scan is already open, the camera error if the scan
// failed, and ErrScanCancelled if the scanner was cancelled or ctx ended
// first.
func (h *Host) Request(ctx context.Context) (string, error) {
	results := make(chan string, 1)
	closed := make(chan error, 1)

	gen, ok := h.openWith(ctx, func(v string) { results <- v }, func(err error) { closed <- err })
	if !ok {
		return "", ErrScannerBusy
	}

	select {
	case v := <-results:
		return v, nil
	case err := <-closed:
		select {
		case v := <-results:
			return v, nil
		default:
		}
		if err == nil {
			err = ErrScanCancelled
		}
		return "", err
	case <-ctx.Done():
		h.finish(gen, "", false, nil)
		select {
		case v := <-results:
			return v, nil
		default:
		}
		return "", fmt.Errorf("%w: %w", ErrScanCancelled, ctx.Err())
	}
}

// finish delivers the result (if any), stops the adapter and closes the
// overlay. Only the first finish of a session has any effect.
func (h *Host) finish(gen uint64, value string, delivered bool, cause error) {
	h.mu.Lock()
	if !h.open || h.finishing || gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.finishing = true
	onResult, onClosed := h.onResult, h.onClosed
	h.onResult, h.onClosed = nil, nil
	h.mu.Unlock()

	if delivered && onResult != nil {
		onResult(value)
	}
	h.adapter.Stop()

	h.mu.Lock()
	h.open = false
	h.finishing = false
	h.mu.Unlock()

	switch {
	case delivered:
		h.logger.Info().Str("book_no", value).Msg("scan delivered")
	case cause != nil:
		h.logger.Warn().Err(cause).Msg("scan closed on error")
	default:
		h.adapter.metrics.RecordScan("cancelled")
		h.logger.Info().Msg("scan cancelled")
	}

	if onClosed != nil {
		onClosed(cause)
	}
}

// Close cancels any open scan and tears down the adapter.
func (h *Host) Close() {
	h.Cancel()
	h.unwatch()
	h.adapter.Close()
}
