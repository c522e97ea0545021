// Package scanner turns QR scanner input into normalized book numbers and
// guards the exclusive scanner device across desk workflows.
package scanner

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
)

// Status is the scan session state.
type Status int

const (
	Idle Status = iota
	Starting
	Scanning
	Stopping
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Starting:
		return "STARTING"
	case Scanning:
		return "SCANNING"
	case Stopping:
		return "STOPPING"
	}
	return "UNKNOWN"
}

// Options configures an Adapter.
type Options struct {
	Camera     Camera
	NewDecoder func() Decoder
	Lifecycle  *Lifecycle
	Metrics    *metrics.Collector
}

// Adapter owns one scan session at a time.
type Adapter struct {
	camera     Camera
	newDecoder func() Decoder
	lifecycle  *Lifecycle
	metrics    *metrics.Collector
	logger     zerolog.Logger
	target     string

	mu          sync.Mutex
	status      Status
	device      Device
	decoder     Decoder
	stopPending bool
	closed      bool
	removers    []func()

	nextInterrupt int
	interrupts    map[int]func()
}

// NewAdapter creates an idle Adapter with its own render-target id.
func NewAdapter(opts Options, logger zerolog.Logger) *Adapter {
	if opts.NewDecoder == nil {
		opts.NewDecoder = NewLineDecoder
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = NewLifecycle()
	}
	target := "qr-reader-" + uuid.NewString()
	return &Adapter{
		camera:     opts.Camera,
		newDecoder: opts.NewDecoder,
		lifecycle:  opts.Lifecycle,
		metrics:    opts.Metrics,
		logger:     logger.With().Str("component", "scanner").Str("target", target).Logger(),
		target:     target,
		interrupts: make(map[int]func()),
	}
}

// OnInterrupt registers fn to run after a Hidden or Unload event ends a
// scan session. It returns the func that removes fn.
func (a *Adapter) OnInterrupt(fn func()) func() {
	a.mu.Lock()
	id := a.nextInterrupt
	a.nextInterrupt++
	a.interrupts[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.interrupts, id)
		a.mu.Unlock()
	}
}

// interrupt is the lifecycle listener for a scanning session.
func (a *Adapter) interrupt() {
	if !a.stop() {
		return
	}
	a.mu.Lock()
	fns := make([]func(), 0, len(a.interrupts))
	for _, fn := range a.interrupts {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Target returns the adapter's render-target id.
func (a *Adapter) Target() string { return a.target }

// Status returns the current session state.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Start probes access, acquires the device and starts decoding. It is a
// no-op unless the adapter is Idle. Failures reset the adapter to Idle, are
// passed to onError and returned.
func (a *Adapter) Start(ctx context.Context, onDecoded func(string), onError func(error)) error {
	a.mu.Lock()
	if a.closed || a.status != Idle {
		a.mu.Unlock()
		return nil
	}
	a.status = Starting
	a.stopPending = false
	a.mu.Unlock()

	if err := a.camera.Probe(ctx); err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Wrap(apperr.Permission, "scanner access denied", err)
		}
		a.metrics.RecordScan(string(apperr.KindOf(err)))
		return a.abortStart(err, onError)
	}

	dev, err := a.camera.Open(ctx, a.target)
	if err != nil {
		if apperr.KindOf(err) != apperr.Device {
			err = apperr.Wrap(apperr.Device, "acquire scanner", err)
		}
		a.metrics.RecordScan(string(apperr.Device))
		return a.abortStart(err, onError)
	}

	dec := a.newDecoder()
	emit := func(payload string) {
		v, kind := NormalizeKind(payload)
		if v == "" {
			return
		}
		a.logger.Debug().Str("strategy", string(kind)).Str("book_no", v).Msg("payload decoded")
		a.metrics.RecordScan("decoded")
		onDecoded(v)
	}
	fail := func(err error) {
		a.logger.Warn().Err(err).Msg("decoder failed")
		a.Stop()
		a.metrics.RecordScan(string(apperr.Device))
		if onError != nil {
			onError(apperr.Wrap(apperr.Device, "scanner stopped delivering", err))
		}
	}

	a.mu.Lock()
	if a.closed || a.stopPending {
		a.status = Idle
		a.mu.Unlock()
		a.release(dec, dev, false)
		return nil
	}
	a.device = dev
	a.decoder = dec
	a.status = Scanning
	a.removers = append(a.removers,
		a.lifecycle.On(Hidden, a.interrupt),
		a.lifecycle.On(Unload, a.interrupt),
	)
	a.mu.Unlock()

	if err := dec.Start(dev, emit, fail); err != nil {
		a.Stop()
		err = apperr.Wrap(apperr.Device, "start decoder", err)
		a.metrics.RecordScan(string(apperr.Device))
		if onError != nil {
			onError(err)
		}
		return err
	}

	a.metrics.RecordScan("started")
	a.logger.Info().Msg("scanning")
	return nil
}

func (a *Adapter) abortStart(err error, onError func(error)) error {
	a.mu.Lock()
	a.status = Idle
	a.mu.Unlock()
	a.logger.Warn().Err(err).Msg("scan start failed")
	if onError != nil {
		onError(err)
	}
	return err
}

// Stop ends the session and releases the device. It only acts while
// Scanning; a Stop during Starting is deferred until the device has been
// acquired so the device is never left held. Release errors are logged,
// never returned.
func (a *Adapter) Stop() {
	a.stop()
}

// stop reports whether it ended a scanning session.
func (a *Adapter) stop() bool {
	a.mu.Lock()
	switch a.status {
	case Starting:
		a.stopPending = true
		a.mu.Unlock()
		return false
	case Scanning:
	default:
		a.mu.Unlock()
		return false
	}
	a.status = Stopping
	dev, dec := a.device, a.decoder
	a.device, a.decoder = nil, nil
	removers := a.removers
	a.removers = nil
	a.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	a.release(dec, dev, true)

	a.mu.Lock()
	a.status = Idle
	a.mu.Unlock()
	a.logger.Info().Msg("scanner released")
	return true
}

func (a *Adapter) release(dec Decoder, dev Device, started bool) {
	if dec != nil && started {
		if err := dec.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("decoder stop failed")
		}
	}
	if dev != nil {
		if err := dev.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("device release failed")
		}
	}
}

// Close stops any session and removes lifecycle listeners. A closed
// adapter ignores Start.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.Stop()

	a.mu.Lock()
	removers := a.removers
	a.removers = nil
	a.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
}
