package scanner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
)

// Device is an acquired scanner handle.
type Device interface {
	io.Reader
	Close() error
}

// Camera grants access to the scanner hardware.
type Camera interface {
	// Probe checks access by acquiring and immediately releasing the
	// device, so a permission failure surfaces before the decoder starts.
	Probe(ctx context.Context) error
	// Open acquires the device exclusively for the render target.
	Open(ctx context.Context, target string) (Device, error)
}

// Decoder turns device input into payload strings.
type Decoder interface {
	Start(dev io.Reader, emit func(payload string), fail func(err error)) error
	Stop() error
}

// ---------------------------------------------------------------------------
// DeviceCamera
// ---------------------------------------------------------------------------

// DeviceCamera reads a keyboard-wedge or serial QR scanner exposed as a
// device file, e.g. /dev/hidraw0 or /dev/ttyACM0.
type DeviceCamera struct {
	Path string
}

func (c DeviceCamera) Probe(_ context.Context) error {
	f, err := os.OpenFile(c.Path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return apperr.Wrap(apperr.Permission, "scanner access denied", err)
		}
		return apperr.Wrap(apperr.Device, "scanner unavailable", err)
	}
	return f.Close()
}

func (c DeviceCamera) Open(_ context.Context, _ string) (Device, error) {
	f, err := os.OpenFile(c.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.Device, "acquire scanner", err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// StdinCamera
// ---------------------------------------------------------------------------

// StdinCamera serves desks without a scanner device: each line typed or
// piped on the input is one payload. A single reader goroutine owns the
// input so sessions never steal each other's lines.
type StdinCamera struct {
	in    io.Reader
	once  sync.Once
	lines chan string
}

// NewStdinCamera creates a camera reading from in (normally os.Stdin).
func NewStdinCamera(in io.Reader) *StdinCamera {
	return &StdinCamera{in: in, lines: make(chan string)}
}

func (c *StdinCamera) Probe(_ context.Context) error { return nil }

func (c *StdinCamera) Open(_ context.Context, _ string) (Device, error) {
	c.once.Do(func() {
		go func() {
			defer close(c.lines)
			sc := bufio.NewScanner(c.in)
			for sc.Scan() {
				c.lines <- sc.Text()
			}
		}()
	})
	return &feedDevice{lines: c.lines, closed: make(chan struct{})}, nil
}

type feedDevice struct {
	lines  <-chan string
	closed chan struct{}
	once   sync.Once
	rest   []byte
}

func (d *feedDevice) Read(p []byte) (int, error) {
	if len(d.rest) == 0 {
		select {
		case line, ok := <-d.lines:
			if !ok {
				return 0, io.EOF
			}
			d.rest = []byte(line + "\n")
		case <-d.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, d.rest)
	d.rest = d.rest[n:]
	return n, nil
}

func (d *feedDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

// ---------------------------------------------------------------------------
// LineDecoder
// ---------------------------------------------------------------------------

var errDecoderStopped = errors.New("decoder already stopped")

// LineDecoder emits one payload per non-empty input line. Keyboard-wedge
// scanners terminate every code with a newline.
type LineDecoder struct {
	stopped atomic.Bool
}

// NewLineDecoder returns a fresh LineDecoder.
func NewLineDecoder() Decoder { return &LineDecoder{} }

func (d *LineDecoder) Start(dev io.Reader, emit func(string), fail func(error)) error {
	go func() {
		sc := bufio.NewScanner(dev)
		for sc.Scan() {
			if d.stopped.Load() {
				return
			}
			if line := strings.TrimSpace(sc.Text()); line != "" {
				emit(line)
			}
		}
		if d.stopped.Load() {
			return
		}
		err := sc.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		fail(err)
	}()
	return nil
}

// Stop does not wait for the read loop; closing the device unblocks it.
func (d *LineDecoder) Stop() error {
	if !d.stopped.CompareAndSwap(false, true) {
		return errDecoderStopped
	}
	return nil
}
