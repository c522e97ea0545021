package scanner

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
)

func newTestHost(cam *mockCamera, dec *mockDecoder) (*Host, *Adapter) {
	a := newTestAdapter(cam, dec, nil)
	return NewHost(a, zerolog.Nop()), a
}

type requestResult struct {
	value string
	err   error
}

func requestAsync(h *Host, ctx context.Context) <-chan requestResult {
	out := make(chan requestResult, 1)
	go func() {
		v, err := h.Request(ctx)
		out <- requestResult{v, err}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan requestResult) requestResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request did not return")
	}
	return requestResult{}
}

func TestHost_RequestDeliversAndCloses(t *testing.T) {
	cam := &mockCamera{}
	dec := &mockDecoder{}
	h, a := newTestHost(cam, dec)
	defer h.Close()

	res := requestAsync(h, context.Background())
	waitUntil(t, "SCANNING", func() bool { return a.Status() == Scanning })

	dec.decode(`{"bookNo":"123"}`)
	r := awaitResult(t, res)
	if r.err != nil || r.value != "123" {
		t.Fatalf("unexpected result %+v", r)
	}
	if h.IsOpen() {
		t.Fatal("host should close after a result")
	}
	if a.Status() != Idle {
		t.Fatalf("expected adapter IDLE, got %s", a.Status())
	}
	if _, _, closes := cam.counts(); closes != 1 {
		t.Fatalf("expected device released once, got %d", closes)
	}
}

func TestHost_OpenScannerWhileOpenIsNoop(t *testing.T) {
	cam := &mockCamera{}
	dec := &mockDecoder{}
	h, _ := newTestHost(cam, dec)
	defer h.Close()

	var first, second []string
	if !h.OpenScanner(context.Background(), func(v string) { first = append(first, v) }) {
		t.Fatal("expected first open to succeed")
	}
	if h.OpenScanner(context.Background(), func(v string) { second = append(second, v) }) {
		t.Fatal("expected second open to be ignored")
	}
	if _, err := h.Request(context.Background()); !errors.Is(err, ErrScannerBusy) {
		t.Fatalf("expected ErrScannerBusy, got %v", err)
	}

	dec.decode("A: B: 900")
	dec.decode("901")

	if len(first) != 1 || first[0] != "900" {
		t.Fatalf("expected one delivery of 900, got %v", first)
	}
	if len(second) != 0 {
		t.Fatal("ignored callback must never be invoked")
	}
	if _, opens, _ := cam.counts(); opens != 1 {
		t.Fatalf("expected one acquisition, got %d", opens)
	}
}

func TestHost_CancelWithoutCallback(t *testing.T) {
	dec := &mockDecoder{}
	h, a := newTestHost(&mockCamera{}, dec)
	defer h.Close()

	res := requestAsync(h, context.Background())
	waitUntil(t, "SCANNING", func() bool { return a.Status() == Scanning })

	h.Cancel()
	r := awaitResult(t, res)
	if !errors.Is(r.err, ErrScanCancelled) {
		t.Fatalf("expected ErrScanCancelled, got %v", r.err)
	}
	if h.IsOpen() || a.Status() != Idle {
		t.Fatal("expected host and adapter closed")
	}
}

func TestHost_ContextEndCancels(t *testing.T) {
	h, a := newTestHost(&mockCamera{}, &mockDecoder{})
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := h.Request(ctx)
	if !errors.Is(err, ErrScanCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancellation wrapping deadline, got %v", err)
	}
	if a.Status() != Idle {
		t.Fatalf("expected adapter released, got %s", a.Status())
	}
}

func TestHost_PermissionErrorClosesWithoutResult(t *testing.T) {
	cam := &mockCamera{probeErr: errors.New("denied")}
	h, _ := newTestHost(cam, &mockDecoder{})
	defer h.Close()

	_, err := h.Request(context.Background())
	if !apperr.Is(err, apperr.Permission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if h.IsOpen() {
		t.Fatal("host should close after a camera error")
	}

	// The scan can be retried once the operator fixes access.
	cam.mu.Lock()
	cam.probeErr = nil
	cam.mu.Unlock()
	if !h.OpenScanner(context.Background(), func(string) {}) {
		t.Fatal("expected reopen to succeed")
	}
}

func TestHost_DecodeErrorSkipsCallback(t *testing.T) {
	dec := &mockDecoder{}
	h, _ := newTestHost(&mockCamera{}, dec)
	defer h.Close()

	called := false
	h.OpenScanner(context.Background(), func(string) { called = true })
	dec.failWith(io.ErrUnexpectedEOF)

	if called {
		t.Fatal("callback must not run on a decode error")
	}
	if h.IsOpen() {
		t.Fatal("host should close after a decode error")
	}
}

func TestHost_HideClosesPendingRequest(t *testing.T) {
	cam := &mockCamera{}
	dec := &mockDecoder{}
	h, a := newTestHost(cam, dec)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := requestAsync(h, ctx)
	waitUntil(t, "SCANNING", func() bool { return a.Status() == Scanning })

	a.lifecycle.Emit(Hidden)

	r := awaitResult(t, res)
	if !errors.Is(r.err, ErrScanCancelled) || errors.Is(r.err, context.DeadlineExceeded) {
		t.Fatalf("expected an immediate cancellation, got %v", r.err)
	}
	if h.IsOpen() || a.Status() != Idle {
		t.Fatal("expected host and adapter closed after hide")
	}
	if _, _, closes := cam.counts(); closes != 1 {
		t.Fatalf("expected device released once, got %d", closes)
	}

	var got []string
	if !h.OpenScanner(context.Background(), func(v string) { got = append(got, v) }) {
		t.Fatal("expected the scanner to reopen after hide")
	}
	dec.decode("55")
	if len(got) != 1 || got[0] != "55" {
		t.Fatalf("unexpected results after reopen %v", got)
	}
}
