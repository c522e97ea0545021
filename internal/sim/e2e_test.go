package sim_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/analytics"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/queue"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/workflow"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/sim"
)

// desk is one logged-in client process against a running simulator.
type desk struct {
	srv    *sim.Server
	url    string
	sess   *session.Session
	client *apiclient.Client
}

func newDesk(t *testing.T, username string) *desk {
	t.Helper()
	srv := sim.New(sim.Options{}, zerolog.Nop())
	ts := httptest.NewServer(srv.Echo)
	t.Cleanup(func() {
		srv.Rooms.Drop()
		ts.Close()
	})

	sess := session.New(&session.MemoryStore{}, zerolog.Nop())
	client := apiclient.New(ts.URL+"/api", 2*time.Second, sess, zerolog.Nop())
	resp, err := client.Login(context.Background(), username, username)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := sess.Login(resp.Token, resp.UserType); err != nil {
		t.Fatalf("session: %v", err)
	}
	return &desk{srv: srv, url: ts.URL, sess: sess, client: client}
}

func (d *desk) channelOptions() realtime.Options {
	return realtime.Options{
		URL: "ws" + strings.TrimPrefix(d.url, "http") + "/ws",
		Header: func() http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+d.sess.Token())
			return h
		},
		ReconnectDelay: 20 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		Poller:         d.client,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func head(e queue.Entry) string {
	if e.HeadBookNo == nil {
		return ""
	}
	return *e.HeadBookNo
}

func TestEndToEnd_QueueViewFollowsPushEvents(t *testing.T) {
	d := newDesk(t, "admin")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := realtime.NewChannel(d.channelOptions(), zerolog.Nop())
	ch.Start(ctx)
	defer ch.Close()

	view := queue.NewView(d.client, queue.Options{}, zerolog.Nop())
	if err := view.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- view.Run(ctx, ch) }()

	eventually(t, "queue room join", func() bool { return d.srv.Rooms.MemberCount(realtime.RoomQueue) == 1 })

	for _, b := range []string{"11", "12"} {
		if err := d.client.RegisterPatient(ctx, apiclient.Patient{BookNo: b, Name: "P" + b}); err != nil {
			t.Fatal(err)
		}
		if err := d.client.AssignDoctor(ctx, b, "d2"); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, "d2 to show two waiting", func() bool {
		e, _ := view.Entry("d2")
		return e.QueueCount == 2 && head(e) == "11"
	})

	// Another desk dequeues; this view only learns it from the push.
	if _, err := d.srv.Camp.AssignNext("d2"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "d2 head to advance", func() bool {
		e, _ := view.Entry("d2")
		return e.QueueCount == 1 && head(e) == "12"
	})

	d1, _ := view.Entry("d1")
	if d1.QueueCount != 0 || d1.HeadBookNo != nil {
		t.Fatalf("d1 must stay untouched, got %+v", d1)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Run to stop with context.Canceled, got %v", err)
	}
}

func TestEndToEnd_PollingFallbackDeliversEvents(t *testing.T) {
	d := newDesk(t, "admin")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := d.channelOptions()
	opts.URL = "ws://127.0.0.1:1/ws" // nothing listens here
	opts.PollFallbackAfter = 1
	ch := realtime.NewChannel(opts, zerolog.Nop())
	sub := ch.Subscribe(realtime.EventQueueCountUpdated)
	room := realtime.NewRoom(ch, realtime.RoomQueue)
	defer room.Close()
	if err := room.Join(); err != nil {
		t.Fatal(err)
	}
	ch.Start(ctx)
	defer ch.Close()

	eventually(t, "polling transport", func() bool {
		return ch.Connected() && ch.Transport() == realtime.TransportPolling
	})

	d.srv.Camp.Announce(realtime.EventQueueCountUpdated, map[string]any{"doctor_id": "d3", "queue_count": 7})

	select {
	case ev := <-sub.Send:
		var p struct {
			DoctorID   string `json:"doctor_id"`
			QueueCount int    `json:"queue_count"`
		}
		if err := ev.Decode(&p); err != nil || p.DoctorID != "d3" || p.QueueCount != 7 {
			t.Fatalf("unexpected event %+v (%v)", p, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("polled event never arrived")
	}
}

func TestEndToEnd_GateAndSubmitAgainstSimulator(t *testing.T) {
	d := newDesk(t, "volunteer")
	ctx := context.Background()

	if err := d.client.RegisterPatient(ctx, apiclient.Patient{BookNo: "40", Name: "Ravi", Age: 33, Gender: "M"}); err != nil {
		t.Fatal(err)
	}

	gate, err := workflow.NewGate(workflow.StageVitals, d.client, workflow.GateOptions{Debounce: 10 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer gate.Close()

	gate.SetIdentifier("40")
	eventually(t, "vitals to be blocked", func() bool { return gate.Snapshot().State == workflow.Blocked })
	if h := gate.Snapshot().Handoff; h == nil || h.Stage != workflow.StageAssignment || h.BookNo != "40" {
		t.Fatalf("expected a handoff to assignment, got %+v", h)
	}

	assign, err := workflow.NewGate(workflow.StageAssignment, d.client, workflow.GateOptions{Debounce: 10 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer assign.Close()
	assign.SetIdentifier("40")
	eventually(t, "assignment to be eligible", func() bool { return assign.Snapshot().State == workflow.Eligible })
	if err := assign.Submit(ctx, workflow.Assignment{DoctorID: "d1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	gate.Refresh()
	eventually(t, "vitals to be eligible", func() bool { return gate.Snapshot().State == workflow.Eligible })
	v := workflow.Vitals{Vitals: apiclient.Vitals{BloodPressure: "120/80", Pulse: 70, Temperature: 98.2, Weight: 64}}
	if err := gate.Submit(ctx, v); err != nil {
		t.Fatalf("vitals: %v", err)
	}

	gate.SetIdentifier("999")
	eventually(t, "unknown book to be not found", func() bool { return gate.Snapshot().State == workflow.NotFound })
}

func TestEndToEnd_AnalyticsTrackerRefetchesOnHints(t *testing.T) {
	d := newDesk(t, "admin")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := realtime.NewChannel(d.channelOptions(), zerolog.Nop())
	ch.Start(ctx)
	defer ch.Close()

	tracker := analytics.NewTracker(d.client, false, nil, zerolog.Nop())
	go func() { _ = tracker.Run(ctx, ch) }()

	eventually(t, "analytics room join", func() bool { return d.srv.Rooms.MemberCount(realtime.RoomAnalytics) == 1 })

	for _, b := range []string{"1", "2", "3"} {
		if err := d.client.RegisterPatient(ctx, apiclient.Patient{BookNo: b, Name: "P" + b}); err != nil {
			t.Fatal(err)
		}
	}
	eventually(t, "three registrations on the dashboard", func() bool {
		s, _ := tracker.Summary()
		return s.PatientsRegistered == 3
	})
}

func TestEndToEnd_LogoutResetsRealtime(t *testing.T) {
	d := newDesk(t, "admin")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := realtime.NewProvider(ctx, func() *realtime.Channel {
		return realtime.NewChannel(d.channelOptions(), zerolog.Nop())
	})
	d.sess.OnLogout(provider.Reset)

	first := provider.Get()
	eventually(t, "stream connection", first.Connected)

	if err := d.sess.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("logout did not close the channel")
	}
	if err := d.sess.Require(); !errors.Is(err, session.ErrLoginRequired) {
		t.Fatalf("expected login required after logout, got %v", err)
	}
	if second := provider.Get(); second == first || provider.Builds() != 2 {
		t.Fatal("expected a fresh channel after logout")
	}
}
