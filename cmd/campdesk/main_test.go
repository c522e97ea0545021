package main

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/queue"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/workflow"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/scanner"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/sim"
)

// ---------------------------------------------------------------------------
// Form parsing tests
// ---------------------------------------------------------------------------

func TestParseLines(t *testing.T) {
	lines, err := parseLines(" m1:2, m3 : 1 ,")
	if err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	if len(lines) != 2 || lines[0].MedicineID != "m1" || lines[0].Quantity != 2 || lines[1].MedicineID != "m3" || lines[1].Quantity != 1 {
		t.Fatalf("unexpected lines %+v", lines)
	}

	for _, bad := range []string{"m1", ":3", "m1:two"} {
		if _, err := parseLines(bad); !apperr.Is(err, apperr.Validation) {
			t.Errorf("parseLines(%q): expected a validation error, got %v", bad, err)
		}
	}

	if lines, err := parseLines(""); err != nil || len(lines) != 0 {
		t.Fatalf("empty input: got %v, %v", lines, err)
	}
}

func TestBuildSubmission_EveryGatedStage(t *testing.T) {
	form := stageForm{DoctorID: "d1", BP: "120/80", Pulse: 70, Lines: "m1:1", Tests: "CBC, LFT"}
	for _, stage := range workflow.Stages {
		sub, err := buildSubmission(stage, form)
		if stage == workflow.StageRegistration {
			if !errors.Is(err, workflow.ErrUngated) {
				t.Fatalf("registration: expected ErrUngated, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		if sub.Stage() != stage {
			t.Fatalf("%s: built a %s submission", stage, sub.Stage())
		}
		if err := sub.Validate(); err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
	}
}

func TestBuildSubmission_LabTestsSplitsList(t *testing.T) {
	sub, _ := buildSubmission(workflow.StageLabTests, stageForm{Tests: "CBC, ,LFT"})
	lt := sub.(workflow.LabTests)
	if len(lt.Tests) != 2 || lt.Tests[1] != "LFT" {
		t.Fatalf("unexpected tests %v", lt.Tests)
	}
}

func TestStageRoles(t *testing.T) {
	if roles := stageRoles(workflow.StagePrescription); len(roles) != 2 {
		t.Fatalf("prescription should be limited to admins and doctors, got %v", roles)
	}
	if roles := stageRoles(workflow.StageVitals); roles != nil {
		t.Fatalf("vitals should accept any user, got %v", roles)
	}
}

func TestDescribeError(t *testing.T) {
	login := describeError(&session.LoginRequiredError{LoginPath: session.LoginPath, Reason: "session expired"})
	if !strings.Contains(login, "campdesk login") {
		t.Errorf("expected a login hint, got %q", login)
	}

	nf := describeError(apperr.New(apperr.NotFound, "no patient"))
	if !strings.Contains(nf, "next: check the book number") {
		t.Errorf("expected the not-found next step, got %q", nf)
	}

	if plain := describeError(errors.New("boom")); plain != "boom" {
		t.Errorf("unclassified errors print as-is, got %q", plain)
	}
}

// ---------------------------------------------------------------------------
// Signal tests
// ---------------------------------------------------------------------------

func TestDispatchSignal(t *testing.T) {
	l := scanner.NewLifecycle()
	var hidden, unload int
	l.On(scanner.Hidden, func() { hidden++ })
	l.On(scanner.Unload, func() { unload++ })

	if dispatchSignal(l, syscall.SIGUSR1) {
		t.Fatal("SIGUSR1 must not quit")
	}
	if !dispatchSignal(l, syscall.SIGTERM) || !dispatchSignal(l, syscall.SIGINT) {
		t.Fatal("SIGTERM and SIGINT must quit")
	}
	if hidden != 1 || unload != 2 {
		t.Fatalf("expected 1 hidden and 2 unload events, got %d and %d", hidden, unload)
	}
}

// ---------------------------------------------------------------------------
// Rendering tests
// ---------------------------------------------------------------------------

func TestRenderQueue(t *testing.T) {
	head := "42"
	var buf bytes.Buffer
	renderQueue(&buf, []queue.Entry{
		{DoctorID: "d1", DoctorName: "Dr. A", HeadBookNo: &head, QueueCount: 3},
		{DoctorID: "d2", DoctorName: "Dr. B", LastError: "timeout"},
	})
	out := buf.String()
	for _, want := range []string{"DOCTOR", "42", "3", "stale: timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

// ---------------------------------------------------------------------------
// Command tests against the simulator
// ---------------------------------------------------------------------------

func withSim(t *testing.T) *sim.Server {
	t.Helper()
	srv := sim.New(sim.Options{}, zerolog.Nop())
	ts := httptest.NewServer(srv.Echo)
	t.Cleanup(func() {
		srv.Rooms.Drop()
		ts.Close()
	})

	t.Setenv("API_BASE_URL", ts.URL+"/api")
	t.Setenv("WS_URL", "")
	t.Setenv("SESSION_FILE", filepath.Join(t.TempDir(), "session.json"))
	t.Setenv("ELIGIBILITY_DEBOUNCE", "5ms")
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("METRICS_ADDR", "")
	return srv
}

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(args...)
	if err != nil {
		t.Fatalf("campdesk %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestCLI_LoginWhoamiLogout(t *testing.T) {
	withSim(t)

	if _, err := run("whoami"); !errors.Is(err, session.ErrLoginRequired) {
		t.Fatalf("whoami before login: expected login required, got %v", err)
	}
	if _, err := run("login", "-u", "admin", "-p", "nope"); err == nil {
		t.Fatal("expected bad credentials to fail")
	}

	out := mustRun(t, "login", "-u", "volunteer", "-p", "volunteer")
	if !strings.Contains(out, "volunteer") {
		t.Fatalf("unexpected login output %q", out)
	}
	if out := mustRun(t, "whoami"); strings.TrimSpace(out) != session.UserTypeVolunteer {
		t.Fatalf("whoami: got %q", out)
	}

	mustRun(t, "logout")
	if _, err := run("whoami"); !errors.Is(err, session.ErrLoginRequired) {
		t.Fatalf("whoami after logout: expected login required, got %v", err)
	}
}

func TestCLI_PatientThroughQueue(t *testing.T) {
	withSim(t)
	mustRun(t, "login", "-u", "volunteer", "-p", "volunteer")

	if _, err := run("register", "--book", "7x", "--name", "Asha"); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected a validation error for a bad book, got %v", err)
	}
	mustRun(t, "register", "--book", "7", "--name", "Asha", "--age", "30", "--gender", "F")

	out, err := run("stage", "check", "vitals", "7")
	if !errors.Is(err, workflow.ErrNotEligible) {
		t.Fatalf("vitals before assignment: expected ErrNotEligible, got %v", err)
	}
	if !strings.Contains(out, "go to: campdesk stage check assignment 7") {
		t.Fatalf("expected a handoff, got:\n%s", out)
	}

	mustRun(t, "stage", "submit", "assignment", "7", "--doctor", "d2")
	out = mustRun(t, "stage", "submit", "vitals", "7", "--bp", "118/76", "--pulse", "72", "--temp", "98.4")
	if !strings.Contains(out, "vitals saved for book 7") {
		t.Fatalf("expected a saved message, got:\n%s", out)
	}

	out = mustRun(t, "queue", "watch", "--once")
	if !strings.Contains(out, "Dr. Bhavana Iyer") || !strings.Contains(out, "7") {
		t.Fatalf("expected book 7 at the head of d2, got:\n%s", out)
	}

	if _, err := run("queue", "assign-next", "d2"); !errors.Is(err, session.ErrLoginRequired) {
		t.Fatalf("volunteers cannot dequeue: expected login required, got %v", err)
	}
	if _, err := run("stage", "submit", "prescription", "7", "--lines", "m1:1"); !errors.Is(err, session.ErrLoginRequired) {
		t.Fatalf("volunteers cannot prescribe: expected login required, got %v", err)
	}

	mustRun(t, "login", "-u", "doctor", "-p", "doctor")
	out = mustRun(t, "queue", "assign-next", "d2")
	if !strings.Contains(out, "assigned book 7 to d2") {
		t.Fatalf("unexpected assign-next output %q", out)
	}
}

func TestCLI_StockOnceFlagsShortage(t *testing.T) {
	withSim(t)
	mustRun(t, "login", "-u", "admin", "-p", "admin")

	out := mustRun(t, "stock", "watch", "--once", "--book", "3", "--lines", "m2:500")
	if !strings.Contains(out, "short:") || !strings.Contains(out, "next: reduce") {
		t.Fatalf("expected a shortage report, got:\n%s", out)
	}
}
