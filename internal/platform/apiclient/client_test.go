package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
)

type staticCreds struct{ token, userType string }

func (s staticCreds) Token() string    { return s.token }
func (s staticCreds) UserType() string { return s.userType }

func newTestClient(t *testing.T, h http.Handler, creds Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", 2*time.Second, creds, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestInterceptor_AttachesCredentials(t *testing.T) {
	var gotAuth, gotType string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/doctors", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get(UserTypeHeader)
		writeJSON(w, http.StatusOK, []Doctor{{DoctorID: "d1", DoctorName: "Dr. Rao", Specialization: "General"}})
	})

	c := newTestClient(t, mux, staticCreds{token: "abc", userType: "volunteer"})
	docs, err := c.Doctors(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "volunteer", gotType)
}

func TestInterceptor_NoTokenNoHeader(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, LoginResponse{Token: "t", UserType: "admin"})
	})

	c := newTestClient(t, mux, staticCreds{})
	resp, err := c.Login(context.Background(), "admin", "pw")
	require.NoError(t, err)
	assert.Equal(t, "t", resp.Token)
	assert.Empty(t, gotAuth)
}

func TestPatientStatus_NotFoundIsDistinct(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/patients/404/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "patient not found"})
	})

	c := newTestClient(t, mux, nil)
	_, err := c.PatientStatus(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.False(t, apperr.Is(err, apperr.Transient))
}

func TestClassify_ValidationAndTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/patients/7/pickup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "quantity exceeds prescription"})
	})
	mux.HandleFunc("/api/patients/7/vitals", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "db down"})
	})

	c := newTestClient(t, mux, nil)

	err := c.Pickup(context.Background(), "7", []MedicineLine{{MedicineID: "m1", Quantity: 9}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
	assert.Contains(t, err.Error(), "quantity exceeds prescription")

	err = c.RecordVitals(context.Background(), "7", Vitals{Pulse: 80})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Transient))
}

func TestUnauthorizedRequiresLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/doctors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	})

	c := newTestClient(t, mux, staticCreds{token: "old", userType: "admin"})
	_, err := c.Doctors(context.Background())
	require.Error(t, err)
	assert.True(t, IsLoginRequired(err))
}

func TestRetries_OnlyReads(t *testing.T) {
	var gets, posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/doctors/d1/queue", func(w http.ResponseWriter, r *http.Request) {
		if gets.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "warming up"})
			return
		}
		head := "101"
		writeJSON(w, http.StatusOK, QueueHead{HeadBookNo: &head, QueueCount: 3})
	})
	mux.HandleFunc("/api/doctors/d1/queue/next", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})
	})

	c := newTestClient(t, mux, nil)

	q, err := c.DoctorQueue(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", q.DoctorID)
	assert.Equal(t, 3, q.QueueCount)
	require.NotNil(t, q.HeadBookNo)
	assert.Equal(t, "101", *q.HeadBookNo)
	assert.Equal(t, int32(2), gets.Load())

	_, err = c.AssignNext(context.Background(), "d1")
	require.Error(t, err)
	assert.Equal(t, int32(1), posts.Load(), "mutations must not be retried")
}

func TestPollEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/realtime/poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "queue,analytics", r.URL.Query().Get("rooms"))
		assert.Equal(t, "4", r.URL.Query().Get("cursor"))
		writeJSON(w, http.StatusOK, PollResponse{
			Cursor: 5,
			Events: []PolledEvent{{Cursor: 5, Event: "queue:removed", Room: "queue", Data: map[string]any{"doctor_id": "d1"}}},
		})
	})

	c := newTestClient(t, mux, nil)
	resp, err := c.PollEvents(context.Background(), []string{"queue", "analytics"}, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.Cursor)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "queue:removed", resp.Events[0].Event)
}

func TestCancelledContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/doctors", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	c := newTestClient(t, mux, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Doctors(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
