// Package apiclient is the REST client for the camp backend. A single
// request interceptor attaches the session's bearer token and user type to
// every call, and every failure is classified into the apperr taxonomy.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
)

// UserTypeHeader carries the user type marker next to the bearer token.
const UserTypeHeader = "X-User-Type"

// Credentials supplies the values the interceptor attaches.
type Credentials interface {
	Token() string
	UserType() string
}

// Client wraps a resty client configured for the camp backend.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New creates a Client. Reads are retried twice on transport errors and
// 5xx responses; mutations are never retried.
func New(baseURL string, timeout time.Duration, creds Credentials, logger zerolog.Logger) *Client {
	logger = logger.With().Str("component", "apiclient").Logger()

	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	hc.AddRetryCondition(func(r *resty.Response, err error) bool {
		if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	hc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if creds == nil {
			return nil
		}
		if tok := creds.Token(); tok != "" {
			r.SetAuthToken(tok)
		}
		if ut := creds.UserType(); ut != "" {
			r.SetHeader(UserTypeHeader, ut)
		}
		return nil
	})

	return &Client{http: hc, logger: logger}
}

// do executes one request and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetPathParams(params).
		SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return apperr.Wrap(apperr.Transient, fmt.Sprintf("%s %s", method, path), err)
	}
	if resp.IsError() {
		return c.classify(method, path, resp)
	}
	return nil
}

func (c *Client) classify(method, path string, resp *resty.Response) error {
	status := resp.StatusCode()
	eb, _ := resp.Error().(*errorBody)
	msg := eb.text()
	if msg == "" {
		msg = http.StatusText(status)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", resp.Request.URL).
		Int("status", status).
		Str("message", msg).
		Msg("request rejected")

	switch {
	case status == http.StatusNotFound:
		return apperr.New(apperr.NotFound, msg).WithStatus(status)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, &session.LoginRequiredError{LoginPath: session.LoginPath, Reason: msg})
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return apperr.New(apperr.Validation, msg).WithStatus(status)
	default:
		return apperr.New(apperr.Transient, msg).WithStatus(status)
	}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Login exchanges credentials for a token. It does not touch the session.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, LoginRequest{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, apperr.New(apperr.Transient, "login response carried no token")
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Doctors and queues
// ---------------------------------------------------------------------------

// Doctors returns the roster.
func (c *Client) Doctors(ctx context.Context) ([]Doctor, error) {
	var out []Doctor
	if err := c.do(ctx, http.MethodGet, "/doctors", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	return out, nil
}

// DoctorQueue returns the head-of-queue and count for one doctor.
func (c *Client) DoctorQueue(ctx context.Context, doctorID string) (*QueueHead, error) {
	var out QueueHead
	if err := c.do(ctx, http.MethodGet, "/doctors/{id}/queue", map[string]string{"id": doctorID}, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch queue for doctor %s: %w", doctorID, err)
	}
	if out.DoctorID == "" {
		out.DoctorID = doctorID
	}
	return &out, nil
}

// AssignNext performs the compound assign + dequeue for a doctor.
func (c *Client) AssignNext(ctx context.Context, doctorID string) (*AssignNextResult, error) {
	var out AssignNextResult
	if err := c.do(ctx, http.MethodPost, "/doctors/{id}/queue/next", map[string]string{"id": doctorID}, struct{}{}, &out); err != nil {
		return nil, fmt.Errorf("assign next for doctor %s: %w", doctorID, err)
	}
	if out.DoctorID == "" {
		out.DoctorID = doctorID
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Patients and stages
// ---------------------------------------------------------------------------

func bookParams(bookNo string) map[string]string {
	return map[string]string{"book": bookNo}
}

// PatientStatus returns the per-stage completion flags for a book number.
func (c *Client) PatientStatus(ctx context.Context, bookNo string) (*PatientStatus, error) {
	var out PatientStatus
	if err := c.do(ctx, http.MethodGet, "/patients/{book}/status", bookParams(bookNo), nil, &out); err != nil {
		return nil, err
	}
	if out.BookNo == "" {
		out.BookNo = bookNo
	}
	return &out, nil
}

// Assignment returns whether a doctor is assigned to the book number.
func (c *Client) Assignment(ctx context.Context, bookNo string) (*AssignmentStatus, error) {
	var out AssignmentStatus
	if err := c.do(ctx, http.MethodGet, "/patients/{book}/assignment", bookParams(bookNo), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterPatient creates the registration record.
func (c *Client) RegisterPatient(ctx context.Context, p Patient) error {
	return c.do(ctx, http.MethodPost, "/patients", nil, p, nil)
}

// AssignDoctor enqueues the patient for a doctor.
func (c *Client) AssignDoctor(ctx context.Context, bookNo, doctorID string) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/assignment", bookParams(bookNo), AssignDoctorRequest{DoctorID: doctorID}, nil)
}

// RecordVitals submits the vitals stage.
func (c *Client) RecordVitals(ctx context.Context, bookNo string, v Vitals) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/vitals", bookParams(bookNo), v, nil)
}

// Prescribe submits the prescription stage.
func (c *Client) Prescribe(ctx context.Context, bookNo string, lines []MedicineLine) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/prescription", bookParams(bookNo), lines, nil)
}

// Pickup verifies and records medicine handover.
func (c *Client) Pickup(ctx context.Context, bookNo string, lines []MedicineLine) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/pickup", bookParams(bookNo), lines, nil)
}

// Counselling marks counselling done.
func (c *Client) Counselling(ctx context.Context, bookNo string) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/counselling", bookParams(bookNo), struct{}{}, nil)
}

// Food marks the food token as given.
func (c *Client) Food(ctx context.Context, bookNo string) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/food", bookParams(bookNo), struct{}{}, nil)
}

// LabTests records ordered lab tests.
func (c *Client) LabTests(ctx context.Context, bookNo string, tests []string) error {
	return c.do(ctx, http.MethodPost, "/patients/{book}/lab-tests", bookParams(bookNo), LabTestRequest{Tests: tests}, nil)
}

// ---------------------------------------------------------------------------
// Stock, analytics, polling
// ---------------------------------------------------------------------------

// MedicineStock returns current stock levels.
func (c *Client) MedicineStock(ctx context.Context) ([]StockItem, error) {
	var out []StockItem
	if err := c.do(ctx, http.MethodGet, "/medicines/stock", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch stock: %w", err)
	}
	return out, nil
}

// AnalyticsSummary returns dashboard counters.
func (c *Client) AnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error) {
	var out AnalyticsSummary
	if err := c.do(ctx, http.MethodGet, "/analytics/summary", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch analytics: %w", err)
	}
	return &out, nil
}

// PollEvents is the polling transport used when the stream is unavailable.
// It returns events for rooms after cursor.
func (c *Client) PollEvents(ctx context.Context, rooms []string, cursor int64) (*PollResponse, error) {
	var out PollResponse
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("rooms", strings.Join(rooms, ",")).
		SetQueryParam("cursor", strconv.FormatInt(cursor, 10)).
		SetError(&errorBody{}).
		SetResult(&out)

	resp, err := req.Get("/realtime/poll")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(apperr.Transient, "poll events", err)
	}
	if resp.IsError() {
		return nil, c.classify(http.MethodGet, "/realtime/poll", resp)
	}
	return &out, nil
}

// IsLoginRequired reports whether err means the session is no longer valid.
func IsLoginRequired(err error) bool {
	return errors.Is(err, session.ErrLoginRequired)
}
