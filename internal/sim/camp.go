// Package sim is an in-memory camp backend. It serves the REST routes and
// the realtime rooms the desk client talks to, so the client can be run and
// tested without the real server.
package sim

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/workflow"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
)

// journalSize bounds the events kept for polling clients.
const journalSize = 512

// Record is one published event as served by the polling route.
type Record = apiclient.PolledEvent

// patient is the server-side record of one book number.
type patient struct {
	info     apiclient.Patient
	doctorID string
	status   apiclient.PatientStatus
}

// Camp holds the whole state of a simulated camp behind one mutex. Every
// mutation appends to the journal and hands the record to the publish hook.
type Camp struct {
	mu       sync.Mutex
	doctors  map[string]apiclient.Doctor
	queues   map[string][]string
	patients map[string]*patient
	stock    map[string]apiclient.StockItem
	summary  apiclient.AnalyticsSummary

	cursor  int64
	journal []Record
	publish func(Record)
}

// NewCamp creates a camp with the given roster and stock.
func NewCamp(doctors []apiclient.Doctor, stock []apiclient.StockItem) *Camp {
	c := &Camp{
		doctors:  make(map[string]apiclient.Doctor, len(doctors)),
		queues:   make(map[string][]string, len(doctors)),
		patients: make(map[string]*patient),
		stock:    make(map[string]apiclient.StockItem, len(stock)),
	}
	for _, d := range doctors {
		c.doctors[d.DoctorID] = d
		c.queues[d.DoctorID] = nil
	}
	for _, s := range stock {
		c.stock[s.MedicineID] = s
	}
	return c
}

// DefaultCamp is the roster and stock the simulator starts with.
func DefaultCamp() *Camp {
	return NewCamp(
		[]apiclient.Doctor{
			{DoctorID: "d1", DoctorName: "Dr. Anand Rao", Specialization: "General Medicine"},
			{DoctorID: "d2", DoctorName: "Dr. Bhavana Iyer", Specialization: "Paediatrics"},
			{DoctorID: "d3", DoctorName: "Dr. Chetan Kulkarni", Specialization: "Ophthalmology"},
		},
		[]apiclient.StockItem{
			{MedicineID: "m1", Name: "Paracetamol 500mg", Quantity: 200},
			{MedicineID: "m2", Name: "Amoxicillin 250mg", Quantity: 80},
			{MedicineID: "m3", Name: "ORS sachet", Quantity: 150},
			{MedicineID: "m4", Name: "Cetirizine 10mg", Quantity: 60},
		},
	)
}

// OnPublish installs the hook that receives every journaled event.
func (c *Camp) OnPublish(fn func(Record)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish = fn
}

// emitLocked journals an event and returns it for delivery after the lock
// is released.
func (c *Camp) emitLocked(event string, data map[string]any) Record {
	c.cursor++
	rec := Record{Cursor: c.cursor, Event: event, Room: realtime.RoomOf(event), Data: data}
	c.journal = append(c.journal, rec)
	if len(c.journal) > journalSize {
		c.journal = c.journal[len(c.journal)-journalSize:]
	}
	return rec
}

// deliver hands records to the publish hook outside the lock.
func (c *Camp) deliver(recs []Record) {
	c.mu.Lock()
	fn := c.publish
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for _, r := range recs {
		fn(r)
	}
}

// Since returns the journaled events for rooms after cursor, and the cursor
// to poll from next. Events older than the journal are gone; clients treat
// events as refresh hints, so a gap only delays a refetch.
func (c *Camp) Since(rooms []string, cursor int64) ([]Record, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		want[r] = true
	}
	out := []Record{}
	for _, r := range c.journal {
		if r.Cursor > cursor && want[r.Room] {
			out = append(out, r)
		}
	}
	return out, c.cursor
}

// ---------------------------------------------------------------------------
// Doctors and queues
// ---------------------------------------------------------------------------

// Doctors returns the roster sorted by id.
func (c *Camp) Doctors() []apiclient.Doctor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]apiclient.Doctor, 0, len(c.doctors))
	for _, d := range c.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoctorID < out[j].DoctorID })
	return out
}

// Queue returns the head and count of one doctor's queue.
func (c *Camp) Queue(doctorID string) (*apiclient.QueueHead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.doctors[doctorID]; !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	}
	return c.headLocked(doctorID), nil
}

func (c *Camp) headLocked(doctorID string) *apiclient.QueueHead {
	q := c.queues[doctorID]
	h := &apiclient.QueueHead{DoctorID: doctorID, QueueCount: len(q)}
	if len(q) > 0 {
		head := q[0]
		h.HeadBookNo = &head
	}
	return h
}

// AssignNext dequeues the head of a doctor's queue and hands the patient to
// the doctor.
func (c *Camp) AssignNext(doctorID string) (*apiclient.AssignNextResult, error) {
	c.mu.Lock()
	if _, ok := c.doctors[doctorID]; !ok {
		c.mu.Unlock()
		return nil, echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	}
	q := c.queues[doctorID]
	if len(q) == 0 {
		c.mu.Unlock()
		return nil, echo.NewHTTPError(http.StatusConflict, "queue is empty")
	}
	book := q[0]
	c.queues[doctorID] = q[1:]
	head := c.headLocked(doctorID)

	recs := []Record{
		c.emitLocked(realtime.EventQueueRemoved, map[string]any{"doctor_id": doctorID, "book_no": book}),
		c.emitLocked(realtime.EventQueueCountUpdated, map[string]any{"doctor_id": doctorID, "queue_count": head.QueueCount}),
	}
	c.mu.Unlock()
	c.deliver(recs)

	return &apiclient.AssignNextResult{
		DoctorID:       doctorID,
		AssignedBookNo: book,
		HeadBookNo:     head.HeadBookNo,
		QueueCount:     head.QueueCount,
	}, nil
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

// Register creates a patient record.
func (c *Camp) Register(p apiclient.Patient) error {
	if err := workflow.ValidateBookNo(p.BookNo); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	c.mu.Lock()
	if _, ok := c.patients[p.BookNo]; ok {
		c.mu.Unlock()
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("book number %s is already registered", p.BookNo))
	}
	c.patients[p.BookNo] = &patient{info: p, status: apiclient.PatientStatus{BookNo: p.BookNo}}
	c.summary.PatientsRegistered++
	recs := []Record{c.emitLocked(realtime.EventPatientRegistered, map[string]any{"book_no": p.BookNo})}
	c.mu.Unlock()
	c.deliver(recs)
	return nil
}

// Status returns the stage flags of a patient.
func (c *Camp) Status(bookNo string) (*apiclient.PatientStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patients[bookNo]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no patient with book number %s", bookNo))
	}
	s := p.status
	return &s, nil
}

// Assignment reports whether the patient has a doctor.
func (c *Camp) Assignment(bookNo string) (*apiclient.AssignmentStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patients[bookNo]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no patient with book number %s", bookNo))
	}
	return &apiclient.AssignmentStatus{Assigned: p.status.DoctorAssigned, DoctorName: p.status.DoctorName}, nil
}

// gateLocked returns the patient if the stage may be recorded for it.
func (c *Camp) gateLocked(bookNo string, stage workflow.Stage) (*patient, error) {
	p, ok := c.patients[bookNo]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no patient with book number %s", bookNo))
	}
	if pre, ok := workflow.Prerequisite(stage); ok && !workflow.Completed(pre, &p.status) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("complete %s before %s", pre, stage))
	}
	if workflow.Completed(stage, &p.status) {
		return nil, echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("%s is already recorded for book number %s", stage, bookNo))
	}
	return p, nil
}

// AssignDoctor enqueues the patient for a doctor.
func (c *Camp) AssignDoctor(bookNo, doctorID string) error {
	c.mu.Lock()
	d, ok := c.doctors[doctorID]
	if !ok {
		c.mu.Unlock()
		return echo.NewHTTPError(http.StatusBadRequest, "unknown doctor")
	}
	p, err := c.gateLocked(bookNo, workflow.StageAssignment)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	p.doctorID = doctorID
	p.status.DoctorAssigned = true
	p.status.DoctorName = d.DoctorName
	c.queues[doctorID] = append(c.queues[doctorID], bookNo)
	count := len(c.queues[doctorID])

	recs := []Record{
		c.emitLocked(realtime.EventDoctorAssigned, map[string]any{"doctor_id": doctorID, "book_no": bookNo}),
		c.emitLocked(realtime.EventQueueAdded, map[string]any{"doctor_id": doctorID, "book_no": bookNo}),
		c.emitLocked(realtime.EventQueueCountUpdated, map[string]any{"doctor_id": doctorID, "queue_count": count}),
	}
	c.mu.Unlock()
	c.deliver(recs)
	return nil
}

// RecordVitals stores the vitals stage.
func (c *Camp) RecordVitals(bookNo string, v apiclient.Vitals) error {
	if v.BloodPressure == "" || v.Pulse <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "blood pressure and pulse are required")
	}
	c.mu.Lock()
	p, err := c.gateLocked(bookNo, workflow.StageVitals)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	p.status.VitalsRecorded = true
	c.summary.VitalsRecorded++
	recs := []Record{
		c.emitLocked(realtime.EventVitalsRecorded, map[string]any{"doctor_id": p.doctorID, "book_no": bookNo}),
		c.emitLocked(realtime.EventAnalyticsVitals, map[string]any{"book_no": bookNo}),
	}
	c.mu.Unlock()
	c.deliver(recs)
	return nil
}

// Prescribe records the doctor's prescription and closes the consultation.
func (c *Camp) Prescribe(bookNo string, lines []apiclient.MedicineLine) error {
	if len(lines) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one medicine is required")
	}
	c.mu.Lock()
	p, err := c.gateLocked(bookNo, workflow.StagePrescription)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	for _, l := range lines {
		if _, ok := c.stock[l.MedicineID]; !ok {
			c.mu.Unlock()
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown medicine %s", l.MedicineID))
		}
	}
	p.status.MedicinesPrescribed = true
	recs := []Record{c.emitLocked(realtime.EventConsultationComplete, map[string]any{"doctor_id": p.doctorID, "book_no": bookNo})}
	c.mu.Unlock()
	c.deliver(recs)
	return nil
}

// Pickup hands medicines over, failing with 409 when stock is short.
func (c *Camp) Pickup(bookNo string, lines []apiclient.MedicineLine) error {
	if len(lines) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one medicine is required")
	}
	c.mu.Lock()
	p, err := c.gateLocked(bookNo, workflow.StagePickup)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	want := make(map[string]int, len(lines))
	for _, l := range lines {
		want[l.MedicineID] += l.Quantity
	}
	for id, qty := range want {
		item, ok := c.stock[id]
		if !ok || item.Quantity < qty {
			c.mu.Unlock()
			return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("not enough stock for %s", id))
		}
	}
	total := 0
	for id, qty := range want {
		item := c.stock[id]
		item.Quantity -= qty
		c.stock[id] = item
		total += qty
	}
	p.status.MedicinesGiven = true
	c.summary.MedicinesDistributed += total
	recs := []Record{c.emitLocked(realtime.EventMedicineDistributed, map[string]any{"book_no": bookNo, "quantity": total})}
	c.mu.Unlock()
	c.deliver(recs)
	return nil
}

// MarkStage sets a flag-only stage: counselling, food or lab tests.
func (c *Camp) MarkStage(bookNo string, stage workflow.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.gateLocked(bookNo, stage)
	if err != nil {
		return err
	}
	switch stage {
	case workflow.StageCounselling:
		p.status.CounsellingDone = true
	case workflow.StageFood:
		p.status.FoodGiven = true
	case workflow.StageLabTests:
		p.status.LabTestsDone = true
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("stage %s carries a payload", stage))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stock and analytics
// ---------------------------------------------------------------------------

// Stock returns stock levels sorted by medicine id.
func (c *Camp) Stock() []apiclient.StockItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]apiclient.StockItem, 0, len(c.stock))
	for _, s := range c.stock {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MedicineID < out[j].MedicineID })
	return out
}

// Summary returns the dashboard counters.
func (c *Camp) Summary() apiclient.AnalyticsSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Announce publishes an event that carries no state change, used to
// exercise clients.
func (c *Camp) Announce(event string, data map[string]any) {
	c.mu.Lock()
	rec := c.emitLocked(event, data)
	c.mu.Unlock()
	c.deliver([]Record{rec})
}

