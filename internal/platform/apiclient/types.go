package apiclient

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token and user type marker.
type LoginResponse struct {
	Token    string `json:"token"`
	UserType string `json:"user_type"`
}

// Doctor is one roster entry.
type Doctor struct {
	DoctorID       string `json:"doctor_id"`
	DoctorName     string `json:"doctor_name"`
	Specialization string `json:"specialization"`
}

// QueueHead is a doctor's head-of-queue and waiting count.
type QueueHead struct {
	DoctorID   string  `json:"doctor_id"`
	HeadBookNo *string `json:"head_book_no"`
	QueueCount int     `json:"queue_count"`
}

// AssignNextResult is returned by the compound assign + dequeue action.
type AssignNextResult struct {
	DoctorID       string  `json:"doctor_id"`
	AssignedBookNo string  `json:"assigned_book_no"`
	HeadBookNo     *string `json:"head_book_no"`
	QueueCount     int     `json:"queue_count"`
}

// PatientStatus has one completion flag per workflow stage.
type PatientStatus struct {
	BookNo              string `json:"book_no"`
	DoctorAssigned      bool   `json:"doctorAssigned"`
	DoctorName          string `json:"doctorName,omitempty"`
	VitalsRecorded      bool   `json:"vitalsRecorded"`
	MedicinesPrescribed bool   `json:"medicinesPrescribed"`
	MedicinesGiven      bool   `json:"medicinesGiven"`
	CounsellingDone     bool   `json:"counsellingDone"`
	FoodGiven           bool   `json:"foodGiven"`
	LabTestsDone        bool   `json:"labTestsDone"`
}

// AssignmentStatus reports whether a book number has a doctor.
type AssignmentStatus struct {
	Assigned   bool   `json:"assigned"`
	DoctorName string `json:"doctor_name"`
}

// Patient is the registration payload.
type Patient struct {
	BookNo string `json:"book_no"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Phone  string `json:"phone,omitempty"`
}

// AssignDoctorRequest enqueues a patient for a doctor.
type AssignDoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

// Vitals is the vitals-stage payload.
type Vitals struct {
	BloodPressure string  `json:"bp"`
	Pulse         int     `json:"pulse"`
	Temperature   float64 `json:"temperature"`
	Weight        float64 `json:"weight"`
	SpO2          int     `json:"spo2,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// MedicineLine is one medicine and quantity on a prescription or pickup.
type MedicineLine struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

// LabTestRequest lists the tests ordered for a patient.
type LabTestRequest struct {
	Tests []string `json:"tests"`
}

// StockItem is the current stock of one medicine.
type StockItem struct {
	MedicineID string `json:"medicine_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
}

// AnalyticsSummary is the dashboard counter set.
type AnalyticsSummary struct {
	PatientsRegistered   int `json:"patients_registered"`
	VitalsRecorded       int `json:"vitals_recorded"`
	MedicinesDistributed int `json:"medicines_distributed"`
}

// PolledEvent is one event returned by the polling transport.
type PolledEvent struct {
	Cursor int64          `json:"cursor"`
	Event  string         `json:"event"`
	Room   string         `json:"room"`
	Data   map[string]any `json:"data"`
}

// PollResponse is the body of GET /realtime/poll.
type PollResponse struct {
	Cursor int64         `json:"cursor"`
	Events []PolledEvent `json:"events"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e *errorBody) text() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
