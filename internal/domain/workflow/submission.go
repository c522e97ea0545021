package workflow

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
)

// API is the subset of the backend client used by the gates.
type API interface {
	PatientStatus(ctx context.Context, bookNo string) (*apiclient.PatientStatus, error)
	AssignDoctor(ctx context.Context, bookNo, doctorID string) error
	RecordVitals(ctx context.Context, bookNo string, v apiclient.Vitals) error
	Prescribe(ctx context.Context, bookNo string, lines []apiclient.MedicineLine) error
	Pickup(ctx context.Context, bookNo string, lines []apiclient.MedicineLine) error
	Counselling(ctx context.Context, bookNo string) error
	Food(ctx context.Context, bookNo string) error
	LabTests(ctx context.Context, bookNo string, tests []string) error
}

// Submission is the mutation a stage performs once the gate is Eligible.
type Submission interface {
	Stage() Stage
	Validate() error
	Submit(ctx context.Context, api API, bookNo string) error
}

// Assignment enqueues the patient for a doctor.
type Assignment struct {
	DoctorID string
}

func (Assignment) Stage() Stage { return StageAssignment }

func (s Assignment) Validate() error {
	if s.DoctorID == "" {
		return apperr.New(apperr.Validation, "doctor is required")
	}
	return nil
}

func (s Assignment) Submit(ctx context.Context, api API, bookNo string) error {
	return api.AssignDoctor(ctx, bookNo, s.DoctorID)
}

var bloodPressure = regexp.MustCompile(`^\d{2,3}/\d{2,3}$`)

// Vitals records the vitals stage.
type Vitals struct {
	apiclient.Vitals
}

func (Vitals) Stage() Stage { return StageVitals }

func (s Vitals) Validate() error {
	if !bloodPressure.MatchString(s.BloodPressure) {
		return apperr.New(apperr.Validation, fmt.Sprintf("blood pressure %q must look like 120/80", s.BloodPressure))
	}
	if s.Pulse <= 0 || s.Pulse > 250 {
		return apperr.New(apperr.Validation, "pulse out of range")
	}
	if s.Temperature != 0 && (s.Temperature < 90 || s.Temperature > 110) {
		return apperr.New(apperr.Validation, "temperature must be in °F")
	}
	if s.SpO2 < 0 || s.SpO2 > 100 {
		return apperr.New(apperr.Validation, "SpO2 must be a percentage")
	}
	return nil
}

func (s Vitals) Submit(ctx context.Context, api API, bookNo string) error {
	return api.RecordVitals(ctx, bookNo, s.Vitals)
}

func validateLines(lines []apiclient.MedicineLine) error {
	if len(lines) == 0 {
		return apperr.New(apperr.Validation, "at least one medicine is required")
	}
	for _, l := range lines {
		if l.MedicineID == "" {
			return apperr.New(apperr.Validation, "medicine id is required")
		}
		if l.Quantity <= 0 {
			return apperr.New(apperr.Validation, fmt.Sprintf("quantity for %s must be positive", l.MedicineID))
		}
	}
	return nil
}

// Prescription records the doctor's medicines.
type Prescription struct {
	Lines []apiclient.MedicineLine
}

func (Prescription) Stage() Stage { return StagePrescription }

func (s Prescription) Validate() error { return validateLines(s.Lines) }

func (s Prescription) Submit(ctx context.Context, api API, bookNo string) error {
	return api.Prescribe(ctx, bookNo, s.Lines)
}

// Pickup verifies and records medicine handover.
type Pickup struct {
	Lines []apiclient.MedicineLine
}

func (Pickup) Stage() Stage { return StagePickup }

func (s Pickup) Validate() error { return validateLines(s.Lines) }

func (s Pickup) Submit(ctx context.Context, api API, bookNo string) error {
	return api.Pickup(ctx, bookNo, s.Lines)
}

// Counselling marks counselling done.
type Counselling struct{}

func (Counselling) Stage() Stage    { return StageCounselling }
func (Counselling) Validate() error { return nil }

func (Counselling) Submit(ctx context.Context, api API, bookNo string) error {
	return api.Counselling(ctx, bookNo)
}

// Food marks the food token as given.
type Food struct{}

func (Food) Stage() Stage    { return StageFood }
func (Food) Validate() error { return nil }

func (Food) Submit(ctx context.Context, api API, bookNo string) error {
	return api.Food(ctx, bookNo)
}

// LabTests records ordered lab tests.
type LabTests struct {
	Tests []string
}

func (LabTests) Stage() Stage { return StageLabTests }

func (s LabTests) Validate() error {
	if len(s.Tests) == 0 {
		return apperr.New(apperr.Validation, "select at least one test")
	}
	return nil
}

func (s LabTests) Submit(ctx context.Context, api API, bookNo string) error {
	return api.LabTests(ctx, bookNo, s.Tests)
}
