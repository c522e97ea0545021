// Package workflow gates each camp desk stage behind completion of the
// stage before it.
package workflow

import (
	"fmt"
	"strings"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
)

// Stage is one step of the camp workflow.
type Stage string

const (
	StageRegistration Stage = "registration"
	StageAssignment   Stage = "assignment"
	StageVitals       Stage = "vitals"
	StagePrescription Stage = "prescription"
	StagePickup       Stage = "pickup"
	StageCounselling  Stage = "counselling"
	StageFood         Stage = "food"
	StageLabTests     Stage = "lab-tests"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{
	StageRegistration,
	StageAssignment,
	StageVitals,
	StagePrescription,
	StagePickup,
	StageCounselling,
	StageFood,
	StageLabTests,
}

// ParseStage resolves a stage name.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if string(s) == strings.ToLower(strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return "", apperr.New(apperr.Validation, fmt.Sprintf("unknown stage %q", name))
}

// requirement is the prerequisite of a gated stage. done reports whether
// the prerequisite is complete in a status lookup.
type requirement struct {
	prerequisite Stage
	done         func(*apiclient.PatientStatus) bool
}

var requirements = map[Stage]requirement{
	// A successful status lookup proves registration.
	StageAssignment:   {StageRegistration, func(*apiclient.PatientStatus) bool { return true }},
	StageVitals:       {StageAssignment, func(s *apiclient.PatientStatus) bool { return s.DoctorAssigned }},
	StagePrescription: {StageVitals, func(s *apiclient.PatientStatus) bool { return s.VitalsRecorded }},
	StagePickup:       {StagePrescription, func(s *apiclient.PatientStatus) bool { return s.MedicinesPrescribed }},
	StageCounselling:  {StagePickup, func(s *apiclient.PatientStatus) bool { return s.MedicinesGiven }},
	StageFood:         {StagePickup, func(s *apiclient.PatientStatus) bool { return s.MedicinesGiven }},
	StageLabTests:     {StageAssignment, func(s *apiclient.PatientStatus) bool { return s.DoctorAssigned }},
}

// Prerequisite returns the stage that must be complete before stage.
// Registration has none.
func Prerequisite(stage Stage) (Stage, bool) {
	r, ok := requirements[stage]
	return r.prerequisite, ok
}

// Completed reports whether status shows stage itself as done.
func Completed(stage Stage, status *apiclient.PatientStatus) bool {
	if status == nil {
		return false
	}
	switch stage {
	case StageRegistration:
		return true
	case StageAssignment:
		return status.DoctorAssigned
	case StageVitals:
		return status.VitalsRecorded
	case StagePrescription:
		return status.MedicinesPrescribed
	case StagePickup:
		return status.MedicinesGiven
	case StageCounselling:
		return status.CounsellingDone
	case StageFood:
		return status.FoodGiven
	case StageLabTests:
		return status.LabTestsDone
	}
	return false
}

// ValidateBookNo checks a book number locally. A failure is never sent to
// the network.
func ValidateBookNo(bookNo string) error {
	if bookNo == "" {
		return apperr.New(apperr.Validation, "book number is required")
	}
	for _, r := range bookNo {
		if r < '0' || r > '9' {
			return apperr.New(apperr.Validation, fmt.Sprintf("book number %q must be numeric", bookNo)).
				WithNextStep("scan the token again or type only the digits")
		}
	}
	return nil
}
