package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/queue"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/workflow"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
)

// stageForm holds the flag values a stage submission is built from.
type stageForm struct {
	DoctorID    string
	BP          string
	Pulse       int
	Temperature float64
	Weight      float64
	SpO2        int
	Notes       string
	Lines       string
	Tests       string
}

// parseLines reads "m1:2,m3:1" into medicine lines.
func parseLines(s string) ([]apiclient.MedicineLine, error) {
	var lines []apiclient.MedicineLine
	for _, part := range parseList(s) {
		id, qty, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, apperr.New(apperr.Validation, fmt.Sprintf("medicine line %q must look like id:quantity", part))
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, apperr.New(apperr.Validation, fmt.Sprintf("quantity in %q must be a whole number", part))
		}
		lines = append(lines, apiclient.MedicineLine{MedicineID: id, Quantity: n})
	}
	return lines, nil
}

// parseList splits a comma separated flag, dropping blanks.
func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// buildSubmission turns flag values into the submission for stage.
func buildSubmission(stage workflow.Stage, f stageForm) (workflow.Submission, error) {
	switch stage {
	case workflow.StageAssignment:
		return workflow.Assignment{DoctorID: f.DoctorID}, nil
	case workflow.StageVitals:
		return workflow.Vitals{Vitals: apiclient.Vitals{
			BloodPressure: f.BP,
			Pulse:         f.Pulse,
			Temperature:   f.Temperature,
			Weight:        f.Weight,
			SpO2:          f.SpO2,
			Notes:         f.Notes,
		}}, nil
	case workflow.StagePrescription, workflow.StagePickup:
		lines, err := parseLines(f.Lines)
		if err != nil {
			return nil, err
		}
		if stage == workflow.StagePrescription {
			return workflow.Prescription{Lines: lines}, nil
		}
		return workflow.Pickup{Lines: lines}, nil
	case workflow.StageCounselling:
		return workflow.Counselling{}, nil
	case workflow.StageFood:
		return workflow.Food{}, nil
	case workflow.StageLabTests:
		return workflow.LabTests{Tests: parseList(f.Tests)}, nil
	}
	return nil, fmt.Errorf("%s: %w", stage, workflow.ErrUngated)
}

// stageRoles returns the user types allowed to work a stage. Nil means any
// logged-in user.
func stageRoles(stage workflow.Stage) []string {
	if stage == workflow.StagePrescription {
		return []string{session.UserTypeAdmin, session.UserTypeDoctor}
	}
	return nil
}

// settled reports whether a gate state is a verdict rather than progress.
func settled(s workflow.State) bool {
	return s != workflow.Checking
}

// describeError renders err for the operator with its next step.
func describeError(err error) string {
	var lr *session.LoginRequiredError
	if errors.As(err, &lr) {
		return fmt.Sprintf("%s\n  next: run `campdesk login`", lr.Error())
	}
	if errors.Is(err, session.ErrLoginRequired) {
		return "login required\n  next: run `campdesk login`"
	}
	msg := err.Error()
	if step := apperr.NextStep(err); step != "" {
		msg += "\n  next: " + step
	}
	return msg
}

func renderQueue(w io.Writer, entries []queue.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCTOR\tNAME\tNEXT\tWAITING\t")
	for _, e := range entries {
		next := "-"
		if e.HeadBookNo != nil {
			next = *e.HeadBookNo
		}
		waiting := strconv.Itoa(e.QueueCount)
		if e.LastError != "" {
			waiting += " (stale: " + e.LastError + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", e.DoctorID, e.DoctorName, next, waiting)
	}
	tw.Flush()
}

func renderGate(w io.Writer, s workflow.Snapshot) {
	fmt.Fprintf(w, "%s book %s: %s\n", s.Stage, s.BookNo, s.State)
	if s.Status != nil && s.Status.DoctorName != "" {
		fmt.Fprintf(w, "  doctor: %s\n", s.Status.DoctorName)
	}
	if s.Handoff != nil {
		fmt.Fprintf(w, "  go to: campdesk stage check %s %s\n", s.Handoff.Stage, s.Handoff.BookNo)
	}
	if s.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", s.Err)
	}
	if s.NextStep != "" {
		fmt.Fprintf(w, "  next: %s\n", s.NextStep)
	}
	if s.Message != "" {
		fmt.Fprintf(w, "  %s\n", s.Message)
	}
}

func renderStock(w io.Writer, r workflow.StockReport) {
	fmt.Fprintf(w, "stock at %s\n", r.CheckedAt.Format("15:04:05"))
	if r.Err != nil {
		fmt.Fprintf(w, "  poll failed, showing last known stock: %s\n", describeError(r.Err))
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range r.Items {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t\n", it.MedicineID, it.Name, it.Quantity)
	}
	tw.Flush()
	for _, s := range r.Shortages {
		fmt.Fprintf(w, "  short: %s requested %d, %d available\n", s.Name, s.Requested, s.Available)
	}
	if r.Blocking() {
		fmt.Fprintf(w, "  next: %s\n", r.NextStep())
	}
}

func renderSummary(w io.Writer, s apiclient.AnalyticsSummary) {
	fmt.Fprintf(w, "registered %d  vitals %d  medicines given %d\n",
		s.PatientsRegistered, s.VitalsRecorded, s.MedicinesDistributed)
}
