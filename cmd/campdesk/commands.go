package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/analytics"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/queue"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/workflow"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apperr"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/sim"
)

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			resp, err := a.client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := a.sess.Login(resp.Token, resp.UserType); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s (%s)\n", username, resp.UserType)
			return nil
		},
	}
	cmd.Flags().StringP("username", "u", "", "account name")
	cmd.Flags().StringP("password", "p", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user type",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Require(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.sess.UserType())
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func registerCmd() *cobra.Command {
	var p apiclient.Patient
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a patient by book number",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Require(); err != nil {
				return err
			}
			p.BookNo = strings.TrimSpace(p.BookNo)
			if err := workflow.ValidateBookNo(p.BookNo); err != nil {
				return err
			}
			if strings.TrimSpace(p.Name) == "" {
				return apperr.New(apperr.Validation, "name is required")
			}
			if err := a.client.RegisterPatient(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "registered book %s\n", p.BookNo)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.BookNo, "book", "", "book number")
	cmd.Flags().StringVar(&p.Name, "name", "", "patient name")
	cmd.Flags().IntVar(&p.Age, "age", 0, "age in years")
	cmd.Flags().StringVar(&p.Gender, "gender", "", "gender")
	cmd.Flags().StringVar(&p.Phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Doctor queues",
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Show every doctor's queue and follow live updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Require(); err != nil {
				return err
			}
			once, _ := cmd.Flags().GetBool("once")

			ctx, stop := a.signalContext(cmd.Context())
			defer stop()
			a.serveMetrics(ctx)

			view := queue.NewView(a.client, queue.Options{
				RejoinOnReconnect: a.cfg.RejoinOnReconnect,
				Metrics:           a.metrics,
				OnChange:          func(entries []queue.Entry) { renderQueue(a.out, entries) },
			}, a.logger)
			if err := view.Load(ctx); err != nil {
				return err
			}
			if once {
				return nil
			}

			provider := a.realtimeProvider(ctx)
			defer provider.Reset()
			ch := provider.Get()
			go reportConnection(ctx, a, ch)

			if err := view.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	watch.Flags().Bool("once", false, "print the queues and exit")

	assignNext := &cobra.Command{
		Use:   "assign-next DOCTOR_ID",
		Short: "Take the next patient off a doctor's queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Require(session.UserTypeAdmin, session.UserTypeDoctor); err != nil {
				return err
			}
			res, err := a.client.AssignNext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			next := "none"
			if res.HeadBookNo != nil {
				next = *res.HeadBookNo
			}
			fmt.Fprintf(a.out, "assigned book %s to %s; next %s, %d waiting\n",
				res.AssignedBookNo, args[0], next, res.QueueCount)
			return nil
		},
	}

	cmd.AddCommand(watch, assignNext)
	return cmd
}

// reportConnection logs transport changes until ctx ends.
func reportConnection(ctx context.Context, a *app, ch *realtime.Channel) {
	status, stop := ch.WatchStatus()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-status:
			if !ok {
				return
			}
			if up {
				a.logger.Info().Str("transport", string(ch.Transport())).Msg("live updates connected")
			} else if ch.GaveUp() {
				a.logger.Error().Msg("live updates unavailable; queue shows last loaded state")
			} else {
				a.logger.Warn().Msg("live updates disconnected")
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Stages
// ---------------------------------------------------------------------------

func stageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Check eligibility for and record workflow stages",
	}

	check := &cobra.Command{
		Use:   "check STAGE [BOOK_NO]",
		Short: "Check whether a patient may enter a stage",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, gate, snap, err := openGate(cmd, args)
			if err != nil {
				return err
			}
			defer gate.Close()
			renderGate(a.out, snap)
			if snap.State != workflow.Eligible {
				return fmt.Errorf("%s: %w", snap.State, workflow.ErrNotEligible)
			}
			return nil
		},
	}
	check.Flags().Bool("scan", false, "read the book number from the scanner")

	var form stageForm
	submit := &cobra.Command{
		Use:   "submit STAGE [BOOK_NO]",
		Short: "Record a stage for an eligible patient",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := workflow.ParseStage(args[0])
			if err != nil {
				return err
			}
			sub, err := buildSubmission(stage, form)
			if err != nil {
				return err
			}
			a, gate, snap, err := openGate(cmd, args)
			if err != nil {
				return err
			}
			defer gate.Close()
			if snap.State != workflow.Eligible {
				renderGate(a.out, snap)
				return fmt.Errorf("%s: %w", snap.State, workflow.ErrNotEligible)
			}
			if err := gate.Submit(cmd.Context(), sub); err != nil {
				return err
			}
			renderGate(a.out, gate.Snapshot())
			return nil
		},
	}
	submit.Flags().Bool("scan", false, "read the book number from the scanner")
	submit.Flags().StringVar(&form.DoctorID, "doctor", "", "doctor id (assignment)")
	submit.Flags().StringVar(&form.BP, "bp", "", "blood pressure, e.g. 120/80 (vitals)")
	submit.Flags().IntVar(&form.Pulse, "pulse", 0, "pulse per minute (vitals)")
	submit.Flags().Float64Var(&form.Temperature, "temp", 0, "temperature in °F (vitals)")
	submit.Flags().Float64Var(&form.Weight, "weight", 0, "weight in kg (vitals)")
	submit.Flags().IntVar(&form.SpO2, "spo2", 0, "SpO2 percentage (vitals)")
	submit.Flags().StringVar(&form.Notes, "notes", "", "free-text notes (vitals)")
	submit.Flags().StringVar(&form.Lines, "lines", "", "medicines as id:qty,id:qty (prescription, pickup)")
	submit.Flags().StringVar(&form.Tests, "tests", "", "comma separated tests (lab-tests)")

	cmd.AddCommand(check, submit)
	return cmd
}

// openGate resolves the stage and book number from args (or the scanner)
// and waits for the eligibility verdict.
func openGate(cmd *cobra.Command, args []string) (*app, *workflow.Gate, workflow.Snapshot, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, nil, workflow.Snapshot{}, err
	}
	stage, err := workflow.ParseStage(args[0])
	if err != nil {
		return nil, nil, workflow.Snapshot{}, err
	}
	if err := a.sess.Require(stageRoles(stage)...); err != nil {
		return nil, nil, workflow.Snapshot{}, err
	}

	ctx, stop := a.signalContext(cmd.Context())
	defer stop()

	bookNo := ""
	if len(args) == 2 {
		bookNo = args[1]
	}
	if scan, _ := cmd.Flags().GetBool("scan"); scan || bookNo == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "scan the patient's book QR code")
		host := a.scannerHost()
		defer host.Close()
		if bookNo, err = host.Request(ctx); err != nil {
			return nil, nil, workflow.Snapshot{}, err
		}
	}

	gate, err := workflow.NewGate(stage, a.client, workflow.GateOptions{
		Debounce:          a.cfg.EligibilityDebounce,
		MessageClearAfter: a.cfg.MessageClearAfter,
		Metrics:           a.metrics,
	}, a.logger)
	if err != nil {
		return nil, nil, workflow.Snapshot{}, err
	}
	snap, err := awaitVerdict(ctx, gate, bookNo)
	if err != nil {
		gate.Close()
		return nil, nil, workflow.Snapshot{}, err
	}
	return a, gate, snap, nil
}

// awaitVerdict sets the identifier and waits until the gate leaves
// Checking.
func awaitVerdict(ctx context.Context, gate *workflow.Gate, bookNo string) (workflow.Snapshot, error) {
	updates, stop := gate.Watch()
	defer stop()
	gate.SetIdentifier(bookNo)

	for {
		select {
		case <-ctx.Done():
			return workflow.Snapshot{}, ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return gate.Snapshot(), nil
			}
			if s.BookNo == strings.TrimSpace(bookNo) && settled(s.State) {
				return s, nil
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Scanner
// ---------------------------------------------------------------------------

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Read one book number from the scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx, stop := a.signalContext(cmd.Context())
			defer stop()

			host := a.scannerHost()
			defer host.Close()
			bookNo, err := host.Request(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, bookNo)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Stock
// ---------------------------------------------------------------------------

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Medicine stock",
	}

	var book, lines string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Poll stock and flag shortages for a pickup",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Require(); err != nil {
				return err
			}
			ml, err := parseLines(lines)
			if err != nil {
				return err
			}

			ctx, stop := a.signalContext(cmd.Context())
			defer stop()
			a.serveMetrics(ctx)

			w := workflow.NewStockWatcher(a.client, a.cfg.StockPollInterval, a.logger)
			if book != "" || len(ml) > 0 {
				w.SetForm(workflow.PickupForm{BookNo: book, Lines: ml})
			}
			once, _ := cmd.Flags().GetBool("once")
			if once {
				report := w.Check(ctx)
				renderStock(a.out, report)
				if report.Err != nil {
					return report.Err
				}
				return nil
			}
			err = w.Run(ctx, func(r workflow.StockReport) { renderStock(a.out, r) })
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	watch.Flags().StringVar(&book, "book", "", "book number of the pickup being entered")
	watch.Flags().StringVar(&lines, "lines", "", "requested medicines as id:qty,id:qty")
	watch.Flags().Bool("once", false, "poll once and exit")

	cmd.AddCommand(watch)
	return cmd
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

func analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Camp dashboard counters",
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Show the counters and refresh on live updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.sess.Require(session.UserTypeAdmin); err != nil {
				return err
			}

			ctx, stop := a.signalContext(cmd.Context())
			defer stop()
			a.serveMetrics(ctx)

			tracker := analytics.NewTracker(a.client, a.cfg.RejoinOnReconnect, a.metrics, a.logger)
			tracker.OnChange(func(s apiclient.AnalyticsSummary) { renderSummary(a.out, s) })

			provider := a.realtimeProvider(ctx)
			defer provider.Reset()
			ch := provider.Get()
			go reportConnection(ctx, a, ch)

			if err := tracker.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.AddCommand(watch)
	return cmd
}

// ---------------------------------------------------------------------------
// Simulator
// ---------------------------------------------------------------------------

func simCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "In-memory camp backend for demos and tests",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the camp API, realtime rooms and polling on SIM_PORT",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx, stop := a.signalContext(cmd.Context())
			defer stop()

			key := []byte(a.cfg.SimSigningKey)
			srv := sim.New(sim.Options{SigningKey: key, ServeMetrics: true}, a.logger)
			a.logger.Info().Str("port", a.cfg.SimPort).Msg("camp simulator starting")
			return srv.Start(ctx, ":"+a.cfg.SimPort)
		},
	}

	cmd.AddCommand(serve)
	return cmd
}
