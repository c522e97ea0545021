package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/config"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/realtime"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/scanner"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "campdesk",
		Short:         "Medical camp desk client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(simCmd())
	return rootCmd
}

// app carries the process-wide dependencies every command shares.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Collector
	sess      *session.Session
	client    *apiclient.Client
	lifecycle *scanner.Lifecycle
	out       io.Writer
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	sess := session.New(session.NewFileStore(cfg.SessionFile), logger)
	if err := sess.Init(); err != nil {
		logger.Warn().Err(err).Str("file", cfg.SessionFile).Msg("could not restore session")
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.NewCollector("campdesk"),
		sess:      sess,
		client:    apiclient.New(cfg.APIBaseURL, cfg.HTTPTimeout, sess, logger),
		lifecycle: scanner.NewLifecycle(),
		out:       cmd.OutOrStdout(),
	}, nil
}

// channelOptions builds the realtime options for the configured backend.
// The bearer header is read on every dial so a fresh login is picked up.
func (a *app) channelOptions() realtime.Options {
	return realtime.Options{
		URL: a.cfg.WSURL,
		Header: func() http.Header {
			h := http.Header{}
			if tok := a.sess.Token(); tok != "" {
				h.Set("Authorization", "Bearer "+tok)
				h.Set(apiclient.UserTypeHeader, a.sess.UserType())
			}
			return h
		},
		ReconnectAttempts: a.cfg.ReconnectAttempts,
		ReconnectDelay:    a.cfg.ReconnectDelay,
		PollFallbackAfter: a.cfg.PollFallbackAfter,
		Poller:            a.client,
		Metrics:           a.metrics,
	}
}

// realtimeProvider returns the process's single channel holder. Logging
// out tears the channel down so the next Get reconnects with new
// credentials.
func (a *app) realtimeProvider(ctx context.Context) *realtime.Provider {
	p := realtime.NewProvider(ctx, func() *realtime.Channel {
		return realtime.NewChannel(a.channelOptions(), a.logger)
	})
	a.sess.OnLogout(p.Reset)
	return p
}

func (a *app) scannerHost() *scanner.Host {
	var camera scanner.Camera = scanner.NewStdinCamera(os.Stdin)
	if a.cfg.ScannerDevice != "" {
		camera = scanner.DeviceCamera{Path: a.cfg.ScannerDevice}
	}
	adapter := scanner.NewAdapter(scanner.Options{
		Camera:    camera,
		Lifecycle: a.lifecycle,
		Metrics:   a.metrics,
	}, a.logger)
	return scanner.NewHost(adapter, a.logger)
}

// signalContext ends the returned context on SIGINT or SIGTERM. SIGUSR1
// backgrounds the desk, which releases the scanner without quitting.
func (a *app) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				a.logger.Debug().Str("signal", sig.String()).Msg("signal received")
				if dispatchSignal(a.lifecycle, sig) {
					cancel()
					return
				}
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

// dispatchSignal emits the lifecycle event for sig and reports whether the
// process should quit.
func dispatchSignal(l *scanner.Lifecycle, sig os.Signal) bool {
	switch sig {
	case syscall.SIGUSR1:
		l.Emit(scanner.Hidden)
		return false
	case syscall.SIGINT, syscall.SIGTERM:
		l.Emit(scanner.Unload)
		return true
	}
	return false
}

// serveMetrics exposes /metrics on METRICS_ADDR until ctx ends. It does
// nothing when no address is configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	go func() {
		if err := e.Start(a.cfg.MetricsAddr); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()
	a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics listening")
}
