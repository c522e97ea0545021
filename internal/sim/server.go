package sim

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/metrics"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/middleware"
)

// Options configures a Server. Zero values fall back to a default camp,
// the default accounts and a development signing key.
type Options struct {
	Camp           *Camp
	Accounts       []Account
	SigningKey     []byte
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	ServeMetrics   bool
}

// Server wires the camp state, the auth issuer and the realtime rooms into
// one echo instance.
type Server struct {
	Echo   *echo.Echo
	Camp   *Camp
	Rooms  *Rooms
	Issuer *Issuer
	logger zerolog.Logger
}

// New builds a Server. Nothing listens until Start, so tests can mount
// Echo on httptest.NewServer.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.Camp == nil {
		opts.Camp = DefaultCamp()
	}
	if opts.Accounts == nil {
		opts.Accounts = DefaultAccounts
	}
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = []byte("campdesk-sim-development-key")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "sim").Logger()

	rooms := NewRooms(logger)
	opts.Camp.OnPublish(rooms.Publish)
	issuer := NewIssuer(opts.SigningKey, opts.TokenTTL, opts.Accounts)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-User-Type"},
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(opts.RequestTimeout))

	NewHandler(opts.Camp, issuer).RegisterRoutes(e.Group("/api"))
	e.GET("/ws", NewWebSocketHandler(rooms).HandleConnect)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "clients": rooms.ClientCount()})
	})
	if opts.ServeMetrics {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	return &Server{Echo: e, Camp: opts.Camp, Rooms: rooms, Issuer: issuer, logger: logger}
}

// Start listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("simulator listening")
		if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down simulator")
	s.Rooms.Drop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Echo.Shutdown(shutdownCtx)
}
