// Package server exposes the decomposition pipeline over REST.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/contactkeval/event-vol/internal/data"
	"github.com/contactkeval/event-vol/internal/logger"
	"github.com/contactkeval/event-vol/internal/metrics"
	"github.com/contactkeval/event-vol/internal/volatility"
)

// Deps are the collaborators shared by all requests.
type Deps struct {
	Provider data.Provider        // optional; enables the snapshot route
	Filter   *data.QuoteFilter    // required with Provider
	Earnings *data.EarningsClient // optional
	Recorder *metrics.Recorder
	Defaults volatility.Options // fit settings and surface defaults
	Now      func() time.Time
}

// Server wraps an Echo instance.
type Server struct {
	echo *echo.Echo
	deps Deps
}

// New builds the server and registers its routes.
func New(deps Deps) *Server {
	if deps.Recorder == nil {
		deps.Recorder = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debugf("http %s %s status=%d latency=%s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	s := &Server{echo: e, deps: deps}
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes mounts the API.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(s.deps.Recorder.Handler()))

	v1 := e.Group("/v1")
	v1.POST("/analyze", s.analyze)
	if s.deps.Provider != nil {
		v1.GET("/snapshot/:underlying", s.snapshot)
	}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	logger.Infof("http server: listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Infof("http server: stopped gracefully")
	return nil
}
