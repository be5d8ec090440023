package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/contactkeval/event-vol/internal/data"
	"github.com/contactkeval/event-vol/internal/logger"
	"github.com/contactkeval/event-vol/internal/metrics"
	"github.com/contactkeval/event-vol/internal/volatility"
)

func respond(c echo.Context, status int, payload interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    payload,
	})
}

func (s *Server) health(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) analyze(c echo.Context) error {
	var req AnalyzeRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}

	asOf, _ := time.Parse(time.DateOnly, req.AsOf)
	obs := make([]volatility.TenorObservation, 0, len(req.Observations))
	for _, o := range req.Observations {
		exp, _ := time.Parse(time.DateOnly, o.Expiration)
		days := o.TenorDays
		if days == 0 {
			days = volatility.TenorDays(asOf, exp)
		}
		obs = append(obs, volatility.TenorObservation{
			Expiration:        exp,
			TenorDays:         days,
			Strike:            o.Strike,
			ImpliedVolatility: o.ImpliedVolatility,
		})
	}

	opts := s.deps.Defaults
	opts.Underlying = req.Underlying
	opts.AsOf = asOf
	opts.Policy = volatility.Policy(req.Policy)
	opts.Surface = volatility.SurfaceConfig{
		DecayLambda: *req.Surface.DecayLambda,
		MaxDays:     *req.Surface.MaxDays,
		TenorPoints: *req.Surface.TenorPoints,
	}
	opts.TargetTenor = *req.TargetTenor
	if req.EventDate != "" {
		d, _ := time.Parse(time.DateOnly, req.EventDate)
		opts.NextEventDate = &d
	}

	return s.run(c, obs, opts)
}

func (s *Server) snapshot(c echo.Context) error {
	var req SnapshotRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}

	ctx := c.Request().Context()
	asOf := s.deps.Now().UTC()
	if req.AsOf != "" {
		asOf, _ = time.Parse(time.DateOnly, req.AsOf)
	}

	chain, err := data.FetchChain(ctx, s.deps.Provider, req.Underlying, asOf, req.Expirations)
	if err != nil {
		s.deps.Recorder.RecordRun(volatility.Policy(req.Policy), nil, err, 0)
		return respond(c, http.StatusBadGateway, RunError{Kind: metrics.StatusUnavailable, Message: err.Error()})
	}
	obs, err := data.Observations(chain, s.deps.Filter)
	if err != nil {
		return s.fail(c, volatility.Policy(req.Policy), err, 0)
	}

	opts := s.deps.Defaults
	opts.Underlying = req.Underlying
	opts.AsOf = asOf
	opts.Policy = volatility.Policy(req.Policy)
	opts.NextEventDate = data.ResolveEventDate(ctx, s.deps.Earnings, req.Underlying, asOf, nil)

	return s.run(c, obs, opts)
}

func (s *Server) run(c echo.Context, obs []volatility.TenorObservation, opts volatility.Options) error {
	start := time.Now()
	res, err := volatility.Run(obs, opts)
	if err != nil {
		return s.fail(c, opts.Policy, err, time.Since(start))
	}
	s.deps.Recorder.RecordRun(opts.Policy, res, nil, time.Since(start))
	return respond(c, http.StatusOK, res)
}

func (s *Server) fail(c echo.Context, policy volatility.Policy, err error, elapsed time.Duration) error {
	s.deps.Recorder.RecordRun(policy, nil, err, elapsed)
	kind := metrics.Status(err)
	logger.Infof("run rejected (%s): %v", kind, err)

	if errors.Is(err, volatility.ErrInput) || errors.Is(err, volatility.ErrFitting) || errors.Is(err, volatility.ErrConfiguration) {
		return respond(c, http.StatusUnprocessableEntity, RunError{Kind: kind, Message: err.Error()})
	}
	logger.Errorf("unexpected run failure: %v", err)
	return respond(c, http.StatusInternalServerError, RunError{Kind: kind, Message: "Something went wrong"})
}
