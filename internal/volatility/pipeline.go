package volatility

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contactkeval/event-vol/internal/logger"
)

// StandardTenors are the DTEs reported alongside every fitted baseline.
var StandardTenors = []int{7, 14, 21, 30}

// Options configures one pipeline run.
type Options struct {
	Underlying    string
	AsOf          time.Time
	NextEventDate *time.Time // passed through to the result only
	Policy        Policy
	Fit           FitOptions
	Surface       SurfaceConfig
	TargetTenor   float64 // tenor days for the single-tenor path
}

// DefaultOptions returns the variance policy with default fit and surface
// settings and a 5-day target tenor.
func DefaultOptions() Options {
	return Options{
		Policy:      PolicyVariance,
		Fit:         DefaultFitOptions(),
		Surface:     DefaultSurfaceConfig(),
		TargetTenor: 5,
	}
}

// Validate checks every configuration value before any computation.
func (o Options) Validate() error {
	if _, err := ParsePolicy(string(o.Policy)); err != nil {
		return err
	}
	if err := o.Fit.Validate(); err != nil {
		return err
	}
	if err := o.Surface.Validate(); err != nil {
		return err
	}
	if o.TargetTenor < 0 {
		return fmt.Errorf("%w: target_tenor must be >= 0, got %g", ErrConfiguration, o.TargetTenor)
	}
	return nil
}

// BaselinePoint is the baseline IV at a standard tenor.
type BaselinePoint struct {
	TenorDays  int     `json:"tenor_days"`
	BaselineIV float64 `json:"baseline_iv"`
}

// Result is everything one run produced.
type Result struct {
	RunID          string           `json:"run_id"`
	Underlying     string           `json:"underlying"`
	AsOf           time.Time        `json:"as_of"`
	NextEventDate  *time.Time       `json:"next_event_date,omitempty"`
	Policy         Policy           `json:"policy"`
	Model          BaselineModel    `json:"model"`
	Fit            FitReport        `json:"fit"`
	Rows           []EventIVRow     `json:"rows"`
	AverageEventIV float64          `json:"average_event_iv"`
	StandardTenors []BaselinePoint  `json:"standard_tenors"`
	Surface        *ResidualSurface `json:"surface"`
	Path           TenorPath        `json:"path"`
	Duration       time.Duration    `json:"duration_ns"`
}

// Run executes fit, decomposition, surface construction and the tenor path
// query for one snapshot. Any failure aborts the run; there is no partial
// result.
func Run(observations []TenorObservation, opts Options) (*Result, error) {
	start := time.Now()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	policy, _ := ParsePolicy(string(opts.Policy))

	obs, err := PrepareObservations(observations)
	if err != nil {
		return nil, err
	}
	logger.Infof("run underlying=%s observations=%d policy=%s", opts.Underlying, len(obs), policy)

	model, report, err := Fit(obs, opts.Fit)
	if err != nil {
		return nil, err
	}

	rows, avg, err := Decompose(obs, model, policy)
	if err != nil {
		return nil, err
	}

	surface, err := BuildSurface(rows, opts.Surface)
	if err != nil {
		return nil, err
	}

	path, err := QueryTenorPath(surface, model, opts.TargetTenor)
	if err != nil {
		return nil, err
	}

	std := make([]BaselinePoint, len(StandardTenors))
	for i, d := range StandardTenors {
		std[i] = BaselinePoint{TenorDays: d, BaselineIV: model.EvalDays(float64(d))}
	}

	return &Result{
		RunID:          uuid.NewString(),
		Underlying:     opts.Underlying,
		AsOf:           opts.AsOf,
		NextEventDate:  opts.NextEventDate,
		Policy:         policy,
		Model:          model,
		Fit:            report,
		Rows:           rows,
		AverageEventIV: avg,
		StandardTenors: std,
		Surface:        surface,
		Path:           path,
		Duration:       time.Since(start),
	}, nil
}
