package volatility

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/contactkeval/event-vol/internal/logger"
)

// SurfaceConfig controls the tenor x days-after-event grid.
type SurfaceConfig struct {
	DecayLambda float64 `json:"decay_lambda" yaml:"decay_lambda"` // per calendar day
	MaxDays     int     `json:"max_days" yaml:"max_days"`
	TenorPoints int     `json:"tenor_points" yaml:"tenor_points"`
}

// DefaultSurfaceConfig returns lambda=0.30/day over 10 days on 50 tenors.
func DefaultSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{DecayLambda: 0.30, MaxDays: 10, TenorPoints: 50}
}

// Validate rejects negative decay, negative horizons and grids with fewer
// than two tenor points.
func (c SurfaceConfig) Validate() error {
	if math.IsNaN(c.DecayLambda) || math.IsInf(c.DecayLambda, 0) || c.DecayLambda < 0 {
		return fmt.Errorf("%w: decay_lambda must be finite and >= 0, got %g", ErrConfiguration, c.DecayLambda)
	}
	if c.MaxDays < 0 {
		return fmt.Errorf("%w: max_days must be >= 0, got %d", ErrConfiguration, c.MaxDays)
	}
	if c.TenorPoints < 2 {
		return fmt.Errorf("%w: tenor_points must be >= 2, got %d", ErrConfiguration, c.TenorPoints)
	}
	return nil
}

// EventCurve is the piecewise-linear event IV curve over tenor days.
// Queries outside the observed range return the nearest endpoint value.
type EventCurve struct {
	tenors []float64
	values []float64
	pl     interp.PiecewiseLinear
}

// NewEventCurve builds the curve from decomposed rows. Rows sharing a tenor
// are averaged. At least two distinct tenors are required.
func NewEventCurve(rows []EventIVRow) (*EventCurve, error) {
	byTenor := make(map[int][]float64)
	for _, r := range rows {
		byTenor[r.TenorDays] = append(byTenor[r.TenorDays], r.EventIV)
	}
	if len(byTenor) < 2 {
		return nil, fmt.Errorf("event curve: %d distinct tenors: %w", len(byTenor), ErrDegenerateTenors)
	}

	keys := make([]int, 0, len(byTenor))
	for k := range byTenor {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	c := &EventCurve{
		tenors: make([]float64, len(keys)),
		values: make([]float64, len(keys)),
	}
	for i, k := range keys {
		c.tenors[i] = float64(k)
		c.values[i] = floats.Sum(byTenor[k]) / float64(len(byTenor[k]))
	}
	if err := c.pl.Fit(c.tenors, c.values); err != nil {
		return nil, fmt.Errorf("event curve: %w", err)
	}
	return c, nil
}

// At returns the interpolated event IV at tenorDays.
func (c *EventCurve) At(tenorDays float64) float64 {
	return c.pl.Predict(tenorDays)
}

// Range returns the smallest and largest observed tenor.
func (c *EventCurve) Range() (lo, hi float64) {
	return c.tenors[0], c.tenors[len(c.tenors)-1]
}

// ResidualSurface holds Grid[day][tenor] = EventIV[tenor] * exp(-lambda*day).
type ResidualSurface struct {
	DecayLambda float64     `json:"decay_lambda"`
	Days        []int       `json:"days"`
	Tenors      []float64   `json:"tenors"`
	EventIV     []float64   `json:"event_iv"`
	Grid        [][]float64 `json:"grid"`
}

// BuildSurface interpolates the event IVs onto an evenly spaced tenor grid
// spanning the observed tenors and decays them over days 0..MaxDays.
func BuildSurface(rows []EventIVRow, cfg SurfaceConfig) (*ResidualSurface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	curve, err := NewEventCurve(rows)
	if err != nil {
		return nil, fmt.Errorf("build surface: %w", err)
	}

	lo, hi := curve.Range()
	tenors := floats.Span(make([]float64, cfg.TenorPoints), lo, hi)
	eventIV := make([]float64, len(tenors))
	for i, t := range tenors {
		eventIV[i] = curve.At(t)
	}

	s := &ResidualSurface{
		DecayLambda: cfg.DecayLambda,
		Days:        make([]int, cfg.MaxDays+1),
		Tenors:      tenors,
		EventIV:     eventIV,
		Grid:        make([][]float64, cfg.MaxDays+1),
	}
	for d := range s.Days {
		s.Days[d] = d
		decay := math.Exp(-cfg.DecayLambda * float64(d))
		row := make([]float64, len(eventIV))
		for i, v := range eventIV {
			row[i] = v * decay
		}
		s.Grid[d] = row
	}

	logger.Debugf("surface built days=0..%d tenors=%.1f..%.1f (%d points) lambda=%.3f", cfg.MaxDays, lo, hi, len(tenors), cfg.DecayLambda)
	return s, nil
}

// Value returns the residual IV on the given day at tenor column i.
func (s *ResidualSurface) Value(day, i int) float64 {
	return s.Grid[day][i]
}

// NearestTenor returns the index of the tenor column closest to target.
// Ties resolve to the shorter tenor.
func (s *ResidualSurface) NearestTenor(target float64) int {
	n := len(s.Tenors)
	i := sort.Search(n, func(i int) bool { return s.Tenors[i] >= target })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	if math.Abs(s.Tenors[i-1]-target) <= math.Abs(s.Tenors[i]-target) {
		return i - 1
	}
	return i
}

// TenorPath is one tenor column of the surface with the baseline added back.
type TenorPath struct {
	TargetTenor float64   `json:"target_tenor"`
	TenorDays   float64   `json:"tenor_days"`
	BaselineIV  float64   `json:"baseline_iv"`
	Days        []int     `json:"days"`
	Residual    []float64 `json:"residual"`
	Total       []float64 `json:"total"`
}

// QueryTenorPath selects the grid column nearest to targetTenor (no
// interpolation) and returns its residual path together with the total path
// baseline + residual. The baseline is evaluated once at the selected tenor
// and held constant across days.
func QueryTenorPath(s *ResidualSurface, model BaselineModel, targetTenor float64) (TenorPath, error) {
	if s == nil || len(s.Tenors) == 0 || len(s.Grid) == 0 {
		return TenorPath{}, fmt.Errorf("query tenor path: empty surface: %w", ErrInput)
	}
	if math.IsNaN(targetTenor) || math.IsInf(targetTenor, 0) {
		return TenorPath{}, fmt.Errorf("%w: target tenor must be finite, got %g", ErrConfiguration, targetTenor)
	}

	idx := s.NearestTenor(targetTenor)
	p := TenorPath{
		TargetTenor: targetTenor,
		TenorDays:   s.Tenors[idx],
		BaselineIV:  model.EvalDays(s.Tenors[idx]),
		Days:        append([]int(nil), s.Days...),
		Residual:    make([]float64, len(s.Days)),
		Total:       make([]float64, len(s.Days)),
	}
	for d := range s.Days {
		p.Residual[d] = s.Grid[d][idx]
		p.Total[d] = p.BaselineIV + p.Residual[d]
	}
	logger.Debugf("tenor path target=%.1f selected=%.2f baseline=%.4f", targetTenor, p.TenorDays, p.BaselineIV)
	return p, nil
}
