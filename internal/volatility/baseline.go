package volatility

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/contactkeval/event-vol/internal/logger"
)

// BaselineModel is the fitted diffusive term structure
//
//	IV(T) = a + b * exp(-c * T)
//
// with T in years. a is the long-run level, b the amplitude of the near-term
// elevation and c its decay rate per year. The zero value is a flat zero curve.
type BaselineModel struct {
	a, b, c float64
}

// NewBaselineModel builds a model from known parameters.
func NewBaselineModel(a, b, c float64) BaselineModel {
	return BaselineModel{a: a, b: b, c: c}
}

func (m BaselineModel) A() float64 { return m.a }
func (m BaselineModel) B() float64 { return m.b }
func (m BaselineModel) C() float64 { return m.c }

// Params returns (a, b, c).
func (m BaselineModel) Params() [3]float64 {
	return [3]float64{m.a, m.b, m.c}
}

// Eval returns the baseline IV at tenor T in years.
func (m BaselineModel) Eval(tenorYears float64) float64 {
	return m.a + m.b*math.Exp(-m.c*tenorYears)
}

// EvalDays returns the baseline IV at a tenor given in calendar days.
func (m BaselineModel) EvalDays(tenorDays float64) float64 {
	return m.Eval(tenorDays / DaysPerYear)
}

// Curve evaluates the model at each tenor in days.
func (m BaselineModel) Curve(tenorDays []float64) []float64 {
	out := make([]float64, len(tenorDays))
	for i, d := range tenorDays {
		out[i] = m.EvalDays(d)
	}
	return out
}

func (m BaselineModel) String() string {
	return fmt.Sprintf("IV(T) = %.4f + %.4f * exp(-%.4f * T)", m.a, m.b, m.c)
}

func (m BaselineModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		A       float64 `json:"a"`
		B       float64 `json:"b"`
		C       float64 `json:"c"`
		Formula string  `json:"formula"`
	}{m.a, m.b, m.c, m.String()})
}

// FitOptions bounds the least-squares solver.
type FitOptions struct {
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`
}

// DefaultFitOptions mirrors the usual curve-fitting defaults.
func DefaultFitOptions() FitOptions {
	return FitOptions{MaxIterations: 5000, Tolerance: 1.49012e-8}
}

// Validate rejects a non-positive budget or tolerance.
func (o FitOptions) Validate() error {
	if o.MaxIterations <= 0 {
		return fmt.Errorf("%w: fit max_iterations must be positive, got %d", ErrConfiguration, o.MaxIterations)
	}
	if !(o.Tolerance > 0) {
		return fmt.Errorf("%w: fit tolerance must be positive, got %g", ErrConfiguration, o.Tolerance)
	}
	return nil
}

// FitReport describes how the solver got to its answer.
type FitReport struct {
	Iterations int     `json:"iterations"`
	Points     int     `json:"points"`
	SSE        float64 `json:"sse"`
	RMSE       float64 `json:"rmse"`
}

const seedDecay = 1.0

// Fit fits IV(T) = a + b*exp(-c*T) to the observations by nonlinear least
// squares. Non-positive tenors are dropped first.
//
// The problem is separable: for a fixed decay c the model is linear in its
// level and amplitude, so only c is searched (BFGS from c0 = 1) and a, b are
// solved exactly at every step. Fewer than 3 distinct tenors yields
// ErrUnderdetermined; a search that stops away from a minimum yields
// ErrNotConverged. Neither is retried.
func Fit(observations []TenorObservation, opts FitOptions) (BaselineModel, FitReport, error) {
	if err := opts.Validate(); err != nil {
		return BaselineModel{}, FitReport{}, err
	}

	obs, err := PrepareObservations(observations)
	if err != nil {
		return BaselineModel{}, FitReport{}, fmt.Errorf("fit baseline: %w", err)
	}
	if n := distinctTenors(obs); n < 3 {
		return BaselineModel{}, FitReport{}, fmt.Errorf("fit baseline: %d distinct tenors: %w", n, ErrUnderdetermined)
	}

	t := make([]float64, len(obs))
	iv := make([]float64, len(obs))
	for i, o := range obs {
		t[i] = o.TenorYears()
		iv[i] = o.ImpliedVolatility
	}

	mean, std := stat.PopMeanStdDev(iv, nil)
	logger.Debugf("baseline seed mean=%.4f std=%.4f c0=%.1f points=%d", mean, std, seedDecay, len(obs))
	if std == 0 {
		model := NewBaselineModel(mean, 0, seedDecay)
		logger.Infof("baseline flat %s", model)
		return model, FitReport{Points: len(obs)}, nil
	}

	prof := newDecayProfile(t, iv)
	res, err := optimize.Minimize(optimize.Problem{Func: prof.Func, Grad: prof.Grad}, []float64{seedDecay}, &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger:       &optimize.FunctionConverge{Relative: opts.Tolerance, Iterations: 20},
	}, &optimize.BFGS{})
	if res == nil {
		return BaselineModel{}, FitReport{Points: len(obs)}, fmt.Errorf("fit baseline: %v: %w", err, ErrNotConverged)
	}

	c := res.X[0]
	alpha, beta, sse := prof.solve(c)
	report := FitReport{
		Iterations: res.MajorIterations,
		Points:     len(obs),
		SSE:        sse,
		RMSE:       math.Sqrt(sse / float64(len(obs))),
	}
	if !fitConverged(res.Status, err, prof.slope(c, beta), c, report.RMSE, sse, opts.Tolerance) {
		return BaselineModel{}, report, fmt.Errorf("fit baseline: %s after %d iterations (c=%g rmse=%g): %w",
			res.Status, res.MajorIterations, c, report.RMSE, ErrNotConverged)
	}

	model, err := modelFromProfile(alpha, beta, c)
	if err != nil {
		return BaselineModel{}, report, fmt.Errorf("fit baseline: %w", err)
	}
	logger.Infof("baseline fitted %s (iterations=%d rmse=%.6f)", model, res.MajorIterations, report.RMSE)
	return model, report, nil
}

// fitConverged accepts a clean stop, an exact fit, or a point whose slope in c
// is negligible against the residual.
func fitConverged(status optimize.Status, err error, slope, c, rmse, sse, tol float64) bool {
	if err == nil && status != optimize.NotTerminated && !status.Early() {
		return true
	}
	if math.IsNaN(sse) || math.IsInf(sse, 0) {
		return false
	}
	if rmse <= tol {
		return true
	}
	return math.Abs(slope)*math.Max(1, math.Abs(c)) <= math.Sqrt(tol)*sse
}

// modelFromProfile maps (alpha, beta, c) back to (a, b, c) with
// b = -beta/c and a = alpha - b.
func modelFromProfile(alpha, beta, c float64) (BaselineModel, error) {
	b := -beta / c
	a := alpha - b
	for _, v := range []float64{a, b, c} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BaselineModel{}, fmt.Errorf("a=%g b=%g c=%g: %w", a, b, c, ErrNonFinite)
		}
	}
	return NewBaselineModel(a, b, c), nil
}

// decayProfile is the squared error as a function of c alone, with the model
// written as alpha + beta*g(T) where g(T) = (1 - exp(-c*T))/c. g tends to T as
// c goes to 0, which keeps the inner regression well conditioned there.
type decayProfile struct {
	t, y []float64
	g, r []float64
}

func newDecayProfile(t, y []float64) *decayProfile {
	return &decayProfile{t: t, y: y, g: make([]float64, len(t)), r: make([]float64, len(t))}
}

// solve fits alpha and beta for decay c and leaves the residuals in p.r. The
// error is +Inf when the basis overflows.
func (p *decayProfile) solve(c float64) (alpha, beta, sse float64) {
	for i, t := range p.t {
		p.g[i] = decayBasis(c, t)
		if math.IsNaN(p.g[i]) || math.IsInf(p.g[i], 0) {
			return math.NaN(), math.NaN(), math.Inf(1)
		}
	}
	if v := stat.Variance(p.g, nil); v > 0 && !math.IsInf(v, 0) {
		alpha, beta = stat.LinearRegression(p.g, p.y, nil, false)
	} else {
		alpha = stat.Mean(p.y, nil)
	}
	for i := range p.t {
		p.r[i] = alpha + beta*p.g[i] - p.y[i]
	}
	return alpha, beta, floats.Dot(p.r, p.r)
}

// slope is dSSE/dc at the inner optimum; the alpha and beta terms vanish
// there. It reads the residuals of the last solve.
func (p *decayProfile) slope(c, beta float64) float64 {
	d := 0.0
	for i, t := range p.t {
		d += p.r[i] * decayBasisDeriv(c, t)
	}
	return 2 * beta * d
}

func (p *decayProfile) Func(x []float64) float64 {
	_, _, sse := p.solve(x[0])
	return sse
}

func (p *decayProfile) Grad(grad, x []float64) {
	_, beta, sse := p.solve(x[0])
	if math.IsInf(sse, 0) {
		grad[0] = 0
		return
	}
	grad[0] = p.slope(x[0], beta)
}

// decayBasis is (1 - exp(-c*t))/c, continuous through c = 0.
func decayBasis(c, t float64) float64 {
	x := c * t
	if math.Abs(x) < 1e-8 {
		return t * (1 - x/2)
	}
	return -math.Expm1(-x) / c
}

// decayBasisDeriv is the derivative of decayBasis in c.
func decayBasisDeriv(c, t float64) float64 {
	x := c * t
	if math.Abs(x) < 1e-4 {
		return t * t * (-0.5 + x/3 - x*x/8)
	}
	return (t*math.Exp(-x) - decayBasis(c, t)) / c
}
