package volatility

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/contactkeval/event-vol/internal/testutil"
)

var asOf = time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)

func observations(points ...[2]float64) []TenorObservation {
	out := make([]TenorObservation, 0, len(points))
	for _, p := range points {
		days := int(p[0])
		out = append(out, TenorObservation{
			Expiration:        asOf.AddDate(0, 0, days),
			TenorDays:         days,
			Strike:            100,
			ImpliedVolatility: p[1],
		})
	}
	return out
}

// term structure used throughout the package tests
func exampleObservations() []TenorObservation {
	return observations([2]float64{10, 0.40}, [2]float64{20, 0.35}, [2]float64{40, 0.30}, [2]float64{90, 0.25})
}

func TestFitExactThreePoints(t *testing.T) {
	obs := observations([2]float64{10, 0.45}, [2]float64{30, 0.32}, [2]float64{90, 0.28})

	model, report, err := Fit(obs, DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range obs {
		got := model.Eval(o.TenorYears())
		if !testutil.ApproxEqual(got, o.ImpliedVolatility, 1e-6) {
			t.Fatalf("tenor %dd: expected %.6f, got %.6f (%s)", o.TenorDays, o.ImpliedVolatility, got, model)
		}
	}
	if report.Points != 3 {
		t.Fatalf("expected 3 points, got %d", report.Points)
	}
	if report.RMSE > 1e-6 {
		t.Fatalf("expected near-zero residual, got rmse=%g", report.RMSE)
	}
}

func TestFitRecoversKnownParameters(t *testing.T) {
	truth := NewBaselineModel(0.30, 0.10, 2.0)
	var obs []TenorObservation
	for i, d := range []int{7, 14, 30, 60, 91, 182, 365, 730} {
		// alternating noise well below a basis point
		noise := 1e-6
		if i%2 == 1 {
			noise = -noise
		}
		obs = append(obs, TenorObservation{
			Expiration:        asOf.AddDate(0, 0, d),
			TenorDays:         d,
			ImpliedVolatility: truth.EvalDays(float64(d)) + noise,
		})
	}

	model, _, err := Fit(obs, DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name      string
		got, want float64
	}{
		{"a", model.A(), 0.30},
		{"b", model.B(), 0.10},
		{"c", model.C(), 2.0},
	}
	for _, test := range tests {
		if !testutil.RelClose(test.got, test.want, 0.05) {
			t.Fatalf("parameter %s: expected %.4f within 5%%, got %.4f", test.name, test.want, test.got)
		}
	}
}

func TestFitExactRisingThreePoints(t *testing.T) {
	obs := observations([2]float64{10, 0.20}, [2]float64{30, 0.30}, [2]float64{90, 0.35})

	model, report, err := Fit(obs, DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range obs {
		got := model.Eval(o.TenorYears())
		if !testutil.ApproxEqual(got, o.ImpliedVolatility, 1e-6) {
			t.Fatalf("tenor %dd: expected %.6f, got %.6f (%s)", o.TenorDays, o.ImpliedVolatility, got, model)
		}
	}
	if model.B() >= 0 {
		t.Fatalf("expected negative amplitude for a rising curve, got %s", model)
	}
	if !testutil.RelClose(model.C(), 19.554, 0.01) {
		t.Fatalf("expected c near 19.55, got %s", model)
	}
	if report.RMSE > 1e-6 {
		t.Fatalf("expected near-zero residual, got rmse=%g", report.RMSE)
	}
}

func TestFitRecoversRisingParameters(t *testing.T) {
	truth := NewBaselineModel(0.35, -0.12, 8.0)
	var obs []TenorObservation
	for i, d := range []int{7, 14, 30, 60, 91, 182, 365} {
		noise := 1e-6
		if i%2 == 0 {
			noise = -noise
		}
		obs = append(obs, TenorObservation{
			Expiration:        asOf.AddDate(0, 0, d),
			TenorDays:         d,
			ImpliedVolatility: truth.EvalDays(float64(d)) + noise,
		})
	}

	model, _, err := Fit(obs, DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range truth.Params() {
		if got := model.Params()[i]; !testutil.RelClose(got, want, 0.05) {
			t.Fatalf("parameter %d: expected %.4f within 5%%, got %.4f (%s)", i, want, got, model)
		}
	}
}

func TestFitNonMonotoneStaysBounded(t *testing.T) {
	// pre-event, pre-event, post-event, post-event
	obs := observations([2]float64{1, 0.3976}, [2]float64{8, 0.3815}, [2]float64{15, 0.4424}, [2]float64{22, 0.4088})

	model, _, err := Fit(obs, DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(model.A()) > 1 || math.Abs(model.B()) > 1 {
		t.Fatalf("expected bounded level and amplitude, got %s", model)
	}
	for _, o := range obs {
		if got := model.Eval(o.TenorYears()); got < 0.3 || got > 0.5 {
			t.Fatalf("tenor %dd: baseline %.4f outside the quoted range (%s)", o.TenorDays, got, model)
		}
	}
}

func TestFitDecayingTermStructure(t *testing.T) {
	model, _, err := Fit(exampleObservations(), DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.A() >= 0.30 {
		t.Fatalf("expected asymptote below 0.30, got a=%.4f", model.A())
	}
	if model.B() <= 0 {
		t.Fatalf("expected positive amplitude, got b=%.4f", model.B())
	}
}

func TestFitErrors(t *testing.T) {
	tests := []struct {
		name  string
		obs   []TenorObservation
		opts  FitOptions
		kinds []error
	}{
		{
			name:  "empty",
			obs:   nil,
			opts:  DefaultFitOptions(),
			kinds: []error{ErrInput, ErrNoObservations},
		},
		{
			name:  "only expired tenors",
			obs:   observations([2]float64{0, 0.3}, [2]float64{-3, 0.3}),
			opts:  DefaultFitOptions(),
			kinds: []error{ErrInput, ErrNoObservations},
		},
		{
			name:  "two tenors",
			obs:   observations([2]float64{10, 0.4}, [2]float64{20, 0.35}),
			opts:  DefaultFitOptions(),
			kinds: []error{ErrFitting, ErrInput, ErrUnderdetermined},
		},
		{
			name:  "three rows two distinct tenors",
			obs:   observations([2]float64{10, 0.4}, [2]float64{10, 0.41}, [2]float64{20, 0.35}),
			opts:  DefaultFitOptions(),
			kinds: []error{ErrFitting, ErrUnderdetermined},
		},
		{
			name:  "iteration budget exhausted",
			obs:   exampleObservations(),
			opts:  FitOptions{MaxIterations: 1, Tolerance: 1e-12},
			kinds: []error{ErrFitting, ErrNotConverged},
		},
		{
			name:  "bad options",
			obs:   exampleObservations(),
			opts:  FitOptions{MaxIterations: 0, Tolerance: 1e-8},
			kinds: []error{ErrConfiguration},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := Fit(test.obs, test.opts)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, k := range test.kinds {
				if !errors.Is(err, k) {
					t.Fatalf("expected %v to match %v", err, k)
				}
			}
		})
	}
}

func TestNotConvergedIsDistinctFromUnderdetermined(t *testing.T) {
	_, _, err := Fit(exampleObservations(), FitOptions{MaxIterations: 1, Tolerance: 1e-12})
	if errors.Is(err, ErrUnderdetermined) {
		t.Fatalf("non-convergence must not report underdetermined: %v", err)
	}
}

func TestFitAcceptsFlatTermStructure(t *testing.T) {
	obs := observations([2]float64{10, 0.3}, [2]float64{30, 0.3}, [2]float64{60, 0.3}, [2]float64{120, 0.3})

	model, _, err := Fit(obs, DefaultFitOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range obs {
		if !testutil.ApproxEqual(model.Eval(o.TenorYears()), 0.3, 1e-6) {
			t.Fatalf("flat curve not reproduced at %dd: %s", o.TenorDays, model)
		}
	}
}

func TestBaselineModelEval(t *testing.T) {
	m := NewBaselineModel(0.3, 0.1, 2.0)
	if got := m.Eval(0); got != 0.4 {
		t.Fatalf("expected 0.4 at T=0, got %f", got)
	}
	want := 0.3 + 0.1*math.Exp(-2.0*30/365.0)
	if got := m.EvalDays(30); got != want {
		t.Fatalf("expected %f, got %f", want, got)
	}
	curve := m.Curve([]float64{0, 30})
	if curve[0] != 0.4 || curve[1] != want {
		t.Fatalf("unexpected curve %v", curve)
	}
	if m.String() != "IV(T) = 0.3000 + 0.1000 * exp(-2.0000 * T)" {
		t.Fatalf("unexpected formula %q", m.String())
	}
}

func TestModelFromProfile(t *testing.T) {
	m, err := modelFromProfile(0.4, -0.2, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !testutil.ApproxEqual(m.A(), 0.3, 1e-12) || !testutil.ApproxEqual(m.B(), 0.1, 1e-12) || m.C() != 2.0 {
		t.Fatalf("unexpected model %s", m)
	}

	tests := []struct {
		name               string
		alpha, beta, decay float64
	}{
		{"zero decay", 0.3, 0.05, 0},
		{"nan level", math.NaN(), 0.05, 1},
		{"overflowed amplitude", 0.3, math.Inf(1), 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := modelFromProfile(test.alpha, test.beta, test.decay)
			if !errors.Is(err, ErrNonFinite) || !errors.Is(err, ErrFitting) {
				t.Fatalf("expected non-finite fitting error, got %v", err)
			}
		})
	}
}

func TestDecayBasis(t *testing.T) {
	// continuous through c = 0
	if got := decayBasis(1e-12, 0.5); !testutil.ApproxEqual(got, 0.5, 1e-9) {
		t.Fatalf("expected g -> T as c -> 0, got %v", got)
	}
	if got, want := decayBasis(2, 0.5), (1-math.Exp(-1))/2; !testutil.ApproxEqual(got, want, 1e-15) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	const h = 1e-6
	for _, c := range []float64{-20, -1, 1e-6, 0.5, 12, 40} {
		for _, tenor := range []float64{7.0 / 365, 0.25, 1} {
			numeric := (decayBasis(c+h, tenor) - decayBasis(c-h, tenor)) / (2 * h)
			if got := decayBasisDeriv(c, tenor); !testutil.ApproxEqual(got, numeric, 1e-6*math.Max(1, math.Abs(numeric))) {
				t.Fatalf("c=%g T=%g: derivative %v, finite difference %v", c, tenor, got, numeric)
			}
		}
	}
}
